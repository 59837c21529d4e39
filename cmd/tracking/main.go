package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ignite/campaign-sender/internal/config"
	"github.com/ignite/campaign-sender/internal/mailing"
	"github.com/ignite/campaign-sender/internal/pkg/logger"
	"github.com/ignite/campaign-sender/internal/tracking"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Configure(logger.Options{
		Level:     logger.ParseLevel(cfg.Logging.Level),
		RedactPII: cfg.Logging.RedactPII,
		File:      cfg.Logging.File,
	})
	defer logger.Sync()

	links, err := mailing.NewLinkService(cfg.PublicURL, cfg.Tracking.SigningKey)
	if err != nil {
		log.Fatalf("link service: %v", err)
	}

	var pub tracking.EventPublisher = tracking.LogPublisher{}
	var sqsPub *tracking.Publisher
	if cfg.Tracking.QueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Tracking.Region))
		if err != nil {
			log.Fatalf("aws config: %v", err)
		}
		sqsPub = tracking.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.Tracking.QueueURL)
		pub = sqsPub
	} else {
		log.Println("TRACKING_QUEUE_URL not set, logging events only")
	}

	srv := &http.Server{
		Addr:         cfg.Tracking.Addr,
		Handler:      tracking.NewHandler(links, pub).Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("tracking service listening on %s", cfg.Tracking.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down tracking service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	if sqsPub != nil {
		sqsPub.Wait()
	}
}
