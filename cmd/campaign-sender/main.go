package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/campaign-sender/internal/api"
	"github.com/ignite/campaign-sender/internal/config"
	"github.com/ignite/campaign-sender/internal/domain"
	"github.com/ignite/campaign-sender/internal/mailing"
	"github.com/ignite/campaign-sender/internal/pkg/distlock"
	"github.com/ignite/campaign-sender/internal/pkg/logger"
	"github.com/ignite/campaign-sender/internal/repository/postgres"
	"github.com/ignite/campaign-sender/internal/service/sending"
	"github.com/ignite/campaign-sender/internal/storage"
	"github.com/ignite/campaign-sender/internal/throttle"
	"github.com/ignite/campaign-sender/internal/transport"
	"github.com/ignite/campaign-sender/internal/worker"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	campaignCID := flag.String("campaign", "", "campaign public id")
	campaignID := flag.Int64("campaign-id", 0, "campaign internal id (used when -campaign is empty)")
	previewList := flag.String("preview-list", "", "render the message of one subscriber of this list cid and exit")
	previewSubscriber := flag.String("preview-subscriber", "", "subscriber cid for -preview-list")
	flag.Parse()

	if *campaignCID == "" && *campaignID == 0 {
		log.Fatal("one of -campaign or -campaign-id is required")
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	logger.Configure(logger.Options{
		Level:      logger.ParseLevel(cfg.Logging.Level),
		RedactPII:  cfg.Logging.RedactPII,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid redis url: %v", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		log.Println("Connected to redis")
	}

	sender, store, err := buildSender(ctx, cfg, db, rdb)
	if err != nil {
		log.Fatalf("Failed to build sender: %v", err)
	}

	ref := sending.CampaignRef{CID: *campaignCID, ID: *campaignID}
	if err := sender.Init(ctx, ref); err != nil {
		log.Fatalf("Failed to initialize campaign %s: %v", ref, err)
	}

	if *previewList != "" {
		if err := preview(ctx, sender, *previewList, *previewSubscriber); err != nil {
			log.Fatalf("Preview failed: %v", err)
		}
		return
	}

	processor := worker.NewCampaignProcessor(store, sender, worker.CampaignProcessorConfig{
		NumWorkers: cfg.Sender.Concurrency,
		BatchSize:  cfg.Sender.BatchSize,
	})

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           api.SetupRoutes(api.NewHandlers(db, sender.Campaign().CID, processor.Stats)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if err := run(ctx, cfg, db, rdb, sender, processor); err != nil {
		logger.Error("campaign run failed", "campaign", sender.Campaign().CID, "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func openDatabase(ctx context.Context, c config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", c.URL)
	if err != nil {
		return nil, err
	}
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	log.Println("Connected to database")
	return db, nil
}

func buildSender(ctx context.Context, cfg *config.Config, db *sql.DB, rdb *redis.Client) (*sending.CampaignSender, *postgres.Store, error) {
	links, err := mailing.NewLinkService(cfg.PublicURL, cfg.Tracking.SigningKey)
	if err != nil {
		return nil, nil, err
	}
	files, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}

	poolDeps := transport.PoolDeps{Files: files}
	if rdb != nil {
		poolDeps.Throttle = throttle.New(rdb, "campaign-sender:throttle")
	}
	pool := transport.NewPool(poolDeps)

	store := postgres.NewStore(db)
	sender := sending.NewCampaignSender(sending.Deps{
		Store:     store,
		Blacklist: postgres.NewBlacklistRepo(db),
		Files:     files,
		Formatter: mailing.NewTemplateService(links),
		Links:     links,
		URLs:      links,
		Text:      mailing.PlainText{},
		HTTP:      &http.Client{},
		Mailers: sending.MailerPoolFunc(func(ctx context.Context, sc *domain.SendConfiguration) (sending.Mailer, error) {
			return pool.Mailer(ctx, sc)
		}),
	}, sending.Options{
		VERPEnabled:             cfg.VERP.Enabled,
		VERPDisableSenderHeader: cfg.VERP.DisableSenderHeader,
		TextWrapWidth:           cfg.Sender.TextWrapWidth,
		ContentTimeout:          cfg.Sender.ContentTimeout(),
	})
	return sender, store, nil
}

// run holds the campaign lock for the whole send loop.
func run(ctx context.Context, cfg *config.Config, db *sql.DB, rdb *redis.Client, sender *sending.CampaignSender, processor *worker.CampaignProcessor) error {
	campaign := sender.Campaign()

	var lockClient redis.Cmdable
	if rdb != nil {
		lockClient = rdb
	}
	ttl := cfg.Lock.TTL()
	lock := distlock.NewLock(lockClient, db, distlock.CampaignKey(campaign.CID), ttl)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("campaign %s is already being sent by another runner", campaign.CID)
	}
	defer func() {
		releaseCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		if err := lock.Release(releaseCtx); err != nil {
			logger.Warn("release run lock", "error", err)
		}
	}()

	// KeepAlive must be gone before the deferred Release runs.
	runCtx, stop := context.WithCancel(ctx)
	keepAliveDone := make(chan struct{})
	go func() {
		defer close(keepAliveDone)
		distlock.KeepAlive(runCtx, lock, ttl, ttl/3, func(err error) {
			logger.Error("run lock lost, stopping", "campaign", campaign.CID, "error", err)
			stop()
		})
	}()
	defer func() {
		stop()
		<-keepAliveDone
	}()

	listIDs := make([]int64, 0, len(campaign.Lists))
	for _, l := range sender.Lists() {
		listIDs = append(listIDs, l.ID)
	}
	return processor.Run(runCtx, campaign.ID, listIDs)
}

func preview(ctx context.Context, sender *sending.CampaignSender, listCID, subscriberCID string) error {
	if subscriberCID == "" {
		return fmt.Errorf("-preview-subscriber is required")
	}
	msg, err := sender.Preview(ctx, listCID, subscriberCID)
	if err != nil {
		return err
	}
	fmt.Println(msg.HTML)
	fmt.Println("----")
	fmt.Println(msg.Text)
	for _, a := range msg.Attachments {
		fmt.Printf("attachment: %s\n", a.Filename)
	}
	return nil
}
