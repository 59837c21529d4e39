package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/ignite/campaign-sender/internal/repository/postgres"
	"github.com/ignite/campaign-sender/internal/service/sending"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// CAMPAIGN PROCESSOR - Bounded fan-out of one campaign send run
// =============================================================================
// Streams the subscribed recipients of every campaign list that have no
// recorded outcome yet and sends them with a fixed number of concurrent
// workers. A rerun picks up where a previous run stopped.

// RecipientSource pages through the recipients still pending for a list.
type RecipientSource interface {
	PendingRecipients(ctx context.Context, campaignID, listID, afterID int64, limit int) ([]postgres.Recipient, error)
}

// RecipientSender sends the campaign to one address of a list.
type RecipientSender interface {
	Send(ctx context.Context, listID int64, email string) error
}

// CampaignProcessorConfig holds processor configuration
type CampaignProcessorConfig struct {
	NumWorkers int
	BatchSize  int
}

// DefaultProcessorConfig returns default configuration
func DefaultProcessorConfig() CampaignProcessorConfig {
	return CampaignProcessorConfig{
		NumWorkers: 8,
		BatchSize:  500,
	}
}

// CampaignProcessor runs the send loop of one initialized campaign.
type CampaignProcessor struct {
	recipients RecipientSource
	sender     RecipientSender

	numWorkers int
	batchSize  int

	// Stats
	totalSent   int64
	totalFailed int64
}

// NewCampaignProcessor creates a new campaign processor
func NewCampaignProcessor(recipients RecipientSource, sender RecipientSender, config CampaignProcessorConfig) *CampaignProcessor {
	def := DefaultProcessorConfig()
	if config.NumWorkers <= 0 {
		config.NumWorkers = def.NumWorkers
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	return &CampaignProcessor{
		recipients: recipients,
		sender:     sender,
		numWorkers: config.NumWorkers,
		batchSize:  config.BatchSize,
	}
}

// Run sends the campaign to the pending recipients of every list in order.
// Per-recipient failures are logged and counted. Failures that would leave
// the run inconsistent stop it and are returned.
func (p *CampaignProcessor) Run(ctx context.Context, campaignID int64, listIDs []int64) error {
	log.Printf("[CampaignProcessor] Campaign %d: sending to %d lists with %d workers (batch_size=%d)",
		campaignID, len(listIDs), p.numWorkers, p.batchSize)

	for _, listID := range listIDs {
		if err := p.runList(ctx, campaignID, listID); err != nil {
			return err
		}
	}

	log.Printf("[CampaignProcessor] Campaign %d finished. Total sent: %d, failed: %d",
		campaignID, atomic.LoadInt64(&p.totalSent), atomic.LoadInt64(&p.totalFailed))
	return nil
}

func (p *CampaignProcessor) runList(ctx context.Context, campaignID, listID int64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.numWorkers)

	var after int64
	for gctx.Err() == nil {
		batch, err := p.recipients.PendingRecipients(gctx, campaignID, listID, after, p.batchSize)
		if err != nil {
			if gctx.Err() != nil {
				break
			}
			g.Wait()
			return fmt.Errorf("list %d: %w", listID, err)
		}
		if len(batch) == 0 {
			break
		}

		for _, r := range batch {
			r := r
			g.Go(func() error {
				return p.processRecipient(gctx, listID, r)
			})
		}
		after = batch[len(batch)-1].SubscriptionID
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *CampaignProcessor) processRecipient(ctx context.Context, listID int64, r postgres.Recipient) error {
	if ctx.Err() != nil {
		return nil
	}
	err := p.sender.Send(ctx, listID, r.Email)
	if err == nil {
		atomic.AddInt64(&p.totalSent, 1)
		return nil
	}
	atomic.AddInt64(&p.totalFailed, 1)
	if isFatal(err) {
		return fmt.Errorf("list %d subscription %d: %w", listID, r.SubscriptionID, err)
	}
	log.Printf("[CampaignProcessor] List %d subscription %d: %v", listID, r.SubscriptionID, err)
	return nil
}

// isFatal reports errors after which no further recipient can be sent
// correctly. A subscriber that vanished mid-run is not one of them.
func isFatal(err error) bool {
	return errors.Is(err, sending.ErrPersistence) ||
		errors.Is(err, sending.ErrNotInitialized) ||
		errors.Is(err, sending.ErrUnknownList) ||
		errors.Is(err, sending.ErrUnknownSource)
}

// Stats returns current processing statistics
func (p *CampaignProcessor) Stats() map[string]int64 {
	return map[string]int64{
		"total_sent":   atomic.LoadInt64(&p.totalSent),
		"total_failed": atomic.LoadInt64(&p.totalFailed),
	}
}
