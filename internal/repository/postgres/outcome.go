package postgres

import (
	"context"
	"fmt"

	"github.com/ignite/campaign-sender/internal/domain"
)

// RecordOutcome increments the campaign counters and inserts the message
// row in one transaction. Every outcome counts as delivered; bounces also
// count as bounced.
func (s *Store) RecordOutcome(ctx context.Context, o *domain.Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outcome: %w", err)
	}
	defer tx.Rollback()

	bounced := 0
	if o.Status == domain.StatusBounced {
		bounced = 1
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET delivered = delivered + 1, bounced = bounced + $1
		WHERE id = $2
	`, bounced, o.CampaignID)
	if err != nil {
		return fmt.Errorf("update campaign counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update campaign counters: campaign %d not found", o.CampaignID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaign_messages
			(campaign, list, subscription, send_configuration, status, response, response_id, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.CampaignID, o.ListID, o.SubscriptionID, o.SendConfigurationID,
		int(o.Status), o.Response, o.ResponseID, o.Updated)
	if err != nil {
		return fmt.Errorf("insert campaign message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outcome: %w", err)
	}
	return nil
}
