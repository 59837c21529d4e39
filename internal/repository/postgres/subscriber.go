package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/campaign-sender/internal/domain"
	"github.com/ignite/campaign-sender/internal/service/sending"
)

// subscriptionTable is the quoted name of the per-list subscription table.
func subscriptionTable(listID int64) string {
	return pq.QuoteIdentifier(fmt.Sprintf("subscription__%d", listID))
}

func (s *Store) SubscriberByCID(ctx context.Context, listID int64, cid string) (*domain.Subscriber, error) {
	return s.subscriber(ctx, listID, "cid", cid)
}

func (s *Store) SubscriberByEmail(ctx context.Context, listID int64, email string) (*domain.Subscriber, error) {
	return s.subscriber(ctx, listID, "email", email)
}

func (s *Store) subscriber(ctx context.Context, listID int64, column, value string) (*domain.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE %s = $1 LIMIT 1`, subscriptionTable(listID), pq.QuoteIdentifier(column)), value)
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get subscriber: %w", err)
		}
		return nil, fmt.Errorf("%w: subscriber %s=%s in list %d", sending.ErrNotFound, column, value, listID)
	}
	sub, err := scanSubscriber(rows)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// scanSubscriber maps a SELECT * row. Known columns fill the struct, the
// rest are custom field values keyed by column name.
func scanSubscriber(rows *sql.Rows) (*domain.Subscriber, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("subscriber columns: %w", err)
	}
	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan subscriber: %w", err)
	}

	sub := &domain.Subscriber{Values: make(map[string]any, len(cols))}
	for i, col := range cols {
		v := vals[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		switch col {
		case "id":
			sub.ID = toInt64(v)
		case "cid":
			sub.CID, _ = v.(string)
		case "email":
			sub.Email, _ = v.(string)
		case "status":
			sub.Status = domain.SubscriptionStatus(toInt64(v))
		default:
			sub.Values[col] = v
		}
	}
	return sub, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case string:
		var out int64
		fmt.Sscan(n, &out)
		return out
	}
	return 0
}

// Recipient is one subscribed address queued for a campaign.
type Recipient struct {
	SubscriptionID int64
	Email          string
}

// PendingRecipients pages through subscribed addresses of a list that
// have no recorded outcome for the campaign yet, ordered by id.
func (s *Store) PendingRecipients(ctx context.Context, campaignID, listID, afterID int64, limit int) ([]Recipient, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT s.id, s.email
		FROM %s s
		WHERE s.status = $1 AND s.id > $2
		  AND NOT EXISTS (
		      SELECT 1 FROM campaign_messages cm
		      WHERE cm.campaign = $3 AND cm.list = $4 AND cm.subscription = s.id
		  )
		ORDER BY s.id
		LIMIT $5
	`, subscriptionTable(listID)), int(domain.StatusSubscribed), afterID, campaignID, listID, limit)
	if err != nil {
		return nil, fmt.Errorf("pending recipients: %w", err)
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.SubscriptionID, &r.Email); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
