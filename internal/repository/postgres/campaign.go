package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ignite/campaign-sender/internal/domain"
	"github.com/ignite/campaign-sender/internal/service/sending"
)

// CampaignRepo reads campaign context. Inside Store.Snapshot it is bound
// to the snapshot transaction.
type CampaignRepo struct{ q querier }

// NewCampaignRepo creates a campaign repository outside any transaction.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{q: db} }

const campaignColumns = `
	id, cid, name, source, COALESCE(data, '{}'), COALESCE(source_url, ''),
	send_configuration, from_name_override, from_email_override,
	reply_to_override, subject_override, COALESCE(unsubscribe_url, ''),
	click_tracking_disabled, open_tracking_disabled, delivered, bounced`

func (r *CampaignRepo) CampaignByCID(ctx context.Context, cid string) (*domain.Campaign, error) {
	return r.campaign(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE cid = $1`, cid)
}

func (r *CampaignRepo) CampaignByID(ctx context.Context, id int64) (*domain.Campaign, error) {
	return r.campaign(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
}

func (r *CampaignRepo) campaign(ctx context.Context, query string, arg interface{}) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var (
		kind                                  int
		data                                  []byte
		sourceURL                             string
		fromName, fromEmail, replyTo, subject sql.NullString
	)
	err := r.q.QueryRowContext(ctx, query, arg).Scan(
		&c.ID, &c.CID, &c.Name, &kind, &data, &sourceURL,
		&c.SendConfigurationID, &fromName, &fromEmail,
		&replyTo, &subject, &c.UnsubscribeURL,
		&c.ClickTrackingDisabled, &c.OpenTrackingDisabled, &c.Delivered, &c.Bounced,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: campaign %v", sending.ErrNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}

	c.FromNameOverride = nullable(fromName)
	c.FromEmailOverride = nullable(fromEmail)
	c.ReplyToOverride = nullable(replyTo)
	c.SubjectOverride = nullable(subject)

	c.Source, err = domain.ParseContentSource(domain.SourceKind(kind), data, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: campaign %s: %v", sending.ErrUnknownSource, c.CID, err)
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT list, segment FROM campaign_lists WHERE campaign = $1 ORDER BY id`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("get campaign lists: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cl domain.CampaignList
		var segment sql.NullInt64
		if err := rows.Scan(&cl.ListID, &segment); err != nil {
			return nil, fmt.Errorf("scan campaign list: %w", err)
		}
		if segment.Valid {
			cl.SegmentID = &segment.Int64
		}
		c.Lists = append(c.Lists, cl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaign lists: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) SendConfiguration(ctx context.Context, id int64) (*domain.SendConfiguration, error) {
	sc := &domain.SendConfiguration{}
	var mailerType string
	var settings []byte
	err := r.q.QueryRowContext(ctx, `
		SELECT id, cid, name, from_name, from_email, COALESCE(reply_to, ''), subject,
		       from_name_overridable, from_email_overridable, reply_to_overridable, subject_overridable,
		       COALESCE(verp_hostname, ''), COALESCE(x_mailer, ''),
		       mailer_type, COALESCE(mailer_settings, '{}')
		FROM send_configurations
		WHERE id = $1
	`, id).Scan(
		&sc.ID, &sc.CID, &sc.Name, &sc.FromName, &sc.FromEmail, &sc.ReplyTo, &sc.Subject,
		&sc.FromNameOverridable, &sc.FromEmailOverridable, &sc.ReplyToOverridable, &sc.SubjectOverridable,
		&sc.VERPHostname, &sc.XMailer,
		&mailerType, &settings,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: send configuration %d", sending.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get send configuration: %w", err)
	}
	sc.MailerType = domain.MailerType(mailerType)
	if err := json.Unmarshal(settings, &sc.MailerSettings); err != nil {
		return nil, fmt.Errorf("%w: send configuration %d: mailer settings: %v", sending.ErrConfiguration, id, err)
	}
	return sc, nil
}

func (r *CampaignRepo) List(ctx context.Context, id int64) (*domain.List, error) {
	l := &domain.List{}
	err := r.q.QueryRowContext(ctx, `
		SELECT id, cid, name, listunsubscribe_disabled, COALESCE(to_name, '')
		FROM lists
		WHERE id = $1
	`, id).Scan(&l.ID, &l.CID, &l.Name, &l.ListUnsubscribeDisabled, &l.ToName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: list %d", sending.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return l, nil
}

// FieldsGrouped returns the top-level custom fields of a list. Option
// children belong to their parent group and are not returned.
func (r *CampaignRepo) FieldsGrouped(ctx context.Context, listID int64) ([]domain.Field, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, key, name, type, COALESCE("column", ''), order_list
		FROM custom_fields
		WHERE list = $1 AND "group" IS NULL
		ORDER BY order_list, id
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	var out []domain.Field
	for rows.Next() {
		var f domain.Field
		var typ string
		if err := rows.Scan(&f.ID, &f.Key, &f.Name, &typ, &f.Column, &f.OrderList); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		f.Type = domain.FieldType(typ)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) Template(ctx context.Context, id int64) (*domain.Template, error) {
	t := &domain.Template{}
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(html, ''), COALESCE(text, '')
		FROM templates
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.HTML, &t.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: template %d", sending.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (r *CampaignRepo) Attachments(ctx context.Context, campaignID int64) ([]domain.File, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, filename, originalname, COALESCE(mimetype, ''), size
		FROM files_campaign_attachment
		WHERE entity = $1
		ORDER BY id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []domain.File
	for rows.Next() {
		var f domain.File
		if err := rows.Scan(&f.ID, &f.Filename, &f.OriginalName, &f.MimeType, &f.Size); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
