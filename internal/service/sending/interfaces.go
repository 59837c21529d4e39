package sending

import (
	"context"
	"net/http"

	"github.com/ignite/campaign-sender/internal/domain"
)

// SnapshotReader reads campaign context inside one read transaction.
// Lookups of missing rows return an error wrapping ErrNotFound.
type SnapshotReader interface {
	CampaignByCID(ctx context.Context, cid string) (*domain.Campaign, error)
	CampaignByID(ctx context.Context, id int64) (*domain.Campaign, error)
	SendConfiguration(ctx context.Context, id int64) (*domain.SendConfiguration, error)
	List(ctx context.Context, id int64) (*domain.List, error)
	FieldsGrouped(ctx context.Context, listID int64) ([]domain.Field, error)
	Template(ctx context.Context, id int64) (*domain.Template, error)
	Attachments(ctx context.Context, campaignID int64) ([]domain.File, error)
}

// Store is the persistence contract of the sender. Implementations must be
// safe for concurrent use.
type Store interface {
	// Snapshot runs fn inside a read-only transaction.
	Snapshot(ctx context.Context, fn func(SnapshotReader) error) error

	SubscriberByCID(ctx context.Context, listID int64, cid string) (*domain.Subscriber, error)
	SubscriberByEmail(ctx context.Context, listID int64, email string) (*domain.Subscriber, error)

	// RecordOutcome inserts the outcome row and increments the campaign
	// counters atomically: delivered always, bounced for bounced outcomes.
	RecordOutcome(ctx context.Context, o *domain.Outcome) error
}

// Blacklist checks global address exclusion.
type Blacklist interface {
	IsBlacklisted(ctx context.Context, email string) (bool, error)
}

// FileStore resolves the storage path of a campaign attachment.
type FileStore interface {
	AttachmentPath(campaignID int64, filename string) string
}

// TagFormatter substitutes merge tags. When escapeHTML is set, substituted
// values are HTML-escaped.
type TagFormatter interface {
	Format(mc *domain.MessageContext, text string, escapeHTML bool) (string, error)
}

// LinkRewriter injects tracked and unsubscribe-aware links. formatTarget
// personalizes anchor targets before they are wrapped; nil keeps them as
// written.
type LinkRewriter interface {
	UpdateLinks(mc *domain.MessageContext, html string, formatTarget func(string) (string, error)) (string, error)
	MessageLinks(mc *domain.MessageContext) map[string]string
}

// URLBuilder builds public URLs of the installation.
type URLBuilder interface {
	PublicURL(path string) string
	PublicHost() string
}

// TextConverter derives a plain-text body from html.
type TextConverter interface {
	FromHTML(html string, wrap int) (string, error)
}

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Mailer is a transport bound to one send configuration.
type Mailer interface {
	// ThrottleWait blocks until the send configuration's rate limit
	// allows one more message.
	ThrottleWait(ctx context.Context) error
	// SendMassMail submits one message. Rejections are reported as
	// *domain.TransportError when the server replied.
	SendMassMail(ctx context.Context, mail *domain.Mail) (*domain.SendInfo, error)
}

// MailerPool resolves the Mailer of a send configuration.
type MailerPool interface {
	Mailer(ctx context.Context, sc *domain.SendConfiguration) (Mailer, error)
}

// MailerPoolFunc adapts a function to MailerPool.
type MailerPoolFunc func(ctx context.Context, sc *domain.SendConfiguration) (Mailer, error)

// Mailer calls f.
func (f MailerPoolFunc) Mailer(ctx context.Context, sc *domain.SendConfiguration) (Mailer, error) {
	return f(ctx, sc)
}
