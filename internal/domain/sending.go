package domain

import (
	"strings"
	"time"
)

// MailerType identifies the transport used by a send configuration.
type MailerType string

const (
	MailerSMTP      MailerType = "smtp"
	MailerSES       MailerType = "aws-ses"
	MailerSparkPost MailerType = "sparkpost"
)

// MailerSettings holds transport credentials and limits.
type MailerSettings struct {
	Hostname  string `json:"hostname,omitempty"`
	Port      int    `json:"port,omitempty"`
	Secure    bool   `json:"secure,omitempty"`
	User      string `json:"user,omitempty"`
	Password  string `json:"password,omitempty"`
	Region    string `json:"region,omitempty"`
	AccessKey string `json:"key,omitempty"`
	SecretKey string `json:"secret,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	// Throttling is the maximum number of messages per hour; 0 disables it.
	Throttling int `json:"throttling,omitempty"`
}

// SendConfiguration is an immutable snapshot of the sender identity and
// transport for one run.
type SendConfiguration struct {
	ID   int64  `json:"id" db:"id"`
	CID  string `json:"cid" db:"cid"`
	Name string `json:"name" db:"name"`

	FromName  string `json:"from_name" db:"from_name"`
	FromEmail string `json:"from_email" db:"from_email"`
	ReplyTo   string `json:"reply_to" db:"reply_to"`
	Subject   string `json:"subject" db:"subject"`

	FromNameOverridable  bool `json:"from_name_overridable" db:"from_name_overridable"`
	FromEmailOverridable bool `json:"from_email_overridable" db:"from_email_overridable"`
	ReplyToOverridable   bool `json:"reply_to_overridable" db:"reply_to_overridable"`
	SubjectOverridable   bool `json:"subject_overridable" db:"subject_overridable"`

	VERPHostname string `json:"verp_hostname" db:"verp_hostname"`
	// XMailer is the custom X-Mailer header value; empty omits the header.
	XMailer string `json:"x_mailer" db:"x_mailer"`

	MailerType     MailerType     `json:"mailer_type" db:"mailer_type"`
	MailerSettings MailerSettings `json:"mailer_settings" db:"mailer_settings"`
}

// Attachment is either a stored file (Path is a storage path) or an inline
// image recovered from a data URI (Path holds the data URI, CID is set).
type Attachment struct {
	Filename string `json:"filename,omitempty"`
	Path     string `json:"path"`
	CID      string `json:"cid,omitempty"`
}

// IsInline reports whether the attachment is referenced from the html body.
func (a Attachment) IsInline() bool { return a.CID != "" }

// AttachmentSet is the immutable list of campaign attachments loaded once
// per run. Recipient-specific entries are added through a Builder.
type AttachmentSet struct {
	items []Attachment
}

// NewAttachmentSet copies items into a new set.
func NewAttachmentSet(items []Attachment) AttachmentSet {
	cp := make([]Attachment, len(items))
	copy(cp, items)
	return AttachmentSet{items: cp}
}

// Len returns the number of base attachments.
func (s AttachmentSet) Len() int { return len(s.items) }

// Items returns a copy of the base attachments.
func (s AttachmentSet) Items() []Attachment {
	cp := make([]Attachment, len(s.items))
	copy(cp, s.items)
	return cp
}

// Builder starts a per-recipient attachment list seeded with the base set.
func (s AttachmentSet) Builder() *AttachmentBuilder {
	return &AttachmentBuilder{items: s.Items()}
}

// AttachmentBuilder accumulates recipient-specific attachments.
type AttachmentBuilder struct {
	items []Attachment
}

// AddInline appends an inline attachment for a data URI.
func (b *AttachmentBuilder) AddInline(dataURI, cid string) {
	b.items = append(b.items, Attachment{Path: dataURI, CID: cid})
}

// Build returns the accumulated list. The builder may be reused; later
// additions do not affect lists already returned.
func (b *AttachmentBuilder) Build() []Attachment {
	out := make([]Attachment, len(b.items))
	copy(out, b.items)
	return out
}

// RenderedMessage is the personalized body of one message.
type RenderedMessage struct {
	HTML        string       `json:"html"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
}

// Address is a display name plus mailbox.
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Envelope is the SMTP envelope used when VERP is active.
type Envelope struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Header is one extra message header. Prepared values are already encoded
// and are written as-is.
type Header struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Prepared bool   `json:"prepared,omitempty"`
}

// Mail is the fully assembled message handed to a transport. By the time a
// message reaches this struct, all substitution, link rewriting and header
// policy is complete.
type Mail struct {
	From     Address   `json:"from"`
	To       Address   `json:"to"`
	ReplyTo  string    `json:"reply_to,omitempty"`
	Sender   string    `json:"sender,omitempty"`
	XMailer  string    `json:"x_mailer,omitempty"`
	Envelope *Envelope `json:"envelope,omitempty"`
	Headers  []Header  `json:"headers"`
	// ListUnsubscribe is empty when the list disables the header.
	ListUnsubscribe string `json:"list_unsubscribe,omitempty"`

	Subject     string       `json:"subject"`
	HTML        string       `json:"html"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`

	EncryptionKeys []string `json:"-"`

	// Tags are provider metadata (campaign/list/subscriber) for transports
	// that support message tagging.
	Tags map[string]string `json:"tags,omitempty"`
}

// Header returns the value of the first header with the given name.
func (m *Mail) Header(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// SendInfo is returned by a transport after a successful submission.
type SendInfo struct {
	Response  string `json:"response,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// TransportError is returned by transports when a submission is rejected.
// Response carries the server reply when one was received.
type TransportError struct {
	Response string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Response != "" {
		return e.Response
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "transport error"
}

func (e *TransportError) Unwrap() error { return e.Err }

// Outcome is the durable record of one recipient's send attempt.
type Outcome struct {
	CampaignID          int64              `json:"campaign" db:"campaign"`
	ListID              int64              `json:"list" db:"list"`
	SubscriptionID      int64              `json:"subscription" db:"subscription"`
	SendConfigurationID int64              `json:"send_configuration" db:"send_configuration"`
	Status              SubscriptionStatus `json:"status" db:"status"`
	Response            string             `json:"response" db:"response"`
	ResponseID          string             `json:"response_id" db:"response_id"`
	Updated             time.Time          `json:"updated" db:"updated"`
}

// ResponseID is the last whitespace-delimited token of a transport
// response. Bounce webhooks are matched on it.
func ResponseID(response string) string {
	fields := strings.Fields(response)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
