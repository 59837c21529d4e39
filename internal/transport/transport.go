// Package transport turns assembled mails into MIME messages and submits
// them through the transport of a send configuration: SMTP, AWS SES or
// SparkPost.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ignite/campaign-sender/internal/domain"
)

// ErrUnsupportedMailer is returned for send configurations with an unknown
// mailer type.
var ErrUnsupportedMailer = errors.New("transport: unsupported mailer type")

// Message is a MIME message ready for submission.
type Message struct {
	EnvelopeFrom string
	EnvelopeTo   string
	MessageID    string
	Raw          []byte
	Tags         map[string]string
}

// Sender submits one message. Rejections are reported as
// *domain.TransportError carrying the server response.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*domain.SendInfo, error)
}

// FileOpener reads stored attachments.
type FileOpener interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// rejected wraps a server reply into a TransportError.
func rejected(response string, err error) error {
	return &domain.TransportError{Response: response, Err: err}
}

func senderFor(sc *domain.SendConfiguration, deps PoolDeps) (Sender, error) {
	switch sc.MailerType {
	case domain.MailerSMTP, "":
		return NewSMTPSender(sc.MailerSettings), nil
	case domain.MailerSES:
		return NewSESSender(context.Background(), sc.MailerSettings)
	case domain.MailerSparkPost:
		return NewSparkPostSender(sc.MailerSettings, deps.HTTP), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedMailer, sc.MailerType)
}
