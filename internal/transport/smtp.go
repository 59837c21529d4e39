package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/ignite/campaign-sender/internal/domain"
)

// SMTPSender submits messages over SMTP with the VERP envelope. Secure
// selects implicit TLS; otherwise STARTTLS is used when offered.
type SMTPSender struct {
	host     string
	port     int
	secure   bool
	username string
	password string
	timeout  time.Duration
}

// NewSMTPSender creates a sender from mailer settings.
func NewSMTPSender(s domain.MailerSettings) *SMTPSender {
	port := s.Port
	if port == 0 {
		port = 25
		if s.Secure {
			port = 465
		}
	}
	return &SMTPSender{
		host:     s.Hostname,
		port:     port,
		secure:   s.Secure,
		username: s.User,
		password: s.Password,
		timeout:  30 * time.Second,
	}
}

// Send runs one SMTP transaction. The final DATA reply is returned as the
// response, so the queue id the server assigned becomes the response id.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) (*domain.SendInfo, error) {
	if s.host == "" {
		return nil, fmt.Errorf("SMTP host not configured")
	}

	c, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if err := c.Mail(msg.EnvelopeFrom); err != nil {
		return nil, smtpFailure("MAIL FROM", err)
	}
	if err := c.Rcpt(msg.EnvelopeTo); err != nil {
		return nil, smtpFailure("RCPT TO", err)
	}

	response, err := s.data(c, msg.Raw)
	if err != nil {
		return nil, smtpFailure("DATA", err)
	}
	if err := c.Quit(); err != nil {
		log.Printf("[SMTP] QUIT failed after accepted message: %v", err)
	}
	return &domain.SendInfo{Response: response, MessageID: msg.MessageID}, nil
}

func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	dialer := &net.Dialer{Timeout: s.timeout}

	var conn net.Conn
	var err error
	if s.secure {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: s.host}}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("SMTP connect to %s: %w", addr, err)
	}
	// smtp.Client has no context support; the deadline bounds the exchange
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SMTP client: %w", err)
	}

	if !s.secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
				c.Close()
				return nil, fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}

	if s.username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(&plainAuth{user: s.username, pass: s.password}); err != nil {
				c.Close()
				return nil, smtpFailure("AUTH", err)
			}
		}
	}
	return c, nil
}

// data sends the message body and returns the server's final reply.
// smtp.Client.Data discards that reply, so the exchange is driven on the
// underlying text connection.
func (s *SMTPSender) data(c *smtp.Client, raw []byte) (string, error) {
	id, err := c.Text.Cmd("DATA")
	if err != nil {
		return "", err
	}
	c.Text.StartResponse(id)
	_, _, err = c.Text.ReadResponse(354)
	c.Text.EndResponse(id)
	if err != nil {
		return "", err
	}

	w := c.Text.DotWriter()
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	code, message, err := c.Text.ReadResponse(250)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %s", code, message), nil
}

// smtpFailure turns SMTP replies into transport rejections. Anything else
// is a connection level error.
func smtpFailure(stage string, err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return rejected(fmt.Sprintf("%d %s", tpErr.Code, tpErr.Msg), err)
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// plainAuth is PLAIN auth without net/smtp's TLS requirement, for relays
// on private networks.
type plainAuth struct {
	user, pass string
}

func (a *plainAuth) Start(*smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.user + "\x00" + a.pass), nil
}

func (a *plainAuth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		return nil, fmt.Errorf("unexpected server challenge")
	}
	return nil, nil
}
