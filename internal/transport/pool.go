package transport

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ignite/campaign-sender/internal/domain"
	"github.com/ignite/campaign-sender/internal/pkg/httpretry"
)

// Throttler blocks until a send configuration may submit another message.
type Throttler interface {
	Wait(ctx context.Context, sendConfigurationID int64, perHour int) error
}

// PoolDeps are shared by every mailer of a pool.
type PoolDeps struct {
	Files     FileOpener
	Throttle  Throttler
	HTTP      httpretry.HTTPDoer
	NewSender func(sc *domain.SendConfiguration) (Sender, error)
}

// Pool caches one Mailer per send configuration id. A send configuration
// is immutable for the lifetime of a run.
type Pool struct {
	deps PoolDeps

	mu      sync.Mutex
	mailers map[int64]*Mailer
}

// NewPool creates an empty mailer pool.
func NewPool(deps PoolDeps) *Pool {
	if deps.NewSender == nil {
		deps.NewSender = func(sc *domain.SendConfiguration) (Sender, error) {
			return senderFor(sc, deps)
		}
	}
	return &Pool{deps: deps, mailers: make(map[int64]*Mailer)}
}

// Mailer returns the cached mailer of sc, creating it on first use.
func (p *Pool) Mailer(ctx context.Context, sc *domain.SendConfiguration) (*Mailer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if m, ok := p.mailers[sc.ID]; ok {
		return m, nil
	}
	sender, err := p.deps.NewSender(sc)
	if err != nil {
		return nil, fmt.Errorf("create %s mailer: %w", sc.MailerType, err)
	}
	m := &Mailer{
		sc:       sc,
		sender:   sender,
		builder:  NewMIMEBuilder(p.deps.Files),
		throttle: p.deps.Throttle,
	}
	p.mailers[sc.ID] = m
	log.Printf("[Transport] Created %s mailer for send configuration %s", sc.MailerType, sc.CID)
	return m, nil
}

// Mailer submits mails for one send configuration.
type Mailer struct {
	sc       *domain.SendConfiguration
	sender   Sender
	builder  *MIMEBuilder
	throttle Throttler
}

// ThrottleWait blocks until the configured messages-per-hour budget allows
// one more message.
func (m *Mailer) ThrottleWait(ctx context.Context) error {
	if m.throttle == nil || m.sc.MailerSettings.Throttling <= 0 {
		return nil
	}
	return m.throttle.Wait(ctx, m.sc.ID, m.sc.MailerSettings.Throttling)
}

// SendMassMail builds the MIME message and submits it.
func (m *Mailer) SendMassMail(ctx context.Context, mail *domain.Mail) (*domain.SendInfo, error) {
	msg, err := m.builder.Build(ctx, mail)
	if err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}
	info, err := m.sender.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	if info.MessageID == "" {
		info.MessageID = msg.MessageID
	}
	return info, nil
}
