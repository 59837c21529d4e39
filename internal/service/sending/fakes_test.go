package sending

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/campaign-sender/internal/domain"
	"github.com/ignite/campaign-sender/internal/mailing"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store and SnapshotReader.
type fakeStore struct {
	mu sync.Mutex

	campaign  *domain.Campaign
	sc        *domain.SendConfiguration
	lists     map[int64]*domain.List
	fields    map[int64][]domain.Field
	templates map[int64]*domain.Template
	files     []domain.File
	subs      map[int64][]*domain.Subscriber

	recordErr error
	outcomes  []*domain.Outcome
	snapshots int
}

func (f *fakeStore) Snapshot(_ context.Context, fn func(SnapshotReader) error) error {
	f.mu.Lock()
	f.snapshots++
	f.mu.Unlock()
	return fn(f)
}

func (f *fakeStore) CampaignByCID(_ context.Context, cid string) (*domain.Campaign, error) {
	if f.campaign == nil || f.campaign.CID != cid {
		return nil, fmt.Errorf("%w: campaign %s", ErrNotFound, cid)
	}
	return f.campaign, nil
}

func (f *fakeStore) CampaignByID(_ context.Context, id int64) (*domain.Campaign, error) {
	if f.campaign == nil || f.campaign.ID != id {
		return nil, fmt.Errorf("%w: campaign %d", ErrNotFound, id)
	}
	return f.campaign, nil
}

func (f *fakeStore) SendConfiguration(_ context.Context, id int64) (*domain.SendConfiguration, error) {
	if f.sc == nil || f.sc.ID != id {
		return nil, fmt.Errorf("%w: send configuration %d", ErrNotFound, id)
	}
	return f.sc, nil
}

func (f *fakeStore) List(_ context.Context, id int64) (*domain.List, error) {
	l, ok := f.lists[id]
	if !ok {
		return nil, fmt.Errorf("%w: list %d", ErrNotFound, id)
	}
	return l, nil
}

func (f *fakeStore) FieldsGrouped(_ context.Context, listID int64) ([]domain.Field, error) {
	return append([]domain.Field(nil), f.fields[listID]...), nil
}

func (f *fakeStore) Template(_ context.Context, id int64) (*domain.Template, error) {
	t, ok := f.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: template %d", ErrNotFound, id)
	}
	return t, nil
}

func (f *fakeStore) Attachments(context.Context, int64) ([]domain.File, error) {
	return f.files, nil
}

func (f *fakeStore) SubscriberByCID(_ context.Context, listID int64, cid string) (*domain.Subscriber, error) {
	for _, s := range f.subs[listID] {
		if s.CID == cid {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: subscriber %s", ErrNotFound, cid)
}

func (f *fakeStore) SubscriberByEmail(_ context.Context, listID int64, email string) (*domain.Subscriber, error) {
	for _, s := range f.subs[listID] {
		if strings.EqualFold(s.Email, email) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: subscriber %s", ErrNotFound, email)
}

func (f *fakeStore) RecordOutcome(ctx context.Context, o *domain.Outcome) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.outcomes = append(f.outcomes, o)
	f.campaign.Delivered++
	if o.Status == domain.StatusBounced {
		f.campaign.Bounced++
	}
	return nil
}

type fakeBlacklist map[string]bool

func (b fakeBlacklist) IsBlacklisted(_ context.Context, email string) (bool, error) {
	return b[strings.ToLower(email)], nil
}

type fakeFiles struct{}

func (fakeFiles) AttachmentPath(campaignID int64, filename string) string {
	return fmt.Sprintf("campaign/attachment/%d/%s", campaignID, filename)
}

// fakeMailer records mails and answers with a fixed result.
type fakeMailer struct {
	mu       sync.Mutex
	mails    []*domain.Mail
	throttle int
	info     *domain.SendInfo
	err      error
}

func (m *fakeMailer) ThrottleWait(context.Context) error {
	m.mu.Lock()
	m.throttle++
	m.mu.Unlock()
	return nil
}

func (m *fakeMailer) SendMassMail(_ context.Context, mail *domain.Mail) (*domain.SendInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mails = append(m.mails, mail)
	return m.info, m.err
}

func (m *fakeMailer) pool() MailerPool {
	return MailerPoolFunc(func(context.Context, *domain.SendConfiguration) (Mailer, error) {
		return m, nil
	})
}

func strptr(s string) *string { return &s }

func newFakeStore() *fakeStore {
	return &fakeStore{
		campaign: &domain.Campaign{
			ID:                  1,
			CID:                 "camp1",
			Name:                "Spring",
			SendConfigurationID: 5,
			Lists:               []domain.CampaignList{{ListID: 2}},
			Source: domain.CustomSource{
				SourceKind: domain.SourceCustom,
				HTML:       `<html><body><p>Hello {{ FIRST_NAME }}</p></body></html>`,
				Text:       "Hello {{ FIRST_NAME }}",
			},
			SubjectOverride:       strptr("Hi {{ FIRST_NAME }}"),
			ClickTrackingDisabled: true,
			OpenTrackingDisabled:  true,
		},
		sc: &domain.SendConfiguration{
			ID:                 5,
			CID:                "sc1",
			FromName:           "News Desk",
			FromEmail:          "news@mail.example.com",
			ReplyTo:            "reply@example.com",
			Subject:            "Default subject",
			SubjectOverridable: true,
			VERPHostname:       "bounces.example.com",
			XMailer:            "Campaign Sender",
			MailerType:         domain.MailerSMTP,
		},
		lists: map[int64]*domain.List{
			2: {ID: 2, CID: "list1", Name: "Weekly News", ToName: "{{ FIRST_NAME }}"},
		},
		fields: map[int64][]domain.Field{
			2: {
				{Key: "PGP_KEY", Column: "custom_pgp_2", Type: domain.FieldGPG, OrderList: 2},
				{Key: "FIRST_NAME", Column: "custom_first_name_1", Type: domain.FieldText, OrderList: 1},
			},
		},
		templates: map[int64]*domain.Template{},
		subs: map[int64][]*domain.Subscriber{
			2: {{
				ID:     3,
				CID:    "sub1",
				Email:  "jane@example.com",
				Status: domain.StatusSubscribed,
				Values: map[string]any{"custom_first_name_1": "Jane & Co"},
			}},
		},
	}
}

type senderFixture struct {
	store     *fakeStore
	mailer    *fakeMailer
	blacklist fakeBlacklist
	deps      Deps
}

func newFixture(t *testing.T) *senderFixture {
	t.Helper()
	links, err := mailing.NewLinkService("https://lists.example.org/", "secret")
	require.NoError(t, err)

	f := &senderFixture{
		store:     newFakeStore(),
		mailer:    &fakeMailer{info: &domain.SendInfo{Response: "250 2.0.0 Ok: queued as abc123", MessageID: "<m1@mail.example.com>"}},
		blacklist: fakeBlacklist{},
	}
	n := 0
	f.deps = Deps{
		Store:     f.store,
		Blacklist: f.blacklist,
		Files:     fakeFiles{},
		Formatter: mailing.NewTemplateService(links),
		Links:     links,
		URLs:      links,
		Text:      mailing.PlainText{},
		HTTP:      http.DefaultClient,
		Mailers:   f.mailer.pool(),
		Now:       func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		NewContentID: func() string {
			n++
			return fmt.Sprintf("id%d", n)
		},
	}
	return f
}

func (f *senderFixture) init(t *testing.T, opts Options) *CampaignSender {
	t.Helper()
	s := NewCampaignSender(f.deps, opts)
	require.NoError(t, s.Init(context.Background(), CampaignRef{CID: f.store.campaign.CID}))
	return s
}

var errBoom = errors.New("boom")
