package sending

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/ignite/campaign-sender/internal/domain"
	"github.com/ignite/campaign-sender/internal/mailing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_LoadsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.store.files = []domain.File{{ID: 1, Filename: "f0a1", OriginalName: "terms.pdf"}}
	s := f.init(t, Options{})

	assert.Equal(t, 1, f.store.snapshots)
	assert.Equal(t, "camp1", s.Campaign().CID)
	assert.Equal(t, "sc1", s.SendConfiguration().CID)
	require.Len(t, s.Lists(), 1)
	assert.Equal(t, "list1", s.Lists()[0].CID)

	fields := s.fieldsByList[2]
	require.Len(t, fields, 2)
	assert.Equal(t, "FIRST_NAME", fields[0].Key, "fields follow declaration order")

	items := s.attachments.Items()
	require.Len(t, items, 1)
	assert.Equal(t, domain.Attachment{Filename: "terms.pdf", Path: "campaign/attachment/1/f0a1"}, items[0])
}

func TestInit_ByID(t *testing.T) {
	f := newFixture(t)
	s := NewCampaignSender(f.deps, Options{})
	require.NoError(t, s.Init(context.Background(), CampaignRef{ID: 1}))
	assert.Equal(t, "camp1", s.Campaign().CID)
}

func TestInit_NotFound(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeStore)
	}{
		{"campaign", func(st *fakeStore) { st.campaign.CID = "other" }},
		{"send configuration", func(st *fakeStore) { st.sc.ID = 99 }},
		{"list", func(st *fakeStore) { delete(st.lists, 2) }},
		{"template", func(st *fakeStore) {
			st.campaign.Source = domain.TemplateSource{TemplateID: 8}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.mutate(f.store)
			s := NewCampaignSender(f.deps, Options{})

			err := s.Init(context.Background(), CampaignRef{CID: "camp1"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, err, ErrConfiguration)

			assert.ErrorIs(t, s.Send(context.Background(), 2, "jane@example.com"), ErrNotInitialized)
		})
	}
}

func TestSend_NotInitialized(t *testing.T) {
	f := newFixture(t)
	s := NewCampaignSender(f.deps, Options{})

	assert.ErrorIs(t, s.Send(context.Background(), 2, "jane@example.com"), ErrNotInitialized)
	_, err := s.Preview(context.Background(), "list1", "sub1")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestSend_Delivered(t *testing.T) {
	f := newFixture(t)
	s := f.init(t, Options{VERPEnabled: true})

	require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))

	require.Len(t, f.mailer.mails, 1)
	assert.Equal(t, 1, f.mailer.throttle)
	mail := f.mailer.mails[0]

	assert.Equal(t, domain.Address{Name: "News Desk", Address: "news@mail.example.com"}, mail.From)
	assert.Equal(t, domain.Address{Name: "Jane & Co", Address: "jane@example.com"}, mail.To)
	assert.Equal(t, "Hi Jane & Co", mail.Subject)
	assert.Equal(t, "reply@example.com", mail.ReplyTo)
	assert.Equal(t, "Campaign Sender", mail.XMailer)
	assert.Contains(t, mail.HTML, "<p>Hello Jane &amp; Co</p>")
	assert.Equal(t, "Hello Jane & Co", mail.Text)

	require.NotNil(t, mail.Envelope)
	assert.Equal(t, "camp1.list1.sub1@bounces.example.com", mail.Envelope.From)
	assert.Equal(t, "jane@example.com", mail.Envelope.To)
	assert.Equal(t, "camp1.list1.sub1@bounces.example.com", mail.Sender)

	fbl, _ := mail.Header("X-Fbl")
	assert.Equal(t, "camp1.list1.sub1", fbl)
	msys, _ := mail.Header("X-Msys-Api")
	assert.JSONEq(t, `{"campaign_id":"camp1.list1.sub1"}`, msys)
	smtpapi, _ := mail.Header("X-Smtpapi")
	assert.JSONEq(t, `{"unique_args":{"campaign_id":"camp1.list1.sub1"}}`, smtpapi)
	listID, _ := mail.Header("List-ID")
	assert.Equal(t, "Weekly News <list1.lists.example.org>", listID)
	assert.Equal(t, "https://lists.example.org/subscription/list1/unsubscribe/sub1", mail.ListUnsubscribe)

	require.Len(t, f.store.outcomes, 1)
	o := f.store.outcomes[0]
	assert.Equal(t, domain.StatusSubscribed, o.Status)
	assert.Equal(t, "250 2.0.0 Ok: queued as abc123", o.Response)
	assert.Equal(t, "abc123", o.ResponseID)
	assert.Equal(t, int64(1), o.CampaignID)
	assert.Equal(t, int64(2), o.ListID)
	assert.Equal(t, int64(3), o.SubscriptionID)
	assert.Equal(t, int64(5), o.SendConfigurationID)
	assert.Equal(t, 1, f.store.campaign.Delivered)
	assert.Equal(t, 0, f.store.campaign.Bounced)
}

func TestSend_VERPPolicy(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t)
		s := f.init(t, Options{VERPEnabled: false})
		require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))
		assert.Nil(t, f.mailer.mails[0].Envelope)
		assert.Empty(t, f.mailer.mails[0].Sender)
	})
	t.Run("no verp hostname", func(t *testing.T) {
		f := newFixture(t)
		f.store.sc.VERPHostname = ""
		s := f.init(t, Options{VERPEnabled: true})
		require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))
		assert.Nil(t, f.mailer.mails[0].Envelope)
		assert.Empty(t, f.mailer.mails[0].Sender)
	})
	t.Run("sender header disabled", func(t *testing.T) {
		f := newFixture(t)
		s := f.init(t, Options{VERPEnabled: true, VERPDisableSenderHeader: true})
		require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))
		require.NotNil(t, f.mailer.mails[0].Envelope)
		assert.Equal(t, "camp1.list1.sub1@bounces.example.com", f.mailer.mails[0].Envelope.From)
		assert.Empty(t, f.mailer.mails[0].Sender)
	})
}

func TestSend_OverridesRequireOverridable(t *testing.T) {
	f := newFixture(t)
	f.store.campaign.FromNameOverride = strptr("Campaign Name")
	f.store.campaign.FromEmailOverride = strptr("campaign@example.com")
	f.store.sc.FromEmailOverridable = true
	f.store.sc.SubjectOverridable = false
	s := f.init(t, Options{})

	require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))
	mail := f.mailer.mails[0]
	assert.Equal(t, "News Desk", mail.From.Name)
	assert.Equal(t, "campaign@example.com", mail.From.Address)
	assert.Equal(t, "Default subject", mail.Subject)
}

func TestSend_Blacklisted(t *testing.T) {
	f := newFixture(t)
	f.blacklist["jane@example.com"] = true
	s := f.init(t, Options{})

	require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))
	assert.Empty(t, f.mailer.mails)
	assert.Empty(t, f.store.outcomes)
	assert.Equal(t, 0, f.store.campaign.Delivered)
}

func TestSend_Bounced(t *testing.T) {
	f := newFixture(t)
	f.mailer.info = nil
	f.mailer.err = &domain.TransportError{Response: "550 rejected", Err: errBoom}
	s := f.init(t, Options{})

	require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))

	require.Len(t, f.store.outcomes, 1)
	o := f.store.outcomes[0]
	assert.Equal(t, domain.StatusBounced, o.Status)
	assert.Equal(t, "550 rejected", o.Response)
	assert.Equal(t, "rejected", o.ResponseID)
	assert.Equal(t, 1, f.store.campaign.Delivered)
	assert.Equal(t, 1, f.store.campaign.Bounced)
}

func TestSend_ConnectionErrorIsBounce(t *testing.T) {
	f := newFixture(t)
	f.mailer.info = nil
	f.mailer.err = errors.New("dial tcp 10.0.0.1:25: connection refused")
	s := f.init(t, Options{})

	require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))
	o := f.store.outcomes[0]
	assert.Equal(t, domain.StatusBounced, o.Status)
	assert.Equal(t, "dial tcp 10.0.0.1:25: connection refused", o.Response)
	assert.Equal(t, "refused", o.ResponseID)
}

func TestSend_MessageIDWithoutResponse(t *testing.T) {
	f := newFixture(t)
	f.mailer.info = &domain.SendInfo{MessageID: "abc123"}
	s := f.init(t, Options{})

	require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))
	assert.Equal(t, "abc123", f.store.outcomes[0].Response)
	assert.Equal(t, "abc123", f.store.outcomes[0].ResponseID)
}

func TestSend_PersistenceError(t *testing.T) {
	f := newFixture(t)
	f.store.recordErr = errBoom
	s := f.init(t, Options{})

	err := s.Send(context.Background(), 2, "jane@example.com")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, errBoom)
	assert.Len(t, f.mailer.mails, 1)
}

func TestSend_RecordsAfterCancel(t *testing.T) {
	f := newFixture(t)
	s := f.init(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	f.deps.Mailers = MailerPoolFunc(func(context.Context, *domain.SendConfiguration) (Mailer, error) {
		return cancelingMailer{fakeMailer: f.mailer, cancel: cancel}, nil
	})
	s.deps.Mailers = f.deps.Mailers

	require.NoError(t, s.Send(ctx, 2, "jane@example.com"))
	assert.Len(t, f.store.outcomes, 1)
}

type cancelingMailer struct {
	*fakeMailer
	cancel context.CancelFunc
}

func (m cancelingMailer) SendMassMail(ctx context.Context, mail *domain.Mail) (*domain.SendInfo, error) {
	m.cancel()
	return m.fakeMailer.SendMassMail(ctx, mail)
}

func TestSend_UnknownList(t *testing.T) {
	f := newFixture(t)
	s := f.init(t, Options{})

	err := s.Send(context.Background(), 77, "jane@example.com")
	assert.ErrorIs(t, err, ErrUnknownList)
	assert.Empty(t, f.mailer.mails)
}

func TestSend_UnsubscribeHeader(t *testing.T) {
	t.Run("disabled by list", func(t *testing.T) {
		f := newFixture(t)
		f.store.lists[2].ListUnsubscribeDisabled = true
		s := f.init(t, Options{})
		require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))
		assert.Empty(t, f.mailer.mails[0].ListUnsubscribe)
	})
	t.Run("campaign template", func(t *testing.T) {
		f := newFixture(t)
		f.store.campaign.UnsubscribeURL = "https://prefs.example.com/u?s={{ SUBSCRIPTION_ID }}&e={{ EMAIL | urlencode }}"
		s := f.init(t, Options{})
		require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))
		assert.Equal(t, "https://prefs.example.com/u?s=sub1&e=jane%40example.com", f.mailer.mails[0].ListUnsubscribe)
	})
}

func TestSend_TextDerivedFromHTML(t *testing.T) {
	f := newFixture(t)
	f.store.campaign.Source = domain.CustomSource{
		SourceKind: domain.SourceCustomFromCampaign,
		HTML:       `<p>Hello {{ FIRST_NAME }}</p>`,
		Text:       "   ",
	}
	s := f.init(t, Options{})

	require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))
	assert.Equal(t, "Hello Jane & Co", strings.TrimSpace(f.mailer.mails[0].Text))
}

func TestSend_TemplateSource(t *testing.T) {
	f := newFixture(t)
	f.store.campaign.Source = domain.TemplateSource{TemplateID: 8}
	f.store.templates[8] = &domain.Template{ID: 8, HTML: "<b>[FIRST_NAME/Friend]</b>", Text: "Dear [FIRST_NAME/Friend]"}
	s := f.init(t, Options{})

	require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))
	assert.Equal(t, "<b>Jane &amp; Co</b>", f.mailer.mails[0].HTML)
	assert.Equal(t, "Dear Jane & Co", f.mailer.mails[0].Text)
}

var clickRe = regexp.MustCompile(`href="https://lists\.example\.org/links/click/([^/"]+)/([^/"]+)"`)

func TestSend_TrackedLinksArePersonalized(t *testing.T) {
	f := newFixture(t)
	f.store.campaign.ClickTrackingDisabled = false
	f.store.campaign.OpenTrackingDisabled = false
	f.store.campaign.Source = domain.CustomSource{
		SourceKind: domain.SourceCustom,
		HTML: `<html><body><a href="https://shop.example.com/?e=[EMAIL]">a</a>` +
			`<a href="https://shop.example.com/p?e={{ EMAIL }}&amp;s={{ SUBSCRIPTION_ID }}">b</a></body></html>`,
		Text: "shop",
	}
	s := f.init(t, Options{})

	require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))
	html := f.mailer.mails[0].HTML
	assert.NotContains(t, html, "shop.example.com")
	assert.Contains(t, html, "/links/open/")

	verifier, err := mailing.NewLinkService("https://lists.example.org/", "secret")
	require.NoError(t, err)

	matches := clickRe.FindAllStringSubmatch(html, -1)
	require.Len(t, matches, 2)
	var targets []string
	for _, m := range matches {
		_, _, sub, target, err := verifier.VerifyClick(m[1], m[2])
		require.NoError(t, err)
		assert.Equal(t, "sub1", sub)
		targets = append(targets, target)
	}
	assert.Equal(t, []string{
		"https://shop.example.com/?e=jane@example.com",
		"https://shop.example.com/p?e=jane@example.com&s=sub1",
	}, targets)
}

func TestSend_EncryptionKeys(t *testing.T) {
	f := newFixture(t)
	f.store.subs[2][0].Values["custom_pgp_2"] = "  -----BEGIN PGP PUBLIC KEY BLOCK-----  "
	s := f.init(t, Options{})

	require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))
	assert.Equal(t, []string{"-----BEGIN PGP PUBLIC KEY BLOCK-----"}, f.mailer.mails[0].EncryptionKeys)
}

func TestSend_InlineImagesDoNotLeakBetweenRecipients(t *testing.T) {
	f := newFixture(t)
	f.store.files = []domain.File{{ID: 1, Filename: "f0a1", OriginalName: "terms.pdf"}}
	f.store.campaign.Source = domain.CustomSource{
		SourceKind: domain.SourceCustom,
		HTML:       `<p><img alt="logo" src="data:image/png;base64,iVBORw0KGgo="></p>`,
		Text:       "logo",
	}
	f.store.subs[2] = append(f.store.subs[2], &domain.Subscriber{ID: 4, CID: "sub2", Email: "joe@example.com"})
	s := f.init(t, Options{})

	require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))
	require.NoError(t, s.Send(context.Background(), 2, "joe@example.com"))

	require.Len(t, f.mailer.mails, 2)
	for i, mail := range f.mailer.mails {
		require.Len(t, mail.Attachments, 2, "mail %d", i)
		assert.Equal(t, "terms.pdf", mail.Attachments[0].Filename)
		inline := mail.Attachments[1]
		assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", inline.Path)
		assert.Equal(t, fmt.Sprintf("id%d-attachments@mail.example.com", i+1), inline.CID)
		assert.Contains(t, mail.HTML, `src="cid:`+inline.CID+`"`)
	}
	assert.Equal(t, 1, s.attachments.Len())
}

func TestSend_URLSource(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		io.WriteString(w, "<p>Remote for {{ FIRST_NAME }}</p>")
	}))
	defer srv.Close()

	f := newFixture(t)
	f.store.campaign.Source = domain.URLSource{URL: srv.URL}
	s := f.init(t, Options{})

	require.NoError(t, s.Send(context.Background(), 2, "jane@example.com"))

	assert.Equal(t, "https://lists.example.org/subscription/list1/unsubscribe/sub1", form.Get("LINK_UNSUBSCRIBE"))
	assert.Equal(t, "camp1", form.Get("CAMPAIGN_ID"))
	assert.Equal(t, "Jane & Co", form.Get("FIRST_NAME"))
	assert.Equal(t, "jane@example.com", form.Get("EMAIL"))

	mail := f.mailer.mails[0]
	assert.Equal(t, "<p>Remote for {{ FIRST_NAME }}</p>", mail.HTML, "remote content is not tag-rendered")
	assert.Contains(t, mail.Text, "Remote for")
}

func TestSend_URLSourceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newFixture(t)
	f.store.campaign.Source = domain.URLSource{URL: srv.URL}
	s := f.init(t, Options{})

	err := s.Send(context.Background(), 2, "jane@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContentFetch)
	assert.Contains(t, err.Error(), "502")
	assert.Empty(t, f.mailer.mails)
	assert.Empty(t, f.store.outcomes)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	f.store.campaign.Source = domain.CustomSource{
		SourceKind: domain.SourceCustom,
		HTML:       `<p>Hi {{ FIRST_NAME }} <img src="data:image/gif;base64,R0lGOD=="></p>`,
	}
	s := f.init(t, Options{})

	first, err := s.Preview(context.Background(), "list1", "sub1")
	require.NoError(t, err)
	second, err := s.Preview(context.Background(), "list1", "sub1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, first.HTML, `src="data:image/gif;base64,R0lGOD=="`)
	assert.Contains(t, first.HTML, "Hi Jane &amp; Co")
	assert.NotEmpty(t, first.Text)
	assert.Empty(t, first.Attachments)
	assert.Empty(t, f.mailer.mails)
	assert.Empty(t, f.store.outcomes)
}

func TestPreview_UnknownListAndSubscriber(t *testing.T) {
	f := newFixture(t)
	s := f.init(t, Options{})

	_, err := s.Preview(context.Background(), "nope", "sub1")
	assert.ErrorIs(t, err, ErrUnknownList)

	_, err = s.Preview(context.Background(), "list1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOutcomeOf(t *testing.T) {
	status, resp := outcomeOf(nil, &domain.TransportError{Err: errBoom})
	assert.Equal(t, domain.StatusBounced, status)
	assert.Equal(t, "boom", resp)

	status, resp = outcomeOf(nil, nil)
	assert.Equal(t, domain.StatusSubscribed, status)
	assert.Empty(t, resp)
}
