package sending

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-sender/internal/domain"
	"github.com/ignite/campaign-sender/internal/metrics"
	"github.com/ignite/campaign-sender/internal/pkg/logger"
)

const defaultTextWrapWidth = 130

// Deps are the collaborators of a CampaignSender.
type Deps struct {
	Store     Store
	Blacklist Blacklist
	Files     FileStore
	Formatter TagFormatter
	Links     LinkRewriter
	URLs      URLBuilder
	Text      TextConverter
	HTTP      HTTPDoer
	Mailers   MailerPool

	// Now and NewContentID default to time.Now and uuid.NewString.
	Now          func() time.Time
	NewContentID func() string
}

// Options replace process-wide settings so each run is configured
// explicitly.
type Options struct {
	VERPEnabled             bool
	VERPDisableSenderHeader bool
	// TextWrapWidth is the column width of derived plain text. Zero means 130.
	TextWrapWidth int
	// ContentTimeout bounds the fetch of URL-sourced content. Zero means
	// the context deadline only.
	ContentTimeout time.Duration
}

// CampaignRef identifies the campaign to initialize. CID takes precedence
// over ID when both are set.
type CampaignRef struct {
	CID string
	ID  int64
}

func (r CampaignRef) String() string {
	if r.CID != "" {
		return "cid=" + r.CID
	}
	return fmt.Sprintf("id=%d", r.ID)
}

// CampaignSender owns one initialized campaign context and sends or
// previews messages for single recipients. After Init it is safe for
// concurrent use.
type CampaignSender struct {
	deps Deps
	opts Options

	initialized       bool
	campaign          *domain.Campaign
	sendConfiguration *domain.SendConfiguration
	listsByID         map[int64]*domain.List
	listsByCID        map[string]*domain.List
	fieldsByList      map[int64][]domain.Field
	template          *domain.Template
	attachments       domain.AttachmentSet

	useVERP             bool
	useVERPSenderHeader bool
}

// NewCampaignSender creates an uninitialized sender.
func NewCampaignSender(deps Deps, opts Options) *CampaignSender {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewContentID == nil {
		deps.NewContentID = uuid.NewString
	}
	if opts.TextWrapWidth <= 0 {
		opts.TextWrapWidth = defaultTextWrapWidth
	}
	return &CampaignSender{deps: deps, opts: opts}
}

// Init loads the campaign context in one read transaction. It must be
// called once, before any Send or Preview.
func (s *CampaignSender) Init(ctx context.Context, ref CampaignRef) error {
	listsByID := make(map[int64]*domain.List)
	listsByCID := make(map[string]*domain.List)
	fieldsByList := make(map[int64][]domain.Field)
	var (
		campaign    *domain.Campaign
		sc          *domain.SendConfiguration
		tmpl        *domain.Template
		attachments []domain.Attachment
	)

	err := s.deps.Store.Snapshot(ctx, func(tx SnapshotReader) error {
		var err error
		if ref.CID != "" {
			campaign, err = tx.CampaignByCID(ctx, ref.CID)
		} else {
			campaign, err = tx.CampaignByID(ctx, ref.ID)
		}
		if err != nil {
			return fmt.Errorf("load campaign %s: %w", ref, err)
		}

		sc, err = tx.SendConfiguration(ctx, campaign.SendConfigurationID)
		if err != nil {
			return fmt.Errorf("load send configuration %d: %w", campaign.SendConfigurationID, err)
		}

		for _, cl := range campaign.Lists {
			list, err := tx.List(ctx, cl.ListID)
			if err != nil {
				return fmt.Errorf("load list %d: %w", cl.ListID, err)
			}
			fields, err := tx.FieldsGrouped(ctx, list.ID)
			if err != nil {
				return fmt.Errorf("load fields of list %d: %w", list.ID, err)
			}
			sort.SliceStable(fields, func(i, j int) bool { return fields[i].OrderList < fields[j].OrderList })

			listsByID[list.ID] = list
			listsByCID[list.CID] = list
			fieldsByList[list.ID] = fields
		}

		if src, ok := campaign.Source.(domain.TemplateSource); ok {
			tmpl, err = tx.Template(ctx, src.TemplateID)
			if err != nil {
				return fmt.Errorf("load template %d: %w", src.TemplateID, err)
			}
		}

		files, err := tx.Attachments(ctx, campaign.ID)
		if err != nil {
			return fmt.Errorf("load attachments: %w", err)
		}
		for _, f := range files {
			attachments = append(attachments, domain.Attachment{
				Filename: f.OriginalName,
				Path:     s.deps.Files.AttachmentPath(campaign.ID, f.Filename),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.campaign = campaign
	s.sendConfiguration = sc
	s.listsByID = listsByID
	s.listsByCID = listsByCID
	s.fieldsByList = fieldsByList
	s.template = tmpl
	s.attachments = domain.NewAttachmentSet(attachments)
	s.useVERP = s.opts.VERPEnabled && sc.VERPHostname != ""
	s.useVERPSenderHeader = s.useVERP && !s.opts.VERPDisableSenderHeader
	s.initialized = true

	logger.Info("campaign sender initialized",
		"campaign", campaign.CID,
		"source", campaign.Source.Kind().String(),
		"lists", len(listsByID),
		"attachments", len(attachments),
		"verp", s.useVERP)
	return nil
}

// Campaign returns the loaded campaign.
func (s *CampaignSender) Campaign() *domain.Campaign { return s.campaign }

// SendConfiguration returns the loaded send configuration.
func (s *CampaignSender) SendConfiguration() *domain.SendConfiguration { return s.sendConfiguration }

// Lists returns the campaign lists in campaign order.
func (s *CampaignSender) Lists() []*domain.List {
	if s.campaign == nil {
		return nil
	}
	out := make([]*domain.List, 0, len(s.listsByID))
	for _, cl := range s.campaign.Lists {
		if l, ok := s.listsByID[cl.ListID]; ok {
			out = append(out, l)
		}
	}
	return out
}

// Preview renders the message of one subscriber without inline image
// extraction, dispatch or persistence.
func (s *CampaignSender) Preview(ctx context.Context, listCID, subscriberCID string) (*domain.RenderedMessage, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	list, ok := s.listsByCID[listCID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownList, listCID)
	}
	sub, err := s.deps.Store.SubscriberByCID(ctx, list.ID, subscriberCID)
	if err != nil {
		return nil, fmt.Errorf("load subscriber %s: %w", subscriberCID, err)
	}
	return s.render(ctx, s.messageContext(list, sub), false)
}

// Send runs the full pipeline for one recipient. Blacklisted addresses are
// skipped without error. Transport rejections are recorded as bounced
// outcomes and not returned.
func (s *CampaignSender) Send(ctx context.Context, listID int64, email string) error {
	if !s.initialized {
		return ErrNotInitialized
	}

	blacklisted, err := s.deps.Blacklist.IsBlacklisted(ctx, email)
	if err != nil {
		return fmt.Errorf("blacklist check: %w", err)
	}
	if blacklisted {
		metrics.BlacklistedTotal.Inc()
		logger.Debug("skipping blacklisted recipient", "email", email, "campaign", s.campaign.CID)
		return nil
	}

	list, ok := s.listsByID[listID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownList, listID)
	}
	sub, err := s.deps.Store.SubscriberByEmail(ctx, list.ID, email)
	if err != nil {
		return fmt.Errorf("load subscriber: %w", err)
	}
	mc := s.messageContext(list, sub)

	msg, err := s.render(ctx, mc, true)
	if err != nil {
		metrics.RenderFailuresTotal.Inc()
		return err
	}

	mail, err := s.assemble(mc, msg)
	if err != nil {
		metrics.RenderFailuresTotal.Inc()
		return err
	}

	return s.dispatch(ctx, mc, mail)
}

func (s *CampaignSender) messageContext(list *domain.List, sub *domain.Subscriber) *domain.MessageContext {
	return &domain.MessageContext{
		Campaign:   s.campaign,
		List:       list,
		Subscriber: sub,
		MergeTags:  domain.MergeTags(s.fieldsByList[list.ID], sub),
	}
}
