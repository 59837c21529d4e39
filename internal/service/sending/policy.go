package sending

import (
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"github.com/ignite/campaign-sender/internal/domain"
)

// overridable returns the campaign override when the send configuration
// allows it and the campaign sets one.
func overridable(allowed bool, override *string, def string) string {
	if allowed && override != nil {
		return *override
	}
	return def
}

// campaignAddress is the VERP local part identifying one recipient of one
// campaign on one list.
func campaignAddress(mc *domain.MessageContext) string {
	return strings.Join([]string{mc.Campaign.CID, mc.List.CID, mc.Subscriber.CID}, ".")
}

// unsubscribeURL returns the List-Unsubscribe target, or "" when the list
// disables the header.
func (s *CampaignSender) unsubscribeURL(mc *domain.MessageContext) (string, error) {
	if mc.List.ListUnsubscribeDisabled {
		return "", nil
	}
	if mc.Campaign.UnsubscribeURL != "" {
		return s.deps.Formatter.Format(mc, mc.Campaign.UnsubscribeURL, false)
	}
	return s.deps.URLs.PublicURL("/subscription/" + mc.List.CID + "/unsubscribe/" + mc.Subscriber.CID), nil
}

func (s *CampaignSender) providerHeaders(mc *domain.MessageContext, address string) ([]domain.Header, error) {
	msys, err := json.Marshal(map[string]string{"campaign_id": address})
	if err != nil {
		return nil, err
	}
	smtpapi, err := json.Marshal(map[string]any{"unique_args": map[string]string{"campaign_id": address}})
	if err != nil {
		return nil, err
	}

	listID := mime.QEncoding.Encode("utf-8", mc.List.Name) + " <" + mc.List.CID + "." + s.deps.URLs.PublicHost() + ">"

	return []domain.Header{
		{Name: "X-Fbl", Value: address},
		// SparkPost
		{Name: "X-Msys-Api", Value: string(msys)},
		// SendGrid
		{Name: "X-Smtpapi", Value: string(smtpapi)},
		// Mailgun
		{Name: "X-Mailgun-Variables", Value: string(msys)},
		{Name: "List-ID", Value: listID, Prepared: true},
	}, nil
}

// assemble applies the delivery policy to a rendered message.
func (s *CampaignSender) assemble(mc *domain.MessageContext, msg *domain.RenderedMessage) (*domain.Mail, error) {
	sc := s.sendConfiguration
	c := mc.Campaign

	subject, err := s.deps.Formatter.Format(mc, overridable(sc.SubjectOverridable, c.SubjectOverride, sc.Subject), false)
	if err != nil {
		return nil, fmt.Errorf("format subject: %w", err)
	}
	toName, err := s.deps.Formatter.Format(mc, mc.List.ToName, false)
	if err != nil {
		return nil, fmt.Errorf("format recipient name: %w", err)
	}
	unsubscribe, err := s.unsubscribeURL(mc)
	if err != nil {
		return nil, fmt.Errorf("format unsubscribe url: %w", err)
	}

	address := campaignAddress(mc)
	headers, err := s.providerHeaders(mc, address)
	if err != nil {
		return nil, fmt.Errorf("provider headers: %w", err)
	}

	mail := &domain.Mail{
		From: domain.Address{
			Name:    overridable(sc.FromNameOverridable, c.FromNameOverride, sc.FromName),
			Address: overridable(sc.FromEmailOverridable, c.FromEmailOverride, sc.FromEmail),
		},
		ReplyTo:         overridable(sc.ReplyToOverridable, c.ReplyToOverride, sc.ReplyTo),
		XMailer:         sc.XMailer,
		To:              domain.Address{Name: toName, Address: mc.Subscriber.Email},
		Headers:         headers,
		ListUnsubscribe: unsubscribe,
		Subject:         subject,
		HTML:            msg.HTML,
		Text:            msg.Text,
		Attachments:     msg.Attachments,
		EncryptionKeys:  domain.EncryptionKeys(s.fieldsByList[mc.List.ID], mc.MergeTags),
		Tags: map[string]string{
			"campaign":     c.CID,
			"list":         mc.List.CID,
			"subscription": mc.Subscriber.CID,
		},
	}

	if s.useVERP {
		verp := address + "@" + sc.VERPHostname
		mail.Envelope = &domain.Envelope{From: verp, To: mc.Subscriber.Email}
		if s.useVERPSenderHeader {
			mail.Sender = verp
		}
	}
	return mail, nil
}
