package sending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-sender/internal/domain"
	"github.com/ignite/campaign-sender/internal/metrics"
	"github.com/ignite/campaign-sender/internal/pkg/logger"
)

// recordTimeout bounds the outcome insert, which runs even when the
// caller's context was canceled during the transport call.
const recordTimeout = 30 * time.Second

// dispatch throttles, submits and records one message. Only failures
// before the transport call or of the outcome insert are returned.
func (s *CampaignSender) dispatch(ctx context.Context, mc *domain.MessageContext, mail *domain.Mail) error {
	sc := s.sendConfiguration

	mailer, err := s.deps.Mailers.Mailer(ctx, sc)
	if err != nil {
		return fmt.Errorf("mailer for send configuration %d: %w", sc.ID, err)
	}
	if err := mailer.ThrottleWait(ctx); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}

	start := time.Now()
	info, sendErr := mailer.SendMassMail(ctx, mail)
	metrics.SendDuration.WithLabelValues(string(sc.MailerType)).Observe(time.Since(start).Seconds())

	status, response := outcomeOf(info, sendErr)
	if sendErr != nil {
		logger.Warn("message bounced",
			"campaign", mc.Campaign.CID,
			"list", mc.List.CID,
			"email", mc.Subscriber.Email,
			"response", response)
	}

	outcome := &domain.Outcome{
		CampaignID:          mc.Campaign.ID,
		ListID:              mc.List.ID,
		SubscriptionID:      mc.Subscriber.ID,
		SendConfigurationID: sc.ID,
		Status:              status,
		Response:            response,
		ResponseID:          domain.ResponseID(response),
		Updated:             s.deps.Now(),
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.deps.Store.RecordOutcome(recordCtx, outcome); err != nil {
		return fmt.Errorf("%w: campaign %d subscription %d: %w", ErrPersistence, outcome.CampaignID, outcome.SubscriptionID, err)
	}

	metrics.MessagesTotal.WithLabelValues(status.String()).Inc()
	return nil
}

// outcomeOf maps a transport result to the recorded status and response.
func outcomeOf(info *domain.SendInfo, err error) (domain.SubscriptionStatus, string) {
	if err != nil {
		var te *domain.TransportError
		if errors.As(err, &te) && te.Response != "" {
			return domain.StatusBounced, te.Response
		}
		return domain.StatusBounced, err.Error()
	}
	if info == nil {
		return domain.StatusSubscribed, ""
	}
	if info.Response != "" {
		return domain.StatusSubscribed, info.Response
	}
	return domain.StatusSubscribed, info.MessageID
}
