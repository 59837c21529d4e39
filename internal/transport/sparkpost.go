package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/ignite/campaign-sender/internal/domain"
	"github.com/ignite/campaign-sender/internal/pkg/httpretry"
	"github.com/ignite/campaign-sender/internal/pkg/logger"
)

const sparkPostBaseURL = "https://api.sparkpost.com/api/v1"

// SparkPostSender submits RFC 822 content through the SparkPost
// Transmissions API.
type SparkPostSender struct {
	apiKey  string
	baseURL string
	client  httpretry.HTTPDoer
}

// NewSparkPostSender creates a sender. Submissions are only retried on
// throttling responses, never on server errors, so a message is not sent
// twice.
func NewSparkPostSender(s domain.MailerSettings, client httpretry.HTTPDoer) *SparkPostSender {
	baseURL := strings.TrimRight(s.BaseURL, "/")
	if baseURL == "" {
		baseURL = sparkPostBaseURL
	}
	return &SparkPostSender{
		apiKey:  s.APIKey,
		baseURL: baseURL,
		client:  httpretry.NewRetryClient(client, httpretry.Options{RetryStatuses: []int{http.StatusTooManyRequests}}),
	}
}

type sparkPostTransmission struct {
	Recipients []sparkPostRecipient `json:"recipients"`
	Content    struct {
		EmailRFC822 string `json:"email_rfc822"`
	} `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReturnPath string            `json:"return_path,omitempty"`
}

type sparkPostRecipient struct {
	Address struct {
		Email string `json:"email"`
	} `json:"address"`
}

type sparkPostResponse struct {
	Results struct {
		ID            string `json:"id"`
		TotalAccepted int    `json:"total_accepted_recipients"`
		TotalRejected int    `json:"total_rejected_recipients"`
	} `json:"results"`
	Errors []struct {
		Message     string `json:"message"`
		Description string `json:"description"`
		Code        string `json:"code"`
	} `json:"errors"`
}

func (s *SparkPostSender) Send(ctx context.Context, msg *Message) (*domain.SendInfo, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("SparkPost API key not configured")
	}

	t := sparkPostTransmission{Metadata: msg.Tags, ReturnPath: msg.EnvelopeFrom}
	var r sparkPostRecipient
	r.Address.Email = msg.EnvelopeTo
	t.Recipients = []sparkPostRecipient{r}
	t.Content.EmailRFC822 = string(msg.Raw)

	payload, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/transmissions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("SparkPost request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var result sparkPostResponse
	json.Unmarshal(body, &result)

	if resp.StatusCode >= 400 {
		reason := strings.TrimSpace(string(body))
		if len(result.Errors) > 0 {
			reason = result.Errors[0].Message
			if result.Errors[0].Description != "" {
				reason += ": " + result.Errors[0].Description
			}
		}
		return nil, rejected(fmt.Sprintf("%d %s", resp.StatusCode, reason), nil)
	}
	if result.Results.TotalRejected > 0 && result.Results.TotalAccepted == 0 {
		return nil, rejected("rejected "+result.Results.ID, nil)
	}

	log.Printf("[SparkPost] Sent to %s (id: %s)", logger.RedactEmail(msg.EnvelopeTo), result.Results.ID)
	return &domain.SendInfo{MessageID: result.Results.ID}, nil
}
