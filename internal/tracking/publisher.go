package tracking

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type EventType string

const (
	EventOpen  EventType = "opened"
	EventClick EventType = "clicked"
)

// TrackingEvent is one open or click of a campaign message. Ids are the
// public cids of the campaign, list and subscription.
type TrackingEvent struct {
	EventType      EventType `json:"event_type"`
	CampaignID     string    `json:"campaign_id"`
	ListID         string    `json:"list_id"`
	SubscriptionID string    `json:"subscription_id"`
	LinkURL        string    `json:"link_url,omitempty"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	Timestamp      time.Time `json:"timestamp"`
}

// EventPublisher hands tracking events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, evt TrackingEvent)
}

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher sends events to an SQS queue without blocking the request.
type Publisher struct {
	client   sqsAPI
	queueURL string
	wg       sync.WaitGroup
}

func NewPublisher(client *sqs.Client, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

func (p *Publisher) Publish(_ context.Context, evt TrackingEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[Tracking] marshal event: %v", err)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			log.Printf("[Tracking] publish to SQS: %v", err)
		}
	}()
}

// Wait blocks until in-flight publishes finish.
func (p *Publisher) Wait() { p.wg.Wait() }

// LogPublisher writes events to the log. It is used when no queue is
// configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, evt TrackingEvent) {
	log.Printf("[Tracking] %s campaign=%s list=%s subscription=%s %s",
		evt.EventType, evt.CampaignID, evt.ListID, evt.SubscriptionID, evt.LinkURL)
}
