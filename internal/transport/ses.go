package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/ignite/campaign-sender/internal/domain"
	"github.com/ignite/campaign-sender/internal/pkg/logger"
)

// sesAPI is the part of the SES v2 client used for submission.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender submits raw MIME messages through AWS SES v2.
type SESSender struct {
	client sesAPI
}

// NewSESSender creates an SES sender. Without static keys the default AWS
// credential chain is used.
func NewSESSender(ctx context.Context, s domain.MailerSettings) (*SESSender, error) {
	region := s.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if s.AccessKey != "" && s.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKey, s.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SESSender{client: sesv2.NewFromConfig(cfg)}, nil
}

// Send submits msg as raw content. Feedback goes to the envelope sender so
// VERP bounce addresses keep working.
func (s *SESSender) Send(ctx context.Context, msg *Message) (*domain.SendInfo, error) {
	input := &sesv2.SendEmailInput{
		Destination:                    &types.Destination{ToAddresses: []string{msg.EnvelopeTo}},
		Content:                        &types.EmailContent{Raw: &types.RawMessage{Data: msg.Raw}},
		FeedbackForwardingEmailAddress: aws.String(msg.EnvelopeFrom),
		EmailTags:                      sesTags(msg.Tags),
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return nil, rejected(apiErr.ErrorCode()+": "+apiErr.ErrorMessage(), err)
		}
		return nil, fmt.Errorf("SES send: %w", err)
	}

	messageID := aws.ToString(out.MessageId)
	log.Printf("[SES] Sent to %s (id: %s)", logger.RedactEmail(msg.EnvelopeTo), messageID)
	return &domain.SendInfo{MessageID: messageID}, nil
}

func sesTags(tags map[string]string) []types.MessageTag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]types.MessageTag, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.MessageTag{Name: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}
