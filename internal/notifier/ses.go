package notifier

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/girasoltours/newsletter/internal/pkg/logger"
)

// SESNotifier delivers mail through AWS SES v2.
type SESNotifier struct {
	client    *sesv2.Client
	fromName  string
	fromEmail string
	replyTo   string
}

// NewSESNotifier creates an SES notifier. The sender identity is injected
// here and applied to every message.
func NewSESNotifier(ctx context.Context, accessKey, secretKey, region, fromName, fromEmail, replyTo string) (*SESNotifier, error) {
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SESNotifier{
		client:    sesv2.NewFromConfig(cfg),
		fromName:  fromName,
		fromEmail: fromEmail,
		replyTo:   replyTo,
	}, nil
}

// Send delivers a single email through SES. Transport failures come back
// as an unsuccessful Result and feed the caller's retry budget.
func (n *SESNotifier) Send(ctx context.Context, msg *Message) (*Result, error) {
	if msg == nil || msg.To == "" {
		return nil, fmt.Errorf("notifier: message with empty recipient")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", n.fromName, n.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.TextBody != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}
	if n.replyTo != "" {
		input.ReplyToAddresses = []string{n.replyTo}
	}

	out, err := n.client.SendEmail(ctx, input)
	if err != nil {
		logger.Warn("ses send failed", "recipient", msg.To, "err", err)
		return &Result{Success: false, Reason: err.Error()}, nil
	}

	return &Result{Success: true, MessageID: aws.ToString(out.MessageId)}, nil
}
