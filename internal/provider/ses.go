package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// sesAPI is the subset of the SES v2 client used by this provider.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// SES implements the Provider interface on the AWS SES v2 SDK.
type SES struct {
	client sesAPI
	from   string
	region string
}

// NewSES creates an AWS SES provider with static credentials.
func NewSES(ctx context.Context, cfg Config) (*SES, error) {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("ses: loading AWS config: %w", err)
	}

	return &SES{
		client: sesv2.NewFromConfig(awsCfg),
		from:   cfg.Sender(),
		region: cfg.Region,
	}, nil
}

func (s *SES) Name() string { return "ses" }

// Send delivers a message via the SES v2 SendEmail API.
func (s *SES) Send(ctx context.Context, msg *Message) (*DeliveryResult, error) {
	body := types.Body{}
	if msg.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.Recipient},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    &body,
			},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, classifySESError(err)
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}
	return &DeliveryResult{
		ProviderMessageID: messageID,
		Timestamp:         time.Now(),
		Metadata:          map[string]string{"region": s.region},
	}, nil
}

// HealthCheck verifies SES connectivity by calling GetAccount.
func (s *SES) HealthCheck(ctx context.Context) error {
	if _, err := s.client.GetAccount(ctx, &sesv2.GetAccountInput{}); err != nil {
		return fmt.Errorf("ses: health check: %w", err)
	}
	return nil
}

// classifySESError maps SDK error types onto the permanent/transient split.
func classifySESError(err error) *Error {
	pe := &Error{Provider: "ses", Message: err.Error()}

	var rejected *types.MessageRejected
	var suspended *types.SendingPausedException
	var notFound *types.NotFoundException
	var badRequest *types.BadRequestException
	switch {
	case errors.As(err, &rejected), errors.As(err, &notFound), errors.As(err, &badRequest):
		pe.Permanent = true
	case errors.As(err, &suspended):
		// Sending can be re-enabled; treat as transient.
		pe.Permanent = false
	}

	return pe
}
