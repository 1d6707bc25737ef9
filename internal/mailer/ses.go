package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/foxzi/mailtrack/internal/config"
	"github.com/foxzi/mailtrack/internal/email"
)

// sesAPI is the part of the SES v2 client the sender uses
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers messages through AWS SES
type SESSender struct {
	client sesAPI
	from   string
	logger *slog.Logger
}

// NewSESSender creates an SES sender. Static credentials are used when both
// keys are set, otherwise the default AWS credential chain applies.
func NewSESSender(ctx context.Context, cfg config.SESConfig, logger *slog.Logger) (*SESSender, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newSESSender(sesv2.NewFromConfig(awsCfg), cfg.From, logger), nil
}

func newSESSender(client sesAPI, from string, logger *slog.Logger) *SESSender {
	return &SESSender{client: client, from: from, logger: logger}
}

// Driver returns the driver name
func (s *SESSender) Driver() string {
	return config.DriverSES
}

// Send delivers one message through SES
func (s *SESSender) Send(ctx context.Context, msg *Message) error {
	to, err := email.ValidateAddress(msg.To)
	if err != nil {
		return permanent(err, "invalid recipient: %v", err)
	}
	from := msg.From
	if from == "" {
		from = s.from
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Warn("SES delivery failed", "to", to, "error", err)
		return categorizeSESError(err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	s.logger.Info("message sent via SES", "to", to, "message_id", messageID)
	return nil
}

// categorizeSESError treats server faults and throttling as temporary
func categorizeSESError(err error) *DispatchError {
	de := &DispatchError{
		Temporary: true,
		Message:   fmt.Sprintf("SES SendEmail failed: %v", err),
		Err:       err,
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "LimitExceededException", "ThrottlingException":
			return de
		}
		de.Temporary = apiErr.ErrorFault() == smithy.FaultServer
	}
	return de
}
