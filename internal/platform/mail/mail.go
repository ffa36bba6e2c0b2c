// Package mail delivers account emails.
package mail

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"account_backend/internal/feature/account/usecase"
)

const (
	ProviderSES = "ses"
	ProviderLog = "log"
)

// Config selects and configures the mail provider.
type Config struct {
	Provider string `env:"MAIL_PROVIDER" envDefault:"log"`
	From     string `env:"MAIL_FROM" envDefault:"no-reply@localhost"`
}

// sesAPI is the subset of the SES v2 client used here.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier sends HTML mail through Amazon SES v2.
type SESNotifier struct {
	client sesAPI
	from   string
}

var _ usecase.Notifier = (*SESNotifier)(nil)

// NewSESNotifier creates an SESNotifier from an AWS configuration.
func NewSESNotifier(cfg aws.Config, from string) *SESNotifier {
	return newSESNotifier(sesv2.NewFromConfig(cfg), from)
}

func newSESNotifier(client sesAPI, from string) *SESNotifier {
	return &SESNotifier{client: client, from: from}
}

// Send delivers one message and returns the provider status code.
// A successful send reports 200. Failures report the HTTP status of the
// SES response when one was received, and 0 otherwise.
func (n *SESNotifier) Send(ctx context.Context, recipient, subject, htmlBody string) (int, error) {
	out, err := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination:      &types.Destination{ToAddresses: []string{recipient}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			slog.Warn("ses send failed", "code", apiErr.ErrorCode(), "message", apiErr.ErrorMessage())
		}
		return statusOf(err), err
	}

	slog.Debug("ses send ok", "message_id", aws.ToString(out.MessageId))
	return http.StatusOK, nil
}

// statusOf extracts the HTTP status code carried by an AWS SDK error.
func statusOf(err error) int {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

// LogNotifier logs the envelope of each message instead of sending it.
// The body carries confirmation tokens and is never logged.
// Only allowed when APP_ENV is development.
type LogNotifier struct {
	logger *slog.Logger
}

var _ usecase.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, recipient, subject, htmlBody string) (int, error) {
	n.logger.InfoContext(ctx, "mail (not sent)", "to", recipient, "subject", subject, "body_bytes", len(htmlBody))
	return http.StatusOK, nil
}
