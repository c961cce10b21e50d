// internal/transport/email.go
package transport

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"notification-outbox/internal/common/aws"
	"notification-outbox/internal/common/errors"
	"notification-outbox/internal/common/logger"
)

// Message is one rendered email ready for delivery.
type Message struct {
	ToEmail  string
	ToName   string
	Subject  string
	HTMLBody string
	TextBody string
}

// EmailSender delivers one rendered message and returns the provider's
// message id. Implementations must be safe for sequential reuse across
// worker ticks.
type EmailSender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// ==========================
// SES Sender
// ==========================

// SESSender delivers mail through AWS SES with a bounded per-send timeout.
type SESSender struct {
	client    *aws.SESClient
	fromEmail string
	fromName  string
	timeout   time.Duration
	logger    logger.Logger
}

func NewSESSender(client *aws.SESClient, fromEmail, fromName string, timeout time.Duration, log logger.Logger) *SESSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SESSender{
		client:    client,
		fromEmail: fromEmail,
		fromName:  fromName,
		timeout:   timeout,
		logger:    log.WithFields(map[string]interface{}{"component": "ses-sender"}),
	}
}

func (s *SESSender) Send(ctx context.Context, msg Message) (string, error) {
	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	source := s.fromEmail
	if s.fromName != "" {
		source = fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	}

	input := &ses.SendEmailInput{
		Source: awssdk.String(source),
		Destination: &types.Destination{
			ToAddresses: []string{msg.ToEmail},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    awssdk.String(msg.Subject),
				Charset: awssdk.String("UTF-8"),
			},
			Body: &types.Body{},
		},
	}
	if msg.HTMLBody != "" {
		input.Message.Body.Html = &types.Content{
			Data:    awssdk.String(msg.HTMLBody),
			Charset: awssdk.String("UTF-8"),
		}
	}
	if msg.TextBody != "" {
		input.Message.Body.Text = &types.Content{
			Data:    awssdk.String(msg.TextBody),
			Charset: awssdk.String("UTF-8"),
		}
	}

	output, err := s.client.SendEmail(sendCtx, input)
	if err != nil {
		s.logger.Error("SES send failed", map[string]interface{}{
			"toEmail": msg.ToEmail,
			"error":   err.Error(),
		})
		return "", errors.NewTransportSendFailedError(err)
	}

	messageID := ""
	if output.MessageId != nil {
		messageID = *output.MessageId
	}
	return messageID, nil
}

// ==========================
// Not-Configured Sender
// ==========================

// NotConfiguredSender stands in when no provider is enabled. Every send
// fails retryably, so entries back off and eventually cancel instead of the
// worker crashing on a nil client.
type NotConfiguredSender struct{}

func (NotConfiguredSender) Send(ctx context.Context, msg Message) (string, error) {
	return "", errors.NewTransportNotConfiguredError()
}
