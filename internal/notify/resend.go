package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v3"
)

// ResendSender delivers messages through the Resend API.
type ResendSender struct {
	client      *resend.Client
	fromAddress string
}

// NewResendSender creates a sender. fromAddress must be verified in Resend.
func NewResendSender(apiKey, fromAddress string) *ResendSender {
	return &ResendSender{
		client:      resend.NewClient(apiKey),
		fromAddress: fromAddress,
	}
}

func (r *ResendSender) Send(_ context.Context, msg Message) error {
	params := &resend.SendEmailRequest{
		From:    r.fromAddress,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}
	if _, err := r.client.Emails.Send(params); err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}
	return nil
}
