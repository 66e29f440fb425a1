package email

import (
	"context"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/eka-ai/billing/internal/domain/invoice"
	"github.com/eka-ai/billing/internal/domain/subscription"
	"github.com/eka-ai/billing/internal/domain/user"
	"github.com/eka-ai/billing/internal/logger"
)

// Service sends billing notifications. Every send is fire-and-forget:
// it runs on its own goroutine with a bounded retry and never blocks or
// fails the calling request.
type Service struct {
	client *Client
	logger *logger.Logger
}

func NewService(client *Client, logger *logger.Logger) *Service {
	return &Service{
		client: client,
		logger: logger,
	}
}

// sendTimeout bounds a whole send attempt cycle, retries included
const sendTimeout = 30 * time.Second

func (s *Service) dispatch(to, subject, html, text string) {
	if !s.client.IsEnabled() {
		s.logger.Debugw("email client is disabled, skipping email send",
			"to", to,
			"subject", subject,
		)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxElapsedTime = sendTimeout

		var messageID string
		err := backoff.Retry(func() error {
			var sendErr error
			messageID, sendErr = s.client.Send(ctx, to, subject, html, text)
			return sendErr
		}, backoff.WithContext(b, ctx))
		if err != nil {
			s.logger.Errorw("failed to send email",
				"error", err,
				"to", to,
				"subject", subject,
			)
			return
		}

		s.logger.Infow("email sent",
			"message_id", messageID,
			"to", to,
			"subject", subject,
		)
	}()
}

// SendInvoicePaid emails a payment receipt for a paid invoice.
func (s *Service) SendInvoicePaid(u *user.User, inv *invoice.Invoice) {
	subject := fmt.Sprintf("Payment received for invoice %s", inv.InvoiceNumber)
	text := fmt.Sprintf(
		"Hi %s,\n\nWe received your payment of %s %s for invoice %s.\n\nThank you!",
		u.Name, inv.Currency, inv.TotalAmount.StringFixed(2), inv.InvoiceNumber,
	)
	html := fmt.Sprintf(
		"<p>Hi %s,</p><p>We received your payment of <b>%s %s</b> for invoice <b>%s</b>.</p><p>Thank you!</p>",
		u.Name, inv.Currency, inv.TotalAmount.StringFixed(2), inv.InvoiceNumber,
	)
	if inv.PaymentDetails.ReceiptURL != "" {
		text += fmt.Sprintf("\n\nReceipt: %s", inv.PaymentDetails.ReceiptURL)
		html += fmt.Sprintf(`<p><a href="%s">View receipt</a></p>`, inv.PaymentDetails.ReceiptURL)
	}
	s.dispatch(u.Email, subject, html, text)
}

// SendPaymentFailed emails a dunning notice after a failed charge.
func (s *Service) SendPaymentFailed(u *user.User, inv *invoice.Invoice) {
	subject := fmt.Sprintf("Payment failed for invoice %s", inv.InvoiceNumber)
	text := fmt.Sprintf(
		"Hi %s,\n\nYour payment of %s %s for invoice %s could not be processed. Please update your payment method to keep your subscription active.",
		u.Name, inv.Currency, inv.TotalAmount.StringFixed(2), inv.InvoiceNumber,
	)
	html := fmt.Sprintf(
		"<p>Hi %s,</p><p>Your payment of <b>%s %s</b> for invoice <b>%s</b> could not be processed.</p><p>Please update your payment method to keep your subscription active.</p>",
		u.Name, inv.Currency, inv.TotalAmount.StringFixed(2), inv.InvoiceNumber,
	)
	s.dispatch(u.Email, subject, html, text)
}

// SendSubscriptionCancelled confirms a cancellation, immediate or
// scheduled for period end.
func (s *Service) SendSubscriptionCancelled(u *user.User, sub *subscription.Subscription) {
	subject := "Your subscription has been cancelled"
	var when string
	if sub.CancelAtPeriodEnd && sub.CurrentPeriodEnd != nil {
		when = fmt.Sprintf("Your %s plan stays active until %s.", sub.Plan, sub.CurrentPeriodEnd.Format("January 2, 2006"))
		subject = "Your subscription will be cancelled"
	} else {
		when = fmt.Sprintf("Your %s plan has been cancelled and you are now on the free plan.", sub.Plan)
	}
	text := fmt.Sprintf("Hi %s,\n\n%s", u.Name, when)
	html := fmt.Sprintf("<p>Hi %s,</p><p>%s</p>", u.Name, when)
	s.dispatch(u.Email, subject, html, text)
}
