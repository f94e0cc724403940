// Package sendemail implements the delegate that sends the registration confirmation email.
package sendemail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/procflow/pkg/protocol"
)

// Name is the delegate name process definitions refer to.
const Name = "sendEmailDelegate"

// Template names the mail template the notifier renders.
const Template = "registration-confirmation"

var ErrMissingRecipient = errors.New("missing recipient email")

type Delegate struct {
	notifier protocol.ServiceInvoker
	endpoint string
	now      func() time.Time
}

type Option func(*Delegate)

// WithNotifier posts every email to endpoint through invoker. Without a notifier
// the email is only logged.
func WithNotifier(invoker protocol.ServiceInvoker, endpoint string) Option {
	return func(d *Delegate) {
		d.notifier = invoker
		d.endpoint = endpoint
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Delegate) {
		d.now = now
	}
}

func New(opts ...Option) *Delegate {
	d := &Delegate{now: time.Now}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Delegate) Name() string {
	return Name
}

// Execute reads userEmail, userName and confirmationToken and records emailSent
// and emailSentDate on the execution.
func (d *Delegate) Execute(ctx context.Context, execution protocol.DelegateExecution, logger *slog.Logger) error {
	email, _ := execution.Variable("userEmail")

	recipient, ok := email.(string)
	if !ok || recipient == "" {
		return ErrMissingRecipient
	}

	name, _ := execution.Variable("userName")
	token, _ := execution.Variable("confirmationToken")

	if d.notifier != nil {
		response, err := d.notifier.Invoke(ctx, protocol.ServiceRequest{
			Endpoint: d.endpoint,
			Method:   "POST",
			Payload: map[string]any{
				"to":       recipient,
				"name":     name,
				"token":    token,
				"template": Template,
			},
		})
		if err != nil {
			return fmt.Errorf("failed to send email to %s: %w", recipient, err)
		}

		if !response.Success() {
			return fmt.Errorf("failed to send email to %s: status %d", recipient, response.StatusCode)
		}
	}

	logger.InfoContext(ctx, "confirmation email sent",
		"execution_id", execution.ExecutionID(),
		"recipient", recipient)

	execution.SetVariable("emailSent", true)
	execution.SetVariable("emailSentDate", d.now())

	return nil
}
