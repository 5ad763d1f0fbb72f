package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// TaskTypeDispatch is the asynq task type carrying notification payloads.
const TaskTypeDispatch = "notify:dispatch"

// AsynqDispatcher enqueues notifications onto the job queue.
type AsynqDispatcher struct {
	client *asynq.Client
}

// NewAsynqDispatcher constructs a queue-backed dispatcher.
func NewAsynqDispatcher(client *asynq.Client) *AsynqDispatcher {
	return &AsynqDispatcher{client: client}
}

// Dispatch enqueues the notification. The human-readable amount is rendered
// here so downstream templates never do money arithmetic.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, n Notification) error {
	if n.Meta == nil {
		n.Meta = make(map[string]string)
	}
	n.Meta["amount_display"] = FormatAmount(n.AmountCents, n.Currency)

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}
	task := asynq.NewTask(TaskTypeDispatch, payload)
	if _, err := d.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	return nil
}

// FormatAmount renders integer cents as a localized currency string,
// e.g. 125000 USD -> "USD 1,250.00". Unknown currency codes fall back to a
// plain decimal rendering.
func FormatAmount(amountCents int64, code string) string {
	printer := message.NewPrinter(language.English)
	unit, err := currency.ParseISO(code)
	if err != nil {
		return printer.Sprintf("%s %.2f", code, float64(amountCents)/100)
	}
	return printer.Sprintf("%v %.2f", unit, float64(amountCents)/100)
}
