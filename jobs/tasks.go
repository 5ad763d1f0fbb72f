package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/clubledger/clubledger/internal/billing"
	"github.com/clubledger/clubledger/internal/notify"
	"github.com/clubledger/clubledger/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReminderRun scans a tenant for overdue invoices to remind.
	TaskReminderRun = "billing:reminders"
	// TaskDuesRun generates dues invoices for a tenant and period.
	TaskDuesRun = "billing:dues"
)

// TenantTaskPayload targets a scheduled run at one tenant.
type TenantTaskPayload struct {
	TenantID int64  `json:"tenant_id"`
	Period   string `json:"period,omitempty"`
}

// NewReminderRunTask constructs an Asynq task for a reminder run.
func NewReminderRunTask(payload TenantTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReminderRun, data), nil
}

// NewDuesRunTask constructs an Asynq task for a dues generation run.
func NewDuesRunTask(payload TenantTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDuesRun, data), nil
}

// servicePrincipal is the actor scheduled runs execute as.
func servicePrincipal(tenantID int64) shared.Principal {
	return shared.Principal{TenantID: tenantID, Roles: []shared.Role{shared.RoleService}}
}

// TenantLister enumerates tenants for all-tenant sweeps.
type TenantLister interface {
	ListTenantIDs(ctx context.Context) ([]int64, error)
}

// BillingTaskHandlers wires engine operations into Asynq handlers.
type BillingTaskHandlers struct {
	Service *billing.Service
	Tenants TenantLister
	Logger  *slog.Logger
}

// tenantsFor resolves the target tenants: an explicit id, or every tenant
// when the payload leaves it zero (the cron sweep case).
func (h *BillingTaskHandlers) tenantsFor(ctx context.Context, payload TenantTaskPayload) ([]int64, error) {
	if payload.TenantID > 0 {
		return []int64{payload.TenantID}, nil
	}
	return h.Tenants.ListTenantIDs(ctx)
}

// HandleReminderRun processes TaskReminderRun tasks.
func (h *BillingTaskHandlers) HandleReminderRun(ctx context.Context, t *asynq.Task) error {
	var payload TenantTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tenants, err := h.tenantsFor(ctx, payload)
	if err != nil {
		return err
	}
	for _, tenantID := range tenants {
		result, err := h.Service.RunReminders(ctx, servicePrincipal(tenantID))
		if err != nil {
			return err
		}
		h.Logger.Info("reminder run complete",
			slog.Int64("tenant_id", tenantID),
			slog.Int("scanned", result.Scanned),
			slog.Int("sent", result.Sent))
	}
	return nil
}

// HandleDuesRun processes TaskDuesRun tasks.
func (h *BillingTaskHandlers) HandleDuesRun(ctx context.Context, t *asynq.Task) error {
	var payload TenantTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tenants, err := h.tenantsFor(ctx, payload)
	if err != nil {
		return err
	}
	for _, tenantID := range tenants {
		result, err := h.Service.RunDuesGeneration(ctx, servicePrincipal(tenantID), billing.DuesRunRequest{Period: payload.Period})
		if err != nil {
			return err
		}
		h.Logger.Info("dues run complete",
			slog.Int64("tenant_id", tenantID),
			slog.Int("created", result.Created),
			slog.Int("skipped", result.Skipped))
	}
	return nil
}

// HandleNotificationDispatch processes notify dispatch tasks. Actual
// delivery (mail, push) belongs to the excluded notification system; the
// worker records the handoff.
func (h *BillingTaskHandlers) HandleNotificationDispatch(ctx context.Context, t *asynq.Task) error {
	var n notify.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return asynq.SkipRetry
	}
	h.Logger.Info("notification dispatched",
		slog.String("kind", string(n.Kind)),
		slog.Int64("tenant_id", n.TenantID),
		slog.Int64("member_id", n.MemberID),
		slog.Int64("invoice_id", n.InvoiceID),
		slog.String("amount", n.Meta["amount_display"]))
	return nil
}
