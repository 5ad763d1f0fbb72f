package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/clubledger/clubledger/internal/shared"
)

type fakeTenantLister struct {
	ids []int64
}

func (f *fakeTenantLister) ListTenantIDs(ctx context.Context) ([]int64, error) {
	return f.ids, nil
}

func TestTaskPayloadRoundTrip(t *testing.T) {
	task, err := NewDuesRunTask(TenantTaskPayload{TenantID: 7, Period: "2026-03"})
	require.NoError(t, err)
	require.Equal(t, TaskDuesRun, task.Type())

	var payload TenantTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, int64(7), payload.TenantID)
	require.Equal(t, "2026-03", payload.Period)

	reminder, err := NewReminderRunTask(TenantTaskPayload{})
	require.NoError(t, err)
	require.Equal(t, TaskReminderRun, reminder.Type())
}

func TestTenantsForExplicitTenant(t *testing.T) {
	h := &BillingTaskHandlers{Tenants: &fakeTenantLister{ids: []int64{1, 2, 3}}}

	tenants, err := h.tenantsFor(context.Background(), TenantTaskPayload{TenantID: 2})
	require.NoError(t, err)
	require.Equal(t, []int64{2}, tenants)
}

func TestTenantsForSweepCoversAllTenants(t *testing.T) {
	h := &BillingTaskHandlers{Tenants: &fakeTenantLister{ids: []int64{1, 2, 3}}}

	tenants, err := h.tenantsFor(context.Background(), TenantTaskPayload{})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, tenants)
}

func TestServicePrincipalCapabilities(t *testing.T) {
	p := servicePrincipal(5)
	require.Equal(t, int64(5), p.TenantID)
	require.True(t, p.Can(shared.CapGenerateInvoices))
	require.True(t, p.Can(shared.CapRunReminders))
	require.False(t, p.Can(shared.CapChargeOnBehalf))
}

func TestHandlersSkipRetryOnMalformedPayload(t *testing.T) {
	h := &BillingTaskHandlers{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	err := h.HandleDuesRun(context.Background(), asynq.NewTask(TaskDuesRun, []byte("{broken")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = h.HandleReminderRun(context.Background(), asynq.NewTask(TaskReminderRun, []byte("{broken")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = h.HandleNotificationDispatch(context.Background(), asynq.NewTask("notify:dispatch", []byte("{broken")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
