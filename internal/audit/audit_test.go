package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func completeEntry() Entry {
	return Entry{
		TenantID:    1,
		ActorID:     2,
		Action:      ActionPaid,
		Entity:      "invoice",
		EntityID:    42,
		AmountCents: 5000,
		At:          time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecordRejectsIncompleteEntries(t *testing.T) {
	logger := NewLogger(nil)

	cases := map[string]func(*Entry){
		"missing tenant":    func(e *Entry) { e.TenantID = 0 },
		"missing action":    func(e *Entry) { e.Action = "" },
		"missing entity":    func(e *Entry) { e.Entity = "" },
		"missing entity id": func(e *Entry) { e.EntityID = 0 },
	}
	for name, mutate := range cases {
		entry := completeEntry()
		mutate(&entry)
		err := logger.Record(context.Background(), entry)
		require.Error(t, err, name)
		require.Contains(t, err.Error(), "audit entry requires", name)
	}
}

func TestRecordRequiresInitialisedLogger(t *testing.T) {
	var logger *Logger
	err := logger.Record(context.Background(), completeEntry())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialised")

	err = NewLogger(nil).Record(context.Background(), completeEntry())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialised")
}
