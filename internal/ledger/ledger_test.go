package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightctl/internal/db"
	"github.com/dokzlo13/lightctl/internal/ensure"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func failedRecord(opID string) ensure.OperationRecord {
	return ensure.OperationRecord{
		Result: ensure.OperationResult{
			OperationID:     opID,
			Code:            ensure.ResultFailed,
			Message:         "Failed after 3 attempts. Remaining: light.b",
			Attempts:        3,
			TotalDevices:    2,
			FailedDeviceIDs: []string{"light.b"},
			Elapsed:         6 * time.Second,
			Verified:        true,
		},
		State:   ensure.StateOn,
		Targets: []string{"group.kitchen"},
		Source:  "api",
	}
}

func TestRecordOperation(t *testing.T) {
	l := openTestLedger(t)

	require.NoError(t, l.RecordOperation(failedRecord("op-1")))

	entries, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, EventOperationFailed, e.EventType)
	assert.Equal(t, "op-1", e.OperationID)
	assert.Equal(t, "failed", e.Result)
	assert.Equal(t, "api", e.Source)
	assert.Equal(t, "on", e.Payload["state"])
	assert.Equal(t, []any{"light.b"}, e.Payload["failed_lights"])
	assert.Equal(t, float64(3), e.Payload["attempts"])
}

func TestRecordOperation_DuplicateIsIgnored(t *testing.T) {
	l := openTestLedger(t)

	require.NoError(t, l.RecordOperation(failedRecord("op-1")))
	require.NoError(t, l.RecordOperation(failedRecord("op-1")))
	require.NoError(t, l.RecordOperation(failedRecord("op-2")))

	entries, err := l.GetByType(EventOperationFailed, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDeleteOlderThan(t *testing.T) {
	l := openTestLedger(t)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	require.NoError(t, l.Append(EventOperationSucceeded, "lua", "old", "success", nil))

	l.now = func() time.Time { return base.Add(40 * 24 * time.Hour) }
	require.NoError(t, l.Append(EventOperationSucceeded, "lua", "new", "success", nil))

	deleted, err := l.DeleteOlderThan(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].OperationID)
}

func TestGetByTimeRange(t *testing.T) {
	l := openTestLedger(t)

	base := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Hour)
		l.now = func() time.Time { return at }
		require.NoError(t, l.Append(EventOperationFailed, "", id, "failed", nil))
	}

	entries, err := l.GetByTimeRange(base.Add(30*time.Minute), base.Add(3*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].OperationID)
	assert.Equal(t, "b", entries[1].OperationID)
}

func TestEventTypeFor(t *testing.T) {
	assert.Equal(t, EventOperationSucceeded, EventTypeFor(ensure.OperationResult{Success: true}))
	assert.Equal(t, EventOperationFailed, EventTypeFor(ensure.OperationResult{Code: ensure.ResultTimeout}))
}
