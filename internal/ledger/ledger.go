// Package ledger provides an append-only history of ensure_state operations.
// Failed operations are always recorded; successful ones when requested.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightctl/internal/ensure"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventOperationSucceeded EventType = "operation_succeeded"
	EventOperationFailed    EventType = "operation_failed"
)

// EventTypeFor maps a result to its ledger event type
func EventTypeFor(res ensure.OperationResult) EventType {
	if res.Success {
		return EventOperationSucceeded
	}
	return EventOperationFailed
}

// Entry represents a single event in the ledger
type Entry struct {
	ID          int64          `json:"id"`
	EventType   EventType      `json:"event_type"`
	Timestamp   time.Time      `json:"timestamp"`
	Payload     map[string]any `json:"payload,omitempty"`
	Source      string         `json:"source,omitempty"`
	OperationID string         `json:"operation_id,omitempty"`
	Result      string         `json:"result,omitempty"`
}

// Ledger provides append-only operation logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, source, operationID, result string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	now := l.now().UTC().Unix()

	// An operation is recorded once even if its record is delivered twice
	_, err = l.db.Exec(`
		INSERT OR IGNORE INTO event_ledger (event_type, timestamp, payload, source, operation_id, result)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(eventType), now, string(payloadJSON), source, operationID, result)

	return err
}

// RecordOperation appends a finished ensure_state operation
func (l *Ledger) RecordOperation(rec ensure.OperationRecord) error {
	res := rec.Result
	payload := map[string]any{
		"state":           string(rec.State),
		"targets":         rec.Targets,
		"message":         res.Message,
		"attempts":        res.Attempts,
		"total_lights":    res.TotalDevices,
		"failed_lights":   res.FailedDeviceIDs,
		"skipped_lights":  res.SkippedDeviceIDs,
		"elapsed_seconds": res.Elapsed.Seconds(),
		"verified":        res.Verified,
	}
	return l.Append(EventTypeFor(res), rec.Source, res.OperationID, string(res.Code), payload)
}

// Recent returns the newest entries, newest first
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, operation_id, result
		FROM event_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, operation_id, result
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByTimeRange returns entries within a time range
func (l *Ledger) GetByTimeRange(start, end time.Time, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, operation_id, result
		FROM event_ledger
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, start.Unix(), end.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RunCleanup applies the retention policy every interval until ctx is done
func (l *Ledger) RunCleanup(ctx context.Context, interval time.Duration, retentionDays int) {
	retention := time.Duration(retentionDays) * 24 * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := l.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to clean up ledger")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Int("retention_days", retentionDays).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr sql.NullString
		var source, operationID, result sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &payloadStr, &source, &operationID, &result,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.Source = source.String
		entry.OperationID = operationID.String
		entry.Result = result.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
