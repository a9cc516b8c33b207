package store

import (
	"database/sql"
	"encoding/json"
)

// Write log statuses. A row moves strictly forward along
// pending → syncing → {synced | failed | conflict}; failed rows may re-enter
// syncing on retry.
const (
	StatusPending  = "pending"
	StatusSyncing  = "syncing"
	StatusSynced   = "synced"
	StatusFailed   = "failed"
	StatusConflict = "conflict"
)

// Mutation operations recorded in the write log.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Conflict types.
const (
	ConflictTypeFieldMismatch = "field_mismatch"
	ConflictTypePull          = "pull_conflict"
)

// Manual resolution choices.
const (
	ResolutionLocal  = "local"
	ResolutionRemote = "remote"
)

// QueueItem is one durable write log entry. Data holds the full record
// snapshot at enqueue time; table_name, record_id and operation are immutable
// after creation.
type QueueItem struct {
	ID           int64           `db:"id"`
	TableName    string          `db:"table_name"`
	RecordID     string          `db:"record_id"`
	Operation    string          `db:"operation"`
	Data         json.RawMessage `db:"data"`
	Status       string          `db:"status"`
	RetryCount   int             `db:"retry_count"`
	LastRetryAt  sql.NullInt64   `db:"last_retry_at"`
	ErrorMessage sql.NullString  `db:"error_message"`
	CreatedAt    int64           `db:"created_at"`
	SyncedAt     sql.NullInt64   `db:"synced_at"`
}

// Payload decodes the stored record snapshot.
func (q *QueueItem) Payload() (map[string]interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(q.Data, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// Conflict is one entry in the conflict inbox. Rows are never deleted, only
// marked resolved.
type Conflict struct {
	ID               int64           `db:"id"`
	TableName        string          `db:"table_name"`
	RecordID         string          `db:"record_id"`
	LocalVersion     json.RawMessage `db:"local_version"`
	RemoteVersion    json.RawMessage `db:"remote_version"`
	ConflictType     string          `db:"conflict_type"`
	Resolved         bool            `db:"resolved"`
	ResolutionChoice sql.NullString  `db:"resolution_choice"`
	ResolvedBy       sql.NullString  `db:"resolved_by"`
	ResolvedAt       sql.NullInt64   `db:"resolved_at"`
	Timestamp        int64           `db:"timestamp"`
}
