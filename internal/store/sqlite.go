package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"clinic-sync-service/internal/localdb"
)

// SQLiteStore persists sync state in the embedded database, sharing the
// application's single connection.
type SQLiteStore struct {
	db *localdb.Database
}

func NewSQLiteStore(db *localdb.Database) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const queueColumns = `id, table_name, record_id, operation, data, status, retry_count, last_retry_at, error_message, created_at, synced_at`

func (s *SQLiteStore) Enqueue(ctx context.Context, tableName, recordID, operation string, data map[string]interface{}) (int64, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("failed to encode queue payload: %w", err)
	}

	query := `INSERT INTO sync_queue (table_name, record_id, operation, data, status)
			  VALUES (?, ?, ?, ?, 'pending')`

	res, err := s.db.Execute(ctx, query, tableName, recordID, operation, string(payload))
	if err != nil {
		return 0, err
	}

	return res.LastInsertID, nil
}

func (s *SQLiteStore) ListActionable(ctx context.Context, limit int) ([]*QueueItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_queue
			  WHERE status IN ('pending', 'failed')
			  ORDER BY created_at ASC, id ASC
			  LIMIT ?`, queueColumns)

	rows, err := s.db.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanQueueItems(rows)
}

func (s *SQLiteStore) MarkSyncing(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := fmt.Sprintf(`UPDATE sync_queue SET status = 'syncing' WHERE id IN (%s)`, placeholders)

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.Execute(ctx, query, args...)
	return err
}

func (s *SQLiteStore) MarkStatus(ctx context.Context, id int64, status, errorMessage string) error {
	query := `UPDATE sync_queue
			  SET status = ?,
			      error_message = ?,
			      synced_at = CASE WHEN ? = 'synced' THEN strftime('%s', 'now') ELSE synced_at END
			  WHERE id = ?`

	var errMsg interface{}
	if errorMessage != "" {
		errMsg = errorMessage
	}

	_, err := s.db.Execute(ctx, query, status, errMsg, status, id)
	return err
}

func (s *SQLiteStore) IncrementRetry(ctx context.Context, id int64) error {
	query := `UPDATE sync_queue
			  SET retry_count = retry_count + 1,
			      last_retry_at = strftime('%s', 'now')
			  WHERE id = ?`

	_, err := s.db.Execute(ctx, query, id)
	return err
}

func (s *SQLiteStore) CountActionable(ctx context.Context) (int, error) {
	return s.countQueue(ctx, `SELECT COUNT(*) FROM sync_queue WHERE status IN ('pending', 'failed')`)
}

func (s *SQLiteStore) CountQueueConflicts(ctx context.Context) (int, error) {
	return s.countQueue(ctx, `SELECT COUNT(*) FROM sync_queue WHERE status = 'conflict'`)
}

func (s *SQLiteStore) countQueue(ctx context.Context, query string, args ...interface{}) (int, error) {
	var count int
	if err := s.db.DB.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// FindByRecord returns every in-flight entry for one logical record. The
// syncing status is included so a pull pass never clobbers a record a push
// pass is currently working on.
func (s *SQLiteStore) FindByRecord(ctx context.Context, tableName, recordID string) ([]*QueueItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_queue
			  WHERE table_name = ? AND record_id = ?
			  AND status IN ('pending', 'failed', 'syncing')
			  ORDER BY created_at ASC, id ASC`, queueColumns)

	rows, err := s.db.DB.QueryContext(ctx, query, tableName, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanQueueItems(rows)
}

// ClearSynced prunes synced entries older than the cutoff.
func (s *SQLiteStore) ClearSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM sync_queue WHERE status = 'synced' AND synced_at < ?`

	res, err := s.db.Execute(ctx, query, olderThan.Unix())
	if err != nil {
		return 0, err
	}
	return res.Changes, nil
}

func (s *SQLiteStore) CreateConflict(ctx context.Context, conflict *Conflict) (int64, error) {
	query := `INSERT INTO sync_conflicts (table_name, record_id, local_version, remote_version, conflict_type, resolved, timestamp)
			  VALUES (?, ?, ?, ?, ?, 0, strftime('%s', 'now'))`

	res, err := s.db.Execute(ctx, query,
		conflict.TableName,
		conflict.RecordID,
		string(conflict.LocalVersion),
		string(conflict.RemoteVersion),
		conflict.ConflictType,
	)
	if err != nil {
		return 0, err
	}

	return res.LastInsertID, nil
}

const conflictColumns = `id, table_name, record_id, local_version, remote_version, conflict_type, resolved, resolution_choice, resolved_by, resolved_at, timestamp`

func (s *SQLiteStore) GetConflict(ctx context.Context, id int64) (*Conflict, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_conflicts WHERE id = ?`, conflictColumns)

	row := s.db.DB.QueryRowContext(ctx, query, id)

	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) ListUnresolvedConflicts(ctx context.Context, limit int) ([]*Conflict, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_conflicts
			  WHERE resolved = 0
			  ORDER BY timestamp DESC
			  LIMIT ?`, conflictColumns)

	rows, err := s.db.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}

	return conflicts, rows.Err()
}

func (s *SQLiteStore) ResolveConflict(ctx context.Context, id int64, choice, resolvedBy string) error {
	query := `UPDATE sync_conflicts
			  SET resolved = 1, resolution_choice = ?, resolved_by = ?, resolved_at = strftime('%s', 'now')
			  WHERE id = ?`

	_, err := s.db.Execute(ctx, query, choice, resolvedBy, id)
	return err
}

func (s *SQLiteStore) CountUnresolvedConflicts(ctx context.Context) (int, error) {
	return s.countQueue(ctx, `SELECT COUNT(*) FROM sync_conflicts WHERE resolved = 0`)
}

func (s *SQLiteStore) LastPullSync(ctx context.Context, tableName string) (string, error) {
	var value string
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT value FROM sync_metadata WHERE key = ?`,
		pullSyncKey(tableName),
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *SQLiteStore) SetLastPullSync(ctx context.Context, tableName, timestamp string) error {
	query := `INSERT OR REPLACE INTO sync_metadata (key, value, updated_at)
			  VALUES (?, ?, strftime('%s', 'now'))`

	_, err := s.db.Execute(ctx, query, pullSyncKey(tableName), timestamp)
	return err
}

func pullSyncKey(tableName string) string {
	return "last_pull_sync_" + tableName
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var item QueueItem
	var data string
	err := row.Scan(
		&item.ID,
		&item.TableName,
		&item.RecordID,
		&item.Operation,
		&data,
		&item.Status,
		&item.RetryCount,
		&item.LastRetryAt,
		&item.ErrorMessage,
		&item.CreatedAt,
		&item.SyncedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Data = json.RawMessage(data)
	return &item, nil
}

func scanQueueItems(rows *sql.Rows) ([]*QueueItem, error) {
	var items []*QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanConflict(row rowScanner) (*Conflict, error) {
	var c Conflict
	var local, remote string
	err := row.Scan(
		&c.ID,
		&c.TableName,
		&c.RecordID,
		&local,
		&remote,
		&c.ConflictType,
		&c.Resolved,
		&c.ResolutionChoice,
		&c.ResolvedBy,
		&c.ResolvedAt,
		&c.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	c.LocalVersion = json.RawMessage(local)
	c.RemoteVersion = json.RawMessage(remote)
	return &c, nil
}
