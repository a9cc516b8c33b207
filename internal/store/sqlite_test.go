package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinic-sync-service/internal/localdb"
)

func newStore(t *testing.T) (*localdb.Database, *SQLiteStore) {
	t.Helper()

	db, err := localdb.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.InitSchema(context.Background()))

	return db, NewSQLiteStore(db)
}

func TestEnqueueAndListActionable(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()

	id1, err := s.Enqueue(ctx, "patients", "p1", OpInsert, map[string]interface{}{"id": "p1", "surname": "Ade"})
	require.NoError(t, err)
	id2, err := s.Enqueue(ctx, "patients", "p2", OpUpdate, map[string]interface{}{"id": "p2"})
	require.NoError(t, err)

	items, err := s.ListActionable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// FIFO: creation order is preserved.
	assert.Equal(t, id1, items[0].ID)
	assert.Equal(t, id2, items[1].ID)
	assert.Equal(t, StatusPending, items[0].Status)
	assert.Equal(t, OpInsert, items[0].Operation)

	payload, err := items[0].Payload()
	require.NoError(t, err)
	assert.Equal(t, "Ade", payload["surname"])

	count, err := s.CountActionable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestListActionable_LimitAndStatuses(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()

	var ids []int64
	for _, rec := range []string{"p1", "p2", "p3"} {
		id, err := s.Enqueue(ctx, "patients", rec, OpInsert, map[string]interface{}{"id": rec})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.NoError(t, s.MarkStatus(ctx, ids[0], StatusFailed, "boom"))
	require.NoError(t, s.MarkStatus(ctx, ids[1], StatusSynced, ""))

	items, err := s.ListActionable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2, "only pending and failed entries are actionable")
	assert.Equal(t, StatusFailed, items[0].Status)
	assert.Equal(t, "boom", items[0].ErrorMessage.String)

	limited, err := s.ListActionable(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMarkSyncingRemovesFromActionable(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "patients", "p1", OpInsert, map[string]interface{}{"id": "p1"})
	require.NoError(t, err)

	require.NoError(t, s.MarkSyncing(ctx, []int64{id}))

	items, err := s.ListActionable(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	// But the record still counts as in-flight.
	inflight, err := s.FindByRecord(ctx, "patients", "p1")
	require.NoError(t, err)
	require.Len(t, inflight, 1)
	assert.Equal(t, StatusSyncing, inflight[0].Status)
}

func TestMarkStatus_SyncedStampsTimestamp(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "patients", "p1", OpInsert, map[string]interface{}{"id": "p1"})
	require.NoError(t, err)

	require.NoError(t, s.MarkStatus(ctx, id, StatusFailed, "network down"))

	items, err := s.ListActionable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].SyncedAt.Valid, "failed entries carry no synced_at")

	require.NoError(t, s.MarkStatus(ctx, id, StatusSynced, ""))

	inflight, err := s.FindByRecord(ctx, "patients", "p1")
	require.NoError(t, err)
	assert.Empty(t, inflight, "synced entries are no longer in flight")
}

func TestIncrementRetry(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "patients", "p1", OpInsert, map[string]interface{}{"id": "p1"})
	require.NoError(t, err)

	require.NoError(t, s.IncrementRetry(ctx, id))
	require.NoError(t, s.IncrementRetry(ctx, id))

	items, err := s.ListActionable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].RetryCount)
	assert.True(t, items[0].LastRetryAt.Valid)
}

func TestFindByRecord_ScopedToOneRecord(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, "patients", "p1", OpInsert, map[string]interface{}{"id": "p1"})
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "patients", "p1", OpUpdate, map[string]interface{}{"id": "p1"})
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "patients", "p2", OpInsert, map[string]interface{}{"id": "p2"})
	require.NoError(t, err)

	items, err := s.FindByRecord(ctx, "patients", "p1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, OpInsert, items[0].Operation)
	assert.Equal(t, OpUpdate, items[1].Operation)
}

func TestClearSynced(t *testing.T) {
	db, s := newStore(t)
	ctx := context.Background()

	keep, err := s.Enqueue(ctx, "patients", "p1", OpInsert, map[string]interface{}{"id": "p1"})
	require.NoError(t, err)
	prune, err := s.Enqueue(ctx, "patients", "p2", OpInsert, map[string]interface{}{"id": "p2"})
	require.NoError(t, err)

	require.NoError(t, s.MarkStatus(ctx, keep, StatusSynced, ""))
	require.NoError(t, s.MarkStatus(ctx, prune, StatusSynced, ""))

	// Age one entry past the retention window.
	_, err = db.Execute(ctx, `UPDATE sync_queue SET synced_at = ? WHERE id = ?`,
		time.Now().Add(-8*24*time.Hour).Unix(), prune)
	require.NoError(t, err)

	deleted, err := s.ClearSynced(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	row, err := db.QueryOne(ctx, `SELECT id FROM sync_queue WHERE id = ?`, keep)
	require.NoError(t, err)
	assert.NotNil(t, row, "recently synced entries survive the prune")
}

func TestConflictLifecycle(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()

	local, _ := json.Marshal(map[string]interface{}{"surname": "Coker"})
	remote, _ := json.Marshal(map[string]interface{}{"surname": "Okoro"})

	id, err := s.CreateConflict(ctx, &Conflict{
		TableName:     "patients",
		RecordID:      "p1",
		LocalVersion:  local,
		RemoteVersion: remote,
		ConflictType:  ConflictTypeFieldMismatch,
	})
	require.NoError(t, err)

	count, err := s.CountUnresolvedConflicts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	conflicts, err := s.ListUnresolvedConflicts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "p1", conflicts[0].RecordID)
	assert.False(t, conflicts[0].Resolved)
	assert.JSONEq(t, string(local), string(conflicts[0].LocalVersion))

	require.NoError(t, s.ResolveConflict(ctx, id, ResolutionRemote, "dr-ada"))

	count, err = s.CountUnresolvedConflicts(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	conflict, err := s.GetConflict(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.True(t, conflict.Resolved)
	assert.Equal(t, ResolutionRemote, conflict.ResolutionChoice.String)
	assert.Equal(t, "dr-ada", conflict.ResolvedBy.String)
	assert.True(t, conflict.ResolvedAt.Valid)
}

func TestGetConflict_Missing(t *testing.T) {
	_, s := newStore(t)

	conflict, err := s.GetConflict(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, conflict)
}

func TestPullSyncWatermark(t *testing.T) {
	_, s := newStore(t)
	ctx := context.Background()

	mark, err := s.LastPullSync(ctx, "patients")
	require.NoError(t, err)
	assert.Empty(t, mark, "an unseen table starts from the beginning")

	require.NoError(t, s.SetLastPullSync(ctx, "patients", "2024-03-01T10:00:00Z"))
	require.NoError(t, s.SetLastPullSync(ctx, "patients", "2024-03-02T10:00:00Z"))

	mark, err = s.LastPullSync(ctx, "patients")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-02T10:00:00Z", mark)

	// Marks are per table.
	other, err := s.LastPullSync(ctx, "operations")
	require.NoError(t, err)
	assert.Empty(t, other)
}
