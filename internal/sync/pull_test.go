package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinic-sync-service/internal/localdb"
	"clinic-sync-service/internal/store"
)

type pullFixture struct {
	db      *localdb.Database
	store   *store.SQLiteStore
	remote  *fakeRemote
	net     *fakeNet
	tracker *Tracker
	puller  *Puller
}

func newPullFixture(t *testing.T) *pullFixture {
	t.Helper()

	db, st := newTestStore(t)
	remote := newFakeRemote()
	net := &fakeNet{online: true}
	tracker := NewTracker()

	puller := NewPuller(db, st, remote, NewDetector(DefaultRules()), tracker, net, []string{"patients"}, 50)

	return &pullFixture{db: db, store: st, remote: remote, net: net, tracker: tracker, puller: puller}
}

func (f *pullFixture) insertPatient(t *testing.T, id, surname, phone string, version int, updatedAt string) {
	t.Helper()
	_, err := f.db.Execute(context.Background(),
		`INSERT INTO patients (id, surname, other_names, date_of_birth, gender, phone, version, updated_at)
		 VALUES (?, ?, 'Test', '1990-01-01', 'female', ?, ?, ?)`,
		id, surname, phone, version, updatedAt)
	require.NoError(t, err)
}

func (f *pullFixture) patient(t *testing.T, id string) map[string]interface{} {
	t.Helper()
	row, err := f.db.QueryOne(context.Background(), `SELECT * FROM patients WHERE id = ?`, id)
	require.NoError(t, err)
	return row
}

func remotePatient(id, surname, phone string, version int, updatedAt string) map[string]interface{} {
	return map[string]interface{}{
		"id":            id,
		"surname":       surname,
		"other_names":   "Test",
		"date_of_birth": "1990-01-01",
		"gender":        "female",
		"phone":         phone,
		"version":       float64(version),
		"updated_at":    updatedAt,
	}
}

func TestPull_InsertsNewRecordAndAdvancesWatermark(t *testing.T) {
	f := newPullFixture(t)
	ctx := context.Background()

	f.remote.updatedSince["patients"] = []map[string]interface{}{
		remotePatient("p1", "Adeyemi", "0801", 1, "2024-03-02T10:00:00Z"),
		remotePatient("p2", "Bello", "0802", 1, "2024-03-03T08:00:00Z"),
	}

	require.NoError(t, f.puller.PullAll(ctx))

	row := f.patient(t, "p1")
	require.NotNil(t, row)
	assert.Equal(t, "Adeyemi", row["surname"])

	mark, err := f.store.LastPullSync(ctx, "patients")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-03T08:00:00Z", mark)

	snap := f.tracker.Snapshot()
	assert.Equal(t, StatusSynced, snap.SyncStatus)
	assert.False(t, snap.LastSyncTime.IsZero())
}

func TestPull_SkipsRecordsWithPendingLocalWrites(t *testing.T) {
	f := newPullFixture(t)
	ctx := context.Background()

	f.insertPatient(t, "p1", "LocalEdit", "0801", 2, "2024-03-02T09:00:00Z")
	queueID, err := f.store.Enqueue(ctx, "patients", "p1", store.OpUpdate,
		map[string]interface{}{"id": "p1", "surname": "LocalEdit"})
	require.NoError(t, err)

	f.remote.updatedSince["patients"] = []map[string]interface{}{
		remotePatient("p1", "RemoteEdit", "0801", 3, "2024-03-02T10:00:00Z"),
	}

	require.NoError(t, f.puller.PullAll(ctx))

	assert.Equal(t, "LocalEdit", f.patient(t, "p1")["surname"],
		"a pull must never overwrite unsynced local changes")

	t.Run("syncing entries also block the pull", func(t *testing.T) {
		require.NoError(t, f.store.MarkSyncing(ctx, []int64{queueID}))
		require.NoError(t, f.puller.PullAll(ctx))
		assert.Equal(t, "LocalEdit", f.patient(t, "p1")["surname"])
	})
}

func TestPull_EscalatesConflictWithoutApplying(t *testing.T) {
	f := newPullFixture(t)
	ctx := context.Background()

	var notified int
	f.tracker.OnConflictsDetected(func(count int) { notified = count })

	f.insertPatient(t, "p1", "Coker", "0801", 1, "2024-03-01T10:00:00Z")

	f.remote.updatedSince["patients"] = []map[string]interface{}{
		remotePatient("p1", "Okoro", "0801", 2, "2024-03-02T10:00:00Z"),
	}

	require.NoError(t, f.puller.PullAll(ctx))

	assert.Equal(t, "Coker", f.patient(t, "p1")["surname"],
		"a flagged conflict must leave the local row untouched")

	conflicts, err := f.store.ListUnresolvedConflicts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, store.ConflictTypePull, conflicts[0].ConflictType)
	assert.Equal(t, "p1", conflicts[0].RecordID)

	// Mirrored to the remote inbox as well.
	inserts := f.remote.insertCalls()
	require.Len(t, inserts, 1)
	assert.Equal(t, "sync_conflicts", inserts[0].table)

	snap := f.tracker.Snapshot()
	assert.Equal(t, StatusConflict, snap.SyncStatus)
	assert.Equal(t, 1, snap.ConflictsCount)
	assert.Equal(t, 1, notified)
}

func TestPull_ServerTouchAppliesWithoutConflict(t *testing.T) {
	f := newPullFixture(t)
	ctx := context.Background()

	f.insertPatient(t, "p1", "Adeyemi", "0801", 1, "2024-03-01T10:00:00Z")

	// Version drift with no observable field change: apply, don't escalate.
	f.remote.updatedSince["patients"] = []map[string]interface{}{
		remotePatient("p1", "Adeyemi", "0801", 3, "2024-03-02T10:00:00Z"),
	}

	require.NoError(t, f.puller.PullAll(ctx))

	row := f.patient(t, "p1")
	assert.Equal(t, int64(3), row["version"])
	assert.Equal(t, "2024-03-02T10:00:00Z", row["updated_at"])

	unresolved, err := f.store.CountUnresolvedConflicts(ctx)
	require.NoError(t, err)
	assert.Zero(t, unresolved)
	assert.Equal(t, StatusSynced, f.tracker.Snapshot().SyncStatus)
}

func TestPull_WatermarkBoundsNextFetch(t *testing.T) {
	f := newPullFixture(t)
	ctx := context.Background()

	f.remote.updatedSince["patients"] = []map[string]interface{}{
		remotePatient("p1", "Adeyemi", "0801", 1, "2024-03-02T10:00:00Z"),
	}

	require.NoError(t, f.puller.PullAll(ctx))
	require.NoError(t, f.puller.PullAll(ctx))

	// Second pass fetches nothing new: one local apply, watermark unchanged.
	mark, err := f.store.LastPullSync(ctx, "patients")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-02T10:00:00Z", mark)
}

func TestVerifyCounts(t *testing.T) {
	f := newPullFixture(t)
	ctx := context.Background()

	f.insertPatient(t, "p1", "Adeyemi", "0801", 1, "2024-03-01T10:00:00Z")
	f.insertPatient(t, "p2", "Bello", "0802", 1, "2024-03-01T11:00:00Z")
	f.remote.setRecord("patients", "p1", map[string]interface{}{"id": "p1"})

	counts, err := f.puller.VerifyCounts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)

	assert.Equal(t, "patients", counts[0].Table)
	assert.Equal(t, 2, counts[0].Local)
	assert.Equal(t, 1, counts[0].Remote)
	assert.False(t, counts[0].Match)

	f.remote.setRecord("patients", "p2", map[string]interface{}{"id": "p2"})

	counts, err = f.puller.VerifyCounts(ctx)
	require.NoError(t, err)
	assert.True(t, counts[0].Match)
}

func TestPull_OfflineIsNoOp(t *testing.T) {
	f := newPullFixture(t)
	f.net.setOnline(false)

	f.remote.updatedSince["patients"] = []map[string]interface{}{
		remotePatient("p1", "Adeyemi", "0801", 1, "2024-03-02T10:00:00Z"),
	}

	require.NoError(t, f.puller.PullAll(context.Background()))

	row, err := f.db.QueryOne(context.Background(), `SELECT * FROM patients WHERE id = ?`, "p1")
	require.NoError(t, err)
	assert.Nil(t, row)
}
