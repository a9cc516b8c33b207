package sync

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"clinic-sync-service/internal/localdb"
	"clinic-sync-service/internal/store"
)

func newTestStore(t *testing.T) (*localdb.Database, *store.SQLiteStore) {
	t.Helper()

	db, err := localdb.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.InitSchema(context.Background()))

	return db, store.NewSQLiteStore(db)
}

type remoteCall struct {
	table string
	id    string
	data  map[string]interface{}
}

// fakeRemote is an in-memory stand-in for the cloud data service. Error
// fields inject failures; insertEntered/insertGate let a test hold an Insert
// call open to exercise the single-flight guard.
type fakeRemote struct {
	mu           sync.Mutex
	records      map[string]map[string]map[string]interface{}
	updatedSince map[string][]map[string]interface{}
	inserts      []remoteCall
	updates      []remoteCall

	insertErr error
	updateErr error
	fetchErr  error

	insertEntered chan struct{}
	insertGate    chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records:      make(map[string]map[string]map[string]interface{}),
		updatedSince: make(map[string][]map[string]interface{}),
	}
}

func (f *fakeRemote) setRecord(table, id string, record map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[table] == nil {
		f.records[table] = make(map[string]map[string]interface{})
	}
	f.records[table][id] = record
}

func (f *fakeRemote) FetchByID(ctx context.Context, table, id string) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if byID, ok := f.records[table]; ok {
		if record, ok := byID[id]; ok {
			return record, nil
		}
	}
	return nil, nil
}

func (f *fakeRemote) FetchUpdatedSince(ctx context.Context, table, since string, limit int) ([]map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []map[string]interface{}
	for _, record := range f.updatedSince[table] {
		if ts, ok := record["updated_at"].(string); ok && since != "" && ts <= since {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (f *fakeRemote) Insert(ctx context.Context, table string, record map[string]interface{}) error {
	if f.insertEntered != nil {
		f.insertEntered <- struct{}{}
	}
	if f.insertGate != nil {
		<-f.insertGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserts = append(f.inserts, remoteCall{table: table, id: fmt.Sprint(record["id"]), data: record})
	return nil
}

func (f *fakeRemote) CountExact(ctx context.Context, table string, filters map[string]string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return 0, f.fetchErr
	}
	return len(f.records[table]), nil
}

func (f *fakeRemote) Update(ctx context.Context, table, id string, data map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, remoteCall{table: table, id: id, data: data})
	return nil
}

func (f *fakeRemote) insertCalls() []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remoteCall{}, f.inserts...)
}

func (f *fakeRemote) updateCalls() []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remoteCall{}, f.updates...)
}

type fakeNet struct {
	mu     sync.Mutex
	online bool
}

func (f *fakeNet) IsOnline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeNet) setOnline(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = online
}
