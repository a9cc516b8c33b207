package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"clinic-sync-service/internal/localdb"
	"clinic-sync-service/internal/logger"
	"clinic-sync-service/internal/store"
)

// Puller merges remote changes into the local store, table by table, from a
// per-table high-water mark. Records with pending local writes are skipped:
// precedence is resolved at push time against the freshest remote state, so a
// pull must never overwrite data the user changed but has not yet synced.
type Puller struct {
	db       *localdb.Database
	store    store.Store
	remote   Remote
	detector *Detector
	tracker  *Tracker
	net      NetworkState

	running   atomic.Bool
	tables    []string
	batchSize int
	now       func() time.Time
}

func NewPuller(db *localdb.Database, st store.Store, remote Remote, detector *Detector, tracker *Tracker, net NetworkState, tables []string, batchSize int) *Puller {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Puller{
		db:        db,
		store:     st,
		remote:    remote,
		detector:  detector,
		tracker:   tracker,
		net:       net,
		tables:    tables,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// PullAll fetches and merges remote changes for every synchronized table.
func (p *Puller) PullAll(ctx context.Context) error {
	if !p.net.IsOnline() {
		return nil
	}
	if !p.running.CompareAndSwap(false, true) {
		logger.Log.Debug("Pull already running, skipping")
		return nil
	}
	defer p.running.Store(false)

	p.tracker.SetStatus(StatusSyncing)

	total := 0
	for _, table := range p.tables {
		n, err := p.pullTable(ctx, table)
		if err != nil {
			p.tracker.SetError(fmt.Sprintf("pull failed for %s: %v", table, err))
			return fmt.Errorf("pull failed for %s: %w", table, err)
		}
		total += n
	}

	unresolved, err := p.store.CountUnresolvedConflicts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count conflicts: %w", err)
	}

	if unresolved > 0 {
		p.tracker.SetConflictsCount(unresolved)
		p.tracker.SetStatus(StatusConflict)
		p.tracker.NotifyConflicts(unresolved)
		return nil
	}

	p.tracker.SetStatus(StatusSynced)
	p.tracker.SetLastSyncTime(p.now())
	if total > 0 {
		logger.Log.Info("Pull merged remote changes", zap.Int("records", total))
	}
	return nil
}

// pullTable merges one table's remote changes and returns how many records
// were applied locally.
func (p *Puller) pullTable(ctx context.Context, table string) (int, error) {
	since, err := p.store.LastPullSync(ctx, table)
	if err != nil {
		return 0, err
	}

	records, err := p.remote.FetchUpdatedSince(ctx, table, since, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	applied := 0
	var latest string

	for _, record := range records {
		if ts, ok := record["updated_at"].(string); ok && ts > latest {
			latest = ts
		}

		recordID := fmt.Sprint(record["id"])

		pending, err := p.store.FindByRecord(ctx, table, recordID)
		if err != nil {
			return applied, err
		}
		if len(pending) > 0 {
			logger.Log.Debug("Skipping pull: record has pending local writes",
				zap.String("table", table),
				zap.String("record", recordID),
			)
			continue
		}

		local, err := p.db.QueryOne(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = ?", table), recordID)
		if err != nil {
			return applied, err
		}

		if local == nil {
			if err := p.insertLocal(ctx, table, record); err != nil {
				return applied, err
			}
			applied++
			continue
		}

		conflict := p.detector.Detect(table, recordID, local, record)
		if conflict == nil {
			if err := p.updateLocal(ctx, table, recordID, record); err != nil {
				return applied, err
			}
			applied++
			continue
		}

		if err := p.escalatePullConflict(ctx, conflict); err != nil {
			return applied, err
		}
	}

	if latest != "" {
		if err := p.store.SetLastPullSync(ctx, table, latest); err != nil {
			return applied, err
		}
	}

	return applied, nil
}

func (p *Puller) insertLocal(ctx context.Context, table string, record map[string]interface{}) error {
	columns := sortedKeys(record)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	args := make([]interface{}, len(columns))
	for i, col := range columns {
		args[i] = normalizeValue(record[col])
	}

	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders)

	_, err := p.db.Execute(ctx, query, args...)
	return err
}

func (p *Puller) updateLocal(ctx context.Context, table, recordID string, record map[string]interface{}) error {
	var sets []string
	var args []interface{}
	for _, col := range sortedKeys(record) {
		if col == "id" {
			continue
		}
		sets = append(sets, col+" = ?")
		args = append(args, normalizeValue(record[col]))
	}
	args = append(args, recordID)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", "))

	_, err := p.db.Execute(ctx, query, args...)
	return err
}

func (p *Puller) escalatePullConflict(ctx context.Context, conflict *ConflictInfo) error {
	localJSON, err := json.Marshal(conflict.Local)
	if err != nil {
		return fmt.Errorf("failed to encode local snapshot: %w", err)
	}
	remoteJSON, err := json.Marshal(conflict.Remote)
	if err != nil {
		return fmt.Errorf("failed to encode remote snapshot: %w", err)
	}

	if _, err := p.store.CreateConflict(ctx, &store.Conflict{
		TableName:     conflict.TableName,
		RecordID:      conflict.RecordID,
		LocalVersion:  localJSON,
		RemoteVersion: remoteJSON,
		ConflictType:  store.ConflictTypePull,
	}); err != nil {
		return fmt.Errorf("failed to record pull conflict: %w", err)
	}

	// Mirror to the remote store so other devices can see the contention.
	if err := p.remote.Insert(ctx, "sync_conflicts", map[string]interface{}{
		"table_name":     conflict.TableName,
		"record_id":      conflict.RecordID,
		"local_version":  conflict.Local,
		"remote_version": conflict.Remote,
		"conflict_type":  store.ConflictTypePull,
	}); err != nil {
		logger.Log.Warn("Failed to mirror pull conflict to remote", zap.Error(err))
	}

	p.tracker.SetStatus(StatusConflict)

	logger.Log.Warn("Conflict detected during pull",
		zap.String("table", conflict.TableName),
		zap.String("record", conflict.RecordID),
	)
	return nil
}

// TableCount compares one table's row count on both sides. Soft-deleted rows
// exist on both sides, so totals are directly comparable.
type TableCount struct {
	Table  string `json:"table"`
	Local  int    `json:"local"`
	Remote int    `json:"remote"`
	Match  bool   `json:"match"`
}

// VerifyCounts reports local vs remote row counts for every synchronized
// table. A mismatch means records were missed, not which ones.
func (p *Puller) VerifyCounts(ctx context.Context) ([]TableCount, error) {
	counts := make([]TableCount, 0, len(p.tables))

	for _, table := range p.tables {
		row, err := p.db.QueryOne(ctx, fmt.Sprintf("SELECT COUNT(*) AS n FROM %s", table))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s locally: %w", table, err)
		}
		local := 0
		if n, ok := row["n"].(int64); ok {
			local = int(n)
		}

		remoteCount, err := p.remote.CountExact(ctx, table, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s remotely: %w", table, err)
		}

		counts = append(counts, TableCount{
			Table:  table,
			Local:  local,
			Remote: remoteCount,
			Match:  local == remoteCount,
		})
	}

	return counts, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizeValue flattens JSON values the local driver cannot bind directly.
func normalizeValue(v interface{}) interface{} {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return v
	}
}
