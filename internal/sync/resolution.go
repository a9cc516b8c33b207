package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"clinic-sync-service/internal/localdb"
	"clinic-sync-service/internal/logger"
	"clinic-sync-service/internal/store"
)

// Resolver applies a human's choice to a flagged conflict: the chosen
// snapshot wins on both sides, the inbox entry is marked resolved and the
// originating write log entries advance to synced.
type Resolver struct {
	db      *localdb.Database
	store   store.Store
	remote  Remote
	tracker *Tracker
}

func NewResolver(db *localdb.Database, st store.Store, remote Remote, tracker *Tracker) *Resolver {
	return &Resolver{db: db, store: st, remote: remote, tracker: tracker}
}

// Resolve settles one conflict with the given choice ("local" or "remote")
// on behalf of resolvedBy.
func (r *Resolver) Resolve(ctx context.Context, conflictID int64, choice, resolvedBy string) error {
	if choice != store.ResolutionLocal && choice != store.ResolutionRemote {
		return fmt.Errorf("invalid resolution choice %q", choice)
	}

	conflict, err := r.store.GetConflict(ctx, conflictID)
	if err != nil {
		return fmt.Errorf("failed to load conflict: %w", err)
	}
	if conflict == nil {
		return fmt.Errorf("conflict %d not found", conflictID)
	}
	if conflict.Resolved {
		return fmt.Errorf("conflict %d is already resolved", conflictID)
	}

	snapshot := conflict.LocalVersion
	if choice == store.ResolutionRemote {
		snapshot = conflict.RemoteVersion
	}

	var winner map[string]interface{}
	if err := json.Unmarshal(snapshot, &winner); err != nil {
		return fmt.Errorf("corrupt conflict snapshot: %w", err)
	}

	if err := r.remote.Update(ctx, conflict.TableName, conflict.RecordID, winner); err != nil {
		return fmt.Errorf("failed to apply resolution remotely: %w", err)
	}

	if err := r.applyLocally(ctx, conflict.TableName, conflict.RecordID, winner); err != nil {
		return fmt.Errorf("failed to apply resolution locally: %w", err)
	}

	if err := r.store.ResolveConflict(ctx, conflictID, choice, resolvedBy); err != nil {
		return fmt.Errorf("failed to mark conflict resolved: %w", err)
	}

	if err := r.releaseQueueEntries(ctx, conflict.TableName, conflict.RecordID); err != nil {
		return err
	}

	r.refreshCounts(ctx)

	logger.Log.Info("Conflict resolved",
		zap.Int64("conflict_id", conflictID),
		zap.String("choice", choice),
		zap.String("resolved_by", resolvedBy),
	)
	return nil
}

func (r *Resolver) applyLocally(ctx context.Context, table, recordID string, winner map[string]interface{}) error {
	var sets []string
	var args []interface{}
	for _, col := range sortedKeys(winner) {
		if col == "id" {
			continue
		}
		sets = append(sets, col+" = ?")
		args = append(args, normalizeValue(winner[col]))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, recordID)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", "))

	_, err := r.db.Execute(ctx, query, args...)
	return err
}

// releaseQueueEntries advances the record's frozen conflict entries to
// synced so they leave the actionable pool for good.
func (r *Resolver) releaseQueueEntries(ctx context.Context, table, recordID string) error {
	query := `UPDATE sync_queue
			  SET status = 'synced', synced_at = strftime('%s', 'now')
			  WHERE table_name = ? AND record_id = ? AND status = 'conflict'`

	if _, err := r.db.Execute(ctx, query, table, recordID); err != nil {
		return fmt.Errorf("failed to release write log entries: %w", err)
	}
	return nil
}

func (r *Resolver) refreshCounts(ctx context.Context) {
	if count, err := r.store.CountUnresolvedConflicts(ctx); err == nil {
		r.tracker.SetConflictsCount(count)
		if count == 0 && r.tracker.Snapshot().SyncStatus == StatusConflict {
			r.tracker.SetStatus(StatusIdle)
		}
	}
	if count, err := r.store.CountActionable(ctx); err == nil {
		r.tracker.SetPendingCount(count)
	}
}
