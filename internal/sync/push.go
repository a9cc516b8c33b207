package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"clinic-sync-service/internal/logger"
	"clinic-sync-service/internal/store"
)

// Pusher drains the write log to the remote store. One instance per process;
// overlapping SyncAll calls are dropped, not queued.
type Pusher struct {
	store    store.Store
	remote   Remote
	detector *Detector
	tracker  *Tracker
	net      NetworkState

	sched     *retryScheduler
	running   atomic.Bool
	batchSize int
	now       func() time.Time
}

func NewPusher(st store.Store, remote Remote, detector *Detector, tracker *Tracker, net NetworkState, batchSize int) *Pusher {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Pusher{
		store:     st,
		remote:    remote,
		detector:  detector,
		tracker:   tracker,
		net:       net,
		sched:     newRetryScheduler(),
		batchSize: batchSize,
		now:       time.Now,
	}
}

// SyncAll pushes one bounded batch of actionable write log entries. With
// force set, backoff windows and the max-retry freeze are bypassed (the
// manual retry-failed action).
func (p *Pusher) SyncAll(ctx context.Context, force bool) error {
	if !p.net.IsOnline() {
		return nil
	}
	if !p.running.CompareAndSwap(false, true) {
		logger.Log.Debug("Push already running, skipping")
		return nil
	}
	defer p.running.Store(false)

	p.tracker.SetStatus(StatusSyncing)

	items, err := p.store.ListActionable(ctx, p.batchSize)
	if err != nil {
		p.tracker.SetError(fmt.Sprintf("failed to read write log: %v", err))
		return err
	}

	ready := items
	if !force {
		ready = p.filterReady(items)
	}

	if len(ready) == 0 {
		p.finishIdle(ctx)
		return nil
	}

	ids := make([]int64, len(ready))
	for i, item := range ready {
		ids[i] = item.ID
	}
	if err := p.store.MarkSyncing(ctx, ids); err != nil {
		p.tracker.SetError(fmt.Sprintf("failed to mark batch syncing: %v", err))
		return err
	}

	conflicts := 0
	for _, group := range groupByTable(ready) {
		conflicts += p.pushTableItems(ctx, group.table, group.items, force)
	}

	p.updatePendingCount(ctx)

	if conflicts > 0 {
		count, err := p.store.CountUnresolvedConflicts(ctx)
		if err != nil {
			count = conflicts
		}
		p.tracker.SetConflictsCount(count)
		p.tracker.SetStatus(StatusConflict)
		p.tracker.NotifyConflicts(count)
		logger.Log.Warn("Push pass left conflicts for review", zap.Int("conflicts", count))
		return nil
	}

	p.tracker.SetStatus(StatusSynced)
	p.tracker.SetLastSyncTime(p.now())
	p.tracker.SetError("")

	p.scheduleRemaining(ctx)
	return nil
}

// RetryFailed re-runs the push with backoff and the max-retry freeze lifted.
func (p *Pusher) RetryFailed(ctx context.Context) error {
	return p.SyncAll(ctx, true)
}

// CancelRetries drops every scheduled backoff timer.
func (p *Pusher) CancelRetries() {
	p.sched.CancelAll()
}

// filterReady splits the batch into entries whose backoff window has elapsed
// and schedules a wake-up for the rest, keyed by entry id so a rescheduled
// entry never holds two timers.
func (p *Pusher) filterReady(items []*store.QueueItem) []*store.QueueItem {
	now := p.now()
	ready := items[:0:0]

	for _, item := range items {
		if readyToRetry(item, now) {
			ready = append(ready, item)
			continue
		}

		wait := time.Unix(item.LastRetryAt.Int64, 0).Add(retryDelay(item.RetryCount)).Sub(now)
		p.sched.Schedule(item.ID, wait, func() {
			_ = p.SyncAll(context.Background(), false)
		})
	}

	return ready
}

type tableGroup struct {
	table string
	items []*store.QueueItem
}

// groupByTable buckets entries by table, preserving FIFO creation order
// within each bucket and first-seen order across buckets.
func groupByTable(items []*store.QueueItem) []tableGroup {
	index := make(map[string]int)
	var groups []tableGroup

	for _, item := range items {
		i, ok := index[item.TableName]
		if !ok {
			i = len(groups)
			index[item.TableName] = i
			groups = append(groups, tableGroup{table: item.TableName})
		}
		groups[i].items = append(groups[i].items, item)
	}

	return groups
}

// pushTableItems processes one table's entries sequentially and returns the
// number of entries escalated to the conflict inbox.
func (p *Pusher) pushTableItems(ctx context.Context, table string, items []*store.QueueItem, force bool) int {
	conflicts := 0

	for _, item := range items {
		if !force && item.RetryCount >= MaxRetryCount {
			if err := p.store.MarkStatus(ctx, item.ID, store.StatusFailed, "max retry count exceeded"); err != nil {
				logger.Log.Error("Failed to freeze exhausted entry", zap.Int64("id", item.ID), zap.Error(err))
			}
			continue
		}

		escalated, err := p.pushItem(ctx, table, item)
		if err != nil {
			if rerr := p.store.IncrementRetry(ctx, item.ID); rerr != nil {
				logger.Log.Error("Failed to increment retry count", zap.Int64("id", item.ID), zap.Error(rerr))
			}
			if serr := p.store.MarkStatus(ctx, item.ID, store.StatusFailed, err.Error()); serr != nil {
				logger.Log.Error("Failed to mark entry failed", zap.Int64("id", item.ID), zap.Error(serr))
			}
			logger.Log.Warn("Push failed",
				zap.String("table", table),
				zap.String("record", item.RecordID),
				zap.Error(err),
			)
			continue
		}

		if escalated {
			conflicts++
			continue
		}

		if err := p.store.MarkStatus(ctx, item.ID, store.StatusSynced, ""); err != nil {
			logger.Log.Error("Failed to mark entry synced", zap.Int64("id", item.ID), zap.Error(err))
		}
	}

	return conflicts
}

// pushItem pushes one entry. It returns escalated=true when the entry was
// frozen as a conflict awaiting manual review.
func (p *Pusher) pushItem(ctx context.Context, table string, item *store.QueueItem) (bool, error) {
	payload, err := item.Payload()
	if err != nil {
		return false, fmt.Errorf("corrupt queue payload: %w", err)
	}

	switch item.Operation {
	case store.OpInsert:
		return false, p.remote.Insert(ctx, table, payload)
	case store.OpUpdate:
		return p.pushUpdate(ctx, table, item, payload)
	case store.OpDelete:
		return false, p.remote.Update(ctx, table, item.RecordID, map[string]interface{}{
			"deleted_at": p.now().UTC().Format(time.RFC3339),
		})
	default:
		return false, fmt.Errorf("unknown operation %q", item.Operation)
	}
}

func (p *Pusher) pushUpdate(ctx context.Context, table string, item *store.QueueItem, local map[string]interface{}) (bool, error) {
	remoteRecord, err := p.remote.FetchByID(ctx, table, item.RecordID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch remote record: %w", err)
	}
	if remoteRecord == nil {
		// Record never reached the remote store; treat the update as the
		// initial upload.
		return false, p.remote.Insert(ctx, table, local)
	}

	conflict := p.detector.Detect(table, item.RecordID, local, remoteRecord)
	if conflict == nil {
		return false, p.remote.Update(ctx, table, item.RecordID, local)
	}

	if merged := autoResolve(conflict); merged != nil {
		logger.Log.Info("Auto-resolved conflict",
			zap.String("table", table),
			zap.String("record", item.RecordID),
			zap.Int("fields", len(conflict.ChangedFields)),
		)
		return false, p.remote.Update(ctx, table, item.RecordID, merged)
	}

	if err := p.escalate(ctx, conflict, store.ConflictTypeFieldMismatch); err != nil {
		return false, err
	}

	fields := make([]string, len(conflict.ChangedFields))
	for i, f := range conflict.ChangedFields {
		fields[i] = f.FieldName
	}
	msg := "conflict on fields: " + strings.Join(fields, ", ")

	if err := p.store.MarkStatus(ctx, item.ID, store.StatusConflict, msg); err != nil {
		return false, err
	}

	return true, nil
}

// escalate persists a conflict record locally and mirrors it to the remote
// store for cross-device visibility.
func (p *Pusher) escalate(ctx context.Context, conflict *ConflictInfo, conflictType string) error {
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
		ConflictType:  conflictType,
	}); err != nil {
		return fmt.Errorf("failed to record conflict: %w", err)
	}

	if err := p.remote.Insert(ctx, "sync_conflicts", map[string]interface{}{
		"table_name":     conflict.TableName,
		"record_id":      conflict.RecordID,
		"local_version":  conflict.Local,
		"remote_version": conflict.Remote,
		"conflict_type":  conflictType,
	}); err != nil {
		// The local inbox already has the conflict; the mirror is for
		// visibility only.
		logger.Log.Warn("Failed to mirror conflict to remote", zap.Error(err))
	}

	return nil
}

// autoResolve merges a conflict per its field strategies, or returns nil when
// any field demands review. Partial auto-resolution is never acceptable: it
// could silently discard a reviewable change.
func autoResolve(conflict *ConflictInfo) map[string]interface{} {
	merged := make(map[string]interface{}, len(conflict.Local))
	for k, v := range conflict.Local {
		merged[k] = v
	}

	localNewer := parseTimestamp(conflict.Local["updated_at"]).After(parseTimestamp(conflict.Remote["updated_at"]))

	for _, field := range conflict.ChangedFields {
		switch field.Strategy {
		case PreferLocal:
			merged[field.FieldName] = field.LocalValue
		case PreferRemote:
			merged[field.FieldName] = field.RemoteValue
		case PreferRecent:
			if localNewer {
				merged[field.FieldName] = field.LocalValue
			} else {
				merged[field.FieldName] = field.RemoteValue
			}
		case FlagForReview:
			return nil
		}
	}

	return merged
}

func (p *Pusher) finishIdle(ctx context.Context) {
	p.tracker.SetStatus(StatusSynced)
	p.tracker.SetLastSyncTime(p.now())
	p.updatePendingCount(ctx)
}

// scheduleRemaining arranges the next pass when actionable items remain:
// immediately for items ready now, via backoff timers for the rest.
func (p *Pusher) scheduleRemaining(ctx context.Context) {
	remaining, err := p.store.ListActionable(ctx, p.batchSize)
	if err != nil || len(remaining) == 0 {
		return
	}

	now := p.now()
	for _, item := range remaining {
		if item.RetryCount >= MaxRetryCount {
			continue
		}
		// Floor of one second: the single-flight guard is still held here,
		// so an instant re-trigger would be dropped.
		wait := time.Second
		if !readyToRetry(item, now) {
			wait = time.Unix(item.LastRetryAt.Int64, 0).Add(retryDelay(item.RetryCount)).Sub(now)
		}
		p.sched.Schedule(item.ID, wait, func() {
			_ = p.SyncAll(context.Background(), false)
		})
	}
}

func (p *Pusher) updatePendingCount(ctx context.Context) {
	if count, err := p.store.CountActionable(ctx); err == nil {
		p.tracker.SetPendingCount(count)
	}
}
