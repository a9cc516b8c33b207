package store

import (
	"context"
	"time"
)

type Store interface {
	// Write log
	Enqueue(ctx context.Context, tableName, recordID, operation string, data map[string]interface{}) (int64, error)
	ListActionable(ctx context.Context, limit int) ([]*QueueItem, error)
	MarkSyncing(ctx context.Context, ids []int64) error
	MarkStatus(ctx context.Context, id int64, status, errorMessage string) error
	IncrementRetry(ctx context.Context, id int64) error
	CountActionable(ctx context.Context) (int, error)
	CountQueueConflicts(ctx context.Context) (int, error)
	FindByRecord(ctx context.Context, tableName, recordID string) ([]*QueueItem, error)
	ClearSynced(ctx context.Context, olderThan time.Time) (int64, error)

	// Conflict inbox
	CreateConflict(ctx context.Context, conflict *Conflict) (int64, error)
	GetConflict(ctx context.Context, id int64) (*Conflict, error)
	ListUnresolvedConflicts(ctx context.Context, limit int) ([]*Conflict, error)
	ResolveConflict(ctx context.Context, id int64, choice, resolvedBy string) error
	CountUnresolvedConflicts(ctx context.Context) (int, error)

	// Pull high-water marks
	LastPullSync(ctx context.Context, tableName string) (string, error)
	SetLastPullSync(ctx context.Context, tableName, timestamp string) error
}
