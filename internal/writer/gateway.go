// Package writer is the single entry point application code uses to mutate
// clinical data. Every write lands in the local store and the write log
// together; remote delivery is best-effort and recoverable, so network state
// never fails a write.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clinic-sync-service/internal/localdb"
	"clinic-sync-service/internal/logger"
	"clinic-sync-service/internal/store"
)

// Operation is one requested mutation. Data carries the full record snapshot
// for inserts and updates; deletes only need the record id.
type Operation struct {
	Table     string
	RecordID  string
	Operation string
	Data      map[string]interface{}
}

// NewRecordID mints a client-side id for a record created offline.
func NewRecordID() string {
	return uuid.New().String()
}

type netState interface {
	IsOnline() bool
}

type counter interface {
	SetPendingCount(count int)
}

// Gateway writes locally, enqueues to the write log, and nudges the push
// synchronizer when online.
type Gateway struct {
	db      *localdb.Database
	store   store.Store
	net     netState
	tracker counter

	// pushTrigger fires a non-blocking push attempt; wired to the
	// coordinator at startup.
	pushTrigger func()
}

func NewGateway(db *localdb.Database, st store.Store, net netState, tracker counter, pushTrigger func()) *Gateway {
	return &Gateway{
		db:          db,
		store:       st,
		net:         net,
		tracker:     tracker,
		pushTrigger: pushTrigger,
	}
}

// ExecuteWrite applies one mutation locally and records it in the write log.
// It returns true iff both local steps succeeded; remote delivery happens
// asynchronously.
func (g *Gateway) ExecuteWrite(ctx context.Context, op Operation) bool {
	if err := g.writeLocal(ctx, op); err != nil {
		logger.Log.Error("Local write failed",
			zap.String("table", op.Table),
			zap.String("record", op.RecordID),
			zap.Error(err),
		)
		return false
	}

	if _, err := g.store.Enqueue(ctx, op.Table, op.RecordID, op.Operation, op.Data); err != nil {
		logger.Log.Error("Failed to enqueue write",
			zap.String("table", op.Table),
			zap.String("record", op.RecordID),
			zap.Error(err),
		)
		return false
	}

	g.afterWrite(ctx)
	return true
}

// ExecuteBatch applies several mutations and their write log entries in one
// local transaction, all-or-nothing.
func (g *Gateway) ExecuteBatch(ctx context.Context, ops []Operation) bool {
	if len(ops) == 0 {
		return true
	}

	var stmts []localdb.Statement
	for _, op := range ops {
		stmt, err := buildLocalStatement(op)
		if err != nil {
			logger.Log.Error("Rejecting batch", zap.Error(err))
			return false
		}
		stmts = append(stmts, stmt)

		payload, err := json.Marshal(op.Data)
		if err != nil {
			logger.Log.Error("Rejecting batch: bad payload", zap.Error(err))
			return false
		}
		stmts = append(stmts, localdb.Statement{
			SQL:  `INSERT INTO sync_queue (table_name, record_id, operation, data, status) VALUES (?, ?, ?, ?, 'pending')`,
			Args: []interface{}{op.Table, op.RecordID, op.Operation, string(payload)},
		})
	}

	if _, err := g.db.Transaction(ctx, stmts); err != nil {
		logger.Log.Error("Batch write failed", zap.Int("operations", len(ops)), zap.Error(err))
		return false
	}

	g.afterWrite(ctx)
	return true
}

func (g *Gateway) afterWrite(ctx context.Context) {
	if count, err := g.store.CountActionable(ctx); err == nil {
		g.tracker.SetPendingCount(count)
	}

	if g.net.IsOnline() && g.pushTrigger != nil {
		go g.pushTrigger()
	}
}

func (g *Gateway) writeLocal(ctx context.Context, op Operation) error {
	stmt, err := buildLocalStatement(op)
	if err != nil {
		return err
	}

	_, err = g.db.Execute(ctx, stmt.SQL, stmt.Args...)
	return err
}

func buildLocalStatement(op Operation) (localdb.Statement, error) {
	switch op.Operation {
	case store.OpInsert:
		return buildInsert(op.Table, op.Data), nil
	case store.OpUpdate:
		return buildUpdate(op.Table, op.RecordID, op.Data), nil
	case store.OpDelete:
		return buildDelete(op.Table, op.RecordID), nil
	default:
		return localdb.Statement{}, fmt.Errorf("unknown operation %q", op.Operation)
	}
}

func buildInsert(table string, data map[string]interface{}) localdb.Statement {
	columns := sortedKeys(data)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	args := make([]interface{}, len(columns))
	for i, col := range columns {
		args[i] = data[col]
	}

	return localdb.Statement{
		SQL:  fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders),
		Args: args,
	}
}

func buildUpdate(table, recordID string, data map[string]interface{}) localdb.Statement {
	columns := sortedKeys(data)

	var sets []string
	var args []interface{}
	for _, col := range columns {
		if col == "id" {
			continue
		}
		sets = append(sets, col+" = ?")
		args = append(args, data[col])
	}
	args = append(args, recordID)

	return localdb.Statement{
		SQL: fmt.Sprintf("UPDATE %s SET %s, updated_at = datetime('now') WHERE id = ? AND deleted_at IS NULL",
			table, strings.Join(sets, ", ")),
		Args: args,
	}
}

func buildDelete(table, recordID string) localdb.Statement {
	return localdb.Statement{
		SQL:  fmt.Sprintf("UPDATE %s SET deleted_at = datetime('now') WHERE id = ?", table),
		Args: []interface{}{recordID},
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
