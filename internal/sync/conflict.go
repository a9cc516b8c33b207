package sync

import (
	"reflect"
	"sort"
	"time"
)

// System-managed fields are never conflict candidates. They are written by
// the stores themselves (timestamps, version counters, audit columns) and
// diverge on every round trip.
var systemFields = map[string]struct{}{
	"id":         {},
	"created_at": {},
	"created_by": {},
	"updated_at": {},
	"updated_by": {},
	"deleted_at": {},
	"version":    {},
	"synced_at":  {},
}

// FieldConflict is one field in contention plus the rule that governs it.
type FieldConflict struct {
	FieldName   string      `json:"field_name"`
	LocalValue  interface{} `json:"local_value"`
	RemoteValue interface{} `json:"remote_value"`
	Strategy    Strategy    `json:"strategy"`
}

// ConflictInfo carries the exact fields in contention between a local and a
// remote snapshot, never a blanket "record differs" signal.
type ConflictInfo struct {
	TableName      string                 `json:"table_name"`
	RecordID       string                 `json:"record_id"`
	Local          map[string]interface{} `json:"local"`
	Remote         map[string]interface{} `json:"remote"`
	ChangedFields  []FieldConflict        `json:"changed_fields"`
	RequiresReview bool                   `json:"requires_review"`
}

// Detector compares record snapshots using the version counter as a cheap
// gate and the rule table to classify each differing field.
type Detector struct {
	rules *Rules
}

func NewDetector(rules *Rules) *Detector {
	return &Detector{rules: rules}
}

// Detect returns nil when the snapshots do not diverge. Equal versions
// short-circuit; differing versions still require at least one observable
// field change, so a server-side touch never fabricates a conflict.
func (d *Detector) Detect(tableName, recordID string, local, remote map[string]interface{}) *ConflictInfo {
	if versionsEqual(local["version"], remote["version"]) {
		return nil
	}

	changed := d.findChangedFields(tableName, local, remote)
	if len(changed) == 0 {
		return nil
	}

	requiresReview := false
	for _, f := range changed {
		if f.Strategy == FlagForReview {
			requiresReview = true
			break
		}
	}

	return &ConflictInfo{
		TableName:      tableName,
		RecordID:       recordID,
		Local:          local,
		Remote:         remote,
		ChangedFields:  changed,
		RequiresReview: requiresReview,
	}
}

func (d *Detector) findChangedFields(tableName string, local, remote map[string]interface{}) []FieldConflict {
	fields := make([]string, 0, len(local))
	for field := range local {
		if _, ignored := systemFields[field]; ignored {
			continue
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var conflicts []FieldConflict
	for _, field := range fields {
		localValue := local[field]
		remoteValue := remote[field]

		if valuesEqual(localValue, remoteValue) {
			continue
		}

		conflicts = append(conflicts, FieldConflict{
			FieldName:   field,
			LocalValue:  localValue,
			RemoteValue: remoteValue,
			Strategy:    d.rules.Strategy(tableName, field),
		})
	}

	return conflicts
}

func versionsEqual(local, remote interface{}) bool {
	lv, lok := asInt64(local)
	rv, rok := asInt64(remote)
	if !lok || !rok {
		// Missing or malformed versions cannot prove equality; fall through
		// to the field diff.
		return false
	}
	return lv == rv
}

// valuesEqual compares field values across storage boundaries: the local
// store yields int64/float64/string, the remote JSON decoder yields float64.
func valuesEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}

	if an, aok := asFloat64(a); aok {
		if bn, bok := asFloat64(b); bok {
			return an == bn
		}
		return false
	}

	return reflect.DeepEqual(a, b)
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// parseTimestamp parses a server timestamp defensively: unparsable or missing
// values collapse to the epoch so prefer_recent falls back to the other side.
func parseTimestamp(v interface{}) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Unix(0, 0)
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Unix(0, 0)
}
