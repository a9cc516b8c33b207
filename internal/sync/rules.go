package sync

import (
	"fmt"

	"clinic-sync-service/internal/config"
)

// Strategy decides how a single conflicting field is reconciled.
type Strategy string

const (
	PreferLocal   Strategy = "prefer_local"
	PreferRemote  Strategy = "prefer_remote"
	PreferRecent  Strategy = "prefer_recent"
	FlagForReview Strategy = "flag_for_review"
)

// Rules is the static per-table, per-field strategy lookup. It is loaded once
// at startup and never mutated afterwards. Fields without a registered rule
// fall back to FlagForReview: an unknown field is never auto-resolved.
type Rules struct {
	tables map[string]map[string]Strategy
}

// NewRules builds the lookup from configuration, validating strategy names.
func NewRules(tables []config.TableConfig) (*Rules, error) {
	r := &Rules{tables: make(map[string]map[string]Strategy, len(tables))}

	for _, t := range tables {
		fields := make(map[string]Strategy, len(t.ConflictRules))
		for field, raw := range t.ConflictRules {
			s := Strategy(raw)
			switch s {
			case PreferLocal, PreferRemote, PreferRecent, FlagForReview:
				fields[field] = s
			default:
				return nil, fmt.Errorf("unknown conflict strategy %q for %s.%s", raw, t.Name, field)
			}
		}
		r.tables[t.Name] = fields
	}

	return r, nil
}

// Strategy returns the rule for one field, defaulting to FlagForReview.
func (r *Rules) Strategy(tableName, fieldName string) Strategy {
	if fields, ok := r.tables[tableName]; ok {
		if s, ok := fields[fieldName]; ok {
			return s
		}
	}
	return FlagForReview
}

// DefaultRules returns the shipped clinical rule set, used when the config
// does not override it.
func DefaultRules() *Rules {
	r, _ := NewRules([]config.TableConfig{
		{
			Name: "patients",
			ConflictRules: map[string]string{
				"surname":                 "flag_for_review",
				"other_names":             "flag_for_review",
				"phone":                   "prefer_remote",
				"email":                   "prefer_local",
				"address":                 "prefer_recent",
				"date_of_birth":           "flag_for_review",
				"gender":                  "flag_for_review",
				"civil_state":             "prefer_recent",
				"occupation":              "prefer_recent",
				"place_of_work":           "prefer_recent",
				"tribe_nationality":       "prefer_recent",
				"religion":                "prefer_recent",
				"next_of_kin":             "prefer_recent",
				"relationship_to_patient": "prefer_recent",
				"address_next_of_kin":     "prefer_recent",
			},
		},
		{
			Name: "inpatient_records",
			ConflictRules: map[string]string{
				"unit_number":       "prefer_remote",
				"ward":              "prefer_remote",
				"consultant_id":     "prefer_remote",
				"code_no":           "prefer_remote",
				"prov_diagnosis":    "flag_for_review",
				"final_diagnosis":   "flag_for_review",
				"date_of_discharge": "prefer_recent",
			},
		},
		{
			Name: "outpatient_visits",
			ConflictRules: map[string]string{
				"history":   "prefer_recent",
				"diagnosis": "flag_for_review",
				"treatment": "flag_for_review",
				"notes":     "prefer_recent",
			},
		},
		{
			Name: "operations",
			ConflictRules: map[string]string{
				"operation_name": "flag_for_review",
				"operation_date": "prefer_recent",
				"doctor_id":      "prefer_remote",
				"notes":          "prefer_recent",
			},
		},
	})
	return r
}
