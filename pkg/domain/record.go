// Package domain defines the entities and persistence contracts shared by the
// facilitycore service and its storage backends.
package domain

import (
	"strings"
	"time"
)

// Record is the named field set associated with one facility code. Fields map
// display names to string values; an absent field means "not yet entered".
type Record struct {
	Code      string            `json:"code"`
	Fields    map[string]string `json:"fields"`
	RowIndex  int               `json:"row_index"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	UpdatedBy string            `json:"updated_by,omitempty"`
}

// CloneRecord returns a deep copy so callers cannot mutate stored state.
func CloneRecord(r Record) Record {
	cp := r
	if r.Fields != nil {
		cp.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			cp.Fields[k] = v
		}
	}
	return cp
}

// Field returns the value stored under name, or the empty string.
func (r Record) Field(name string) string {
	return r.Fields[name]
}

// IsReservedField reports whether a field key is reserved for internal use.
// Keys with a leading underscore (such as the CSV row marker) never take part
// in merges or audit diffs.
func IsReservedField(name string) bool {
	return strings.HasPrefix(name, "_")
}

// MergeOutcome summarizes what a field merge changed.
type MergeOutcome struct {
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

// MergeFields applies updates onto fields in place. An empty or
// whitespace-only new value clears an existing non-empty field (a removal); a
// differing non-empty value overwrites (an update); an equal value is a
// no-op. Reserved keys are ignored.
func MergeFields(fields map[string]string, updates map[string]string) MergeOutcome {
	var out MergeOutcome
	for key, value := range updates {
		if IsReservedField(key) {
			continue
		}
		old := fields[key]
		if strings.TrimSpace(value) == "" {
			if old != "" {
				delete(fields, key)
				out.Removed++
			}
			continue
		}
		if value != old {
			fields[key] = value
			out.Updated++
		}
	}
	return out
}
