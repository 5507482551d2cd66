package domain

import (
	"sort"
	"time"
)

// AuditAction classifies an accepted write.
type AuditAction string

const (
	// AuditCreate marks the first write to an unseen code.
	AuditCreate AuditAction = "create"
	// AuditUpdate marks a write to an existing record.
	AuditUpdate AuditAction = "update"
)

// AuditEntry is the immutable, append-only trail of one accepted write. One
// entry is produced per save, including saves that changed nothing.
type AuditEntry struct {
	Seq           uint64            `json:"seq"`
	Code          string            `json:"code"`
	Action        AuditAction       `json:"action"`
	ChangedFields []string          `json:"changed_fields"`
	Before        map[string]string `json:"before"`
	After         map[string]string `json:"after"`
	Actor         string            `json:"actor"`
	At            time.Time         `json:"at"`
}

// CloneAuditEntry returns a deep copy of an entry.
func CloneAuditEntry(e AuditEntry) AuditEntry {
	cp := e
	cp.ChangedFields = append([]string(nil), e.ChangedFields...)
	cp.Before = cloneFieldMap(e.Before)
	cp.After = cloneFieldMap(e.After)
	return cp
}

// ChangedFields computes the sorted set of field names whose string values
// differ between the before and after snapshots. A key present in one map and
// absent (or empty) in the other counts as changed; reserved keys never do.
func ChangedFields(before, after map[string]string) []string {
	changed := make(map[string]struct{})
	for key, was := range before {
		if IsReservedField(key) {
			continue
		}
		if after[key] != was {
			changed[key] = struct{}{}
		}
	}
	for key, is := range after {
		if IsReservedField(key) {
			continue
		}
		if before[key] != is {
			changed[key] = struct{}{}
		}
	}
	out := make([]string, 0, len(changed))
	for key := range changed {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func cloneFieldMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
