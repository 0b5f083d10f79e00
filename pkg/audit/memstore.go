package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// QueryFilter narrows MemSink.Query.
type QueryFilter struct {
	Principal string // "" matches any principal
	StartTime *time.Time
	EndTime   *time.Time
}

// MemSink is an in-memory, hash-chained audit sink: every record is queryable
// after the fact (backing an Exporter) and chained to the previous record's
// hash for the same tamper-evidence property as JSONSink, in one place.
// Intended for tests and single-node deployments without an external log
// aggregator; production sinks would be wired behind Sink instead.
type MemSink struct {
	mu      sync.Mutex
	records []DecisionRecord
	head    string
}

func NewMemSink() *MemSink { return &MemSink{} }

func (m *MemSink) Write(ctx context.Context, rec DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := json.Marshal(struct {
		DecisionRecord
		PrevHash string `json:"prev_hash"`
	}{rec, m.head})
	if err != nil {
		return err
	}
	sum := sha256.Sum256(raw)
	m.head = hex.EncodeToString(sum[:])
	m.records = append(m.records, rec)
	return nil
}

// ChainHead returns the hash of the most recently written record, or "" if
// none have been written — included in export manifests as tamper evidence.
func (m *MemSink) ChainHead() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head
}

func (m *MemSink) Query(filter QueryFilter) []DecisionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]DecisionRecord, 0, len(m.records))
	for _, r := range m.records {
		if filter.Principal != "" && r.Principal != filter.Principal {
			continue
		}
		if filter.StartTime != nil && r.Timestamp.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && r.Timestamp.After(*filter.EndTime) {
			continue
		}
		out = append(out, r)
	}
	return out
}

var _ Sink = (*MemSink)(nil)
