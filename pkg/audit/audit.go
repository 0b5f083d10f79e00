// Package audit implements Audit & Telemetry (C10): one structured record
// per decision, fed to pluggable sinks. Recording never alters the decision
// path — sink failures are logged and swallowed (§4.10).
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/decision"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
)

// DecisionRecord is the per-authorization audit entry §4.10 enumerates.
type DecisionRecord struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Fingerprint   string            `json:"fingerprint"`
	Principal     string            `json:"principal"`
	Action        string            `json:"action"`
	Resource      string            `json:"resource"`
	ContextKeys   []string          `json:"context_keys"`
	Effect        decision.Effect   `json:"effect"`
	Explicit      bool              `json:"explicit"`
	ReasonCode    decision.ReasonCode `json:"reason_code"`
	Determining   []string          `json:"determining_policies"`
	LatencyNS     int64             `json:"latency_ns"`
	CacheHit      bool              `json:"cache_hit"`
	AssemblyHash  string            `json:"bundle_assembly_hash"`
	SchemaVersion uint64            `json:"schema_version"`
}

// Redactor decides which context keys are recorded. Record keeps only the
// keys Allow accepts; context values are never recorded.
type Redactor interface {
	Allow(key string) bool
}

// AllowAll is the permissive default: every context key is recorded.
// Callers wanting redaction (e.g. dropping "password", "token")
// supply their own Redactor to NewRecorder.
type AllowAll struct{}

func (AllowAll) Allow(string) bool { return true }

// Sink is a pluggable audit destination.
type Sink interface {
	Write(ctx context.Context, rec DecisionRecord) error
}

// Recorder builds a DecisionRecord from a decision engine result and fans it
// out to every configured Sink. Sink failures are logged, never returned —
// the decision path must never fail because audit did.
type Recorder struct {
	sinks    []Sink
	redactor Redactor
	log      *slog.Logger
}

func NewRecorder(log *slog.Logger, redactor Redactor, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	if redactor == nil {
		redactor = AllowAll{}
	}
	return &Recorder{sinks: sinks, redactor: redactor, log: log}
}

// Record builds and writes a DecisionRecord. fingerprint/assemblyHash are
// passed as opaque strings so this package never depends on pkg/cache or
// pkg/bundle — only on pkg/decision for the Decision shape itself.
func (r *Recorder) Record(ctx context.Context, fingerprint string, p hrn.HRN, action string, resource hrn.HRN, reqCtx map[string]any, d decision.Decision, latency time.Duration, cacheHit bool, assemblyHash string, schemaVersion uint64) {
	keys := make([]string, 0, len(reqCtx))
	for k := range reqCtx {
		if r.redactor.Allow(k) {
			keys = append(keys, k)
		}
	}

	determining := make([]string, 0, len(d.DeterminingPolicies))
	for _, h := range d.DeterminingPolicies {
		determining = append(determining, h.String())
	}

	rec := DecisionRecord{
		ID:            uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		Fingerprint:   fingerprint,
		Principal:     p.String(),
		Action:        action,
		Resource:      resource.String(),
		ContextKeys:   keys,
		Effect:        d.Effect,
		Explicit:      d.Explicit,
		ReasonCode:    d.ReasonCode,
		Determining:   determining,
		LatencyNS:     latency.Nanoseconds(),
		CacheHit:      cacheHit,
		AssemblyHash:  assemblyHash,
		SchemaVersion: schemaVersion,
	}

	for _, s := range r.sinks {
		if err := s.Write(ctx, rec); err != nil {
			r.log.Warn("audit: sink write failed", "error", err)
		}
	}
}

// JSONSink writes newline-delimited JSON audit records to an io.Writer,
// each line self-chained to the previous record's hash — a lightweight
// tamper-evidence scheme in the teacher's style, without a full external
// ledger.
type JSONSink struct {
	mu     sync.Mutex
	writer io.Writer
	prev   string
}

func NewJSONSink(w io.Writer) *JSONSink {
	if w == nil {
		w = os.Stdout
	}
	return &JSONSink{writer: w}
}

type chainedRecord struct {
	DecisionRecord
	PrevHash string `json:"prev_hash"`
}

func (s *JSONSink) Write(ctx context.Context, rec DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chained := chainedRecord{DecisionRecord: rec, PrevHash: s.prev}
	raw, err := json.Marshal(chained)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(raw)
	s.prev = hex.EncodeToString(sum[:])

	_, err = s.writer.Write(append(raw, '\n'))
	return err
}
