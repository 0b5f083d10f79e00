package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/audit"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/decision"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func principalHRN() hrn.HRN { return hrn.New("p", "identity", "acct1", "user", "alice") }
func resourceHRN() hrn.HRN  { return hrn.New("p", "s3", "acct1", "bucket", "photos") }

func TestJSONSink_WritesNewlineDelimitedJSON(t *testing.T) {
	var buf bytes.Buffer
	sink := audit.NewJSONSink(&buf)
	rec := audit.NewRecorder(nil, nil, sink)

	rec.Record(context.Background(), "fp1", principalHRN(), "read", resourceHRN(), map[string]any{"ip": "10.0.0.1"}, decision.Decision{Effect: decision.Allow, Explicit: true, ReasonCode: decision.ReasonExplicitPermit}, 5*time.Millisecond, false, "hash1", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "fp1", got["fingerprint"])
	assert.Equal(t, "Allow", got["effect"])
	assert.Equal(t, []any{"ip"}, got["context_keys"])
	assert.Equal(t, "", got["prev_hash"])
}

func TestJSONSink_ChainsConsecutiveRecords(t *testing.T) {
	var buf bytes.Buffer
	sink := audit.NewJSONSink(&buf)
	rec := audit.NewRecorder(nil, nil, sink)

	for i := 0; i < 2; i++ {
		rec.Record(context.Background(), "fp", principalHRN(), "read", resourceHRN(), nil, decision.Decision{Effect: decision.Allow}, 0, false, "hash", 1)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, "", first["prev_hash"])
	assert.NotEmpty(t, second["prev_hash"])
}

type redactLower struct{ deny map[string]bool }

func (r redactLower) Allow(key string) bool { return !r.deny[key] }

func TestRecorder_RedactsDeniedContextKeys(t *testing.T) {
	var buf bytes.Buffer
	sink := audit.NewJSONSink(&buf)
	rec := audit.NewRecorder(nil, redactLower{deny: map[string]bool{"password": true}}, sink)

	rec.Record(context.Background(), "fp", principalHRN(), "login", resourceHRN(), map[string]any{"password": "hunter2", "ip": "10.0.0.1"}, decision.Decision{Effect: decision.Deny}, 0, false, "hash", 1)

	var got map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got))
	keys := got["context_keys"].([]any)
	assert.Contains(t, keys, "ip")
	assert.NotContains(t, keys, "password")
}

func TestRecorder_SinkFailureDoesNotPanic(t *testing.T) {
	rec := audit.NewRecorder(nil, nil, failingSink{})
	assert.NotPanics(t, func() {
		rec.Record(context.Background(), "fp", principalHRN(), "read", resourceHRN(), nil, decision.Decision{Effect: decision.Allow}, 0, false, "hash", 1)
	})
}

type failingSink struct{}

func (failingSink) Write(ctx context.Context, rec audit.DecisionRecord) error {
	return assert.AnError
}

func TestMemSinkAndExporter_GeneratePack(t *testing.T) {
	mem := audit.NewMemSink()
	rec := audit.NewRecorder(nil, nil, mem)

	rec.Record(context.Background(), "fp1", principalHRN(), "read", resourceHRN(), nil, decision.Decision{Effect: decision.Allow}, 0, false, "hash1", 1)
	rec.Record(context.Background(), "fp2", principalHRN(), "write", resourceHRN(), nil, decision.Decision{Effect: decision.Deny}, 0, false, "hash1", 1)

	exporter := audit.NewExporter(mem)
	zipBytes, checksum, err := exporter.GeneratePack(context.Background(), audit.ExportRequest{Principal: principalHRN().String()})
	require.NoError(t, err)
	assert.NotEmpty(t, zipBytes)
	assert.Len(t, checksum, 64)
}

func TestExporter_RejectsEmptyPrincipal(t *testing.T) {
	exporter := audit.NewExporter(audit.NewMemSink())
	_, _, err := exporter.GeneratePack(context.Background(), audit.ExportRequest{})
	assert.ErrorIs(t, err, audit.ErrEmptyPrincipal)
}

func TestExporter_RejectsInvertedTimeRange(t *testing.T) {
	exporter := audit.NewExporter(audit.NewMemSink())
	_, _, err := exporter.GeneratePack(context.Background(), audit.ExportRequest{
		Principal: "p1",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(-time.Hour),
	})
	assert.ErrorIs(t, err, audit.ErrInvalidTimeRange)
}
