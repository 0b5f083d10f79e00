package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyPrincipal is returned when the principal filter is empty.
	ErrEmptyPrincipal = errors.New("audit: principal must not be empty")
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
)

// ExportRequest defines what to export: every decision record for one
// principal within a time window.
type ExportRequest struct {
	Principal string    `json:"principal"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// EvidencePack describes an exported bundle: the principal, generation time,
// a checksum and the matching records. It has no chain-head field; the zip
// written by GeneratePack carries the chain head in its manifest.json.
type EvidencePack struct {
	Principal   string           `json:"principal"`
	GeneratedAt time.Time        `json:"generated_at"`
	Checksum    string           `json:"checksum"`
	Records     []DecisionRecord `json:"records"`
}

// Exporter packages a MemSink's matching records into a zip evidence pack.
type Exporter struct {
	sink *MemSink
}

func NewExporter(sink *MemSink) *Exporter {
	return &Exporter{sink: sink}
}

// GeneratePack creates a zip containing records.json and manifest.json, and
// returns the zip bytes plus a SHA-256 checksum over them.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	if req.Principal == "" {
		return nil, "", ErrEmptyPrincipal
	}
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}

	filter := QueryFilter{Principal: req.Principal}
	if !req.StartTime.IsZero() {
		filter.StartTime = &req.StartTime
	}
	if !req.EndTime.IsZero() {
		filter.EndTime = &req.EndTime
	}
	records := e.sink.Query(filter)

	recordsJSON, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, "", err
	}

	manifest := map[string]any{
		"principal":    req.Principal,
		"generated_at": time.Now().UTC(),
		"record_count": len(records),
		"chain_head":   e.sink.ChainHead(),
		"period": map[string]any{
			"start": req.StartTime,
			"end":   req.EndTime,
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("records.json")
	if err != nil {
		return nil, "", err
	}
	if _, err := f.Write(recordsJSON); err != nil {
		return nil, "", err
	}

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	if _, err := f.Write(manifestJSON); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	sum := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(sum[:]), nil
}
