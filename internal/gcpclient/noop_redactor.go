package gcpclient

import (
	"context"
	"log/slog"
)

// Finding is a single PII match a scan surfaced.
type Finding struct {
	InfoType   string
	Likelihood string
	Quote      string
}

// ScanResult is the outcome of a PII scan over ingested text.
type ScanResult struct {
	Findings     []Finding
	FindingCount int
	Types        []string
}

// NoopRedactor is a placeholder PII scanner. PII scanning is non-fatal in the
// ingestion pipeline, so this is safe to run when Cloud DLP isn't configured.
type NoopRedactor struct{}

// NewNoopRedactor creates a NoopRedactor.
func NewNoopRedactor() *NoopRedactor {
	return &NoopRedactor{}
}

// Scan always returns an empty ScanResult with no findings.
func (r *NoopRedactor) Scan(ctx context.Context, text string) (*ScanResult, error) {
	slog.Info("PII scanning skipped", "reason", "noop_redactor")
	return &ScanResult{
		Findings:     nil,
		FindingCount: 0,
		Types:        nil,
	}, nil
}
