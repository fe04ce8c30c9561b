package ingestion

import "context"

// DocumentFetcher extracts plain text from a staged document, e.g. a file
// sitting in Cloud Storage. Backed by gcpclient.TextParser or
// gcpclient.DocumentAIAdapter depending on whether the document needs OCR.
type DocumentFetcher interface {
	Extract(ctx context.Context, sourceURI string) (text string, pages int, err error)
}

// Redactor scans extracted text for PII before it's chunked and embedded.
// Non-fatal: a Redactor implementation that finds PII still returns the
// original text, it just reports how many findings it saw.
type Redactor interface {
	Scan(ctx context.Context, text string) (findingCount int, err error)
}

// Notifier publishes a document-changed event after a successful reindex so
// downstream consumers (cache warmers, mirrored search indexes) don't have to
// poll document_embeddings for changes.
type Notifier interface {
	Publish(ctx context.Context, documentID string) error
}

// SourcePipeline fetches a staged document, optionally scans it for PII, and
// hands the resulting text to the caller for chunking. fetcher/redactor are
// both optional: a zero-value SourcePipeline{} rejects FetchText calls, which
// is correct for deployments with no GCS staging bucket configured.
type SourcePipeline struct {
	fetcher  DocumentFetcher
	redactor Redactor
}

// NewSourcePipeline builds a SourcePipeline. Pass a nil redactor to skip PII
// scanning entirely.
func NewSourcePipeline(fetcher DocumentFetcher, redactor Redactor) *SourcePipeline {
	return &SourcePipeline{fetcher: fetcher, redactor: redactor}
}

// FetchText extracts text from sourceURI and runs it through the configured
// redactor. Returns the findingCount the redactor reported so callers can
// surface it in an ingest response, even though redaction never blocks
// ingestion.
func (p *SourcePipeline) FetchText(ctx context.Context, sourceURI string) (text string, findingCount int, err error) {
	if p.fetcher == nil {
		return "", 0, errNoFetcherConfigured
	}
	text, _, err = p.fetcher.Extract(ctx, sourceURI)
	if err != nil {
		return "", 0, err
	}
	if p.redactor != nil {
		if n, rerr := p.redactor.Scan(ctx, text); rerr == nil {
			findingCount = n
		}
	}
	return text, findingCount, nil
}

var errNoFetcherConfigured = fetchErr("ingestion.SourcePipeline: no document fetcher configured for this deployment")

type fetchErr string

func (e fetchErr) Error() string { return string(e) }
