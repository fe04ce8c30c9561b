package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/resync/internal/ingestion"
	"github.com/connexus-ai/resync/internal/middleware"
	"github.com/connexus-ai/resync/internal/model"
)

// ChunkerIngestor is the capability set Ingest drives: optionally fetch text
// from a staged source, split it into chunks, then embed and upsert them
// (spec §4.7-4.8).
type ChunkerIngestor interface {
	Chunk(text, docTitle string, strategy ingestion.Strategy) ([]model.Chunk, error)
	Ingest(ctx context.Context, documentID string, chunks []model.Chunk) error
	FetchText(ctx context.Context, sourceURI string) (text string, findingCount int, err error)
}

type ingestRequest struct {
	Title     string `json:"title"`
	Text      string `json:"text"`
	SourceURI string `json:"sourceUri,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
}

// Ingest handles POST /api/ingest: chunks and indexes a piece of TWS
// documentation. Runs the pipeline in the background and returns 202
// immediately, mirroring the async document-processing pattern.
func Ingest(pipeline ChunkerIngestor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}

		findingCount := 0
		if req.Text == "" && req.SourceURI != "" {
			text, n, err := pipeline.FetchText(r.Context(), req.SourceURI)
			if err != nil {
				respondJSON(w, http.StatusBadGateway, envelope{Success: false, Error: "failed to fetch source document"})
				return
			}
			req.Text = text
			findingCount = n
		}
		if req.Text == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "text or sourceUri is required"})
			return
		}

		strategy := ingestion.Strategy(req.Strategy)
		if strategy == "" {
			strategy = ingestion.StrategyTWSOptimized
		}

		chunks, err := pipeline.Chunk(req.Text, req.Title, strategy)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: err.Error()})
			return
		}

		documentID := uuid.NewString()
		go func(id string, chunks []model.Chunk) {
			ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
			defer cancel()
			if err := pipeline.Ingest(ctx, id, chunks); err != nil {
				log.Printf("ingest: pipeline failed for document %s: %v", id, err)
			}
		}(documentID, chunks)

		respondJSON(w, http.StatusAccepted, envelope{
			Success: true,
			Data: map[string]interface{}{
				"documentId":  documentID,
				"chunkCount":  len(chunks),
				"piiFindings": findingCount,
				"status":      "processing",
			},
		})
	}
}
