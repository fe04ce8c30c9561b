package retrieval

import (
	"context"
	"log/slog"

	"github.com/connexus-ai/resync/internal/model"
)

// GraphQuerier abstracts the knowledge graph so QueryRouter doesn't import
// internal/graph directly (avoids a retrieval<->graph import cycle; graph
// queries call back into retrieval for RAG context in some paths).
type GraphQuerier interface {
	DependencyChain(ctx context.Context, jobID string, maxDepth int) ([]string, error)
	ImpactAnalysis(ctx context.Context, jobID string) (model.ImpactAnalysis, error)
	ResourceConflicts(ctx context.Context, jobA, jobB string) ([]model.ResourceConflict, error)
}

// RouteResult is QueryRouter's uniform output.
type RouteResult struct {
	Documents      []ScoredChunk
	GraphData      map[string]any
	Classification RouteClassification
	Errored        bool
}

// RouteClassification summarizes the routing decision for observability.
type RouteClassification struct {
	Intent     model.Intent
	Confidence float64
	Entities   model.Entities
	UsedGraph  bool
	UsedRAG    bool
}

// QueryRouter chooses between KnowledgeGraph, HybridRetriever, or both,
// per the routing rules in spec §4.6. It never throws: any failure
// degrades first to RAG-only, then to an empty result with an error flag.
type QueryRouter struct {
	retriever *HybridRetriever
	graph     GraphQuerier
	log       *slog.Logger
}

func NewQueryRouter(retriever *HybridRetriever, graph GraphQuerier, log *slog.Logger) *QueryRouter {
	if log == nil {
		log = slog.Default()
	}
	return &QueryRouter{retriever: retriever, graph: graph, log: log}
}

var graphIntents = map[model.Intent]bool{
	model.IntentJobManagement: true,
	model.IntentMonitoring:    true,
	model.IntentAnalysis:      true,
}

var ragIntents = map[model.Intent]bool{
	model.IntentReporting: true,
	model.IntentGeneral:   true,
	model.IntentGreeting:  true,
}

// Route dispatches a query given its classified intent and entities.
func (r *QueryRouter) Route(ctx context.Context, query string, intent model.Intent, confidence float64, entities model.Entities, k int) RouteResult {
	result := RouteResult{Classification: RouteClassification{Intent: intent, Confidence: confidence, Entities: entities}}

	wantGraph := graphIntents[intent] || len(entities.Jobs) > 1
	wantRAG := ragIntents[intent]
	if !wantGraph && !wantRAG {
		// Neither map claimed this intent: spec §4.6 says "otherwise, both".
		wantGraph = true
		wantRAG = true
	}

	var graphData map[string]any
	if wantGraph && r.graph != nil && len(entities.Jobs) > 0 {
		chain, err := r.graph.DependencyChain(ctx, entities.Jobs[0], 5)
		if err != nil {
			r.log.Warn("query router: graph query failed, falling back to RAG", "error", err)
		} else {
			graphData = map[string]any{"dependency_chain": chain}
			result.Classification.UsedGraph = true
		}
	}

	if wantRAG || graphData == nil {
		docs, err := r.retriever.Retrieve(ctx, query, k, nil)
		if err != nil {
			r.log.Error("query router: RAG fallback also failed", "error", err)
			result.Errored = true
			return result
		}
		if graphData != nil {
			facts := make(map[string]string)
			if chain, ok := graphData["dependency_chain"].([]string); ok && len(chain) > 0 {
				for _, d := range docs {
					facts[d.ChunkID] = "related jobs: " + joinStrings(chain)
				}
			}
			docs = AnnotateWithGraph(docs, facts)
		}
		result.Documents = docs
		result.Classification.UsedRAG = true
	}

	result.GraphData = graphData
	return result
}

func joinStrings(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
