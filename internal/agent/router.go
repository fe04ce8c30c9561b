package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/resync/internal/model"
	"github.com/connexus-ai/resync/internal/tools"
)

// MaxToolSteps bounds the agentic tool-use loop (spec §4.13).
const MaxToolSteps = 8

// QuarantineThreshold is the default self-reported confidence below which
// a response is routed through AuditQueue instead of returned directly.
const QuarantineThreshold = 0.5

// Retriever is the RAG capability the rag_only route calls into when no
// RAGRouter is configured.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, filters map[string]string) (docs []RetrievedDoc, err error)
}

// RAGRouter chooses between KnowledgeGraph, Retriever, or both for a
// classified query (spec §4.6 "graph, RAG, or both"). When set, rag_only
// routing goes through this instead of calling Retriever directly, so
// intents like JOB_MANAGEMENT consult the dependency graph instead of
// text search alone. *retrieval.QueryRouter satisfies this via an adapter
// built at the composition root.
type RAGRouter interface {
	Route(ctx context.Context, query string, intent model.Intent, confidence float64, entities model.Entities, k int) (docs []RetrievedDoc, usedGraph bool, err error)
}

// RetrievedDoc is the minimal shape AgentRouter needs from a retrieval hit;
// retrieval.ScoredChunk satisfies this structurally via an adapter at the
// composition root.
type RetrievedDoc struct {
	ChunkID string
	Content string
	Score   float64
}

// AuditEnqueuer is the capability AgentRouter uses to quarantine
// low-confidence responses pending human review.
type AuditEnqueuer interface {
	Add(ctx context.Context, record model.MemoryRecord) (bool, error)
}

// toolProposal is what the LLM returns when asked to pick the next tool
// call in the agentic loop.
type toolProposal struct {
	Tool       string         `json:"tool"`
	Params     map[string]any `json:"params"`
	Terminal   bool           `json:"terminal"`
	Response   string         `json:"response"`
	Confidence float64        `json:"confidence"`
}

// AgentRouter dispatches a classified message to rag_only, agentic, or
// diagnostic handling and quarantines low-confidence output (spec §4.13).
type AgentRouter struct {
	classifier *IntentClassifier
	retriever  Retriever
	ragRouter  RAGRouter
	llm        LLMCompleter
	executor   *tools.ToolExecutor
	audit      AuditEnqueuer
	diagnostic *DiagnosticGraph
	threshold  float64
	log        *slog.Logger
}

func NewAgentRouter(classifier *IntentClassifier, retriever Retriever, llm LLMCompleter, executor *tools.ToolExecutor, audit AuditEnqueuer, diagnostic *DiagnosticGraph, log *slog.Logger) *AgentRouter {
	if log == nil {
		log = slog.Default()
	}
	return &AgentRouter{
		classifier: classifier,
		retriever:  retriever,
		llm:        llm,
		executor:   executor,
		audit:      audit,
		diagnostic: diagnostic,
		threshold:  QuarantineThreshold,
		log:        log,
	}
}

// WithRAGRouter attaches a RAGRouter so rag_only routing consults the
// knowledge graph per spec §4.6 instead of calling Retriever directly.
// Returns the router for chaining at the composition root.
func (r *AgentRouter) WithRAGRouter(ragRouter RAGRouter) *AgentRouter {
	r.ragRouter = ragRouter
	return r
}

// Route classifies message and dispatches to the suggested (or forced) mode.
func (r *AgentRouter) Route(ctx context.Context, message string, forcedMode model.RoutingMode) model.AgentResponse {
	start := time.Now()
	classification := r.classifier.Classify(ctx, message)

	mode := classification.SuggestedRouting
	if forcedMode != "" {
		mode = forcedMode
	}

	resp := model.AgentResponse{
		RoutingMode: mode,
		Intent:      classification.PrimaryIntent,
		Confidence:  classification.Confidence,
		Entities:    classification.Entities,
	}

	switch mode {
	case model.RoutingRAGOnly:
		r.routeRAGOnly(ctx, message, &resp)
	case model.RoutingAgentic:
		r.routeAgentic(ctx, message, &resp)
	case model.RoutingDiagnostic:
		r.routeDiagnostic(ctx, message, &resp)
	default:
		r.routeRAGOnly(ctx, message, &resp)
	}

	r.quarantineIfUncertain(ctx, message, &resp)
	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	return resp
}

func (r *AgentRouter) routeRAGOnly(ctx context.Context, message string, resp *model.AgentResponse) {
	resp.Handler = "rag_only"
	if r.llm == nil || (r.ragRouter == nil && r.retriever == nil) {
		resp.Response = "retrieval is unavailable"
		resp.Confidence = 0
		return
	}

	var docs []RetrievedDoc
	var err error
	if r.ragRouter != nil {
		var usedGraph bool
		docs, usedGraph, err = r.ragRouter.Route(ctx, message, resp.Intent, resp.Confidence, resp.Entities, 5)
		resp.UsedGraph = usedGraph
	} else {
		docs, err = r.retriever.Retrieve(ctx, message, 5, nil)
	}
	if err != nil {
		r.log.Error("agent router: rag_only retrieval failed", "error", err)
		resp.Response = "I couldn't retrieve documentation for that right now."
		resp.Confidence = 0
		return
	}

	var contextText string
	for _, d := range docs {
		contextText += d.Content + "\n\n"
	}
	prompt := fmt.Sprintf("Using only this context, answer the question.\n\nContext:\n%s\n\nQuestion: %s", contextText, message)
	answer, err := r.llm.Complete(ctx, prompt)
	if err != nil {
		r.log.Error("agent router: rag_only LLM call failed", "error", err)
		resp.Response = "I couldn't generate a response right now."
		resp.Confidence = 0
		return
	}
	resp.Response = answer
}

func (r *AgentRouter) routeAgentic(ctx context.Context, message string, resp *model.AgentResponse) {
	resp.Handler = "agentic"
	if r.llm == nil || r.executor == nil {
		resp.Response = "tool execution is unavailable"
		resp.Confidence = 0
		return
	}

	transcript := "User: " + message
	for step := 0; step < MaxToolSteps; step++ {
		proposal, ok := r.proposeTool(ctx, transcript)
		if !ok {
			resp.Response = "I wasn't able to determine how to help with that."
			resp.Confidence = 0
			return
		}
		if proposal.Terminal {
			resp.Response = proposal.Response
			resp.Confidence = proposal.Confidence
			return
		}

		approved := r.executor.IsReadOnly(proposal.Tool)
		if !approved {
			record := model.MemoryRecord{
				MemoryID:          uuid.NewString(),
				UserQuery:         message,
				AgentResponse:     fmt.Sprintf("proposed write tool %q with params %v", proposal.Tool, proposal.Params),
				IAAuditReason:     "write tool requires human approval",
				IAAuditConfidence: proposal.Confidence,
			}
			r.enqueueForApproval(ctx, resp, record)
			return
		}

		result, err := r.executor.Execute(ctx, proposal.Tool, proposal.Params, approved)
		resp.ToolsUsed = append(resp.ToolsUsed, proposal.Tool)
		if err != nil {
			transcript += fmt.Sprintf("\nTool %s failed: %v", proposal.Tool, err)
			continue
		}
		transcript += fmt.Sprintf("\nTool %s result: %v", proposal.Tool, result.Data)
	}

	resp.Response = "I reached the step limit while working on this; please narrow the request."
	resp.Confidence = 0.3
}

func (r *AgentRouter) proposeTool(ctx context.Context, transcript string) (toolProposal, bool) {
	prompt := "Given the conversation so far, propose the next tool call as JSON " +
		"{\"tool\":\"...\",\"params\":{},\"terminal\":false} or, if you are ready to answer, " +
		"{\"terminal\":true,\"response\":\"...\",\"confidence\":0.0}.\n\n" + transcript
	raw, err := r.llm.Complete(ctx, prompt)
	if err != nil {
		r.log.Error("agent router: tool proposal LLM call failed", "error", err)
		return toolProposal{}, false
	}
	var proposal toolProposal
	if err := json.Unmarshal([]byte(raw), &proposal); err != nil {
		r.log.Warn("agent router: tool proposal response not valid JSON", "error", err)
		return toolProposal{}, false
	}
	return proposal, true
}

func (r *AgentRouter) routeDiagnostic(ctx context.Context, message string, resp *model.AgentResponse) {
	resp.Handler = "diagnostic"
	if r.diagnostic == nil {
		resp.Response = "diagnostic handling is unavailable"
		resp.Confidence = 0
		return
	}
	state := r.diagnostic.Run(ctx, message)
	resp.Response = state.FinalResult
	resp.Confidence = state.Confidence
	if state.ApprovalStatus == model.ApprovalPending {
		resp.RequiresApproval = true
		resp.ApprovalID = state.ApprovalID
	}
}

func (r *AgentRouter) enqueueForApproval(ctx context.Context, resp *model.AgentResponse, record model.MemoryRecord) {
	resp.Response = "This action requires approval before it can run."
	resp.Confidence = record.IAAuditConfidence
	if r.audit == nil {
		return
	}
	if _, err := r.audit.Add(ctx, record); err != nil {
		r.log.Error("agent router: failed to enqueue approval request", "error", err)
		return
	}
	resp.RequiresApproval = true
	resp.ApprovalID = record.MemoryID
}

// quarantineIfUncertain enqueues resp into AuditQueue when its self-reported
// confidence is below the quarantine threshold (spec §4.13).
func (r *AgentRouter) quarantineIfUncertain(ctx context.Context, message string, resp *model.AgentResponse) {
	if resp.RequiresApproval || r.audit == nil {
		return
	}
	if resp.Confidence >= r.threshold {
		return
	}
	record := model.MemoryRecord{
		MemoryID:          uuid.NewString(),
		UserQuery:         message,
		AgentResponse:     resp.Response,
		IAAuditReason:     "response confidence below quarantine threshold",
		IAAuditConfidence: resp.Confidence,
	}
	if _, err := r.audit.Add(ctx, record); err != nil {
		r.log.Error("agent router: failed to quarantine low-confidence response", "error", err)
		return
	}
	resp.RequiresApproval = true
	resp.ApprovalID = record.MemoryID
}
