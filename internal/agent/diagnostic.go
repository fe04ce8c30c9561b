package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/connexus-ai/resync/internal/model"
	"github.com/connexus-ai/resync/internal/retrieval"
	"github.com/connexus-ai/resync/internal/tools"
)

// DefaultMaxIterations is the DIAGNOSE/RESEARCH/VERIFY loop cap (spec §4.14).
const DefaultMaxIterations = 5

// DefaultMinConfidenceForProposal is the confidence a hypothesis must reach
// before the loop advances from VERIFY to PROPOSE.
const DefaultMinConfidenceForProposal = 0.7

// GraphQuerier is the subset of KnowledgeGraph the VERIFY phase consults.
type GraphQuerier interface {
	DependencyChain(ctx context.Context, jobID string, maxDepth int) ([]string, error)
	ImpactAnalysis(ctx context.Context, jobID string) (model.ImpactAnalysis, error)
}

// LongTermConsultant is the subset of LongTermMemory the RESEARCH phase
// consults for previously confirmed facts and behavior patterns relevant
// to the problem.
type LongTermConsultant interface {
	Pull(ctx context.Context, userID string, category *model.MemoryCategory, minConfidence float64) ([]model.LongTermMemoryEntry, error)
}

// DiagnosticConfig holds the tunables from spec §6 Diagnostic.
type DiagnosticConfig struct {
	MaxIterations             int
	MinConfidenceForProposal  float64
	RequireApprovalForActions bool
}

func DefaultDiagnosticConfig() DiagnosticConfig {
	return DiagnosticConfig{
		MaxIterations:             DefaultMaxIterations,
		MinConfidenceForProposal:  DefaultMinConfidenceForProposal,
		RequireApprovalForActions: true,
	}
}

// DiagnosticGraph is the cyclic state machine for autonomous TWS problem
// resolution: DIAGNOSE -> RESEARCH -> VERIFY -> PROPOSE -> {APPROVE ->
// EXECUTE -> VALIDATE -> END} | END (spec §4.14).
type DiagnosticGraph struct {
	llm       LLMCompleter
	retriever Retriever
	graph     GraphQuerier
	longterm  LongTermConsultant
	executor  *tools.ToolExecutor
	audit     AuditEnqueuer
	cfg       DiagnosticConfig
	log       *slog.Logger
}

func NewDiagnosticGraph(llm LLMCompleter, retriever Retriever, graph GraphQuerier, longterm LongTermConsultant, executor *tools.ToolExecutor, audit AuditEnqueuer, cfg DiagnosticConfig, log *slog.Logger) *DiagnosticGraph {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MinConfidenceForProposal <= 0 {
		cfg.MinConfidenceForProposal = DefaultMinConfidenceForProposal
	}
	return &DiagnosticGraph{llm: llm, retriever: retriever, graph: graph, longterm: longterm, executor: executor, audit: audit, cfg: cfg, log: log}
}

// Run drives the full state machine to completion (or cancellation) and
// returns the final state snapshot.
func (g *DiagnosticGraph) Run(ctx context.Context, problem string) model.DiagnosticState {
	state := model.DiagnosticState{
		Problem:             problem,
		Phase:               model.PhaseDiagnose,
		VerificationResults: make(map[string]string),
	}

	for {
		if cancelled(ctx, &state) {
			return state
		}

		switch state.Phase {
		case model.PhaseDiagnose:
			g.diagnose(ctx, &state)
		case model.PhaseResearch:
			g.research(ctx, &state)
		case model.PhaseVerify:
			g.verify(ctx, &state)
		case model.PhasePropose:
			g.propose(ctx, &state)
		case model.PhaseApprove:
			g.approve(ctx, &state)
			return state // external approval happens out-of-band; stop here
		case model.PhaseExecute:
			g.execute(ctx, &state)
		case model.PhaseValidate:
			g.validate(ctx, &state)
		case model.PhaseEnd:
			return state
		default:
			return state
		}
	}
}

// Resume continues a diagnostic state after an external approval decision,
// driving EXECUTE -> VALIDATE -> END.
func (g *DiagnosticGraph) Resume(ctx context.Context, state model.DiagnosticState, approved bool) model.DiagnosticState {
	if approved {
		state.ApprovalStatus = model.ApprovalApproved
		state.Phase = model.PhaseExecute
	} else {
		state.ApprovalStatus = model.ApprovalRejected
		state.Phase = model.PhaseEnd
		state.FinalResult = "Proposed actions were rejected; no changes made."
		return state
	}

	for {
		if cancelled(ctx, &state) {
			return state
		}
		switch state.Phase {
		case model.PhaseExecute:
			g.execute(ctx, &state)
		case model.PhaseValidate:
			g.validate(ctx, &state)
		case model.PhaseEnd:
			return state
		default:
			return state
		}
	}
}

func cancelled(ctx context.Context, state *model.DiagnosticState) bool {
	select {
	case <-ctx.Done():
		state.Cancelled = true
		return true
	default:
		return false
	}
}

// diagnose asks the LLM to form a hypothesis from the problem and findings
// accumulated so far.
func (g *DiagnosticGraph) diagnose(ctx context.Context, state *model.DiagnosticState) {
	state.Iteration++
	if state.Iteration > g.cfg.MaxIterations {
		state.Phase = model.PhaseEnd
		state.FinalResult = "Reached iteration limit without a confident diagnosis; partial findings: " + joinFindings(state.Findings)
		return
	}

	if g.llm == nil {
		state.Confidence = 0
		state.Phase = model.PhaseResearch
		return
	}

	prompt := fmt.Sprintf("Problem: %s\nFindings so far: %s\nPropose a hypothesis and a confidence (0-1) it is correct.", state.Problem, joinFindings(state.Findings))
	hypothesis, err := g.llm.Complete(ctx, prompt)
	if err != nil {
		g.log.Warn("diagnostic graph: diagnose LLM call failed", "error", err)
		hypothesis = ""
	}
	if hypothesis != "" {
		state.Findings = append(state.Findings, "hypothesis: "+hypothesis)
	}
	state.Phase = model.PhaseResearch
}

// research pulls supporting documentation and confirmed long-term memory.
func (g *DiagnosticGraph) research(ctx context.Context, state *model.DiagnosticState) {
	if g.retriever != nil {
		docs, err := g.retriever.Retrieve(ctx, state.Problem, 5, nil)
		if err != nil {
			g.log.Warn("diagnostic graph: research retrieval failed", "error", err)
		}
		for _, d := range docs {
			state.Findings = append(state.Findings, "doc: "+d.ChunkID)
		}
	}
	if g.longterm != nil {
		entries, err := g.longterm.Pull(ctx, "", nil, 0.5)
		if err != nil {
			g.log.Warn("diagnostic graph: long-term memory pull failed", "error", err)
		}
		for _, e := range entries {
			state.Findings = append(state.Findings, "memory: "+e.Content)
		}
	}
	state.Phase = model.PhaseVerify
}

// verify consults the knowledge graph to confirm current system state, then
// decides whether to advance to PROPOSE or loop back to DIAGNOSE.
func (g *DiagnosticGraph) verify(ctx context.Context, state *model.DiagnosticState) {
	if g.graph != nil {
		jobID := extractJobID(state.Problem)
		if jobID != "" {
			chain, err := g.graph.DependencyChain(ctx, jobID, 5)
			if err != nil {
				g.log.Warn("diagnostic graph: verify graph query failed", "error", err)
			} else if len(chain) > 1 {
				state.VerificationResults["dependency_chain"] = joinFindings(chain)
				state.Confidence += 0.15
			}
		}
	}
	if len(state.Findings) > 0 {
		state.Confidence += 0.1 * float64(len(state.Findings))
	}
	if state.Confidence > 1 {
		state.Confidence = 1
	}

	if state.Confidence >= g.cfg.MinConfidenceForProposal {
		state.Phase = model.PhasePropose
		return
	}
	state.Phase = model.PhaseDiagnose
}

// propose generates proposed_actions; read-only recommendations end the
// loop directly, write actions require approval.
func (g *DiagnosticGraph) propose(ctx context.Context, state *model.DiagnosticState) {
	jobID := extractJobID(state.Problem)
	if jobID == "" {
		state.Phase = model.PhaseEnd
		state.FinalResult = "No actionable job identified; findings: " + joinFindings(state.Findings)
		return
	}

	state.ProposedActions = []model.ProposedAction{
		{Tool: "rerun_job", Params: map[string]any{"job_name": jobID}, ReadOnly: false},
	}

	allReadOnly := true
	for _, a := range state.ProposedActions {
		if !a.ReadOnly {
			allReadOnly = false
			break
		}
	}
	if allReadOnly {
		state.Phase = model.PhaseEnd
		state.FinalResult = fmt.Sprintf("Recommendation: rerun %s. %s", jobID, joinFindings(state.Findings))
		return
	}

	if g.cfg.RequireApprovalForActions {
		state.Phase = model.PhaseApprove
		return
	}
	state.Phase = model.PhaseExecute
}

// approve enqueues the proposed actions into AuditQueue and waits
// externally for an approved/rejected decision (Resume drives the
// continuation once that decision arrives).
func (g *DiagnosticGraph) approve(ctx context.Context, state *model.DiagnosticState) {
	state.ApprovalStatus = model.ApprovalPending
	state.ApprovalID = uuid.NewString()
	if g.audit == nil {
		return
	}
	record := model.MemoryRecord{
		MemoryID:      state.ApprovalID,
		UserQuery:     state.Problem,
		AgentResponse: describeProposedActions(state.ProposedActions),
		IAAuditReason: "diagnostic proposal requires write approval",
	}
	if _, err := g.audit.Add(ctx, record); err != nil {
		g.log.Error("diagnostic graph: failed to enqueue approval", "error", err)
	}
}

// execute invokes the approved write tool(s); partial failures roll
// forward, recording which actions succeeded.
func (g *DiagnosticGraph) execute(ctx context.Context, state *model.DiagnosticState) {
	if g.executor == nil {
		state.Phase = model.PhaseEnd
		state.FinalResult = "Execution unavailable; no tool executor configured."
		return
	}
	for i := range state.ProposedActions {
		a := &state.ProposedActions[i]
		result, err := g.executor.Execute(ctx, a.Tool, a.Params, true)
		if err != nil {
			a.Succeeded = false
			a.ResultNote = err.Error()
			continue
		}
		a.Succeeded = true
		a.ResultNote = fmt.Sprintf("%v", result.Data)
	}
	state.Phase = model.PhaseValidate
}

// validate re-verifies whether the problem is resolved after execution.
func (g *DiagnosticGraph) validate(ctx context.Context, state *model.DiagnosticState) {
	allSucceeded := len(state.ProposedActions) > 0
	for _, a := range state.ProposedActions {
		if !a.Succeeded {
			allSucceeded = false
		}
	}
	state.Phase = model.PhaseEnd
	if allSucceeded {
		state.FinalResult = "Resolved: " + describeProposedActions(state.ProposedActions)
		return
	}
	state.FinalResult = "Residual issue remains after executing proposed actions: " + describeProposedActions(state.ProposedActions)
}

func joinFindings(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += "; "
		}
		out += s
	}
	return out
}

func describeProposedActions(actions []model.ProposedAction) string {
	out := ""
	for i, a := range actions {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%s(%v)", a.Tool, a.Params)
		if a.ResultNote != "" {
			out += " -> " + a.ResultNote
		}
	}
	return out
}

// extractJobID pulls a bare job identifier out of a problem description
// using the same entity patterns as the rest of the system.
func extractJobID(problem string) string {
	jobs := retrieval.ExtractEntities(problem).Jobs
	if len(jobs) == 0 {
		return ""
	}
	return jobs[0]
}
