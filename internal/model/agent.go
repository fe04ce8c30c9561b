package model

// AgentResponse is the uniform result of AgentRouter.Route regardless of mode.
type AgentResponse struct {
	Response         string
	RoutingMode      RoutingMode
	Intent           Intent
	Confidence       float64
	Handler          string
	ToolsUsed        []string
	Entities         Entities
	UsedGraph        bool
	RequiresApproval bool
	ApprovalID       string
	ProcessingTimeMs int64
}

// DiagnosticPhase is a tagged variant of the diagnostic state machine's phase.
type DiagnosticPhase string

const (
	PhaseDiagnose DiagnosticPhase = "DIAGNOSE"
	PhaseResearch DiagnosticPhase = "RESEARCH"
	PhaseVerify   DiagnosticPhase = "VERIFY"
	PhasePropose  DiagnosticPhase = "PROPOSE"
	PhaseApprove  DiagnosticPhase = "APPROVE"
	PhaseExecute  DiagnosticPhase = "EXECUTE"
	PhaseValidate DiagnosticPhase = "VALIDATE"
	PhaseEnd      DiagnosticPhase = "END"
)

// ApprovalStatus tracks the human-in-the-loop gate in the APPROVE phase.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ProposedAction is a candidate remediation step generated in PROPOSE.
type ProposedAction struct {
	Tool       string
	Params     map[string]any
	ReadOnly   bool
	Succeeded  bool
	ResultNote string
}

// DiagnosticState is the full state threaded through the diagnostic loop.
type DiagnosticState struct {
	Problem               string
	Phase                 DiagnosticPhase
	Iteration             int
	Confidence            float64
	Findings              []string
	ProposedActions       []ProposedAction
	VerificationResults   map[string]string
	ApprovalStatus        ApprovalStatus
	ApprovalID            string
	FinalResult           string
	Cancelled             bool
}
