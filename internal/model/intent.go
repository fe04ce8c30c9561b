package model

// Intent is the closed set of classifiable message intents.
type Intent string

const (
	IntentStatus          Intent = "STATUS"
	IntentTroubleshooting Intent = "TROUBLESHOOTING"
	IntentJobManagement   Intent = "JOB_MANAGEMENT"
	IntentMonitoring      Intent = "MONITORING"
	IntentAnalysis        Intent = "ANALYSIS"
	IntentReporting       Intent = "REPORTING"
	IntentGreeting        Intent = "GREETING"
	IntentGeneral         Intent = "GENERAL"
)

// RoutingMode is the mode AgentRouter dispatches to.
type RoutingMode string

const (
	RoutingRAGOnly    RoutingMode = "rag_only"
	RoutingAgentic    RoutingMode = "agentic"
	RoutingDiagnostic RoutingMode = "diagnostic"
)

// Entities extracted from a message: job names, error codes, workstations.
type Entities struct {
	Jobs         []string
	Codes        []string
	Workstations []string
}

// IntentClassification is the output of the IntentClassifier.
type IntentClassification struct {
	PrimaryIntent      Intent
	Confidence         float64
	SecondaryIntents   []Intent
	Entities           Entities
	RequiresTools      bool
	NeedsClarification bool
	SuggestedRouting   RoutingMode
}
