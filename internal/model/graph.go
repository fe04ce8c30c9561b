package model

// NodeKind enumerates the TWS entity types the knowledge graph tracks.
type NodeKind string

const (
	NodeJob        NodeKind = "Job"
	NodeWorkstation NodeKind = "Workstation"
	NodeResource   NodeKind = "Resource"
	NodeCalendar   NodeKind = "Calendar"
)

// EdgeKind enumerates the relationship types between graph nodes.
type EdgeKind string

const (
	EdgeDependsOn   EdgeKind = "DEPENDS_ON"
	EdgeRunsOn      EdgeKind = "RUNS_ON"
	EdgeUses        EdgeKind = "USES"
	EdgeTriggeredBy EdgeKind = "TRIGGERED_BY"
)

// GraphNode is a TWS entity. FolderPath+Name is the entity resolution key
// for jobs: two jobs with the same name in different folders are distinct.
type GraphNode struct {
	ID         string
	Kind       NodeKind
	FolderPath string
	Name       string
}

// GraphEdge connects two nodes by ID.
type GraphEdge struct {
	From string
	To   string
	Kind EdgeKind
}

// ImpactAnalysis is the result of impact_analysis(job_id).
type ImpactAnalysis struct {
	DownstreamJobs      []string
	CriticalPaths       [][]string
	EstimatedImpactLevel string
}

// ResourceConflict names a resource reached by two jobs via USES edges.
type ResourceConflict struct {
	ResourceID string
	JobA       string
	JobB       string
}
