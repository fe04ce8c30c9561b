// Package graph implements Resync's KnowledgeGraph: multi-hop queries over
// TWS job dependencies, built on demand from a snapshot source with a short
// TTL cache. The core owns no persistent graph storage.
package graph

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/connexus-ai/resync/internal/errs"
	"github.com/connexus-ai/resync/internal/model"
)

// arena is an in-memory node-arena-with-integer-indices representation of a
// graph snapshot, per spec §9's design note for avoiding owned cycles:
// nodes are stored in a slice and referenced by index, edges hold indices
// rather than pointers, so the structure is trivially copyable and free of
// reference cycles.
type arena struct {
	nodes    []model.GraphNode
	idToIdx  map[string]int
	forward  map[int][]int // idx -> neighbor idx via DEPENDS_ON (ancestor direction)
	reverse  map[int][]int // idx -> dependent idx (descendant direction)
	usesIdx  map[int][]int // idx -> resource node idx via USES
	builtAt  time.Time
}

func buildArena(nodes []model.GraphNode, edges []model.GraphEdge) *arena {
	a := &arena{
		idToIdx: make(map[string]int, len(nodes)),
		forward: make(map[int][]int),
		reverse: make(map[int][]int),
		usesIdx: make(map[int][]int),
		builtAt: time.Now(),
	}
	a.nodes = nodes
	for i, n := range nodes {
		a.idToIdx[n.ID] = i
	}
	for _, e := range edges {
		from, ok1 := a.idToIdx[e.From]
		to, ok2 := a.idToIdx[e.To]
		if !ok1 || !ok2 {
			continue
		}
		switch e.Kind {
		case model.EdgeDependsOn:
			a.forward[from] = append(a.forward[from], to)
			a.reverse[to] = append(a.reverse[to], from)
		case model.EdgeUses:
			a.usesIdx[from] = append(a.usesIdx[from], to)
		}
	}
	return a
}

// SnapshotSource fetches the current TWS job graph. This is the out-of-core
// TWS client capability (spec §6); it may be backed by a live TWS API or by
// a Neo4j projection kept in sync out-of-band. Queries return empty sets
// (not errors) when the client is unavailable.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context) ([]model.GraphNode, []model.GraphEdge, error)
}

// Neo4jSnapshotSource reads the current job/dependency snapshot from Neo4j
// via Cypher, used when TWS state is projected into a graph database rather
// than queried live.
type Neo4jSnapshotSource struct {
	driver neo4j.DriverWithContext
	log    *slog.Logger
}

func NewNeo4jSnapshotSource(driver neo4j.DriverWithContext, log *slog.Logger) *Neo4jSnapshotSource {
	if log == nil {
		log = slog.Default()
	}
	return &Neo4jSnapshotSource{driver: driver, log: log}
}

func (s *Neo4jSnapshotSource) FetchSnapshot(ctx context.Context) ([]model.GraphNode, []model.GraphEdge, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (n)
		OPTIONAL MATCH (n)-[r]->(m)
		RETURN n.id AS id, labels(n)[0] AS kind, n.folderPath AS folderPath, n.name AS name,
			type(r) AS relType, m.id AS targetId`, nil)
	if err != nil {
		return nil, nil, errs.NewStorageError(errs.StorageConnection, "Neo4jSnapshotSource.FetchSnapshot", err)
	}

	nodeSeen := make(map[string]model.GraphNode)
	var edges []model.GraphEdge

	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("id")
		kind, _ := rec.Get("kind")
		folderPath, _ := rec.Get("folderPath")
		name, _ := rec.Get("name")

		idStr, _ := id.(string)
		if idStr == "" {
			continue
		}
		if _, ok := nodeSeen[idStr]; !ok {
			fp, _ := folderPath.(string)
			nm, _ := name.(string)
			k, _ := kind.(string)
			nodeSeen[idStr] = model.GraphNode{ID: idStr, Kind: model.NodeKind(k), FolderPath: fp, Name: nm}
		}

		relType, relOK := rec.Get("relType")
		targetID, targetOK := rec.Get("targetId")
		if relOK && targetOK {
			rt, _ := relType.(string)
			tid, _ := targetID.(string)
			if rt != "" && tid != "" {
				edges = append(edges, model.GraphEdge{From: idStr, To: tid, Kind: model.EdgeKind(rt)})
			}
		}
	}
	if err := result.Err(); err != nil {
		return nil, nil, errs.NewStorageError(errs.StorageQuery, "Neo4jSnapshotSource.FetchSnapshot", err)
	}

	nodes := make([]model.GraphNode, 0, len(nodeSeen))
	for _, n := range nodeSeen {
		nodes = append(nodes, n)
	}
	return nodes, edges, nil
}

// KnowledgeGraph answers multi-hop queries over a cached snapshot.
type KnowledgeGraph struct {
	source SnapshotSource
	ttl    time.Duration

	mu       sync.Mutex
	snapshot *arena
	log      *slog.Logger
}

func NewKnowledgeGraph(source SnapshotSource, ttl time.Duration, log *slog.Logger) *KnowledgeGraph {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &KnowledgeGraph{source: source, ttl: ttl, log: log}
}

// ensureSnapshot refreshes the cached arena if it's stale or absent. On
// source failure, queries fall back to treating the graph as unavailable
// (empty results, not errors), per spec §4.5.
func (g *KnowledgeGraph) ensureSnapshot(ctx context.Context) *arena {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.snapshot != nil && time.Since(g.snapshot.builtAt) < g.ttl {
		return g.snapshot
	}
	if g.source == nil {
		return g.snapshot
	}

	nodes, edges, err := g.source.FetchSnapshot(ctx)
	if err != nil {
		g.log.Warn("knowledge graph snapshot refresh failed, TWS client unavailable", "error", err)
		return g.snapshot // serve stale snapshot (possibly nil) rather than error
	}
	g.snapshot = buildArena(nodes, edges)
	return g.snapshot
}

// DependencyChain returns the BFS-ordered ancestor chain over DEPENDS_ON
// edges up to maxDepth. max_depth=0 returns [job_id] only.
func (g *KnowledgeGraph) DependencyChain(ctx context.Context, jobID string, maxDepth int) ([]string, error) {
	a := g.ensureSnapshot(ctx)
	if a == nil {
		return nil, nil
	}
	startIdx, ok := a.idToIdx[jobID]
	if !ok {
		return []string{jobID}, nil
	}
	if maxDepth <= 0 {
		return []string{jobID}, nil
	}

	visited := map[int]bool{startIdx: true}
	order := []string{jobID}
	queue := []struct{ idx, depth int }{{startIdx, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, next := range a.forward[cur.idx] {
			if visited[next] {
				continue
			}
			visited[next] = true
			order = append(order, a.nodes[next].ID)
			queue = append(queue, struct{ idx, depth int }{next, cur.depth + 1})
		}
	}
	return order, nil
}

// ImpactAnalysis finds descendants via reverse DEPENDS_ON edges.
func (g *KnowledgeGraph) ImpactAnalysis(ctx context.Context, jobID string) (model.ImpactAnalysis, error) {
	a := g.ensureSnapshot(ctx)
	if a == nil {
		return model.ImpactAnalysis{}, nil
	}
	startIdx, ok := a.idToIdx[jobID]
	if !ok {
		return model.ImpactAnalysis{}, nil
	}

	visited := map[int]bool{startIdx: true}
	var downstream []string
	var paths [][]string
	queue := [][]int{{startIdx}}

	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		last := path[len(path)-1]
		for _, next := range a.reverse[last] {
			if visited[next] {
				continue
			}
			visited[next] = true
			downstream = append(downstream, a.nodes[next].ID)
			newPath := append(append([]int{}, path...), next)
			queue = append(queue, newPath)
			paths = append(paths, idxPathToIDs(a, newPath))
		}
	}

	level := "low"
	switch {
	case len(downstream) > 10:
		level = "high"
	case len(downstream) > 3:
		level = "medium"
	}

	return model.ImpactAnalysis{DownstreamJobs: downstream, CriticalPaths: paths, EstimatedImpactLevel: level}, nil
}

func idxPathToIDs(a *arena, path []int) []string {
	out := make([]string, len(path))
	for i, idx := range path {
		out[i] = a.nodes[idx].ID
	}
	return out
}

// CriticalJobs ranks nodes by how many other nodes reach them through
// DEPENDS_ON edges (each reaching node counted once), computed on the
// current snapshot. Nodes that no other node reaches are not ranked.
func (g *KnowledgeGraph) CriticalJobs(ctx context.Context, topN int) ([]string, error) {
	a := g.ensureSnapshot(ctx)
	if a == nil {
		return nil, nil
	}

	centrality := make(map[int]int)
	for idx := range a.nodes {
		var visit func(int, map[int]bool)
		visit = func(cur int, seen map[int]bool) {
			for _, next := range a.forward[cur] {
				if seen[next] {
					continue
				}
				seen[next] = true
				centrality[next]++
				visit(next, seen)
			}
		}
		visit(idx, map[int]bool{idx: true})
	}

	type scored struct {
		id    string
		score int
	}
	var ranked []scored
	for idx, score := range centrality {
		ranked = append(ranked, scored{a.nodes[idx].ID, score})
	}
	sortByScoreDesc(ranked)

	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.id
	}
	return out, nil
}

func sortByScoreDesc(items []struct {
	id    string
	score int
}) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].score > items[j-1].score; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

// ResourceConflicts finds resources reached by both jobA and jobB via USES edges.
func (g *KnowledgeGraph) ResourceConflicts(ctx context.Context, jobA, jobB string) ([]model.ResourceConflict, error) {
	a := g.ensureSnapshot(ctx)
	if a == nil {
		return nil, nil
	}
	idxA, okA := a.idToIdx[jobA]
	idxB, okB := a.idToIdx[jobB]
	if !okA || !okB {
		return nil, nil
	}

	resourcesA := make(map[int]bool)
	for _, r := range a.usesIdx[idxA] {
		resourcesA[r] = true
	}

	var conflicts []model.ResourceConflict
	for _, r := range a.usesIdx[idxB] {
		if resourcesA[r] {
			conflicts = append(conflicts, model.ResourceConflict{ResourceID: a.nodes[r].ID, JobA: jobA, JobB: jobB})
		}
	}
	return conflicts, nil
}
