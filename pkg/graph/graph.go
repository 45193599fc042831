// Package graph implements the in-memory relationship graph: bounded-depth
// path discovery with confidence scoring, plus centrality and density
// metrics. A Graph is built per invocation from a caller-supplied edge
// list; the engine keeps no state across calls.
package graph

import (
	"fmt"
	"sync"

	"github.com/Tight5/Zero-Gate-sub000/pkg/models"
	"github.com/pkg/errors"
)

// ErrNoPath is the ordinary, expected outcome when no connection exists
// within the degree bound. It is not a system error.
var ErrNoPath = errors.New("no connection found within degree bound")

// TenantMismatchError reports an edge list mixing tenant identifiers.
// Mixed tenants are a caller contract violation and fail loudly at
// construction, before any traversal runs.
type TenantMismatchError struct {
	Expected string
	Got      string
}

func (e *TenantMismatchError) Error() string {
	return fmt.Sprintf("edge list mixes tenants: expected %q, got %q", e.Expected, e.Got)
}

type NodeType string

const (
	PersonNode       NodeType = "person"
	OrganizationNode NodeType = "organization"
)

type Node struct {
	ID    string   `json:"id"`
	Type  NodeType `json:"type"`
	Label string   `json:"label"`
}

// Edge is one relationship. Strength lives in [0,1]. Undirected edges are
// traversable both ways; directed ones only source to target.
type Edge struct {
	Source           string  `json:"source"`
	Target           string  `json:"target"`
	Strength         float64 `json:"strength"`
	RelationshipType string  `json:"relationship_type"`
	TenantID         string  `json:"tenant_id"`
	Directed         bool    `json:"directed,omitempty"`
}

type halfEdge struct {
	to       string
	strength float64
}

// Graph is a tenant-scoped weighted relationship graph.
type Graph struct {
	tenantID string
	nodes    map[string]Node
	adj      map[string][]halfEdge
	edgeCnt  int

	metricsOnce sync.Once
	metrics     Metrics
}

// New builds a graph for a single tenant. Edges whose endpoints are not in
// the node list get implicit untyped nodes; an edge carrying a different
// tenant id than the rest is rejected.
func New(tenantID string, nodes []Node, edges []Edge) (*Graph, error) {
	g := &Graph{
		tenantID: tenantID,
		nodes:    make(map[string]Node, len(nodes)),
		adj:      make(map[string][]halfEdge),
	}
	for _, n := range nodes {
		g.nodes[n.ID] = n
	}
	for _, e := range edges {
		if e.TenantID != tenantID {
			return nil, &TenantMismatchError{Expected: tenantID, Got: e.TenantID}
		}
		if e.Strength < 0 || e.Strength > 1 {
			return nil, errors.Errorf("edge %s->%s: strength %v out of [0,1]", e.Source, e.Target, e.Strength)
		}
		for _, id := range []string{e.Source, e.Target} {
			if _, ok := g.nodes[id]; !ok {
				g.nodes[id] = Node{ID: id}
			}
		}
		g.adj[e.Source] = append(g.adj[e.Source], halfEdge{to: e.Target, strength: e.Strength})
		if !e.Directed {
			g.adj[e.Target] = append(g.adj[e.Target], halfEdge{to: e.Source, strength: e.Strength})
		}
		g.edgeCnt++
	}
	return g, nil
}

// FromTask builds a graph from a workflow payload's node and edge lists.
// The task's tenant id scopes the graph.
func FromTask(task *models.WorkflowTask) (*Graph, error) {
	nodes, err := decodeNodes(task.Payload["nodes"])
	if err != nil {
		return nil, errors.Wrap(err, "decode nodes")
	}
	edges, err := decodeEdges(task.Payload["edges"])
	if err != nil {
		return nil, errors.Wrap(err, "decode edges")
	}
	// The task scopes the tenant; edges need not repeat it. An edge that
	// does name a different tenant is still rejected by New.
	for i := range edges {
		if edges[i].TenantID == "" {
			edges[i].TenantID = task.TenantID
		}
	}
	return New(task.TenantID, nodes, edges)
}

// TenantID returns the tenant the graph was built for.
func (g *Graph) TenantID() string { return g.tenantID }

// NodeCount returns the number of nodes, implicit ones included.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges as supplied (undirected counted once).
func (g *Graph) EdgeCount() int { return g.edgeCnt }

// Node returns a node by id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}
