package graph

import (
	"container/heap"
	"context"
	"math"

	"github.com/pkg/errors"
)

// MaxDegree is the "seven degrees" bound on path length.
const MaxDegree = 7

type Algorithm string

const (
	// BFS finds the fewest-hop path and is the default: degrees of
	// separation is the primary metric.
	BFS Algorithm = "bfs"
	// Dijkstra finds the strongest route, costing each edge 1-strength so
	// strong relationships are cheap to traverse.
	Dijkstra Algorithm = "dijkstra"
	// DFS enumerates every candidate path up to the bound; use AllPaths.
	DFS Algorithm = "dfs"
)

// Quality is the user-facing discretization of confidence. The cutoffs are
// exact: >=0.75 excellent, >=0.5 good, >=0.25 fair, else weak.
type Quality string

const (
	ExcellentQuality Quality = "excellent"
	GoodQuality      Quality = "good"
	FairQuality      Quality = "fair"
	WeakQuality      Quality = "weak"
)

// QualityFor discretizes a confidence score.
func QualityFor(confidence float64) Quality {
	switch {
	case confidence >= 0.75:
		return ExcellentQuality
	case confidence >= 0.5:
		return GoodQuality
	case confidence >= 0.25:
		return FairQuality
	}
	return WeakQuality
}

// Confidence combines average edge strength with a penalty that decreases
// monotonically with path length: chains of introduction get less reliable
// with every extra hop even when each link is strong.
func Confidence(edgeStrengths []float64) float64 {
	if len(edgeStrengths) == 0 {
		return 0
	}
	var sum float64
	for _, s := range edgeStrengths {
		sum += s
	}
	avg := sum / float64(len(edgeStrengths))
	degree := len(edgeStrengths)
	penalty := 1 / (1 + 0.15*float64(degree-1))
	return avg * penalty
}

// PathResult describes one discovered connection.
type PathResult struct {
	Path            []string  `json:"path"`
	Degree          int       `json:"degree"`
	Confidence      float64   `json:"confidence"`
	Quality         Quality   `json:"quality"`
	PerEdgeStrength []float64 `json:"per_edge_strength"`
}

func newPathResult(path []string, strengths []float64) PathResult {
	conf := Confidence(strengths)
	return PathResult{
		Path:            path,
		Degree:          len(path) - 1,
		Confidence:      conf,
		Quality:         QualityFor(conf),
		PerEdgeStrength: strengths,
	}
}

// PathOptions tune FindPath. Zero values select BFS bounded at MaxDegree.
type PathOptions struct {
	MaxDegree int
	Algorithm Algorithm
}

func (o PathOptions) withDefaults() PathOptions {
	if o.MaxDegree <= 0 || o.MaxDegree > MaxDegree {
		o.MaxDegree = MaxDegree
	}
	if o.Algorithm == "" {
		o.Algorithm = BFS
	}
	return o
}

// FindPath discovers a path from source to target within the degree bound.
// A miss returns ErrNoPath; exceeding the bound is an ordinary outcome, not
// a timeout. The search loop checks ctx so a cancelled task stops at a safe
// point.
func (g *Graph) FindPath(ctx context.Context, source, target string, opts PathOptions) (PathResult, error) {
	opts = opts.withDefaults()
	if _, ok := g.nodes[source]; !ok {
		return PathResult{}, errors.Errorf("source node %q not in graph", source)
	}
	if _, ok := g.nodes[target]; !ok {
		return PathResult{}, errors.Errorf("target node %q not in graph", target)
	}
	if source == target {
		return newPathResult([]string{source}, nil), nil
	}
	switch opts.Algorithm {
	case BFS:
		return g.bfs(ctx, source, target, opts.MaxDegree)
	case Dijkstra:
		return g.dijkstra(ctx, source, target, opts.MaxDegree)
	case DFS:
		paths, err := g.AllPaths(ctx, source, target, opts.MaxDegree)
		if err != nil {
			return PathResult{}, err
		}
		best := paths[0]
		for _, p := range paths[1:] {
			if p.Confidence > best.Confidence {
				best = p
			}
		}
		return best, nil
	}
	return PathResult{}, errors.Errorf("unknown algorithm %q", opts.Algorithm)
}

type bfsStep struct {
	node     string
	prev     *bfsStep
	strength float64
	depth    int
}

func (s *bfsStep) unwind() ([]string, []float64) {
	var path []string
	var strengths []float64
	for cur := s; cur != nil; cur = cur.prev {
		path = append([]string{cur.node}, path...)
		if cur.prev != nil {
			strengths = append([]float64{cur.strength}, strengths...)
		}
	}
	return path, strengths
}

func (g *Graph) bfs(ctx context.Context, source, target string, maxDegree int) (PathResult, error) {
	visited := map[string]bool{source: true}
	queue := []*bfsStep{{node: source}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return PathResult{}, err
		}
		step := queue[0]
		queue = queue[1:]
		if step.depth == maxDegree {
			continue
		}
		for _, e := range g.adj[step.node] {
			if visited[e.to] {
				continue
			}
			next := &bfsStep{node: e.to, prev: step, strength: e.strength, depth: step.depth + 1}
			if e.to == target {
				path, strengths := next.unwind()
				return newPathResult(path, strengths), nil
			}
			visited[e.to] = true
			queue = append(queue, next)
		}
	}
	return PathResult{}, ErrNoPath
}

type dijkstraItem struct {
	node  string
	cost  float64
	depth int
	index int
}

type dijkstraQueue []*dijkstraItem

func (q dijkstraQueue) Len() int            { return len(q) }
func (q dijkstraQueue) Less(i, j int) bool  { return q[i].cost < q[j].cost }
func (q dijkstraQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *dijkstraQueue) Push(x interface{}) { item := x.(*dijkstraItem); item.index = len(*q); *q = append(*q, item) }
func (q *dijkstraQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// nodeDepth keys Dijkstra state. With a hop bound in play the same node
// reached at different depths is a different search state: a cheap deep
// entry must not shadow a costlier shallow one that can still reach the
// target within the bound.
type nodeDepth struct {
	node  string
	depth int
}

func (g *Graph) dijkstra(ctx context.Context, source, target string, maxDegree int) (PathResult, error) {
	start := nodeDepth{node: source}
	dist := map[nodeDepth]float64{start: 0}
	prev := map[nodeDepth]nodeDepth{}
	prevStrength := map[nodeDepth]float64{}
	done := map[nodeDepth]bool{}

	var goal nodeDepth
	found := false

	pq := &dijkstraQueue{{node: source}}
	heap.Init(pq)
	for pq.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return PathResult{}, err
		}
		item := heap.Pop(pq).(*dijkstraItem)
		key := nodeDepth{node: item.node, depth: item.depth}
		if done[key] {
			continue
		}
		done[key] = true
		if item.node == target {
			goal = key
			found = true
			break
		}
		if item.depth == maxDegree {
			continue
		}
		for _, e := range g.adj[item.node] {
			cost := item.cost + (1 - e.strength)
			next := nodeDepth{node: e.to, depth: item.depth + 1}
			if d, seen := dist[next]; seen && d <= cost {
				continue
			}
			dist[next] = cost
			prev[next] = key
			prevStrength[next] = e.strength
			heap.Push(pq, &dijkstraItem{node: e.to, cost: cost, depth: next.depth})
		}
	}
	if !found {
		return PathResult{}, ErrNoPath
	}
	var path []string
	var strengths []float64
	for cur := goal; ; {
		path = append([]string{cur.node}, path...)
		p, ok := prev[cur]
		if !ok {
			break
		}
		strengths = append([]float64{prevStrength[cur]}, strengths...)
		cur = p
	}
	return newPathResult(path, strengths), nil
}

// AllPaths enumerates every simple path from source to target up to
// maxDegree hops, strongest first. Exhaustive exploration is what DFS is
// for; callers wanting the single best route should use FindPath.
func (g *Graph) AllPaths(ctx context.Context, source, target string, maxDegree int) ([]PathResult, error) {
	if maxDegree <= 0 || maxDegree > MaxDegree {
		maxDegree = MaxDegree
	}
	if _, ok := g.nodes[source]; !ok {
		return nil, errors.Errorf("source node %q not in graph", source)
	}
	if _, ok := g.nodes[target]; !ok {
		return nil, errors.Errorf("target node %q not in graph", target)
	}

	var results []PathResult
	onPath := map[string]bool{source: true}
	path := []string{source}
	var strengths []float64

	var visit func(node string) error
	visit = func(node string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if node == target {
			results = append(results, newPathResult(
				append([]string(nil), path...),
				append([]float64(nil), strengths...),
			))
			return nil
		}
		if len(path)-1 == maxDegree {
			return nil
		}
		for _, e := range g.adj[node] {
			if onPath[e.to] {
				continue
			}
			onPath[e.to] = true
			path = append(path, e.to)
			strengths = append(strengths, e.strength)
			if err := visit(e.to); err != nil {
				return err
			}
			strengths = strengths[:len(strengths)-1]
			path = path[:len(path)-1]
			onPath[e.to] = false
		}
		return nil
	}
	if err := visit(source); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoPath
	}
	// Strongest first, stable on degree for equal confidence.
	sortPaths(results)
	return results, nil
}

func sortPaths(paths []PathResult) {
	for i := 1; i < len(paths); i++ {
		for j := i; j > 0 && better(paths[j], paths[j-1]); j-- {
			paths[j], paths[j-1] = paths[j-1], paths[j]
		}
	}
}

func better(a, b PathResult) bool {
	if math.Abs(a.Confidence-b.Confidence) > 1e-12 {
		return a.Confidence > b.Confidence
	}
	return a.Degree < b.Degree
}
