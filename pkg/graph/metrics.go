package graph

import "sort"

// Metrics are computed once per graph snapshot and cached for the duration
// of the job holding the snapshot. Nothing persists across jobs because the
// graph is rebuilt per call.
type Metrics struct {
	DegreeCentrality map[string]int     `json:"degree_centrality"`
	Betweenness      map[string]float64 `json:"betweenness"`
	Density          float64            `json:"density"`
	KeyConnectors    []string           `json:"key_connectors"`
}

// Metrics computes degree centrality, a betweenness approximation for key
// connector identification, and network density.
func (g *Graph) Metrics() Metrics {
	g.metricsOnce.Do(func() {
		g.metrics = g.computeMetrics()
	})
	return g.metrics
}

func (g *Graph) computeMetrics() Metrics {
	m := Metrics{
		DegreeCentrality: make(map[string]int, len(g.nodes)),
		Betweenness:      make(map[string]float64, len(g.nodes)),
	}
	for id := range g.nodes {
		m.DegreeCentrality[id] = len(g.adj[id])
		m.Betweenness[id] = 0
	}

	// Betweenness approximation: run a BFS from every node and credit each
	// interior node of the discovered shortest-path tree. Cheaper than
	// Brandes and good enough to surface key connectors.
	for source := range g.nodes {
		prev := g.shortestPathTree(source)
		for node := range g.nodes {
			if node == source {
				continue
			}
			for cur := prev[node]; cur != "" && cur != source; cur = prev[cur] {
				m.Betweenness[cur]++
			}
		}
	}
	n := len(g.nodes)
	if norm := float64((n - 1) * (n - 2)); norm > 0 {
		for id := range m.Betweenness {
			m.Betweenness[id] /= norm
		}
	}

	if n > 1 {
		maxEdges := float64(n*(n-1)) / 2
		m.Density = float64(g.edgeCnt) / maxEdges
	}

	m.KeyConnectors = topConnectors(m.Betweenness, 5)
	return m
}

// shortestPathTree returns each reachable node's predecessor on a shortest
// unweighted path from source.
func (g *Graph) shortestPathTree(source string) map[string]string {
	prev := map[string]string{}
	visited := map[string]bool{source: true}
	queue := []string{source}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, e := range g.adj[node] {
			if visited[e.to] {
				continue
			}
			visited[e.to] = true
			prev[e.to] = node
			queue = append(queue, e.to)
		}
	}
	return prev
}

func topConnectors(betweenness map[string]float64, limit int) []string {
	ids := make([]string, 0, len(betweenness))
	for id, score := range betweenness {
		if score > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if betweenness[ids[i]] != betweenness[ids[j]] {
			return betweenness[ids[i]] > betweenness[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}
