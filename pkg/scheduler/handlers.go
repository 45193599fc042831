package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Tight5/Zero-Gate-sub000/pkg/graph"
	"github.com/Tight5/Zero-Gate-sub000/pkg/models"
	"github.com/Tight5/Zero-Gate-sub000/pkg/timeline"
	"github.com/pkg/errors"
)

// RegisterDefaultHandlers wires the built-in workflow kinds to their
// engines at the default feature tiers. Tier assignments may be overridden
// afterwards via the gate.
func (s *Scheduler) RegisterDefaultHandlers() {
	s.RegisterHandler(models.GrantTimelineTask, models.EssentialTier, GrantTimelineHandler)
	s.RegisterHandler(models.SponsorAnalysisTask, models.StandardTier, SponsorAnalysisHandler)
	s.RegisterHandler(models.EmailAnalysisTask, models.StandardTier, EmailAnalysisHandler)
	s.RegisterHandler(models.RelationshipMappingTask, models.AdvancedTier, RelationshipMappingHandler)
	s.RegisterHandler(models.ExcelProcessingTask, models.ExperimentalTier, ExcelProcessingHandler)
}

// RelationshipMappingHandler discovers a connection path between two
// entities. A missing path is an ordinary result, never a handler failure.
func RelationshipMappingHandler(ctx context.Context, task *models.WorkflowTask) (interface{}, error) {
	g, err := graph.FromTask(task)
	if err != nil {
		return nil, err
	}
	source, _ := task.Payload["source"].(string)
	target, _ := task.Payload["target"].(string)
	if source == "" || target == "" {
		return nil, errors.New("payload requires source and target node ids")
	}
	opts := graph.PathOptions{}
	if algo, ok := task.Payload["algorithm"].(string); ok {
		opts.Algorithm = graph.Algorithm(algo)
	}
	if deg, ok := payloadInt(task.Payload["max_degree"]); ok {
		opts.MaxDegree = deg
	}
	result, err := g.FindPath(ctx, source, target, opts)
	if errors.Is(err, graph.ErrNoPath) {
		return map[string]interface{}{
			"found":   false,
			"message": "no connection found within seven degrees",
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"found": true,
		"path":  result,
	}, nil
}

// SponsorAnalysisHandler computes network metrics over a sponsor's
// relationship graph: who the key connectors are and how dense the network
// around the sponsor is.
func SponsorAnalysisHandler(ctx context.Context, task *models.WorkflowTask) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g, err := graph.FromTask(task)
	if err != nil {
		return nil, err
	}
	metrics := g.Metrics()
	return map[string]interface{}{
		"node_count":        g.NodeCount(),
		"edge_count":        g.EdgeCount(),
		"density":           metrics.Density,
		"degree_centrality": metrics.DegreeCentrality,
		"betweenness":       metrics.Betweenness,
		"key_connectors":    metrics.KeyConnectors,
	}, nil
}

// GrantTimelineHandler backwards-plans a grant deadline into milestones.
func GrantTimelineHandler(ctx context.Context, task *models.WorkflowTask) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline, err := payloadTime(task.Payload, "deadline")
	if err != nil {
		return nil, err
	}
	start, err := payloadTime(task.Payload, "start")
	if err != nil {
		start = task.CreatedAt
	}
	asOf, err := payloadTime(task.Payload, "as_of")
	if err != nil {
		asOf = time.Now()
	}
	completion := 0.0
	if v, ok := task.Payload["completion"].(float64); ok {
		completion = v
	}
	plan, err := timeline.Generate(deadline, start, asOf, completion)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// EmailAnalysisHandler summarises communication frequency per contact from
// a message list, a cheap proxy for relationship strength.
func EmailAnalysisHandler(ctx context.Context, task *models.WorkflowTask) (interface{}, error) {
	raw, ok := task.Payload["messages"].([]interface{})
	if !ok {
		return nil, errors.New("payload requires a messages list")
	}
	counts := make(map[string]int)
	for i, m := range raw {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		msg, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		sender, _ := msg["from"].(string)
		sender = strings.ToLower(strings.TrimSpace(sender))
		if sender != "" {
			counts[sender]++
		}
	}
	type contact struct {
		Address string `json:"address"`
		Count   int    `json:"count"`
	}
	contacts := make([]contact, 0, len(counts))
	for addr, n := range counts {
		contacts = append(contacts, contact{Address: addr, Count: n})
	}
	sort.Slice(contacts, func(i, j int) bool {
		if contacts[i].Count != contacts[j].Count {
			return contacts[i].Count > contacts[j].Count
		}
		return contacts[i].Address < contacts[j].Address
	})
	return map[string]interface{}{
		"message_count": len(raw),
		"contact_count": len(contacts),
		"top_contacts":  contacts,
	}, nil
}

// ExcelProcessingHandler computes per-column summaries over tabular rows.
func ExcelProcessingHandler(ctx context.Context, task *models.WorkflowTask) (interface{}, error) {
	rawRows, ok := task.Payload["rows"].([]interface{})
	if !ok {
		return nil, errors.New("payload requires a rows list")
	}
	columns := make(map[string]*columnSummary)
	for i, r := range rawRows {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, ok := r.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("row %d is not an object", i)
		}
		for col, val := range row {
			summary := columns[col]
			if summary == nil {
				summary = &columnSummary{}
				columns[col] = summary
			}
			summary.Count++
			if n, isNum := payloadFloat(val); isNum {
				summary.NumericCount++
				summary.Sum += n
			}
		}
	}
	for _, summary := range columns {
		if summary.NumericCount > 0 {
			summary.Mean = summary.Sum / float64(summary.NumericCount)
		}
	}
	return map[string]interface{}{
		"row_count": len(rawRows),
		"columns":   columns,
	}, nil
}

type columnSummary struct {
	Count        int     `json:"count"`
	NumericCount int     `json:"numeric_count"`
	Sum          float64 `json:"sum"`
	Mean         float64 `json:"mean"`
}

func payloadTime(payload map[string]interface{}, key string) (time.Time, error) {
	raw, ok := payload[key]
	if !ok {
		return time.Time{}, errors.Errorf("payload missing %q", key)
	}
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "payload field %q", key)
		}
		return t, nil
	}
	return time.Time{}, errors.Errorf("payload field %q: unsupported type %T", key, raw)
}

func payloadInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

func payloadFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
