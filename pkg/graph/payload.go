package graph

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Payloads arrive either as typed slices (in-process callers) or as the
// []interface{} shape encoding/json produces. A marshal round-trip covers
// the latter without a hand-written field walker.

func decodeNodes(v interface{}) ([]Node, error) {
	if v == nil {
		return nil, nil
	}
	if nodes, ok := v.([]Node); ok {
		return nodes, nil
	}
	var nodes []Node
	if err := roundTrip(v, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func decodeEdges(v interface{}) ([]Edge, error) {
	if v == nil {
		return nil, nil
	}
	if edges, ok := v.([]Edge); ok {
		return edges, nil
	}
	var edges []Edge
	if err := roundTrip(v, &edges); err != nil {
		return nil, err
	}
	return edges, nil
}

func roundTrip(in, out interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "marshal payload value")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "unmarshal payload value")
	}
	return nil
}
