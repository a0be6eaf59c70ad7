package graph

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EmptyGraph is the definition written when a workflow is created.
func EmptyGraph() Graph {
	return Graph{Nodes: []Node{}, Edges: []Edge{}}
}

// DefaultGraph is the seed shown when a stored definition has no nodes. It is
// display-only and must reach storage through an explicit save.
func DefaultGraph() Graph {
	return Graph{
		Nodes: []Node{
			{ID: "start-1", Kind: KindStart, Position: Position{X: 50, Y: 300}},
			{ID: "process-1", Kind: KindProcess, Position: Position{X: 300, Y: 280}},
		},
		Edges: []Edge{},
	}
}

// Encode serializes g into the canonical {"nodes":[...],"edges":[...]} form.
func Encode(g Graph) (string, error) {
	if g.Nodes == nil {
		g.Nodes = []Node{}
	}
	if g.Edges == nil {
		g.Edges = []Edge{}
	}
	b, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("failed to encode graph: %w", err)
	}
	return string(b), nil
}

// Decode parses a stored definition. The returned graph is always usable: if
// the definition is empty, malformed or has no nodes, DefaultGraph is returned
// together with a *DecodeError describing why.
func Decode(definition string) (Graph, error) {
	if strings.TrimSpace(definition) == "" {
		return DefaultGraph(), &DecodeError{Reason: ReasonEmpty}
	}

	var g Graph
	if err := json.Unmarshal([]byte(definition), &g); err != nil {
		return DefaultGraph(), &DecodeError{Reason: ReasonMalformed, Err: err}
	}
	if len(g.Nodes) == 0 {
		return DefaultGraph(), &DecodeError{Reason: ReasonNoNodes}
	}
	if g.Edges == nil {
		g.Edges = []Edge{}
	}
	return g, nil
}
