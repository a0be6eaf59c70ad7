package graph

import (
	"encoding/json"
	"fmt"
)

// NodeKind identifies what a node does. Kinds introduced by newer editors are
// preserved but never resolved.
type NodeKind string

const (
	KindStart   NodeKind = "start"
	KindProcess NodeKind = "process"
)

// Graph is the node/edge structure of one agent. Node order is the editor's
// insertion order.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a single canvas element. Kind is serialized under "type", which is
// what the canvas library uses.
type Node struct {
	ID       string   `json:"id"`
	Kind     NodeKind `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// Position holds x/y coordinates for rendering the node on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData is the kind-dependent payload. Start nodes carry nothing, process
// nodes carry the AI configuration. Keys this version does not know about are
// kept in Extra and written back unchanged.
type NodeData struct {
	Label        string `json:"label,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var nodeDataKeys = map[string]bool{"label": true, "model": true, "systemPrompt": true}

// UnmarshalJSON splits the payload into the known fields and Extra.
func (d *NodeData) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	type known NodeData
	var k known
	if err := json.Unmarshal(b, &k); err != nil {
		return err
	}
	*d = NodeData(k)
	d.Extra = nil

	for key, v := range raw {
		if nodeDataKeys[key] {
			continue
		}
		if d.Extra == nil {
			d.Extra = make(map[string]json.RawMessage)
		}
		d.Extra[key] = v
	}
	return nil
}

// MarshalJSON writes the known fields merged with Extra. Known fields win
// over an Extra entry of the same name.
func (d NodeData) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.Extra)+3)
	for key, v := range d.Extra {
		out[key] = v
	}
	for key, v := range map[string]string{"label": d.Label, "model": d.Model, "systemPrompt": d.SystemPrompt} {
		if v == "" {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode node %s: %w", key, err)
		}
		out[key] = b
	}
	return json.Marshal(out)
}

// Edge is a directed visual connection. Execution never traverses edges.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// FindFirstNodeOfKind scans nodes in stored order and returns the first node
// of the given kind.
func FindFirstNodeOfKind(g Graph, kind NodeKind) (Node, bool) {
	for _, n := range g.Nodes {
		if n.Kind == kind {
			return n, true
		}
	}
	return Node{}, false
}

// NodeByID returns the first node with the given id.
func (g Graph) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
