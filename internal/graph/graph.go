// Package graph runs the scripted execution graph: a DAG of dispatch,
// delay, wait-for-state, and no-op nodes, driven one tick at a time
// from the coordinator's event loop.
package graph

import (
	"encoding/json"
	"time"

	"github.com/roomctl/roomcore/internal/envelope"
)

// NodeKind tags which variant a Node is.
type NodeKind string

const (
	NodeDispatch        NodeKind = "DISPATCH"
	NodeDelay           NodeKind = "DELAY"
	NodeWaitStateEquals NodeKind = "WAIT_STATE_EQUALS"
	NodeNoop            NodeKind = "NOOP"
)

// Node is one DAG node. Only the fields relevant to Kind are
// meaningful; this mirrors the graph document's own JSON/YAML shape
// rather than using a Go union type, since the document is decoded
// directly into it.
type Node struct {
	ID   string   `json:"id" yaml:"id"`
	Kind NodeKind `json:"kind" yaml:"kind"`

	// DISPATCH
	DeviceID    string              `json:"device,omitempty" yaml:"device,omitempty"`
	Action      envelope.Action     `json:"action,omitempty" yaml:"action,omitempty"`
	Parameters  json.RawMessage     `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	SafetyClass envelope.SafetyClass `json:"safety_class,omitempty" yaml:"safety_class,omitempty"`

	// DELAY
	DelayMs int64 `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`

	// WAIT_STATE_EQUALS
	Pointer       string          `json:"pointer,omitempty" yaml:"pointer,omitempty"`
	ExpectedValue json.RawMessage `json:"expected_value,omitempty" yaml:"expected_value,omitempty"`
	TimeoutMs     int64           `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`

	// Next is a single node id or a list, for fan-out. Kept raw:
	// NextIDs turns both shapes into []string when the runner reads
	// it.
	Next json.RawMessage `json:"next,omitempty" yaml:"next,omitempty"`
}

// NextIDs returns Next normalized to a string slice, accepting either
// a bare string or a JSON/YAML array in the source document.
func (n Node) NextIDs() []string {
	if len(n.Next) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(n.Next, &single); err == nil {
		if single == "" {
			return nil
		}
		return []string{single}
	}
	var list []string
	if err := json.Unmarshal(n.Next, &list); err == nil {
		return list
	}
	return nil
}

// Document is a full graph definition as loaded from the graph store.
type Document struct {
	Schema  string   `json:"schema" yaml:"schema"`
	RoomID  string   `json:"room_id" yaml:"room_id"`
	Version int64    `json:"version" yaml:"version"`
	Start   []string `json:"start" yaml:"start"`
	Nodes   []Node   `json:"nodes" yaml:"nodes"`
}

// byID indexes Nodes for lookup.
func (d *Document) byID() map[string]*Node {
	m := make(map[string]*Node, len(d.Nodes))
	for i := range d.Nodes {
		m[d.Nodes[i].ID] = &d.Nodes[i]
	}
	return m
}

// ActiveNode is one token currently live in the running graph.
type ActiveNode struct {
	NodeID       string
	EnteredAt    time.Time
	AwaitingCmd  string // non-empty while a DISPATCH node waits on a command id
	DeferredNext []string
}
