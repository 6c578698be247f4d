// Package graph implements the typed in-memory workflow graph described in
// spec.md §3–4.1: blocks, edges, and loop/parallel subflows, plus the
// adjacency caches the executor and path tracker need to walk it.
//
// Field names on Block/Edge mirror the teacher's service.WorkflowNode and
// service.WorkflowEdge shape (Source/Target, SourceHandle/TargetHandle) so
// the serialized workflow state in spec.md §6 round-trips byte-identically.
package graph

import (
	"encoding/json"
	"fmt"

	"github.com/rakunlabs/flowlane/internal/flowerrors"
)

// BlockType enumerates the block kinds spec.md §3 names.
type BlockType string

const (
	BlockStarter   BlockType = "starter"
	BlockFunction  BlockType = "function"
	BlockCondition BlockType = "condition"
	BlockRouter    BlockType = "router"
	BlockResponse  BlockType = "response"
	BlockLoop      BlockType = "loop"
	BlockParallel  BlockType = "parallel"
	BlockTrigger   BlockType = "trigger"
	BlockAgent     BlockType = "agent"
	// Any other Type value is treated as a generic tool block, dispatched
	// through the tool registry by its type name (the toolId).
)

// SubBlock is one configured field on a block: {type, value}. Value may
// contain unresolved <block.field> / {{ENV}} reference tokens.
type SubBlock struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Block is one unit of computation in a workflow graph (spec.md §3).
type Block struct {
	ID        string              `json:"id"`
	Type      string              `json:"type"`
	Name      string              `json:"name"`
	SubBlocks map[string]SubBlock `json:"subBlocks"`
	Outputs   map[string]any      `json:"outputs"`
	Enabled   bool                `json:"enabled"`
	Position  Position            `json:"position"`
}

// Position is layout-only; it carries no execution semantics.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a directed connection between two blocks (spec.md §3). SourceHandle
// encodes the semantic branch for condition/router blocks, e.g.
// "condition-<conditionId>".
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// SubflowType distinguishes loop from parallel subflows.
type SubflowType string

const (
	SubflowLoop     SubflowType = "loop"
	SubflowParallel SubflowType = "parallel"
)

// IterationType distinguishes fixed-count loops from collection-driven ones.
type IterationType string

const (
	IterationFixed      IterationType = "fixed"
	IterationCollection IterationType = "collection"
)

// Subflow groups a set of blocks into an iteration scope (spec.md §3).
type Subflow struct {
	ID             string
	Type           SubflowType
	Nodes          map[string]bool
	IterationCount int
	IterationType  IterationType
	ParallelCount  int
	Collection     string // sub-block reference that resolves to the collection
}

// Serialized is the durable contract described in spec.md §6 — the value
// stored in workflow.state. Implementations must round-trip this shape
// byte-identically where referenced by ID.
type Serialized struct {
	Blocks    map[string]Block    `json:"blocks"`
	Edges     []Edge              `json:"edges"`
	Loops     map[string]RawFlow  `json:"loops"`
	Parallels map[string]RawFlow  `json:"parallels"`
	Variables map[string]any      `json:"variables"`
	Metadata  map[string]any      `json:"metadata"`
}

// RawFlow is the wire shape of a loop/parallel entry before it is resolved
// into a Subflow.
type RawFlow struct {
	Nodes          []string `json:"nodes"`
	IterationCount int      `json:"iterationCount,omitempty"`
	IterationType  string   `json:"iterationType,omitempty"`
	ParallelCount  int      `json:"parallelCount,omitempty"`
	Collection     string   `json:"collection,omitempty"`
}

// Graph is the loaded, cached in-memory workflow model (spec.md §4.1).
type Graph struct {
	Blocks map[string]Block
	Edges  []Edge

	StarterID string
	Subflows  map[string]*Subflow

	incoming           map[string][]Edge
	outgoing           map[string][]Edge
	subflowOf          map[string]string
	outgoingByHandle   map[string]map[string][]Edge // blockID -> sourceHandle -> edges
}

// Parse decodes the durable JSON shape from spec.md §6.
func Parse(state []byte) (Serialized, error) {
	var s Serialized
	if err := json.Unmarshal(state, &s); err != nil {
		return Serialized{}, fmt.Errorf("graph: parse serialized state: %w", err)
	}
	return s, nil
}

// Load builds a Graph from the durable shape, computing and caching the
// adjacency structures spec.md §4.1 names. It fails if the starter block is
// absent or non-unique, or an edge references a nonexistent block.
func Load(s Serialized) (*Graph, error) {
	g := &Graph{
		Blocks:           s.Blocks,
		Edges:            s.Edges,
		Subflows:         make(map[string]*Subflow),
		incoming:         make(map[string][]Edge),
		outgoing:         make(map[string][]Edge),
		subflowOf:        make(map[string]string),
		outgoingByHandle: make(map[string]map[string][]Edge),
	}

	for _, e := range s.Edges {
		if _, ok := g.Blocks[e.Source]; !ok {
			return nil, fmt.Errorf("graph: edge %q: source block %q not found", e.ID, e.Source)
		}
		if _, ok := g.Blocks[e.Target]; !ok {
			return nil, fmt.Errorf("graph: edge %q: target block %q not found", e.ID, e.Target)
		}

		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target] = append(g.incoming[e.Target], e)

		if g.outgoingByHandle[e.Source] == nil {
			g.outgoingByHandle[e.Source] = make(map[string][]Edge)
		}
		handle := e.SourceHandle
		g.outgoingByHandle[e.Source][handle] = append(g.outgoingByHandle[e.Source][handle], e)
	}

	starterCount := 0
	for id, b := range g.Blocks {
		if BlockType(b.Type) == BlockStarter {
			g.StarterID = id
			starterCount++
		}
	}
	if starterCount != 1 {
		return nil, fmt.Errorf("graph: %w (found %d)", flowerrors.ErrNoStarterBlock, starterCount)
	}

	for id, raw := range s.Loops {
		g.addSubflow(id, SubflowLoop, raw)
	}
	for id, raw := range s.Parallels {
		g.addSubflow(id, SubflowParallel, raw)
	}

	return g, nil
}

func (g *Graph) addSubflow(id string, t SubflowType, raw RawFlow) {
	sf := &Subflow{
		ID:             id,
		Type:           t,
		Nodes:          make(map[string]bool, len(raw.Nodes)),
		IterationCount: raw.IterationCount,
		IterationType:  IterationType(raw.IterationType),
		ParallelCount:  raw.ParallelCount,
		Collection:     raw.Collection,
	}
	if sf.IterationType == "" {
		sf.IterationType = IterationFixed
	}
	for _, nodeID := range raw.Nodes {
		sf.Nodes[nodeID] = true
		g.subflowOf[nodeID] = id
	}
	g.Subflows[id] = sf
}

// Incoming returns the edges whose target is blockID.
func (g *Graph) Incoming(blockID string) []Edge { return g.incoming[blockID] }

// Outgoing returns the edges whose source is blockID.
func (g *Graph) Outgoing(blockID string) []Edge { return g.outgoing[blockID] }

// OutgoingByHandle returns the edges leaving blockID on a specific
// sourceHandle ("" is the default/unnamed handle).
func (g *Graph) OutgoingByHandle(blockID, handle string) []Edge {
	return g.outgoingByHandle[blockID][handle]
}

// SubflowOf returns the owning loop/parallel id for blockID, and whether it
// belongs to one.
func (g *Graph) SubflowOf(blockID string) (string, bool) {
	id, ok := g.subflowOf[blockID]
	return id, ok
}

// Block looks up a block by id, returning ok=false if absent.
func (g *Graph) Block(id string) (Block, bool) {
	b, ok := g.Blocks[id]
	return b, ok
}

// BlockByName finds a block by its display name, used by the resolver for
// <blockName.field> tokens. Returns ok=false if zero or more than one block
// shares the name (ambiguous names resolve by id only).
func (g *Graph) BlockByName(name string) (Block, bool) {
	var found Block
	count := 0
	for _, b := range g.Blocks {
		if b.Name == name {
			found = b
			count++
		}
	}
	if count != 1 {
		return Block{}, false
	}
	return found, true
}
