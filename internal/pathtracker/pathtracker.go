// Package pathtracker maintains the activeExecutionPath described in
// spec.md §4.3: the set of blocks eligible to run given the router and
// condition decisions observed so far, scoped per loop/parallel iteration.
//
// It generalizes the teacher's NodeResultSelection/isPortActive idea
// (engine.go) from "only selection-result node kinds route" into a
// standalone activation set any block kind can consult, as spec.md §4.3
// requires.
package pathtracker

import "github.com/rakunlabs/flowlane/internal/graph"

// Tracker tracks which blocks are eligible to run for one execution (or one
// loop/parallel iteration frame, per spec.md §9's note that each iteration
// is a fresh execution frame).
type Tracker struct {
	g *graph.Graph

	active  map[string]bool // blocks eligible to run
	dead    map[string]bool // blocks proven unreachable
	decided map[string]bool // blocks whose routing/condition decision has been recorded
}

// New creates a Tracker seeded with the starter block active, per spec.md
// §4.5 step 1.
func New(g *graph.Graph, seed string) *Tracker {
	t := &Tracker{
		g:       g,
		active:  map[string]bool{seed: true},
		dead:    map[string]bool{},
		decided: map[string]bool{},
	}
	return t
}

// IsActive reports whether blockID is currently eligible to run.
func (t *Tracker) IsActive(blockID string) bool { return t.active[blockID] }

// IsDead reports whether blockID has been proven unreachable: its only
// inbound edge(s) all come from inactive/dead branches (spec.md §4.3
// invariant 3).
func (t *Tracker) IsDead(blockID string) bool { return t.dead[blockID] }

// MarkRouterDecision activates chosen and marks every sibling direct
// successor (and anything only reachable through them) dead, per spec.md
// §4.3's router rule.
func (t *Tracker) MarkRouterDecision(routerID, chosen string) {
	t.decided[routerID] = true
	for _, e := range t.g.Outgoing(routerID) {
		if e.Target == chosen {
			t.activate(e.Target)
		} else {
			t.killBranch(e.Target)
		}
	}
}

// MarkConditionDecision activates the target of the edge whose SourceHandle
// is "condition-<conditionID>" and kills the other branches, per spec.md
// §4.3's condition rule.
func (t *Tracker) MarkConditionDecision(conditionBlockID, conditionID string) {
	t.decided[conditionBlockID] = true
	chosenHandle := "condition-" + conditionID
	for handle, edges := range t.edgesByHandle(conditionBlockID) {
		for _, e := range edges {
			if handle == chosenHandle {
				t.activate(e.Target)
			} else {
				t.killBranch(e.Target)
			}
		}
	}
}

// Activate marks blockID itself as eligible to run, without touching its
// siblings. Used when only specific successor edges (not all of them)
// should be activated — e.g. a loop/parallel block's exit edges, which
// skip the edges leading back into its own subflow body.
func (t *Tracker) Activate(blockID string) { t.activate(blockID) }

// ActivateSuccessors activates every direct successor of blockID, whatever
// the edge's sourceHandle. Used after ordinary (non-branching) blocks
// complete, and for disabled blocks that are skipped.
func (t *Tracker) ActivateSuccessors(blockID string) {
	for _, e := range t.g.Outgoing(blockID) {
		t.activate(e.Target)
	}
}

// Ready reports whether blockID's inbound dependencies are satisfied: every
// predecessor is either executed (satisfied via caller bookkeeping) or dead,
// and blockID itself is active. Callers pass the set of already-executed
// block ids.
func (t *Tracker) Ready(blockID string, executed map[string]bool) bool {
	if !t.active[blockID] {
		return false
	}
	incoming := t.g.Incoming(blockID)
	if len(incoming) == 0 {
		return true
	}
	for _, e := range incoming {
		if !executed[e.Source] && !t.dead[e.Source] {
			return false
		}
	}
	return true
}

func (t *Tracker) activate(blockID string) {
	if t.dead[blockID] {
		// A block reachable from both a live and a dead branch stays live;
		// clear any earlier dead mark.
		delete(t.dead, blockID)
	}
	t.active[blockID] = true
}

// killBranch marks blockID and everything transitively reachable from it as
// dead, unless some other still-active path also reaches it (spec.md §4.3
// invariant 3). A node with at least one active inbound edge is not killed;
// an edge out of a router/condition block whose decision is already
// recorded does not count as active.
func (t *Tracker) killBranch(blockID string) {
	if t.active[blockID] {
		return
	}
	if t.hasActiveInbound(blockID) {
		return
	}
	if t.dead[blockID] {
		return
	}
	t.dead[blockID] = true
	for _, e := range t.g.Outgoing(blockID) {
		t.killBranch(e.Target)
	}
}

func (t *Tracker) hasActiveInbound(blockID string) bool {
	for _, e := range t.g.Incoming(blockID) {
		if t.active[e.Source] && !t.dead[e.Source] && !t.decided[e.Source] {
			return true
		}
	}
	return false
}

func (t *Tracker) edgesByHandle(blockID string) map[string][]graph.Edge {
	result := make(map[string][]graph.Edge)
	for _, e := range t.g.Outgoing(blockID) {
		result[e.SourceHandle] = append(result[e.SourceHandle], e)
	}
	return result
}
