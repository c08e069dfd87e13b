// Package workflow implements the checkpointed workflow runtime (C4): it
// executes a directed graph of nodes in supersteps, persisting a new
// checkpoint after each step so execution can resume from a crash, and
// enforces per-node timeouts, retryable-error backoff, and cooperative
// cancellation.
package workflow

import "context"

// State is the channel map a graph's nodes read from and write patches
// into. Channels are looked up by name; a node declares which channels it
// reads and writes so the runtime can, in principle, schedule
// non-overlapping nodes concurrently (the concrete graphs in this package
// are linear chains, so the scheduler currently runs nodes in declared
// order, but the Reads/Writes metadata is what a future fan-out scheduler
// would key off of).
type State map[string]any

// NodeFunc is a node body: a near-pure function from the current channel
// state to a patch of channel updates. Node bodies may perform I/O
// (retrieval, LLM calls) at their declared suspension points.
type NodeFunc func(ctx context.Context, state State) (patch State, err error)

// Node is one scheduled unit of graph execution.
type Node struct {
	Name   string
	Reads  []string
	Writes []string
	Fn     NodeFunc
}

// Graph is a named, ordered sequence of Nodes forming the directed graph
// G = (N, E). Ordering encodes the edges: node i's patch is folded into
// state before node i+1 runs.
type Graph struct {
	Name  string
	Nodes []Node
}

// ApplyPatch folds a patch into state using a last-write-wins reducer per
// channel, the default (and only) reducer this runtime implements; nodes
// that need accumulation (e.g. appending to history) read the prior value
// out of state themselves and write back the combined result.
func (s State) ApplyPatch(patch State) State {
	if s == nil {
		s = make(State, len(patch))
	}
	for k, v := range patch {
		s[k] = v
	}
	return s
}

// Clone returns a shallow copy of State, so callers can apply patches
// without mutating a checkpoint's restored snapshot.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
