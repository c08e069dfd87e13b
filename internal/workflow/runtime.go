package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-labs/struggle/internal/apperr"
	"github.com/aura-labs/struggle/internal/observability"
	"github.com/aura-labs/struggle/internal/store"
	"github.com/aura-labs/struggle/pkg/models"
)

// Config parameterises the runtime's retry and timeout behaviour.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	NodeTimeout    time.Duration
	Namespace      string
}

// Runtime executes Graphs against a checkpoint store, one thread at a
// time, serialising supersteps within a thread and running distinct
// threads concurrently with no ordering guarantee between them.
type Runtime struct {
	cfg    Config
	store  *store.Store
	mu     sync.Mutex
	cancel map[string]*cancelFlag
}

type cancelFlag struct {
	mu        sync.Mutex
	cancelled bool
}

func (c *cancelFlag) set() {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
}

func (c *cancelFlag) isSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func New(st *store.Store, cfg Config) *Runtime {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.NodeTimeout <= 0 {
		cfg.NodeTimeout = 60 * time.Second
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	return &Runtime{cfg: cfg, store: st, cancel: make(map[string]*cancelFlag)}
}

// Cancel flags threadID for cooperative cancellation; the runtime checks
// this flag between supersteps and the result of any in-flight node is
// discarded rather than committed once noticed.
func (r *Runtime) Cancel(threadID string) {
	r.flagFor(threadID).set()
}

func (r *Runtime) flagFor(threadID string) *cancelFlag {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.cancel[threadID]
	if !ok {
		f = &cancelFlag{}
		r.cancel[threadID] = f
	}
	return f
}

// Bind returns a Runner that always executes graph when started, so it can
// be handed to the trigger bridge (C3) as its workflow.Runner dependency
// without the bridge needing to know which concrete graph it is driving.
func (r *Runtime) Bind(graph Graph) *BoundRuntime {
	return &BoundRuntime{rt: r, graph: graph}
}

// BoundRuntime pairs a Runtime with one Graph, implementing the single
// Start(ctx, threadID, inputs) method the trigger bridge's Runner
// interface requires.
type BoundRuntime struct {
	rt    *Runtime
	graph Graph
}

func (b *BoundRuntime) Start(ctx context.Context, threadID string, inputs map[string]any) (models.WorkflowState, error) {
	return b.rt.Run(ctx, threadID, b.graph, inputs)
}

// Run executes graph for threadID, resuming from the latest checkpoint if
// one exists. It returns the final WorkflowState once the graph reaches a
// terminal status (completed, failed, cancelled).
func (r *Runtime) Run(ctx context.Context, threadID string, graph Graph, inputs map[string]any) (models.WorkflowState, error) {
	ns := r.cfg.Namespace
	flag := r.flagFor(threadID)

	state, completedSteps, parentID, err := r.restore(ctx, threadID, ns, inputs)
	if err != nil {
		return models.WorkflowState{}, err
	}

	if err := r.store.UpsertThread(ctx, threadID, models.ThreadRunning, ""); err != nil {
		return models.WorkflowState{}, fmt.Errorf("mark thread running: %w", err)
	}

	for i := completedSteps; i < len(graph.Nodes); i++ {
		if flag.isSet() {
			return r.finish(ctx, threadID, ns, state, i, parentID, models.ThreadCancelled, "")
		}

		node := graph.Nodes[i]
		stepCtx, span := observability.StartSpan(ctx, "workflow.superstep."+node.Name)
		patch, err := r.runNodeWithRetry(stepCtx, flag, node, state)
		span.End()
		if err != nil {
			if flag.isSet() {
				return r.finish(ctx, threadID, ns, state, i, parentID, models.ThreadCancelled, "")
			}
			return r.finish(ctx, threadID, ns, state, i, parentID, models.ThreadFailed, err.Error())
		}

		state = state.ApplyPatch(patch)

		checkpointID, err := r.commit(ctx, threadID, ns, state, i+1, parentID, nil)
		if err != nil {
			return models.WorkflowState{}, err
		}
		parentID = checkpointID
	}

	return r.finish(ctx, threadID, ns, state, len(graph.Nodes), parentID, models.ThreadCompleted, "")
}

// GetState returns the current recorded WorkflowState for threadID without
// executing any further supersteps, for the workflow query/get endpoint.
func (r *Runtime) GetState(ctx context.Context, threadID string) (models.WorkflowState, error) {
	ns := r.cfg.Namespace

	thread, err := r.store.GetThread(ctx, threadID)
	if err != nil {
		return models.WorkflowState{}, fmt.Errorf("get thread: %w", err)
	}

	cp, _, err := r.store.LatestCheckpoint(ctx, threadID, ns)
	if errors.Is(err, store.ErrNoCheckpoint) {
		return models.WorkflowState{
			ThreadID:  threadID,
			Status:    models.ThreadStatus(thread.Status),
			Error:     thread.Error,
			UpdatedAt: thread.UpdatedAt,
			CreatedAt: thread.CreatedAt,
		}, nil
	}
	if err != nil {
		return models.WorkflowState{}, fmt.Errorf("get latest checkpoint: %w", err)
	}

	state := State(cp.Payload)
	ws := models.WorkflowState{
		ThreadID:  threadID,
		Status:    models.ThreadStatus(thread.Status),
		Error:     thread.Error,
		Outputs:   map[string]any(state),
		CreatedAt: thread.CreatedAt,
		UpdatedAt: thread.UpdatedAt,
	}
	if v, ok := state["is_struggling"].(bool); ok {
		ws.IsStruggling = v
	}
	if v, ok := state["rag_context"].(string); ok {
		ws.Intermediate.RagContext = v
	}
	if v, ok := state["lesson_recommendation"].(string); ok {
		ws.Intermediate.LessonRecommendation = v
	}
	if v := stringSliceFrom(state["violations"]); v != nil {
		ws.Intermediate.Violations = v
	}
	return ws, nil
}

// restore loads the latest checkpoint for threadID, returning the
// restored state, the number of supersteps already completed, and that
// checkpoint's checkpoint_id so the next commit can link to it as its
// parent. A thread with no prior checkpoint returns an empty parent id,
// so its first commit is the root of the checkpoint DAG.
func (r *Runtime) restore(ctx context.Context, threadID, ns string, inputs map[string]any) (State, int, string, error) {
	cp, _, err := r.store.LatestCheckpoint(ctx, threadID, ns)
	if errors.Is(err, store.ErrNoCheckpoint) {
		initial := State{}
		for k, v := range inputs {
			initial[k] = v
		}
		return initial, 0, "", nil
	}
	if err != nil {
		return nil, 0, "", fmt.Errorf("restore checkpoint: %w", err)
	}

	state := State(cp.Payload)
	if state == nil {
		state = State{}
	}
	return state, cp.Step, cp.CheckpointID, nil
}

// runNodeWithRetry executes a node's body under a per-node timeout,
// retrying retryable apperr kinds with exponential backoff and jitter up
// to MaxRetries. A non-retryable error short-circuits immediately.
func (r *Runtime) runNodeWithRetry(ctx context.Context, flag *cancelFlag, node Node, state State) (State, error) {
	backoff := r.cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
		if flag.isSet() {
			return nil, lastErr
		}

		nodeCtx, cancel := context.WithTimeout(ctx, r.cfg.NodeTimeout)
		patch, err := node.Fn(nodeCtx, state)
		timedOut := nodeCtx.Err() != nil
		cancel()

		if err == nil {
			return patch, nil
		}
		lastErr = err

		if timedOut {
			lastErr = apperr.Wrap(apperr.KindUpstreamTimeout, err, fmt.Sprintf("node %s timed out", node.Name))
		}

		if !apperr.IsRetryable(apperr.KindOf(lastErr)) {
			return nil, lastErr
		}

		observability.RecordRetry(ctx)
		if attempt < r.cfg.MaxRetries-1 {
			jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
			select {
			case <-time.After(backoff + jitter):
				backoff *= 2
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// commit writes a new checkpoint for step, linked to parentID (the
// checkpoint_id of the prior superstep for this thread/ns, or "" for the
// first checkpoint of a thread), and returns the new checkpoint's id so
// the caller can thread it forward as the next commit's parent.
func (r *Runtime) commit(ctx context.Context, threadID, ns string, state State, step int, parentID string, metadata map[string]any) (string, error) {
	cp := models.Checkpoint{
		ThreadID:           threadID,
		NS:                 ns,
		CheckpointID:       uuid.NewString(),
		ParentCheckpointID: parentID,
		Type:               "superstep",
		Step:               step,
		Payload:            map[string]any(state),
		Metadata:           metadata,
		CreatedAt:          time.Now(),
	}
	writes := []models.CheckpointWrite{
		{ThreadID: threadID, NS: ns, CheckpointID: cp.CheckpointID, TaskID: uuid.NewString(), Channel: "state", Type: "patch"},
	}
	if err := r.store.CommitSuperstep(ctx, r.cfg.NodeTimeout, cp, nil, writes); err != nil {
		return "", err
	}
	return cp.CheckpointID, nil
}

func (r *Runtime) finish(ctx context.Context, threadID, ns string, state State, step int, parentID string, status models.ThreadStatus, errMsg string) (models.WorkflowState, error) {
	var metadata map[string]any
	if errMsg != "" {
		metadata = map[string]any{"error": errMsg}
	}
	if _, err := r.commit(ctx, threadID, ns, state, step, parentID, metadata); err != nil {
		return models.WorkflowState{}, err
	}
	if err := r.store.UpsertThread(ctx, threadID, status, errMsg); err != nil {
		return models.WorkflowState{}, err
	}

	now := time.Now()
	ws := models.WorkflowState{
		ThreadID:  threadID,
		Status:    status,
		Error:     errMsg,
		Outputs:   map[string]any(state),
		UpdatedAt: now,
	}
	if v, ok := state["is_struggling"].(bool); ok {
		ws.IsStruggling = v
	}
	if v, ok := state["rag_context"].(string); ok {
		ws.Intermediate.RagContext = v
	}
	if v, ok := state["lesson_recommendation"].(string); ok {
		ws.Intermediate.LessonRecommendation = v
	}
	if v := stringSliceFrom(state["violations"]); v != nil {
		ws.Intermediate.Violations = v
	}
	return ws, nil
}

// stringSliceFrom extracts a []string from a channel value that may be
// the concrete []string a node wrote, or the []any a checkpoint payload
// round-trips to after a JSON marshal/unmarshal cycle.
func stringSliceFrom(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
