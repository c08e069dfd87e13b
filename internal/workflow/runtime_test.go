//go:build postgres

package workflow

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/aura-labs/struggle/internal/apperr"
	"github.com/aura-labs/struggle/internal/store"
	"github.com/aura-labs/struggle/pkg/models"
)

// TestRuntime_RunAndResume requires a reachable PostgreSQL instance via
// STRUGGLE_TEST_POSTGRES_DSN; it is excluded from the default build via
// the postgres build tag, matching the checkpoint store's own
// integration test.
func TestRuntime_RunAndResume(t *testing.T) {
	dsn := os.Getenv("STRUGGLE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STRUGGLE_TEST_POSTGRES_DSN not set")
	}

	st, err := store.New(store.Config{DSN: dsn, MaxConns: 2, LogLevel: logger.Silent})
	require.NoError(t, err)
	defer st.Close()

	rt := New(st, Config{MaxRetries: 2, InitialBackoff: time.Millisecond, NodeTimeout: time.Second, Namespace: "runtime-test"})

	var secondNodeCalls int
	graph := Graph{
		Name: "resume-test",
		Nodes: []Node{
			{Name: "first", Writes: []string{"violations"}, Fn: func(_ context.Context, _ State) (State, error) {
				return State{"violations": []string{"a", "b"}}, nil
			}},
			{Name: "second", Fn: func(_ context.Context, _ State) (State, error) {
				secondNodeCalls++
				if secondNodeCalls == 1 {
					return nil, apperr.New(apperr.KindInternal, "forced failure")
				}
				return State{}, nil
			}},
		},
	}

	threadID := "runtime-test:" + time.Now().String()

	_, err = rt.Run(context.Background(), threadID, graph, map[string]any{"seed": true})
	require.Error(t, err)

	// The first node's checkpoint survives the second node's failure, so
	// resuming re-enters at "second" rather than re-running "first".
	ws, err := rt.Run(context.Background(), threadID, graph, nil)
	require.NoError(t, err)
	require.Equal(t, models.ThreadCompleted, ws.Status)
	require.Equal(t, 2, secondNodeCalls)

	// violations round-trips through a checkpoint payload as []any; the
	// runtime must still recover it as []string for WorkflowIntermediate.
	require.Equal(t, []string{"a", "b"}, ws.Intermediate.Violations)

	got, err := rt.GetState(context.Background(), threadID)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got.Intermediate.Violations)

	// Every completed superstep's checkpoint links to the prior checkpoint
	// for this (thread_id, ns) via ParentCheckpointID.
	latest, _, err := st.LatestCheckpoint(context.Background(), threadID, "runtime-test")
	require.NoError(t, err)
	require.NotEmpty(t, latest.ParentCheckpointID)
	require.NotEqual(t, latest.CheckpointID, latest.ParentCheckpointID)
}

func TestRuntime_GetState_UnknownThread(t *testing.T) {
	dsn := os.Getenv("STRUGGLE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STRUGGLE_TEST_POSTGRES_DSN not set")
	}
	st, err := store.New(store.Config{DSN: dsn, MaxConns: 2, LogLevel: logger.Silent})
	require.NoError(t, err)
	defer st.Close()

	rt := New(st, Config{Namespace: "runtime-test"})
	_, err = rt.GetState(context.Background(), "does-not-exist")
	require.Error(t, err)
}
