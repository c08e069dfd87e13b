//go:build postgres

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/aura-labs/struggle/pkg/models"
)

// TestCheckpointStore_CommitAndResume requires a reachable PostgreSQL
// instance via STRUGGLE_TEST_POSTGRES_DSN; it is excluded from the default
// build via the postgres build tag.
func TestCheckpointStore_CommitAndResume(t *testing.T) {
	dsn := os.Getenv("STRUGGLE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STRUGGLE_TEST_POSTGRES_DSN not set")
	}

	s, err := New(Config{DSN: dsn, MaxConns: 2, LogLevel: logger.Silent})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	threadID := "file:/a.go:1"

	cp := models.Checkpoint{
		ThreadID:     threadID,
		NS:           "struggle",
		CheckpointID: "cp-1",
		Type:         "superstep",
		Step:         1,
		Payload:      map[string]any{"is_struggling": true},
		CreatedAt:    time.Now(),
	}
	writes := []models.CheckpointWrite{
		{ThreadID: threadID, NS: "struggle", CheckpointID: "cp-1", TaskID: "detect-1", Channel: "is_struggling", Blob: []byte("true")},
	}

	require.NoError(t, s.CommitSuperstep(ctx, 5*time.Second, cp, nil, writes))

	// Re-committing the same task_id/idx/channel must not duplicate rows.
	require.NoError(t, s.CommitSuperstep(ctx, 5*time.Second, cp, nil, writes))

	restored, restoredWrites, err := s.LatestCheckpoint(ctx, threadID, "struggle")
	require.NoError(t, err)
	require.Equal(t, "cp-1", restored.CheckpointID)
	require.Len(t, restoredWrites, 1)
}
