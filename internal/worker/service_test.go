package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-labs/struggle/internal/aggregator"
	"github.com/aura-labs/struggle/internal/trigger"
	"github.com/aura-labs/struggle/pkg/models"
)

type fakeRunner struct {
	calls int
}

func (f *fakeRunner) Start(_ context.Context, threadID string, _ map[string]any) (models.WorkflowState, error) {
	f.calls++
	return models.WorkflowState{ThreadID: threadID, Status: models.ThreadCompleted}, nil
}

func TestTriggerBridge_Submit_GatesOnAggregatorCooldown(t *testing.T) {
	runner := &fakeRunner{}
	tb := &triggerBridge{
		bridge: trigger.NewBridge(runner, 30_000),
		agg: aggregator.New(aggregator.Config{
			Weights:          aggregator.Weights{models.SignalTerminal: 1.0},
			TriggerThreshold: 0.5,
			CooldownMs:       60_000,
		}),
	}

	req := submissionRequest{
		FileKey:         "file.go",
		ClientTimestamp: 1_000,
		Signals:         []models.Signal{{Type: models.SignalTerminal, Score: 0.9}},
	}

	ws, err := tb.submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.ThreadCompleted, ws.Status)
	assert.Equal(t, 1, runner.calls)

	req.ClientTimestamp = 1_500 // well within the cooldown window
	ws2, err := tb.submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.ThreadPending, ws2.Status)
	assert.False(t, ws2.IsStruggling)
	assert.Equal(t, 1, runner.calls, "cooldown should suppress a second run of the runtime")
}

func TestTriggerBridge_Submit_BelowThresholdNeverReachesRuntime(t *testing.T) {
	runner := &fakeRunner{}
	tb := &triggerBridge{
		bridge: trigger.NewBridge(runner, 30_000),
		agg: aggregator.New(aggregator.Config{
			TriggerThreshold: 0.9,
			CooldownMs:       60_000,
		}),
	}

	req := submissionRequest{
		FileKey:         "file.go",
		ClientTimestamp: 1_000,
		Signals:         []models.Signal{{Type: models.SignalUndoRedo, Score: 0.1}},
	}

	ws, err := tb.submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.ThreadPending, ws.Status)
	assert.Equal(t, 0, runner.calls)
}

func TestTriggerBridge_Submit_ClientSnoozeExtendsCooldown(t *testing.T) {
	runner := &fakeRunner{}
	tb := &triggerBridge{
		bridge: trigger.NewBridge(runner, 30_000),
		agg: aggregator.New(aggregator.Config{
			Weights:          aggregator.Weights{models.SignalTerminal: 1.0},
			TriggerThreshold: 0.5,
			CooldownMs:       1,
		}),
	}

	req := submissionRequest{
		FileKey:         "file.go",
		ClientTimestamp: 1_000,
		Signals:         []models.Signal{{Type: models.SignalTerminal, Score: 0.9}},
		SnoozedUntilMs:  5_000,
	}

	ws, err := tb.submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.ThreadPending, ws.Status, "client snooze should suppress the run even though the server cooldown alone would have allowed it")
	assert.Equal(t, 0, runner.calls)
}

func TestTriggerBridge_Submit_NilAggregatorAlwaysForwardsToRuntime(t *testing.T) {
	runner := &fakeRunner{}
	tb := &triggerBridge{bridge: trigger.NewBridge(runner, 30_000)}

	req := submissionRequest{FileKey: "diff.go", ClientTimestamp: 1_000}
	ws, err := tb.submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.ThreadCompleted, ws.Status)
	assert.Equal(t, 1, runner.calls)
}
