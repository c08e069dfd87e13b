package models

import "time"

// Checkpoint is a durable snapshot of a thread's channel state at a
// superstep boundary. Checkpoints form a DAG via ParentCheckpointID; the
// store never allows cycles.
type Checkpoint struct {
	CreatedAt          time.Time      `json:"created_at"`
	ThreadID           string         `json:"thread_id"`
	NS                 string         `json:"ns"`
	CheckpointID       string         `json:"checkpoint_id"`
	ParentCheckpointID string         `json:"parent_checkpoint_id,omitempty"`
	Type               string         `json:"type"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Payload            map[string]any `json:"payload"`
	Step               int            `json:"step"`
}

// CheckpointBlob is the durable value of one channel at one version within
// a checkpoint.
type CheckpointBlob struct {
	ThreadID string `json:"thread_id"`
	NS       string `json:"ns"`
	Channel  string `json:"channel"`
	Type     string `json:"type"`
	Blob     []byte `json:"blob"`
	Version  int    `json:"version"`
}

// CheckpointWrite is a not-yet-folded channel update for a task within a
// superstep, keyed so duplicate task execution can be deduplicated.
type CheckpointWrite struct {
	ThreadID     string `json:"thread_id"`
	NS           string `json:"ns"`
	CheckpointID string `json:"checkpoint_id"`
	TaskID       string `json:"task_id"`
	TaskPath     string `json:"task_path"`
	Channel      string `json:"channel"`
	Type         string `json:"type"`
	Blob         []byte `json:"blob"`
	Idx          int    `json:"idx"`
}
