package store

import "time"

// CheckpointRow is the GORM model for the checkpoints table: one row per
// (thread_id, ns, checkpoint_id), parent-linked for resumability.
type CheckpointRow struct {
	ThreadID           string    `gorm:"column:thread_id;primaryKey"`
	Ns                 string    `gorm:"column:ns;primaryKey"`
	CheckpointID       string    `gorm:"column:checkpoint_id;primaryKey"`
	ParentCheckpointID *string   `gorm:"column:parent_checkpoint_id"`
	Type               string    `gorm:"column:type"`
	Step               int       `gorm:"column:step"`
	Payload            []byte    `gorm:"column:payload;type:jsonb"`
	Metadata           []byte    `gorm:"column:metadata;type:jsonb"`
	CreatedAt          time.Time `gorm:"column:created_at"`
}

func (CheckpointRow) TableName() string { return "checkpoints" }

// CheckpointBlobRow is the GORM model for checkpoint_blobs: one row per
// (thread_id, ns, channel, version), holding a channel's serialized value.
type CheckpointBlobRow struct {
	ThreadID string `gorm:"column:thread_id;primaryKey"`
	Ns       string `gorm:"column:ns;primaryKey"`
	Channel  string `gorm:"column:channel;primaryKey"`
	Version  int    `gorm:"column:version;primaryKey"`
	Type     string `gorm:"column:type"`
	Blob     []byte `gorm:"column:blob"`
}

func (CheckpointBlobRow) TableName() string { return "checkpoint_blobs" }

// CheckpointWriteRow is the GORM model for checkpoint_writes: pending
// writes accumulated since the last checkpoint, deduplicated by task_id so
// at-least-once node execution doesn't double-apply a patch.
type CheckpointWriteRow struct {
	ThreadID     string `gorm:"column:thread_id;primaryKey;index:idx_checkpoint_writes_thread_id"`
	Ns           string `gorm:"column:ns;primaryKey"`
	CheckpointID string `gorm:"column:checkpoint_id;primaryKey"`
	TaskID       string `gorm:"column:task_id;primaryKey"`
	Idx          int    `gorm:"column:idx;primaryKey"`
	Channel      string `gorm:"column:channel;primaryKey"`
	TaskPath     string `gorm:"column:task_path"`
	Type         string `gorm:"column:type"`
	Blob         []byte `gorm:"column:blob"`
}

func (CheckpointWriteRow) TableName() string { return "checkpoint_writes" }

// ThreadRow tracks per-thread lifecycle status outside the checkpoint
// chain itself, so list/get queries don't need to materialise the latest
// checkpoint payload just to report status.
type ThreadRow struct {
	ThreadID  string    `gorm:"column:thread_id;primaryKey"`
	Status    string    `gorm:"column:status"`
	Error     string    `gorm:"column:error"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (ThreadRow) TableName() string { return "threads" }
