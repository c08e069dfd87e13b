package store

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aura-labs/struggle/pkg/models"
)

// ErrNoCheckpoint is returned when a thread has no checkpoint yet.
var ErrNoCheckpoint = errors.New("store: no checkpoint for thread")

// CommitSuperstep atomically persists one superstep's checkpoint, its
// channel blobs, and any pending writes, matching the checkpoint store
// contract: a single transaction per superstep. Rows are upserted by
// primary key, so re-committing the same (thread_id, ns, checkpoint_id,
// task_id, idx, channel) after a crash never double-applies a patch.
func (s *Store) CommitSuperstep(ctx context.Context, timeout time.Duration, cp models.Checkpoint, blobs []models.CheckpointBlob, writes []models.CheckpointWrite) error {
	payload, err := json.Marshal(cp.Payload)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(cp.Metadata)
	if err != nil {
		return err
	}

	return s.TransactionWithTimeout(ctx, timeout, func(tx *gorm.DB) error {
		row := CheckpointRow{
			ThreadID:     cp.ThreadID,
			Ns:           cp.NS,
			CheckpointID: cp.CheckpointID,
			Type:         cp.Type,
			Step:         cp.Step,
			Payload:      payload,
			Metadata:     metadata,
			CreatedAt:    cp.CreatedAt,
		}
		if cp.ParentCheckpointID != "" {
			row.ParentCheckpointID = &cp.ParentCheckpointID
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return err
		}

		for _, b := range blobs {
			blobRow := CheckpointBlobRow{
				ThreadID: b.ThreadID,
				Ns:       b.NS,
				Channel:  b.Channel,
				Version:  b.Version,
				Type:     b.Type,
				Blob:     b.Blob,
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&blobRow).Error; err != nil {
				return err
			}
		}

		for i, w := range writes {
			writeRow := CheckpointWriteRow{
				ThreadID:     w.ThreadID,
				Ns:           w.NS,
				CheckpointID: w.CheckpointID,
				TaskID:       w.TaskID,
				TaskPath:     w.TaskPath,
				Idx:          i,
				Channel:      w.Channel,
				Type:         w.Type,
				Blob:         w.Blob,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "thread_id"}, {Name: "ns"}, {Name: "checkpoint_id"}, {Name: "task_id"}, {Name: "idx"}, {Name: "channel"}},
				UpdateAll: true,
			}).Create(&writeRow).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

// LatestCheckpoint returns the most recent checkpoint for (threadID, ns)
// plus any writes accumulated since it, restoring exactly the state the
// workflow runtime needs to resume execution.
func (s *Store) LatestCheckpoint(ctx context.Context, threadID, ns string) (models.Checkpoint, []models.CheckpointWrite, error) {
	var row CheckpointRow
	err := s.DB.WithContext(ctx).
		Where("thread_id = ? AND ns = ?", threadID, ns).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Checkpoint{}, nil, ErrNoCheckpoint
	}
	if err != nil {
		return models.Checkpoint{}, nil, err
	}

	var writeRows []CheckpointWriteRow
	if err := s.DB.WithContext(ctx).
		Where("thread_id = ? AND ns = ? AND checkpoint_id = ?", threadID, ns, row.CheckpointID).
		Order("idx ASC").
		Find(&writeRows).Error; err != nil {
		return models.Checkpoint{}, nil, err
	}

	var payload, metadata map[string]any
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return models.Checkpoint{}, nil, err
		}
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return models.Checkpoint{}, nil, err
		}
	}

	cp := models.Checkpoint{
		ThreadID:     row.ThreadID,
		NS:           row.Ns,
		CheckpointID: row.CheckpointID,
		Type:         row.Type,
		Step:         row.Step,
		Payload:      payload,
		Metadata:     metadata,
		CreatedAt:    row.CreatedAt,
	}
	if row.ParentCheckpointID != nil {
		cp.ParentCheckpointID = *row.ParentCheckpointID
	}

	writes := make([]models.CheckpointWrite, 0, len(writeRows))
	for _, w := range writeRows {
		writes = append(writes, models.CheckpointWrite{
			ThreadID:     w.ThreadID,
			NS:           w.Ns,
			CheckpointID: w.CheckpointID,
			TaskID:       w.TaskID,
			TaskPath:     w.TaskPath,
			Idx:          w.Idx,
			Channel:      w.Channel,
			Type:         w.Type,
			Blob:         w.Blob,
		})
	}
	return cp, writes, nil
}

// UpsertThread records a thread's lifecycle status.
func (s *Store) UpsertThread(ctx context.Context, threadID string, status models.ThreadStatus, errMsg string) error {
	row := ThreadRow{ThreadID: threadID, Status: string(status), Error: errMsg, UpdatedAt: time.Now()}
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "thread_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "error", "updated_at"}),
		}).
		Create(&row).Error
}

// GetThread returns a thread's recorded status.
func (s *Store) GetThread(ctx context.Context, threadID string) (ThreadRow, error) {
	var row ThreadRow
	err := s.DB.WithContext(ctx).Where("thread_id = ?", threadID).First(&row).Error
	return row, err
}

// ListThreads returns a page of threads ordered by most-recently-updated,
// matching the workflow query list(page, page_size) envelope contract.
func (s *Store) ListThreads(ctx context.Context, page, pageSize int) ([]ThreadRow, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	var total int64
	if err := s.DB.WithContext(ctx).Model(&ThreadRow{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []ThreadRow
	err := s.DB.WithContext(ctx).
		Order("updated_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	return rows, total, err
}
