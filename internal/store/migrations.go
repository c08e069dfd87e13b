package store

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs the checkpoint schema migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_checkpoint_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&CheckpointRow{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&CheckpointBlobRow{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&CheckpointWriteRow{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&ThreadRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("checkpoints", "checkpoint_blobs", "checkpoint_writes", "threads")
			},
		},
		{
			ID: "002_checkpoint_writes_thread_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_checkpoint_writes_thread_id ON checkpoint_writes(thread_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec(`DROP INDEX IF EXISTS idx_checkpoint_writes_thread_id`).Error
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("gormigrate: %w", err)
	}
	return nil
}
