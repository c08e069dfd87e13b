package knowledge

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// RunMigrations creates the knowledge_chunks table and its pgvector ANN
// index, mirroring the checkpoint store's gormigrate migration-list idiom.
func RunMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_knowledge_chunks",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
					return err
				}
				if err := tx.AutoMigrate(&chunkRecord{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_embedding
					ON knowledge_chunks USING ivfflat (embedding vector_cosine_ops)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("knowledge_chunks")
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("knowledge: gormigrate: %w", err)
	}
	return nil
}
