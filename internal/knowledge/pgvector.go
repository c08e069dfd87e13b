package knowledge

import (
	"context"
	"database/sql"
	"fmt"

	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aura-labs/struggle/pkg/models"
)

// chunkRecord is the GORM model for the knowledge_chunks table: one row
// per KnowledgeChunk, grounded on the teacher's pgvector vectorRecord
// shape (flat columns plus a pgvector.Vector embedding column).
type chunkRecord struct {
	ID         string       `gorm:"column:id;primaryKey"`
	Content    string       `gorm:"column:content"`
	Embedding  pgvec.Vector `gorm:"column:embedding"`
	Path       string       `gorm:"column:path"`
	Language   string       `gorm:"column:language"`
	Difficulty string       `gorm:"column:difficulty"`
	Keywords   string       `gorm:"column:keywords"`
	ChunkIx    int          `gorm:"column:chunk_ix"`
}

func (chunkRecord) TableName() string { return "knowledge_chunks" }

// PGVectorIndex queries knowledge chunks via PostgreSQL+pgvector cosine
// distance, exactly the teacher's `<=>` operator idiom in
// internal/vector/pgvector/client.go, adapted from the teacher's flat
// vectorRecord/"vectors" table to this domain's KnowledgeChunk/
// "knowledge_chunks" table.
type PGVectorIndex struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

func NewPGVectorIndex(db *gorm.DB) (*PGVectorIndex, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("knowledge: get sql.DB: %w", err)
	}
	return &PGVectorIndex{db: db, sqlDB: sqlDB}, nil
}

// Query performs a cosine-distance nearest-neighbour search and returns
// chunks together with their similarity (1 - distance), ordered nearest
// first.
func (idx *PGVectorIndex) Query(ctx context.Context, embedding []float32, topK int) ([]models.KnowledgeChunk, []float64, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	queryVec := pgvec.NewVector(embedding)

	const q = `
		SELECT id, content, path, language, difficulty, keywords, chunk_ix,
		       embedding <=> $1 AS distance
		FROM knowledge_chunks
		ORDER BY distance
		LIMIT $2`

	rows, err := idx.sqlDB.QueryContext(ctx, q, queryVec, topK)
	if err != nil {
		return nil, nil, fmt.Errorf("knowledge: query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.KnowledgeChunk
	var similarities []float64
	for rows.Next() {
		var (
			id, content, path, language, difficulty, keywords string
			chunkIx                                            int
			distance                                           float64
		)
		if err := rows.Scan(&id, &content, &path, &language, &difficulty, &keywords, &chunkIx, &distance); err != nil {
			return nil, nil, fmt.Errorf("knowledge: scan chunk row: %w", err)
		}
		chunks = append(chunks, models.KnowledgeChunk{
			ID:      id,
			Content: content,
			Metadata: models.ChunkMetadata{
				Language:   language,
				Difficulty: difficulty,
				Path:       path,
				Keywords:   splitKeywords(keywords),
				ChunkIx:    chunkIx,
			},
		})
		similarities = append(similarities, 1-distance)
	}
	return chunks, similarities, rows.Err()
}

// Upsert writes or replaces a knowledge chunk's embedding. Ingestion is out
// of scope for this system, but the retrieval interface needs a writer
// path for tests and for whatever out-of-process ingestion job populates
// the table.
func (idx *PGVectorIndex) Upsert(ctx context.Context, chunk models.KnowledgeChunk) error {
	rec := chunkRecord{
		ID:         chunk.ID,
		Content:    chunk.Content,
		Embedding:  pgvec.NewVector(chunk.Embedding),
		Path:       chunk.Metadata.Path,
		Language:   chunk.Metadata.Language,
		Difficulty: chunk.Metadata.Difficulty,
		Keywords:   joinKeywords(chunk.Metadata.Keywords),
		ChunkIx:    chunk.Metadata.ChunkIx,
	}
	return idx.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&rec).Error
}

func splitKeywords(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func joinKeywords(ks []string) string {
	out := ""
	for i, k := range ks {
		if i > 0 {
			out += ","
		}
		out += k
	}
	return out
}
