package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// rowRecord is the gorm mapping for a module memory table. The table name is
// dynamic, so it is always addressed via db.Table(...).
type rowRecord struct {
	ID           uuid.UUID      `gorm:"primaryKey;type:uuid;column:id"`
	UserID       string         `gorm:"not null;column:user_id"`
	Content      string         `gorm:"not null;column:content"`
	Embedding    pgvec.Vector   `gorm:"column:embedding"`
	Metadata     map[string]any `gorm:"type:jsonb;serializer:json;column:metadata"`
	CreatedAt    time.Time      `gorm:"not null;column:created_at"`
	UpdatedAt    time.Time      `gorm:"not null;column:updated_at"`
	LastAccessed time.Time      `gorm:"not null;column:last_accessed"`
	AccessCount  int            `gorm:"not null;default:0;column:access_count"`
}

// PGStore implements Store over one Postgres table with a pgvector column.
type PGStore struct {
	db        *gorm.DB
	table     string
	dimension int
}

// NewPGStore creates a Store for one module table.
func NewPGStore(db *gorm.DB, table string, dimension int) *PGStore {
	return &PGStore{db: db, table: table, dimension: dimension}
}

// MigratePGTable creates the module table and its ANN index if needed.
func MigratePGTable(ctx context.Context, db *gorm.DB, table string, dimension int) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding VECTOR(%[2]d),
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_accessed TIMESTAMPTZ NOT NULL DEFAULT now(),
			access_count INT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_user ON %[1]s (user_id);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding ON %[1]s
			USING hnsw (embedding vector_cosine_ops);`,
		table, dimension)
	return db.WithContext(ctx).Exec(ddl).Error
}

func (s *PGStore) Insert(ctx context.Context, row *Row) error {
	if len(row.Embedding) != s.dimension {
		return fmt.Errorf("%s: embedding dimension mismatch: want %d, got %d", s.table, s.dimension, len(row.Embedding))
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = now
	}
	if row.LastAccessed.IsZero() {
		row.LastAccessed = now
	}
	return s.db.WithContext(ctx).Table(s.table).Create(toRecord(row)).Error
}

func (s *PGStore) GetByID(ctx context.Context, userID string, id uuid.UUID) (*Row, error) {
	var rec rowRecord
	err := s.db.WithContext(ctx).Table(s.table).
		Where("user_id = ? AND id = ?", userID, id).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec), nil
}

func (s *PGStore) GetMany(ctx context.Context, userID string, ids []uuid.UUID) ([]Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var recs []rowRecord
	err := s.db.WithContext(ctx).Table(s.table).
		Where("user_id = ? AND id IN ?", userID, ids).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	rows := make([]Row, len(recs))
	for i := range recs {
		rows[i] = *fromRecord(&recs[i])
	}
	return rows, nil
}

func (s *PGStore) Update(ctx context.Context, userID string, id uuid.UUID, fields UpdateFields) (*Row, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if fields.Content != nil {
		updates["content"] = *fields.Content
	}
	if fields.Embedding != nil {
		if len(fields.Embedding) != s.dimension {
			return nil, fmt.Errorf("%s: embedding dimension mismatch: want %d, got %d", s.table, s.dimension, len(fields.Embedding))
		}
		updates["embedding"] = pgvec.NewVector(fields.Embedding)
	}
	if fields.Metadata != nil {
		raw, err := json.Marshal(fields.Metadata)
		if err != nil {
			return nil, err
		}
		updates["metadata"] = string(raw)
	}
	res := s.db.WithContext(ctx).Table(s.table).
		Where("user_id = ? AND id = ?", userID, id).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, userID, id)
}

func (s *PGStore) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	return s.db.WithContext(ctx).Table(s.table).
		Where("user_id = ? AND id = ?", userID, id).
		Delete(&rowRecord{}).Error
}

func (s *PGStore) KNNSearch(ctx context.Context, userID string, query []float32, k int, filter map[string]any) ([]Hit, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%s: query dimension mismatch: want %d, got %d", s.table, s.dimension, len(query))
	}
	vec := pgvec.NewVector(query)
	q := fmt.Sprintf(`
		SELECT id, 1 - (embedding <=> ?::vector) AS score
		FROM %s
		WHERE user_id = ?`, s.table)
	args := []any{vec, userID}
	if len(filter) > 0 {
		raw, err := json.Marshal(filter)
		if err != nil {
			return nil, err
		}
		q += " AND metadata @> ?::jsonb"
		args = append(args, string(raw))
	}
	q += `
		ORDER BY embedding <=> ?::vector, updated_at DESC, id ASC
		LIMIT ?`
	args = append(args, vec, k)

	rows, err := s.db.WithContext(ctx).Raw(q, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Similarity); err != nil {
			log.Error("knn scan error", "table", s.table, "err", err)
			continue
		}
		h.Similarity = clampScore(h.Similarity)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *PGStore) FilterScan(ctx context.Context, userID string, filter map[string]any, order Order, limit, offset int) ([]Row, error) {
	q := s.db.WithContext(ctx).Table(s.table).Where("user_id = ?", userID)
	if len(filter) > 0 {
		raw, err := json.Marshal(filter)
		if err != nil {
			return nil, err
		}
		q = q.Where("metadata @> ?::jsonb", string(raw))
	}
	switch order {
	case OrderCreatedDesc:
		q = q.Order("created_at DESC, id ASC")
	case OrderCreatedAsc:
		q = q.Order("created_at ASC, id ASC")
	default:
		q = q.Order("updated_at DESC, id ASC")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var recs []rowRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	rows := make([]Row, len(recs))
	for i := range recs {
		rows[i] = *fromRecord(&recs[i])
	}
	return rows, nil
}

func (s *PGStore) Count(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Table(s.table).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

func (s *PGStore) TouchAccess(ctx context.Context, userID string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Table(s.table).
		Where("user_id = ? AND id IN ?", userID, ids).
		Updates(map[string]any{
			"last_accessed": time.Now().UTC(),
			"access_count":  gorm.Expr("access_count + 1"),
		}).Error
}

func (s *PGStore) ListRows(ctx context.Context, limit, offset int) ([]Row, error) {
	var recs []rowRecord
	q := s.db.WithContext(ctx).Table(s.table).Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	rows := make([]Row, len(recs))
	for i := range recs {
		rows[i] = *fromRecord(&recs[i])
	}
	return rows, nil
}

func toRecord(row *Row) *rowRecord {
	return &rowRecord{
		ID:           row.ID,
		UserID:       row.UserID,
		Content:      row.Content,
		Embedding:    pgvec.NewVector(row.Embedding),
		Metadata:     row.Metadata,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
		LastAccessed: row.LastAccessed,
		AccessCount:  row.AccessCount,
	}
}

func fromRecord(rec *rowRecord) *Row {
	return &Row{
		ID:           rec.ID,
		UserID:       rec.UserID,
		Content:      rec.Content,
		Embedding:    rec.Embedding.Slice(),
		Metadata:     rec.Metadata,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		LastAccessed: rec.LastAccessed,
		AccessCount:  rec.AccessCount,
	}
}

var _ Store = (*PGStore)(nil)
