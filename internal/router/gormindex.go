package router

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fedmem/federated-memory/internal/model"
	"github.com/fedmem/federated-memory/internal/module"
)

// GormIndex persists CMI entries in the memory_index table.
type GormIndex struct {
	db *gorm.DB
}

func NewGormIndex(db *gorm.DB) *GormIndex {
	return &GormIndex{db: db}
}

func (s *GormIndex) Upsert(ctx context.Context, entry *model.IndexEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "module_id"}, {Name: "remote_memory_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "summary", "keywords", "categories",
			"importance_score", "embedding", "updated_at",
		}),
	}).Create(entry).Error
}

func (s *GormIndex) UpdateFields(ctx context.Context, userID, moduleID string, remoteMemoryID uuid.UUID, fields module.IndexFields) error {
	return s.db.WithContext(ctx).Model(&model.IndexEntry{}).
		Where("user_id = ? AND module_id = ? AND remote_memory_id = ?", userID, moduleID, remoteMemoryID).
		Updates(map[string]any{
			"title":            fields.Title,
			"summary":          fields.Summary,
			"keywords":         jsonList(fields.Keywords),
			"categories":       jsonList(fields.Categories),
			"importance_score": fields.ImportanceScore,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// jsonList renders a keyword/category set as its stored jsonb text, keeping
// empty sets as [] rather than null.
func jsonList(list []string) string {
	if list == nil {
		list = []string{}
	}
	raw, _ := json.Marshal(list)
	return string(raw)
}

func (s *GormIndex) Get(ctx context.Context, userID, moduleID string, remoteMemoryID uuid.UUID) (*model.IndexEntry, error) {
	var entry model.IndexEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND module_id = ? AND remote_memory_id = ?", userID, moduleID, remoteMemoryID).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *GormIndex) FindByRemoteID(ctx context.Context, userID string, remoteMemoryID uuid.UUID) (*model.IndexEntry, error) {
	var entry model.IndexEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND remote_memory_id = ?", userID, remoteMemoryID).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *GormIndex) Delete(ctx context.Context, userID, moduleID string, remoteMemoryID uuid.UUID) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND module_id = ? AND remote_memory_id = ?", userID, moduleID, remoteMemoryID).
		Delete(&model.IndexEntry{}).Error
}

func (s *GormIndex) KNN(ctx context.Context, userID string, query []float32, n int, modules []string) ([]Candidate, error) {
	vec := pgvec.NewVector(query)
	q := `
		SELECT id, 1 - (embedding <=> ?::vector) AS score
		FROM memory_index
		WHERE user_id = ?`
	args := []any{vec, userID}
	if len(modules) > 0 {
		q += " AND module_id IN ?"
		args = append(args, modules)
	}
	q += `
		ORDER BY embedding <=> ?::vector, updated_at DESC, id ASC
		LIMIT ?`
	args = append(args, vec, n)

	rows, err := s.db.WithContext(ctx).Raw(q, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	scores := map[uuid.UUID]float64{}
	for rows.Next() {
		var id uuid.UUID
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			log.Error("cmi knn scan error", "err", err)
			continue
		}
		ids = append(ids, id)
		scores[id] = clampScore(score)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var entries []model.IndexEntry
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&entries).Error; err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*model.IndexEntry, len(entries))
	for i := range entries {
		byID[entries[i].ID] = &entries[i]
	}
	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		if entry, ok := byID[id]; ok {
			out = append(out, Candidate{Entry: *entry, Score: scores[id]})
		}
	}
	return out, nil
}

func (s *GormIndex) ListAll(ctx context.Context, limit, offset int) ([]model.IndexEntry, error) {
	q := s.db.WithContext(ctx).Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var entries []model.IndexEntry
	err := q.Find(&entries).Error
	return entries, err
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

var _ IndexStore = (*GormIndex)(nil)
