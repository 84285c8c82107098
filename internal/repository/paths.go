package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/swervegazer/internal/models"
)

// PathRepository 自动路径数据仓库
type PathRepository struct {
	db *DB
}

// NewPathRepository 创建路径仓库
func NewPathRepository(db *DB) *PathRepository {
	return &PathRepository{db: db}
}

// Save 保存路径，ID 已存在时覆盖
func (r *PathRepository) Save(ctx context.Context, path *models.PathRecord) error {
	query := `
		INSERT INTO paths (id, name, conjugates, rotation_goal, field_relative, duration_s, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			conjugates = EXCLUDED.conjugates,
			rotation_goal = EXCLUDED.rotation_goal,
			field_relative = EXCLUDED.field_relative,
			duration_s = EXCLUDED.duration_s,
			source = EXCLUDED.source,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		path.ID,
		path.Name,
		path.Conjugates,
		path.RotationGoal,
		path.FieldRelative,
		path.DurationS,
		path.Source,
	).Scan(&path.CreatedAt, &path.UpdatedAt)

	if err != nil {
		return fmt.Errorf("save path: %w", err)
	}
	return nil
}

// GetByID 获取路径
func (r *PathRepository) GetByID(ctx context.Context, id string) (*models.PathRecord, error) {
	query := `
		SELECT id, name, conjugates, rotation_goal, field_relative, duration_s, source, created_at, updated_at
		FROM paths WHERE id = $1
	`
	path := &models.PathRecord{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&path.ID,
		&path.Name,
		&path.Conjugates,
		&path.RotationGoal,
		&path.FieldRelative,
		&path.DurationS,
		&path.Source,
		&path.CreatedAt,
		&path.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get path %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get path by id: %w", err)
	}
	return path, nil
}

// List 获取路径列表
func (r *PathRepository) List(ctx context.Context, limit, offset int) ([]*models.PathSummary, error) {
	query := `
		SELECT id, name, jsonb_array_length(conjugates), duration_s, source, updated_at
		FROM paths ORDER BY updated_at DESC LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list paths: %w", err)
	}
	defer rows.Close()

	paths := []*models.PathSummary{}
	for rows.Next() {
		p := &models.PathSummary{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Points, &p.DurationS, &p.Source, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list paths: %w", err)
	}

	return paths, nil
}

// Count 统计路径数
func (r *PathRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM paths`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count paths: %w", err)
	}
	return count, nil
}

// Delete 删除路径
func (r *PathRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM paths WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete path %q: %w", id, ErrNotFound)
	}
	return nil
}
