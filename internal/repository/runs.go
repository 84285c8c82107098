package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/langchou/swervegazer/internal/models"
)

// RunRepository 路径回放记录仓库
type RunRepository struct {
	db *DB
}

// NewRunRepository 创建回放记录仓库
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, path_id, path_name, state, start_time, end_time, elapsed_s, duration_s, fired_events,
	start_x, start_y, start_heading, end_x, end_y, end_heading, fault_count`

// Create 创建回放记录
func (r *RunRepository) Create(ctx context.Context, run *models.AutonomousRun) error {
	if _, err := uuid.Parse(run.ID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", run.ID, err)
	}
	query := `
		INSERT INTO autonomous_runs (id, path_id, path_name, state, start_time, duration_s, start_x, start_y, start_heading)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		run.ID,
		run.PathID,
		run.PathName,
		run.State,
		run.StartTime,
		run.DurationS,
		run.StartX,
		run.StartY,
		run.StartHeading,
	)
	if err != nil {
		return fmt.Errorf("insert autonomous run: %w", err)
	}
	return nil
}

// Complete 记录回放结束状态
func (r *RunRepository) Complete(ctx context.Context, run *models.AutonomousRun) error {
	if run.FiredEvents == nil {
		run.FiredEvents = []string{}
	}
	query := `
		UPDATE autonomous_runs SET
			state = $1,
			end_time = $2,
			elapsed_s = $3,
			fired_events = $4,
			end_x = $5,
			end_y = $6,
			end_heading = $7,
			fault_count = $8
		WHERE id = $9
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		run.State,
		run.EndTime,
		run.ElapsedS,
		run.FiredEvents,
		run.EndX,
		run.EndY,
		run.EndHeading,
		run.FaultCount,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("complete autonomous run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete autonomous run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func scanRun(row pgx.Row) (*models.AutonomousRun, error) {
	run := &models.AutonomousRun{}
	err := row.Scan(
		&run.ID,
		&run.PathID,
		&run.PathName,
		&run.State,
		&run.StartTime,
		&run.EndTime,
		&run.ElapsedS,
		&run.DurationS,
		&run.FiredEvents,
		&run.StartX,
		&run.StartY,
		&run.StartHeading,
		&run.EndX,
		&run.EndY,
		&run.EndHeading,
		&run.FaultCount,
	)
	return run, err
}

// GetByID 获取回放记录
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.AutonomousRun, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("get autonomous run %q: %w", id, ErrNotFound)
	}
	run, err := scanRun(r.db.Pool.QueryRow(ctx, `SELECT `+runColumns+` FROM autonomous_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get autonomous run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get autonomous run: %w", err)
	}
	return run, nil
}

// List 获取回放记录，pathID 为空时返回全部
func (r *RunRepository) List(ctx context.Context, pathID string, limit, offset int) ([]*models.AutonomousRun, error) {
	query := `SELECT ` + runColumns + ` FROM autonomous_runs
		WHERE ($1 = '' OR path_id = $1) ORDER BY start_time DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Pool.Query(ctx, query, pathID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list autonomous runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.AutonomousRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan autonomous run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list autonomous runs: %w", err)
	}
	return runs, nil
}
