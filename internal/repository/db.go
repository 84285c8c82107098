package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 4
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreatePaths,
		migrationCreateAutonomousRuns,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreatePaths = `
CREATE TABLE IF NOT EXISTS paths (
    id VARCHAR(128) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    conjugates JSONB NOT NULL,
    rotation_goal DOUBLE PRECISION,
    field_relative BOOLEAN NOT NULL DEFAULT false,
    duration_s DOUBLE PRECISION NOT NULL DEFAULT 0,
    source VARCHAR(20) NOT NULL DEFAULT 'api',
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_paths_updated_at ON paths(updated_at);
`

const migrationCreateAutonomousRuns = `
CREATE TABLE IF NOT EXISTS autonomous_runs (
    id VARCHAR(36) PRIMARY KEY,
    path_id VARCHAR(128) NOT NULL,
    path_name VARCHAR(255) NOT NULL DEFAULT '',
    state VARCHAR(20) NOT NULL,
    start_time TIMESTAMP WITH TIME ZONE NOT NULL,
    end_time TIMESTAMP WITH TIME ZONE,
    elapsed_s DOUBLE PRECISION DEFAULT 0,
    duration_s DOUBLE PRECISION DEFAULT 0,
    fired_events TEXT[] NOT NULL DEFAULT '{}',

    -- 起止位姿
    start_x DOUBLE PRECISION NOT NULL DEFAULT 0,
    start_y DOUBLE PRECISION NOT NULL DEFAULT 0,
    start_heading DOUBLE PRECISION NOT NULL DEFAULT 0,
    end_x DOUBLE PRECISION,
    end_y DOUBLE PRECISION,
    end_heading DOUBLE PRECISION,

    fault_count INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_autonomous_runs_path_id ON autonomous_runs(path_id);
CREATE INDEX IF NOT EXISTS idx_autonomous_runs_start_time ON autonomous_runs(start_time);
`
