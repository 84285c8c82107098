package models

import "time"

// AutonomousRun 一次路径回放记录
type AutonomousRun struct {
	ID           string     `json:"id" db:"id"`
	PathID       string     `json:"path_id" db:"path_id"`
	PathName     string     `json:"path_name" db:"path_name"`
	State        string     `json:"state" db:"state"` // running / completed / aborted
	StartTime    time.Time  `json:"start_time" db:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty" db:"end_time"`
	ElapsedS     float64    `json:"elapsed_s" db:"elapsed_s"`
	DurationS    float64    `json:"duration_s" db:"duration_s"`
	FiredEvents  []string   `json:"fired_events" db:"fired_events"`
	StartX       float64    `json:"start_x" db:"start_x"` // 起始位姿 (m, rad)
	StartY       float64    `json:"start_y" db:"start_y"`
	StartHeading float64    `json:"start_heading" db:"start_heading"`
	EndX         *float64   `json:"end_x,omitempty" db:"end_x"` // 结束位姿
	EndY         *float64   `json:"end_y,omitempty" db:"end_y"`
	EndHeading   *float64   `json:"end_heading,omitempty" db:"end_heading"`
	FaultCount   int        `json:"fault_count" db:"fault_count"` // 回放期间模块故障次数
}
