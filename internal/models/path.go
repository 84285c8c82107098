package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/langchou/swervegazer/internal/pathing"
)

// Conjugates 路径点列表，以 JSONB 存储
type Conjugates []pathing.Conjugate

// Value 实现 driver.Valuer 接口，用于存储到数据库
func (c Conjugates) Value() (driver.Value, error) {
	return json.Marshal([]pathing.Conjugate(c))
}

// Scan 实现 sql.Scanner 接口，用于从数据库读取
func (c *Conjugates) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan conjugates: unsupported type %T", value)
	}
	return json.Unmarshal(data, (*[]pathing.Conjugate)(c))
}

// PathRecord 已保存的自动路径
type PathRecord struct {
	ID            string     `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	Conjugates    Conjugates `json:"conjugates" db:"conjugates"`
	RotationGoal  *float64   `json:"rotation_goal,omitempty" db:"rotation_goal"` // 目标航向 (rad)
	FieldRelative bool       `json:"field_relative" db:"field_relative"`
	DurationS     float64    `json:"duration_s" db:"duration_s"` // 总时长 (秒)
	Source        string     `json:"source" db:"source"`         // api / file
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// PathSummary 路径列表项
type PathSummary struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Points    int       `json:"points" db:"points"`
	DurationS float64   `json:"duration_s" db:"duration_s"`
	Source    string    `json:"source" db:"source"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewPathRecord 由路径创建记录
func NewPathRecord(p *pathing.Path, source string) *PathRecord {
	return &PathRecord{
		ID:            p.ID,
		Name:          p.Name,
		Conjugates:    Conjugates(p.Conjugates),
		RotationGoal:  p.RotationGoal,
		FieldRelative: p.FieldRelative,
		DurationS:     p.Duration().Seconds(),
		Source:        source,
	}
}

// Path 转换为可加载的路径
func (r *PathRecord) Path() *pathing.Path {
	return &pathing.Path{
		ID:            r.ID,
		Name:          r.Name,
		Conjugates:    []pathing.Conjugate(r.Conjugates),
		RotationGoal:  r.RotationGoal,
		FieldRelative: r.FieldRelative,
	}
}
