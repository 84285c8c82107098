package pathing

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/langchou/swervegazer/internal/swerve"
)

// ErrPathValidation 路径校验失败，路径不会被加载
var ErrPathValidation = errors.New("path validation failed")

// ValidationError 路径校验错误，Index 为出错的路径点下标，-1 表示整条路径
type ValidationError struct {
	PathID string
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("path %q: %s", e.PathID, e.Reason)
	}
	return fmt.Sprintf("path %q point %d: %s", e.PathID, e.Index, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrPathValidation
}

// ConjugateType 路径点类型
type ConjugateType string

const (
	ConjugateStart        ConjugateType = "start"
	ConjugateIntermediate ConjugateType = "intermediate"
	ConjugateEventTrigger ConjugateType = "event_trigger"
	ConjugateEnd          ConjugateType = "end"
)

// ParseConjugateType 解析路径点类型
func ParseConjugateType(s string) (ConjugateType, error) {
	switch t := ConjugateType(strings.ToLower(s)); t {
	case ConjugateStart, ConjugateIntermediate, ConjugateEventTrigger, ConjugateEnd:
		return t, nil
	}
	return "", fmt.Errorf("unknown conjugate type %q", s)
}

// Conjugate 路径上一个带时间戳的点
type Conjugate struct {
	Time   time.Duration        `json:"-"`
	Speeds swerve.ChassisSpeeds `json:"speeds"`
	Pose   *swerve.Pose         `json:"pose,omitempty"`
	Type   ConjugateType        `json:"type"`
	Event  string               `json:"event,omitempty"`
}

// MarshalJSON 时间以秒表示
func (c Conjugate) MarshalJSON() ([]byte, error) {
	type plain Conjugate
	return json.Marshal(struct {
		Seconds float64 `json:"time"`
		plain
	}{c.Time.Seconds(), plain(c)})
}

// UnmarshalJSON 时间以秒表示
func (c *Conjugate) UnmarshalJSON(data []byte) error {
	type plain Conjugate
	var v struct {
		Seconds float64 `json:"time"`
		plain
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = Conjugate(v.plain)
	c.Time = time.Duration(v.Seconds * float64(time.Second))
	return nil
}

// EventName 事件名称，未命名时使用下标
func (c Conjugate) EventName(index int) string {
	if c.Event != "" {
		return c.Event
	}
	return fmt.Sprintf("event-%d", index)
}

// Path 按时间排序的路径点序列。回放期间只读。
type Path struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Conjugates []Conjugate `json:"conjugates"`
	// RotationGoal 回放期间保持的目标航向 (rad)
	RotationGoal *float64 `json:"rotation_goal,omitempty"`
	// FieldRelative 路径点速度是否为场地坐标系
	FieldRelative bool `json:"field_relative"`
}

// Duration 路径总时长
func (p *Path) Duration() time.Duration {
	if len(p.Conjugates) == 0 {
		return 0
	}
	return p.Conjugates[len(p.Conjugates)-1].Time
}

// Validate 至少两个点、时间戳严格递增、首点为 start、末点为 end
func (p *Path) Validate() error {
	invalid := func(i int, format string, args ...any) error {
		return &ValidationError{PathID: p.ID, Index: i, Reason: fmt.Sprintf(format, args...)}
	}
	n := len(p.Conjugates)
	if n < 2 {
		return invalid(-1, "needs at least 2 conjugates, got %d", n)
	}
	for i, c := range p.Conjugates {
		if c.Time < 0 {
			return invalid(i, "negative timestamp %s", c.Time)
		}
		if i > 0 && c.Time <= p.Conjugates[i-1].Time {
			return invalid(i, "timestamp %s not after %s", c.Time, p.Conjugates[i-1].Time)
		}
		switch {
		case i == 0 && c.Type != ConjugateStart:
			return invalid(i, "first conjugate must be %s, got %s", ConjugateStart, c.Type)
		case i == n-1 && c.Type != ConjugateEnd:
			return invalid(i, "last conjugate must be %s, got %s", ConjugateEnd, c.Type)
		case i > 0 && i < n-1 && (c.Type == ConjugateStart || c.Type == ConjugateEnd):
			return invalid(i, "%s conjugate in the middle of the path", c.Type)
		}
		if _, err := ParseConjugateType(string(c.Type)); err != nil {
			return invalid(i, "%v", err)
		}
	}
	return nil
}

// Sample 返回时间 t 处线性插值的底盘速度。t 超出路径范围时取端点。
func (p *Path) Sample(t time.Duration) swerve.ChassisSpeeds {
	cs := p.Conjugates
	if len(cs) == 0 {
		return swerve.ChassisSpeeds{}
	}
	// 第一个时间戳大于 t 的点
	i := sort.Search(len(cs), func(i int) bool { return cs[i].Time > t })
	if i == 0 {
		return p.speeds(cs[0])
	}
	if i == len(cs) {
		return p.speeds(cs[len(cs)-1])
	}
	a, b := cs[i-1], cs[i]
	frac := float64(t-a.Time) / float64(b.Time-a.Time)
	return p.speeds(a).Lerp(p.speeds(b), frac)
}

func (p *Path) speeds(c Conjugate) swerve.ChassisSpeeds {
	s := c.Speeds
	s.FieldRelative = p.FieldRelative
	return s
}

// Events 事件触发点的下标，按时间顺序
func (p *Path) Events() []int {
	var idx []int
	for i, c := range p.Conjugates {
		if c.Type == ConjugateEventTrigger {
			idx = append(idx, i)
		}
	}
	return idx
}
