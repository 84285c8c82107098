package pathsource

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/langchou/swervegazer/internal/pathing"
	"github.com/langchou/swervegazer/internal/swerve"
	"github.com/langchou/swervegazer/internal/units"
)

// 路径编辑器时间线中的条目类型
const (
	entryDrive = "drive"
	entryEvent = "event"
)

// document 路径编辑器导出的文件。坐标单位英寸，角度单位弧度，速度单位英寸/秒。
type document struct {
	Name              string    `json:"name"`
	RotationGoal      *float64  `json:"rotationGoal,omitempty"`
	GeneratedTimeline [][]entry `json:"generatedTimeline"`
}

type entry struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type generalData struct {
	Time     float64 `json:"time"`
	Driving  bool    `json:"driving"`
	Position struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"position"`
}

type driveData struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Velocity float64  `json:"velocity"`
	Angle    *float64 `json:"angle"`
}

type eventData struct {
	Name string `json:"name"`
}

// timePoint 一个解析后的时间点，已换算为米和弧度
type timePoint struct {
	time     time.Duration
	x, y     float64
	angle    float64
	hasAngle bool
	event    string
}

// LoadFile 读取路径文件，路径 ID 取文件名 (不含扩展名)
func LoadFile(path string) (*pathing.Path, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open path file: %w", err)
	}
	defer f.Close()

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	p, err := Decode(f, id)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return p, nil
}

// Decode 解析路径编辑器的时间线格式并校验。
// 底盘速度 (场地坐标系) 由相邻时间点的位姿差分得到，末点速度为零。
func Decode(r io.Reader, id string) (*pathing.Path, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode path: %w", err)
	}
	if len(doc.GeneratedTimeline) == 0 {
		return nil, &pathing.ValidationError{PathID: id, Index: -1, Reason: "path file has no time points"}
	}

	points := make([]timePoint, 0, len(doc.GeneratedTimeline))
	for i, entries := range doc.GeneratedTimeline {
		tp, err := parseTimePoint(entries)
		if err != nil {
			return nil, fmt.Errorf("time point %d: %w", i, err)
		}
		points = append(points, tp)
	}

	p := &pathing.Path{
		ID:            id,
		Name:          doc.Name,
		RotationGoal:  doc.RotationGoal,
		FieldRelative: true,
		Conjugates:    make([]pathing.Conjugate, len(points)),
	}
	if p.Name == "" {
		p.Name = id
	}
	for i, tp := range points {
		c := pathing.Conjugate{
			Time: tp.time,
			Pose: &swerve.Pose{X: tp.x, Y: tp.y, Heading: tp.angle},
			Type: pathing.ConjugateIntermediate,
		}
		switch {
		case i == 0:
			c.Type = pathing.ConjugateStart
		case i == len(points)-1:
			c.Type = pathing.ConjugateEnd
		case tp.event != "":
			c.Type = pathing.ConjugateEventTrigger
			c.Event = tp.event
		}
		if i < len(points)-1 {
			c.Speeds = velocity(tp, points[i+1])
		}
		p.Conjugates[i] = c
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func parseTimePoint(entries []entry) (timePoint, error) {
	var tp timePoint
	if len(entries) == 0 {
		return tp, fmt.Errorf("empty time point")
	}
	var general generalData
	if err := json.Unmarshal(entries[0].Data, &general); err != nil {
		return tp, fmt.Errorf("general entry: %w", err)
	}
	tp.time = time.Duration(general.Time * float64(time.Second))
	tp.x = units.Inch(general.Position.X).MustIn(units.Meters)
	tp.y = units.Inch(general.Position.Y).MustIn(units.Meters)

	for _, e := range entries[1:] {
		switch strings.ToLower(e.Type) {
		case entryDrive:
			if !general.Driving {
				continue
			}
			var d driveData
			if err := json.Unmarshal(e.Data, &d); err != nil {
				return tp, fmt.Errorf("drive entry: %w", err)
			}
			tp.x = units.Inch(d.X).MustIn(units.Meters)
			tp.y = units.Inch(d.Y).MustIn(units.Meters)
			if d.Angle != nil {
				tp.angle = *d.Angle
				tp.hasAngle = true
			}
		case entryEvent:
			var ev eventData
			if err := json.Unmarshal(e.Data, &ev); err != nil {
				return tp, fmt.Errorf("event entry: %w", err)
			}
			tp.event = ev.Name
		}
	}
	return tp, nil
}

// velocity 从 a 运动到 b 所需的平均底盘速度
func velocity(a, b timePoint) swerve.ChassisSpeeds {
	dt := (b.time - a.time).Seconds()
	if dt <= 0 {
		return swerve.ChassisSpeeds{FieldRelative: true}
	}
	s := swerve.ChassisSpeeds{
		VX:            (b.x - a.x) / dt,
		VY:            (b.y - a.y) / dt,
		FieldRelative: true,
	}
	if a.hasAngle && b.hasAngle {
		s.Omega = units.NormalizeRadians(b.angle-a.angle) / dt
	}
	return s
}
