package units

import "math"

// Cartesian2d 二维直角坐标，X/Y 使用同一长度单位
type Cartesian2d struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Kind Kind    `json:"-"`
}

// NewCartesian2d 创建坐标
func NewCartesian2d(x, y float64, kind Kind) Cartesian2d {
	return Cartesian2d{X: x, Y: y, Kind: kind}
}

// FromPolar 由半径和角度 (rad) 创建坐标
func FromPolar(r, theta float64, kind Kind) Cartesian2d {
	return Cartesian2d{X: r * math.Cos(theta), Y: r * math.Sin(theta), Kind: kind}
}

// Meters 返回以米为单位的 (x, y)
func (c Cartesian2d) Meters() (x, y float64) {
	f := kinds[c.Kind].toBase
	return c.X * f, c.Y * f
}

// In 换算到另一长度单位
func (c Cartesian2d) In(kind Kind) Cartesian2d {
	f := kinds[c.Kind].toBase / kinds[kind].toBase
	return Cartesian2d{X: c.X * f, Y: c.Y * f, Kind: kind}
}

// Norm 到原点的距离
func (c Cartesian2d) Norm() float64 {
	return math.Hypot(c.X, c.Y)
}

// Angle 与 +x 轴夹角 (rad)
func (c Cartesian2d) Angle() float64 {
	return math.Atan2(c.Y, c.X)
}

// Rotate 逆时针旋转 theta (rad)
func (c Cartesian2d) Rotate(theta float64) Cartesian2d {
	sin, cos := math.Sincos(theta)
	return Cartesian2d{X: c.X*cos - c.Y*sin, Y: c.X*sin + c.Y*cos, Kind: c.Kind}
}

// Add 相加，other 先换算到接收者单位
func (c Cartesian2d) Add(other Cartesian2d) Cartesian2d {
	o := other.In(c.Kind)
	return Cartesian2d{X: c.X + o.X, Y: c.Y + o.Y, Kind: c.Kind}
}

// RectangleBounds 矩形区域，(X, Y) 为左下角
type RectangleBounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center 中心点
func (r RectangleBounds) Center() (x, y float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Contains 点是否落在区域内 (含边界)
func (r RectangleBounds) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}
