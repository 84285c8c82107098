package units

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversions(t *testing.T) {
	cases := []struct {
		name string
		in   Unit
		to   Kind
		want float64
	}{
		{"inches to meters", Inch(21.73), Meters, 0.551942},
		{"feet to inches", Foot(1), Inches, 12},
		{"meters to feet", Meter(1), Feet, 3.280839895},
		{"degrees to radians", Degree(180), Radians, math.Pi},
		{"rotations to degrees", New(1.5, Rotations), Degrees, 540},
		{"ft/s to m/s", New(10, FeetPerSecond), MetersPerSecond, 3.048},
		{"rpm to rad/s", New(60, RPM), RadiansPerSecond, 2 * math.Pi},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.in.In(tc.to)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-6)
		})
	}
}

func TestDimensionMismatch(t *testing.T) {
	_, err := Meter(1).In(Degrees)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = Meter(1).Add(MeterPerSecond(1))
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	assert.Panics(t, func() { Degree(1).MustIn(Feet) })
}

func TestZeroUnitHasNoDimension(t *testing.T) {
	var u Unit
	assert.Equal(t, KindInvalid, u.Kind)
	assert.Equal(t, DimensionNone, u.Dimension())
	assert.False(t, u.Kind.Valid())

	_, err := u.In(Meters)
	assert.ErrorIs(t, err, ErrInvalidKind)
	_, err = u.In(Degrees)
	assert.ErrorIs(t, err, ErrInvalidKind)
	_, err = Meter(1).In(KindInvalid)
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = ParseKind("invalid")
	assert.Error(t, err)
}

func TestAddKeepsReceiverKind(t *testing.T) {
	sum, err := Inch(12).Add(Foot(1))
	require.NoError(t, err)
	assert.Equal(t, Inches, sum.Kind)
	assert.InDelta(t, 24, sum.Value, 1e-9)

	diff, err := Meter(1).Sub(New(50, Centimeters))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, diff.Value, 1e-9)
}

func TestUnitJSON(t *testing.T) {
	data, err := json.Marshal(Degree(90))
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":90,"unit":"deg"}`, string(data))

	var u Unit
	require.NoError(t, json.Unmarshal([]byte(`{"value":3,"unit":"ft"}`), &u))
	assert.Equal(t, Foot(3), u)

	assert.Error(t, json.Unmarshal([]byte(`{"value":3,"unit":"furlong"}`), &u))
}

func TestNormalizeDegrees(t *testing.T) {
	cases := map[float64]float64{
		0:    0,
		180:  180,
		-180: 180,
		190:  -170,
		-190: 170,
		540:  180,
		720:  0,
		-90:  -90,
	}
	for in, want := range cases {
		assert.InDelta(t, want, NormalizeDegrees(in), 1e-9, "in=%v", in)
	}
}

func TestCartesian2d(t *testing.T) {
	c := NewCartesian2d(10, 0, Inches)
	x, y := c.Meters()
	assert.InDelta(t, 0.254, x, 1e-9)
	assert.InDelta(t, 0, y, 1e-9)

	r := c.Rotate(math.Pi / 2)
	assert.InDelta(t, 0, r.X, 1e-9)
	assert.InDelta(t, 10, r.Y, 1e-9)

	sum := c.Add(NewCartesian2d(1, 1, Feet))
	assert.InDelta(t, 22, sum.X, 1e-9)
	assert.InDelta(t, 12, sum.Y, 1e-9)

	p := FromPolar(2, math.Pi, Meters)
	assert.InDelta(t, -2, p.X, 1e-9)
	assert.InDelta(t, 2, p.Norm(), 1e-9)
}

func TestRectangleBounds(t *testing.T) {
	b := RectangleBounds{X: 0, Y: 0, Width: 4, Height: 2}
	cx, cy := b.Center()
	assert.Equal(t, 2.0, cx)
	assert.Equal(t, 1.0, cy)
	assert.True(t, b.Contains(4, 2))
	assert.False(t, b.Contains(4.1, 1))
}
