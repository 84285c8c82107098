package swerve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/swervegazer/internal/hardware"
	"github.com/langchou/swervegazer/internal/units"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings(hardware.KindTalonFX)
	require.NoError(t, s.Validate())

	assert.InDelta(t, 0.551942, s.Wheelbase.MustIn(units.Meters), 1e-6)
	assert.Equal(t, Reduction{Drive: 6.86, Steer: 12.8}, s.Reduction())
	assert.InDelta(t, 0.1000760*math.Pi, s.WheelCircumference(), 1e-6)
	assert.Equal(t, 6380.0, s.DriveFreeSpeedRPM)

	spark := DefaultSettings(hardware.KindSparkMax)
	assert.Equal(t, 5676.0, spark.DriveFreeSpeedRPM)
	assert.Equal(t, 0.99, spark.TurnPID.KP)
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{"zero wheelbase", func(s *Settings) { s.Wheelbase = units.Meter(0) }},
		{"negative track width", func(s *Settings) { s.TrackWidth = units.Inch(-1) }},
		{"wheelbase in degrees", func(s *Settings) { s.Wheelbase = units.Degree(20) }},
		{"unset wheel diameter", func(s *Settings) { s.WheelDiameter = units.Unit{} }},
		{"infinite max speed", func(s *Settings) { s.MaxSpeed = units.MeterPerSecond(math.Inf(1)) }},
		{"zero custom reduction", func(s *Settings) { s.CustomRatio = Reduction{Drive: 0, Steer: 12.8} }},
		{"negative deadband", func(s *Settings) { s.VelocityDeadband = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings(hardware.KindTalonFX)
			tt.mutate(s)
			assert.ErrorIs(t, s.Validate(), ErrGeometryMisconfiguration)
			_, err := s.Commit()
			assert.ErrorIs(t, err, ErrGeometryMisconfiguration)
		})
	}
}

func TestGearPresets(t *testing.T) {
	g, err := ParseGearRatio("mk4i_l2")
	require.NoError(t, err)

	s := DefaultSettings(hardware.KindTalonFX)
	s.Gear = g
	assert.InDelta(t, 6.75, s.Reduction().Drive, 1e-12)
	assert.InDelta(t, 150.0/7, s.Reduction().Steer, 1e-12)

	_, err = ParseGearRatio("mk9")
	assert.Error(t, err)
}

func TestVelocityThreshold(t *testing.T) {
	s := DefaultSettings(hardware.KindTalonFX)
	assert.InDelta(t, 0.05, s.VelocityThreshold(), 1e-12)

	s.ThresholdAsPercentage = true
	s.VelocityDeadband = 0.1
	assert.InDelta(t, 0.45, s.VelocityThreshold(), 1e-12)
}

func TestModulePositions(t *testing.T) {
	s := DefaultSettings(hardware.KindTalonFX)
	s.Wheelbase = units.Meter(0.6)
	s.TrackWidth = units.Meter(0.4)
	p := s.ModulePositions()

	want := [4][2]float64{{0.3, 0.2}, {0.3, -0.2}, {-0.3, 0.2}, {-0.3, -0.2}}
	for i, w := range want {
		x, y := p[i].Meters()
		assert.InDelta(t, w[0], x, 1e-12, ModuleID(i).String())
		assert.InDelta(t, w[1], y, 1e-12, ModuleID(i).String())
	}
}
