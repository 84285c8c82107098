package handlers

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/swervegazer/internal/state"
	"github.com/langchou/swervegazer/internal/swerve"
	"github.com/langchou/swervegazer/internal/units"
)

// driveRequest 遥控指令
type driveRequest struct {
	VX            float64 `json:"vx"`
	VY            float64 `json:"vy"`
	Omega         float64 `json:"omega"`
	FieldRelative bool    `json:"field_relative"`
	OpenLoop      bool    `json:"open_loop"`
}

// GetDrivetrain 获取底盘快照与主要配置
// GET /api/drivetrain
func (h *Handler) GetDrivetrain(c *gin.Context) {
	s := h.drivetrain.Settings()
	r := s.Reduction()
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"snapshot": h.drivetrain.Snapshot(),
			"settings": gin.H{
				"wheelbase_m":          s.Wheelbase.MustIn(units.Meters),
				"track_width_m":        s.TrackWidth.MustIn(units.Meters),
				"wheel_diameter_m":     s.WheelDiameter.MustIn(units.Meters),
				"max_speed_mps":        s.MaxSpeedMPS(),
				"max_angular_speed":    s.MaxAngularSpeed.MustIn(units.RadiansPerSecond),
				"velocity_deadband":    s.VelocityThreshold(),
				"turn_deadband":        s.TurnDeadband,
				"gear":                 s.Gear,
				"drive_reduction":      r.Drive,
				"steer_reduction":      r.Steer,
				"angle_offsets":        s.AngleOffsets,
				"encoder_inverted":     s.EncoderInverted,
				"sensor_stale_after":   s.SensorStaleAfter.String(),
				"drive_free_speed_rpm": s.DriveFreeSpeedRPM,
			},
		},
	})
}

// GetModules 获取四个模块的状态
// GET /api/drivetrain/modules
func (h *Handler) GetModules(c *gin.Context) {
	snap := h.drivetrain.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No drivetrain snapshot yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snap.Modules})
}

// Drive 设置遥控指令，客户端需要在超时前持续刷新
// POST /api/drivetrain/drive
func (h *Handler) Drive(c *gin.Context) {
	var req driveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid drive command", "detail": err.Error()})
		return
	}
	for _, v := range []float64{req.VX, req.VY, req.Omega} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Drive command must be finite"})
			return
		}
	}
	if p := h.drivetrain.Progress(); p != nil && p.State == state.StateRunning {
		c.JSON(http.StatusConflict, gin.H{"error": "Autonomous path is running"})
		return
	}

	cmd := swerve.ChassisSpeeds{
		VX:            req.VX,
		VY:            req.VY,
		Omega:         req.Omega,
		FieldRelative: req.FieldRelative,
		OpenLoop:      req.OpenLoop,
	}
	h.drivetrain.SetTeleop(cmd)
	c.JSON(http.StatusAccepted, gin.H{"data": cmd})
}

// Halt 清除遥控指令并停车，正在进行的回放会被中止
// POST /api/drivetrain/stop
func (h *Handler) Halt(c *gin.Context) {
	if err := h.drivetrain.Halt(c.Request.Context()); err != nil {
		h.fail(c, "Failed to stop drivetrain", err)
		return
	}
	h.logger.Info("Drivetrain stopped via API")
	c.JSON(http.StatusOK, gin.H{"message": "Drivetrain stopped"})
}

// ResetOdometry 重置里程计位姿
// POST /api/drivetrain/odometry/reset
func (h *Handler) ResetOdometry(c *gin.Context) {
	var pose swerve.Pose
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&pose); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pose", "detail": err.Error()})
			return
		}
	}
	pose.Heading = units.NormalizeRadians(pose.Heading)
	if err := h.drivetrain.ResetOdometry(c.Request.Context(), pose); err != nil {
		h.fail(c, "Failed to reset odometry", err)
		return
	}
	h.logger.Info("Odometry reset via API",
		zap.Float64("x", pose.X), zap.Float64("y", pose.Y), zap.Float64("heading", pose.Heading))
	c.JSON(http.StatusOK, gin.H{"data": pose})
}
