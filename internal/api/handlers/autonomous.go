package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/swervegazer/internal/models"
	"github.com/langchou/swervegazer/internal/pathing"
)

// loadRequest 加载已保存的路径或直接给出路径
type loadRequest struct {
	PathID string        `json:"path_id"`
	Path   *pathing.Path `json:"path"`
}

// GetProgress 获取回放进度
// GET /api/autonomous
func (h *Handler) GetProgress(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.drivetrain.Progress()})
}

// LoadPath 加载路径
// POST /api/autonomous/load
func (h *Handler) LoadPath(c *gin.Context) {
	var req loadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "detail": err.Error()})
		return
	}

	p := req.Path
	switch {
	case p != nil:
		if p.ID == "" {
			p.ID = "inline"
		}
	case req.PathID != "":
		var err error
		if p, err = h.resolvePath(c.Request.Context(), req.PathID); err != nil {
			h.fail(c, "Path not found", err)
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "path_id or path is required"})
		return
	}

	if err := h.drivetrain.LoadPath(c.Request.Context(), p); err != nil {
		h.fail(c, "Failed to load path", err)
		return
	}
	h.logger.Info("Path loaded via API", zap.String("path_id", p.ID))
	c.JSON(http.StatusOK, gin.H{"data": h.drivetrain.Progress()})
}

// StartPath 开始回放
// POST /api/autonomous/start
func (h *Handler) StartPath(c *gin.Context) {
	runID, err := h.drivetrain.StartPath(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to start path", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"run_id": runID}})
}

// AbortPath 中止回放
// POST /api/autonomous/abort
func (h *Handler) AbortPath(c *gin.Context) {
	if err := h.drivetrain.AbortPath(c.Request.Context()); err != nil {
		h.fail(c, "Failed to abort path", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.drivetrain.Progress()})
}

// ListRuns 获取回放记录，未配置数据库时返回内存中的最近记录
// GET /api/autonomous/runs
func (h *Handler) ListRuns(c *gin.Context) {
	page, perPage, offset := pagination(c)
	pathID := c.Query("path_id")

	if h.runRepo == nil {
		runs := []models.AutonomousRun{}
		for _, r := range h.drivetrain.RecentRuns() {
			if pathID == "" || r.PathID == pathID {
				runs = append(runs, r)
			}
		}
		c.JSON(http.StatusOK, gin.H{"data": runs, "source": "memory"})
		return
	}

	runs, err := h.runRepo.List(c.Request.Context(), pathID, perPage, offset)
	if err != nil {
		h.fail(c, "Failed to list runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":   runs,
		"source": "database",
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
		},
	})
}

// GetRun 获取回放记录详情
// GET /api/autonomous/runs/:id
func (h *Handler) GetRun(c *gin.Context) {
	id := c.Param("id")
	if h.runRepo == nil {
		for _, r := range h.drivetrain.RecentRuns() {
			if r.ID == id {
				c.JSON(http.StatusOK, gin.H{"data": r})
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	run, err := h.runRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Run not found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": run})
}
