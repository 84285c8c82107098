package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/swervegazer/internal/setup"
)

// GetSetup 获取向导当前步骤
// GET /api/setup
func (h *Handler) GetSetup(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.wizard.Current()})
}

// SubmitSetup 提交当前步骤的答复，完成后写入结果文件，下次启动时生效。
// 端口测试会在请求期间转动待测电机。
// POST /api/setup/next
func (h *Handler) SubmitSetup(c *gin.Context) {
	var a setup.Answer
	if err := c.ShouldBindJSON(&a); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid answer", "detail": err.Error()})
		return
	}

	prompt, err := h.wizard.Submit(c.Request.Context(), a)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": "Answer rejected", "detail": err.Error(), "data": prompt})
		return
	}

	if res, done := h.wizard.Result(); done && h.setupFile != "" {
		if err := setup.SaveResult(h.setupFile, res); err != nil {
			h.fail(c, "Failed to save setup result", err)
			return
		}
		h.logger.Info("Setup result saved, restart to apply", zap.String("file", h.setupFile))
	}
	c.JSON(http.StatusOK, gin.H{"data": prompt})
}

// RestartSetup 从端口步骤重新开始
// POST /api/setup/restart
func (h *Handler) RestartSetup(c *gin.Context) {
	if err := h.wizard.Restart(); err != nil {
		h.fail(c, "Failed to restart setup", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.wizard.Current()})
}
