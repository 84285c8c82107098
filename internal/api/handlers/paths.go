package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/swervegazer/internal/models"
	"github.com/langchou/swervegazer/internal/pathing"
	"github.com/langchou/swervegazer/internal/pathsource"
	"github.com/langchou/swervegazer/internal/repository"
)

// maxPathFileSize 导入文件大小上限
const maxPathFileSize = 4 << 20

// resolvePath 先查数据库，再查路径目录
func (h *Handler) resolvePath(ctx context.Context, id string) (*pathing.Path, error) {
	if h.pathRepo != nil {
		rec, err := h.pathRepo.GetByID(ctx, id)
		if err == nil {
			return rec.Path(), nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	if h.paths == nil {
		return nil, fmt.Errorf("path %q: %w", id, repository.ErrNotFound)
	}
	return h.paths.Get(id)
}

func fileSummary(p *pathing.Path) *models.PathSummary {
	return &models.PathSummary{
		ID:        p.ID,
		Name:      p.Name,
		Points:    len(p.Conjugates),
		DurationS: p.Duration().Seconds(),
		Source:    "file",
	}
}

// ListPaths 获取路径列表
// GET /api/paths
func (h *Handler) ListPaths(c *gin.Context) {
	page, perPage, offset := pagination(c)
	ctx := c.Request.Context()

	stored := []*models.PathSummary{}
	var total int64
	if h.pathRepo != nil {
		var err error
		if stored, err = h.pathRepo.List(ctx, perPage, offset); err != nil {
			h.fail(c, "Failed to list paths", err)
			return
		}
		total, _ = h.pathRepo.Count(ctx)
	}

	files := []*models.PathSummary{}
	if h.paths != nil {
		ps, err := h.paths.List()
		if err != nil {
			h.fail(c, "Failed to list path files", err)
			return
		}
		for _, p := range ps {
			files = append(files, fileSummary(p))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  stored,
		"files": files,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetPath 获取路径详情
// GET /api/paths/:id
func (h *Handler) GetPath(c *gin.Context) {
	p, err := h.resolvePath(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Path not found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": p})
}

// SavePath 保存路径，ID 为空时生成
// POST /api/paths
func (h *Handler) SavePath(c *gin.Context) {
	if h.pathRepo == nil {
		h.fail(c, "Path storage unavailable", errNoDatabase)
		return
	}
	var p pathing.Path
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid path", "detail": err.Error()})
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		h.fail(c, "Invalid path", err)
		return
	}

	rec := models.NewPathRecord(&p, "api")
	if err := h.pathRepo.Save(c.Request.Context(), rec); err != nil {
		h.fail(c, "Failed to save path", err)
		return
	}
	h.logger.Info("Path saved", zap.String("path_id", rec.ID), zap.Int("conjugates", len(rec.Conjugates)))
	c.JSON(http.StatusCreated, gin.H{"data": rec})
}

// ImportPath 导入路径编辑器文件，有数据库时存入数据库，否则写入路径目录
// POST /api/paths/import?id=<id>
func (h *Handler) ImportPath(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id query parameter is required"})
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPathFileSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body", "detail": err.Error()})
		return
	}

	if h.pathRepo == nil {
		if h.paths == nil {
			h.fail(c, "Path storage unavailable", errNoDatabase)
			return
		}
		p, err := h.paths.Import(id, raw)
		if err != nil {
			h.fail(c, "Failed to import path", err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": fileSummary(p)})
		return
	}

	p, err := pathsource.Decode(bytes.NewReader(raw), id)
	if err != nil {
		h.fail(c, "Failed to import path", err)
		return
	}
	rec := models.NewPathRecord(p, "file")
	if err := h.pathRepo.Save(c.Request.Context(), rec); err != nil {
		h.fail(c, "Failed to save path", err)
		return
	}
	h.logger.Info("Path imported", zap.String("path_id", rec.ID))
	c.JSON(http.StatusCreated, gin.H{"data": rec})
}

// DeletePath 删除已保存的路径
// DELETE /api/paths/:id
func (h *Handler) DeletePath(c *gin.Context) {
	if h.pathRepo == nil {
		h.fail(c, "Path storage unavailable", errNoDatabase)
		return
	}
	if err := h.pathRepo.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "Failed to delete path", err)
		return
	}
	c.Status(http.StatusNoContent)
}
