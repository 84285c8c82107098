package handlers

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/swervegazer/internal/pathing"
	"github.com/langchou/swervegazer/internal/pathsource"
	"github.com/langchou/swervegazer/internal/repository"
	"github.com/langchou/swervegazer/internal/service"
	"github.com/langchou/swervegazer/internal/setup"
	"github.com/langchou/swervegazer/internal/state"
	"github.com/langchou/swervegazer/internal/telemetry"
	"github.com/langchou/swervegazer/pkg/ws"
)

// errNoDatabase 未配置数据库
var errNoDatabase = errors.New("database not configured")

// Handler HTTP 处理器
type Handler struct {
	logger     *zap.Logger
	drivetrain *service.DrivetrainService
	pathRepo   *repository.PathRepository // 未配置数据库时为 nil
	runRepo    *repository.RunRepository  // 未配置数据库时为 nil
	paths      *pathsource.Dir
	wizard     *setup.Wizard
	setupFile  string
	wsHub      *ws.Hub
	events     *telemetry.SSEServer
	upgrader   websocket.Upgrader
}

// Deps 处理器依赖
type Deps struct {
	Drivetrain *service.DrivetrainService
	PathRepo   *repository.PathRepository
	RunRepo    *repository.RunRepository
	Paths      *pathsource.Dir
	Wizard     *setup.Wizard
	SetupFile  string
	WSHub      *ws.Hub
	Events     *telemetry.SSEServer
}

// NewHandler 创建处理器
func NewHandler(logger *zap.Logger, deps Deps) *Handler {
	return &Handler{
		logger:     logger,
		drivetrain: deps.Drivetrain,
		pathRepo:   deps.PathRepo,
		runRepo:    deps.RunRepo,
		paths:      deps.Paths,
		wizard:     deps.Wizard,
		setupFile:  deps.SetupFile,
		wsHub:      deps.WSHub,
		events:     deps.Events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 底盘
		api.GET("/drivetrain", h.GetDrivetrain)
		api.GET("/drivetrain/modules", h.GetModules)
		api.POST("/drivetrain/drive", h.Drive)
		api.POST("/drivetrain/stop", h.Halt)
		api.POST("/drivetrain/odometry/reset", h.ResetOdometry)

		// 路径
		api.GET("/paths", h.ListPaths)
		api.GET("/paths/:id", h.GetPath)
		api.POST("/paths", h.SavePath)
		api.POST("/paths/import", h.ImportPath)
		api.DELETE("/paths/:id", h.DeletePath)

		// 自动回放
		api.GET("/autonomous", h.GetProgress)
		api.POST("/autonomous/load", h.LoadPath)
		api.POST("/autonomous/start", h.StartPath)
		api.POST("/autonomous/abort", h.AbortPath)
		api.GET("/autonomous/runs", h.ListRuns)
		api.GET("/autonomous/runs/:id", h.GetRun)

		// 配置向导
		api.GET("/setup", h.GetSetup)
		api.POST("/setup/next", h.SubmitSetup)
		api.POST("/setup/restart", h.RestartSetup)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// Server-Sent Events，?stream=telemetry|progress|events
	r.GET("/events", h.HandleEvents)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HandleEvents SSE 处理
func (h *Handler) HandleEvents(c *gin.Context) {
	if c.Query("stream") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stream query parameter is required"})
		return
	}
	h.events.ServeHTTP(c.Writer, c.Request)
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	progress := h.drivetrain.Progress()
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
		"database":   h.pathRepo != nil,
		"autonomous": progress.State,
	})
}

// pagination 解析分页参数
func pagination(c *gin.Context) (page, perPage, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage, (page - 1) * perPage
}

// statusFor 将领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, errNoDatabase), errors.Is(err, service.ErrNotRunning), errors.Is(err, service.ErrNoBus):
		return http.StatusServiceUnavailable
	case errors.Is(err, pathsource.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, pathing.ErrPathValidation), errors.Is(err, setup.ErrPortTestFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pathing.ErrNotLoadable), errors.Is(err, pathing.ErrNotRunning),
		errors.Is(err, state.ErrInvalidTransition), errors.Is(err, setup.ErrWrongStep),
		errors.Is(err, service.ErrMotorTestBusy):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail 记录并返回错误
func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error(msg, zap.Error(err))
	} else {
		h.logger.Debug(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg, "detail": err.Error()})
}
