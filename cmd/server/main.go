package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/swervegazer/internal/api/handlers"
	"github.com/langchou/swervegazer/internal/config"
	"github.com/langchou/swervegazer/internal/hardware"
	"github.com/langchou/swervegazer/internal/pathing"
	"github.com/langchou/swervegazer/internal/pathsource"
	"github.com/langchou/swervegazer/internal/repository"
	"github.com/langchou/swervegazer/internal/service"
	"github.com/langchou/swervegazer/internal/setup"
	"github.com/langchou/swervegazer/internal/swerve"
	"github.com/langchou/swervegazer/internal/telemetry"
	"github.com/langchou/swervegazer/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Swervegazer", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 底盘配置
	hc, err := cfg.Hardware()
	if err != nil {
		logger.Fatal("Invalid hardware config", zap.Error(err))
	}
	settings, err := cfg.Drivetrain(hc.DriveKind)
	if err != nil {
		logger.Fatal("Invalid drivetrain config", zap.Error(err))
	}

	// 应用上一次向导的结果
	switch res, err := setup.LoadResult(cfg.SetupFile); {
	case err == nil:
		settings, hc = res.Apply(settings, hc)
		if err := hc.Validate(); err != nil {
			logger.Fatal("Invalid setup result", zap.String("file", cfg.SetupFile), zap.Error(err))
		}
		logger.Info("Applied setup result", zap.String("file", cfg.SetupFile))
	case errors.Is(err, os.ErrNotExist):
		logger.Info("No setup result found, using configured defaults", zap.String("file", cfg.SetupFile))
	default:
		logger.Fatal("Failed to load setup result", zap.Error(err))
	}

	// 模拟总线
	bus := hardware.NewSimBus(time.Now())
	swerve.AttachSim(bus, settings, hc)
	group, err := swerve.BuildGroup("drivetrain", settings, hc, bus, swerve.BuildOptions{
		Logger: logger,
		Clock:  bus.Now,
	})
	if err != nil {
		logger.Fatal("Failed to build drivetrain", zap.Error(err))
	}

	// 连接数据库（可选）
	var (
		pathRepo *repository.PathRepository
		runRepo  *repository.RunRepository
	)
	if cfg.DatabaseURL != "" {
		db, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect database", zap.Error(err))
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Database migrated successfully")
		pathRepo = repository.NewPathRepository(db)
		runRepo = repository.NewRunRepository(db)
	} else {
		logger.Warn("DATABASE_URL not set, paths are read from PATH_DIR and runs kept in memory")
	}

	// 遥测输出
	wsHub := ws.NewHub(logger)
	go wsHub.Run()
	sseServer := telemetry.NewSSEServer(logger)
	fanout := telemetry.NewFanout(logger, wsHub, sseServer)

	// 创建底盘服务
	opts := service.Options{
		Period:        cfg.LoopPeriod,
		TeleopTimeout: cfg.TeleopTimeout,
		Sim:           bus,
		Telemetry:     fanout,
		HeadingGain:   cfg.HeadingGain,
	}
	if runRepo != nil {
		opts.Runs = runRepo
	}
	drivetrain := service.NewDrivetrainService(logger, group, opts)

	// MQTT（可选），teleop 主题接收遥控指令
	if cfg.MQTTBroker != "" {
		mq, err := telemetry.NewMQTTPublisher(telemetry.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, logger, map[string]func([]byte){
			"teleop": func(payload []byte) {
				var cmd swerve.ChassisSpeeds
				if err := json.Unmarshal(payload, &cmd); err != nil {
					logger.Warn("Invalid MQTT teleop command", zap.Error(err))
					return
				}
				drivetrain.SetTeleop(cmd)
			},
		})
		if err != nil {
			logger.Error("Failed to connect MQTT broker", zap.Error(err))
		} else {
			defer mq.Close()
			fanout.Add(mq)
		}
	}

	wsHub.SetInitDataProvider(func() interface{} {
		return map[string]interface{}{
			"snapshot": drivetrain.Snapshot(),
			"progress": drivetrain.Progress(),
		}
	})

	drivetrain.OnPathEvent("", func(ev pathing.Event) {
		logger.Info("Path event fired", zap.String("name", ev.Name), zap.String("run_id", ev.RunID))
	})

	if err := drivetrain.Start(ctx); err != nil {
		logger.Fatal("Failed to start drivetrain service", zap.Error(err))
	}

	// 配置向导，端口测试经控制循环转动电机
	wizard := setup.NewWizard(hc, group.AbsoluteAngles, drivetrain, logger)

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(logger, handlers.Deps{
		Drivetrain: drivetrain,
		PathRepo:   pathRepo,
		RunRepo:    runRepo,
		Paths:      pathsource.NewDir(cfg.PathDir, logger),
		Wizard:     wizard,
		SetupFile:  cfg.SetupFile,
		WSHub:      wsHub,
		Events:     sseServer,
	})

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	sseServer.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// 停止底盘服务，正在进行的回放会被中止
	drivetrain.Stop()
	wsHub.Stop()

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
