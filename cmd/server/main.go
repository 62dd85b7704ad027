package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/bluegazer/internal/api/bluelink"
	"github.com/langchou/bluegazer/internal/api/handlers"
	"github.com/langchou/bluegazer/internal/auth"
	"github.com/langchou/bluegazer/internal/config"
	"github.com/langchou/bluegazer/internal/models"
	"github.com/langchou/bluegazer/internal/repository"
	"github.com/langchou/bluegazer/internal/service"
	"github.com/langchou/bluegazer/pkg/ws"
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

	logger.Info("Starting Bluegazer", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 创建 Repository
	store := repository.NewStore(db)
	accountRepo := store.AccountRepository
	vehicleRepo := store.VehicleRepository
	snapRepo := repository.NewSnapshotRepository(db)

	// 创建 Bluelink API 客户端
	client := bluelink.NewClient(cfg.BluelinkPrdHost, cfg.BluelinkDevHost)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	// 授权流程会话存储（state token 带 TTL，带后台清理）
	loginStates := auth.NewMemoryStateStore(cfg.SessionTTL)
	termsStates := auth.NewMemoryStateStore(cfg.SessionTTL)
	go loginStates.Run(ctx)
	go termsStates.Run(ctx)

	// 授权流程引擎
	redirectURI := cfg.ExternalURL + "/api/bluelink/oauth/callback"
	engine := auth.NewEngine(logger, client, store, loginStates, termsStates, redirectURI, cfg.SkipTerms)

	// 凭证生命周期管理器（重新授权提醒经 WebSocket 推送）
	manager := auth.NewManager(logger, client, accountRepo, wsHub, cfg.TokenRefreshInterval, cfg.ReauthThreshold)

	// 轮询器
	poller := service.NewPoller(cfg, logger, client, manager, vehicleRepo, snapRepo, wsHub)

	// 已有配置时恢复凭证并启动轮询
	account, err := accountRepo.GetAccount(ctx)
	if err != nil {
		logger.Fatal("Failed to load account", zap.Error(err))
	}
	if account != nil {
		manager.SetCredentials(&account.Credentials)
		if err := poller.Start(ctx); err != nil {
			logger.Error("Failed to start poller", zap.Error(err))
		}
	} else {
		logger.Info("No account configured, waiting for authorization flow")
	}

	go manager.Run(ctx)

	// 授权流程完成后接入新凭证并重载轮询
	engine.OnPersist(func(account *models.Account) {
		manager.SetCredentials(&account.Credentials)
		if err := poller.Start(ctx); err != nil {
			logger.Error("Failed to start poller after authorization", zap.Error(err))
			return
		}
		if err := poller.Reload(ctx); err != nil {
			logger.Error("Failed to reload poller after authorization", zap.Error(err))
		}
	})

	// 重新授权提醒触发后自动开启 re-auth 流程并推送授权链接
	manager.OnReauth(func() {
		flow, err := engine.StartReauth(ctx)
		if err != nil {
			logger.Error("Failed to start reauth flow", zap.Error(err))
			return
		}
		if err := wsHub.Notify(ctx, flow.ID(), "재인증 필요", flow.AuthURL()); err != nil {
			logger.Error("Failed to push reauth notification", zap.Error(err))
		}
	})

	// WebSocket 初始数据：车辆列表 + 最新快照
	wsHub.SetInitDataProvider(func() *ws.InitData {
		vehicles, err := vehicleRepo.List(context.Background())
		if err != nil {
			logger.Error("Failed to load vehicles for init data", zap.Error(err))
		}
		return &ws.InitData{
			Vehicles: vehicles,
			Snapshot: poller.Snapshot(),
		}
	})

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		engine,
		manager,
		poller,
		client,
		accountRepo,
		vehicleRepo,
		snapRepo,
		wsHub,
	)

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

	// 停止轮询
	poller.Stop()
	cancel()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

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
