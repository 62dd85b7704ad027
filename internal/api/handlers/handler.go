package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/bluegazer/internal/api/bluelink"
	"github.com/langchou/bluegazer/internal/auth"
	"github.com/langchou/bluegazer/internal/repository"
	"github.com/langchou/bluegazer/internal/service"
	"github.com/langchou/bluegazer/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger      *zap.Logger
	engine      *auth.Engine
	manager     *auth.Manager
	poller      *service.Poller
	api         auth.VendorAPI
	accountRepo *repository.AccountRepository
	vehicleRepo *repository.VehicleRepository
	snapRepo    *repository.SnapshotRepository
	wsHub       *ws.Hub
	upgrader    websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	engine *auth.Engine,
	manager *auth.Manager,
	poller *service.Poller,
	api auth.VendorAPI,
	accountRepo *repository.AccountRepository,
	vehicleRepo *repository.VehicleRepository,
	snapRepo *repository.SnapshotRepository,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:      logger,
		engine:      engine,
		manager:     manager,
		poller:      poller,
		api:         api,
		accountRepo: accountRepo,
		vehicleRepo: vehicleRepo,
		snapRepo:    snapRepo,
		wsHub:       wsHub,
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
		// 授权流程
		api.POST("/auth/login", h.StartLogin)
		api.POST("/auth/reauth", h.StartReauth)
		api.GET("/auth/flows/:id", h.GetFlow)
		api.POST("/auth/flows/:id/vehicle", h.SelectVehicle)

		// 车辆与快照
		api.GET("/vehicles", h.ListVehicles)
		api.GET("/snapshot", h.GetSnapshot)

		// 控制
		api.POST("/refresh", h.ForceRefresh)
		api.POST("/rescan", h.Rescan)
	}

	// 供应商外部跳转回调
	r.GET("/api/bluelink/oauth/callback", h.OAuthCallback)
	r.GET("/api/bluelink/terms/callback", h.TermsCallback)

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// ListVehicles 获取车辆列表
func (h *Handler) ListVehicles(c *gin.Context) {
	vehicles, err := h.vehicleRepo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list vehicles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list vehicles"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": vehicles})
}

// GetSnapshot 获取当前快照
// 内存中没有时回落到持久化的最新快照
func (h *Handler) GetSnapshot(c *gin.Context) {
	if snap := h.poller.Snapshot(); snap != nil {
		c.JSON(http.StatusOK, gin.H{"data": snap})
		return
	}

	account, err := h.accountRepo.GetAccount(c.Request.Context())
	if err != nil || account == nil || account.SelectedCarID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "No snapshot available"})
		return
	}

	snap, err := h.snapRepo.Get(c.Request.Context(), account.SelectedCarID)
	if err != nil {
		h.logger.Error("Failed to load snapshot", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load snapshot"})
		return
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No snapshot available"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snap})
}

// ForceRefresh 强制刷新所有指标族
// POST /api/refresh
func (h *Handler) ForceRefresh(c *gin.Context) {
	if err := h.poller.ForceRefresh(c.Request.Context()); err != nil {
		if errors.Is(err, service.ErrNotConfigured) {
			c.JSON(http.StatusConflict, gin.H{"error": "No configured vehicle"})
			return
		}
		h.logger.Error("Force refresh failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": h.poller.Snapshot()})
}

// Rescan 重新拉取供应商车辆列表并对齐本地车辆表
// POST /api/rescan
func (h *Handler) Rescan(c *gin.Context) {
	ctx := c.Request.Context()

	account, err := h.accountRepo.GetAccount(ctx)
	if err != nil {
		h.logger.Error("Failed to load account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return
	}
	if account == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Not configured"})
		return
	}

	token := h.manager.AccessToken()
	if token == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "No access token"})
		return
	}

	cars, err := h.apiCarList(ctx, token)
	if err != nil {
		h.logger.Error("Rescan failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	if err := h.vehicleRepo.SyncVehicles(ctx, cars, account.SelectedCarID); err != nil {
		h.logger.Error("Failed to sync vehicles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sync vehicles"})
		return
	}

	h.logger.Info("Vehicle rescan completed", zap.Int("count", len(cars)))
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"count": len(cars)}})
}

func (h *Handler) apiCarList(ctx context.Context, token string) ([]bluelink.Car, error) {
	return h.api.GetCarList(ctx, token)
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

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	})
}
