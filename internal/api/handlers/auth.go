package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/bluegazer/internal/auth"
)

type loginRequest struct {
	ClientID     string `json:"client_id" binding:"required"`
	ClientSecret string `json:"client_secret" binding:"required"`
}

type selectVehicleRequest struct {
	CarID string `json:"car_id" binding:"required"`
}

// StartLogin 开始授权流程
// POST /api/auth/login
func (h *Handler) StartLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_id and client_secret are required"})
		return
	}

	flow, err := h.engine.StartLogin(c.Request.Context(), req.ClientID, req.ClientSecret)
	if err != nil {
		if errors.Is(err, auth.ErrAlreadyConfigured) {
			c.JSON(http.StatusConflict, gin.H{"error": "Already configured, use reauth instead"})
			return
		}
		h.logger.Error("Failed to start login flow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": flowView(flow)})
}

// StartReauth 开始重新授权流程
// POST /api/auth/reauth
func (h *Handler) StartReauth(c *gin.Context) {
	flow, err := h.engine.StartReauth(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to start reauth flow", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": flowView(flow)})
}

// GetFlow 查询授权流程状态
// GET /api/auth/flows/:id
func (h *Handler) GetFlow(c *gin.Context) {
	flow, ok := h.engine.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Flow not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": flowView(flow)})
}

// SelectVehicle 选择车辆并完成授权流程
// POST /api/auth/flows/:id/vehicle
func (h *Handler) SelectVehicle(c *gin.Context) {
	var req selectVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "car_id is required"})
		return
	}

	flowID := c.Param("id")
	if err := h.engine.SelectVehicle(c.Request.Context(), flowID, req.CarID); err != nil {
		switch {
		case errors.Is(err, auth.ErrFlowNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Flow not found"})
		case errors.Is(err, auth.ErrWrongStep):
			c.JSON(http.StatusConflict, gin.H{"error": "Flow is not ready for vehicle selection"})
		default:
			h.logger.Error("Failed to select vehicle", zap.Error(err), zap.String("flow_id", flowID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	flow, _ := h.engine.Get(flowID)
	c.JSON(http.StatusOK, gin.H{"data": flowView(flow)})
}

// OAuthCallback 供应商授权回调（浏览器外部跳转落地页）
// GET /api/bluelink/oauth/callback?state=...&code=...
func (h *Handler) OAuthCallback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")

	if state == "" || code == "" {
		c.String(http.StatusBadRequest, "잘못된 요청입니다. 처음부터 다시 시도해 주세요.")
		return
	}

	_, err := h.engine.HandleOAuthCallback(c.Request.Context(), state, code)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidState) {
			c.String(http.StatusBadRequest, "만료되었거나 알 수 없는 요청입니다. 처음부터 다시 시도해 주세요.")
			return
		}
		h.logger.Warn("OAuth callback failed", zap.Error(err))
		c.String(http.StatusOK, "인증에 실패했습니다. 앱에서 처음부터 다시 시도해 주세요.")
		return
	}

	c.String(http.StatusOK, "인증이 완료되었습니다. 이 창을 닫고 앱으로 돌아가세요.")
}

// TermsCallback 条款同意回调
// GET /api/bluelink/terms/callback?state=...&userId=...&errCode=...
func (h *Handler) TermsCallback(c *gin.Context) {
	state := c.Query("state")
	userID := c.Query("userId")
	errCode := c.Query("errCode")

	if state == "" {
		c.String(http.StatusBadRequest, "잘못된 요청입니다. 처음부터 다시 시도해 주세요.")
		return
	}

	_, err := h.engine.HandleTermsCallback(c.Request.Context(), state, userID, errCode)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidState) {
			c.String(http.StatusBadRequest, "만료되었거나 알 수 없는 요청입니다. 처음부터 다시 시도해 주세요.")
			return
		}
		h.logger.Warn("Terms callback failed", zap.Error(err))
		c.String(http.StatusOK, "약관 동의에 실패했습니다. 앱에서 처음부터 다시 시도해 주세요.")
		return
	}

	c.String(http.StatusOK, "약관 동의가 완료되었습니다. 이 창을 닫고 앱으로 돌아가세요.")
}

// flowView 流程状态的对外表示
func flowView(flow *auth.Flow) gin.H {
	if flow == nil {
		return nil
	}

	view := gin.H{
		"id":   flow.ID(),
		"step": flow.Step(),
	}
	if url := flow.AuthURL(); url != "" {
		view["auth_url"] = url
	}
	if url := flow.TermsURL(); url != "" {
		view["terms_url"] = url
	}
	if cars := flow.Cars(); len(cars) > 0 {
		view["cars"] = cars
	}
	if reason := flow.AbortReason(); reason != "" {
		view["abort_reason"] = reason
	}
	return view
}
