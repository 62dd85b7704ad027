package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/bluegazer/internal/api/bluelink"
	"github.com/langchou/bluegazer/internal/models"
)

// TokenExchanger 令牌交换接口（由 bluelink.Client 实现）
type TokenExchanger interface {
	RequestToken(ctx context.Context, req bluelink.TokenRequest) (*bluelink.TokenResult, error)
}

// CredentialStore 凭证持久化接口
// ReauthNotified/MarkReauthNotified 为按账户的一次性提醒去重标记
type CredentialStore interface {
	SaveCredentials(ctx context.Context, creds *models.Credentials) error
	ReauthNotified(ctx context.Context) (bool, error)
	MarkReauthNotified(ctx context.Context) error
}

// Notifier 重新授权提醒通知接口
type Notifier interface {
	Notify(ctx context.Context, id, title, message string) error
}

// Manager 凭证生命周期管理器
// 持有当前凭证，按固定节奏（默认 24 小时）刷新访问令牌，
// 并在长效 refresh token 接近到期时发起一次性的重新授权提醒
type Manager struct {
	logger   *zap.Logger
	api      TokenExchanger
	store    CredentialStore
	notifier Notifier

	refreshInterval time.Duration
	refreshLifetime time.Duration
	reauthThreshold time.Duration

	// onRefresh 在刷新成功后收到新的访问令牌（轮询器订阅）
	onRefresh func(accessToken string)
	// onReauth 在发出重新授权提醒后触发（启动 re-auth 流程）
	onReauth func()

	mu    sync.RWMutex
	creds *models.Credentials

	now func() time.Time
}

// NewManager 创建凭证管理器
func NewManager(
	logger *zap.Logger,
	api TokenExchanger,
	store CredentialStore,
	notifier Notifier,
	refreshInterval time.Duration,
	reauthThreshold time.Duration,
) *Manager {
	return &Manager{
		logger:          logger,
		api:             api,
		store:           store,
		notifier:        notifier,
		refreshInterval: refreshInterval,
		refreshLifetime: bluelink.RefreshTokenDefaultLifetime,
		reauthThreshold: reauthThreshold,
		now:             time.Now,
	}
}

// OnRefresh 注册刷新成功回调
func (m *Manager) OnRefresh(fn func(accessToken string)) {
	m.onRefresh = fn
}

// OnReauth 注册重新授权回调
func (m *Manager) OnReauth(fn func()) {
	m.onReauth = fn
}

// SetCredentials 整体替换当前凭证（授权流程完成或启动加载时调用）
func (m *Manager) SetCredentials(creds *models.Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = creds
}

// Credentials 返回当前凭证副本
func (m *Manager) Credentials() *models.Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds == nil {
		return nil
	}
	credsCopy := *m.creds
	return &credsCopy
}

// AccessToken 返回当前访问令牌
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds == nil {
		return ""
	}
	return m.creds.AccessToken
}

// UpdateTokens 原子替换令牌，保留其余字段
// refreshToken 为空时沿用现有值
func (m *Manager) UpdateTokens(result *bluelink.TokenResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return
	}

	m.creds.AccessToken = result.AccessToken
	m.creds.AccessTokenExpiresAt = result.AccessTokenExpiresAt
	if result.RefreshToken != "" {
		m.creds.RefreshToken = result.RefreshToken
	}
	if result.TokenType != "" {
		m.creds.TokenType = result.TokenType
	}
	if result.RefreshTokenExpiresAt != nil {
		m.creds.RefreshTokenExpiresAt = result.RefreshTokenExpiresAt
	}
}

// Run 启动定时刷新循环，ctx 取消时停止
func (m *Manager) Run(ctx context.Context) {
	// 启动时先做一次到期评估（可能上次运行期间已越过阈值）
	m.maybeRequestReauth(ctx)

	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Credential refresh loop stopped")
			return
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

// Refresh 执行一次令牌刷新
// 失败只记录日志不上抛：下一个刷新周期会重试；
// 无论成功与否都做一次重新授权阈值评估
func (m *Manager) Refresh(ctx context.Context) {
	creds := m.Credentials()
	if creds == nil || creds.RefreshToken == "" {
		m.logger.Debug("No refresh token available, skipping refresh")
		return
	}

	result, err := m.api.RequestToken(ctx, bluelink.TokenRequest{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		GrantType:    bluelink.GrantRefreshToken,
		RefreshToken: creds.RefreshToken,
	})
	if err != nil {
		m.logger.Warn("Token refresh failed", zap.Error(err))
		m.maybeRequestReauth(ctx)
		return
	}

	m.UpdateTokens(result)

	updated := m.Credentials()
	if err := m.store.SaveCredentials(ctx, updated); err != nil {
		m.logger.Error("Failed to persist refreshed credentials", zap.Error(err))
	}

	if m.onRefresh != nil {
		m.onRefresh(updated.AccessToken)
	}

	m.logger.Info("Access token refreshed",
		zap.Time("expires_at", updated.AccessTokenExpiresAt))

	m.maybeRequestReauth(ctx)
}

// maybeRequestReauth 评估 refresh token 是否进入重新授权窗口
// issued_at = 过期时间 − 默认寿命；阈值 = issued_at + reauthThreshold；
// 越过阈值后按持久化标记去重，仅提醒一次
func (m *Manager) maybeRequestReauth(ctx context.Context) {
	creds := m.Credentials()
	if creds == nil || creds.RefreshTokenExpiresAt == nil {
		return
	}

	issuedAt := creds.RefreshTokenExpiresAt.Add(-m.refreshLifetime)
	threshold := issuedAt.Add(m.reauthThreshold)
	if m.now().Before(threshold) {
		return
	}

	notified, err := m.store.ReauthNotified(ctx)
	if err != nil {
		m.logger.Error("Failed to read reauth marker", zap.Error(err))
		return
	}
	if notified {
		return
	}

	m.logger.Warn("Refresh token nearing expiry, requesting re-authorization",
		zap.Time("issued_at", issuedAt),
		zap.Time("threshold", threshold))

	if m.notifier != nil {
		if err := m.notifier.Notify(ctx,
			"bluelink_reauth",
			"Bluelink 재인증 필요",
			"로그인 후 364일이 지나 재인증이 필요합니다. 통합을 다시 설정하세요.",
		); err != nil {
			m.logger.Error("Failed to create reauth notification", zap.Error(err))
			return
		}
	}

	if err := m.store.MarkReauthNotified(ctx); err != nil {
		m.logger.Error("Failed to persist reauth marker", zap.Error(err))
	}

	if m.onReauth != nil {
		m.onReauth()
	}
}
