package bluelink

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// 令牌有效期默认值
// 供应商不返回 refresh_token 的有效期，只能按约定的一年估算
const (
	AccessTokenDefaultExpiresIn = 24 * time.Hour
	RefreshTokenDefaultLifetime = 365 * 24 * time.Hour
)

// grant_type 常量
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantDelete            = "delete"
)

// AuthError 供应商认证/请求错误
// Code/Message 来自供应商错误体（errCode/errMsg），解析失败时 Body 保留原始响应
type AuthError struct {
	Op      string
	Status  int
	Code    string
	Message string
	Body    string
	Err     error
}

// Error 实现 error 接口
func (e *AuthError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("%s failed (%s): %s", e.Op, e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s failed (status=%d): %s", e.Op, e.Status, e.Body)
	default:
		return fmt.Sprintf("%s failed (status=%d)", e.Op, e.Status)
	}
}

// Unwrap 返回底层错误
func (e *AuthError) Unwrap() error {
	return e.Err
}

// errEnvelope 供应商错误响应体
type errEnvelope struct {
	ErrCode string `json:"errCode"`
	ErrMsg  string `json:"errMsg"`
}

// Client Bluelink KR API 客户端
// 无状态：令牌由调用方传入，本层不做重试，重试策略由轮询器决定
type Client struct {
	httpClient *http.Client
	prdHost    string
	devHost    string
}

// NewClient 创建 Bluelink API 客户端
func NewClient(prdHost, devHost string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		prdHost: strings.TrimRight(prdHost, "/"),
		devHost: strings.TrimRight(devHost, "/"),
	}
}

// BuildAuthorizeURL 构造外部授权跳转地址
func (c *Client) BuildAuthorizeURL(clientID, redirectURI, state string) string {
	return fmt.Sprintf(
		"%s/api/v1/user/oauth2/authorize?client_id=%s&redirect_uri=%s&response_type=code&state=%s",
		c.prdHost,
		url.QueryEscape(clientID),
		url.QueryEscape(redirectURI),
		url.QueryEscape(state),
	)
}

// BuildTermsAgreementURL 构造用户数据共享条款同意跳转地址
func (c *Client) BuildTermsAgreementURL(accessToken, state string) string {
	return fmt.Sprintf(
		"%s/api/v1/car-service/terms/agreement?token=%s&state=%s",
		c.devHost,
		url.QueryEscape("Bearer "+accessToken),
		url.QueryEscape(state),
	)
}

// basicAuth 构造 client_id:client_secret 的 Basic 认证头
func basicAuth(clientID, clientSecret string) string {
	creds := clientID + ":" + clientSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

// RequestToken 调用令牌交换端点
// 不支持的 grant_type 以及缺失必填参数直接报错，不发起网络请求
func (c *Client) RequestToken(ctx context.Context, req TokenRequest) (*TokenResult, error) {
	const op = "token request"

	form := url.Values{}
	form.Set("grant_type", req.GrantType)

	switch req.GrantType {
	case GrantAuthorizationCode:
		if req.Code == "" {
			return nil, &AuthError{Op: op, Message: "missing authorization code"}
		}
		form.Set("code", req.Code)
		if req.RedirectURI != "" {
			form.Set("redirect_uri", req.RedirectURI)
		}
	case GrantRefreshToken:
		if req.RefreshToken == "" {
			return nil, &AuthError{Op: op, Message: "missing refresh_token"}
		}
		form.Set("refresh_token", req.RefreshToken)
	case GrantDelete:
		if req.AccessToken == "" {
			return nil, &AuthError{Op: op, Message: "missing access_token for deletion"}
		}
		form.Set("access_token", req.AccessToken)
	default:
		return nil, &AuthError{Op: op, Message: fmt.Sprintf("unsupported grant_type: %s", req.GrantType)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.prdHost+"/api/v1/user/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Op: op, Err: err}
	}
	httpReq.Header.Set("Authorization", basicAuth(req.ClientID, req.ClientSecret))
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var payload tokenResponse
	if err := c.doJSON(httpReq, op, &payload); err != nil {
		return nil, err
	}

	if payload.AccessToken == "" {
		return nil, &AuthError{Op: op, Message: "token response missing access_token"}
	}

	// refresh_token 可选，缺省时沿用调用方传入的值
	refreshToken := payload.RefreshToken
	if refreshToken == "" {
		refreshToken = req.RefreshToken
	}

	expiresIn := AccessTokenDefaultExpiresIn
	if payload.ExpiresIn > 0 {
		expiresIn = time.Duration(payload.ExpiresIn) * time.Second
	}

	now := time.Now()
	result := &TokenResult{
		AccessToken:          payload.AccessToken,
		RefreshToken:         refreshToken,
		TokenType:            payload.TokenType,
		AccessTokenExpiresAt: now.Add(expiresIn),
	}
	if refreshToken != "" {
		refreshExpiresAt := now.Add(RefreshTokenDefaultLifetime)
		result.RefreshTokenExpiresAt = &refreshExpiresAt
	}

	return result, nil
}

// GetProfile 获取用户资料
func (c *Client) GetProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var profile Profile
	if err := c.getJSON(ctx, accessToken, c.prdHost+"/api/v1/user/profile", "profile request", &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetCarList 获取账户下已注册车辆列表
func (c *Client) GetCarList(ctx context.Context, accessToken string) ([]Car, error) {
	var payload carListResponse
	if err := c.getJSON(ctx, accessToken, c.devHost+"/api/v1/car/profile/carlist", "car list request", &payload); err != nil {
		return nil, err
	}
	return payload.Cars, nil
}

// RequestTermsAgreement 发起条款同意请求（供应商随后通过回调返回结果）
func (c *Client) RequestTermsAgreement(ctx context.Context, accessToken, state string) error {
	const op = "terms request"

	reqURL := c.BuildTermsAgreementURL(accessToken, state)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return &AuthError{Op: op, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &AuthError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	// 条款端点返回 302 跳转或 200
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusFound {
		body, _ := io.ReadAll(resp.Body)
		return &AuthError{Op: op, Status: resp.StatusCode, Body: string(body)}
	}

	return nil
}

// GetDrivingRange 获取续航里程
func (c *Client) GetDrivingRange(ctx context.Context, accessToken, carID string) (*DrivingRange, error) {
	var payload DrivingRange
	if err := c.getStatus(ctx, accessToken, carID, "dte", "driving range request", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetOdometer 获取里程表
func (c *Client) GetOdometer(ctx context.Context, accessToken, carID string) (*Odometer, error) {
	var payload Odometer
	if err := c.getStatus(ctx, accessToken, carID, "odometer", "odometer request", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetEVCharging 获取 EV 充电状态
func (c *Client) GetEVCharging(ctx context.Context, accessToken, carID string) (*EVCharging, error) {
	var payload EVCharging
	if err := c.getStatus(ctx, accessToken, carID, "ev/battery", "ev charging request", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetBattery 获取 12V 蓄电池状态
func (c *Client) GetBattery(ctx context.Context, accessToken, carID string) (*Battery, error) {
	var payload Battery
	if err := c.getStatus(ctx, accessToken, carID, "battery", "battery request", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetWarning 获取单项警告状态
func (c *Client) GetWarning(ctx context.Context, accessToken, carID string, kind WarningKind) (*WarningStatus, error) {
	var payload WarningStatus
	op := fmt.Sprintf("%s warning request", kind)
	if err := c.getStatus(ctx, accessToken, carID, string(kind), op, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// getStatus 按 carId 请求车辆状态端点
func (c *Client) getStatus(ctx context.Context, accessToken, carID, path, op string, out interface{}) error {
	reqURL := fmt.Sprintf("%s/api/v1/car/status/%s/%s?carId=%s",
		c.devHost, url.PathEscape(carID), path, url.QueryEscape(carID))
	return c.getJSON(ctx, accessToken, reqURL, op, out)
}

// getJSON 执行带 Bearer 认证的 GET 请求并解析 JSON
func (c *Client) getJSON(ctx context.Context, accessToken, reqURL, op string, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &AuthError{Op: op, Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	return c.doJSON(httpReq, op, out)
}

// doJSON 执行请求，统一处理传输错误、非 200 状态和供应商错误体
func (c *Client) doJSON(req *http.Request, op string, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &AuthError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &AuthError{Op: op, Status: resp.StatusCode, Err: err}
	}

	// 先查错误体：部分错误响应也是 200
	var envelope errEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		// 解析失败时保留原始响应体便于排查
		return &AuthError{Op: op, Status: resp.StatusCode, Body: string(body), Err: err}
	}

	if resp.StatusCode != http.StatusOK || envelope.ErrCode != "" {
		return &AuthError{
			Op:      op,
			Status:  resp.StatusCode,
			Code:    envelope.ErrCode,
			Message: envelope.ErrMsg,
			Body:    string(body),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &AuthError{Op: op, Status: resp.StatusCode, Body: string(body), Err: err}
	}

	return nil
}
