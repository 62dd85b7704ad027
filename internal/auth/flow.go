package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/langchou/bluegazer/internal/api/bluelink"
	"github.com/langchou/bluegazer/internal/models"
)

// 授权流程状态常量
const (
	StepCollectingCredentials = "collecting_credentials"
	StepAwaitingAuthorization = "awaiting_authorization"
	StepExchangingCode        = "exchanging_code"
	StepAwaitingTerms         = "awaiting_terms"
	StepListingVehicles       = "listing_vehicles"
	StepSelectingVehicle      = "selecting_vehicle"
	StepPersisted             = "persisted"
	StepAborted               = "aborted"
)

// 事件常量
const (
	EventSubmit         = "submit_credentials"
	EventCodeReceived   = "code_received"
	EventRequestTerms   = "request_terms"
	EventTermsAccepted  = "terms_accepted"
	EventSkipTerms      = "skip_terms"
	EventVehiclesListed = "vehicles_listed"
	EventPersist        = "persist"
	EventAbort          = "abort"
)

// 终止原因常量
const (
	AbortInvalidAuth = "invalid_auth"
	AbortNoVehicles  = "no_vehicles"
)

// 流程级错误
var (
	ErrFlowNotFound      = errors.New("flow not found")
	ErrInvalidState      = errors.New("unknown or expired state token")
	ErrAlreadyConfigured = errors.New("account already configured")
	ErrWrongStep         = errors.New("flow is not at the expected step")
)

// VendorAPI 授权流程所需的供应商接口（由 bluelink.Client 实现）
type VendorAPI interface {
	BuildAuthorizeURL(clientID, redirectURI, state string) string
	BuildTermsAgreementURL(accessToken, state string) string
	RequestToken(ctx context.Context, req bluelink.TokenRequest) (*bluelink.TokenResult, error)
	GetProfile(ctx context.Context, accessToken string) (*bluelink.Profile, error)
	GetCarList(ctx context.Context, accessToken string) ([]bluelink.Car, error)
	RequestTermsAgreement(ctx context.Context, accessToken, state string) error
}

// ConfigStore 授权流程的配置持久化接口
type ConfigStore interface {
	GetAccount(ctx context.Context) (*models.Account, error)
	SaveAccount(ctx context.Context, account *models.Account) error
	SyncVehicles(ctx context.Context, cars []bluelink.Car, selectedCarID string) error
}

// Flow 单次授权流程
// 外部跳转回调通过 state token 恢复；状态机快照可随时查询
type Flow struct {
	mu  sync.Mutex
	id  string
	fsm *fsm.FSM

	reauth bool

	clientID     string
	clientSecret string
	redirectURI  string

	loginState string
	termsState string
	authURL    string
	termsURL   string

	token       *bluelink.TokenResult
	userID      string
	termsUserID string
	cars        []bluelink.Car

	abortReason string
}

// newFlow 创建处于初始状态的流程
func newFlow(clientID, clientSecret string, reauth bool) *Flow {
	f := &Flow{
		id:           uuid.NewString(),
		clientID:     clientID,
		clientSecret: clientSecret,
		reauth:       reauth,
	}

	f.fsm = fsm.NewFSM(
		StepCollectingCredentials,
		fsm.Events{
			{Name: EventSubmit, Src: []string{StepCollectingCredentials}, Dst: StepAwaitingAuthorization},
			{Name: EventCodeReceived, Src: []string{StepAwaitingAuthorization}, Dst: StepExchangingCode},
			{Name: EventRequestTerms, Src: []string{StepExchangingCode}, Dst: StepAwaitingTerms},
			{Name: EventTermsAccepted, Src: []string{StepAwaitingTerms}, Dst: StepListingVehicles},
			{Name: EventSkipTerms, Src: []string{StepExchangingCode}, Dst: StepListingVehicles},
			{Name: EventVehiclesListed, Src: []string{StepListingVehicles}, Dst: StepSelectingVehicle},
			{Name: EventPersist, Src: []string{StepSelectingVehicle}, Dst: StepPersisted},
			{Name: EventAbort, Src: []string{
				StepCollectingCredentials,
				StepAwaitingAuthorization,
				StepExchangingCode,
				StepAwaitingTerms,
				StepListingVehicles,
				StepSelectingVehicle,
			}, Dst: StepAborted},
		},
		fsm.Callbacks{},
	)

	return f
}

// ID 流程标识
func (f *Flow) ID() string {
	return f.id
}

// Step 当前状态
func (f *Flow) Step() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fsm.Current()
}

// AuthURL 外部授权跳转地址
func (f *Flow) AuthURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authURL
}

// TermsURL 条款同意跳转地址
func (f *Flow) TermsURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.termsURL
}

// Cars 候选车辆列表（进入 selecting_vehicle 后可用）
func (f *Flow) Cars() []bluelink.Car {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bluelink.Car(nil), f.cars...)
}

// AbortReason 终止原因（仅 aborted 状态下非空）
func (f *Flow) AbortReason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.abortReason
}

// trigger 触发事件（调用方持锁）
func (f *Flow) trigger(event string) error {
	if err := f.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	return nil
}

// abortLocked 转入终止状态并记录原因（调用方持锁）
func (f *Flow) abortLocked(reason string) {
	if f.fsm.Current() == StepAborted || f.fsm.Current() == StepPersisted {
		return
	}
	f.abortReason = reason
	_ = f.fsm.Event(context.Background(), EventAbort)
}

// Engine 授权流程引擎
// 管理所有进行中的流程和两个 state token 会话存储（登录、条款）
type Engine struct {
	logger *zap.Logger
	api    VendorAPI
	store  ConfigStore

	loginStates StateStore
	termsStates StateStore

	redirectURI string
	skipTerms   bool

	// onPersist 在流程完成持久化后回调（重载轮询器）
	onPersist func(account *models.Account)

	mu    sync.RWMutex
	flows map[string]*Flow
}

// NewEngine 创建授权流程引擎
func NewEngine(
	logger *zap.Logger,
	api VendorAPI,
	store ConfigStore,
	loginStates, termsStates StateStore,
	redirectURI string,
	skipTerms bool,
) *Engine {
	return &Engine{
		logger:      logger,
		api:         api,
		store:       store,
		loginStates: loginStates,
		termsStates: termsStates,
		redirectURI: redirectURI,
		skipTerms:   skipTerms,
		flows:       make(map[string]*Flow),
	}
}

// OnPersist 注册流程完成回调
func (e *Engine) OnPersist(fn func(account *models.Account)) {
	e.onPersist = fn
}

// Get 查询流程
func (e *Engine) Get(flowID string) (*Flow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	flow, ok := e.flows[flowID]
	return flow, ok
}

// StartLogin 开始新的登录流程
// 单账户约束：已有配置时拒绝新建（重新授权走 StartReauth）
func (e *Engine) StartLogin(ctx context.Context, clientID, clientSecret string) (*Flow, error) {
	account, err := e.store.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("check existing account: %w", err)
	}
	if account != nil {
		return nil, ErrAlreadyConfigured
	}

	return e.startFlow(clientID, clientSecret, false)
}

// StartReauth 开始重新授权流程
// 以已存储的 client_id/client_secret 重新进入流程，绕过单账户约束
func (e *Engine) StartReauth(ctx context.Context) (*Flow, error) {
	account, err := e.store.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("load account for reauth: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("no account to reauthorize")
	}

	return e.startFlow(account.Credentials.ClientID, account.Credentials.ClientSecret, true)
}

// startFlow 建立流程：生成 state token、登记映射、构造授权跳转地址
func (e *Engine) startFlow(clientID, clientSecret string, reauth bool) (*Flow, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("client_id and client_secret are required")
	}

	flow := newFlow(clientID, clientSecret, reauth)

	flow.mu.Lock()
	flow.redirectURI = e.redirectURI
	flow.loginState = NewStateToken()
	flow.authURL = e.api.BuildAuthorizeURL(clientID, e.redirectURI, flow.loginState)
	if err := flow.trigger(EventSubmit); err != nil {
		flow.mu.Unlock()
		return nil, err
	}
	flow.mu.Unlock()

	e.loginStates.Put(flow.loginState, flow.id)

	e.mu.Lock()
	e.flows[flow.id] = flow
	e.mu.Unlock()

	e.logger.Info("Authorization flow started",
		zap.String("flow_id", flow.id),
		zap.Bool("reauth", reauth))

	return flow, nil
}

// HandleOAuthCallback 处理外部授权回调
// state token 恰好消费一次：重放或未知 state 一律拒绝且不改动任何流程
func (e *Engine) HandleOAuthCallback(ctx context.Context, state, code string) (*Flow, error) {
	flowID, ok := e.loginStates.Take(state)
	if !ok {
		return nil, ErrInvalidState
	}

	flow, ok := e.Get(flowID)
	if !ok {
		return nil, ErrFlowNotFound
	}

	flow.mu.Lock()
	defer flow.mu.Unlock()

	if flow.fsm.Current() != StepAwaitingAuthorization {
		return flow, ErrWrongStep
	}
	if err := flow.trigger(EventCodeReceived); err != nil {
		return flow, err
	}

	if err := e.exchangeCodeLocked(ctx, flow, code); err != nil {
		flow.abortLocked(AbortInvalidAuth)
		e.logger.Warn("Authorization flow aborted during code exchange",
			zap.String("flow_id", flow.id), zap.Error(err))
		return flow, err
	}

	return flow, nil
}

// exchangeCodeLocked 执行令牌交换和资料获取，再进入条款或列车步骤（调用方持 flow 锁）
func (e *Engine) exchangeCodeLocked(ctx context.Context, flow *Flow, code string) error {
	token, err := e.api.RequestToken(ctx, bluelink.TokenRequest{
		ClientID:     flow.clientID,
		ClientSecret: flow.clientSecret,
		GrantType:    bluelink.GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  flow.redirectURI,
	})
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	flow.token = token

	profile, err := e.api.GetProfile(ctx, token.AccessToken)
	if err != nil {
		return fmt.Errorf("fetch profile: %w", err)
	}
	if profile.ID == "" {
		return fmt.Errorf("profile missing id")
	}
	flow.userID = profile.ID

	// 配置跳过条款时先直接尝试列车，失败或为空再回落到条款路径
	if e.skipTerms {
		cars, err := e.api.GetCarList(ctx, token.AccessToken)
		if err == nil && len(cars) > 0 {
			if err := flow.trigger(EventSkipTerms); err != nil {
				return err
			}
			return e.finishListingLocked(flow, cars)
		}
		e.logger.Debug("Direct car listing unavailable, falling back to terms",
			zap.String("flow_id", flow.id), zap.Error(err))
	}

	return e.requestTermsLocked(ctx, flow)
}

// requestTermsLocked 生成条款 state token 并发起条款同意请求（调用方持 flow 锁）
func (e *Engine) requestTermsLocked(ctx context.Context, flow *Flow) error {
	flow.termsState = NewStateToken()
	flow.termsURL = e.api.BuildTermsAgreementURL(flow.token.AccessToken, flow.termsState)
	e.termsStates.Put(flow.termsState, flow.id)

	if err := e.api.RequestTermsAgreement(ctx, flow.token.AccessToken, flow.termsState); err != nil {
		return fmt.Errorf("request terms agreement: %w", err)
	}

	return flow.trigger(EventRequestTerms)
}

// HandleTermsCallback 处理条款同意回调，消费规则与登录回调一致
func (e *Engine) HandleTermsCallback(ctx context.Context, state, userID, errCode string) (*Flow, error) {
	flowID, ok := e.termsStates.Take(state)
	if !ok {
		return nil, ErrInvalidState
	}

	flow, ok := e.Get(flowID)
	if !ok {
		return nil, ErrFlowNotFound
	}

	flow.mu.Lock()
	defer flow.mu.Unlock()

	if flow.fsm.Current() != StepAwaitingTerms {
		return flow, ErrWrongStep
	}

	if errCode != "" || userID == "" {
		flow.abortLocked(AbortInvalidAuth)
		return flow, fmt.Errorf("terms agreement rejected (errCode=%s)", errCode)
	}
	flow.termsUserID = userID

	if err := flow.trigger(EventTermsAccepted); err != nil {
		return flow, err
	}

	cars, err := e.api.GetCarList(ctx, flow.token.AccessToken)
	if err != nil {
		flow.abortLocked(AbortInvalidAuth)
		return flow, fmt.Errorf("list cars: %w", err)
	}

	if err := e.finishListingLocked(flow, cars); err != nil {
		return flow, err
	}

	return flow, nil
}

// finishListingLocked 校验车辆列表并进入选择步骤（调用方持 flow 锁）
func (e *Engine) finishListingLocked(flow *Flow, cars []bluelink.Car) error {
	if len(cars) == 0 {
		flow.abortLocked(AbortNoVehicles)
		return fmt.Errorf("account has no registered cars")
	}

	flow.cars = cars
	return flow.trigger(EventVehiclesListed)
}

// SelectVehicle 选择车辆并持久化最终配置
// 重新授权时合并进既有配置并触发重载，否则新建配置
func (e *Engine) SelectVehicle(ctx context.Context, flowID, carID string) error {
	flow, ok := e.Get(flowID)
	if !ok {
		return ErrFlowNotFound
	}

	flow.mu.Lock()
	defer flow.mu.Unlock()

	if flow.fsm.Current() != StepSelectingVehicle {
		return ErrWrongStep
	}

	var selected *bluelink.Car
	for i := range flow.cars {
		if flow.cars[i].CarID == carID {
			selected = &flow.cars[i]
			break
		}
	}
	if selected == nil {
		return fmt.Errorf("car %s not in listed cars", carID)
	}

	account := &models.Account{}
	if flow.reauth {
		existing, err := e.store.GetAccount(ctx)
		if err != nil {
			return fmt.Errorf("load account for merge: %w", err)
		}
		if existing != nil {
			account = existing
		}
	}

	account.Credentials = models.Credentials{
		ClientID:              flow.clientID,
		ClientSecret:          flow.clientSecret,
		RedirectURI:           flow.redirectURI,
		AccessToken:           flow.token.AccessToken,
		RefreshToken:          flow.token.RefreshToken,
		TokenType:             tokenTypeOrBearer(flow.token.TokenType),
		AccessTokenExpiresAt:  flow.token.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: flow.token.RefreshTokenExpiresAt,
	}
	account.UserID = flow.userID
	account.TermsUserID = flow.termsUserID
	account.SelectedCarID = selected.CarID
	// 新凭证重置重新授权提醒标记
	account.ReauthNotified = false

	if err := e.store.SaveAccount(ctx, account); err != nil {
		return fmt.Errorf("persist account: %w", err)
	}
	if err := e.store.SyncVehicles(ctx, flow.cars, selected.CarID); err != nil {
		return fmt.Errorf("sync vehicles: %w", err)
	}

	if err := flow.trigger(EventPersist); err != nil {
		return err
	}

	e.logger.Info("Authorization flow persisted",
		zap.String("flow_id", flow.id),
		zap.String("car_id", selected.CarID),
		zap.Bool("reauth", flow.reauth))

	if e.onPersist != nil {
		e.onPersist(account)
	}

	return nil
}

// tokenTypeOrBearer 令牌类型缺省为 Bearer
func tokenTypeOrBearer(tokenType string) string {
	if tokenType == "" {
		return "Bearer"
	}
	return tokenType
}
