package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/bluegazer/internal/config"
	"github.com/langchou/bluegazer/internal/models"
)

// ErrUpdateFailed 周期因某个指标族抓取失败而整体放弃
var ErrUpdateFailed = errors.New("status update failed")

// ErrNotConfigured 尚未完成授权配置，没有可轮询的车辆
var ErrNotConfigured = errors.New("no configured vehicle")

// TokenSource 轮询器所需的凭证来源（由 auth.Manager 实现）
type TokenSource interface {
	AccessToken() string
	Credentials() *models.Credentials
}

// VehicleSource 选中车辆来源
type VehicleSource interface {
	GetSelected(ctx context.Context) (*models.Vehicle, error)
}

// SnapshotRepo 快照持久化接口
type SnapshotRepo interface {
	Save(ctx context.Context, snap *models.Snapshot) error
}

// Broadcaster 快照广播接口（由 ws.Hub 实现）
type Broadcaster interface {
	BroadcastSnapshot(snap *models.Snapshot)
}

// Poller 轮询器
// 按指标族各自的间隔抓取车辆状态，每个周期结束后整体发布一次统一快照
type Poller struct {
	cfg      *config.Config
	logger   *zap.Logger
	api      StatusAPI
	tokens   TokenSource
	vehicles VehicleSource
	snapRepo SnapshotRepo
	hub      Broadcaster

	mu          sync.RWMutex
	vehicle     *models.Vehicle
	snapshot    *models.Snapshot
	lastFetch   map[string]time.Time
	subscribers []chan *models.Snapshot
	running     bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	// 测试注入
	now   func() time.Time
	pause func(ctx context.Context, d time.Duration)
}

// NewPoller 创建轮询器
func NewPoller(
	cfg *config.Config,
	logger *zap.Logger,
	api StatusAPI,
	tokens TokenSource,
	vehicles VehicleSource,
	snapRepo SnapshotRepo,
	hub Broadcaster,
) *Poller {
	return &Poller{
		cfg:       cfg,
		logger:    logger,
		api:       api,
		tokens:    tokens,
		vehicles:  vehicles,
		snapRepo:  snapRepo,
		hub:       hub,
		lastFetch: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
		now:       time.Now,
		pause:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Start 启动轮询
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.logger.Info("Poller already running, skipping start")
		return nil
	}
	p.stopCh = make(chan struct{})
	p.running = true
	p.mu.Unlock()

	if err := p.loadVehicle(ctx); err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return err
	}

	p.logger.Info("Starting poller")

	// 启动时立即执行一个完整周期
	if err := p.runCycle(ctx, false); err != nil {
		p.logger.Warn("Initial poll cycle failed", zap.Error(err))
	}

	p.wg.Add(1)
	go p.pollLoop(ctx)

	return nil
}

// Stop 停止轮询
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("Poller stopped")
}

// Reload 授权流程完成后重载车辆并重置全部抓取时钟
func (p *Poller) Reload(ctx context.Context) error {
	if err := p.loadVehicle(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	p.lastFetch = make(map[string]time.Time)
	p.snapshot = nil
	p.mu.Unlock()

	p.logger.Info("Poller reloaded", zap.String("car_id", p.selectedCarID()))

	return p.runCycle(ctx, false)
}

// Subscribe 订阅快照更新
func (p *Poller) Subscribe() <-chan *models.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan *models.Snapshot, 10)
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Snapshot 当前快照副本
func (p *Poller) Snapshot() *models.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.snapshot == nil {
		return nil
	}
	snap := *p.snapshot
	return &snap
}

// ForceRefresh 强制刷新：无视各族的到期时间全部抓取，并重置抓取时钟
func (p *Poller) ForceRefresh(ctx context.Context) error {
	return p.runCycle(ctx, true)
}

// loadVehicle 读取当前选中的车辆
func (p *Poller) loadVehicle(ctx context.Context) error {
	vehicle, err := p.vehicles.GetSelected(ctx)
	if err != nil {
		return fmt.Errorf("load selected vehicle: %w", err)
	}
	if vehicle == nil {
		return ErrNotConfigured
	}

	p.mu.Lock()
	p.vehicle = vehicle
	p.mu.Unlock()

	p.logger.Info("Polling vehicle",
		zap.String("car_id", vehicle.CarID),
		zap.String("name", vehicle.DisplayName()),
		zap.String("car_type", vehicle.CarType))
	return nil
}

func (p *Poller) selectedCarID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.vehicle == nil {
		return ""
	}
	return p.vehicle.CarID
}

// isCharging 根据最近一次充电读数判断当前是否在充电
func (p *Poller) isCharging() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot != nil && p.snapshot.IsCharging()
}

// pollLoop 轮询循环
// 基础 ticker 触发增量周期，每个族是否实际抓取由各自的到期时间决定
func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollTick)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.runCycle(ctx, false); err != nil {
				p.logger.Error("Poll cycle failed", zap.Error(err))
			}
		}
	}
}

// runCycle 执行一个轮询周期
// 按表中固定顺序逐族处理：未配置过或已到期的族才抓取（force 时全部抓取）。
// abort 策略下任一族失败则整个周期作废，已抓到的数据与时钟都不落地；
// continue 策略下仅跳过失败的族
func (p *Poller) runCycle(ctx context.Context, force bool) error {
	p.mu.RLock()
	vehicle := p.vehicle
	p.mu.RUnlock()

	if vehicle == nil {
		return ErrNotConfigured
	}

	creds := p.tokens.Credentials()
	if creds == nil || creds.AccessToken == "" {
		return fmt.Errorf("no access token available")
	}

	now := p.now()

	// 在副本上工作，周期成功后整体提交
	working := p.cloneSnapshot()
	working.CarID = vehicle.CarID
	working.Vehicle = vehicle
	working.ClientID = creds.ClientID
	working.AccessToken = creds.AccessToken

	fetched := make(map[string]time.Time)
	fetchedAny := false

	for _, fam := range families {
		if !fam.applies(vehicle) {
			continue
		}
		if !force && !p.isStale(fam.name, fam.interval(p), now) {
			continue
		}

		if force && fetchedAny && p.cfg.RefreshPacing > 0 {
			// 强制刷新时拉开相邻请求的间隔
			p.pause(ctx, p.cfg.RefreshPacing)
		}

		if err := fam.fetch(ctx, p.api, creds.AccessToken, vehicle, working); err != nil {
			if p.cfg.PartialFailureMode == config.PartialFailureContinue {
				p.logger.Warn("Metric family fetch failed, skipping",
					zap.String("family", fam.name),
					zap.String("car_id", vehicle.CarID),
					zap.Error(err))
				continue
			}
			p.logger.Warn("Metric family fetch failed, aborting cycle",
				zap.String("family", fam.name),
				zap.String("car_id", vehicle.CarID),
				zap.Error(err))
			return fmt.Errorf("%w: %s: %v", ErrUpdateFailed, fam.name, err)
		}

		fetched[fam.name] = now
		fetchedAny = true

		p.logger.Debug("Fetched metric family",
			zap.String("family", fam.name),
			zap.String("car_id", vehicle.CarID))
	}

	working.UpdatedAt = now

	p.mu.Lock()
	for name, at := range fetched {
		p.lastFetch[name] = at
	}
	p.snapshot = working
	p.mu.Unlock()

	p.publish(ctx, working)
	return nil
}

// isStale 检查指标族是否到期（从未抓取过视为到期）
func (p *Poller) isStale(name string, interval time.Duration, now time.Time) bool {
	p.mu.RLock()
	last, ok := p.lastFetch[name]
	p.mu.RUnlock()

	if !ok {
		return true
	}
	return now.Sub(last) >= interval
}

// cloneSnapshot 当前快照的浅拷贝（各族值整体替换，无需深拷贝）
func (p *Poller) cloneSnapshot() *models.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.snapshot == nil {
		return &models.Snapshot{}
	}
	snap := *p.snapshot
	return &snap
}

// publish 发布快照：持久化、通知订阅者、广播到 WebSocket
func (p *Poller) publish(ctx context.Context, snap *models.Snapshot) {
	if p.snapRepo != nil {
		if err := p.snapRepo.Save(ctx, snap); err != nil {
			p.logger.Error("Failed to persist snapshot", zap.Error(err), zap.String("car_id", snap.CarID))
		}
	}

	p.mu.RLock()
	subscribers := p.subscribers
	p.mu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- snap:
		default:
			// 跳过慢消费者
		}
	}

	if p.hub != nil {
		p.hub.BroadcastSnapshot(snap)
	}
}
