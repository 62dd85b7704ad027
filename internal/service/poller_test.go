package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/bluegazer/internal/api/bluelink"
	"github.com/langchou/bluegazer/internal/config"
	"github.com/langchou/bluegazer/internal/models"
)

// fakeStatusAPI 可编程的车辆状态接口桩，记录调用顺序
type fakeStatusAPI struct {
	calls []string

	rangeErr    error
	batteryErr  error
	chargingErr error
	odoErr      error
	warnErr     error

	rangeValue float64
	charging   *bluelink.EVCharging
}

func (f *fakeStatusAPI) GetDrivingRange(_ context.Context, _, _ string) (*bluelink.DrivingRange, error) {
	f.calls = append(f.calls, FamilyRange)
	if f.rangeErr != nil {
		return nil, f.rangeErr
	}
	return &bluelink.DrivingRange{Value: f.rangeValue, Unit: 1}, nil
}

func (f *fakeStatusAPI) GetOdometer(_ context.Context, _, _ string) (*bluelink.Odometer, error) {
	f.calls = append(f.calls, FamilyOdometer)
	if f.odoErr != nil {
		return nil, f.odoErr
	}
	return &bluelink.Odometer{Odometers: []bluelink.OdometerEntry{{Value: 12000, Unit: 1}}}, nil
}

func (f *fakeStatusAPI) GetEVCharging(_ context.Context, _, _ string) (*bluelink.EVCharging, error) {
	f.calls = append(f.calls, FamilyCharging)
	if f.chargingErr != nil {
		return nil, f.chargingErr
	}
	if f.charging != nil {
		return f.charging, nil
	}
	return &bluelink.EVCharging{SOC: 80}, nil
}

func (f *fakeStatusAPI) GetBattery(_ context.Context, _, _ string) (*bluelink.Battery, error) {
	f.calls = append(f.calls, FamilyBattery)
	if f.batteryErr != nil {
		return nil, f.batteryErr
	}
	return &bluelink.Battery{SOC: 90}, nil
}

func (f *fakeStatusAPI) GetWarning(_ context.Context, _, _ string, kind bluelink.WarningKind) (*bluelink.WarningStatus, error) {
	f.calls = append(f.calls, "warning:"+string(kind))
	if f.warnErr != nil {
		return nil, f.warnErr
	}
	return &bluelink.WarningStatus{Status: false}, nil
}

// familyCalls 只保留族级别的调用记录（warning 合并为 warnings）
func (f *fakeStatusAPI) familyCalls() []string {
	var out []string
	for _, call := range f.calls {
		if len(call) > 8 && call[:8] == "warning:" {
			if len(out) == 0 || out[len(out)-1] != FamilyWarnings {
				out = append(out, FamilyWarnings)
			}
			continue
		}
		out = append(out, call)
	}
	return out
}

type fakeTokens struct {
	creds *models.Credentials
}

func (f *fakeTokens) AccessToken() string {
	if f.creds == nil {
		return ""
	}
	return f.creds.AccessToken
}

func (f *fakeTokens) Credentials() *models.Credentials { return f.creds }

type fakeVehicles struct {
	vehicle *models.Vehicle
}

func (f *fakeVehicles) GetSelected(_ context.Context) (*models.Vehicle, error) {
	return f.vehicle, nil
}

type fakeSnapRepo struct {
	saved []*models.Snapshot
}

func (f *fakeSnapRepo) Save(_ context.Context, snap *models.Snapshot) error {
	f.saved = append(f.saved, snap)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		PollTick:             30 * time.Second,
		IntervalRange:        time.Hour,
		IntervalOdometer:     time.Hour,
		IntervalWarnings:     time.Hour,
		IntervalBattery:      5 * time.Minute,
		IntervalCharging:     10 * time.Minute,
		IntervalChargingFast: time.Minute,
		PartialFailureMode:   config.PartialFailureAbort,
	}
}

func evVehicle() *models.Vehicle {
	return &models.Vehicle{CarID: "CAR1", Nickname: "내 차", CarType: bluelink.CarTypeEV, Selected: true}
}

func newTestPoller(cfg *config.Config, api *fakeStatusAPI, vehicle *models.Vehicle) (*Poller, *fakeSnapRepo) {
	snapRepo := &fakeSnapRepo{}
	tokens := &fakeTokens{creds: &models.Credentials{ClientID: "cid", AccessToken: "at-1"}}
	poller := NewPoller(cfg, zap.NewNop(), api, tokens, &fakeVehicles{vehicle: vehicle}, snapRepo, nil)
	poller.pause = func(context.Context, time.Duration) {}
	return poller, snapRepo
}

func TestPoller_FirstCycleFetchesEverything(t *testing.T) {
	api := &fakeStatusAPI{rangeValue: 320}
	poller, snapRepo := newTestPoller(testConfig(), api, evVehicle())
	require.NoError(t, poller.loadVehicle(context.Background()))

	require.NoError(t, poller.runCycle(context.Background(), false))

	// 首个周期全部抓取，顺序固定
	assert.Equal(t,
		[]string{FamilyRange, FamilyBattery, FamilyCharging, FamilyOdometer, FamilyWarnings},
		api.familyCalls())

	snap := poller.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, "CAR1", snap.CarID)
	assert.Equal(t, "at-1", snap.AccessToken)
	assert.Equal(t, 320.0, snap.DrivingRange.Value)
	assert.NotNil(t, snap.Battery)
	assert.NotNil(t, snap.Charging)
	assert.NotNil(t, snap.Odometer)
	assert.NotNil(t, snap.Warnings)

	require.Len(t, snapRepo.saved, 1)
}

func TestPoller_PureEVSkipsEngineOilWarning(t *testing.T) {
	api := &fakeStatusAPI{}
	poller, _ := newTestPoller(testConfig(), api, evVehicle())
	require.NoError(t, poller.loadVehicle(context.Background()))

	require.NoError(t, poller.runCycle(context.Background(), false))

	assert.NotContains(t, api.calls, "warning:engineOil")
	assert.Contains(t, api.calls, "warning:breakOil")
}

func TestPoller_CombustionVehicleSkipsCharging(t *testing.T) {
	api := &fakeStatusAPI{}
	vehicle := &models.Vehicle{CarID: "CAR2", CarType: bluelink.CarTypeGN, Selected: true}
	poller, _ := newTestPoller(testConfig(), api, vehicle)
	require.NoError(t, poller.loadVehicle(context.Background()))

	require.NoError(t, poller.runCycle(context.Background(), false))

	assert.NotContains(t, api.calls, FamilyCharging)
	// 燃油车有机油警告
	assert.Contains(t, api.calls, "warning:engineOil")

	snap := poller.Snapshot()
	assert.Nil(t, snap.Charging)
}

func TestPoller_IncrementalCycleHonorsIntervals(t *testing.T) {
	api := &fakeStatusAPI{}
	poller, _ := newTestPoller(testConfig(), api, evVehicle())
	require.NoError(t, poller.loadVehicle(context.Background()))

	current := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	poller.now = func() time.Time { return current }

	require.NoError(t, poller.runCycle(context.Background(), false))
	api.calls = nil

	// 6 分钟后：只有 12V 蓄电池（5m）到期
	current = current.Add(6 * time.Minute)
	require.NoError(t, poller.runCycle(context.Background(), false))
	assert.Equal(t, []string{FamilyBattery}, api.calls)

	// 再过 5 分钟（累计 11m）：蓄电池和充电到期
	api.calls = nil
	current = current.Add(5 * time.Minute)
	require.NoError(t, poller.runCycle(context.Background(), false))
	assert.Equal(t, []string{FamilyBattery, FamilyCharging}, api.calls)
}

func TestPoller_ChargingUsesFastInterval(t *testing.T) {
	api := &fakeStatusAPI{charging: &bluelink.EVCharging{SOC: 50, BatteryCharge: true}}
	poller, _ := newTestPoller(testConfig(), api, evVehicle())
	require.NoError(t, poller.loadVehicle(context.Background()))

	current := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	poller.now = func() time.Time { return current }

	require.NoError(t, poller.runCycle(context.Background(), false))
	require.True(t, poller.isCharging())
	api.calls = nil

	// 充电中 2 分钟后就到期（加密间隔 1m），10 分钟的常规间隔尚未到
	current = current.Add(2 * time.Minute)
	require.NoError(t, poller.runCycle(context.Background(), false))
	assert.Contains(t, api.calls, FamilyCharging)
}

func TestPoller_ForceRefreshResetsClocks(t *testing.T) {
	api := &fakeStatusAPI{}
	poller, _ := newTestPoller(testConfig(), api, evVehicle())
	require.NoError(t, poller.loadVehicle(context.Background()))

	current := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	poller.now = func() time.Time { return current }

	require.NoError(t, poller.runCycle(context.Background(), false))

	// 4 分钟后强制刷新：所有族无视到期时间全部抓取
	current = current.Add(4 * time.Minute)
	api.calls = nil
	require.NoError(t, poller.ForceRefresh(context.Background()))
	assert.Equal(t,
		[]string{FamilyRange, FamilyBattery, FamilyCharging, FamilyOdometer, FamilyWarnings},
		api.familyCalls())

	// 强制刷新重置时钟：30 秒后的增量周期无事可做
	current = current.Add(30 * time.Second)
	api.calls = nil
	require.NoError(t, poller.runCycle(context.Background(), false))
	assert.Empty(t, api.calls)
}

func TestPoller_AbortModeDiscardsWholeCycle(t *testing.T) {
	api := &fakeStatusAPI{rangeValue: 320}
	poller, snapRepo := newTestPoller(testConfig(), api, evVehicle())
	require.NoError(t, poller.loadVehicle(context.Background()))

	current := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	poller.now = func() time.Time { return current }

	require.NoError(t, poller.runCycle(context.Background(), false))
	firstSnap := poller.Snapshot()

	// 下个周期蓄电池失败：整个周期作废，旧缓存与时钟保持不变
	api.rangeValue = 280
	api.batteryErr = errors.New("vendor timeout")
	current = current.Add(2 * time.Hour)

	err := poller.runCycle(context.Background(), false)
	require.ErrorIs(t, err, ErrUpdateFailed)

	snap := poller.Snapshot()
	assert.Equal(t, firstSnap.DrivingRange.Value, snap.DrivingRange.Value)
	assert.Equal(t, firstSnap.UpdatedAt, snap.UpdatedAt)
	require.Len(t, snapRepo.saved, 1)

	// 失败周期不更新时钟：恢复后所有族重新抓取
	api.batteryErr = nil
	api.calls = nil
	require.NoError(t, poller.runCycle(context.Background(), false))
	assert.Equal(t,
		[]string{FamilyRange, FamilyBattery, FamilyCharging, FamilyOdometer, FamilyWarnings},
		api.familyCalls())
	assert.Equal(t, 280.0, poller.Snapshot().DrivingRange.Value)
}

func TestPoller_ContinueModeSkipsFailedFamily(t *testing.T) {
	cfg := testConfig()
	cfg.PartialFailureMode = config.PartialFailureContinue

	api := &fakeStatusAPI{rangeValue: 320, batteryErr: errors.New("vendor timeout")}
	poller, snapRepo := newTestPoller(cfg, api, evVehicle())
	require.NoError(t, poller.loadVehicle(context.Background()))

	require.NoError(t, poller.runCycle(context.Background(), false))

	snap := poller.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, 320.0, snap.DrivingRange.Value)
	assert.Nil(t, snap.Battery)
	assert.NotNil(t, snap.Charging)
	require.Len(t, snapRepo.saved, 1)
}

func TestPoller_NotConfigured(t *testing.T) {
	api := &fakeStatusAPI{}
	poller, _ := newTestPoller(testConfig(), api, nil)

	err := poller.loadVehicle(context.Background())
	require.ErrorIs(t, err, ErrNotConfigured)

	err = poller.runCycle(context.Background(), false)
	require.ErrorIs(t, err, ErrNotConfigured)
}
