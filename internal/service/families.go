package service

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/bluegazer/internal/api/bluelink"
	"github.com/langchou/bluegazer/internal/models"
)

// 指标族名称常量
const (
	FamilyRange    = "range"
	FamilyBattery  = "battery"
	FamilyCharging = "charging"
	FamilyOdometer = "odometer"
	FamilyWarnings = "warnings"
)

// StatusAPI 轮询器所需的车辆状态接口（由 bluelink.Client 实现）
type StatusAPI interface {
	GetDrivingRange(ctx context.Context, accessToken, carID string) (*bluelink.DrivingRange, error)
	GetOdometer(ctx context.Context, accessToken, carID string) (*bluelink.Odometer, error)
	GetEVCharging(ctx context.Context, accessToken, carID string) (*bluelink.EVCharging, error)
	GetBattery(ctx context.Context, accessToken, carID string) (*bluelink.Battery, error)
	GetWarning(ctx context.Context, accessToken, carID string, kind bluelink.WarningKind) (*bluelink.WarningStatus, error)
}

// family 指标族定义
// 每个族有自己的轮询间隔、适用条件和抓取逻辑，轮询器按表中顺序逐族处理
type family struct {
	name     string
	interval func(p *Poller) time.Duration
	applies  func(v *models.Vehicle) bool
	fetch    func(ctx context.Context, api StatusAPI, accessToken string, v *models.Vehicle, snap *models.Snapshot) error
}

// appliesAll 所有车型都适用
func appliesAll(_ *models.Vehicle) bool { return true }

// families 指标族表，顺序即每个周期内的抓取顺序
var families = []family{
	{
		name:     FamilyRange,
		interval: func(p *Poller) time.Duration { return p.cfg.IntervalRange },
		applies:  appliesAll,
		fetch: func(ctx context.Context, api StatusAPI, accessToken string, v *models.Vehicle, snap *models.Snapshot) error {
			dte, err := api.GetDrivingRange(ctx, accessToken, v.CarID)
			if err != nil {
				return err
			}
			snap.DrivingRange = dte
			return nil
		},
	},
	{
		name:     FamilyBattery,
		interval: func(p *Poller) time.Duration { return p.cfg.IntervalBattery },
		applies:  appliesAll,
		fetch: func(ctx context.Context, api StatusAPI, accessToken string, v *models.Vehicle, snap *models.Snapshot) error {
			battery, err := api.GetBattery(ctx, accessToken, v.CarID)
			if err != nil {
				return err
			}
			snap.Battery = battery
			return nil
		},
	},
	{
		name: FamilyCharging,
		// 充电中切换为加密间隔
		interval: func(p *Poller) time.Duration {
			if p.isCharging() {
				return p.cfg.IntervalChargingFast
			}
			return p.cfg.IntervalCharging
		},
		applies: func(v *models.Vehicle) bool { return v.EVCapable() },
		fetch: func(ctx context.Context, api StatusAPI, accessToken string, v *models.Vehicle, snap *models.Snapshot) error {
			charging, err := api.GetEVCharging(ctx, accessToken, v.CarID)
			if err != nil {
				return err
			}
			snap.Charging = charging
			return nil
		},
	},
	{
		name:     FamilyOdometer,
		interval: func(p *Poller) time.Duration { return p.cfg.IntervalOdometer },
		applies:  appliesAll,
		fetch: func(ctx context.Context, api StatusAPI, accessToken string, v *models.Vehicle, snap *models.Snapshot) error {
			odometer, err := api.GetOdometer(ctx, accessToken, v.CarID)
			if err != nil {
				return err
			}
			snap.Odometer = odometer
			return nil
		},
	},
	{
		name:     FamilyWarnings,
		interval: func(p *Poller) time.Duration { return p.cfg.IntervalWarnings },
		applies:  appliesAll,
		fetch: func(ctx context.Context, api StatusAPI, accessToken string, v *models.Vehicle, snap *models.Snapshot) error {
			bundle := &bluelink.WarningBundle{}
			if snap.Warnings != nil {
				copied := *snap.Warnings
				bundle = &copied
			}
			for _, kind := range warningKindsFor(v) {
				status, err := api.GetWarning(ctx, accessToken, v.CarID, kind)
				if err != nil {
					return fmt.Errorf("warning %s: %w", kind, err)
				}
				bundle.Set(kind, status)
			}
			snap.Warnings = bundle
			return nil
		},
	},
}

// warningKindsFor 车型适用的警告类别
// 纯电车型（EV/FCEV）没有机油，跳过机油警告
func warningKindsFor(v *models.Vehicle) []bluelink.WarningKind {
	kinds := []bluelink.WarningKind{
		bluelink.WarningLowFuel,
		bluelink.WarningTirePressure,
		bluelink.WarningLampWire,
		bluelink.WarningSmartKeyBattery,
		bluelink.WarningWasherFluid,
		bluelink.WarningBrakeOil,
	}
	if !v.PureEV() {
		kinds = append(kinds, bluelink.WarningEngineOil)
	}
	return kinds
}
