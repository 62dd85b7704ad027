package models

import (
	"time"

	"github.com/langchou/bluegazer/internal/api/bluelink"
)

// Snapshot 统一状态快照
// 每个轮询周期结束后整体发布一次，包含所有指标族的当前缓存值
// （可能来自更早的周期）、车辆元数据和当前生效的访问令牌
type Snapshot struct {
	CarID        string                  `json:"car_id"`
	Vehicle      *Vehicle                `json:"vehicle,omitempty"`
	ClientID     string                  `json:"client_id"`
	AccessToken  string                  `json:"access_token"`
	DrivingRange *bluelink.DrivingRange  `json:"driving_range,omitempty"`
	Battery      *bluelink.Battery       `json:"battery,omitempty"`
	Charging     *bluelink.EVCharging    `json:"charging,omitempty"`
	Odometer     *bluelink.Odometer      `json:"odometer,omitempty"`
	Warnings     *bluelink.WarningBundle `json:"warnings,omitempty"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// IsCharging 当前是否在充电
func (s *Snapshot) IsCharging() bool {
	return s.Charging != nil && s.Charging.BatteryCharge
}
