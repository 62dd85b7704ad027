package models

import (
	"time"

	"github.com/langchou/bluegazer/internal/api/bluelink"
)

// Vehicle 车辆信息（来自供应商车辆列表，持久化于 vehicles 表）
// 除重新授权或重新扫描外不可变；CarType 决定轮询哪些指标族
type Vehicle struct {
	ID        int64     `json:"id" db:"id"`
	CarID     string    `json:"car_id" db:"car_id"`
	Nickname  string    `json:"nickname" db:"nickname"`
	Name      string    `json:"name" db:"name"`
	CarType   string    `json:"car_type" db:"car_type"`
	Sellname  string    `json:"sellname" db:"sellname"`
	Selected  bool      `json:"selected" db:"selected"`
	Disabled  bool      `json:"disabled" db:"disabled"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// VehicleFromCar 由供应商车辆信息构造 Vehicle
func VehicleFromCar(car bluelink.Car) *Vehicle {
	return &Vehicle{
		CarID:    car.CarID,
		Nickname: car.CarNickname,
		Name:     car.CarName,
		CarType:  bluelink.NormalizeCarType(car.CarType),
		Sellname: car.CarSellname,
	}
}

// DisplayName 展示名称：昵称 > 名称 > carId
func (v *Vehicle) DisplayName() string {
	switch {
	case v.Nickname != "":
		return v.Nickname
	case v.Name != "":
		return v.Name
	default:
		return v.CarID
	}
}

// EVCapable 是否具备充电/动力电池能力
func (v *Vehicle) EVCapable() bool {
	return bluelink.IsEVCapable(v.CarType)
}

// PureEV 是否纯电车型
func (v *Vehicle) PureEV() bool {
	return bluelink.IsPureEV(v.CarType)
}
