package bluelink

import (
	"strings"
	"time"
)

// 车型代码常量（capability 判定依据）
const (
	CarTypeEV   = "EV"
	CarTypePHEV = "PHEV"
	CarTypeFCEV = "FCEV"
	CarTypeHEV  = "HEV"
	CarTypeGN   = "GN" // 燃油车
)

// TokenRequest 令牌交换请求参数
// GrantType 决定必填字段：authorization_code 需要 Code，
// refresh_token 需要 RefreshToken，delete 需要 AccessToken
type TokenRequest struct {
	ClientID     string
	ClientSecret string
	GrantType    string
	Code         string
	RefreshToken string
	AccessToken  string
	RedirectURI  string
}

// TokenResult 令牌交换结果（过期时间为绝对时间戳）
type TokenResult struct {
	AccessToken           string     `json:"access_token"`
	RefreshToken          string     `json:"refresh_token"`
	TokenType             string     `json:"token_type"`
	AccessTokenExpiresAt  time.Time  `json:"access_token_expires_at"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at"`
}

// tokenResponse 供应商令牌接口原始响应
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Profile 用户资料
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Car 供应商车辆信息
type Car struct {
	CarID       string `json:"carId"`
	CarNickname string `json:"carNickname"`
	CarName     string `json:"carName"`
	CarType     string `json:"carType"`
	CarSellname string `json:"carSellname"`
}

// carListResponse 车辆列表响应
type carListResponse struct {
	Cars  []Car  `json:"cars"`
	MsgID string `json:"msgId"`
}

// DrivingRange 续航里程
type DrivingRange struct {
	Value          float64  `json:"value"`
	Unit           int      `json:"unit"`
	Timestamp      string   `json:"timestamp"`
	PhevTotalValue *float64 `json:"phevTotalValue,omitempty"`
	PhevTotalUnit  *int     `json:"phevTotalUnit,omitempty"`
	MsgID          string   `json:"msgId"`
}

// OdometerEntry 单条里程记录
type OdometerEntry struct {
	Value     float64 `json:"value"`
	Unit      int     `json:"unit"`
	Date      string  `json:"date"`
	Timestamp string  `json:"timestamp"`
}

// Odometer 里程表响应
type Odometer struct {
	Odometers []OdometerEntry `json:"odometers"`
	MsgID     string          `json:"msgId"`
}

// Latest 返回最新一条里程记录（按 timestamp 排序，供应商保证倒序）
func (o *Odometer) Latest() *OdometerEntry {
	if o == nil || len(o.Odometers) == 0 {
		return nil
	}
	latest := &o.Odometers[0]
	for i := range o.Odometers {
		if o.Odometers[i].Timestamp > latest.Timestamp {
			latest = &o.Odometers[i]
		}
	}
	return latest
}

// TargetSOC 目标充电量设置
type TargetSOC struct {
	PlugType       int `json:"plugType"`
	TargetSOCLevel int `json:"targetSOClevel"`
}

// RemainTime 剩余充电时间
type RemainTime struct {
	Value float64 `json:"value"`
	Unit  int     `json:"unit"`
}

// EVCharging EV 充电状态
type EVCharging struct {
	SOC           float64     `json:"soc"`
	BatteryCharge bool        `json:"batteryCharge"`
	BatteryPlugin int         `json:"batteryPlugin"`
	TargetSOC     *TargetSOC  `json:"targetSOC,omitempty"`
	RemainTime    *RemainTime `json:"remainTime,omitempty"`
	Timestamp     string      `json:"timestamp"`
	MsgID         string      `json:"msgId"`
}

// Battery 12V 蓄电池状态
type Battery struct {
	SOC       float64 `json:"soc"`
	Timestamp string  `json:"timestamp"`
	MsgID     string  `json:"msgId"`
}

// WarningStatus 单项警告状态
type WarningStatus struct {
	Status    bool   `json:"status"`
	Timestamp string `json:"timestamp"`
	MsgID     string `json:"msgId"`
}

// WarningKind 警告类别
type WarningKind string

// 警告类别常量（对应供应商各警告端点）
const (
	WarningLowFuel         WarningKind = "lowFuel"
	WarningTirePressure    WarningKind = "tirePressure"
	WarningLampWire        WarningKind = "lampWire"
	WarningSmartKeyBattery WarningKind = "smartKeyBattery"
	WarningWasherFluid     WarningKind = "washerFluid"
	WarningBrakeOil        WarningKind = "breakOil"
	WarningEngineOil       WarningKind = "engineOil"
)

// WarningBundle 警告集合（engineOil 仅适用于非纯电车型）
type WarningBundle struct {
	LowFuel         *WarningStatus `json:"lowFuel,omitempty"`
	TirePressure    *WarningStatus `json:"tirePressure,omitempty"`
	LampWire        *WarningStatus `json:"lampWire,omitempty"`
	SmartKeyBattery *WarningStatus `json:"smartKeyBattery,omitempty"`
	WasherFluid     *WarningStatus `json:"washerFluid,omitempty"`
	BrakeOil        *WarningStatus `json:"breakOil,omitempty"`
	EngineOil       *WarningStatus `json:"engineOil,omitempty"`
}

// Set 按类别写入警告状态
func (b *WarningBundle) Set(kind WarningKind, st *WarningStatus) {
	switch kind {
	case WarningLowFuel:
		b.LowFuel = st
	case WarningTirePressure:
		b.TirePressure = st
	case WarningLampWire:
		b.LampWire = st
	case WarningSmartKeyBattery:
		b.SmartKeyBattery = st
	case WarningWasherFluid:
		b.WasherFluid = st
	case WarningBrakeOil:
		b.BrakeOil = st
	case WarningEngineOil:
		b.EngineOil = st
	}
}

// NormalizeCarType 规范化车型代码（去空白、大写）
func NormalizeCarType(carType string) string {
	return strings.ToUpper(strings.TrimSpace(carType))
}

// IsEVCapable 车型是否具备充电/动力电池能力
// 未知车型按具备能力处理，避免漏采数据
func IsEVCapable(carType string) bool {
	switch NormalizeCarType(carType) {
	case CarTypeHEV, CarTypeGN:
		return false
	default:
		return true
	}
}

// IsPureEV 是否纯电车型（纯电车型不采集机油警告）
func IsPureEV(carType string) bool {
	switch NormalizeCarType(carType) {
	case CarTypeEV, CarTypeFCEV:
		return true
	default:
		return false
	}
}

// DrivingRangeUnitMap 供应商距离单位代码映射
var DrivingRangeUnitMap = map[int]string{
	0: "ft",
	1: "km",
	2: "m",
	3: "mi",
}

// UnitString 距离单位代码转字符串，未知代码返回空串
func UnitString(unit int) string {
	if s, ok := DrivingRangeUnitMap[unit]; ok {
		return s
	}
	return ""
}
