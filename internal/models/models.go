package models

import "time"

// Credentials OAuth2 凭证及过期信息
// 过期时间为绝对时间戳，仅由成功的令牌交换结果更新
type Credentials struct {
	ClientID              string     `json:"client_id" db:"client_id"`
	ClientSecret          string     `json:"client_secret" db:"client_secret"`
	RedirectURI           string     `json:"redirect_uri" db:"redirect_uri"`
	AccessToken           string     `json:"access_token" db:"access_token"`
	RefreshToken          string     `json:"refresh_token" db:"refresh_token"`
	TokenType             string     `json:"token_type" db:"token_type"`
	AccessTokenExpiresAt  time.Time  `json:"access_token_expires_at" db:"access_token_expires_at"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at" db:"refresh_token_expires_at"`
}

// Account 账户配置（凭证 + 车辆选择）
// 单账户模型：同一逻辑账户只保留一条配置，重新授权时合并更新而非新建
type Account struct {
	ID             int64       `json:"id" db:"id"`
	Credentials    Credentials `json:"credentials"`
	UserID         string      `json:"user_id" db:"user_id"`
	TermsUserID    string      `json:"terms_user_id" db:"terms_user_id"`
	SelectedCarID  string      `json:"selected_car_id" db:"selected_car_id"`
	ReauthNotified bool        `json:"reauth_notified" db:"reauth_notified"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}
