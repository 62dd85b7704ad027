package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/bluegazer/internal/models"
)

// AccountRepository 账户配置仓库
// 单账户模型：表中至多一行，按 id 升序取第一行即当前配置
type AccountRepository struct {
	db *DB
}

// NewAccountRepository 创建账户仓库
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetAccount 获取当前账户配置，不存在时返回 (nil, nil)
func (r *AccountRepository) GetAccount(ctx context.Context) (*models.Account, error) {
	query := `
		SELECT id, client_id, client_secret, redirect_uri, access_token, refresh_token,
		       token_type, access_token_expires_at, refresh_token_expires_at,
		       user_id, terms_user_id, selected_car_id, reauth_notified, created_at, updated_at
		FROM accounts ORDER BY id LIMIT 1
	`
	account := &models.Account{}
	var accessExpiresAt *time.Time
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&account.ID,
		&account.Credentials.ClientID,
		&account.Credentials.ClientSecret,
		&account.Credentials.RedirectURI,
		&account.Credentials.AccessToken,
		&account.Credentials.RefreshToken,
		&account.Credentials.TokenType,
		&accessExpiresAt,
		&account.Credentials.RefreshTokenExpiresAt,
		&account.UserID,
		&account.TermsUserID,
		&account.SelectedCarID,
		&account.ReauthNotified,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if accessExpiresAt != nil {
		account.Credentials.AccessTokenExpiresAt = *accessExpiresAt
	}
	return account, nil
}

// SaveAccount 保存账户配置（按 client_id 去重合并）
func (r *AccountRepository) SaveAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (client_id, client_secret, redirect_uri, access_token, refresh_token,
		                      token_type, access_token_expires_at, refresh_token_expires_at,
		                      user_id, terms_user_id, selected_car_id, reauth_notified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		ON CONFLICT (client_id) DO UPDATE SET
			client_secret = EXCLUDED.client_secret,
			redirect_uri = EXCLUDED.redirect_uri,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			access_token_expires_at = EXCLUDED.access_token_expires_at,
			refresh_token_expires_at = EXCLUDED.refresh_token_expires_at,
			user_id = EXCLUDED.user_id,
			terms_user_id = EXCLUDED.terms_user_id,
			selected_car_id = EXCLUDED.selected_car_id,
			reauth_notified = EXCLUDED.reauth_notified,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	now := time.Now()
	err := r.db.Pool.QueryRow(ctx, query,
		account.Credentials.ClientID,
		account.Credentials.ClientSecret,
		account.Credentials.RedirectURI,
		account.Credentials.AccessToken,
		account.Credentials.RefreshToken,
		account.Credentials.TokenType,
		account.Credentials.AccessTokenExpiresAt,
		account.Credentials.RefreshTokenExpiresAt,
		account.UserID,
		account.TermsUserID,
		account.SelectedCarID,
		account.ReauthNotified,
		now,
	).Scan(&account.ID, &account.CreatedAt)

	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}

	account.UpdatedAt = now
	return nil
}

// SaveCredentials 只更新凭证字段（令牌刷新后调用）
func (r *AccountRepository) SaveCredentials(ctx context.Context, creds *models.Credentials) error {
	query := `
		UPDATE accounts SET
			access_token = $1,
			refresh_token = $2,
			token_type = $3,
			access_token_expires_at = $4,
			refresh_token_expires_at = $5,
			updated_at = $6
		WHERE client_id = $7
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		creds.AccessToken,
		creds.RefreshToken,
		creds.TokenType,
		creds.AccessTokenExpiresAt,
		creds.RefreshTokenExpiresAt,
		time.Now(),
		creds.ClientID,
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no account for client_id %s", creds.ClientID)
	}
	return nil
}

// ReauthNotified 查询重新授权提醒去重标记
func (r *AccountRepository) ReauthNotified(ctx context.Context) (bool, error) {
	var notified bool
	err := r.db.Pool.QueryRow(ctx, `SELECT reauth_notified FROM accounts ORDER BY id LIMIT 1`).Scan(&notified)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get reauth_notified: %w", err)
	}
	return notified, nil
}

// MarkReauthNotified 置位重新授权提醒去重标记
func (r *AccountRepository) MarkReauthNotified(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE accounts SET reauth_notified = TRUE, updated_at = NOW()`)
	if err != nil {
		return fmt.Errorf("mark reauth_notified: %w", err)
	}
	return nil
}

// Delete 删除账户配置（注销时调用）
func (r *AccountRepository) Delete(ctx context.Context) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM accounts`); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}
