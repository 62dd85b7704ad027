package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/bluegazer/internal/models"
)

// SnapshotRepository 快照仓库，每辆车只保留最新一份
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository 创建快照仓库
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Save 保存快照（按 car_id 覆盖）
func (r *SnapshotRepository) Save(ctx context.Context, snap *models.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO snapshots (car_id, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (car_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Pool.Exec(ctx, query, snap.CarID, payload, snap.UpdatedAt); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Get 读取车辆的最新快照，不存在时返回 (nil, nil)
func (r *SnapshotRepository) Get(ctx context.Context, carID string) (*models.Snapshot, error) {
	var payload []byte
	err := r.db.Pool.QueryRow(ctx, `SELECT payload FROM snapshots WHERE car_id = $1`, carID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	snap := &models.Snapshot{}
	if err := json.Unmarshal(payload, snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}
