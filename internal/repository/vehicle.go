package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/bluegazer/internal/api/bluelink"
	"github.com/langchou/bluegazer/internal/models"
)

// VehicleRepository 车辆数据仓库
type VehicleRepository struct {
	db *DB
}

// NewVehicleRepository 创建车辆仓库
func NewVehicleRepository(db *DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

// Upsert 创建或更新车辆
func (r *VehicleRepository) Upsert(ctx context.Context, vehicle *models.Vehicle) error {
	query := `
		INSERT INTO vehicles (car_id, nickname, name, car_type, sellname, selected, disabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $7)
		ON CONFLICT (car_id) DO UPDATE SET
			nickname = EXCLUDED.nickname,
			name = EXCLUDED.name,
			car_type = EXCLUDED.car_type,
			sellname = EXCLUDED.sellname,
			selected = EXCLUDED.selected,
			disabled = FALSE,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	now := time.Now()
	err := r.db.Pool.QueryRow(ctx, query,
		vehicle.CarID,
		vehicle.Nickname,
		vehicle.Name,
		vehicle.CarType,
		vehicle.Sellname,
		vehicle.Selected,
		now,
	).Scan(&vehicle.ID, &vehicle.CreatedAt)

	if err != nil {
		return fmt.Errorf("upsert vehicle: %w", err)
	}

	vehicle.UpdatedAt = now
	return nil
}

// GetSelected 获取当前选中的车辆，不存在时返回 (nil, nil)
func (r *VehicleRepository) GetSelected(ctx context.Context) (*models.Vehicle, error) {
	vehicle, err := r.scanOne(ctx, `
		SELECT id, car_id, nickname, name, car_type, sellname, selected, disabled, created_at, updated_at
		FROM vehicles WHERE selected = TRUE AND disabled = FALSE LIMIT 1
	`)
	if err != nil {
		return nil, fmt.Errorf("get selected vehicle: %w", err)
	}
	return vehicle, nil
}

// GetByCarID 通过供应商 carId 获取车辆
func (r *VehicleRepository) GetByCarID(ctx context.Context, carID string) (*models.Vehicle, error) {
	vehicle, err := r.scanOne(ctx, `
		SELECT id, car_id, nickname, name, car_type, sellname, selected, disabled, created_at, updated_at
		FROM vehicles WHERE car_id = $1
	`, carID)
	if err != nil {
		return nil, fmt.Errorf("get vehicle by car_id: %w", err)
	}
	return vehicle, nil
}

func (r *VehicleRepository) scanOne(ctx context.Context, query string, args ...interface{}) (*models.Vehicle, error) {
	vehicle := &models.Vehicle{}
	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(
		&vehicle.ID,
		&vehicle.CarID,
		&vehicle.Nickname,
		&vehicle.Name,
		&vehicle.CarType,
		&vehicle.Sellname,
		&vehicle.Selected,
		&vehicle.Disabled,
		&vehicle.CreatedAt,
		&vehicle.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return vehicle, nil
}

// List 获取所有车辆
func (r *VehicleRepository) List(ctx context.Context) ([]*models.Vehicle, error) {
	query := `
		SELECT id, car_id, nickname, name, car_type, sellname, selected, disabled, created_at, updated_at
		FROM vehicles ORDER BY id
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []*models.Vehicle
	for rows.Next() {
		vehicle := &models.Vehicle{}
		err := rows.Scan(
			&vehicle.ID,
			&vehicle.CarID,
			&vehicle.Nickname,
			&vehicle.Name,
			&vehicle.CarType,
			&vehicle.Sellname,
			&vehicle.Selected,
			&vehicle.Disabled,
			&vehicle.CreatedAt,
			&vehicle.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		vehicles = append(vehicles, vehicle)
	}

	return vehicles, nil
}

// SyncVehicles 用供应商车辆列表对齐本地车辆表
// 列表中的车辆逐台 upsert 并解除禁用，本地存在但列表中缺失的车辆置为禁用，
// 选中标记只落在 selectedCarID 上
func (r *VehicleRepository) SyncVehicles(ctx context.Context, cars []bluelink.Car, selectedCarID string) error {
	seen := make([]string, 0, len(cars))

	for _, car := range cars {
		vehicle := models.VehicleFromCar(car)
		vehicle.Selected = car.CarID == selectedCarID
		if err := r.Upsert(ctx, vehicle); err != nil {
			return fmt.Errorf("sync vehicle %s: %w", car.CarID, err)
		}
		seen = append(seen, car.CarID)
	}

	// 不在列表中的车辆不删除，只禁用，历史快照仍可查
	query := `UPDATE vehicles SET disabled = TRUE, selected = FALSE, updated_at = NOW() WHERE NOT (car_id = ANY($1))`
	if _, err := r.db.Pool.Exec(ctx, query, seen); err != nil {
		return fmt.Errorf("disable missing vehicles: %w", err)
	}

	return nil
}
