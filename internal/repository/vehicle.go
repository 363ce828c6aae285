package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/evgate/internal/models"
)

// VehicleRepository 车辆注册信息仓库
type VehicleRepository struct {
	db *DB
}

// NewVehicleRepository 创建车辆仓库
func NewVehicleRepository(db *DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

// Upsert 注册或更新车辆；已存在时更新电压并刷新上线时间
func (r *VehicleRepository) Upsert(ctx context.Context, v *models.Vehicle) error {
	query := `
		INSERT INTO vehicles (vehicle_id, model, color, battery_voltage, battery_capacity, max_range, last_online)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (vehicle_id)
		DO UPDATE SET battery_voltage = EXCLUDED.battery_voltage, last_online = NOW()
	`
	_, err := r.db.Pool.Exec(ctx, query,
		v.VehicleID, v.Model, v.Color, v.BatteryVoltage, v.BatteryCapacity, v.MaxRange)
	if err != nil {
		return fmt.Errorf("upsert vehicle: %w", err)
	}
	return nil
}

// GetByID 获取车辆注册信息
func (r *VehicleRepository) GetByID(ctx context.Context, vehicleID string) (*models.Vehicle, error) {
	query := `
		SELECT vehicle_id, model, color, battery_voltage, battery_capacity, max_range, last_online
		FROM vehicles WHERE vehicle_id = $1
	`
	v := &models.Vehicle{}
	err := r.db.Pool.QueryRow(ctx, query, vehicleID).Scan(
		&v.VehicleID, &v.Model, &v.Color, &v.BatteryVoltage, &v.BatteryCapacity, &v.MaxRange, &v.LastOnline)
	if err != nil {
		return nil, fmt.Errorf("get vehicle: %w", err)
	}
	return v, nil
}

// Exists 车辆是否已注册
func (r *VehicleRepository) Exists(ctx context.Context, vehicleID string) (bool, error) {
	query := `SELECT vehicle_id FROM vehicles WHERE vehicle_id = $1`
	var id string
	err := r.db.Pool.QueryRow(ctx, query, vehicleID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check vehicle exists: %w", err)
	}
	return true, nil
}
