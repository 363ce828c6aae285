package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/evgate/internal/models"
)

// AccountRepository 用户账号仓库
type AccountRepository struct {
	db *DB
}

// NewAccountRepository 创建账号仓库
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create 创建账号
func (r *AccountRepository) Create(ctx context.Context, a *models.Account) error {
	query := `INSERT INTO accounts (email, user_name, password) VALUES ($1, $2, $3)`
	_, err := r.db.Pool.Exec(ctx, query, a.Email, a.UserName, a.Password)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// ExistsByEmail 邮箱是否已注册
func (r *AccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var got string
	err := r.db.Pool.QueryRow(ctx, `SELECT email FROM accounts WHERE email = $1`, email).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check account exists: %w", err)
	}
	return true, nil
}

// GetByUserName 按用户名查询账号（登录用）
func (r *AccountRepository) GetByUserName(ctx context.Context, userName string) (*models.Account, error) {
	query := `SELECT email, user_name, password, vehicle_id FROM accounts WHERE user_name = $1 LIMIT 1`
	a := &models.Account{}
	err := r.db.Pool.QueryRow(ctx, query, userName).Scan(&a.Email, &a.UserName, &a.Password, &a.VehicleID)
	if err != nil {
		return nil, fmt.Errorf("get account by user name: %w", err)
	}
	return a, nil
}

// GetByEmail 按邮箱查询账号
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT email, user_name, password, vehicle_id FROM accounts WHERE email = $1`
	a := &models.Account{}
	err := r.db.Pool.QueryRow(ctx, query, email).Scan(&a.Email, &a.UserName, &a.Password, &a.VehicleID)
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

// SetActiveVehicle 更新账号的激活车辆
func (r *AccountRepository) SetActiveVehicle(ctx context.Context, email, vehicleID string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE accounts SET vehicle_id = $1 WHERE email = $2`, vehicleID, email)
	if err != nil {
		return fmt.Errorf("set active vehicle: %w", err)
	}
	return nil
}

// AddVehicleMapping 绑定车辆到用户
func (r *AccountRepository) AddVehicleMapping(ctx context.Context, email, vehicleID, vehicleName string) error {
	query := `INSERT INTO user_vehicle_mapping (email, vehicle_id, vehicle_name) VALUES ($1, $2, $3)`
	_, err := r.db.Pool.Exec(ctx, query, email, vehicleID, vehicleName)
	if err != nil {
		return fmt.Errorf("insert vehicle mapping: %w", err)
	}
	return nil
}

// VehicleMapped 车辆是否已被任何用户绑定
func (r *AccountRepository) VehicleMapped(ctx context.Context, vehicleID string) (bool, error) {
	var got string
	err := r.db.Pool.QueryRow(ctx,
		`SELECT vehicle_id FROM user_vehicle_mapping WHERE vehicle_id = $1`, vehicleID).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check vehicle mapped: %w", err)
	}
	return true, nil
}

// OwnsVehicle 用户是否绑定了该车辆
func (r *AccountRepository) OwnsVehicle(ctx context.Context, email, vehicleID string) (bool, error) {
	var got string
	err := r.db.Pool.QueryRow(ctx,
		`SELECT vehicle_id FROM user_vehicle_mapping WHERE email = $1 AND vehicle_id = $2`,
		email, vehicleID).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check vehicle ownership: %w", err)
	}
	return true, nil
}

// ListVehicles 列出用户绑定的车辆
func (r *AccountRepository) ListVehicles(ctx context.Context, email string) ([]models.UserVehicle, error) {
	query := `SELECT vehicle_id, vehicle_name FROM user_vehicle_mapping WHERE email = $1`
	rows, err := r.db.Pool.Query(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("list user vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []models.UserVehicle
	for rows.Next() {
		var v models.UserVehicle
		if err := rows.Scan(&v.VehicleID, &v.VehicleName); err != nil {
			return nil, fmt.Errorf("scan user vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, nil
}
