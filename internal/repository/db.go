package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateVehicles,
		migrationCreateAccounts,
		migrationCreateUserVehicleMapping,
		migrationCreateLocationLog,
		migrationCreateEventLog,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateVehicles = `
CREATE TABLE IF NOT EXISTS vehicles (
    vehicle_id VARCHAR(64) PRIMARY KEY,
    model VARCHAR(100) NOT NULL,
    color VARCHAR(50) NOT NULL,
    battery_voltage INT NOT NULL,
    battery_capacity INT NOT NULL,
    max_range INT NOT NULL,
    last_online TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`

const migrationCreateAccounts = `
CREATE TABLE IF NOT EXISTS accounts (
    email VARCHAR(255) PRIMARY KEY,
    user_name VARCHAR(100) NOT NULL UNIQUE,
    password TEXT NOT NULL,
    vehicle_id VARCHAR(64) NOT NULL DEFAULT ''
);
`

const migrationCreateUserVehicleMapping = `
CREATE TABLE IF NOT EXISTS user_vehicle_mapping (
    email VARCHAR(255) NOT NULL REFERENCES accounts(email),
    vehicle_id VARCHAR(64) NOT NULL UNIQUE REFERENCES vehicles(vehicle_id),
    vehicle_name VARCHAR(100),
    PRIMARY KEY (email, vehicle_id)
);
`

const migrationCreateLocationLog = `
CREATE TABLE IF NOT EXISTS location_log (
    time TIMESTAMP WITH TIME ZONE NOT NULL,
    vehicle_id VARCHAR(64) NOT NULL,
    lat DOUBLE PRECISION NOT NULL,
    lon DOUBLE PRECISION NOT NULL,
    heading INT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_location_log_vehicle_time ON location_log(vehicle_id, time);
`

const migrationCreateEventLog = `
CREATE TABLE IF NOT EXISTS event_log (
    time TIMESTAMP WITH TIME ZONE NOT NULL,
    vehicle_id VARCHAR(64) NOT NULL,
    event_id BIGINT NOT NULL,
    type INT NOT NULL,
    value VARCHAR(16) NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_event_log_vehicle_time ON event_log(vehicle_id, time);
`
