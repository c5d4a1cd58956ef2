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
		migrationCreateMonitoringStates,
		migrationCreateParkingLocations,
		migrationCreatePendingConfirmations,
		migrationCreateParkingRestrictions,
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
    id BIGSERIAL PRIMARY KEY,
    device_id VARCHAR(128) NOT NULL UNIQUE,
    name VARCHAR(255),
    plate VARCHAR(20),
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_vehicles_device_id ON vehicles(device_id);
`

const migrationCreateMonitoringStates = `
CREATE TABLE IF NOT EXISTS monitoring_states (
    vehicle_id BIGINT PRIMARY KEY REFERENCES vehicles(id),
    active BOOLEAN NOT NULL DEFAULT false,
    connection VARCHAR(20) NOT NULL DEFAULT 'connected',
    last_disconnect_at TIMESTAMP WITH TIME ZONE,
    last_check_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`

// 停车位置历史，只追加
// (vehicle_id, disconnect_time) 唯一索引是同一次物理断开的幂等键：
// 主信号和周期性兜底检查可能各写一次，落库后收敛为一行
const migrationCreateParkingLocations = `
CREATE TABLE IF NOT EXISTS parking_locations (
    id BIGSERIAL PRIMARY KEY,
    vehicle_id BIGINT NOT NULL REFERENCES vehicles(id),
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    accuracy_m DOUBLE PRECISION NOT NULL DEFAULT 0,
    source VARCHAR(20) NOT NULL,
    street_segment VARCHAR(128),
    address TEXT,
    disconnect_time TIMESTAMP WITH TIME ZONE NOT NULL,
    parked_at TIMESTAMP WITH TIME ZONE NOT NULL,

    -- 离开证据
    departed_at TIMESTAMP WITH TIME ZONE,
    departure_distance_m DOUBLE PRECISION,
    departure_conclusive BOOLEAN,
    departure_confirmed_at TIMESTAMP WITH TIME ZONE
);
CREATE INDEX IF NOT EXISTS idx_parking_locations_vehicle_id ON parking_locations(vehicle_id);
CREATE INDEX IF NOT EXISTS idx_parking_locations_parked_at ON parking_locations(parked_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_parking_locations_dedup
    ON parking_locations(vehicle_id, disconnect_time);
`

// 每辆车同一时刻至多一条进行中的离开确认
const migrationCreatePendingConfirmations = `
CREATE TABLE IF NOT EXISTS pending_confirmations (
    id BIGSERIAL PRIMARY KEY,
    vehicle_id BIGINT NOT NULL UNIQUE REFERENCES vehicles(id),
    parking_location_id BIGINT NOT NULL REFERENCES parking_locations(id),
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    retry_count INT NOT NULL DEFAULT 0,
    scheduled_at TIMESTAMP WITH TIME ZONE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`

const migrationCreateParkingRestrictions = `
CREATE TABLE IF NOT EXISTS parking_restrictions (
    id BIGSERIAL PRIMARY KEY,
    vehicle_id BIGINT NOT NULL REFERENCES vehicles(id),
    parking_location_id BIGINT NOT NULL REFERENCES parking_locations(id),
    kind VARCHAR(30) NOT NULL,
    starts_at TIMESTAMP WITH TIME ZONE NOT NULL,
    cancelled BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_parking_restrictions_location
    ON parking_restrictions(parking_location_id);
CREATE INDEX IF NOT EXISTS idx_parking_restrictions_starts_at
    ON parking_restrictions(starts_at);
`
