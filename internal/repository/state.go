package repository

import (
	"context"
	"fmt"

	"github.com/RandyVollrath/curbwatch/internal/models"
)

// StateRepository 监控状态仓库
type StateRepository struct {
	db *DB
}

// NewStateRepository 创建监控状态仓库
func NewStateRepository(db *DB) *StateRepository {
	return &StateRepository{db: db}
}

// Get 获取车辆监控状态
func (r *StateRepository) Get(ctx context.Context, vehicleID int64) (*models.MonitoringState, error) {
	query := `
		SELECT vehicle_id, active, connection, last_disconnect_at, last_check_at, updated_at
		FROM monitoring_states WHERE vehicle_id = $1
	`
	ms := &models.MonitoringState{}
	err := r.db.Pool.QueryRow(ctx, query, vehicleID).Scan(
		&ms.VehicleID,
		&ms.Active,
		&ms.Connection,
		&ms.LastDisconnectAt,
		&ms.LastCheckAt,
		&ms.UpdatedAt,
	)
	if err != nil {
		return nil, err // 可能还没有监控状态
	}
	return ms, nil
}

// Upsert 写入监控状态
// 每次内存状态变更都落库，重启后可恢复
func (r *StateRepository) Upsert(ctx context.Context, ms *models.MonitoringState) error {
	query := `
		INSERT INTO monitoring_states (vehicle_id, active, connection, last_disconnect_at, last_check_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (vehicle_id) DO UPDATE SET
			active = EXCLUDED.active,
			connection = EXCLUDED.connection,
			last_disconnect_at = EXCLUDED.last_disconnect_at,
			last_check_at = EXCLUDED.last_check_at,
			updated_at = NOW()
	`
	_, err := r.db.Pool.Exec(ctx, query,
		ms.VehicleID,
		ms.Active,
		ms.Connection,
		ms.LastDisconnectAt,
		ms.LastCheckAt,
	)
	if err != nil {
		return fmt.Errorf("upsert monitoring state: %w", err)
	}
	return nil
}
