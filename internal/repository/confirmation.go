package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/RandyVollrath/curbwatch/internal/models"
)

// ConfirmationRepository 离开确认仓库
type ConfirmationRepository struct {
	db *DB
}

// NewConfirmationRepository 创建离开确认仓库
func NewConfirmationRepository(db *DB) *ConfirmationRepository {
	return &ConfirmationRepository{db: db}
}

// Replace 写入进行中的离开确认
// vehicle_id 唯一约束保证同一辆车至多一条；新周期直接覆盖旧记录
func (r *ConfirmationRepository) Replace(ctx context.Context, conf *models.PendingConfirmation) error {
	query := `
		INSERT INTO pending_confirmations (
			vehicle_id, parking_location_id, latitude, longitude, retry_count, scheduled_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			parking_location_id = EXCLUDED.parking_location_id,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			retry_count = EXCLUDED.retry_count,
			scheduled_at = EXCLUDED.scheduled_at,
			created_at = NOW()
		RETURNING id, created_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		conf.VehicleID,
		conf.ParkingLocationID,
		conf.Latitude,
		conf.Longitude,
		conf.RetryCount,
		conf.ScheduledAt,
	).Scan(&conf.ID, &conf.CreatedAt)
	if err != nil {
		return fmt.Errorf("replace pending confirmation: %w", err)
	}
	return nil
}

// Get 获取车辆进行中的离开确认
func (r *ConfirmationRepository) Get(ctx context.Context, vehicleID int64) (*models.PendingConfirmation, error) {
	query := `
		SELECT id, vehicle_id, parking_location_id, latitude, longitude, retry_count, scheduled_at, created_at
		FROM pending_confirmations WHERE vehicle_id = $1
	`
	conf := &models.PendingConfirmation{}
	err := r.db.Pool.QueryRow(ctx, query, vehicleID).Scan(
		&conf.ID,
		&conf.VehicleID,
		&conf.ParkingLocationID,
		&conf.Latitude,
		&conf.Longitude,
		&conf.RetryCount,
		&conf.ScheduledAt,
		&conf.CreatedAt,
	)
	if err != nil {
		return nil, err // 可能没有进行中的确认
	}
	return conf, nil
}

// UpdateRetry 更新重试计数和下次执行时间
func (r *ConfirmationRepository) UpdateRetry(ctx context.Context, id int64, retryCount int, scheduledAt time.Time) error {
	query := `
		UPDATE pending_confirmations SET retry_count = $2, scheduled_at = $3 WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, id, retryCount, scheduledAt)
	if err != nil {
		return fmt.Errorf("update confirmation retry: %w", err)
	}
	return nil
}

// Delete 删除车辆进行中的离开确认
func (r *ConfirmationRepository) Delete(ctx context.Context, vehicleID int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM pending_confirmations WHERE vehicle_id = $1`, vehicleID)
	if err != nil {
		return fmt.Errorf("delete pending confirmation: %w", err)
	}
	return nil
}
