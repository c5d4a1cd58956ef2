package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/RandyVollrath/curbwatch/internal/models"
)

// ParkingRepository 停车位置仓库
type ParkingRepository struct {
	db *DB
}

// NewParkingRepository 创建停车位置仓库
func NewParkingRepository(db *DB) *ParkingRepository {
	return &ParkingRepository{db: db}
}

const parkingColumns = `id, vehicle_id, latitude, longitude, accuracy_m, source,
		street_segment, address, disconnect_time, parked_at,
		departed_at, departure_distance_m, departure_conclusive, departure_confirmed_at`

// Create 创建停车记录
// (vehicle_id, disconnect_time) 冲突时不重复写入，返回已有记录的 id：
// 主信号检查和兜底检查对同一次断开是幂等的
func (r *ParkingRepository) Create(ctx context.Context, loc *models.ParkingLocation) error {
	query := `
		INSERT INTO parking_locations (
			vehicle_id, latitude, longitude, accuracy_m, source,
			street_segment, address, disconnect_time, parked_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (vehicle_id, disconnect_time) DO NOTHING
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		loc.VehicleID,
		loc.Latitude,
		loc.Longitude,
		loc.AccuracyM,
		loc.Source,
		loc.StreetSegment,
		loc.Address,
		loc.DisconnectTime,
		loc.ParkedAt,
	).Scan(&loc.ID)

	if errors.Is(err, pgx.ErrNoRows) {
		// 同一次断开已经写过，取已有记录的 id
		existing, getErr := r.GetByDisconnect(ctx, loc.VehicleID, loc.DisconnectTime)
		if getErr != nil {
			return fmt.Errorf("resolve duplicate parking: %w", getErr)
		}
		*loc = *existing
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert parking location: %w", err)
	}
	return nil
}

// GetByDisconnect 按幂等键获取停车记录
func (r *ParkingRepository) GetByDisconnect(ctx context.Context, vehicleID int64, disconnectTime time.Time) (*models.ParkingLocation, error) {
	query := `SELECT ` + parkingColumns + `
		FROM parking_locations WHERE vehicle_id = $1 AND disconnect_time = $2`
	return r.scanOne(r.db.Pool.QueryRow(ctx, query, vehicleID, disconnectTime))
}

// GetByID 获取停车记录
func (r *ParkingRepository) GetByID(ctx context.Context, id int64) (*models.ParkingLocation, error) {
	query := `SELECT ` + parkingColumns + ` FROM parking_locations WHERE id = $1`
	loc, err := r.scanOne(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get parking location by id: %w", err)
	}
	return loc, nil
}

// GetActive 获取进行中的停车记录（尚未离开）
func (r *ParkingRepository) GetActive(ctx context.Context, vehicleID int64) (*models.ParkingLocation, error) {
	query := `SELECT ` + parkingColumns + `
		FROM parking_locations
		WHERE vehicle_id = $1 AND departed_at IS NULL
		ORDER BY parked_at DESC LIMIT 1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, query, vehicleID))
}

// CloseActive 关闭进行中的停车记录并返回它
// 重连时调用：记下离开时间，拿到原始坐标供离开确认使用
func (r *ParkingRepository) CloseActive(ctx context.Context, vehicleID int64, departedAt time.Time) (*models.ParkingLocation, error) {
	query := `
		UPDATE parking_locations
		SET departed_at = $2
		WHERE id = (
			SELECT id FROM parking_locations
			WHERE vehicle_id = $1 AND departed_at IS NULL
			ORDER BY parked_at DESC LIMIT 1
		)
		RETURNING ` + parkingColumns
	loc, err := r.scanOne(r.db.Pool.QueryRow(ctx, query, vehicleID, departedAt))
	if err != nil {
		return nil, err // 可能没有进行中的停车
	}
	return loc, nil
}

// SetAddress 写入规则查询返回的街道段和地址
// 规则查询失败时停车记录保持无地址状态，不影响记录本身
func (r *ParkingRepository) SetAddress(ctx context.Context, id int64, streetSegment, address string) error {
	query := `
		UPDATE parking_locations SET street_segment = $2, address = $3 WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, id, streetSegment, address)
	if err != nil {
		return fmt.Errorf("set parking address: %w", err)
	}
	return nil
}

// SaveDepartureEvidence 写入离开证据
func (r *ParkingRepository) SaveDepartureEvidence(ctx context.Context, id int64, distanceM float64, conclusive bool, confirmedAt time.Time) error {
	query := `
		UPDATE parking_locations
		SET departure_distance_m = $2,
			departure_conclusive = $3,
			departure_confirmed_at = $4
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, id, distanceM, conclusive, confirmedAt)
	if err != nil {
		return fmt.Errorf("save departure evidence: %w", err)
	}
	return nil
}

// ListByVehicleID 获取车辆的停车历史
func (r *ParkingRepository) ListByVehicleID(ctx context.Context, vehicleID int64, limit, offset int) ([]*models.ParkingLocation, error) {
	query := `SELECT ` + parkingColumns + `
		FROM parking_locations WHERE vehicle_id = $1
		ORDER BY parked_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Pool.Query(ctx, query, vehicleID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list parking locations: %w", err)
	}
	defer rows.Close()

	var locations []*models.ParkingLocation
	for rows.Next() {
		loc, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("scan parking location: %w", err)
		}
		locations = append(locations, loc)
	}

	return locations, nil
}

// CountByVehicleID 统计车辆停车数
func (r *ParkingRepository) CountByVehicleID(ctx context.Context, vehicleID int64) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM parking_locations WHERE vehicle_id = $1`, vehicleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count parking locations: %w", err)
	}
	return count, nil
}

// scanOne 扫描一行停车记录
func (r *ParkingRepository) scanOne(row pgx.Row) (*models.ParkingLocation, error) {
	loc := &models.ParkingLocation{}
	err := row.Scan(
		&loc.ID,
		&loc.VehicleID,
		&loc.Latitude,
		&loc.Longitude,
		&loc.AccuracyM,
		&loc.Source,
		&loc.StreetSegment,
		&loc.Address,
		&loc.DisconnectTime,
		&loc.ParkedAt,
		&loc.DepartedAt,
		&loc.DepartureDistanceM,
		&loc.DepartureConclusive,
		&loc.DepartureConfirmedAt,
	)
	if err != nil {
		return nil, err
	}
	return loc, nil
}
