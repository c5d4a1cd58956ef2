package repository

import (
	"context"
	"fmt"

	"github.com/RandyVollrath/curbwatch/internal/models"
)

// VehicleRepository 车辆数据仓库
type VehicleRepository struct {
	db *DB
}

// NewVehicleRepository 创建车辆仓库
func NewVehicleRepository(db *DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

// Upsert 按 device_id 创建或更新车辆
func (r *VehicleRepository) Upsert(ctx context.Context, vehicle *models.Vehicle) error {
	query := `
		INSERT INTO vehicles (device_id, name, plate)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE SET
			name = EXCLUDED.name,
			plate = EXCLUDED.plate,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		vehicle.DeviceID,
		vehicle.Name,
		vehicle.Plate,
	).Scan(&vehicle.ID, &vehicle.CreatedAt, &vehicle.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert vehicle: %w", err)
	}
	return nil
}

// GetByID 获取车辆
func (r *VehicleRepository) GetByID(ctx context.Context, id int64) (*models.Vehicle, error) {
	query := `
		SELECT id, device_id, name, plate, created_at, updated_at
		FROM vehicles WHERE id = $1
	`
	vehicle := &models.Vehicle{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&vehicle.ID,
		&vehicle.DeviceID,
		&vehicle.Name,
		&vehicle.Plate,
		&vehicle.CreatedAt,
		&vehicle.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get vehicle by id: %w", err)
	}
	return vehicle, nil
}

// List 获取车辆列表
func (r *VehicleRepository) List(ctx context.Context) ([]*models.Vehicle, error) {
	query := `
		SELECT id, device_id, name, plate, created_at, updated_at
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
			&vehicle.DeviceID,
			&vehicle.Name,
			&vehicle.Plate,
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
