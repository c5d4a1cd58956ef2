package repository

import (
	"context"
	"fmt"

	"github.com/RandyVollrath/curbwatch/internal/models"
)

// RestrictionRepository 限停提醒仓库
type RestrictionRepository struct {
	db *DB
}

// NewRestrictionRepository 创建限停提醒仓库
func NewRestrictionRepository(db *DB) *RestrictionRepository {
	return &RestrictionRepository{db: db}
}

// CreateBatch 批量写入一条停车记录对应的限停提醒
func (r *RestrictionRepository) CreateBatch(ctx context.Context, restrictions []*models.ParkingRestriction) error {
	query := `
		INSERT INTO parking_restrictions (vehicle_id, parking_location_id, kind, starts_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	for _, restriction := range restrictions {
		err := r.db.Pool.QueryRow(ctx, query,
			restriction.VehicleID,
			restriction.ParkingLocationID,
			restriction.Kind,
			restriction.StartsAt,
		).Scan(&restriction.ID, &restriction.CreatedAt)
		if err != nil {
			return fmt.Errorf("create restriction %s: %w", restriction.Kind, err)
		}
	}
	return nil
}

// ListByParkingLocation 查询一条停车记录的全部限停提醒
func (r *RestrictionRepository) ListByParkingLocation(ctx context.Context, parkingLocationID int64) ([]*models.ParkingRestriction, error) {
	query := `
		SELECT id, vehicle_id, parking_location_id, kind, starts_at, cancelled, created_at
		FROM parking_restrictions
		WHERE parking_location_id = $1
		ORDER BY starts_at ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, parkingLocationID)
	if err != nil {
		return nil, fmt.Errorf("list restrictions: %w", err)
	}
	defer rows.Close()

	var restrictions []*models.ParkingRestriction
	for rows.Next() {
		restriction := &models.ParkingRestriction{}
		err := rows.Scan(
			&restriction.ID,
			&restriction.VehicleID,
			&restriction.ParkingLocationID,
			&restriction.Kind,
			&restriction.StartsAt,
			&restriction.Cancelled,
			&restriction.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan restriction: %w", err)
		}
		restrictions = append(restrictions, restriction)
	}
	return restrictions, rows.Err()
}

// CancelForLocation 取消一条停车记录下所有未取消的限停提醒
// 车辆驶离后旧位置的提醒全部作废，返回取消的条数
func (r *RestrictionRepository) CancelForLocation(ctx context.Context, parkingLocationID int64) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE parking_restrictions SET cancelled = TRUE
		WHERE parking_location_id = $1 AND cancelled = FALSE
	`, parkingLocationID)
	if err != nil {
		return 0, fmt.Errorf("cancel restrictions: %w", err)
	}
	return tag.RowsAffected(), nil
}
