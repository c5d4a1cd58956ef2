package models

import "time"

// 连接状态常量
const (
	ConnectionConnected    = "connected"
	ConnectionDisconnected = "disconnected"
)

// Vehicle 被监控的车辆
type Vehicle struct {
	ID        int64     `json:"id" db:"id"`
	DeviceID  string    `json:"device_id" db:"device_id"`
	Name      string    `json:"name" db:"name"`
	Plate     string    `json:"plate,omitempty" db:"plate"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MonitoringState 车辆监控状态（每辆车一行，每次变更都持久化）
type MonitoringState struct {
	VehicleID        int64      `json:"vehicle_id" db:"vehicle_id"`
	Active           bool       `json:"active" db:"active"`
	Connection       string     `json:"connection" db:"connection"`
	LastDisconnectAt *time.Time `json:"last_disconnect_at,omitempty" db:"last_disconnect_at"`
	LastCheckAt      *time.Time `json:"last_check_at,omitempty" db:"last_check_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// ParkingLocation 停车位置记录（只追加，创建后不修改坐标）
type ParkingLocation struct {
	ID        int64   `json:"id" db:"id"`
	VehicleID int64   `json:"vehicle_id" db:"vehicle_id"`
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
	AccuracyM float64 `json:"accuracy_m" db:"accuracy_m"`

	// 定位来源标记：记录是哪个降级策略给出的坐标
	Source string `json:"source" db:"source"`

	// 匹配到的街道段（规则查询返回）
	StreetSegment *string `json:"street_segment,omitempty" db:"street_segment"`
	Address       *string `json:"address,omitempty" db:"address"`

	// 断开时间戳，同一次物理断开的幂等键
	DisconnectTime time.Time `json:"disconnect_time" db:"disconnect_time"`
	ParkedAt       time.Time `json:"parked_at" db:"parked_at"`

	// 离开证据（由离开确认流程写入）
	DepartedAt           *time.Time `json:"departed_at,omitempty" db:"departed_at"`
	DepartureDistanceM   *float64   `json:"departure_distance_m,omitempty" db:"departure_distance_m"`
	DepartureConclusive  *bool      `json:"departure_conclusive,omitempty" db:"departure_conclusive"`
	DepartureConfirmedAt *time.Time `json:"departure_confirmed_at,omitempty" db:"departure_confirmed_at"`
}

// PendingConfirmation 进行中的离开确认（每辆车同一时刻至多一条）
type PendingConfirmation struct {
	ID                int64     `json:"id" db:"id"`
	VehicleID         int64     `json:"vehicle_id" db:"vehicle_id"`
	ParkingLocationID int64     `json:"parking_location_id" db:"parking_location_id"`
	Latitude          float64   `json:"latitude" db:"latitude"`
	Longitude         float64   `json:"longitude" db:"longitude"`
	RetryCount        int       `json:"retry_count" db:"retry_count"`
	ScheduledAt       time.Time `json:"scheduled_at" db:"scheduled_at"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// RestrictionKind 限停类型
type RestrictionKind string

const (
	RestrictionStreetCleaning RestrictionKind = "street_cleaning"
	RestrictionWinterBan      RestrictionKind = "winter_ban"
	RestrictionPermitZone     RestrictionKind = "permit_zone"
)

// ParkingRestriction 未来的限停事件，绑定一条停车记录
type ParkingRestriction struct {
	ID                int64           `json:"id" db:"id"`
	VehicleID         int64           `json:"vehicle_id" db:"vehicle_id"`
	ParkingLocationID int64           `json:"parking_location_id" db:"parking_location_id"`
	Kind              RestrictionKind `json:"kind" db:"kind"`
	StartsAt          time.Time       `json:"starts_at" db:"starts_at"`
	Cancelled         bool            `json:"cancelled" db:"cancelled"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// StreetCleaningRule 街道清扫规则
type StreetCleaningRule struct {
	NextDate *time.Time `json:"next_date,omitempty"`
}

// WinterBanRule 冬季夜间禁停规则
type WinterBanRule struct {
	Active     bool `json:"active"`
	Historical bool `json:"historical"`
}

// PermitZoneRule 许可停车区规则
type PermitZoneRule struct {
	Zone     string `json:"zone"`
	Enforced bool   `json:"enforced"`
}

// RuleSet 规则查询结果
type RuleSet struct {
	Address        string              `json:"address"`
	StreetSegment  string              `json:"street_segment,omitempty"`
	StreetCleaning *StreetCleaningRule `json:"street_cleaning,omitempty"`
	WinterBan      *WinterBanRule      `json:"winter_ban,omitempty"`
	PermitZone     *PermitZoneRule     `json:"permit_zone,omitempty"`
}
