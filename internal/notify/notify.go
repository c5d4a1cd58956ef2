package notify

import (
	"go.uber.org/zap"
)

// 通知级别
const (
	SeverityStrong     = "strong"     // 确凿结论，值得打扰用户
	SeveritySoft       = "soft"       // 不确凿的弱提示
	SeverityDiagnostic = "diagnostic" // 诊断信息，仅供排查
)

// 通知类型
const (
	KindParkingRecorded     = "parking_recorded"     // 记录到新的停车位置
	KindParkingRules        = "parking_rules"        // 停车位置的规则摘要
	KindDepartureConfirmed  = "departure_confirmed"  // 确凿离开
	KindDepartureUnverified = "departure_unverified" // 位置变化不足，结论不确凿
	KindDepartureUnknown    = "departure_unknown"    // 重试耗尽，无法确认
	KindLocationUnavailable = "location_unavailable" // 定位全链路失败
	KindRestrictionReminder = "restriction_reminder" // 限停提醒
)

// Notification 发给用户的通知
type Notification struct {
	VehicleID int64                  `json:"vehicle_id"`
	Kind      string                 `json:"kind"`
	Severity  string                 `json:"severity"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Notifier 通知分发
// 分发是尽力而为的：失败只记日志，不影响检测流程
type Notifier interface {
	Notify(n Notification)
}

// Broadcaster 推送通道（由 WebSocket Hub 实现）
type Broadcaster interface {
	BroadcastMessage(msgType string, data interface{})
}

// HubNotifier 经 WebSocket Hub 广播的通知分发器
type HubNotifier struct {
	logger *zap.Logger
	hub    Broadcaster
}

// NewHubNotifier 创建通知分发器
func NewHubNotifier(logger *zap.Logger, hub Broadcaster) *HubNotifier {
	return &HubNotifier{logger: logger, hub: hub}
}

// Notify 分发一条通知
func (n *HubNotifier) Notify(notification Notification) {
	n.logger.Info("Dispatching notification",
		zap.Int64("vehicle_id", notification.VehicleID),
		zap.String("kind", notification.Kind),
		zap.String("severity", notification.Severity))

	if n.hub != nil {
		n.hub.BroadcastMessage("notification", notification)
	}
}
