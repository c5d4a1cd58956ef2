package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RandyVollrath/curbwatch/internal/location"
	"github.com/RandyVollrath/curbwatch/internal/service"
	"github.com/RandyVollrath/curbwatch/internal/signal"
)

// startMonitoringRequest 开启监控请求
// 设备上报自己具备的信号机制，服务端据此选择信号源
type startMonitoringRequest struct {
	MotionClassifier bool `json:"motion_classifier"`
	PairedAccessory  bool `json:"paired_accessory"`
}

// StartMonitoring 开启监控会话
// POST /api/vehicles/:id/monitoring/start
func (h *Handler) StartMonitoring(c *gin.Context) {
	vehicleID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	if _, err := h.vehicleRepo.GetByID(c.Request.Context(), vehicleID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
		return
	}

	var req startMonitoringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	capability := signal.Capability{
		MotionClassifier: req.MotionClassifier,
		PairedAccessory:  req.PairedAccessory,
	}
	if err := h.monitorService.StartMonitoring(c.Request.Context(), vehicleID, capability); err != nil {
		if errors.Is(err, signal.ErrNoMechanism) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Device has no usable signal mechanism"})
			return
		}
		h.logger.Error("Failed to start monitoring", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start monitoring"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Monitoring started"})
}

// StopMonitoring 关闭监控会话
// POST /api/vehicles/:id/monitoring/stop
func (h *Handler) StopMonitoring(c *gin.Context) {
	vehicleID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	if err := h.monitorService.StopMonitoring(c.Request.Context(), vehicleID); err != nil {
		if errors.Is(err, service.ErrNotMonitored) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not monitored"})
			return
		}
		h.logger.Error("Failed to stop monitoring", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to stop monitoring"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Monitoring stopped"})
}

// GetMonitoring 查询监控状态
// GET /api/vehicles/:id/monitoring
func (h *Handler) GetMonitoring(c *gin.Context) {
	vehicleID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	ms, session, err := h.monitorService.GetMonitoring(c.Request.Context(), vehicleID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Monitoring state not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"monitoring": ms,
			"session":    session,
			"pending_confirmation": h.monitorService.HasPendingConfirmation(
				c.Request.Context(), vehicleID),
		},
	})
}

// postSignalRequest 设备信号上报
type postSignalRequest struct {
	Type       string        `json:"type" binding:"required"`
	Fix        *location.Fix `json:"fix"`
	Background *bool         `json:"background"` // 可选：同时上报前后台状态
}

// PostSignal 接收运动/连接信号
// POST /api/vehicles/:id/signals
func (h *Handler) PostSignal(c *gin.Context) {
	vehicleID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	var req postSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.Background != nil {
		if err := h.monitorService.SetBackground(vehicleID, *req.Background); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not monitored"})
			return
		}
	}

	if req.Fix != nil && req.Fix.RecordedAt.IsZero() {
		req.Fix.RecordedAt = time.Now()
	}

	if err := h.monitorService.HandleSignal(vehicleID, signal.Event{
		Type: req.Type,
		Fix:  req.Fix,
	}); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not monitored"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Signal accepted"})
}

// postFixRequest 设备定位上报
type postFixRequest struct {
	Latitude   float64   `json:"latitude" binding:"required"`
	Longitude  float64   `json:"longitude" binding:"required"`
	AccuracyM  float64   `json:"accuracy_m"`
	RecordedAt time.Time `json:"recorded_at"`
	Driving    bool      `json:"driving"` // 行驶中的位置上报，记入兜底缓存
}

// PostFix 接收定位结果（响应服务端推送的定位请求，或行驶中主动上报）
// POST /api/vehicles/:id/fixes
func (h *Handler) PostFix(c *gin.Context) {
	vehicleID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	var req postFixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	fix := &location.Fix{
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		AccuracyM:  req.AccuracyM,
		RecordedAt: req.RecordedAt,
	}
	if err := h.monitorService.DeliverFix(vehicleID, fix, req.Driving); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not monitored"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Fix accepted"})
}

// TriggerCheck 手动触发停车检查
// POST /api/vehicles/:id/check
func (h *Handler) TriggerCheck(c *gin.Context) {
	vehicleID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	if err := h.monitorService.TriggerCheck(c.Request.Context(), vehicleID); err != nil {
		if errors.Is(err, service.ErrNotMonitored) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not monitored"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": "Vehicle not parked"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Parking check started"})
}

// ConfirmDeparture 手动重试离开确认
// POST /api/vehicles/:id/confirm-departure
func (h *Handler) ConfirmDeparture(c *gin.Context) {
	vehicleID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	if err := h.monitorService.RetryConfirmation(c.Request.Context(), vehicleID); err != nil {
		switch {
		case errors.Is(err, service.ErrNotMonitored):
			c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not monitored"})
		case errors.Is(err, service.ErrNoPendingConfirmation):
			c.JSON(http.StatusConflict, gin.H{"error": "No pending departure confirmation"})
		default:
			h.logger.Error("Failed to retry confirmation", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retry confirmation"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Departure confirmation started"})
}
