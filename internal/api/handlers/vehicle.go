package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RandyVollrath/curbwatch/internal/models"
)

// ListVehicles 获取车辆列表
func (h *Handler) ListVehicles(c *gin.Context) {
	vehicles, err := h.vehicleRepo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list vehicles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list vehicles"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": vehicles})
}

// registerVehicleRequest 注册车辆请求
type registerVehicleRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Plate    string `json:"plate"`
}

// RegisterVehicle 注册（或更新）车辆
func (h *Handler) RegisterVehicle(c *gin.Context) {
	var req registerVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	vehicle := &models.Vehicle{
		DeviceID: req.DeviceID,
		Name:     req.Name,
		Plate:    req.Plate,
	}
	if err := h.vehicleRepo.Upsert(c.Request.Context(), vehicle); err != nil {
		h.logger.Error("Failed to register vehicle", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register vehicle"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": vehicle})
}

// GetVehicle 获取车辆详情
func (h *Handler) GetVehicle(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	vehicle, err := h.vehicleRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": vehicle})
}
