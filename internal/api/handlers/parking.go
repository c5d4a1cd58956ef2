package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ListParkings 获取停车历史
// GET /api/vehicles/:id/parkings
func (h *Handler) ListParkings(c *gin.Context) {
	vehicleID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	offset := (page - 1) * perPage

	parkings, err := h.parkingRepo.ListByVehicleID(c.Request.Context(), vehicleID, perPage, offset)
	if err != nil {
		h.logger.Error("Failed to list parkings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list parkings"})
		return
	}

	total, _ := h.parkingRepo.CountByVehicleID(c.Request.Context(), vehicleID)

	c.JSON(http.StatusOK, gin.H{
		"data": parkings,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetParking 获取停车详情
// GET /api/parkings/:id
func (h *Handler) GetParking(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid parking ID"})
		return
	}

	parking, err := h.parkingRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Parking not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": parking})
}

// GetParkingRestrictions 获取停车记录的限停提醒
// GET /api/parkings/:id/restrictions
func (h *Handler) GetParkingRestrictions(c *gin.Context) {
	parkingID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid parking ID"})
		return
	}

	// 先检查停车记录是否存在
	if _, err := h.parkingRepo.GetByID(c.Request.Context(), parkingID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Parking not found"})
		return
	}

	restrictions, err := h.restRepo.ListByParkingLocation(c.Request.Context(), parkingID)
	if err != nil {
		h.logger.Error("Failed to list restrictions", zap.Error(err), zap.Int64("parking_id", parkingID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list restrictions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": restrictions})
}
