package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/evgate/internal/models"
)

type registerVehicleRequest struct {
	VehicleID       string `json:"vehicle_id" binding:"required"`
	Model           string `json:"model" binding:"required"`
	Color           string `json:"color"`
	BatteryVoltage  int    `json:"battery_voltage"`
	BatteryCapacity int    `json:"battery_capacity"`
	MaxRange        int    `json:"max_range"`
}

// RegisterVehicle 注册车辆
func (h *Handler) RegisterVehicle(c *gin.Context) {
	var req registerVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	err := h.vehicleService.RegisterVehicle(c.Request.Context(), &models.Vehicle{
		VehicleID:       req.VehicleID,
		Model:           req.Model,
		Color:           req.Color,
		BatteryVoltage:  req.BatteryVoltage,
		BatteryCapacity: req.BatteryCapacity,
		MaxRange:        req.MaxRange,
	})
	if err != nil {
		h.logger.Error("Failed to register vehicle", zap.Error(err), zap.String("vehicle_id", req.VehicleID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register vehicle"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Vehicle registered", "vehicle_id": req.VehicleID})
}

// GetDashboard 车队总览
func (h *Handler) GetDashboard(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.vehicleService.Dashboard()})
}

// GetVehicleState 获取车辆实时状态
func (h *Handler) GetVehicleState(c *gin.Context) {
	vehicleID := c.Param("id")
	if vehicleID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": h.vehicleService.State(vehicleID)})
}

// ListLocations 查询位置历史
// GET /api/vehicle/:id/locations?start=<RFC3339>&stop=<RFC3339>
func (h *Handler) ListLocations(c *gin.Context) {
	vehicleID := c.Param("id")

	stop := time.Now()
	start := stop.Add(-24 * time.Hour)
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start time"})
			return
		}
		start = t
	}
	if v := c.Query("stop"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stop time"})
			return
		}
		stop = t
	}

	logs, err := h.vehicleService.LocationHistory(c.Request.Context(), vehicleID, start, stop)
	if err != nil {
		h.logger.Error("Failed to list locations", zap.Error(err), zap.String("vehicle_id", vehicleID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list locations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logs})
}

// ListEvents 查询事件历史
func (h *Handler) ListEvents(c *gin.Context) {
	vehicleID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	logs, err := h.vehicleService.Events(c.Request.Context(), vehicleID, limit)
	if err != nil {
		h.logger.Error("Failed to list events", zap.Error(err), zap.String("vehicle_id", vehicleID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logs})
}
