package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/evgate/internal/service"
)

type signupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	UserName string `json:"user_name" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
}

type loginRequest struct {
	UserName string `json:"user_name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type addVehicleRequest struct {
	VehicleID   string `json:"vehicle_id" binding:"required"`
	VehicleName string `json:"vehicle_name"`
}

type selectVehicleRequest struct {
	VehicleID string `json:"vehicle_id" binding:"required"`
}

// Signup 注册账号
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	err := h.userService.Signup(c.Request.Context(), req.Email, req.UserName, req.Password)
	if errors.Is(err, service.ErrAccountExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "Account already exists"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to sign up", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign up"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Account created"})
}

// Login 登录并签发令牌
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := h.userService.Login(c.Request.Context(), req.UserName, req.Password, c.ClientIP())
	if errors.Is(err, service.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid user name or password"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to log in", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log in"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// GetUserInfo 查询当前用户信息
func (h *Handler) GetUserInfo(c *gin.Context) {
	info, err := h.userService.GetUserInfo(c.Request.Context(), tokenFrom(c))
	if errors.Is(err, service.ErrInvalidToken) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get user info", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get user info"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": info})
}

// AddVehicle 绑定车辆
func (h *Handler) AddVehicle(c *gin.Context) {
	var req addVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	err := h.userService.AddVehicle(c.Request.Context(), tokenFrom(c), req.VehicleID, req.VehicleName)
	switch {
	case errors.Is(err, service.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
	case errors.Is(err, service.ErrVehicleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
	case errors.Is(err, service.ErrVehicleTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "Vehicle already bound"})
	case err != nil:
		h.logger.Error("Failed to add vehicle", zap.Error(err), zap.String("vehicle_id", req.VehicleID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add vehicle"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Vehicle added", "vehicle_id": req.VehicleID})
	}
}

// SelectVehicle 切换激活车辆
func (h *Handler) SelectVehicle(c *gin.Context) {
	var req selectVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	err := h.userService.SelectVehicle(c.Request.Context(), tokenFrom(c), req.VehicleID)
	switch {
	case errors.Is(err, service.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
	case errors.Is(err, service.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "Vehicle not bound to this account"})
	case err != nil:
		h.logger.Error("Failed to select vehicle", zap.Error(err), zap.String("vehicle_id", req.VehicleID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to select vehicle"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Vehicle selected", "vehicle_id": req.VehicleID})
	}
}
