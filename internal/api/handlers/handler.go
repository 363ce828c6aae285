package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/evgate/internal/service"
	"github.com/langchou/evgate/internal/session"
	"github.com/langchou/evgate/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger         *zap.Logger
	userService    *service.UserService
	vehicleService *service.VehicleService
	sessions       *session.Store
	wsHub          *ws.Hub
	upgrader       websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	userService *service.UserService,
	vehicleService *service.VehicleService,
	sessions *session.Store,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:         logger,
		userService:    userService,
		vehicleService: vehicleService,
		sessions:       sessions,
		wsHub:          wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 用户
		api.POST("/user/signup", h.Signup)
		api.POST("/user/login", h.Login)
		api.GET("/user/info", h.requireToken, h.GetUserInfo)
		api.POST("/user/vehicle", h.requireToken, h.AddVehicle)
		api.PUT("/user/vehicle", h.requireToken, h.SelectVehicle)

		// 车辆
		api.POST("/vehicle/register", h.RegisterVehicle)
		api.GET("/vehicle/dashboard", h.requireToken, h.GetDashboard)
		api.GET("/vehicle/:id/state", h.requireToken, h.GetVehicleState)
		api.GET("/vehicle/:id/locations", h.requireToken, h.ListLocations)
		api.GET("/vehicle/:id/events", h.requireToken, h.ListEvents)
	}

	// WebSocket（鉴权在连接内完成，首条消息必须携带令牌）
	r.GET("/api/user/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// requireToken 提取 Bearer 令牌并在会话存储中校验，无效令牌一律 401
func (h *Handler) requireToken(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
		return
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
		return
	}
	if _, err := h.sessions.Lookup(token); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	c.Set("token", token)
	c.Next()
}

func tokenFrom(c *gin.Context) string {
	return c.GetString("token")
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	h.wsHub.ServeConn(conn)
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ConnCount(),
	})
}
