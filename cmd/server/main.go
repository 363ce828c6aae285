package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/evgate/internal/api/handlers"
	"github.com/langchou/evgate/internal/cache"
	"github.com/langchou/evgate/internal/config"
	"github.com/langchou/evgate/internal/dispatch"
	"github.com/langchou/evgate/internal/repository"
	"github.com/langchou/evgate/internal/router"
	"github.com/langchou/evgate/internal/service"
	"github.com/langchou/evgate/internal/session"
	"github.com/langchou/evgate/pkg/mqtt"
	"github.com/langchou/evgate/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting EVGate", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 创建 Repository
	vehicleRepo := repository.NewVehicleRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	historyRepo := repository.NewHistoryRepository(db)

	// 车辆状态缓存与会话存储
	stateCache := cache.New()
	sessions := session.NewStore(cfg.SessionTTL)

	// 连接 MQTT Broker
	mqttClient, err := mqtt.NewClient(logger, mqtt.Config{
		BrokerURL: cfg.MQTTBrokerURL,
		ClientID:  cfg.MQTTClientID,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
	})
	if err != nil {
		logger.Fatal("Failed to create MQTT client", zap.Error(err))
	}
	if err := mqttClient.Start(ctx); err != nil {
		logger.Fatal("Failed to start MQTT client", zap.Error(err))
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := mqttClient.AwaitConnection(connectCtx); err != nil {
		connectCancel()
		logger.Fatal("Failed to connect MQTT broker", zap.Error(err))
	}
	connectCancel()
	logger.Info("MQTT broker connected", zap.String("broker", cfg.MQTTBrokerURL))

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger, sessions, cfg.HeartbeatInterval, cfg.HeartbeatMaxMissed)

	// 命令调度器：实时连接的命令经此下发到设备
	dispatcher := dispatch.New(logger, mqttClient, stateCache, wsHub, cfg.MQTTNamespace)
	wsHub.SetCommandHandler(dispatcher.Dispatch)
	wsHub.SetSnapshotProvider(func(vehicleID string) (interface{}, interface{}) {
		state := stateCache.Get(vehicleID)
		return state.Telemetry, state.Status
	})

	// 设备消息路由：订阅设备上报并写入缓存/历史
	msgRouter := router.New(logger, stateCache, historyRepo, wsHub, cfg.MQTTNamespace, cfg.EventDedup)
	if err := msgRouter.Start(ctx, mqttClient); err != nil {
		logger.Fatal("Failed to subscribe device topics", zap.Error(err))
	}

	// 创建业务服务
	userService := service.NewUserService(logger, accountRepo, vehicleRepo, sessions, wsHub, cfg.SessionTTL)
	vehicleService := service.NewVehicleService(logger, vehicleRepo, historyRepo, stateCache)

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(logger, userService, vehicleService, sessions, wsHub)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(engine)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: engine,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 断开 MQTT
	disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
	mqttClient.Disconnect(disconnectCtx)
	disconnectCancel()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
