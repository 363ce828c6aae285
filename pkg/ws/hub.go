// Package ws 实现实时连接管理：认证握手、心跳保活与按车辆的广播扇出。
package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SessionStore 外部会话存储（认证与存活标记）
type SessionStore interface {
	LookupAuth(token string) (email, vehicleID string, ok bool)
	Touch(token string, at time.Time) error
	ClearLiveness(token string)
}

// SnapshotFunc 认证成功后提供初始快照（遥测、状态）
type SnapshotFunc func(vehicleID string) (telemetry, status interface{})

// CommandFunc 将入站命令委托给调度器
type CommandFunc func(ctx context.Context, vehicleID, name string, value int) error

// Hub 活跃连接注册表。按连接 ID 而非用户身份键控，
// 同一用户允许多条并发连接。
type Hub struct {
	logger   *zap.Logger
	sessions SessionStore
	snapshot SnapshotFunc
	command  CommandFunc

	heartbeatInterval time.Duration
	maxMissed         int

	nextID atomic.Uint64

	mu    sync.RWMutex
	conns map[uint64]*Conn
}

// NewHub 创建连接管理中心
func NewHub(logger *zap.Logger, sessions SessionStore, heartbeatInterval time.Duration, maxMissed int) *Hub {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 5 * time.Second
	}
	if maxMissed <= 0 {
		maxMissed = 5
	}
	return &Hub{
		logger:            logger,
		sessions:          sessions,
		heartbeatInterval: heartbeatInterval,
		maxMissed:         maxMissed,
		conns:             make(map[uint64]*Conn),
	}
}

// SetSnapshotProvider 设置初始快照提供者
func (h *Hub) SetSnapshotProvider(fn SnapshotFunc) {
	h.snapshot = fn
}

// SetCommandHandler 设置命令处理函数
func (h *Hub) SetCommandHandler(fn CommandFunc) {
	h.command = fn
}

// ServeConn 接管一条已升级的 WebSocket 连接
func (h *Hub) ServeConn(sock *websocket.Conn) {
	c := newConn(h, sock)
	go c.writePump()
	go c.readPump()
}

// register 认证成功后登记连接。
// 连接可能在认证完成与登记之间被并发关闭（此时 unregister 已是空操作），
// 在锁内复查 done，拒绝登记已关闭的连接，避免注册表残留僵尸项。
func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	select {
	case <-c.done:
		h.mu.Unlock()
		h.logger.Info("Skipping registration of closed connection", zap.Uint64("conn_id", c.id))
		return
	default:
	}
	h.conns[c.id] = c
	total := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("Connection registered",
		zap.Uint64("conn_id", c.id), zap.Int("total_conns", total))
}

// unregister 注销连接（关闭时调用，未注册过则为空操作）
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c.id]
	if ok {
		delete(h.conns, c.id)
	}
	total := len(h.conns)
	h.mu.Unlock()
	if ok {
		h.logger.Info("Connection unregistered",
			zap.Uint64("conn_id", c.id), zap.Int("total_conns", total))
	}
}

// BroadcastVehicle 向绑定指定车辆的所有连接推送一条消息
func (h *Hub) BroadcastVehicle(vehicleID, msgType string, data interface{}) {
	raw, err := marshalMessage(msgType, vehicleID, data)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message",
			zap.String("type", msgType), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		if c.boundVehicle() == vehicleID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(raw)
	}
}

// NotifyVehicleChanged 用户切换激活车辆：通知该用户的所有连接，
// 并原地更新连接绑定，使后续广播无需重连即可正确路由
func (h *Hub) NotifyVehicleChanged(email, vehicleID string) {
	h.mu.RLock()
	targets := make([]*Conn, 0, 2)
	for _, c := range h.conns {
		if c.boundEmail() == email {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.rebind(vehicleID)
		c.enqueueMessage(MsgTypeVehicleChanged, vehicleID, vehicleID)
	}

	if len(targets) > 0 {
		h.logger.Info("Rebound connections after vehicle change",
			zap.String("email", email),
			zap.String("vehicle_id", vehicleID),
			zap.Int("conns", len(targets)))
	}
}

// ConnCount 当前活跃连接数
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
