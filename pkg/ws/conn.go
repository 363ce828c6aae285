package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// 连接生命周期状态
const (
	StateConnecting     = "connecting"     // 套接字已打开，等待首条令牌消息
	StateAuthenticating = "authenticating" // 正在校验令牌
	StateAuthenticated  = "authenticated"  // 已认证，处理心跳与命令
	StateClosed         = "closed"         // 终态
)

// 状态机事件
const (
	eventTokenReceived = "token_received"
	eventAuthorized    = "authorized"
	eventRejected      = "rejected"
	eventClose         = "close"
)

// Conn 单个客户端连接。读循环、写循环与心跳定时器各占一个协程，
// 共享同一个连接状态，连接关闭时统一取消。
type Conn struct {
	id   uint64
	hub  *Hub
	sock *websocket.Conn
	fsm  *fsm.FSM

	send chan []byte
	done chan struct{}

	mu          sync.Mutex
	token       string
	email       string
	vehicleID   string
	missedPings int

	closeOnce sync.Once
	logger    *zap.Logger
}

func newConn(hub *Hub, sock *websocket.Conn) *Conn {
	id := hub.nextID.Add(1)
	c := &Conn{
		id:     id,
		hub:    hub,
		sock:   sock,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		logger: hub.logger.With(zap.Uint64("conn_id", id)),
	}

	c.fsm = fsm.NewFSM(
		StateConnecting,
		fsm.Events{
			{Name: eventTokenReceived, Src: []string{StateConnecting}, Dst: StateAuthenticating},
			{Name: eventAuthorized, Src: []string{StateAuthenticating}, Dst: StateAuthenticated},
			{Name: eventRejected, Src: []string{StateAuthenticating}, Dst: StateClosed},
			{Name: eventClose, Src: []string{StateConnecting, StateAuthenticating, StateAuthenticated}, Dst: StateClosed},
		},
		fsm.Callbacks{},
	)
	return c
}

// State 返回连接当前状态
func (c *Conn) State() string {
	return c.fsm.Current()
}

func (c *Conn) boundVehicle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vehicleID
}

func (c *Conn) boundEmail() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.email
}

// rebind 原地切换绑定车辆，后续广播按新车辆路由，无需重连
func (c *Conn) rebind(vehicleID string) {
	c.mu.Lock()
	c.vehicleID = vehicleID
	c.mu.Unlock()
}

// readPump 读取循环；连接的生命周期以本循环退出为准
func (c *Conn) readPump() {
	defer c.close("read loop ended")

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Dropping unparseable client message", zap.Error(err))
			continue
		}
		c.handleMessage(msg)
	}
}

// handleMessage 按连接状态分发一条入站控制消息
func (c *Conn) handleMessage(msg Message) {
	switch c.fsm.Current() {
	case StateConnecting:
		// 认证前只处理首条令牌消息，命令一律忽略
		if msg.Type == MsgTypeToken {
			c.authenticate(msg)
			return
		}
		c.logger.Debug("Ignoring message before authentication", zap.String("type", msg.Type))

	case StateAuthenticated:
		switch msg.Type {
		case MsgTypeHeartbeat:
			var payload string
			if err := json.Unmarshal(msg.Data, &payload); err == nil && payload == heartbeatPong {
				c.handlePong()
			}
		case MsgTypeCommand:
			c.handleCommand(msg)
		case MsgTypeToken:
			// 重复认证，忽略
		default:
			c.logger.Warn("Rejecting unrecognized message type", zap.String("type", msg.Type))
			c.enqueueMessage(MsgTypeError, "", "unrecognized message type: "+msg.Type)
		}
	}
}

// authenticate 校验令牌：查会话存储，绑定车辆缺失视为认证失败
func (c *Conn) authenticate(msg Message) {
	if err := c.fsm.Event(context.Background(), eventTokenReceived); err != nil {
		return
	}

	var token string
	if err := json.Unmarshal(msg.Data, &token); err != nil || token == "" {
		c.reject("no token provided")
		return
	}

	email, vehicleID, ok := c.hub.sessions.LookupAuth(token)
	if !ok {
		c.reject("invalid token")
		return
	}
	if vehicleID == "" || vehicleID == "0" {
		c.reject("no vehicle bound")
		return
	}

	c.mu.Lock()
	c.token = token
	c.email = email
	c.vehicleID = vehicleID
	c.mu.Unlock()

	if err := c.fsm.Event(context.Background(), eventAuthorized); err != nil {
		return
	}

	c.hub.register(c)
	if err := c.hub.sessions.Touch(token, time.Now()); err != nil {
		c.logger.Warn("Failed to record liveness", zap.Error(err))
	}

	c.enqueueMessage(MsgTypeToken, "", tokenAccepted)
	c.sendSnapshot(vehicleID)
	go c.heartbeatLoop()

	c.logger.Info("Connection authenticated",
		zap.String("email", email),
		zap.String("vehicle_id", vehicleID))
}

// reject 认证失败：回送原因并进入终态，不创建注册表项。
// 认证前写循环无其他待发消息，此处同步写出保证应答先于关闭到达。
func (c *Conn) reject(reason string) {
	c.logger.Info("Connection rejected", zap.String("reason", reason))
	if raw, err := marshalMessage(MsgTypeToken, "", tokenRejected); err == nil {
		_ = c.sock.WriteMessage(websocket.TextMessage, raw)
	}
	if raw, err := marshalMessage(MsgTypeError, "", reason); err == nil {
		_ = c.sock.WriteMessage(websocket.TextMessage, raw)
	}
	_ = c.fsm.Event(context.Background(), eventRejected)
	c.close("auth failed: " + reason)
}

// sendSnapshot 认证成功后立即下发遥测与状态快照。
// 快照消息总是成对出现，未配置提供者时载荷为 null。
func (c *Conn) sendSnapshot(vehicleID string) {
	var telemetry, status interface{}
	if c.hub.snapshot != nil {
		telemetry, status = c.hub.snapshot(vehicleID)
	}
	c.enqueueMessage(MsgTypeTelemetry, vehicleID, telemetry)
	c.enqueueMessage(MsgTypeStatus, vehicleID, status)
}

// handleCommand 将命令委托给调度器，使用连接当前绑定的车辆
func (c *Conn) handleCommand(msg Message) {
	if c.hub.command == nil {
		return
	}

	var payload CommandPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.logger.Warn("Dropping unparseable command payload", zap.Error(err))
		return
	}

	if err := c.hub.command(context.Background(), c.boundVehicle(), payload.Type, payload.Data); err != nil {
		c.logger.Warn("Command dispatch failed",
			zap.String("command", payload.Type), zap.Error(err))
		c.enqueueMessage(MsgTypeError, "", err.Error())
	}
}

// heartbeatLoop 心跳定时器：发送时递增未应答计数，
// 连续 maxMissed 次未收到 pong 则强制关闭连接
func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(c.hub.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			missed := c.missedPings
			c.mu.Unlock()

			if missed >= c.hub.maxMissed {
				c.logger.Info("Closing connection on heartbeat timeout",
					zap.Int("missed_pings", missed))
				c.close("heartbeat timeout")
				return
			}

			c.mu.Lock()
			c.missedPings++
			c.mu.Unlock()
			c.enqueueMessage(MsgTypeHeartbeat, "", heartbeatPing)
		}
	}
}

// handlePong 匹配的 pong：计数清零并刷新存活时间戳
func (c *Conn) handlePong() {
	c.mu.Lock()
	c.missedPings = 0
	token := c.token
	c.mu.Unlock()

	if err := c.hub.sessions.Touch(token, time.Now()); err != nil {
		c.logger.Warn("Failed to refresh liveness", zap.Error(err))
	}
}

// enqueueMessage 组装并入队一条下行消息
func (c *Conn) enqueueMessage(msgType, vehicleID string, data interface{}) {
	raw, err := marshalMessage(msgType, vehicleID, data)
	if err != nil {
		c.logger.Error("Failed to marshal outbound message",
			zap.String("type", msgType), zap.Error(err))
		return
	}
	c.enqueue(raw)
}

// enqueue 非阻塞入队；慢消费者直接断开，不得拖慢广播方
func (c *Conn) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn("Send buffer full, dropping slow consumer")
		go c.close("slow consumer")
	}
}

// writePump 写循环
func (c *Conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close("write failed")
				return
			}
		}
	}
}

// close 进入终态：注销注册表项、清除存活标记、关闭套接字。
// 幂等，任意协程可触发。
func (c *Conn) close(reason string) {
	c.closeOnce.Do(func() {
		_ = c.fsm.Event(context.Background(), eventClose)
		close(c.done)

		c.hub.unregister(c)

		c.mu.Lock()
		token := c.token
		c.mu.Unlock()
		if token != "" {
			c.hub.sessions.ClearLiveness(token)
		}

		_ = c.sock.Close()
		c.logger.Info("Connection closed", zap.String("reason", reason))
	})
}
