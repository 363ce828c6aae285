// Package router 消费设备上行消息流：解码、合并缓存、持久化、触发广播。
// 所有失败都限定在单条消息范围内，绝不中断后续消息的处理。
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/evgate/internal/cache"
	"github.com/langchou/evgate/internal/models"
	"github.com/langchou/evgate/internal/protocol"
	"github.com/langchou/evgate/pkg/mqtt"
)

// HistoryStore 位置/事件历史的持久化端
type HistoryStore interface {
	AppendLocation(ctx context.Context, vehicleID string, pt models.LocationPoint, at time.Time) error
	AppendEvent(ctx context.Context, vehicleID string, ev models.EventRecord, at time.Time) error
}

// Broadcaster 向绑定该车辆的所有连接推送缓存变更
type Broadcaster interface {
	BroadcastVehicle(vehicleID, msgType string, data interface{})
}

// Router 设备消息路由器
type Router struct {
	logger      *zap.Logger
	cache       *cache.Cache
	history     HistoryStore
	hub         Broadcaster
	namespace   string
	dedupEvents bool // 可配置策略：默认不去重，事件无条件入库

	mu         sync.Mutex
	lastEvents map[string]models.EventRecord
}

// New 创建路由器
func New(logger *zap.Logger, c *cache.Cache, history HistoryStore, hub Broadcaster, namespace string, dedupEvents bool) *Router {
	return &Router{
		logger:      logger,
		cache:       c,
		history:     history,
		hub:         hub,
		namespace:   namespace,
		dedupEvents: dedupEvents,
		lastEvents:  make(map[string]models.EventRecord),
	}
}

// Start 订阅全部设备上行通道。事件通道使用 QoS 2。
// 订阅在进程生命周期内持续有效，断线重订阅由 MQTT 客户端负责。
func (r *Router) Start(ctx context.Context, client mqtt.Client) error {
	subscriptions := []struct {
		kind protocol.Kind
		qos  int
	}{
		{protocol.KindTelemetry, 1},
		{protocol.KindStatus, 1},
		{protocol.KindLocation, 1},
		{protocol.KindEvent, 2},
	}

	for _, sub := range subscriptions {
		filter := fmt.Sprintf("%s/+/%s", r.namespace, sub.kind)
		if err := client.Subscribe(ctx, filter, sub.qos, r.HandleMessage); err != nil {
			return fmt.Errorf("subscribe %s: %w", filter, err)
		}
	}
	return nil
}

// HandleMessage 处理单条设备消息。解码或持久化失败只记录日志并丢弃该条。
func (r *Router) HandleMessage(ctx context.Context, topic string, payload []byte) {
	vehicleID, kind, err := r.parseTopic(topic)
	if err != nil {
		r.logger.Warn("Dropping message on unparseable topic",
			zap.String("topic", topic), zap.Error(err))
		return
	}

	switch kind {
	case protocol.KindTelemetry:
		r.handleTelemetry(vehicleID, payload)
	case protocol.KindStatus:
		r.handleStatus(vehicleID, payload)
	case protocol.KindLocation:
		r.handleLocation(ctx, vehicleID, payload)
	case protocol.KindEvent:
		r.handleEvent(ctx, vehicleID, payload)
	}
}

// parseTopic 解析 <namespace>/<vehicleId>/<kind> 通道名
func (r *Router) parseTopic(topic string) (vehicleID string, kind protocol.Kind, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != r.namespace || parts[1] == "" {
		return "", 0, fmt.Errorf("topic %q does not match %s/<vehicle>/<kind>", topic, r.namespace)
	}
	kind, err = protocol.ParseKind(parts[2])
	if err != nil {
		return "", 0, err
	}
	return parts[1], kind, nil
}

func (r *Router) handleTelemetry(vehicleID string, payload []byte) {
	sample, err := protocol.DecodeTelemetry(payload)
	if err != nil {
		r.logger.Warn("Dropping undecodable telemetry frame",
			zap.String("vehicle_id", vehicleID), zap.Error(err))
		return
	}

	r.cache.MergeTelemetry(vehicleID, sample)
	r.hub.BroadcastVehicle(vehicleID, "telemetry", sample)
}

func (r *Router) handleStatus(vehicleID string, payload []byte) {
	snap, err := protocol.DecodeStatus(payload)
	if err != nil {
		r.logger.Warn("Dropping undecodable status frame",
			zap.String("vehicle_id", vehicleID), zap.Error(err))
		return
	}

	// 广播合并后的有效状态：命令来源的字段优先于设备上报
	effective := r.cache.MergeStatus(vehicleID, snap, cache.OriginDevice)
	r.hub.BroadcastVehicle(vehicleID, "status", effective)
}

func (r *Router) handleLocation(ctx context.Context, vehicleID string, payload []byte) {
	pt, err := protocol.DecodeLocation(payload)
	if err != nil {
		r.logger.Warn("Dropping undecodable location frame",
			zap.String("vehicle_id", vehicleID), zap.Error(err))
		return
	}

	// 仅在坐标/航向有变化时入库，缓存随持久化同步更新
	if !r.cache.CompareLocation(vehicleID, pt) {
		return
	}

	// 异步持久化，慢存储不得阻塞消息流消费
	go func() {
		if err := r.history.AppendLocation(ctx, vehicleID, pt, time.Now()); err != nil {
			r.logger.Error("Failed to persist location",
				zap.String("vehicle_id", vehicleID), zap.Error(err))
		}
	}()
}

func (r *Router) handleEvent(ctx context.Context, vehicleID string, payload []byte) {
	ev, err := protocol.DecodeEvent(payload)
	if err != nil {
		r.logger.Warn("Dropping undecodable event frame",
			zap.String("vehicle_id", vehicleID), zap.Error(err))
		return
	}

	if r.dedupEvents {
		r.mu.Lock()
		last, seen := r.lastEvents[vehicleID]
		r.lastEvents[vehicleID] = ev
		r.mu.Unlock()
		if seen && last == ev {
			return
		}
	}

	// 事件是历史而非实时状态：只入库，不动缓存，不广播
	go func() {
		if err := r.history.AppendEvent(ctx, vehicleID, ev, time.Now()); err != nil {
			r.logger.Error("Failed to persist event",
				zap.String("vehicle_id", vehicleID),
				zap.Uint32("event_id", ev.EventID),
				zap.Error(err))
		}
	}()
}
