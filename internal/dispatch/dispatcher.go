// Package dispatch 负责将符号命令名解析为线上字段并下发到车辆命令通道。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/langchou/evgate/internal/cache"
	"github.com/langchou/evgate/internal/models"
	"github.com/langchou/evgate/internal/protocol"
)

// ErrUnknownCommand 命令名无法解析；不产生任何副作用
var ErrUnknownCommand = errors.New("dispatch: unknown command")

// Publisher 命令发布端（MQTT 客户端实现）
type Publisher interface {
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error
}

// Broadcaster 向绑定该车辆的所有连接推送状态
type Broadcaster interface {
	BroadcastVehicle(vehicleID, msgType string, data interface{})
}

// Dispatcher 命令调度器
type Dispatcher struct {
	logger    *zap.Logger
	publisher Publisher
	cache     *cache.Cache
	hub       Broadcaster
	namespace string
}

// New 创建调度器
func New(logger *zap.Logger, publisher Publisher, c *cache.Cache, hub Broadcaster, namespace string) *Dispatcher {
	return &Dispatcher{
		logger:    logger,
		publisher: publisher,
		cache:     c,
		hub:       hub,
		namespace: namespace,
	}
}

// Dispatch 下发控制命令：
//  1. 解析命令名（含别名）；未知命令直接失败，无副作用
//  2. 先乐观更新缓存并广播有效状态，再以 QoS 2 发布 4 字节命令帧
//
// 发布失败返回给调用方，但缓存更新不回滚——这是有意的延迟/一致性取舍，
// 不一致窗口以车辆下次状态上报为界。
func (d *Dispatcher) Dispatch(ctx context.Context, vehicleID, name string, value int) error {
	spec, ok := resolve(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	wireValue := clampInt16(value)
	if int(wireValue) != value {
		d.logger.Warn("Command value out of int16 range, clamped",
			zap.String("vehicle_id", vehicleID),
			zap.String("command", spec.Name),
			zap.Int("value", value),
			zap.Int16("clamped", wireValue))
	}
	cmd := models.Command{
		Name:    spec.Name,
		FieldID: spec.FieldID,
		Value:   wireValue,
	}

	effective := d.cache.ApplyCommand(vehicleID, cmd)
	if d.hub != nil {
		d.hub.BroadcastVehicle(vehicleID, "status", effective)
	}

	topic := fmt.Sprintf("%s/%s/cmd", d.namespace, vehicleID)
	frame := protocol.EncodeCommand(spec.FieldID, wireValue)
	if err := d.publisher.Publish(ctx, topic, 2, false, frame); err != nil {
		return fmt.Errorf("publish command %s to %s: %w", spec.Name, vehicleID, err)
	}

	d.logger.Info("Command dispatched",
		zap.String("vehicle_id", vehicleID),
		zap.String("command", spec.Name),
		zap.Uint16("field_id", spec.FieldID),
		zap.Int16("value", wireValue))
	return nil
}

func clampInt16(v int) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
