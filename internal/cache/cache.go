// Package cache 维护每辆车的权威实时状态。
// 设备上报与服务端命令并发写入同一辆车时，命令来源的状态字段优先：
// 服务端刚下发的命令不能被迟到/模拟的设备上报悄悄覆盖。
package cache

import (
	"sync"
	"time"

	"github.com/langchou/evgate/internal/models"
)

// Origin 状态写入来源
type Origin int

const (
	OriginDevice  Origin = iota // 设备上报
	OriginCommand               // 服务端命令（权威）
)

// 命令字段 ID，与线上 4 字节命令帧的字段 ID 一致
const (
	FieldLock uint16 = iota + 1
	FieldTrunkLock
	FieldHorn
	FieldAnswerBack
	FieldHeadlight
	FieldRearLight
	FieldTurnLight
	FieldPushNotify
	FieldBattAlerts
	FieldSecurityAlerts
	FieldAutoLock
	FieldBluetoothUnlock
	FieldRemoteAccess
)

// entry 单辆车的缓存记录，持有自己的锁
type entry struct {
	mu          sync.Mutex
	telemetry   models.TelemetrySample
	status      models.StatusSnapshot
	location    *models.LocationPoint
	lastCommand *models.Command
	lastUpdate  time.Time

	// commandSet 记录哪些状态字段被命令来源权威设置过
	commandSet map[uint16]bool
}

// Cache 车辆状态缓存，按车辆 ID 分键，互斥粒度为单辆车
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New 创建缓存
func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// getOrCreate 获取或创建车辆记录（进程生命周期内不删除）
func (c *Cache) getOrCreate(vehicleID string) *entry {
	c.mu.RLock()
	e, ok := c.entries[vehicleID]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[vehicleID]; ok {
		return e
	}
	e = &entry{commandSet: make(map[uint16]bool)}
	c.entries[vehicleID] = e
	return e
}

// Ensure 为车辆预建缓存记录（注册时调用）
func (c *Cache) Ensure(vehicleID string) {
	c.getOrCreate(vehicleID)
}

// Get 返回车辆状态快照；从未上报的字段为声明默认值（0/false）
func (c *Cache) Get(vehicleID string) models.VehicleState {
	e := c.getOrCreate(vehicleID)
	e.mu.Lock()
	defer e.mu.Unlock()

	state := models.VehicleState{
		VehicleID:  vehicleID,
		Telemetry:  e.telemetry,
		Status:     e.status,
		LastUpdate: e.lastUpdate,
	}
	if e.location != nil {
		loc := *e.location
		state.Location = &loc
	}
	if e.lastCommand != nil {
		cmd := *e.lastCommand
		state.LastCommand = &cmd
	}
	return state
}

// ListVehicleIDs 返回缓存中所有车辆 ID
func (c *Cache) ListVehicleIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// MergeTelemetry 无条件覆盖遥测字段，不触碰状态字段
func (c *Cache) MergeTelemetry(vehicleID string, sample models.TelemetrySample) {
	e := c.getOrCreate(vehicleID)
	e.mu.Lock()
	e.telemetry = sample
	e.lastUpdate = time.Now()
	e.mu.Unlock()
}

// MergeStatus 合并状态快照并返回合并后的有效状态。
// 设备来源的写入不覆盖命令来源已设置的字段；命令来源整体覆盖并标记权威。
func (c *Cache) MergeStatus(vehicleID string, snap models.StatusSnapshot, origin Origin) models.StatusSnapshot {
	e := c.getOrCreate(vehicleID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUpdate = time.Now()

	if origin == OriginCommand {
		e.status = snap
		for f := FieldLock; f <= FieldRemoteAccess; f++ {
			e.commandSet[f] = true
		}
		return e.status
	}

	// mode 不可通过命令设置，始终以设备上报为准
	e.status.Mode = snap.Mode
	if !e.commandSet[FieldLock] {
		e.status.Locked = snap.Locked
	}
	if !e.commandSet[FieldTrunkLock] {
		e.status.TrunkLocked = snap.TrunkLocked
	}
	if !e.commandSet[FieldHorn] {
		e.status.Horn = snap.Horn
	}
	if !e.commandSet[FieldAnswerBack] {
		e.status.AnswerBack = snap.AnswerBack
	}
	if !e.commandSet[FieldHeadlight] {
		e.status.Headlight = snap.Headlight
	}
	if !e.commandSet[FieldRearLight] {
		e.status.RearLight = snap.RearLight
	}
	if !e.commandSet[FieldTurnLight] {
		e.status.TurnLight = snap.TurnLight
	}
	if !e.commandSet[FieldPushNotify] {
		e.status.PushNotify = snap.PushNotify
	}
	if !e.commandSet[FieldBattAlerts] {
		e.status.BattAlerts = snap.BattAlerts
	}
	if !e.commandSet[FieldSecurityAlerts] {
		e.status.SecurityAlerts = snap.SecurityAlerts
	}
	if !e.commandSet[FieldAutoLock] {
		e.status.AutoLock = snap.AutoLock
	}
	if !e.commandSet[FieldBluetoothUnlock] {
		e.status.BluetoothUnlock = snap.BluetoothUnlock
	}
	if !e.commandSet[FieldRemoteAccess] {
		e.status.RemoteAccess = snap.RemoteAccess
	}
	return e.status
}

// ApplyCommand 按命令乐观更新对应状态字段并返回有效状态。
// 布尔字段按非零归一化，turn_light 取原始整数值。
func (c *Cache) ApplyCommand(vehicleID string, cmd models.Command) models.StatusSnapshot {
	e := c.getOrCreate(vehicleID)
	e.mu.Lock()
	defer e.mu.Unlock()

	on := cmd.Value != 0
	switch cmd.FieldID {
	case FieldLock:
		e.status.Locked = on
	case FieldTrunkLock:
		e.status.TrunkLocked = on
	case FieldHorn:
		e.status.Horn = on
	case FieldAnswerBack:
		e.status.AnswerBack = on
	case FieldHeadlight:
		e.status.Headlight = on
	case FieldRearLight:
		e.status.RearLight = on
	case FieldTurnLight:
		e.status.TurnLight = uint8(cmd.Value)
	case FieldPushNotify:
		e.status.PushNotify = on
	case FieldBattAlerts:
		e.status.BattAlerts = on
	case FieldSecurityAlerts:
		e.status.SecurityAlerts = on
	case FieldAutoLock:
		e.status.AutoLock = on
	case FieldBluetoothUnlock:
		e.status.BluetoothUnlock = on
	case FieldRemoteAccess:
		e.status.RemoteAccess = on
	default:
		return e.status
	}

	e.commandSet[cmd.FieldID] = true
	lastCmd := cmd
	e.lastCommand = &lastCmd
	e.lastUpdate = time.Now()
	return e.status
}

// CompareLocation 与上次缓存位置比较；有变化时更新缓存并返回 true（触发持久化）
func (c *Cache) CompareLocation(vehicleID string, pt models.LocationPoint) bool {
	e := c.getOrCreate(vehicleID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.location != nil &&
		e.location.Latitude == pt.Latitude &&
		e.location.Longitude == pt.Longitude &&
		e.location.Heading == pt.Heading {
		return false
	}
	loc := pt
	e.location = &loc
	e.lastUpdate = time.Now()
	return true
}
