package dispatch

import "github.com/langchou/evgate/internal/cache"

// commandSpec 规范命令定义
type commandSpec struct {
	Name    string // 规范命令名
	FieldID uint16 // 线上字段 ID
	Bool    bool   // 布尔字段按非零归一化；整数字段（turn_light）透传
}

// 13 个规范命令，字段 ID 与状态帧标志位顺序一致
var commands = []commandSpec{
	{Name: "lock", FieldID: cache.FieldLock, Bool: true},
	{Name: "trunk_lock", FieldID: cache.FieldTrunkLock, Bool: true},
	{Name: "horn", FieldID: cache.FieldHorn, Bool: true},
	{Name: "answer_back", FieldID: cache.FieldAnswerBack, Bool: true},
	{Name: "headlight", FieldID: cache.FieldHeadlight, Bool: true},
	{Name: "rear_light", FieldID: cache.FieldRearLight, Bool: true},
	{Name: "turn_light", FieldID: cache.FieldTurnLight, Bool: false},
	{Name: "push_notify", FieldID: cache.FieldPushNotify, Bool: true},
	{Name: "batt_alerts", FieldID: cache.FieldBattAlerts, Bool: true},
	{Name: "security_alerts", FieldID: cache.FieldSecurityAlerts, Bool: true},
	{Name: "auto_lock", FieldID: cache.FieldAutoLock, Bool: true},
	{Name: "bluetooth_unlock", FieldID: cache.FieldBluetoothUnlock, Bool: true},
	{Name: "remote_access", FieldID: cache.FieldRemoteAccess, Bool: true},
}

// aliases 历史客户端沿用的拼写别名 → 规范命令名（区分大小写）
var aliases = map[string]string{
	"locked":         "lock",
	"trunk_locked":   "trunk_lock",
	"trunk_open":     "trunk_lock",
	"answareback":    "answer_back", // 旧固件的拼写
	"head_light":     "headlight",
	"rearlight":      "rear_light",
	"turn_signal":    "turn_light",
	"battery_alerts": "batt_alerts",
}

var byName = func() map[string]commandSpec {
	m := make(map[string]commandSpec, len(commands)+len(aliases))
	for _, c := range commands {
		m[c.Name] = c
	}
	for alias, canonical := range aliases {
		m[alias] = m[canonical]
	}
	return m
}()

// resolve 解析命令名（含别名）为规范命令定义
func resolve(name string) (commandSpec, bool) {
	spec, ok := byName[name]
	return spec, ok
}
