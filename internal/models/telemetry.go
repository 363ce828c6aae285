package models

// TelemetrySample 车辆上报的遥测数据（23 字节帧解码结果）
type TelemetrySample struct {
	Speed          uint16 `json:"speed"`           // km/h
	Odometer       uint32 `json:"odo"`             // 总里程 (km)
	Trip           uint32 `json:"trip"`            // 本次行程里程 (km)
	RangeLeft      uint16 `json:"range_left"`      // 剩余续航 (km)
	Voltage        uint16 `json:"voltage"`         // 电池包电压 (0.1V)
	Current        int16  `json:"current"`         // 电池包电流 (0.1A，负值=充电)
	SOC            uint16 `json:"soc"`             // 电量百分比
	Temperature    int16  `json:"temperature"`     // 电池温度 (°C)
	TiltAngle      int16  `json:"tilt_angle"`      // 倾斜角度
	HillAssistance uint8  `json:"hill_assistance"` // 坡道辅助标志
}

// StatusSnapshot 车辆状态快照（15 字节帧解码结果）
// 字段顺序与线上布局一致，不可调整
type StatusSnapshot struct {
	Mode            uint16 `json:"mode"`
	Locked          bool   `json:"locked"`
	TrunkLocked     bool   `json:"trunk_locked"`
	Horn            bool   `json:"horn"`
	AnswerBack      bool   `json:"answer_back"`
	Headlight       bool   `json:"headlight"`
	RearLight       bool   `json:"rear_light"`
	TurnLight       uint8  `json:"turn_light"` // 0=关 1=左 2=右 3=双闪
	PushNotify      bool   `json:"push_notify"`
	BattAlerts      bool   `json:"batt_alerts"`
	SecurityAlerts  bool   `json:"security_alerts"`
	AutoLock        bool   `json:"auto_lock"`
	BluetoothUnlock bool   `json:"bluetooth_unlock"`
	RemoteAccess    bool   `json:"remote_access"`
}

// LocationPoint 车辆位置（10 字节帧解码结果）
type LocationPoint struct {
	Latitude  float64 `json:"lat"`     // 1e-7 度精度
	Longitude float64 `json:"lon"`     // 1e-7 度精度
	Heading   uint16  `json:"heading"` // 0-359
}

// EventRecord 车辆事件（16 字节帧解码结果）
type EventRecord struct {
	EventID  uint32 `json:"event_id"`
	TypeCode uint16 `json:"type"` // 0=Info 1=Warning 2=Error
	Value    string `json:"value"`
}

// Command 最近一次下发的控制命令
type Command struct {
	Name    string `json:"name"`     // 规范命令名
	FieldID uint16 `json:"field_id"` // 线上字段 ID
	Value   int16  `json:"value"`
}
