package models

import "time"

// Vehicle 车辆注册信息
type Vehicle struct {
	VehicleID       string    `json:"vehicle_id" db:"vehicle_id"`
	Model           string    `json:"model" db:"model"`
	Color           string    `json:"color" db:"color"`
	BatteryVoltage  int       `json:"battery_voltage" db:"battery_voltage"`   // V
	BatteryCapacity int       `json:"battery_capacity" db:"battery_capacity"` // Ah
	MaxRange        int       `json:"max_range" db:"max_range"`               // km
	LastOnline      time.Time `json:"last_online" db:"last_online"`
}

// VehicleState 单辆车的权威实时状态（缓存记录）
type VehicleState struct {
	VehicleID   string          `json:"vehicle_id"`
	Telemetry   TelemetrySample `json:"telemetry"`
	Status      StatusSnapshot  `json:"status"`
	Location    *LocationPoint  `json:"location,omitempty"`
	LastCommand *Command        `json:"last_command,omitempty"`
	LastUpdate  time.Time       `json:"last_update"`
}

// FleetVehicle 车队总览中的单车视图
type FleetVehicle struct {
	VehicleID  string        `json:"vehicle_id"`
	LastUpdate time.Time     `json:"last_update"`
	Speed      uint16        `json:"speed"`
	SOC        uint16        `json:"soc"`
	Voltage    uint16        `json:"voltage"`
	IsLocked   bool          `json:"is_locked"`
	Mode       uint16        `json:"mode"`
	Location   LocationPoint `json:"location"`
}

// LocationLog 位置历史记录
type LocationLog struct {
	Time      time.Time `json:"time" db:"time"`
	VehicleID string    `json:"vehicle_id" db:"vehicle_id"`
	Latitude  float64   `json:"lat" db:"lat"`
	Longitude float64   `json:"lon" db:"lon"`
	Heading   int       `json:"heading" db:"heading"`
}

// EventLog 事件历史记录
type EventLog struct {
	Time      time.Time `json:"time" db:"time"`
	VehicleID string    `json:"vehicle_id" db:"vehicle_id"`
	EventID   int64     `json:"event_id" db:"event_id"`
	TypeCode  int       `json:"type" db:"type"`
	Value     string    `json:"value" db:"value"`
}
