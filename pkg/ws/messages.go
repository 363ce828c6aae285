package ws

import "encoding/json"

// 控制消息类型（type 判别字段，闭集）
const (
	MsgTypeToken          = "token"           // 认证握手（客户端携带令牌 / 服务端回 OK|NG）
	MsgTypeHeartbeat      = "heartbeat"       // 心跳 ping/pong
	MsgTypeCommand        = "command"         // 客户端下发控制命令
	MsgTypeTelemetry      = "telemetry"       // 服务端推送遥测
	MsgTypeStatus         = "status"          // 服务端推送状态
	MsgTypeVehicleChanged = "vehicle_changed" // 激活车辆切换通知
	MsgTypeError          = "error"           // 错误消息
)

// 心跳载荷
const (
	heartbeatPing = "ping"
	heartbeatPong = "pong"
)

// 认证应答
const (
	tokenAccepted = "OK"
	tokenRejected = "NG"
)

// Message 连接控制消息信封
type Message struct {
	Type      string          `json:"type"`
	VehicleID string          `json:"vehicle_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CommandPayload command 消息的载荷
type CommandPayload struct {
	Type string `json:"type"` // 符号命令名
	Data int    `json:"data"` // 命令值
}

// marshalMessage 组装一条下行消息
func marshalMessage(msgType, vehicleID string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{
		Type:      msgType,
		VehicleID: vehicleID,
		Data:      raw,
	})
}
