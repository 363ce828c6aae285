// Package protocol 实现车辆二进制协议的编解码。
// 所有帧为固定长度小端布局（协议最终修订版），解码失败只影响单条消息。
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/langchou/evgate/internal/models"
)

// Kind 设备上报消息类型（闭集，按通道后缀区分）
type Kind int

const (
	KindTelemetry Kind = iota
	KindStatus
	KindLocation
	KindEvent
)

// 各类型帧的固定长度
const (
	TelemetryFrameLen = 23
	StatusFrameLen    = 15
	LocationFrameLen  = 10
	EventFrameLen     = 16
	CommandFrameLen   = 4
)

var (
	ErrUnknownKind = errors.New("protocol: unknown message kind")
	ErrShortFrame  = errors.New("protocol: frame too short")
)

// String 返回通道后缀名
func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindStatus:
		return "status"
	case KindLocation:
		return "location"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind 从通道后缀解析消息类型
func ParseKind(s string) (Kind, error) {
	switch s {
	case "telemetry":
		return KindTelemetry, nil
	case "status":
		return KindStatus, nil
	case "location":
		return KindLocation, nil
	case "event":
		return KindEvent, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// FrameLen 返回指定类型的帧长度
func FrameLen(k Kind) int {
	switch k {
	case KindTelemetry:
		return TelemetryFrameLen
	case KindStatus:
		return StatusFrameLen
	case KindLocation:
		return LocationFrameLen
	case KindEvent:
		return EventFrameLen
	default:
		return 0
	}
}

func checkLen(k Kind, b []byte) error {
	if need := FrameLen(k); len(b) < need {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortFrame, k, need, len(b))
	}
	return nil
}

// DecodeTelemetry 解码 23 字节遥测帧
func DecodeTelemetry(b []byte) (models.TelemetrySample, error) {
	if err := checkLen(KindTelemetry, b); err != nil {
		return models.TelemetrySample{}, err
	}
	return models.TelemetrySample{
		Speed:          binary.LittleEndian.Uint16(b[0:2]),
		Odometer:       binary.LittleEndian.Uint32(b[2:6]),
		Trip:           binary.LittleEndian.Uint32(b[6:10]),
		RangeLeft:      binary.LittleEndian.Uint16(b[10:12]),
		Voltage:        binary.LittleEndian.Uint16(b[12:14]),
		Current:        int16(binary.LittleEndian.Uint16(b[14:16])),
		SOC:            binary.LittleEndian.Uint16(b[16:18]),
		Temperature:    int16(binary.LittleEndian.Uint16(b[18:20])),
		TiltAngle:      int16(binary.LittleEndian.Uint16(b[20:22])),
		HillAssistance: b[22],
	}, nil
}

// DecodeStatus 解码 15 字节状态帧
// 偏移 2..14 为声明顺序的单字节标志位
func DecodeStatus(b []byte) (models.StatusSnapshot, error) {
	if err := checkLen(KindStatus, b); err != nil {
		return models.StatusSnapshot{}, err
	}
	return models.StatusSnapshot{
		Mode:            binary.LittleEndian.Uint16(b[0:2]),
		Locked:          b[2] != 0,
		TrunkLocked:     b[3] != 0,
		Horn:            b[4] != 0,
		AnswerBack:      b[5] != 0,
		Headlight:       b[6] != 0,
		RearLight:       b[7] != 0,
		TurnLight:       b[8],
		PushNotify:      b[9] != 0,
		BattAlerts:      b[10] != 0,
		SecurityAlerts:  b[11] != 0,
		AutoLock:        b[12] != 0,
		BluetoothUnlock: b[13] != 0,
		RemoteAccess:    b[14] != 0,
	}, nil
}

// DecodeLocation 解码 10 字节位置帧，坐标为 1e-7 度定点数
func DecodeLocation(b []byte) (models.LocationPoint, error) {
	if err := checkLen(KindLocation, b); err != nil {
		return models.LocationPoint{}, err
	}
	return models.LocationPoint{
		Latitude:  float64(int32(binary.LittleEndian.Uint32(b[0:4]))) / 1e7,
		Longitude: float64(int32(binary.LittleEndian.Uint32(b[4:8]))) / 1e7,
		Heading:   binary.LittleEndian.Uint16(b[8:10]),
	}, nil
}

// DecodeEvent 解码 16 字节事件帧，文本载荷去除尾部 NUL
func DecodeEvent(b []byte) (models.EventRecord, error) {
	if err := checkLen(KindEvent, b); err != nil {
		return models.EventRecord{}, err
	}
	return models.EventRecord{
		EventID:  binary.LittleEndian.Uint32(b[0:4]),
		TypeCode: binary.LittleEndian.Uint16(b[4:6]),
		Value:    strings.TrimRight(string(b[6:16]), "\x00"),
	}, nil
}

// EncodeCommand 编码 4 字节命令帧：字段 ID (u16) + 有符号 16 位值
func EncodeCommand(fieldID uint16, value int16) []byte {
	b := make([]byte, CommandFrameLen)
	binary.LittleEndian.PutUint16(b[0:2], fieldID)
	binary.LittleEndian.PutUint16(b[2:4], uint16(value))
	return b
}
