package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/evgate/internal/cache"
	"github.com/langchou/evgate/internal/models"
)

type locationAppend struct {
	vehicleID string
	pt        models.LocationPoint
}

type eventAppend struct {
	vehicleID string
	ev        models.EventRecord
}

// fakeHistory 用通道交付异步持久化调用，便于测试等待
type fakeHistory struct {
	locations chan locationAppend
	events    chan eventAppend
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		locations: make(chan locationAppend, 16),
		events:    make(chan eventAppend, 16),
	}
}

func (h *fakeHistory) AppendLocation(_ context.Context, vehicleID string, pt models.LocationPoint, _ time.Time) error {
	h.locations <- locationAppend{vehicleID: vehicleID, pt: pt}
	return nil
}

func (h *fakeHistory) AppendEvent(_ context.Context, vehicleID string, ev models.EventRecord, _ time.Time) error {
	h.events <- eventAppend{vehicleID: vehicleID, ev: ev}
	return nil
}

type broadcastCall struct {
	vehicleID string
	msgType   string
	data      interface{}
}

type fakeBroadcaster struct {
	calls []broadcastCall
}

func (b *fakeBroadcaster) BroadcastVehicle(vehicleID, msgType string, data interface{}) {
	b.calls = append(b.calls, broadcastCall{vehicleID: vehicleID, msgType: msgType, data: data})
}

func newTestRouter(dedup bool) (*Router, *cache.Cache, *fakeHistory, *fakeBroadcaster) {
	c := cache.New()
	history := newFakeHistory()
	hub := &fakeBroadcaster{}
	r := New(zap.NewNop(), c, history, hub, "bike", dedup)
	return r, c, history, hub
}

func telemetryFrame(speed uint16) []byte {
	b := make([]byte, 23)
	b[0], b[1] = byte(speed), byte(speed>>8)
	return b
}

func locationFrame(lat, lon int32, heading uint16) []byte {
	b := make([]byte, 10)
	for i := 0; i < 4; i++ {
		b[i] = byte(lat >> (8 * i))
		b[4+i] = byte(lon >> (8 * i))
	}
	b[8], b[9] = byte(heading), byte(heading>>8)
	return b
}

func eventFrame(id uint32, typeCode uint16, text string) []byte {
	b := make([]byte, 16)
	for i := 0; i < 4; i++ {
		b[i] = byte(id >> (8 * i))
	}
	b[4], b[5] = byte(typeCode), byte(typeCode>>8)
	copy(b[6:], text)
	return b
}

func waitLocation(t *testing.T, h *fakeHistory) locationAppend {
	t.Helper()
	select {
	case got := <-h.locations:
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for location persistence")
		return locationAppend{}
	}
}

func waitEvent(t *testing.T, h *fakeHistory) eventAppend {
	t.Helper()
	select {
	case got := <-h.events:
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event persistence")
		return eventAppend{}
	}
}

func TestHandleTelemetryUpdatesCacheAndBroadcasts(t *testing.T) {
	r, c, _, hub := newTestRouter(false)

	r.HandleMessage(context.Background(), "bike/bike-1/telemetry", telemetryFrame(25))

	assert.Equal(t, uint16(25), c.Get("bike-1").Telemetry.Speed)
	require.Len(t, hub.calls, 1)
	assert.Equal(t, "telemetry", hub.calls[0].msgType)
	assert.Equal(t, "bike-1", hub.calls[0].vehicleID)
}

func TestHandleStatusBroadcastsEffectiveMerge(t *testing.T) {
	r, c, _, hub := newTestRouter(false)

	// 命令先锁定车辆
	c.ApplyCommand("bike-1", models.Command{Name: "lock", FieldID: cache.FieldLock, Value: 1})

	// 设备上报声称未锁定，广播的有效状态必须保留命令结果
	frame := make([]byte, 15)
	frame[0] = 2 // mode
	r.HandleMessage(context.Background(), "bike/bike-1/status", frame)

	require.Len(t, hub.calls, 1)
	effective, ok := hub.calls[0].data.(models.StatusSnapshot)
	require.True(t, ok)
	assert.True(t, effective.Locked)
	assert.Equal(t, uint16(2), effective.Mode)
}

func TestHandleLocationPersistsOnlyChanges(t *testing.T) {
	r, _, history, _ := newTestRouter(false)
	frame := locationFrame(100000000, 1060000000, 90)

	r.HandleMessage(context.Background(), "bike/bike-1/location", frame)
	got := waitLocation(t, history)
	assert.Equal(t, "bike-1", got.vehicleID)
	assert.InDelta(t, 10.0, got.pt.Latitude, 1e-9)
	assert.InDelta(t, 106.0, got.pt.Longitude, 1e-9)

	// 相同坐标不再入库
	r.HandleMessage(context.Background(), "bike/bike-1/location", frame)
	select {
	case <-history.locations:
		t.Fatal("unchanged location must not be persisted again")
	case <-time.After(100 * time.Millisecond):
	}

	// 仅航向变化也触发入库
	r.HandleMessage(context.Background(), "bike/bike-1/location", locationFrame(100000000, 1060000000, 91))
	got = waitLocation(t, history)
	assert.Equal(t, uint16(91), got.pt.Heading)
}

func TestHandleEventAlwaysPersistsByDefault(t *testing.T) {
	r, _, history, hub := newTestRouter(false)
	frame := eventFrame(1337, 7, "lowbat")

	r.HandleMessage(context.Background(), "bike/bike-1/event", frame)
	r.HandleMessage(context.Background(), "bike/bike-1/event", frame)

	first := waitEvent(t, history)
	second := waitEvent(t, history)
	assert.Equal(t, uint32(1337), first.ev.EventID)
	assert.Equal(t, "lowbat", first.ev.Value)
	assert.Equal(t, first.ev, second.ev, "duplicates are persisted when dedup is off")

	// 事件只入库，不广播
	assert.Empty(t, hub.calls)
}

func TestHandleEventDedupDropsConsecutiveDuplicates(t *testing.T) {
	r, _, history, _ := newTestRouter(true)
	frame := eventFrame(1337, 7, "lowbat")

	r.HandleMessage(context.Background(), "bike/bike-1/event", frame)
	waitEvent(t, history)

	r.HandleMessage(context.Background(), "bike/bike-1/event", frame)
	select {
	case <-history.events:
		t.Fatal("consecutive duplicate event must be dropped with dedup on")
	case <-time.After(100 * time.Millisecond):
	}

	// 不同事件正常入库；去重按车辆隔离
	r.HandleMessage(context.Background(), "bike/bike-1/event", eventFrame(1338, 7, "lowbat"))
	got := waitEvent(t, history)
	assert.Equal(t, uint32(1338), got.ev.EventID)

	r.HandleMessage(context.Background(), "bike/bike-2/event", frame)
	got = waitEvent(t, history)
	assert.Equal(t, "bike-2", got.vehicleID)
}

func TestHandleMessageDropsMalformedInput(t *testing.T) {
	r, c, history, hub := newTestRouter(false)

	testCases := []struct {
		name    string
		topic   string
		payload []byte
	}{
		{"wrong namespace", "car/bike-1/telemetry", telemetryFrame(25)},
		{"unknown kind", "bike/bike-1/firmware", telemetryFrame(25)},
		{"missing vehicle", "bike//telemetry", telemetryFrame(25)},
		{"extra segments", "bike/bike-1/telemetry/extra", telemetryFrame(25)},
		{"short telemetry frame", "bike/bike-1/telemetry", make([]byte, 10)},
		{"short status frame", "bike/bike-1/status", make([]byte, 3)},
		{"short location frame", "bike/bike-1/location", make([]byte, 9)},
		{"short event frame", "bike/bike-1/event", make([]byte, 15)},
		{"empty payload", "bike/bike-1/telemetry", nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r.HandleMessage(context.Background(), tc.topic, tc.payload)
		})
	}

	// 全部丢弃：缓存、历史、广播均无副作用
	assert.Empty(t, c.ListVehicleIDs())
	assert.Empty(t, hub.calls)
	select {
	case <-history.locations:
		t.Fatal("malformed input must not reach the history store")
	case <-history.events:
		t.Fatal("malformed input must not reach the history store")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMalformedFrameDoesNotStopStream(t *testing.T) {
	r, c, _, _ := newTestRouter(false)

	r.HandleMessage(context.Background(), "bike/bike-1/telemetry", []byte{0x01})
	r.HandleMessage(context.Background(), "bike/bike-1/telemetry", telemetryFrame(30))

	assert.Equal(t, uint16(30), c.Get("bike-1").Telemetry.Speed)
}
