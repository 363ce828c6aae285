package dispatch

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/evgate/internal/cache"
)

type publishCall struct {
	topic   string
	qos     int
	retain  bool
	payload []byte
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, qos int, retain bool, payload []byte) error {
	p.calls = append(p.calls, publishCall{topic: topic, qos: qos, retain: retain, payload: payload})
	return p.err
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

func newTestDispatcher(pub *fakePublisher, hub *fakeBroadcaster) (*Dispatcher, *cache.Cache) {
	c := cache.New()
	return New(zap.NewNop(), pub, c, hub, "bike"), c
}

func TestDispatchEncodesCommandFrame(t *testing.T) {
	pub := &fakePublisher{}
	hub := &fakeBroadcaster{}
	d, c := newTestDispatcher(pub, hub)

	err := d.Dispatch(context.Background(), "bike-1", "lock", 1)
	require.NoError(t, err)

	require.Len(t, pub.calls, 1)
	call := pub.calls[0]
	assert.Equal(t, "bike/bike-1/cmd", call.topic)
	assert.Equal(t, 2, call.qos)
	assert.False(t, call.retain)
	assert.Equal(t, []byte{0x01, 0x00, 0x01, 0x00}, call.payload)

	// 缓存乐观更新并广播有效状态
	assert.True(t, c.Get("bike-1").Status.Locked)
	require.Len(t, hub.calls, 1)
	assert.Equal(t, "status", hub.calls[0].msgType)
	assert.Equal(t, "bike-1", hub.calls[0].vehicleID)
}

func TestDispatchAliasesResolveToSameFrame(t *testing.T) {
	testCases := []struct {
		alias     string
		canonical string
	}{
		{"locked", "lock"},
		{"trunk_locked", "trunk_lock"},
		{"trunk_open", "trunk_lock"},
		{"answareback", "answer_back"},
		{"head_light", "headlight"},
		{"rearlight", "rear_light"},
		{"turn_signal", "turn_light"},
		{"battery_alerts", "batt_alerts"},
	}

	for _, tc := range testCases {
		t.Run(tc.alias, func(t *testing.T) {
			pub := &fakePublisher{}
			d, _ := newTestDispatcher(pub, &fakeBroadcaster{})

			require.NoError(t, d.Dispatch(context.Background(), "bike-1", tc.alias, 1))
			require.NoError(t, d.Dispatch(context.Background(), "bike-1", tc.canonical, 1))

			require.Len(t, pub.calls, 2)
			assert.Equal(t, pub.calls[1].payload, pub.calls[0].payload,
				"alias and canonical name must produce identical frames")
		})
	}
}

func TestDispatchUnknownCommandHasNoSideEffects(t *testing.T) {
	pub := &fakePublisher{}
	hub := &fakeBroadcaster{}
	d, c := newTestDispatcher(pub, hub)

	err := d.Dispatch(context.Background(), "bike-1", "self_destruct", 1)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	assert.Empty(t, pub.calls)
	assert.Empty(t, hub.calls)
	assert.Nil(t, c.Get("bike-1").LastCommand)
}

func TestDispatchAliasResolutionIsCaseSensitive(t *testing.T) {
	d, _ := newTestDispatcher(&fakePublisher{}, &fakeBroadcaster{})

	assert.ErrorIs(t, d.Dispatch(context.Background(), "bike-1", "Lock", 1), ErrUnknownCommand)
	assert.ErrorIs(t, d.Dispatch(context.Background(), "bike-1", "LOCKED", 1), ErrUnknownCommand)
}

func TestDispatchPublishFailureKeepsCacheUpdate(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker unavailable")}
	d, c := newTestDispatcher(pub, &fakeBroadcaster{})

	err := d.Dispatch(context.Background(), "bike-1", "lock", 1)
	require.Error(t, err)

	// 发布失败不回滚缓存，以车辆下次状态上报收敛
	assert.True(t, c.Get("bike-1").Status.Locked)
}

func TestDispatchClampsOutOfRangeValues(t *testing.T) {
	pub := &fakePublisher{}
	d, _ := newTestDispatcher(pub, &fakeBroadcaster{})

	require.NoError(t, d.Dispatch(context.Background(), "bike-1", "turn_light", math.MaxInt16+10))
	require.Len(t, pub.calls, 1)
	// field id 7, value clamped to 32767
	assert.Equal(t, []byte{0x07, 0x00, 0xFF, 0x7F}, pub.calls[0].payload)

	require.NoError(t, d.Dispatch(context.Background(), "bike-1", "turn_light", math.MinInt16-10))
	require.Len(t, pub.calls, 2)
	assert.Equal(t, []byte{0x07, 0x00, 0x00, 0x80}, pub.calls[1].payload)
}

func TestDispatchTurnLightKeepsIntegerValue(t *testing.T) {
	pub := &fakePublisher{}
	d, c := newTestDispatcher(pub, &fakeBroadcaster{})

	require.NoError(t, d.Dispatch(context.Background(), "bike-1", "turn_light", 3))
	assert.Equal(t, []byte{0x07, 0x00, 0x03, 0x00}, pub.calls[0].payload)
	assert.Equal(t, uint8(3), c.Get("bike-1").Status.TurnLight)
}
