package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/evgate/internal/models"
)

func TestGetReturnsDefaultsForUnknownVehicle(t *testing.T) {
	c := New()

	state := c.Get("bike-1")
	assert.Equal(t, "bike-1", state.VehicleID)
	assert.Equal(t, models.TelemetrySample{}, state.Telemetry)
	assert.Equal(t, models.StatusSnapshot{}, state.Status)
	assert.Nil(t, state.Location)
	assert.Nil(t, state.LastCommand)
}

func TestMergeTelemetryOverwrites(t *testing.T) {
	c := New()

	c.MergeTelemetry("bike-1", models.TelemetrySample{Speed: 25, SOC: 100})
	c.MergeTelemetry("bike-1", models.TelemetrySample{Speed: 0, SOC: 99})

	state := c.Get("bike-1")
	assert.Equal(t, uint16(0), state.Telemetry.Speed)
	assert.Equal(t, uint16(99), state.Telemetry.SOC)
	assert.False(t, state.LastUpdate.IsZero())
}

func TestMergeStatusDeviceOrigin(t *testing.T) {
	c := New()

	effective := c.MergeStatus("bike-1", models.StatusSnapshot{Mode: 2, Locked: true}, OriginDevice)
	assert.Equal(t, uint16(2), effective.Mode)
	assert.True(t, effective.Locked)

	effective = c.MergeStatus("bike-1", models.StatusSnapshot{Mode: 1}, OriginDevice)
	assert.Equal(t, uint16(1), effective.Mode)
	assert.False(t, effective.Locked)
}

func TestMergeStatusIsIdempotent(t *testing.T) {
	c := New()
	snap := models.StatusSnapshot{Mode: 2, Locked: true, TurnLight: 1}

	first := c.MergeStatus("bike-1", snap, OriginDevice)
	second := c.MergeStatus("bike-1", snap, OriginDevice)
	assert.Equal(t, first, second)
	assert.Equal(t, first, c.Get("bike-1").Status)
}

func TestCommandFieldsWinOverDeviceReports(t *testing.T) {
	c := New()

	// 命令解锁车辆
	effective := c.ApplyCommand("bike-1", models.Command{Name: "lock", FieldID: FieldLock, Value: 0})
	assert.False(t, effective.Locked)

	// 迟到的设备上报声称车辆仍处于锁定状态，不得覆盖命令结果
	effective = c.MergeStatus("bike-1", models.StatusSnapshot{Mode: 3, Locked: true, Headlight: true}, OriginDevice)
	assert.False(t, effective.Locked, "command-set field must not be overwritten by device report")

	// 未被命令触碰的字段仍跟随设备上报
	assert.True(t, effective.Headlight)
	assert.Equal(t, uint16(3), effective.Mode, "mode is always device owned")
}

func TestCommandOriginMergeOverwritesAll(t *testing.T) {
	c := New()

	c.MergeStatus("bike-1", models.StatusSnapshot{Locked: true, AutoLock: true}, OriginDevice)
	effective := c.MergeStatus("bike-1", models.StatusSnapshot{Headlight: true}, OriginCommand)
	assert.False(t, effective.Locked)
	assert.False(t, effective.AutoLock)
	assert.True(t, effective.Headlight)

	// 命令来源合并后，全部字段都进入命令权威集合
	effective = c.MergeStatus("bike-1", models.StatusSnapshot{Locked: true}, OriginDevice)
	assert.False(t, effective.Locked)
	assert.True(t, effective.Headlight)
}

func TestApplyCommandTurnLightKeepsRawValue(t *testing.T) {
	c := New()

	effective := c.ApplyCommand("bike-1", models.Command{Name: "turn_light", FieldID: FieldTurnLight, Value: 3})
	assert.Equal(t, uint8(3), effective.TurnLight)

	state := c.Get("bike-1")
	require.NotNil(t, state.LastCommand)
	assert.Equal(t, "turn_light", state.LastCommand.Name)
	assert.Equal(t, int16(3), state.LastCommand.Value)
}

func TestApplyCommandUnknownFieldIsNoop(t *testing.T) {
	c := New()

	before := c.Get("bike-1")
	effective := c.ApplyCommand("bike-1", models.Command{Name: "bogus", FieldID: 99, Value: 1})
	assert.Equal(t, before.Status, effective)
	assert.Nil(t, c.Get("bike-1").LastCommand)
}

func TestCompareLocation(t *testing.T) {
	c := New()
	pt := models.LocationPoint{Latitude: 10.0, Longitude: 106.0, Heading: 90}

	assert.True(t, c.CompareLocation("bike-1", pt), "first report always counts as a change")
	assert.False(t, c.CompareLocation("bike-1", pt), "identical report must be deduplicated")

	pt.Heading = 91
	assert.True(t, c.CompareLocation("bike-1", pt), "heading change alone triggers an update")

	state := c.Get("bike-1")
	require.NotNil(t, state.Location)
	assert.Equal(t, uint16(91), state.Location.Heading)
}

func TestListVehicleIDs(t *testing.T) {
	c := New()
	assert.Empty(t, c.ListVehicleIDs())

	c.Ensure("bike-1")
	c.Ensure("bike-2")
	c.MergeTelemetry("bike-1", models.TelemetrySample{})

	ids := c.ListVehicleIDs()
	assert.ElementsMatch(t, []string{"bike-1", "bike-2"}, ids)
}

func TestEntriesAreIsolatedPerVehicle(t *testing.T) {
	c := New()

	c.ApplyCommand("bike-1", models.Command{Name: "lock", FieldID: FieldLock, Value: 1})
	effective := c.MergeStatus("bike-2", models.StatusSnapshot{Locked: false}, OriginDevice)

	assert.False(t, effective.Locked)
	assert.True(t, c.Get("bike-1").Status.Locked)
}
