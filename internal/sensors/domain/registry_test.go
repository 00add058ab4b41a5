package sensors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_Order(t *testing.T) {
	require.Equal(t, []SensorType{
		SensorPH, SensorDissolvedOxygen, SensorTurbidity, SensorConductivity, SensorFlowRate, SensorTDS,
	}, DefaultRegistry().Types())
}

func TestMergeRegistryYAML_OverridesThreshold(t *testing.T) {
	data := []byte(`
sensors:
  ph:
    threshold: {min: 6.5, max: 8.5}
  turbidity:
    name: Turbidity (NTU)
  temperature:
    name: Temperature
    unit: "°C"
    threshold: {max: 40}
    ranges: {min: 0, max: 60}
`)
	registry, err := MergeRegistryYAML(DefaultRegistry(), data)
	require.NoError(t, err)

	ph, ok := registry.Lookup(SensorPH)
	require.True(t, ok)
	require.Equal(t, "6.5 - 8.5", FormatThresholdLabel(ph.Threshold))
	require.Equal(t, "pH Level", ph.Name)

	turbidity, _ := registry.Lookup(SensorTurbidity)
	require.Equal(t, "Turbidity (NTU)", turbidity.Name)
	require.Equal(t, "≤ 50.0", FormatThresholdLabel(turbidity.Threshold))

	types := registry.Types()
	require.Len(t, types, 7)
	require.Equal(t, SensorType("temperature"), types[6])
	require.Equal(t, SensorPH, types[0])
}

func TestMergeRegistryYAML_RejectsInvertedThreshold(t *testing.T) {
	_, err := MergeRegistryYAML(DefaultRegistry(), []byte("sensors:\n  ph:\n    threshold: {min: 9, max: 8}\n"))
	require.Error(t, err)
}

func TestMergeRegistryYAML_NewSensorNeedsName(t *testing.T) {
	_, err := MergeRegistryYAML(DefaultRegistry(), []byte("sensors:\n  orp:\n    unit: mV\n"))
	require.Error(t, err)
}

func TestNewDisplaySensor_NullIffNoReading(t *testing.T) {
	cfg, _ := DefaultRegistry().Lookup(SensorTurbidity)

	empty := NewDisplaySensor(cfg, nil)
	require.Nil(t, empty.Value)
	require.Nil(t, empty.LastUpdated)
	require.Nil(t, empty.Status)
	require.Equal(t, "≤ 50.0", empty.Threshold.Label)

	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	sensor := NewDisplaySensor(cfg, &Reading{Type: SensorTurbidity, Value: 60, RecordedAt: at})
	require.NotNil(t, sensor.Value)
	require.Equal(t, 60.0, *sensor.Value)
	require.Equal(t, at, *sensor.LastUpdated)
	require.Equal(t, StatusViolation, *sensor.Status)
}

func TestNewHistoryRow_RecomputesStatus(t *testing.T) {
	registry := DefaultRegistry()
	row := NewHistoryRow(registry, Reading{ID: "r1", Type: SensorDissolvedOxygen, Value: 4.9})
	require.NotNil(t, row.Status)
	require.Equal(t, StatusViolation, *row.Status)

	unknown := NewHistoryRow(registry, Reading{ID: "r2", Type: "orp", Value: 1})
	require.Nil(t, unknown.Status)
}
