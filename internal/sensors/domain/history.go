package sensors

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// HistoricalDataPoint holds the readings recorded at one exact instant.
// Every configured sensor is present in Values; nil means no reading.
type HistoricalDataPoint struct {
	Timestamp time.Time
	Values    map[SensorType]*float64

	order []SensorType
}

// Value returns the reading for a sensor type, or nil.
func (p HistoricalDataPoint) Value(sensorType SensorType) *float64 {
	return p.Values[sensorType]
}

// MarshalJSON writes timestamp followed by every sensor field in registry order.
func (p HistoricalDataPoint) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"timestamp":`)
	ts, err := json.Marshal(p.Timestamp)
	if err != nil {
		return nil, err
	}
	buf.Write(ts)
	for _, sensorType := range p.order {
		key, err := json.Marshal(string(sensorType))
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		value := p.Values[sensorType]
		if value == nil {
			buf.WriteString("null")
			continue
		}
		encoded, err := json.Marshal(*value)
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// BuildHistory buckets readings by exact recorded_at. Buckets start with every
// type in types set to nil; readings of other types are ignored. The result is
// ascending by timestamp and never interpolated.
func BuildHistory(types []SensorType, readings []Reading) []HistoricalDataPoint {
	known := make(map[SensorType]struct{}, len(types))
	for _, t := range types {
		known[t] = struct{}{}
	}

	byTime := make(map[int64]int)
	points := make([]HistoricalDataPoint, 0)
	for _, reading := range readings {
		key := reading.RecordedAt.UnixNano()
		pos, ok := byTime[key]
		if !ok {
			values := make(map[SensorType]*float64, len(types))
			for _, t := range types {
				values[t] = nil
			}
			points = append(points, HistoricalDataPoint{
				Timestamp: reading.RecordedAt.UTC(),
				Values:    values,
				order:     types,
			})
			pos = len(points) - 1
			byTime[key] = pos
		}
		if _, ok := known[reading.Type]; !ok {
			continue
		}
		value := reading.Value
		points[pos].Values[reading.Type] = &value
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points
}
