package sensors

// SensorType identifies a monitored wastewater parameter.
type SensorType string

const (
	SensorPH              SensorType = "ph"
	SensorDissolvedOxygen SensorType = "dissolvedOxygen"
	SensorTurbidity       SensorType = "turbidity"
	SensorConductivity    SensorType = "conductivity"
	SensorFlowRate        SensorType = "flowRate"
	SensorTDS             SensorType = "tds"
)

// Threshold bounds a compliant value. Nil bounds are not checked.
type Threshold struct {
	Min *float64 `json:"min,omitempty" yaml:"min"`
	Max *float64 `json:"max,omitempty" yaml:"max"`
}

// Range is the gauge display range of a sensor.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// SensorConfig describes one configured sensor.
type SensorConfig struct {
	ID        SensorType
	Name      string
	Unit      string
	Threshold Threshold
	Ranges    Range
}

// Registry is the immutable set of configured sensors in display order.
type Registry struct {
	configs []SensorConfig
	index   map[SensorType]int
}

// NewRegistry builds a registry. Later duplicates replace earlier entries in place.
func NewRegistry(configs ...SensorConfig) *Registry {
	r := &Registry{index: make(map[SensorType]int, len(configs))}
	for _, cfg := range configs {
		if pos, ok := r.index[cfg.ID]; ok {
			r.configs[pos] = cfg
			continue
		}
		r.index[cfg.ID] = len(r.configs)
		r.configs = append(r.configs, cfg)
	}
	return r
}

// DefaultRegistry returns the stock GreenThread sensor set.
func DefaultRegistry() *Registry {
	return NewRegistry(
		SensorConfig{
			ID:        SensorPH,
			Name:      "pH Level",
			Unit:      "",
			Threshold: Threshold{Min: floatPtr(5.5), Max: floatPtr(8.5)},
			Ranges:    Range{Min: 4, Max: 11},
		},
		SensorConfig{
			ID:        SensorDissolvedOxygen,
			Name:      "Dissolved Oxygen",
			Unit:      "mg/L",
			Threshold: Threshold{Min: floatPtr(5)},
			Ranges:    Range{Min: 0, Max: 15},
		},
		SensorConfig{
			ID:        SensorTurbidity,
			Name:      "Turbidity",
			Unit:      "NTU",
			Threshold: Threshold{Max: floatPtr(50)},
			Ranges:    Range{Min: 0, Max: 100},
		},
		SensorConfig{
			ID:        SensorConductivity,
			Name:      "Conductivity",
			Unit:      "µS/cm",
			Threshold: Threshold{Max: floatPtr(3000)},
			Ranges:    Range{Min: 0, Max: 5000},
		},
		SensorConfig{
			ID:        SensorFlowRate,
			Name:      "Flow Rate",
			Unit:      "m³/h",
			Threshold: Threshold{Max: floatPtr(100)},
			Ranges:    Range{Min: 0, Max: 150},
		},
		SensorConfig{
			ID:        SensorTDS,
			Name:      "Total Dissolved Solids",
			Unit:      "ppm",
			Threshold: Threshold{Max: floatPtr(500)},
			Ranges:    Range{Min: 0, Max: 1000},
		},
	)
}

// Configs returns a copy of all configs in display order.
func (r *Registry) Configs() []SensorConfig {
	if r == nil {
		return nil
	}
	out := make([]SensorConfig, len(r.configs))
	copy(out, r.configs)
	return out
}

// Types returns configured sensor types in display order.
func (r *Registry) Types() []SensorType {
	if r == nil {
		return nil
	}
	out := make([]SensorType, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg.ID)
	}
	return out
}

// Lookup returns the config for a sensor type.
func (r *Registry) Lookup(sensorType SensorType) (SensorConfig, bool) {
	if r == nil {
		return SensorConfig{}, false
	}
	pos, ok := r.index[sensorType]
	if !ok {
		return SensorConfig{}, false
	}
	return r.configs[pos], true
}

// Len returns the number of configured sensors.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.configs)
}

// StatusFor evaluates a value against the configured threshold of its type.
// The second result is false for types that are not configured.
func (r *Registry) StatusFor(sensorType SensorType, value float64) (Status, bool) {
	cfg, ok := r.Lookup(sensorType)
	if !ok {
		return "", false
	}
	return CalculateStatus(value, cfg.Threshold), true
}

func floatPtr(v float64) *float64 {
	return &v
}
