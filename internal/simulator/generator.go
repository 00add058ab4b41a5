package simulator

import (
	"math"
	"math/rand"
	"time"

	sensors "greenthread/internal/sensors/domain"
)

const (
	driftFactor = 0.1
	walkFactor  = 0.05
)

// Profile is the value envelope of one simulated sensor.
type Profile struct {
	Type    sensors.SensorType
	Unit    string
	Min     float64
	Max     float64
	Optimal float64
}

// DefaultProfiles mirrors the stock sensor set.
func DefaultProfiles() []Profile {
	return []Profile{
		{Type: sensors.SensorPH, Unit: "", Min: 0, Max: 14, Optimal: 7.0},
		{Type: sensors.SensorDissolvedOxygen, Unit: "mg/L", Min: 0, Max: 20, Optimal: 6.5},
		{Type: sensors.SensorTurbidity, Unit: "NTU", Min: 0, Max: 200, Optimal: 15},
		{Type: sensors.SensorConductivity, Unit: "µS/cm", Min: 0, Max: 10000, Optimal: 1200},
		{Type: sensors.SensorFlowRate, Unit: "m³/h", Min: 0, Max: 200, Optimal: 85},
		{Type: sensors.SensorTDS, Unit: "ppm", Min: 0, Max: 5000, Optimal: 650},
	}
}

// State holds the last unrounded value per sensor type. It is owned by one
// scheduler loop and is not safe for concurrent use.
type State struct {
	last map[sensors.SensorType]float64
}

// NewState seeds every profile at its optimum.
func NewState(profiles []Profile) *State {
	s := &State{last: make(map[sensors.SensorType]float64, len(profiles))}
	for _, p := range profiles {
		s.last[p.Type] = p.Optimal
	}
	return s
}

// Set overrides the last value of a type.
func (s *State) Set(sensorType sensors.SensorType, value float64) {
	s.last[sensorType] = value
}

// Value returns the last value of a type.
func (s *State) Value(sensorType sensors.SensorType) (float64, bool) {
	v, ok := s.last[sensorType]
	return v, ok
}

// Reading is the webhook payload of one simulated value.
type Reading struct {
	Type       sensors.SensorType `json:"type"`
	Value      float64            `json:"value"`
	Unit       string             `json:"unit"`
	RecordedAt string             `json:"recorded_at"`
}

// Generator produces drifting random-walk readings.
type Generator struct {
	profiles []Profile
	random   func() float64
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithRandom replaces the uniform [0,1) source.
func WithRandom(random func() float64) GeneratorOption {
	return func(g *Generator) {
		if random != nil {
			g.random = random
		}
	}
}

// NewGenerator constructs a Generator seeded from seed.
func NewGenerator(profiles []Profile, seed int64, opts ...GeneratorOption) *Generator {
	g := &Generator{
		profiles: profiles,
		random:   rand.New(rand.NewSource(seed)).Float64,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Profiles returns the configured profiles.
func (g *Generator) Profiles() []Profile {
	out := make([]Profile, len(g.profiles))
	copy(out, g.profiles)
	return out
}

// Next advances state by one step and returns one reading per profile. Each
// value drifts 10% toward its optimum plus a walk of up to ±2.5% of the span.
func (g *Generator) Next(state *State, now time.Time) []Reading {
	recordedAt := now.UTC().Format(time.RFC3339Nano)
	out := make([]Reading, 0, len(g.profiles))
	for _, p := range g.profiles {
		last, ok := state.Value(p.Type)
		if !ok {
			last = p.Optimal
		}
		drift := (p.Optimal - last) * driftFactor
		walk := (g.random() - 0.5) * (p.Max - p.Min) * walkFactor
		next := math.Max(p.Min, math.Min(p.Max, last+drift+walk))
		state.Set(p.Type, next)

		out = append(out, Reading{
			Type:       p.Type,
			Value:      math.Round(next*100) / 100,
			Unit:       p.Unit,
			RecordedAt: recordedAt,
		})
	}
	return out
}
