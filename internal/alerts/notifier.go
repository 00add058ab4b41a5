package alerts

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	sensors "greenthread/internal/sensors/domain"
)

const defaultCooldown = 15 * time.Minute

// Notifier sends one alert per violating sensor type, at most once per
// cooldown window.
type Notifier struct {
	registry       *sensors.Registry
	channel        Channel
	template       *Template
	logger         *log.Logger
	now            func() time.Time
	cooldown       time.Duration
	requestTimeout time.Duration
	dashboardURL   string

	mu   sync.Mutex
	sent map[sensors.SensorType]time.Time
}

// Option configures the notifier.
type Option func(*Notifier)

// WithCooldown sets the minimum interval between alerts for the same sensor.
// Zero disables suppression.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval >= 0 {
			n.cooldown = interval
		}
	}
}

// WithClock overrides the default clock.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

// WithRequestTimeout bounds each delivery.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithDashboardURL adds a link to alerts.
func WithDashboardURL(url string) Option {
	return func(n *Notifier) {
		n.dashboardURL = url
	}
}

// NewNotifier constructs a Notifier. A nil template uses DefaultTemplate.
func NewNotifier(registry *sensors.Registry, channel Channel, template *Template, logger *log.Logger, opts ...Option) (*Notifier, error) {
	if registry == nil {
		return nil, errors.New("alert notifier: nil registry")
	}
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	if logger == nil {
		logger = log.Default()
	}
	n := &Notifier{
		registry:       registry,
		channel:        channel,
		template:       template,
		logger:         logger,
		now:            time.Now,
		cooldown:       defaultCooldown,
		requestTimeout: 5 * time.Second,
		sent:           make(map[sensors.SensorType]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// NotifyViolations alerts on the newest violating reading of each type.
// Delivery failures are logged and leave the cooldown untouched.
func (n *Notifier) NotifyViolations(ctx context.Context, violations []sensors.Reading) {
	if n == nil || len(violations) == 0 {
		return
	}
	latest := make(map[sensors.SensorType]sensors.Reading, len(violations))
	order := make([]sensors.SensorType, 0, len(violations))
	for _, reading := range violations {
		prev, seen := latest[reading.Type]
		if !seen {
			order = append(order, reading.Type)
		}
		if !seen || reading.RecordedAt.After(prev.RecordedAt) {
			latest[reading.Type] = reading
		}
	}

	for _, sensorType := range order {
		reading := latest[sensorType]
		slot, ok := n.reserve(sensorType)
		if !ok {
			continue
		}
		content, err := n.template.Render(n.buildData(reading))
		if err != nil {
			n.logger.Printf("alerts: render %s: %v", sensorType, err)
			n.release(slot)
			continue
		}
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.requestTimeout)
		err = n.channel.Send(sendCtx, content)
		cancel()
		if err != nil {
			n.logger.Printf("alerts: send %s: %v", sensorType, err)
			n.release(slot)
		}
	}
}

func (n *Notifier) buildData(reading sensors.Reading) TemplateData {
	data := TemplateData{
		Sensor:       string(reading.Type),
		SensorID:     string(reading.Type),
		Value:        strconv.FormatFloat(reading.Value, 'f', -1, 64),
		Unit:         reading.Unit,
		Threshold:    "N/A",
		RecordedAt:   reading.RecordedAt.UTC().Format(time.RFC3339),
		Suggestion:   "Inspect the treatment stage upstream of this sensor and confirm the reading.",
		DashboardURL: n.dashboardURL,
	}
	if cfg, ok := n.registry.Lookup(reading.Type); ok {
		data.Sensor = cfg.Name
		data.Unit = cfg.Unit
		data.Threshold = sensors.FormatThresholdLabel(cfg.Threshold)
		if cfg.Unit != "" {
			data.Threshold += " " + cfg.Unit
		}
	}
	return data
}

// reservation is a claimed cooldown slot and the state it replaced.
type reservation struct {
	sensorType sensors.SensorType
	at         time.Time
	prev       time.Time
	hadPrev    bool
}

// reserve checks the cooldown and claims the slot in one critical section,
// so concurrent batches send at most one alert per type.
func (n *Notifier) reserve(sensorType sensors.SensorType) (reservation, bool) {
	if n.cooldown <= 0 {
		return reservation{}, true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	last, ok := n.sent[sensorType]
	if ok && now.Sub(last) < n.cooldown {
		return reservation{}, false
	}
	n.sent[sensorType] = now
	return reservation{sensorType: sensorType, at: now, prev: last, hadPrev: ok}, true
}

// release undoes a reservation unless a later one replaced it.
func (n *Notifier) release(slot reservation) {
	if n.cooldown <= 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if current, ok := n.sent[slot.sensorType]; !ok || !current.Equal(slot.at) {
		return
	}
	if slot.hadPrev {
		n.sent[slot.sensorType] = slot.prev
	} else {
		delete(n.sent, slot.sensorType)
	}
}
