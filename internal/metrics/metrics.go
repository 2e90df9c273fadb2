package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Metric name prefixes used by the dispatcher and the feedback producer.
// The event or notification kind is appended after a dot.
const (
	EventsReceived         = "events_received"
	EventsFailed           = "events_failed"
	EventsDropped          = "events_dropped"
	NotificationsPublished = "notifications_published"
	NotificationsFailed    = "notifications_failed"
	DispatchTimer          = "dispatch_ms"
	DispatchErrorRate      = "dispatch"
	PoolInFlight           = "pool_in_flight"
)

// Health components
const (
	HealthDatabase = "database"
	HealthRedis    = "redis"
)

// TimerMetric captures timing information
type TimerMetric struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MinTimeMs     int64   `json:"min_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

// ErrorRateMetric captures error rates
type ErrorRateMetric struct {
	Total     int64   `json:"total"`
	Errors    int64   `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

type timer struct {
	count       int64
	totalTimeMs int64
	minTimeMs   int64
	maxTimeMs   int64
}

type errorRate struct {
	total  int64
	errors int64
}

// Metrics is the in-process collector behind GET /metrics
type Metrics struct {
	mu           sync.RWMutex
	counters     map[string]*int64
	gauges       map[string]*int64
	timers       map[string]*timer
	errorRates   map[string]*errorRate
	healthChecks map[string]*int64
	startTime    time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:     make(map[string]*int64),
		gauges:       make(map[string]*int64),
		timers:       make(map[string]*timer),
		errorRates:   make(map[string]*errorRate),
		healthChecks: make(map[string]*int64),
		startTime:    time.Now(),
	}
}

// Name joins a metric prefix and a kind
func Name(prefix, kind string) string {
	return prefix + "." + kind
}

// lookup returns the entry for name, creating it under the write lock when missing
func lookup[T any](m *Metrics, entries map[string]*T, name string, create func() *T) *T {
	m.mu.RLock()
	entry, exists := entries[name]
	m.mu.RUnlock()
	if exists {
		return entry
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Check again, another goroutine may have won the race
	if entry, exists = entries[name]; !exists {
		entry = create()
		entries[name] = entry
	}
	return entry
}

func newInt64() *int64 { return new(int64) }

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the specified value
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	atomic.AddInt64(lookup(m, m.counters, name, newInt64), value)
}

// SetGauge sets a gauge to a specific value
func (m *Metrics) SetGauge(name string, value int64) {
	atomic.StoreInt64(lookup(m, m.gauges, name, newInt64), value)
}

// AddGauge moves a gauge by delta
func (m *Metrics) AddGauge(name string, delta int64) {
	atomic.AddInt64(lookup(m, m.gauges, name, newInt64), delta)
}

// RecordTimer records a timing measurement
func (m *Metrics) RecordTimer(name string, durationMs int64) {
	t := lookup(m, m.timers, name, func() *timer {
		return &timer{minTimeMs: math.MaxInt64}
	})

	atomic.AddInt64(&t.count, 1)
	atomic.AddInt64(&t.totalTimeMs, durationMs)

	for {
		currentMin := atomic.LoadInt64(&t.minTimeMs)
		if durationMs >= currentMin || atomic.CompareAndSwapInt64(&t.minTimeMs, currentMin, durationMs) {
			break
		}
	}

	for {
		currentMax := atomic.LoadInt64(&t.maxTimeMs)
		if durationMs <= currentMax || atomic.CompareAndSwapInt64(&t.maxTimeMs, currentMax, durationMs) {
			break
		}
	}
}

// RecordSuccess records a successful operation for error rate tracking
func (m *Metrics) RecordSuccess(name string) {
	m.recordErrorRate(name, false)
}

// RecordError records an error for error rate tracking
func (m *Metrics) RecordError(name string) {
	m.recordErrorRate(name, true)
}

func (m *Metrics) recordErrorRate(name string, isError bool) {
	er := lookup(m, m.errorRates, name, func() *errorRate { return &errorRate{} })

	atomic.AddInt64(&er.total, 1)
	if isError {
		atomic.AddInt64(&er.errors, 1)
	}
}

// SetHealth sets the health status of a component
func (m *Metrics) SetHealth(component string, isHealthy bool) {
	var value int64
	if isHealthy {
		value = 1
	}
	atomic.StoreInt64(lookup(m, m.healthChecks, component, newInt64), value)
}

// ObserveDispatch records the outcome and duration of one event dispatch
func (m *Metrics) ObserveDispatch(kind string, elapsed time.Duration, err error) {
	m.RecordTimer(Name(DispatchTimer, kind), elapsed.Milliseconds())
	if err != nil {
		m.IncrementCounter(Name(EventsFailed, kind))
		m.RecordError(Name(DispatchErrorRate, kind))
		return
	}
	m.RecordSuccess(Name(DispatchErrorRate, kind))
}

// ObserveNotification records one publish attempt
func (m *Metrics) ObserveNotification(kind string, err error) {
	if err != nil {
		m.IncrementCounter(Name(NotificationsFailed, kind))
		return
	}
	m.IncrementCounter(Name(NotificationsPublished, kind))
}

// GetCounters returns all counters
func (m *Metrics) GetCounters() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, counter := range m.counters {
		counters[name] = atomic.LoadInt64(counter)
	}
	return counters
}

// GetGauges returns all gauges
func (m *Metrics) GetGauges() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	gauges := make(map[string]int64, len(m.gauges))
	for name, gauge := range m.gauges {
		gauges[name] = atomic.LoadInt64(gauge)
	}
	return gauges
}

// GetTimers returns all timers
func (m *Metrics) GetTimers() map[string]TimerMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	timers := make(map[string]TimerMetric, len(m.timers))
	for name, t := range m.timers {
		count := atomic.LoadInt64(&t.count)
		total := atomic.LoadInt64(&t.totalTimeMs)

		var average float64
		if count > 0 {
			average = float64(total) / float64(count)
		}

		timers[name] = TimerMetric{
			Count:         count,
			TotalTimeMs:   total,
			AverageTimeMs: average,
			MinTimeMs:     atomic.LoadInt64(&t.minTimeMs),
			MaxTimeMs:     atomic.LoadInt64(&t.maxTimeMs),
		}
	}
	return timers
}

// GetErrorRates returns all error rates as percentages
func (m *Metrics) GetErrorRates() map[string]ErrorRateMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rates := make(map[string]ErrorRateMetric, len(m.errorRates))
	for name, er := range m.errorRates {
		total := atomic.LoadInt64(&er.total)
		errs := atomic.LoadInt64(&er.errors)

		var rate float64
		if total > 0 {
			rate = float64(errs) / float64(total) * 100.0
		}

		rates[name] = ErrorRateMetric{Total: total, Errors: errs, ErrorRate: rate}
	}
	return rates
}

// GetHealthChecks returns all health checks
func (m *Metrics) GetHealthChecks() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	checks := make(map[string]bool, len(m.healthChecks))
	for name, health := range m.healthChecks {
		checks[name] = atomic.LoadInt64(health) > 0
	}
	return checks
}

// Healthy reports whether every registered component is healthy
func (m *Metrics) Healthy() bool {
	for _, ok := range m.GetHealthChecks() {
		if !ok {
			return false
		}
	}
	return true
}

// GetUptimeSeconds returns the service uptime in seconds
func (m *Metrics) GetUptimeSeconds() int64 {
	return int64(time.Since(m.startTime).Seconds())
}

// GetAllMetrics returns all metrics in a structured format
func (m *Metrics) GetAllMetrics() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": m.GetUptimeSeconds(),
		"counters":       m.GetCounters(),
		"gauges":         m.GetGauges(),
		"timers":         m.GetTimers(),
		"error_rates":    m.GetErrorRates(),
		"health_checks":  m.GetHealthChecks(),
	}
}
