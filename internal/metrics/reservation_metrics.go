package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReservationMetrics содержит метрики попыток резервирования корзин.
type ReservationMetrics struct {
	// Счётчики исходов
	started   prometheus.Counter
	committed prometheus.Counter
	aborted   *prometheus.CounterVec

	// Компенсации
	compensatedLines     prometheus.Counter
	compensationFailures prometheus.Counter

	// Гистограммы времени выполнения
	duration     prometheus.Histogram
	stepDuration *prometheus.HistogramVec

	outboxEvents prometheus.Counter

	// Gauge для активных резервирований
	active prometheus.Gauge
}

// NewReservationMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewReservationMetrics() *ReservationMetrics {
	return NewReservationMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewReservationMetricsWithRegisterer регистрирует метрики в указанном registerer
// (изолированный registry удобен в тестах).
func NewReservationMetricsWithRegisterer(registerer prometheus.Registerer) *ReservationMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReservationMetrics{
		started: registerCounter(registerer, prometheus.CounterOpts{
			Name: "figures_reservations_started_total",
			Help: "Total number of cart reservations started",
		}),
		committed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "figures_reservations_committed_total",
			Help: "Total number of cart reservations committed",
		}),
		aborted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "figures_reservations_aborted_total",
			Help: "Total number of cart reservations aborted grouped by error kind",
		}, []string{"reason"}),
		compensatedLines: registerCounter(registerer, prometheus.CounterOpts{
			Name: "figures_reservation_compensated_lines_total",
			Help: "Total number of cart lines released during compensation",
		}),
		compensationFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "figures_reservation_compensation_failures_total",
			Help: "Total number of cart lines whose release failed during compensation",
		}),
		duration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "figures_reservation_duration_seconds",
			Help:    "Duration of cart reservations in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "figures_reservation_step_duration_seconds",
			Help:    "Duration of individual reservation steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "figures_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		active: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "figures_active_reservations",
			Help: "Number of currently active cart reservations",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordStarted увеличивает счётчик запущенных резервирований и gauge активных.
func (m *ReservationMetrics) RecordStarted() {
	m.started.Inc()
	m.active.Inc()
}

// RecordCommitted фиксирует успешное завершение.
func (m *ReservationMetrics) RecordCommitted() {
	m.committed.Inc()
}

// RecordAborted фиксирует откат с указанием класса ошибки.
func (m *ReservationMetrics) RecordAborted(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.aborted.WithLabelValues(reason).Inc()
}

// RecordFinished уменьшает количество активных резервирований и пишет длительность.
func (m *ReservationMetrics) RecordFinished(duration time.Duration) {
	m.active.Dec()
	m.duration.Observe(duration.Seconds())
}

// RecordCompensatedLine считает строку корзины, возвращённую на склад.
func (m *ReservationMetrics) RecordCompensatedLine() {
	m.compensatedLines.Inc()
}

// RecordCompensationFailure считает строку, которую не удалось вернуть.
func (m *ReservationMetrics) RecordCompensationFailure() {
	m.compensationFailures.Inc()
}

// RecordStepDuration записывает время выполнения шага.
func (m *ReservationMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *ReservationMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
