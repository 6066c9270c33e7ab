package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "utility_billing_"

	ResultSuccess = "success"
	ResultError   = "error"

	ReminderPublished  = "published"
	ReminderSuppressed = "suppressed"
	ReminderSkipped    = "skipped"
	ReminderFailed     = "failed"
)

var (
	registerOnce sync.Once

	dispatchTotal   *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	remindersTotal  *prometheus.CounterVec
	scanTicksTotal  *prometheus.CounterVec
	scanTickLatency *prometheus.HistogramVec
	ingressTotal    *prometheus.CounterVec
)

// Init registers the worker metrics with reg. Calls after the first are no-ops;
// recording functions are no-ops until Init has run.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		dispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notification_dispatch_total",
				Help: "Total notification events dispatched by result",
			},
			[]string{"type", "result"},
		)
		dispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "notification_dispatch_latency_seconds",
				Help:    "Notification dispatch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		queueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "notification_queue_depth",
				Help: "Events waiting in the notification queue",
			},
		)
		remindersTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "due_date_reminders_total",
				Help: "Due date reminder candidates by outcome",
			},
			[]string{"offset", "outcome"},
		)
		scanTicksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "due_date_scan_ticks_total",
				Help: "Due date scanner ticks by result",
			},
			[]string{"result"},
		)
		scanTickLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "due_date_scan_tick_latency_seconds",
				Help:    "Due date scanner tick latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		ingressTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_ingress_total",
				Help: "Billing events received from the message broker by result",
			},
			[]string{"result"},
		)

		reg.MustRegister(
			dispatchTotal,
			dispatchLatency,
			queueDepth,
			remindersTotal,
			scanTicksTotal,
			scanTickLatency,
			ingressTotal,
		)
	})
}

// ObserveDispatch records one notification dispatch
func ObserveDispatch(eventType, result string, duration time.Duration) {
	if dispatchTotal == nil {
		return
	}
	dispatchTotal.WithLabelValues(eventType, result).Inc()
	dispatchLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// SetQueueDepth records the current notification queue length
func SetQueueDepth(n int) {
	if queueDepth == nil {
		return
	}
	queueDepth.Set(float64(n))
}

// IncReminder records the outcome for one reminder candidate
func IncReminder(offset, outcome string) {
	if remindersTotal == nil {
		return
	}
	remindersTotal.WithLabelValues(offset, outcome).Inc()
}

// ObserveScanTick records one scanner tick
func ObserveScanTick(result string, duration time.Duration) {
	if scanTicksTotal == nil {
		return
	}
	scanTicksTotal.WithLabelValues(result).Inc()
	scanTickLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// IncIngress records one broker message handled by the event processor
func IncIngress(result string) {
	if ingressTotal == nil {
		return
	}
	ingressTotal.WithLabelValues(result).Inc()
}
