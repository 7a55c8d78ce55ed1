// Package prometheus provides Prometheus metrics for the call loop.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ringlet"

var (
	// callsActive is a gauge of calls currently in their listening loop.
	callsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently being handled",
		},
	)

	// callsTotal is a counter of handled calls by terminal status.
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of handled calls by terminal status",
		},
		[]string{"status"}, // completed, escalated, missed, transferred
	)

	// callDuration is a histogram of call duration in seconds.
	callDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Histogram of call duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	// turnsTotal is a counter of recorded transcript turns by speaker.
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of recorded transcript turns",
		},
		[]string{"speaker"}, // customer, ai, human
	)

	// bargeInsTotal is a counter of synthesis flushes caused by the
	// customer speaking over the agent.
	bargeInsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Total number of barge-in synthesis interruptions",
		},
	)

	// escalationsTotal is a counter of escalated calls.
	escalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Total number of escalated calls",
		},
	)

	// recognitionEventsTotal is a counter of recognition events by type.
	recognitionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_events_total",
			Help:      "Total number of speech recognition events",
		},
		[]string{"type"}, // voice_start, voice_end, transcript
	)

	// generationDuration is a histogram of response generation duration.
	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Duration of response generation calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"model", "status"}, // status: success, error
	)

	// notificationsTotal is a counter of notification deliveries by channel.
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of notification deliveries",
		},
		[]string{"channel", "status"}, // channel: push, sms, email, webhook, realtime
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		callsActive,
		callsTotal,
		callDuration,
		turnsTotal,
		bargeInsTotal,
		escalationsTotal,
		recognitionEventsTotal,
		generationDuration,
		notificationsTotal,
	}
)

// RecordCallStart increments the active call gauge.
func RecordCallStart() {
	callsActive.Inc()
}

// RecordCallEnd decrements the active gauge and records the terminal status
// and duration.
func RecordCallEnd(status string, durationSeconds float64) {
	callsActive.Dec()
	callsTotal.WithLabelValues(status).Inc()
	callDuration.Observe(durationSeconds)
}

// RecordTurn counts one recorded transcript turn.
func RecordTurn(speaker string) {
	turnsTotal.WithLabelValues(speaker).Inc()
}

// RecordBargeIn counts one barge-in interruption.
func RecordBargeIn() {
	bargeInsTotal.Inc()
}

// RecordEscalation counts one escalated call.
func RecordEscalation() {
	escalationsTotal.Inc()
}

// RecordRecognitionEvent counts one recognition event by type.
func RecordRecognitionEvent(eventType string) {
	recognitionEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordGeneration records one response-generation call.
func RecordGeneration(model, status string, durationSeconds float64) {
	generationDuration.WithLabelValues(model, status).Observe(durationSeconds)
}

// RecordNotification counts one notification delivery attempt.
func RecordNotification(channel, status string) {
	notificationsTotal.WithLabelValues(channel, status).Inc()
}
