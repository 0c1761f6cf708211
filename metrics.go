package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the booking counters. A nil *Metrics records nothing.
type Metrics struct {
	Attempts        *prometheus.CounterVec
	OCRResults      *prometheus.CounterVec
	StateEntered    *prometheus.CounterVec
	ChallengeRounds prometheus.Histogram
	RunDuration     *prometheus.HistogramVec
	Running         prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "railbot_attempts_total",
				Help: "Count of booking attempts by result",
			},
			[]string{"result"},
		),
		OCRResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "railbot_ocr_results_total",
				Help: "Count of OCR provider answers",
			},
			[]string{"provider", "valid"},
		),
		StateEntered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "railbot_state_entered_total",
				Help: "Count of booking state machine transitions",
			},
			[]string{"state"},
		),
		ChallengeRounds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "railbot_challenge_rounds",
				Help:    "Security code submissions needed per page load",
				Buckets: []float64{1, 2, 3, 5, 10, 20},
			},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "railbot_run_duration_seconds",
				Help:    "Time taken by a whole booking run",
				Buckets: []float64{10, 30, 60, 300, 900, 3600},
			},
			[]string{"outcome"},
		),
		Running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "railbot_running",
				Help: "1 while a booking run is active",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.Attempts,
			m.OCRResults,
			m.StateEntered,
			m.ChallengeRounds,
			m.RunDuration,
			m.Running,
		)
	}
	return m
}

func (m *Metrics) observeOCR(provider string, valid bool) {
	if m == nil {
		return
	}
	v := "false"
	if valid {
		v = "true"
	}
	m.OCRResults.WithLabelValues(provider, v).Inc()
}

func (m *Metrics) observeState(s BookingState) {
	if m == nil {
		return
	}
	m.StateEntered.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) observeAttempt(result string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(result).Inc()
}

func (m *Metrics) observeChallengeRounds(n int) {
	if m == nil {
		return
	}
	m.ChallengeRounds.Observe(float64(n))
}

func (m *Metrics) observeRun(outcome Outcome, took time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(string(outcome)).Observe(took.Seconds())
}

func (m *Metrics) setRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}
