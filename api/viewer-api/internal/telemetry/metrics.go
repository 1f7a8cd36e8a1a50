// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rapidaai/whep-viewer/api/viewer-api/internal/connection"
)

var connectionStates = []connection.State{
	connection.StateIdle,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateReconnecting,
}

// Metrics holds the viewer's Prometheus collectors. It observes both the
// connection manager and the replay buffer.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	reconnectsTotal   prometheus.Counter
	handshakesTotal   *prometheus.CounterVec
	handshakeSeconds  prometheus.Histogram
	connectionState   *prometheus.GaugeVec
	recording         prometheus.Gauge
	segmentsRetained  prometheus.Gauge
	replaysTotal      prometheus.Counter
	replayWindowTotal prometheus.Counter
}

// New creates and registers the viewer metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewer_requests_total",
			Help: "Total number of control API requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewer_errors_total",
			Help: "Total number of control API responses with error status (4xx or 5xx)",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewer_reconnects_total",
			Help: "Total number of failure-triggered reconnects",
		}),
		handshakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "viewer_handshakes_total",
			Help: "Signaling handshakes by outcome",
		}, []string{"outcome"}),
		handshakeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "viewer_handshake_duration_seconds",
			Help:    "Time from offer creation to answer applied",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "viewer_connection_state",
			Help: "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
		recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "viewer_replay_recording",
			Help: "1 while the replay buffer is recording",
		}),
		segmentsRetained: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "viewer_replay_segments",
			Help: "Segments currently retained by the replay buffer",
		}),
		replaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewer_replays_total",
			Help: "Total number of replays served",
		}),
		replayWindowTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viewer_replay_window_seconds_total",
			Help: "Sum of replay windows served, in seconds",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.reconnectsTotal,
		m.handshakesTotal,
		m.handshakeSeconds,
		m.connectionState,
		m.recording,
		m.segmentsRetained,
		m.replaysTotal,
		m.replayWindowTotal,
	)
	m.StateChanged(connection.StateIdle)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() { m.requestsTotal.Inc() }

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() { m.errorsTotal.Inc() }

// connection.Observer

func (m *Metrics) StateChanged(state connection.State) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s.String()).Set(v)
	}
}

func (m *Metrics) ReconnectScheduled(int) { m.reconnectsTotal.Inc() }

func (m *Metrics) HandshakeFinished(took time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.handshakesTotal.WithLabelValues(outcome).Inc()
	m.handshakeSeconds.Observe(took.Seconds())
}

// replay.Observer

func (m *Metrics) RecordingChanged(recording bool) {
	if recording {
		m.recording.Set(1)
		return
	}
	m.recording.Set(0)
}

func (m *Metrics) SegmentsRetained(n int) { m.segmentsRetained.Set(float64(n)) }

func (m *Metrics) ReplayServed(window time.Duration) {
	m.replaysTotal.Inc()
	m.replayWindowTotal.Add(window.Seconds())
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
