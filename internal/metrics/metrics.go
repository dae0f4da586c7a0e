// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metrics adapts the host's counter-increment callback contract to
// Prometheus. The plugin itself only ever calls host.Metrics; a host that
// exposes a Prometheus registry wires this adapter in, a host with its own
// transport implements host.Metrics directly.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssoplugins/oidcauthz/internal/log"
)

// Counter names emitted by the authorization server. Replay and reuse
// detections are counted as security events; the rest
// track normal issuance volume.
const (
	CounterTokensIssued    = "oidc_tokens_issued_total"
	CounterCodeReplay      = "oidc_code_replay_total"
	CounterRefreshReuse    = "oidc_refresh_reuse_total"
	CounterDPoPReplay      = "oidc_dpop_replay_total"
	CounterAssertionReplay = "oidc_client_assertion_replay_total"
	CounterAuthFailures    = "oidc_client_auth_failures_total"
	CounterProtocolErrors  = "oidc_protocol_errors_total"
)

// PrometheusMetrics implements host.Metrics over a prometheus.Registerer,
// creating one CounterVec per counter name on first use.
type PrometheusMetrics struct {
	reg prometheus.Registerer

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
}

// NewPrometheus builds a PrometheusMetrics registering into reg; a nil reg
// uses the default registerer.
func NewPrometheus(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusMetrics{reg: reg, counters: make(map[string]*prometheus.CounterVec)}
}

// IncrementCounter adds delta to the named counter with the given labels.
// Label keys must be stable per counter name; Prometheus enforces this, and
// a mismatch is logged and dropped rather than panicking a request handler.
func (m *PrometheusMetrics) IncrementCounter(name string, delta float64, labels map[string]string) {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}

	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, keys)
		if err := m.reg.Register(vec); err != nil {
			if are, isDup := err.(prometheus.AlreadyRegisteredError); isDup {
				vec = are.ExistingCollector.(*prometheus.CounterVec)
			} else {
				m.mu.Unlock()
				log.Warnw("metrics: registering counter failed", "name", name, "error", err)
				return
			}
		}
		m.counters[name] = vec
	}
	m.mu.Unlock()

	c, err := vec.GetMetricWith(labels)
	if err != nil {
		log.Warnw("metrics: inconsistent labels for counter", "name", name, "error", err)
		return
	}
	c.Add(delta)
}
