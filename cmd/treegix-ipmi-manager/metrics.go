// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "treegix_ipmi_manager"

// managerMetrics holds the manager's Prometheus collectors on a
// private registry.
type managerMetrics struct {
	registry *prometheus.Registry

	scheduled  prometheus.Counter
	polled     *prometheus.CounterVec
	dropped    prometheus.Counter
	scripts    prometheus.Counter
	relayed    *prometheus.CounterVec
	evicted    prometheus.Counter
	registered prometheus.Gauge

	hosts       prometheus.Gauge
	queueDepth  *prometheus.GaugeVec
	pollerHosts *prometheus.GaugeVec
}

func newManagerMetrics() *managerMetrics {
	m := &managerMetrics{
		registry: prometheus.NewRegistry(),
		scheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scheduled_requests_total",
			Help:      "Items taken from the schedule.",
		}),
		polled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "value_results_total",
			Help:      "Value results received from pollers, by error code.",
		}, []string{"code"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "unreachable_drops_total",
			Help:      "Value requests dropped because their host was cooling down.",
		}),
		scripts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "script_requests_total",
			Help:      "Commands submitted by script clients.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "script_results_total",
			Help:      "Command results by relay outcome.",
		}, []string{"outcome"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "evicted_hosts_total",
			Help:      "Hosts forgotten after being idle for the TTL.",
		}),
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "registered_pollers",
			Help:      "Pool slots bound to a poller process.",
		}),
		hosts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "cached_hosts",
			Help:      "Hosts currently assigned to a poller.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "poller_queue_depth",
			Help:      "Requests waiting for each poller.",
		}, []string{"poller"}),
		pollerHosts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "poller_hosts",
			Help:      "Hosts assigned to each poller.",
		}, []string{"poller"}),
	}
	m.registry.MustRegister(
		m.scheduled, m.polled, m.dropped, m.scripts, m.relayed, m.evicted,
		m.registered, m.hosts, m.queueDepth, m.pollerHosts,
	)
	return m
}

// observe refreshes the gauges from the manager's state.
func (m *managerMetrics) observe(manager *Manager) {
	m.hosts.Set(float64(len(manager.hosts)))
	for _, p := range manager.pollers {
		label := strconv.Itoa(p.index)
		m.queueDepth.WithLabelValues(label).Set(float64(p.queue.Len()))
		m.pollerHosts.WithLabelValues(label).Set(float64(p.hosts))
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *managerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
