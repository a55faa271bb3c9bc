// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package metrics exposes the daemon's ambient introspection counters
// over github.com/prometheus/client_golang, the way tsweb wires
// expvar/Prometheus metrics for tailscaled's own daemons — observing
// the running pipeline, not a Non-goal remote-query feature.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every counter the dispatcher and its subsystems
// report into. Register it once against a prometheus.Registerer.
type Collectors struct {
	EntriesDispatched prometheus.Counter
	EntriesFailed     prometheus.Counter
	FilterEvaluations *prometheus.CounterVec
	BansIssued        *prometheus.CounterVec
	DigestsMailed     prometheus.Counter
}

// New builds an unregistered Collectors set.
func New() *Collectors {
	return &Collectors{
		EntriesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pyrused",
			Name:      "entries_dispatched_total",
			Help:      "Journal entries fully traversed through the compiled step graph.",
		}),
		EntriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pyrused",
			Name:      "entries_failed_total",
			Help:      "Journal entries whose traversal ended in a recovered panic.",
		}),
		FilterEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pyrused",
			Name:      "filter_evaluations_total",
			Help:      "Filter predicate evaluations, by filter name and result.",
		}, []string{"filter", "result"}),
		BansIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pyrused",
			Name:      "bans_issued_total",
			Help:      "Bans issued through a firewall driver, by set name.",
		}, []string{"set"}),
		DigestsMailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pyrused",
			Name:      "digests_mailed_total",
			Help:      "Daily report digests submitted to the mail agent.",
		}),
	}
}

// Register adds every collector to r.
func (c *Collectors) Register(r prometheus.Registerer) error {
	for _, coll := range []prometheus.Collector{
		c.EntriesDispatched, c.EntriesFailed, c.FilterEvaluations, c.BansIssued, c.DigestsMailed,
	} {
		if err := r.Register(coll); err != nil {
			return err
		}
	}
	return nil
}

// EntryDispatched implements dispatch.Metrics.
func (c *Collectors) EntryDispatched() { c.EntriesDispatched.Inc() }

// EntryFailed implements dispatch.Metrics.
func (c *Collectors) EntryFailed() { c.EntriesFailed.Inc() }

// BanIssued implements ban.Metrics.
func (c *Collectors) BanIssued(set string) { c.BansIssued.WithLabelValues(set).Inc() }

// DigestMailed implements report.Metrics.
func (c *Collectors) DigestMailed() { c.DigestsMailed.Inc() }

// FilterEvaluated implements filters' ambient evaluation counter,
// recording each predicate's outcome by name and result.
func (c *Collectors) FilterEvaluated(filter string, matched bool) {
	result := "false"
	if matched {
		result = "true"
	}
	c.FilterEvaluations.WithLabelValues(filter, result).Inc()
}
