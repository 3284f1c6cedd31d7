// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package metrics collects session build statistics on a private Prometheus registry.
//
// Batch runs have no scrape endpoint, so the registry is written out in the node exporter
// textfile format once the run has finished.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the metrics of one or more session builds. A nil *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	decoded     *prometheus.CounterVec
	truncated   *prometheus.CounterVec
	eventCount  *prometheus.GaugeVec
	fitOffset   *prometheus.GaugeVec
	fitScale    *prometheus.GaugeVec
	fitResidual *prometheus.GaugeVec
	fitDropped  *prometheus.GaugeVec
	syncFailed  *prometheus.CounterVec
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		decoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "auxrec", Subsystem: "decode", Name: "streams_total", Help: "Streams decoded by format."},
			[]string{"format"},
		),
		truncated: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "auxrec", Subsystem: "decode", Name: "dropped_frames_total", Help: "Frames dropped after a corrupt timestamp."},
			[]string{"stream"},
		),
		eventCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: "auxrec", Subsystem: "events", Name: "count", Help: "Events extracted per stream and kind."},
			[]string{"stream", "kind"},
		),
		fitOffset: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: "auxrec", Subsystem: "sync", Name: "offset_seconds", Help: "Fitted clock offset per stream."},
			[]string{"stream"},
		),
		fitScale: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: "auxrec", Subsystem: "sync", Name: "scale", Help: "Fitted clock scale per stream."},
			[]string{"stream"},
		),
		fitResidual: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: "auxrec", Subsystem: "sync", Name: "max_residual_seconds", Help: "Largest residual of the accepted fit."},
			[]string{"stream"},
		),
		fitDropped: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: "auxrec", Subsystem: "sync", Name: "dropped_pairs", Help: "Event pairs discarded as spurious."},
			[]string{"stream"},
		),
		syncFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "auxrec", Subsystem: "sync", Name: "failures_total", Help: "Streams left unaligned."},
			[]string{"stream"},
		),
	}

	c.registry.MustRegister(
		c.decoded, c.truncated, c.eventCount,
		c.fitOffset, c.fitScale, c.fitResidual, c.fitDropped, c.syncFailed,
	)
	return c
}

// Registry exposes the underlying registry, for tests and custom exporters.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Decoded records a decoded stream.
func (c *Collector) Decoded(format string) {
	if c == nil {
		return
	}
	c.decoded.WithLabelValues(format).Inc()
}

// Truncated records frames dropped from the tail of a stream.
func (c *Collector) Truncated(stream string, dropped int) {
	if c == nil {
		return
	}
	c.truncated.WithLabelValues(stream).Add(float64(dropped))
}

// Events records how many events of a kind a stream produced.
func (c *Collector) Events(stream, kind string, n int) {
	if c == nil {
		return
	}
	c.eventCount.WithLabelValues(stream, kind).Set(float64(n))
}

// Aligned records an accepted fit.
func (c *Collector) Aligned(stream string, offset, scale, maxResidual float64, dropped int) {
	if c == nil {
		return
	}
	c.fitOffset.WithLabelValues(stream).Set(offset)
	c.fitScale.WithLabelValues(stream).Set(scale)
	c.fitResidual.WithLabelValues(stream).Set(maxResidual)
	c.fitDropped.WithLabelValues(stream).Set(float64(dropped))
}

// Unaligned records a stream whose fit was rejected.
func (c *Collector) Unaligned(stream string) {
	if c == nil {
		return
	}
	c.syncFailed.WithLabelValues(stream).Inc()
}

// WriteTextfile writes the registry in the node exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("error writing metrics to %s: %w", path, err)
	}
	return nil
}
