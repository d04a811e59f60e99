// Copyright 2024-present the queuekit authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package server

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jevido/queuekit"
)

const collectTimeout = 5 * time.Second

var (
	sizeDesc = prometheus.NewDesc(
		"queuekit_queue_size",
		"Total number of envelopes stored in the queue.",
		[]string{"queue"}, nil,
	)
	availableDesc = prometheus.NewDesc(
		"queuekit_queue_available",
		"Number of envelopes currently eligible for pop.",
		[]string{"queue"}, nil,
	)
	delayedDesc = prometheus.NewDesc(
		"queuekit_queue_delayed",
		"Number of envelopes whose availability lies in the future.",
		[]string{"queue"}, nil,
	)
)

// statsCollector exposes per-queue statistics as Prometheus gauges.
// Stats are read on scrape, not cached.
type statsCollector struct {
	m      *queuekit.Manager
	queues []string
}

func newStatsCollector(m *queuekit.Manager, queues []string) *statsCollector {
	return &statsCollector{m: m, queues: queues}
}

// Describe implements the prometheus.Collector interface.
func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sizeDesc
	ch <- availableDesc
	ch <- delayedDesc
}

// Collect implements the prometheus.Collector interface.
func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	for _, queue := range c.queues {
		stats, err := c.m.Stats(ctx, queue)
		if err != nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(sizeDesc, prometheus.GaugeValue, float64(stats.Size), queue)
		ch <- prometheus.MustNewConstMetric(availableDesc, prometheus.GaugeValue, float64(stats.Available), queue)
		ch <- prometheus.MustNewConstMetric(delayedDesc, prometheus.GaugeValue, float64(stats.Delayed), queue)
	}
}
