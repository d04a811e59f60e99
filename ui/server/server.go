// Copyright 2024-present the queuekit authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

// Package server implements a small monitoring server for a queuekit
// Manager: current per-queue statistics as JSON under /stats, a
// websocket feed of the same statistics under /ws, and Prometheus
// gauges under /metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jevido/queuekit"
)

const watchInterval = 1 * time.Second

// Server is a simple web server with a WebSocket backend.
type Server struct {
	m      *queuekit.Manager
	queues []string
}

// New initializes a new Server monitoring the given queues.
func New(m *queuekit.Manager, queues []string) *Server {
	return &Server{
		m:      m,
		queues: queues,
	}
}

// Serve initializes the mux and starts the web server at the given
// address. It blocks until the listener fails.
func (srv *Server) Serve(addr string) error {
	hub := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.run(ctx)
	go srv.watch(ctx, hub)

	registry := prometheus.NewRegistry()
	registry.MustRegister(newStatsCollector(srv.m, srv.queues))

	r := http.NewServeMux()
	r.Handle("/ws", wsserver{hub: hub})
	r.HandleFunc("/stats", srv.handleStats)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, r)
}

// State is the snapshot pushed to websocket clients.
type State struct {
	Type   string                 `json:"type"`
	Queues []*queuekit.QueueStats `json:"queues"`
}

// collect gathers the statistics of every monitored queue.
func (srv *Server) collect(ctx context.Context) ([]*queuekit.QueueStats, error) {
	stats := make([]*queuekit.QueueStats, 0, len(srv.queues))
	for _, queue := range srv.queues {
		s, err := srv.m.Stats(ctx, queue)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

func (srv *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := srv.collect(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// watch periodically collects statistics and broadcasts them to the
// connected websocket clients.
func (srv *Server) watch(ctx context.Context, hub *hub) {
	t := time.NewTicker(watchInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			stats, err := srv.collect(ctx)
			if err != nil {
				continue
			}
			payload, err := json.Marshal(&State{Type: "SET_STATE", Queues: stats})
			if err != nil {
				continue
			}
			hub.broadcast <- payload
		case <-ctx.Done():
			return
		}
	}
}
