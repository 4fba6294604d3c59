// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package server

import (
	"net/http"

	log "github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wrensuess/forcepho/internal/catalog"
	"github.com/wrensuess/forcepho/internal/dispatch"
)

// Config holds the settings for the operational HTTP surface.
type Config struct {
	// Addr is the address the status and metrics server listens on.
	Addr string

	// JobName shows up as the title of the status page. Useful when several
	// dispatchers run on one box.
	JobName string

	// RejectReqThreshold caps concurrent status requests. Each render takes
	// the coordinator lock briefly; past the cap we answer 503 instead of
	// piling pollers onto the lock.
	RejectReqThreshold int
}

// DefaultConfig is a reasonable starting point for the operational server.
var DefaultConfig = Config{
	Addr:               ":4080",
	RejectReqThreshold: 100,
}

// Server fronts a Coordinator with per-op metrics and serves the operational
// endpoints: the status page, prometheus metrics, and a quit hook. Workers
// call the instrumented methods here instead of the Coordinator directly, so
// the status page's op table covers everything they do.
type Server struct {
	co  *dispatch.Coordinator
	cfg Config

	// Bounds concurrent status renders.
	pendingSem Semaphore
}

// Per-op counters and latency summaries for the operations the server
// fronts. promauto registers against the default prometheus registry, so
// this lives at package level and is created exactly once per process.
var opm = NewOpMetric("fpho_server_ops", "op")

// NewServer creates a Server around an existing Coordinator.
func NewServer(co *dispatch.Coordinator, cfg Config) *Server {
	if cfg.RejectReqThreshold <= 0 {
		cfg.RejectReqThreshold = DefaultConfig.RejectReqThreshold
	}
	return &Server{co: co, cfg: cfg, pendingSem: NewSemaphore(cfg.RejectReqThreshold)}
}

// Start registers the HTTP endpoints and serves them. This blocks forever.
func (s *Server) Start() error {
	// Set up status page.
	http.HandleFunc("/", s.statusHandler)

	// Prometheus scrape endpoint.
	http.Handle("/metrics", promhttp.Handler())

	// Endpoint for shutting down the dispatcher.
	http.HandleFunc("/_quit", QuitHandler)

	log.Infof("listening on address %s", s.cfg.Addr)
	err := http.ListenAndServe(s.cfg.Addr, nil) // this blocks forever
	log.Fatalf("http listener returned error: %v", err)
	return err
}

// Ingest validates and adopts a source table.
func (s *Server) Ingest(tbl *catalog.Table, opts catalog.IngestOptions) (err error) {
	op := opm.Start("Ingest")
	defer op.EndWithError(&err)
	err = s.co.Ingest(tbl, opts)
	return
}

// Checkout claims a unit of work around the given seed, or around a
// weighted-random seed when the argument is negative.
func (s *Server) Checkout(seed int) (co *dispatch.Checkout, err error) {
	op := opm.Start("Checkout")
	defer op.EndWithError(&err)
	co, err = s.co.Checkout(seed)
	return
}

// Checkin merges a unit of work back into the catalog.
func (s *Server) Checkin(req *dispatch.CheckinReq) (err error) {
	op := opm.Start("Checkin")
	defer op.EndWithError(&err)
	err = s.co.Checkin(req)
	return
}

// Persist writes the dispatcher state to the given path, or to the
// coordinator's configured snapshot path when empty.
func (s *Server) Persist(path string) (err error) {
	op := opm.Start("Persist")
	defer op.EndWithError(&err)
	err = s.co.Persist(path)
	return
}

// Restore loads a persisted snapshot into the coordinator.
func (s *Server) Restore(path string) (err error) {
	op := opm.Start("Restore")
	defer op.EndWithError(&err)
	err = s.co.Restore(path)
	return
}

// Coordinator exposes the wrapped coordinator for calls that need no
// instrumentation, like Stats or Done polling.
func (s *Server) Coordinator() *dispatch.Coordinator {
	return s.co
}

func (s *Server) opStats() map[string]string {
	return opm.Strings(
		"Ingest",
		"Checkout",
		"Checkin",
		"Persist",
		"Restore",
	)
}
