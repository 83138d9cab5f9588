// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package statusapi exposes a read-only Gin HTTP surface over a running
// scheduler's graph and pipeline lock, plus a websocket event stream of
// job-state transitions, so an operator (or pipelinectl watch) can
// observe a run without touching the Badger shelves directly.
package statusapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/dagrunner/pipeliner/pipelinelock"
	"github.com/dagrunner/pipeliner/telemetry"
)

// GraphView is the subset of *graph.Graph the status API reads. Kept
// narrow so this package never needs to import jobs/nodemgr to satisfy
// the graph package's own dependency cycle.
type GraphView interface {
	CompletedIDs() []string
	PendingIDs() []string
	RunningIDs() []string
	ReadyIDs() []string
	Pending() int
}

// Server serves the read-only status API and the live event stream.
type Server struct {
	graph   GraphView
	lockDir string
	hub     *hub
	router  *gin.Engine
}

// New constructs a Server over graph and the directory the run's
// pipeline lock lives in. Call Router to obtain the configured engine,
// or Run to serve directly.
func New(g GraphView, lockDir string) *Server {
	s := &Server{
		graph:   g,
		lockDir: lockDir,
		hub:     newHub(),
	}
	s.initRouter()
	return s
}

// initRouter creates the Gin engine, applies the otel middleware, and
// registers every route.
func (s *Server) initRouter() {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("pipelinectl-statusapi"))

	s.router.GET("/jobs", s.handleJobs)
	s.router.GET("/jobs/ready", s.handleJobsReady)
	s.router.GET("/jobs/running", s.handleJobsRunning)
	s.router.GET("/lock", s.handleLock)
	s.router.GET("/events", s.handleEvents)
	s.router.GET("/metrics", gin.WrapH(telemetry.Handler()))
}

// Router returns the configured *gin.Engine, e.g. for httptest.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves the status API on addr, blocking until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Broadcast fans event out to every connected websocket client.
// pipelinectl's scheduler Notifier adapter calls this for each job-state
// transition the scheduler reports, so pipelinectl watch reflects
// transitions live.
func (s *Server) Broadcast(ev Event) {
	s.hub.broadcast(ev)
}

type jobsResponse struct {
	Completed []string `json:"completed"`
	Pending   []string `json:"pending"`
	Running   []string `json:"running"`
	PendingN  int      `json:"pending_count"`
}

func (s *Server) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, jobsResponse{
		Completed: s.graph.CompletedIDs(),
		Pending:   s.graph.PendingIDs(),
		Running:   s.graph.RunningIDs(),
		PendingN:  s.graph.Pending(),
	})
}

func (s *Server) handleJobsReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ready": s.graph.ReadyIDs()})
}

func (s *Server) handleJobsRunning(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": s.graph.RunningIDs()})
}

type lockResponse struct {
	Held bool                   `json:"held"`
	Info *pipelinelock.LockInfo `json:"info,omitempty"`
}

func (s *Server) handleLock(c *gin.Context) {
	info, held, err := pipelinelock.Status(s.lockDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, lockResponse{Held: held, Info: info})
}
