// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package correlator aggregates signals across runs: it deduplicates fault
// observations into fleet hazard broadcasts and keeps procurement requests
// idempotent under concurrent runs.
package correlator

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianFleet/services/fleet/observability"
	"github.com/AleutianAI/AleutianFleet/services/fleet/ueba"
)

// Config tunes hazard correlation. Zero fields take the defaults.
type Config struct {
	// Window is how far apart two observations may be and still correlate.
	// Default 5m.
	Window time.Duration

	// Threshold is the distinct-run count that triggers a broadcast.
	// Default 2.
	Threshold int

	// Suppression silences a group after its broadcast. Default 30m.
	Suppression time.Duration

	// MaxGroupRuns bounds the per-group observation set. Default 256.
	MaxGroupRuns int
}

func DefaultConfig() Config {
	return Config{
		Window:       5 * time.Minute,
		Threshold:    2,
		Suppression:  30 * time.Minute,
		MaxGroupRuns: 256,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.Suppression <= 0 {
		c.Suppression = d.Suppression
	}
	if c.MaxGroupRuns <= 0 {
		c.MaxGroupRuns = d.MaxGroupRuns
	}
}

// FleetCorrelator implements hazard dedup and idempotent procurement.
//
// Thread Safety: safe for concurrent use. Hazard groups lock independently;
// observations for unrelated (signature, geography) pairs never contend.
type FleetCorrelator struct {
	cfg     Config
	hazards HazardLog
	orders  ProcurementStore
	clock   ueba.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	groups map[string]*hazardGroup
}

type hazardGroup struct {
	mu            sync.Mutex
	runs          map[string]time.Time
	firstSeen     time.Time
	lastBroadcast time.Time
}

// New wires the correlator. hazards and orders may be nil, in which case
// in-memory logs are used.
func New(cfg Config, hazards HazardLog, orders ProcurementStore, clock ueba.Clock,
	logger *slog.Logger, metrics *observability.Metrics) *FleetCorrelator {

	cfg.applyDefaults()
	if hazards == nil {
		hazards = NewMemHazardLog()
	}
	if orders == nil {
		orders = NewMemProcurementStore()
	}
	if clock == nil {
		clock = ueba.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FleetCorrelator{
		cfg:     cfg,
		hazards: hazards,
		orders:  orders,
		clock:   clock,
		logger:  logger.With("component", "correlator"),
		metrics: metrics,
		groups:  make(map[string]*hazardGroup),
	}
}

func (c *FleetCorrelator) group(key string) *hazardGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[key]
	if !ok {
		g = &hazardGroup{runs: make(map[string]time.Time)}
		c.groups[key] = g
	}
	return g
}

// Observe records one run's fault observation for a (signature, geography)
// group.
//
// # Description
//
// When the distinct-run count inside the window reaches the threshold the
// group broadcasts exactly one hazard, then suppresses further broadcasts
// for the suppression period. Re-observations from the same run never count
// twice. The per-group set is bounded; overflow drops the observation and
// logs, it never blocks a run.
func (c *FleetCorrelator) Observe(runID, faultSignature, geography string) {
	key := faultSignature + "|" + geography
	g := c.group(key)

	g.mu.Lock()
	defer g.mu.Unlock()

	now := c.clock.Now()

	if !g.lastBroadcast.IsZero() && now.Sub(g.lastBroadcast) < c.cfg.Suppression {
		return
	}

	// Drop observations that fell out of the window.
	cutoff := now.Add(-c.cfg.Window)
	for id, at := range g.runs {
		if at.Before(cutoff) {
			delete(g.runs, id)
		}
	}

	if _, seen := g.runs[runID]; !seen {
		if len(g.runs) >= c.cfg.MaxGroupRuns {
			c.logger.Warn("hazard group at capacity, observation dropped",
				"signature", faultSignature, "geography", geography, "run_id", runID)
			return
		}
		if len(g.runs) == 0 {
			g.firstSeen = now
		}
		g.runs[runID] = now
	}

	if len(g.runs) < c.cfg.Threshold {
		return
	}

	runIDs := make([]string, 0, len(g.runs))
	for id := range g.runs {
		runIDs = append(runIDs, id)
	}
	hazard := Hazard{
		Signature:   faultSignature,
		Geography:   geography,
		RunIDs:      runIDs,
		RunCount:    len(runIDs),
		FirstSeen:   g.firstSeen,
		BroadcastAt: now,
	}
	g.lastBroadcast = now
	g.runs = make(map[string]time.Time)

	c.hazards.Append(hazard)
	c.metrics.RecordHazardBroadcast()
	c.logger.Warn("fleet hazard broadcast",
		"signature", faultSignature, "geography", geography, "runs", hazard.RunCount)
}

// Hazards lists broadcasts newest-first.
func (c *FleetCorrelator) Hazards(limit int) []Hazard {
	return c.hazards.List(limit)
}

// ReservationKey derives the deterministic idempotency key for a
// procurement request.
func ReservationKey(component, forecastWindow string) string {
	sum := sha256.Sum256([]byte(component + "|" + forecastWindow))
	return "res-" + hex.EncodeToString(sum[:8])
}

// RequestProcurement reserves parts for a predicted failure. Repeated
// requests for the same (component, forecastWindow) deduplicate onto the
// existing reservation; created reports whether this call made it.
func (c *FleetCorrelator) RequestProcurement(component, forecastWindow string, quantity int) (string, bool) {
	if quantity <= 0 {
		quantity = 1
	}
	key := ReservationKey(component, forecastWindow)
	order := ProcurementOrder{
		ReservationKey: key,
		Component:      component,
		ForecastWindow: forecastWindow,
		Quantity:       quantity,
		CreatedAt:      c.clock.Now(),
	}
	created, err := c.orders.PutIfAbsent(order)
	if err != nil {
		c.logger.Error("procurement store failed", "reservation_key", key, "error", err)
		return key, false
	}
	if !created {
		c.metrics.RecordProcurementDedup()
		c.logger.Info("procurement request deduplicated",
			"reservation_key", key, "component", component)
	} else {
		c.logger.Info("procurement reservation created",
			"reservation_key", key, "component", component,
			"forecast_window", forecastWindow, "quantity", quantity)
	}
	return key, created
}

// Orders lists reservations newest-first.
func (c *FleetCorrelator) Orders(limit int) ([]ProcurementOrder, error) {
	return c.orders.List(limit)
}
