// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ueba

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianFleet/services/fleet/observability"
	"github.com/AleutianAI/AleutianFleet/services/fleet/registry"
)

// Config holds the guard's anomaly thresholds.
//
// The defaults are a reasonable baseline, not hard-coded law; deployments
// tune them via configuration.
type Config struct {
	// Window is the trailing time window for spike detection.
	Window time.Duration

	// SpikeFactor is the multiple of the rolling baseline that trips a
	// medium-severity rate alert.
	SpikeFactor float64

	// MinBaseline floors the rolling baseline so cold-start participants
	// with near-zero history are not flagged on their first burst.
	MinBaseline float64

	// BaselineAlpha is the EWMA weight applied to each completed window's
	// observed count when rolling the baseline forward.
	BaselineAlpha float64
}

// DefaultConfig returns the production thresholds: 60s window, 3x spike
// factor.
func DefaultConfig() Config {
	return Config{
		Window:        60 * time.Second,
		SpikeFactor:   3.0,
		MinBaseline:   5,
		BaselineAlpha: 0.3,
	}
}

// Request is one attempted action presented for authorization.
type Request struct {
	Participant   string
	ActionType    string
	ResourceClass string
	RunID         string

	// Params are the call parameters. Only their fingerprint reaches the
	// action log.
	Params any
}

// participantState is the unit of concurrency for the guard: quarantine
// flag, trailing window and rolling baseline for one participant, all
// mutated under one mutex so that authorize-and-record is atomic per
// participant.
type participantState struct {
	mu sync.Mutex

	quarantined bool
	recent      []time.Time
	baseline    float64
	windowStart time.Time
	windowCount int
}

// Guard is the inline interceptor with veto power over workflow execution.
//
// # Description
//
// Every participant action is presented to Authorize before it executes.
// The guard checks quarantine state, the capability allow-list, and the
// rate-spike rule, in that order, and appends an ActionRecord for every
// authorized action. A capability violation quarantines the participant on
// the same call.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrency is scoped to the participant: two
// calls from the same participant serialize on its state mutex, so a race
// cannot authorize both once one has tripped quarantine. Calls from
// different participants do not contend.
type Guard struct {
	registry *registry.AgentRegistry
	actions  ActionLog
	alerts   AlertLog
	cfg      Config
	clock    Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu           sync.Mutex
	participants map[string]*participantState
}

// NewGuard wires the guard to its registry and stores.
//
// # Inputs
//
//	reg - The capability registry. Must not be nil.
//	actions - Action log. Must not be nil.
//	alerts - Alert log. Must not be nil.
//	cfg - Thresholds; zero-value fields fall back to DefaultConfig values.
//	clock - Time source. If nil, uses the system clock.
//	logger - If nil, uses slog.Default().
func NewGuard(reg *registry.AgentRegistry, actions ActionLog, alerts AlertLog,
	cfg Config, clock Clock, logger *slog.Logger) (*Guard, error) {

	if reg == nil || actions == nil || alerts == nil {
		return nil, fmt.Errorf("ueba: registry and stores are required")
	}
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.SpikeFactor <= 0 {
		cfg.SpikeFactor = def.SpikeFactor
	}
	if cfg.MinBaseline <= 0 {
		cfg.MinBaseline = def.MinBaseline
	}
	if cfg.BaselineAlpha <= 0 || cfg.BaselineAlpha > 1 {
		cfg.BaselineAlpha = def.BaselineAlpha
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		registry:     reg,
		actions:      actions,
		alerts:       alerts,
		cfg:          cfg,
		clock:        clock,
		logger:       logger,
		metrics:      observability.DefaultMetrics,
		participants: make(map[string]*participantState),
	}, nil
}

// state returns the participant's state, creating it on first sight.
func (g *Guard) state(participant string) *participantState {
	g.mu.Lock()
	defer g.mu.Unlock()
	ps, ok := g.participants[participant]
	if !ok {
		ps = &participantState{baseline: g.cfg.MinBaseline}
		g.participants[participant] = ps
	}
	return ps
}

// peek returns the participant's state without creating one. Read-only
// queries must not grow the participant map: Release and State are reachable
// from the HTTP surface with caller-chosen names.
func (g *Guard) peek(participant string) *participantState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.participants[participant]
}

// Authorize evaluates one attempted action and records it if allowed.
//
// # Description
//
// Evaluation order:
//  1. Quarantined participants are denied immediately, with no record and
//     no rule evaluation.
//  2. An (action, resource) pair outside the declared capability set emits
//     a high-severity alert, quarantines the participant, and denies.
//  3. A trailing-window call count above baseline x spike-factor emits a
//     medium-severity alert; the action is allowed but flagged.
//  4. Otherwise the action is allowed clean.
//
// Every allowed action, flagged or clean, is appended to the action log
// inside the same per-participant critical section as the checks.
func (g *Guard) Authorize(req Request) Decision {
	ps := g.state(req.Participant)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := g.clock.Now()

	if ps.quarantined {
		g.metrics.RecordGuardDecision("denied_quarantined")
		return Decision{Allowed: false, Reason: DenyReasonQuarantined}
	}

	rec := ActionRecord{
		Timestamp:        now,
		Participant:      req.Participant,
		ActionType:       req.ActionType,
		ResourceClass:    req.ResourceClass,
		ParamFingerprint: Fingerprint(req.Params),
		RunID:            req.RunID,
	}

	if !g.registry.Allows(req.Participant, req.ActionType, req.ResourceClass) {
		reason := DenyReasonCapabilityViolation
		if !g.registry.Known(req.Participant) {
			reason = DenyReasonUnknownParticipant
		}
		ps.quarantined = true
		g.alerts.Append(Alert{
			Timestamp:   now,
			Severity:    SeverityHigh,
			Participant: req.Participant,
			Rule:        RuleCapabilityViolation,
			Reason: fmt.Sprintf("unauthorized %s on %s",
				req.ActionType, req.ResourceClass),
			Record: rec,
		})
		g.logger.Warn("participant quarantined",
			slog.String("participant", req.Participant),
			slog.String("action_type", req.ActionType),
			slog.String("resource_class", req.ResourceClass),
			slog.String("run_id", req.RunID),
		)
		g.metrics.RecordGuardDecision("denied_capability")
		g.metrics.RecordAlert(string(SeverityHigh))
		return Decision{Allowed: false, Reason: reason}
	}

	flagged := g.observeRateLocked(ps, now)
	if flagged {
		rec.Flagged = true
		g.alerts.Append(Alert{
			Timestamp:   now,
			Severity:    SeverityMedium,
			Participant: req.Participant,
			Rule:        RuleRateSpike,
			Reason: fmt.Sprintf("call rate above %.0fx baseline in trailing %s",
				g.cfg.SpikeFactor, g.cfg.Window),
			Record: rec,
		})
		g.metrics.RecordAlert(string(SeverityMedium))
	}

	g.actions.Append(rec)
	if flagged {
		g.metrics.RecordGuardDecision("allowed_flagged")
		return Decision{Allowed: true, Flagged: true}
	}
	g.metrics.RecordGuardDecision("allowed")
	return Decision{Allowed: true}
}

// observeRateLocked updates the participant's trailing window and rolling
// baseline and reports whether this call crosses the spike threshold.
// Caller holds ps.mu.
func (g *Guard) observeRateLocked(ps *participantState, now time.Time) bool {
	// Roll the baseline when a full window has elapsed.
	if ps.windowStart.IsZero() {
		ps.windowStart = now
	} else if now.Sub(ps.windowStart) >= g.cfg.Window {
		observed := float64(ps.windowCount)
		ps.baseline = g.cfg.BaselineAlpha*observed + (1-g.cfg.BaselineAlpha)*ps.baseline
		if ps.baseline < g.cfg.MinBaseline {
			ps.baseline = g.cfg.MinBaseline
		}
		ps.windowStart = now
		ps.windowCount = 0
	}
	ps.windowCount++

	// Prune the trailing window and count this call.
	cutoff := now.Add(-g.cfg.Window)
	kept := ps.recent[:0]
	for _, ts := range ps.recent {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	ps.recent = append(kept, now)

	baseline := ps.baseline
	if baseline < g.cfg.MinBaseline {
		baseline = g.cfg.MinBaseline
	}
	return float64(len(ps.recent)) > baseline*g.cfg.SpikeFactor
}

// Record appends an action record directly, bypassing rule evaluation.
//
// Used for actions already authorized out-of-band (e.g. replayed history on
// resume). Quarantined participants are still rejected.
func (g *Guard) Record(participant, actionType, resourceClass, runID string, params any) bool {
	ps := g.state(participant)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.quarantined {
		return false
	}
	g.actions.Append(ActionRecord{
		Timestamp:        g.clock.Now(),
		Participant:      participant,
		ActionType:       actionType,
		ResourceClass:    resourceClass,
		ParamFingerprint: Fingerprint(params),
		RunID:            runID,
	})
	return true
}

// Quarantine flips a participant to BLOCKED.
func (g *Guard) Quarantine(participant string) {
	ps := g.state(participant)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.quarantined = true
	g.logger.Warn("participant quarantined by operator",
		slog.String("participant", participant))
}

// Release clears a participant's quarantine via explicit manual approval and
// returns the new state.
func (g *Guard) Release(participant string) QuarantineState {
	ps := g.peek(participant)
	if ps == nil {
		// Never seen, so never quarantined.
		return QuarantineAllowed
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.quarantined {
		ps.quarantined = false
		g.logger.Info("participant released from quarantine",
			slog.String("participant", participant))
	}
	return QuarantineAllowed
}

// State reports a participant's current quarantine state.
func (g *Guard) State(participant string) QuarantineState {
	ps := g.peek(participant)
	if ps == nil {
		return QuarantineAllowed
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.quarantined {
		return QuarantineBlocked
	}
	return QuarantineAllowed
}

// ListAlerts returns up to limit alerts, newest first.
func (g *Guard) ListAlerts(limit int) []Alert {
	return g.alerts.List(limit)
}
