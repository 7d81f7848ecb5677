// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
	"github.com/AleutianAI/AleutianFleet/services/fleet/observability"
	"github.com/AleutianAI/AleutianFleet/services/fleet/ueba"
)

var tracer = otel.Tracer("aleutian.fleet.workflow")

// =============================================================================
// Configuration
// =============================================================================

// Config tunes the orchestrator. Zero fields take the defaults below.
type Config struct {
	// RiskThreshold splits prediction outcomes: scores at or above it take
	// the critical path. Default 0.6.
	RiskThreshold float64

	// MaxRetries is the number of retries after the first failed
	// collaborator attempt. Default 2.
	MaxRetries int

	// RetryBackoff is the base backoff before the first retry; it doubles
	// per attempt. Default 100ms.
	RetryBackoff time.Duration

	// StageTimeout bounds each collaborator attempt. Default 5s.
	StageTimeout time.Duration

	// MaxTransitions bounds a single run, guarding against graph bugs.
	// Default 32.
	MaxTransitions int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RiskThreshold:  0.6,
		MaxRetries:     2,
		RetryBackoff:   100 * time.Millisecond,
		StageTimeout:   5 * time.Second,
		MaxTransitions: 32,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.RiskThreshold <= 0 {
		c.RiskThreshold = d.RiskThreshold
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = d.StageTimeout
	}
	if c.MaxTransitions <= 0 {
		c.MaxTransitions = d.MaxTransitions
	}
}

// Collaborators bundles the six stage implementations.
type Collaborators struct {
	Analyzer  TelemetryAnalyzer
	Predictor RiskPredictor
	Engager   VoiceEngager
	Scheduler Scheduler
	Feedback  FeedbackCollector
	Reporter  ReportSubmitter
}

func (c Collaborators) validate() error {
	switch {
	case c.Analyzer == nil:
		return errors.New("nil analyzer")
	case c.Predictor == nil:
		return errors.New("nil predictor")
	case c.Engager == nil:
		return errors.New("nil engager")
	case c.Scheduler == nil:
		return errors.New("nil scheduler")
	case c.Feedback == nil:
		return errors.New("nil feedback collector")
	case c.Reporter == nil:
		return errors.New("nil report submitter")
	}
	return nil
}

// Deps are the orchestrator's wiring points. Correlator, Logger and Metrics
// are optional.
type Deps struct {
	Collaborators Collaborators
	Guard         Guard
	Correlator    Correlator
	Runs          RunStore
	Vehicles      VehicleStateStore
	Logger        *slog.Logger
	Metrics       *observability.Metrics
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator drives runs through the transition table, consulting the
// guard before every stage's collaborator call.
//
// Thread Safety: safe for concurrent use. Each run is serialized by its own
// handle lock; distinct runs advance in parallel.
type Orchestrator struct {
	cfg    Config
	table  TransitionTable
	deps   Deps
	logger *slog.Logger

	mu   sync.RWMutex
	runs map[string]*runHandle
}

type runHandle struct {
	mu        sync.Mutex
	cancelled atomic.Bool
	run       Run
}

// NewOrchestrator validates the transition table and wiring.
//
// Inputs:
//
//	cfg   - Tuning knobs; zero fields take defaults.
//	table - Workflow graph; must pass Validate.
//	deps  - Collaborators, guard and stores; see Deps.
//
// Outputs:
//
//	*Orchestrator - Ready to accept runs.
//	error         - ErrInvalidTransitionTable or a wiring error.
func NewOrchestrator(cfg Config, table TransitionTable, deps Deps) (*Orchestrator, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if err := deps.Collaborators.validate(); err != nil {
		return nil, fmt.Errorf("orchestrator wiring: %w", err)
	}
	if deps.Guard == nil {
		return nil, errors.New("orchestrator wiring: nil guard")
	}
	if deps.Runs == nil {
		deps.Runs = NewMemRunStore()
	}
	if deps.Vehicles == nil {
		deps.Vehicles = NewMemVehicleStateStore()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:    cfg,
		table:  table,
		deps:   deps,
		logger: deps.Logger.With("component", "workflow"),
		runs:   make(map[string]*runHandle),
	}, nil
}

// StartRun validates the sample and creates a run at the start stage.
// The first Advance performs analysis.
func (o *Orchestrator) StartRun(ctx context.Context, sample datatypes.TelemetrySample, source string) (Run, error) {
	if err := sample.Validate(); err != nil {
		return Run{}, fmt.Errorf("telemetry sample rejected: %w", err)
	}
	now := time.Now().UTC()
	run := Run{
		ID:        "run-" + uuid.NewString(),
		VehicleID: sample.VehicleID,
		Stage:     StageStart,
		History:   []Stage{StageStart},
		CreatedAt: now,
		UpdatedAt: now,
		Sample:    sample,
	}
	h := &runHandle{run: run}

	o.mu.Lock()
	o.runs[run.ID] = h
	o.mu.Unlock()

	if err := o.deps.Runs.Save(ctx, run); err != nil {
		o.logger.WarnContext(ctx, "run snapshot save failed",
			"run_id", run.ID, "error", err)
	}
	o.deps.Metrics.RecordRunStarted(source)
	o.logger.InfoContext(ctx, "run started",
		"run_id", run.ID, "vehicle_id", run.VehicleID, "source", source)
	return run.clone(), nil
}

// Advance executes the run's current stage and moves it along the matching
// edge. A guard denial moves the run to the blocked terminal substate
// without invoking the stage's collaborator.
func (o *Orchestrator) Advance(ctx context.Context, runID string) (StageResult, error) {
	h, err := o.handle(ctx, runID)
	if err != nil {
		return StageResult{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.run.Stage == StageBlocked {
		return StageResult{}, fmt.Errorf("%w: %s", ErrRunBlocked, runID)
	}
	if h.run.Terminal() {
		return StageResult{}, fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}

	stage := h.run.Stage
	ctx, span := tracer.Start(ctx, "workflow.Advance",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.stage", string(stage)),
		))
	defer span.End()
	started := time.Now()

	// Guard gate. start is pure bookkeeping and carries no participant.
	if binding, gated := stageBindings[stage]; gated {
		decision := o.deps.Guard.Authorize(ueba.Request{
			Participant:   binding.participant,
			ActionType:    binding.action,
			ResourceClass: binding.resource,
			RunID:         runID,
			Params:        binding.params(&h.run),
		})
		if !decision.Allowed {
			span.SetStatus(codes.Error, "guard denied")
			return o.finishLocked(ctx, h, stage, StageResult{
				RunID:    runID,
				Executed: stage,
				Next:     StageBlocked,
				Terminal: true,
				Reason:   "guard denial: " + decision.Reason,
			}, StageBlocked), nil
		}
		if decision.Flagged {
			span.SetAttributes(attribute.Bool("guard.flagged", true))
			o.logger.WarnContext(ctx, "stage allowed with rate flag",
				"run_id", runID, "stage", stage, "participant", binding.participant)
		}
		outcome, err := o.executeStage(ctx, h, stage)
		return o.applyOutcome(ctx, span, h, stage, outcome, decision.Flagged, started, err)
	}

	outcome, err := o.executeStage(ctx, h, stage)
	return o.applyOutcome(ctx, span, h, stage, outcome, false, started, err)
}

// applyOutcome resolves the table edge and commits the transition.
func (o *Orchestrator) applyOutcome(ctx context.Context, span trace.Span, h *runHandle,
	stage Stage, outcome Outcome, flagged bool, started time.Time, execErr error) (StageResult, error) {

	if h.cancelled.Load() {
		// A cancel raced the collaborator call; discard its result.
		return o.finishLocked(ctx, h, stage, StageResult{
			RunID:    h.run.ID,
			Executed: stage,
			Next:     StageEnd,
			Terminal: true,
			Reason:   "cancelled",
		}, StageEnd), nil
	}

	if execErr != nil && outcome != OutcomeFailed {
		// Executor bug: errors must degrade to the Failed edge.
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		return StageResult{}, &StageError{Stage: stage, Err: execErr}
	}

	next, err := o.table.Next(stage, outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StageResult{}, err
	}

	o.deps.Metrics.RecordStageDuration(string(stage), time.Since(started).Seconds())
	if execErr != nil {
		o.logger.WarnContext(ctx, "stage degraded",
			"run_id", h.run.ID, "stage", stage, "next", next, "error", execErr)
	}
	span.SetStatus(codes.Ok, "")

	result := StageResult{
		RunID:    h.run.ID,
		Executed: stage,
		Outcome:  outcome,
		Next:     next,
		Terminal: next.Terminal(),
		Flagged:  flagged,
	}
	if execErr != nil {
		result.Reason = execErr.Error()
	}
	return o.finishLocked(ctx, h, stage, result, next), nil
}

// finishLocked commits the transition: history, persistence, terminal
// bookkeeping. Caller holds h.mu.
func (o *Orchestrator) finishLocked(ctx context.Context, h *runHandle, stage Stage,
	result StageResult, next Stage) StageResult {

	h.run.Stage = next
	h.run.History = append(h.run.History, next)
	h.run.UpdatedAt = time.Now().UTC()
	if result.Reason != "" {
		h.run.Reason = result.Reason
	}

	if next.Terminal() {
		o.deps.Metrics.RecordRunCompleted(string(next))
		o.logger.InfoContext(ctx, "run finished",
			"run_id", h.run.ID, "terminal_stage", next, "stages", len(h.run.History))
		o.saveVehicleState(ctx, &h.run)
	}
	if err := o.deps.Runs.Save(ctx, h.run); err != nil {
		o.logger.WarnContext(ctx, "run snapshot save failed",
			"run_id", h.run.ID, "error", err)
	}
	if next.Terminal() {
		// The store holds the terminal snapshot; Status and handle
		// rehydrate from it on demand.
		o.mu.Lock()
		delete(o.runs, h.run.ID)
		o.mu.Unlock()
	}
	return result
}

func (o *Orchestrator) saveVehicleState(ctx context.Context, run *Run) {
	if run.Analysis == nil {
		return
	}
	state := datatypes.VehicleState{
		LastSample:  run.Sample,
		Analysis:    *run.Analysis,
		Issue:       run.Issue,
		Appointment: run.Confirmation,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := o.deps.Vehicles.Put(ctx, run.VehicleID, state); err != nil {
		o.logger.WarnContext(ctx, "vehicle state save failed",
			"vehicle_id", run.VehicleID, "error", err)
	}
}

// RunToCompletion advances a run until it reaches a terminal stage.
func (o *Orchestrator) RunToCompletion(ctx context.Context, runID string) ([]StageResult, error) {
	results := make([]StageResult, 0, 8)
	for i := 0; i < o.cfg.MaxTransitions; i++ {
		res, err := o.Advance(ctx, runID)
		if err != nil {
			if errors.Is(err, ErrRunTerminal) || errors.Is(err, ErrRunBlocked) {
				return results, nil
			}
			return results, err
		}
		results = append(results, res)
		if res.Terminal {
			return results, nil
		}
	}
	return results, fmt.Errorf("%w: run %s", ErrTransitionBound, runID)
}

// Status returns a snapshot of the run, consulting the store for runs no
// longer held in memory.
func (o *Orchestrator) Status(ctx context.Context, runID string) (Run, error) {
	o.mu.RLock()
	h, ok := o.runs[runID]
	o.mu.RUnlock()
	if ok {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.run.clone(), nil
	}
	return o.deps.Runs.Get(ctx, runID)
}

// Cancel marks a run terminal with reason "cancelled". If a stage is
// executing, its result is discarded when it returns.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	h, err := o.handle(ctx, runID)
	if err != nil {
		return err
	}
	h.cancelled.Store(true)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.run.Terminal() {
		if h.run.Reason == "cancelled" {
			return nil // applied by the racing Advance
		}
		return fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}
	o.finishLocked(ctx, h, h.run.Stage, StageResult{
		RunID: runID, Executed: h.run.Stage, Next: StageEnd,
		Terminal: true, Reason: "cancelled",
	}, StageEnd)
	return nil
}

// handle returns the in-memory handle, rehydrating from the store when the
// run is known but evicted.
func (o *Orchestrator) handle(ctx context.Context, runID string) (*runHandle, error) {
	o.mu.RLock()
	h, ok := o.runs[runID]
	o.mu.RUnlock()
	if ok {
		return h, nil
	}
	run, err := o.deps.Runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.runs[runID]; ok {
		return existing, nil
	}
	h = &runHandle{run: run}
	o.runs[runID] = h
	return h, nil
}
