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
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
	"github.com/AleutianAI/AleutianFleet/services/fleet/observability"
	"github.com/AleutianAI/AleutianFleet/services/fleet/registry"
	"github.com/AleutianAI/AleutianFleet/services/fleet/ueba"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeCollaborators implements all six stage interfaces with scriptable
// failure counts per stage.
type fakeCollaborators struct {
	mu    sync.Mutex
	calls map[string]int

	risk      float64
	accepted  bool
	failures  map[string]int // stage name -> attempts that fail before succeeding
	permanent map[string]bool
}

func newFakeCollaborators() *fakeCollaborators {
	return &fakeCollaborators{
		calls:     make(map[string]int),
		failures:  make(map[string]int),
		permanent: make(map[string]bool),
		risk:      0.85,
		accepted:  true,
	}
}

func (f *fakeCollaborators) step(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if f.permanent[name] {
		return errors.New(name + " unavailable")
	}
	if f.failures[name] > 0 {
		f.failures[name]--
		return errors.New(name + " transient failure")
	}
	return nil
}

func (f *fakeCollaborators) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeCollaborators) Analyze(_ context.Context, s datatypes.TelemetrySample) (datatypes.NormalizedReading, error) {
	if err := f.step("analyze"); err != nil {
		return datatypes.NormalizedReading{}, err
	}
	return datatypes.NormalizedReading{VehicleID: s.VehicleID, Readings: s.Readings()}, nil
}

func (f *fakeCollaborators) Predict(_ context.Context, r datatypes.NormalizedReading) (datatypes.PredictedIssue, error) {
	if err := f.step("predict"); err != nil {
		return datatypes.PredictedIssue{}, err
	}
	return datatypes.PredictedIssue{
		VehicleID: r.VehicleID, Component: "brakes",
		RiskScore: f.risk, Confidence: 0.9, DaysToFailure: 3,
	}, nil
}

func (f *fakeCollaborators) CraftScript(_ context.Context, issue datatypes.PredictedIssue) (datatypes.VoiceScript, error) {
	if err := f.step("script"); err != nil {
		return datatypes.VoiceScript{}, err
	}
	return datatypes.VoiceScript{VehicleID: issue.VehicleID, Script: "call owner",
		Urgency: datatypes.UrgencyForRisk(issue.RiskScore)}, nil
}

func (f *fakeCollaborators) CallOwner(_ context.Context, s datatypes.VoiceScript) (datatypes.EngagementResult, error) {
	if err := f.step("call"); err != nil {
		return datatypes.EngagementResult{}, err
	}
	return datatypes.EngagementResult{VehicleID: s.VehicleID, Accepted: f.accepted, Urgency: s.Urgency}, nil
}

func (f *fakeCollaborators) ProposeSlots(_ context.Context, issue datatypes.PredictedIssue) (datatypes.AppointmentProposal, error) {
	if err := f.step("propose"); err != nil {
		return datatypes.AppointmentProposal{}, err
	}
	return datatypes.AppointmentProposal{
		VehicleID: issue.VehicleID,
		Options:   []time.Time{time.Now().Add(24 * time.Hour)},
		Center:    "Downtown Service Center",
	}, nil
}

func (f *fakeCollaborators) ConfirmBooking(_ context.Context, p datatypes.AppointmentProposal) (datatypes.AppointmentConfirmation, error) {
	if err := f.step("confirm"); err != nil {
		return datatypes.AppointmentConfirmation{}, err
	}
	return datatypes.AppointmentConfirmation{
		VehicleID: p.VehicleID, ChosenSlot: p.Options[0],
		Center: p.Center, BookingID: "BK-" + p.VehicleID + "-1",
	}, nil
}

func (f *fakeCollaborators) Collect(_ context.Context, c datatypes.AppointmentConfirmation) (datatypes.FeedbackPrompt, error) {
	if err := f.step("collect"); err != nil {
		return datatypes.FeedbackPrompt{}, err
	}
	return datatypes.FeedbackPrompt{VehicleID: c.VehicleID, BookingID: c.BookingID, Status: "sent"}, nil
}

func (f *fakeCollaborators) Submit(_ context.Context, issue datatypes.PredictedIssue, _ *datatypes.EngagementResult) (datatypes.RCAInsight, error) {
	if err := f.step("submit"); err != nil {
		return datatypes.RCAInsight{}, err
	}
	return datatypes.RCAInsight{Title: issue.Component + " wear pattern"}, nil
}

// fakeGuard allows everything except the configured participants.
type fakeGuard struct {
	mu       sync.Mutex
	deny     map[string]bool
	requests []ueba.Request
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{deny: make(map[string]bool)}
}

func (g *fakeGuard) Authorize(req ueba.Request) ueba.Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.deny[req.Participant] {
		return ueba.Decision{Allowed: false, Reason: ueba.DenyReasonCapabilityViolation}
	}
	return ueba.Decision{Allowed: true}
}

type fakeCorrelator struct {
	mu           sync.Mutex
	observations []string
	procurements []string
}

func (c *fakeCorrelator) Observe(_, signature, geography string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observations = append(c.observations, signature+"@"+geography)
}

func (c *fakeCorrelator) RequestProcurement(component, window string, _ int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.procurements = append(c.procurements, component+"/"+window)
	return "res-test", true
}

// =============================================================================
// Harness
// =============================================================================

func testSample() datatypes.TelemetrySample {
	return datatypes.TelemetrySample{
		VehicleID:     "VHC-1001",
		VehicleModel:  "Meridian LX",
		Timestamp:     time.Now().UTC(),
		MileageKm:     84200,
		EngineTempC:   96,
		RPM:           2400,
		BrakePadMM:    2.1,
		OilQualityPct: 55,
		Geography:     "route_9",
	}
}

func newTestOrchestrator(t *testing.T, collab *fakeCollaborators, guard Guard) (*Orchestrator, *fakeCorrelator) {
	t.Helper()
	corr := &fakeCorrelator{}
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.StageTimeout = time.Second
	o, err := NewOrchestrator(cfg, DefaultTransitions(), Deps{
		Collaborators: Collaborators{
			Analyzer: collab, Predictor: collab, Engager: collab,
			Scheduler: collab, Feedback: collab, Reporter: collab,
		},
		Guard:      guard,
		Correlator: corr,
	})
	require.NoError(t, err)
	return o, corr
}

func stages(results []StageResult) []Stage {
	out := make([]Stage, 0, len(results))
	for _, r := range results {
		out = append(out, r.Next)
	}
	return out
}

// =============================================================================
// Transition table
// =============================================================================

func TestDefaultTransitionsValid(t *testing.T) {
	require.NoError(t, DefaultTransitions().Validate())
}

func TestValidateRejectsMissingEdge(t *testing.T) {
	table := DefaultTransitions()
	delete(table[StageCalling], OutcomeDeclined)
	err := table.Validate()
	require.ErrorIs(t, err, ErrInvalidTransitionTable)
	assert.Contains(t, err.Error(), "declined")
}

func TestValidateRejectsMissingStage(t *testing.T) {
	table := DefaultTransitions()
	delete(table, StageFeedback)
	require.ErrorIs(t, table.Validate(), ErrInvalidTransitionTable)
}

func TestValidateRejectsUnknownOutcome(t *testing.T) {
	table := DefaultTransitions()
	table[StageLogging][Outcome("sideways")] = StageEnd
	require.ErrorIs(t, table.Validate(), ErrInvalidTransitionTable)
}

// =============================================================================
// Happy paths
// =============================================================================

func TestCriticalPathAccepted(t *testing.T) {
	collab := newFakeCollaborators()
	o, corr := newTestOrchestrator(t, collab, newFakeGuard())

	run, err := o.StartRun(context.Background(), testSample(), "test")
	require.NoError(t, err)

	results, err := o.RunToCompletion(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, []Stage{
		StageAnalyzing, StagePredicting, StageScripting, StageCalling,
		StageScheduling, StageConfirming, StageFeedback, StageRCA, StageEnd,
	}, stages(results))

	status, err := o.Status(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, StageEnd, status.Stage)
	require.NotNil(t, status.Confirmation)
	assert.Equal(t, "BK-VHC-1001-1", status.Confirmation.BookingID)
	require.NotNil(t, status.Insight)

	assert.Equal(t, []string{"brakes_failure@route_9"}, corr.observations)
	assert.Equal(t, []string{"brakes/3d"}, corr.procurements)
}

func TestLowRiskPathLogsAndEnds(t *testing.T) {
	collab := newFakeCollaborators()
	collab.risk = 0.30
	o, corr := newTestOrchestrator(t, collab, newFakeGuard())

	run, err := o.StartRun(context.Background(), testSample(), "test")
	require.NoError(t, err)
	results, err := o.RunToCompletion(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, []Stage{StageAnalyzing, StagePredicting, StageLogging, StageEnd}, stages(results))
	assert.Zero(t, collab.count("script"), "low-risk run must not engage the owner")
	assert.Empty(t, corr.observations)
	assert.Empty(t, corr.procurements)
}

func TestThresholdRiskRoutesCritical(t *testing.T) {
	collab := newFakeCollaborators()
	collab.risk = 0.60 // exactly at the threshold
	o, _ := newTestOrchestrator(t, collab, newFakeGuard())

	run, err := o.StartRun(context.Background(), testSample(), "test")
	require.NoError(t, err)
	results, err := o.RunToCompletion(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Contains(t, stages(results), StageScripting)
}

func TestDeclinedOwnerRoutesToReport(t *testing.T) {
	collab := newFakeCollaborators()
	collab.accepted = false
	o, _ := newTestOrchestrator(t, collab, newFakeGuard())

	run, err := o.StartRun(context.Background(), testSample(), "test")
	require.NoError(t, err)
	results, err := o.RunToCompletion(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, []Stage{
		StageAnalyzing, StagePredicting, StageScripting, StageCalling,
		StageRCA, StageEnd,
	}, stages(results))
	assert.Zero(t, collab.count("propose"))
}

// =============================================================================
// Degradation and retries
// =============================================================================

func TestSchedulingFailureDegradesToReport(t *testing.T) {
	collab := newFakeCollaborators()
	collab.permanent["propose"] = true
	o, _ := newTestOrchestrator(t, collab, newFakeGuard())

	run, err := o.StartRun(context.Background(), testSample(), "test")
	require.NoError(t, err)
	results, err := o.RunToCompletion(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, []Stage{
		StageAnalyzing, StagePredicting, StageScripting, StageCalling,
		StageRCA, StageEnd,
	}, stages(results))
	assert.Equal(t, 3, collab.count("propose"), "initial attempt plus two retries")

	status, err := o.Status(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Contains(t, status.Reason, "propose unavailable")
	require.NotNil(t, status.Insight, "degraded run still files the report")
}

func TestTransientFailureRecoversWithinRetryBudget(t *testing.T) {
	collab := newFakeCollaborators()
	collab.failures["analyze"] = 2
	o, _ := newTestOrchestrator(t, collab, newFakeGuard())

	run, err := o.StartRun(context.Background(), testSample(), "test")
	require.NoError(t, err)
	results, err := o.RunToCompletion(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, collab.count("analyze"))
	assert.Equal(t, StageEnd, results[len(results)-1].Next)
}

func TestIngestionFailureIsFatal(t *testing.T) {
	collab := newFakeCollaborators()
	collab.permanent["analyze"] = true
	o, _ := newTestOrchestrator(t, collab, newFakeGuard())

	run, err := o.StartRun(context.Background(), testSample(), "test")
	require.NoError(t, err)
	results, err := o.RunToCompletion(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, []Stage{StageAnalyzing, StageEnd}, stages(results))
	assert.Zero(t, collab.count("predict"))
}

func TestPredictionFailureFallsBackToLowRiskPath(t *testing.T) {
	collab := newFakeCollaborators()
	collab.permanent["predict"] = true
	o, _ := newTestOrchestrator(t, collab, newFakeGuard())

	run, err := o.StartRun(context.Background(), testSample(), "test")
	require.NoError(t, err)
	results, err := o.RunToCompletion(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageAnalyzing, StagePredicting, StageLogging, StageEnd}, stages(results))
}

// =============================================================================
// Guard interaction
// =============================================================================

func TestGuardDenialBlocksRunBeforeCollaboratorCall(t *testing.T) {
	collab := newFakeCollaborators()
	guard := newFakeGuard()
	guard.deny["voice"] = true
	o, _ := newTestOrchestrator(t, collab, guard)

	run, err := o.StartRun(context.Background(), testSample(), "test")
	require.NoError(t, err)
	results, err := o.RunToCompletion(context.Background(), run.ID)
	require.NoError(t, err)

	last := results[len(results)-1]
	assert.Equal(t, StageBlocked, last.Next)
	assert.True(t, last.Terminal)
	assert.Contains(t, last.Reason, "guard denial")
	assert.Zero(t, collab.count("script"), "denied stage must not reach its collaborator")

	_, err = o.Advance(context.Background(), run.ID)
	assert.ErrorIs(t, err, ErrRunBlocked)

	status, err := o.Status(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, StageBlocked, status.Stage)
}

func TestGuardSeesEveryAttendedStage(t *testing.T) {
	collab := newFakeCollaborators()
	guard := newFakeGuard()
	o, _ := newTestOrchestrator(t, collab, guard)

	run, err := o.StartRun(context.Background(), testSample(), "test")
	require.NoError(t, err)
	_, err = o.RunToCompletion(context.Background(), run.ID)
	require.NoError(t, err)

	participants := make([]string, 0, len(guard.requests))
	for _, req := range guard.requests {
		participants = append(participants, req.Participant)
	}
	assert.Equal(t, []string{
		"telemetry", "diagnosis", "voice", "voice",
		"scheduling", "scheduling", "feedback", "manufacturing",
	}, participants)
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestCancelMarksRunTerminal(t *testing.T) {
	collab := newFakeCollaborators()
	o, _ := newTestOrchestrator(t, collab, newFakeGuard())

	run, err := o.StartRun(context.Background(), testSample(), "test")
	require.NoError(t, err)
	require.NoError(t, o.Cancel(context.Background(), run.ID))

	_, err = o.Advance(context.Background(), run.ID)
	assert.ErrorIs(t, err, ErrRunTerminal)

	status, err := o.Status(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", status.Reason)
	assert.True(t, status.Terminal())

	// Cancel is idempotent.
	assert.NoError(t, o.Cancel(context.Background(), run.ID))
}

func TestUnknownRunIsNotFound(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeCollaborators(), newFakeGuard())
	_, err := o.Advance(context.Background(), "run-missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = o.Status(context.Background(), "run-missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestInvalidSampleRejectedAtStart(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeCollaborators(), newFakeGuard())
	sample := testSample()
	sample.VehicleID = ""
	_, err := o.StartRun(context.Background(), sample, "test")
	require.Error(t, err)
}

func TestRunResumableFromSharedStore(t *testing.T) {
	store := NewMemRunStore()
	collab := newFakeCollaborators()
	guard := newFakeGuard()
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond

	deps := Deps{
		Collaborators: Collaborators{
			Analyzer: collab, Predictor: collab, Engager: collab,
			Scheduler: collab, Feedback: collab, Reporter: collab,
		},
		Guard: guard,
		Runs:  store,
	}
	first, err := NewOrchestrator(cfg, DefaultTransitions(), deps)
	require.NoError(t, err)

	run, err := first.StartRun(context.Background(), testSample(), "test")
	require.NoError(t, err)
	_, err = first.Advance(context.Background(), run.ID) // start -> analyzing
	require.NoError(t, err)
	_, err = first.Advance(context.Background(), run.ID) // analyzing -> predicting
	require.NoError(t, err)

	// Simulate a restart: a fresh orchestrator over the same store.
	second, err := NewOrchestrator(cfg, DefaultTransitions(), deps)
	require.NoError(t, err)
	results, err := second.RunToCompletion(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, StageEnd, results[len(results)-1].Next)

	status, err := second.Status(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, []Stage{
		StageStart, StageAnalyzing, StagePredicting, StageScripting,
		StageCalling, StageScheduling, StageConfirming, StageFeedback,
		StageRCA, StageEnd,
	}, status.History)
}

// TestTerminalRunsEvictedFromMemory verifies a run's in-memory handle is
// dropped once the run reaches a terminal stage: the store is the archive,
// and a long-lived orchestrator must not accumulate finished runs.
func TestTerminalRunsEvictedFromMemory(t *testing.T) {
	collab := newFakeCollaborators()
	o, _ := newTestOrchestrator(t, collab, newFakeGuard())

	ids := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		run, err := o.StartRun(context.Background(), testSample(), "test")
		require.NoError(t, err)
		_, err = o.RunToCompletion(context.Background(), run.ID)
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	o.mu.RLock()
	held := len(o.runs)
	o.mu.RUnlock()
	assert.Zero(t, held, "terminal runs must not be retained in memory")

	// Archived runs still serve status from the store.
	for _, id := range ids {
		status, err := o.Status(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, StageEnd, status.Stage)
	}
}

// TestGuardDecisionCountedOncePerStage drives a run through the production
// guard with live metrics and checks each attended stage lands exactly one
// verdict in the decision counter. The guard owns that metric; the
// orchestrator must not count the same decision again.
func TestGuardDecisionCountedOncePerStage(t *testing.T) {
	metrics := observability.DefaultMetrics
	if metrics == nil {
		metrics = observability.InitMetrics()
	}

	reg, err := registry.NewAgentRegistry()
	require.NoError(t, err)
	guard, err := ueba.NewGuard(reg, ueba.NewMemActionLog(), ueba.NewMemAlertLog(),
		ueba.DefaultConfig(), nil, nil)
	require.NoError(t, err)

	collab := newFakeCollaborators()
	collab.risk = 0.30
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	o, err := NewOrchestrator(cfg, DefaultTransitions(), Deps{
		Collaborators: Collaborators{
			Analyzer: collab, Predictor: collab, Engager: collab,
			Scheduler: collab, Feedback: collab, Reporter: collab,
		},
		Guard:   guard,
		Metrics: metrics,
	})
	require.NoError(t, err)

	before := testutil.ToFloat64(metrics.GuardDecisionsTotal.WithLabelValues("allowed"))

	run, err := o.StartRun(context.Background(), testSample(), "test")
	require.NoError(t, err)
	results, err := o.RunToCompletion(context.Background(), run.ID)
	require.NoError(t, err)

	attended := 0
	for _, res := range results {
		if _, gated := stageBindings[res.Executed]; gated {
			attended++
		}
	}
	require.Positive(t, attended)

	counted := testutil.ToFloat64(metrics.GuardDecisionsTotal.WithLabelValues("allowed")) - before
	assert.Equal(t, float64(attended), counted)
}

// TestVehicleStateCarriesConfirmedAppointment verifies a confirmed booking
// survives the run: the vehicle's last-known state exposes it after the run
// is archived, and low-risk runs leave none behind.
func TestVehicleStateCarriesConfirmedAppointment(t *testing.T) {
	vehicles := NewMemVehicleStateStore()
	collab := newFakeCollaborators()
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	o, err := NewOrchestrator(cfg, DefaultTransitions(), Deps{
		Collaborators: Collaborators{
			Analyzer: collab, Predictor: collab, Engager: collab,
			Scheduler: collab, Feedback: collab, Reporter: collab,
		},
		Guard:    newFakeGuard(),
		Vehicles: vehicles,
	})
	require.NoError(t, err)

	run, err := o.StartRun(context.Background(), testSample(), "test")
	require.NoError(t, err)
	_, err = o.RunToCompletion(context.Background(), run.ID)
	require.NoError(t, err)

	state, err := vehicles.Get(context.Background(), "VHC-1001")
	require.NoError(t, err)
	require.NotNil(t, state.Appointment)
	assert.Equal(t, "BK-VHC-1001-1", state.Appointment.BookingID)

	collab.risk = 0.30
	healthy := testSample()
	healthy.VehicleID = "VHC-2002"
	run, err = o.StartRun(context.Background(), healthy, "test")
	require.NoError(t, err)
	_, err = o.RunToCompletion(context.Background(), run.ID)
	require.NoError(t, err)

	state, err = vehicles.Get(context.Background(), "VHC-2002")
	require.NoError(t, err)
	assert.Nil(t, state.Appointment)
}
