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
	"time"

	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
)

// stageBinding ties a stage to the participant identity and capability the
// guard checks before the stage's collaborator runs.
type stageBinding struct {
	participant string
	action      string
	resource    string
	params      func(run *Run) any
}

// stageBindings covers every attended stage. start is absent: creating a run
// performs no participant action.
var stageBindings = map[Stage]stageBinding{
	StageAnalyzing: {
		participant: "telemetry", action: "read", resource: "telematics",
		params: func(r *Run) any {
			return map[string]any{"vehicle_id": r.VehicleID, "readings": r.Sample.Readings()}
		},
	},
	StagePredicting: {
		participant: "diagnosis", action: "write", resource: "predictions",
		params: func(r *Run) any {
			return map[string]any{"vehicle_id": r.VehicleID}
		},
	},
	StageScripting: {
		participant: "voice", action: "read", resource: "issue",
		params: func(r *Run) any {
			p := map[string]any{"vehicle_id": r.VehicleID}
			if r.Issue != nil {
				p["component"] = r.Issue.Component
			}
			return p
		},
	},
	StageCalling: {
		participant: "voice", action: "contact", resource: "owner",
		params: func(r *Run) any {
			return map[string]any{"vehicle_id": r.VehicleID}
		},
	},
	StageScheduling: {
		participant: "scheduling", action: "read", resource: "slots",
		params: func(r *Run) any {
			return map[string]any{"vehicle_id": r.VehicleID}
		},
	},
	StageConfirming: {
		participant: "scheduling", action: "write", resource: "booking",
		params: func(r *Run) any {
			return map[string]any{"vehicle_id": r.VehicleID}
		},
	},
	StageFeedback: {
		participant: "feedback", action: "contact", resource: "owner",
		params: func(r *Run) any {
			p := map[string]any{"vehicle_id": r.VehicleID}
			if r.Confirmation != nil {
				p["booking_id"] = r.Confirmation.BookingID
			}
			return p
		},
	},
	StageRCA: {
		participant: "manufacturing", action: "write", resource: "rca",
		params: func(r *Run) any {
			p := map[string]any{"vehicle_id": r.VehicleID}
			if r.Issue != nil {
				p["component"] = r.Issue.Component
			}
			return p
		},
	},
	StageLogging: {
		participant: "orchestrator", action: "read", resource: "telematics",
		params: func(r *Run) any {
			return map[string]any{"vehicle_id": r.VehicleID}
		},
	},
}

// executeStage runs one stage's work against the run state. Contract: any
// returned error is paired with OutcomeFailed so the table's degradation
// edge applies; a nil error carries the routing outcome. Caller holds h.mu.
func (o *Orchestrator) executeStage(ctx context.Context, h *runHandle, stage Stage) (Outcome, error) {
	run := &h.run
	c := o.deps.Collaborators

	switch stage {
	case StageStart:
		return OutcomeOK, nil

	case StageAnalyzing:
		var reading datatypes.NormalizedReading
		err := o.callWithRetry(ctx, stage, func(ctx context.Context) error {
			var callErr error
			reading, callErr = c.Analyzer.Analyze(ctx, run.Sample)
			return callErr
		})
		if err != nil {
			return OutcomeFailed, err
		}
		run.Analysis = &reading
		return OutcomeOK, nil

	case StagePredicting:
		if run.Analysis == nil {
			return OutcomeFailed, fmt.Errorf("%w: predicting without analysis", ErrCollaboratorFailed)
		}
		var issue datatypes.PredictedIssue
		err := o.callWithRetry(ctx, stage, func(ctx context.Context) error {
			var callErr error
			issue, callErr = c.Predictor.Predict(ctx, *run.Analysis)
			return callErr
		})
		if err != nil {
			return OutcomeFailed, err
		}
		run.Issue = &issue
		if issue.RiskScore >= o.cfg.RiskThreshold {
			if o.deps.Correlator != nil {
				o.deps.Correlator.Observe(run.ID, issue.Component+"_failure", run.Sample.Geography)
			}
			return OutcomeCritical, nil
		}
		return OutcomeLow, nil

	case StageScripting:
		if run.Issue == nil {
			return OutcomeFailed, fmt.Errorf("%w: scripting without prediction", ErrCollaboratorFailed)
		}
		var script datatypes.VoiceScript
		err := o.callWithRetry(ctx, stage, func(ctx context.Context) error {
			var callErr error
			script, callErr = c.Engager.CraftScript(ctx, *run.Issue)
			return callErr
		})
		if err != nil {
			return OutcomeFailed, err
		}
		run.Script = &script
		return OutcomeOK, nil

	case StageCalling:
		if run.Script == nil {
			return OutcomeFailed, fmt.Errorf("%w: calling without script", ErrCollaboratorFailed)
		}
		var result datatypes.EngagementResult
		err := o.callWithRetry(ctx, stage, func(ctx context.Context) error {
			var callErr error
			result, callErr = c.Engager.CallOwner(ctx, *run.Script)
			return callErr
		})
		if err != nil {
			return OutcomeFailed, err
		}
		run.Engagement = &result
		if result.Accepted {
			return OutcomeAccepted, nil
		}
		return OutcomeDeclined, nil

	case StageScheduling:
		if run.Issue == nil {
			return OutcomeFailed, fmt.Errorf("%w: scheduling without prediction", ErrCollaboratorFailed)
		}
		var proposal datatypes.AppointmentProposal
		err := o.callWithRetry(ctx, stage, func(ctx context.Context) error {
			var callErr error
			proposal, callErr = c.Scheduler.ProposeSlots(ctx, *run.Issue)
			return callErr
		})
		if err != nil {
			return OutcomeFailed, err
		}
		run.Proposal = &proposal
		return OutcomeOK, nil

	case StageConfirming:
		if run.Proposal == nil {
			return OutcomeFailed, fmt.Errorf("%w: confirming without proposal", ErrCollaboratorFailed)
		}
		var confirmation datatypes.AppointmentConfirmation
		err := o.callWithRetry(ctx, stage, func(ctx context.Context) error {
			var callErr error
			confirmation, callErr = c.Scheduler.ConfirmBooking(ctx, *run.Proposal)
			return callErr
		})
		if err != nil {
			return OutcomeFailed, err
		}
		run.Confirmation = &confirmation
		return OutcomeOK, nil

	case StageFeedback:
		if run.Confirmation == nil {
			return OutcomeFailed, fmt.Errorf("%w: feedback without booking", ErrCollaboratorFailed)
		}
		var prompt datatypes.FeedbackPrompt
		err := o.callWithRetry(ctx, stage, func(ctx context.Context) error {
			var callErr error
			prompt, callErr = c.Feedback.Collect(ctx, *run.Confirmation)
			return callErr
		})
		if err != nil {
			return OutcomeFailed, err
		}
		run.Feedback = &prompt
		return OutcomeOK, nil

	case StageRCA:
		if run.Issue == nil {
			return OutcomeFailed, fmt.Errorf("%w: report without prediction", ErrCollaboratorFailed)
		}
		var insight datatypes.RCAInsight
		err := o.callWithRetry(ctx, stage, func(ctx context.Context) error {
			var callErr error
			insight, callErr = c.Reporter.Submit(ctx, *run.Issue, run.Engagement)
			return callErr
		})
		if err != nil {
			return OutcomeFailed, err
		}
		run.Insight = &insight
		if o.deps.Correlator != nil && run.Issue.RiskScore >= o.cfg.RiskThreshold {
			window := fmt.Sprintf("%dd", run.Issue.DaysToFailure)
			key, created := o.deps.Correlator.RequestProcurement(run.Issue.Component, window, 1)
			o.logger.InfoContext(ctx, "procurement requested",
				"run_id", run.ID, "component", run.Issue.Component,
				"reservation_key", key, "created", created)
		}
		return OutcomeOK, nil

	case StageLogging:
		o.logger.InfoContext(ctx, "low risk recorded",
			"run_id", run.ID, "vehicle_id", run.VehicleID)
		return OutcomeOK, nil

	default:
		return OutcomeFailed, fmt.Errorf("%w: no executor for stage %q", ErrUndefinedTransition, stage)
	}
}

// callWithRetry runs fn up to MaxRetries+1 times with a per-attempt timeout
// and exponential backoff between attempts.
func (o *Orchestrator) callWithRetry(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	attempts := o.cfg.MaxRetries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		o.deps.Metrics.RecordStageRetry(string(stage))
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), lastErr)
		case <-time.After(o.cfg.RetryBackoff << i):
		}
	}
	return fmt.Errorf("%w: stage %s after %d attempts: %w", ErrCollaboratorFailed, stage, attempts, lastErr)
}
