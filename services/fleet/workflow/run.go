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
	"time"

	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
)

// Run is the full state of one workflow execution. Every field is
// JSON-serializable so a run can be persisted on each transition and resumed
// from its snapshot after a restart.
//
// Thread Safety: a Run is owned by its runHandle; the orchestrator copies it
// under the handle lock before handing it out.
type Run struct {
	ID        string    `json:"id"`
	VehicleID string    `json:"vehicle_id"`
	Stage     Stage     `json:"stage"`
	History   []Stage   `json:"history"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Sample       datatypes.TelemetrySample          `json:"sample"`
	Analysis     *datatypes.NormalizedReading       `json:"analysis,omitempty"`
	Issue        *datatypes.PredictedIssue          `json:"issue,omitempty"`
	Script       *datatypes.VoiceScript             `json:"script,omitempty"`
	Engagement   *datatypes.EngagementResult        `json:"engagement,omitempty"`
	Proposal     *datatypes.AppointmentProposal     `json:"proposal,omitempty"`
	Confirmation *datatypes.AppointmentConfirmation `json:"confirmation,omitempty"`
	Feedback     *datatypes.FeedbackPrompt          `json:"feedback,omitempty"`
	Insight      *datatypes.RCAInsight              `json:"insight,omitempty"`
}

// Terminal reports whether the run has ended.
func (r *Run) Terminal() bool { return r.Stage.Terminal() }

// clone deep-copies the slices so callers cannot mutate orchestrator state.
func (r *Run) clone() Run {
	out := *r
	out.History = append([]Stage(nil), r.History...)
	return out
}

// StageResult reports one Advance step.
type StageResult struct {
	RunID    string  `json:"run_id"`
	Executed Stage   `json:"executed"`
	Outcome  Outcome `json:"outcome"`
	Next     Stage   `json:"next"`
	Terminal bool    `json:"terminal"`
	Flagged  bool    `json:"flagged,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// RunStore persists run snapshots. The orchestrator writes a snapshot after
// every transition; Get backs the status surface for runs that have been
// evicted from memory.
type RunStore interface {
	Save(ctx context.Context, run Run) error
	Get(ctx context.Context, runID string) (Run, error)
	List(ctx context.Context, limit int) ([]Run, error)
}

// VehicleStateStore keeps the last known state per vehicle.
type VehicleStateStore interface {
	Put(ctx context.Context, vehicleID string, state datatypes.VehicleState) error
	Get(ctx context.Context, vehicleID string) (datatypes.VehicleState, error)
}
