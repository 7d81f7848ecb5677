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

	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
	"github.com/AleutianAI/AleutianFleet/services/fleet/ueba"
)

// The orchestrator depends on narrow interfaces so collaborators can be
// swapped for fakes in tests. Concrete implementations live in the
// collaborators package.

// TelemetryAnalyzer normalizes a raw sample and flags anomalous readings.
type TelemetryAnalyzer interface {
	Analyze(ctx context.Context, sample datatypes.TelemetrySample) (datatypes.NormalizedReading, error)
}

// RiskPredictor scores the likelihood and horizon of a component failure.
type RiskPredictor interface {
	Predict(ctx context.Context, reading datatypes.NormalizedReading) (datatypes.PredictedIssue, error)
}

// VoiceEngager crafts an owner call script and simulates placing the call.
type VoiceEngager interface {
	CraftScript(ctx context.Context, issue datatypes.PredictedIssue) (datatypes.VoiceScript, error)
	CallOwner(ctx context.Context, script datatypes.VoiceScript) (datatypes.EngagementResult, error)
}

// Scheduler proposes service slots and confirms a booking.
type Scheduler interface {
	ProposeSlots(ctx context.Context, issue datatypes.PredictedIssue) (datatypes.AppointmentProposal, error)
	ConfirmBooking(ctx context.Context, proposal datatypes.AppointmentProposal) (datatypes.AppointmentConfirmation, error)
}

// FeedbackCollector sends the post-booking feedback request.
type FeedbackCollector interface {
	Collect(ctx context.Context, confirmation datatypes.AppointmentConfirmation) (datatypes.FeedbackPrompt, error)
}

// ReportSubmitter files the root-cause report with manufacturing.
type ReportSubmitter interface {
	Submit(ctx context.Context, issue datatypes.PredictedIssue, engagement *datatypes.EngagementResult) (datatypes.RCAInsight, error)
}

// Guard is the behavioral gate consulted before every stage's collaborator
// call. Satisfied by *ueba.Guard.
type Guard interface {
	Authorize(req ueba.Request) ueba.Decision
}

// Correlator receives fleet-level signals from critical-path runs. Satisfied
// by *correlator.FleetCorrelator. Optional; a nil correlator disables the
// cross-run features without affecting per-run behavior.
type Correlator interface {
	Observe(runID, faultSignature, geography string)
	RequestProcurement(component, forecastWindow string, quantity int) (reservationKey string, created bool)
}
