// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains the fulfillment-side types: prediction output, owner
// engagement, scheduling, feedback and the manufacturing root-cause report.
package datatypes

import "time"

// =============================================================================
// Prediction
// =============================================================================

// PredictedIssue is the risk predictor's verdict for one run.
//
// # Description
//
// Produced exactly once per run and immutable afterwards. RiskScore is in
// [0,1]; the orchestrator's critical/low branch compares it against the
// configured risk threshold.
//
// # Fields
//
//   - Component: the component expected to fail, e.g. "brakes".
//   - RiskScore: failure probability in [0,1].
//   - Confidence: model confidence in [0,1].
//   - DaysToFailure: predicted horizon in days.
//   - CausalTags: short machine-readable causes, e.g. "brake_pad_wear".
//   - Rationale: human-readable explanation.
type PredictedIssue struct {
	VehicleID     string   `json:"vehicle_id"`
	Component     string   `json:"component"`
	RiskScore     float64  `json:"risk_score" validate:"gte=0,lte=1"`
	Confidence    float64  `json:"confidence" validate:"gte=0,lte=1"`
	DaysToFailure int      `json:"days_to_failure"`
	CausalTags    []string `json:"causal_tags"`
	Rationale     string   `json:"rationale"`
}

// Urgency buckets a risk score into the engagement tiers used by the voice
// script templates and the simulated owner acceptance rates.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// UrgencyForRisk maps a risk score onto an engagement urgency tier.
func UrgencyForRisk(riskScore float64) Urgency {
	switch {
	case riskScore >= 0.8:
		return UrgencyCritical
	case riskScore >= 0.6:
		return UrgencyHigh
	case riskScore >= 0.4:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// =============================================================================
// Owner Engagement
// =============================================================================

// VoiceScript is the crafted call script for one owner engagement.
type VoiceScript struct {
	VehicleID            string  `json:"vehicle_id"`
	Script               string  `json:"script"`
	Urgency              Urgency `json:"urgency"`
	EstimatedDurationSec int     `json:"estimated_duration_sec"`
}

// EngagementResult is the outcome of a simulated owner call.
type EngagementResult struct {
	VehicleID string  `json:"vehicle_id"`
	Accepted  bool    `json:"accepted"`
	Urgency   Urgency `json:"urgency"`
}

// =============================================================================
// Scheduling
// =============================================================================

// AppointmentProposal lists candidate service slots for a vehicle.
type AppointmentProposal struct {
	VehicleID string      `json:"vehicle_id"`
	Options   []time.Time `json:"options"`
	Center    string      `json:"center"`
}

// AppointmentConfirmation is a booked service slot.
type AppointmentConfirmation struct {
	VehicleID  string    `json:"vehicle_id"`
	ChosenSlot time.Time `json:"chosen_slot"`
	Center     string    `json:"center"`
	BookingID  string    `json:"booking_id"`
}

// =============================================================================
// Feedback
// =============================================================================

// FeedbackPrompt records that a post-booking feedback request went out.
type FeedbackPrompt struct {
	VehicleID      string    `json:"vehicle_id"`
	BookingID      string    `json:"booking_id"`
	Status         string    `json:"status"`
	DeliveryMethod string    `json:"delivery_method"`
	Incentive      string    `json:"incentive"`
	SentAt         time.Time `json:"sent_at"`
}

// =============================================================================
// Manufacturing Report
// =============================================================================

// RCAInsight is the root-cause report submitted to manufacturing at the end
// of a critical-path run.
type RCAInsight struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Actions []string `json:"actions"`
}

// VehicleState is the last known state for a vehicle, kept for the status
// surface. Overwritten by each completed run for the same vehicle.
type VehicleState struct {
	LastSample  TelemetrySample          `json:"last_sample"`
	Analysis    NormalizedReading        `json:"analysis"`
	Issue       *PredictedIssue          `json:"issue,omitempty"`
	Appointment *AppointmentConfirmation `json:"appointment,omitempty"`
	UpdatedAt   time.Time                `json:"updated_at"`
}
