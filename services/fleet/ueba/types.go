// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ueba implements the behavioral security guard that sits on every
// stage transition of the workflow. It enforces a per-participant capability
// allow-list, detects anomalous call patterns, and can quarantine a
// participant mid-run without stopping the rest of the system.
package ueba

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// =============================================================================
// Severity / Quarantine
// =============================================================================

// Severity grades an alert.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// QuarantineState is the per-participant gate state.
//
// Transitions: ALLOWED -> BLOCKED on a triggering alert of severity >= medium
// that quarantines; BLOCKED -> ALLOWED only via an explicit Release. While
// BLOCKED, every action by the participant is rejected before any side effect.
type QuarantineState string

const (
	QuarantineAllowed QuarantineState = "ALLOWED"
	QuarantineBlocked QuarantineState = "BLOCKED"
)

// =============================================================================
// Action Records / Alerts
// =============================================================================

// ActionRecord is one authorized action, appended to the immutable action
// log. ParamFingerprint is a hash of the call parameters; raw payloads are
// never stored.
type ActionRecord struct {
	Timestamp        time.Time `json:"timestamp"`
	Participant      string    `json:"participant"`
	ActionType       string    `json:"action_type"`
	ResourceClass    string    `json:"resource_class"`
	ParamFingerprint string    `json:"param_fingerprint"`
	RunID            string    `json:"run_id"`
	Flagged          bool      `json:"flagged"`
}

// Rule names an anomaly rule that fired.
type Rule string

const (
	// RuleCapabilityViolation fires when a participant acts outside its
	// declared capability set.
	RuleCapabilityViolation Rule = "capability_violation"

	// RuleRateSpike fires when a participant's trailing-window call count
	// exceeds its rolling baseline by the configured spike factor.
	RuleRateSpike Rule = "rate_spike"
)

// Alert is one anomaly finding. Append-only, queryable newest-first.
type Alert struct {
	Timestamp   time.Time    `json:"timestamp"`
	Severity    Severity     `json:"severity"`
	Participant string       `json:"participant"`
	Rule        Rule         `json:"rule"`
	Reason      string       `json:"reason"`
	Record      ActionRecord `json:"record"`
}

// =============================================================================
// Decisions
// =============================================================================

// Decision is the guard's verdict for one attempted action.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason,omitempty"`
}

// Deny reasons. Kept as stable strings because they surface in run status.
const (
	DenyReasonQuarantined         = "quarantined"
	DenyReasonCapabilityViolation = "capability violation"
	DenyReasonUnknownParticipant  = "unknown participant"
)

// =============================================================================
// Clock
// =============================================================================

// Clock abstracts time so window and baseline behavior is deterministic in
// tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// =============================================================================
// Fingerprinting
// =============================================================================

// Fingerprint hashes call parameters for the action log.
//
// encoding/json sorts map keys, so the digest is deterministic for
// map-shaped params. Raw sensitive payloads never reach the log.
func Fingerprint(params any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte("unserializable")
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
