// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collaborators

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
)

// speakingRateWPM converts script length into an estimated call duration.
const speakingRateWPM = 150

// acceptanceRates maps engagement urgency to the simulated probability the
// owner agrees to schedule service.
var acceptanceRates = map[datatypes.Urgency]float64{
	datatypes.UrgencyCritical: 0.90,
	datatypes.UrgencyHigh:     0.75,
	datatypes.UrgencyMedium:   0.60,
	datatypes.UrgencyLow:      0.45,
}

// DecisionSource supplies the randomness behind simulated owner decisions.
// Inject a seeded source for deterministic tests.
type DecisionSource interface {
	Float64() float64
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// NewSeededDecisions returns a DecisionSource safe for concurrent use.
func NewSeededDecisions(seed int64) DecisionSource {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

// Engager crafts owner call scripts and simulates placing the calls.
type Engager struct {
	decisions DecisionSource
}

// NewEngager accepts a nil source, in which case decisions use a fixed seed.
func NewEngager(decisions DecisionSource) *Engager {
	if decisions == nil {
		decisions = NewSeededDecisions(1)
	}
	return &Engager{decisions: decisions}
}

// CraftScript renders the urgency-tiered call script for an issue.
func (e *Engager) CraftScript(ctx context.Context, issue datatypes.PredictedIssue) (datatypes.VoiceScript, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.VoiceScript{}, err
	}

	var greeting, tone string
	switch {
	case issue.RiskScore >= 0.8:
		greeting = "Hello, this is your vehicle care team with an urgent safety notification."
		tone = "critical"
	case issue.RiskScore >= 0.6:
		greeting = "Hi, this is your vehicle care team with an important maintenance alert."
		tone = "important"
	default:
		greeting = "Hello, this is your vehicle care team with a proactive maintenance update."
		tone = "preventive"
	}

	script := fmt.Sprintf(`%s

Our monitoring system detected that your %s needs attention. This is a %s issue with approximately %d days before it could become serious.

[pause]

If we don't address this soon, you could face unexpected breakdowns and costly repairs. The good news? We've caught this early.

[pause]

Can we get you scheduled this week? Most %s services take under an hour.`,
		greeting, issue.Component, tone, issue.DaysToFailure, issue.Component)

	return datatypes.VoiceScript{
		VehicleID:            issue.VehicleID,
		Script:               script,
		Urgency:              datatypes.UrgencyForRisk(issue.RiskScore),
		EstimatedDurationSec: len(strings.Fields(script)) * 60 / speakingRateWPM,
	}, nil
}

// CallOwner simulates the call. Acceptance probability follows the script's
// urgency tier.
func (e *Engager) CallOwner(ctx context.Context, script datatypes.VoiceScript) (datatypes.EngagementResult, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.EngagementResult{}, err
	}
	rate, ok := acceptanceRates[script.Urgency]
	if !ok {
		rate = 0.70
	}
	return datatypes.EngagementResult{
		VehicleID: script.VehicleID,
		Accepted:  e.decisions.Float64() < rate,
		Urgency:   script.Urgency,
	}, nil
}
