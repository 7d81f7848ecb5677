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
	"slices"

	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
)

// Predictor scores component failure risk from a normalized reading.
//
// The rule table is ordered: the first matching rule wins. Rules read the
// canonical sensor keys produced by TelemetrySample.Readings.
type Predictor struct{}

func NewPredictor() *Predictor { return &Predictor{} }

// Predict applies the rule table.
//
// Inputs:
//
//	reading - Normalized sensor values plus DTC codes.
//
// Outputs:
//
//	PredictedIssue - Component, risk score in [0,1] and failure horizon.
func (p *Predictor) Predict(ctx context.Context, reading datatypes.NormalizedReading) (datatypes.PredictedIssue, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.PredictedIssue{}, err
	}

	engineTemp := reading.Readings["engine_temp_c"]
	brakePad := reading.Readings["brake_pad_mm"]
	oilQuality := reading.Readings["oil_quality_pct"]

	issue := datatypes.PredictedIssue{
		VehicleID:     reading.VehicleID,
		Component:     "engine",
		RiskScore:     0.30,
		Confidence:    0.85,
		DaysToFailure: 60,
		Rationale:     "Normal operation",
	}

	switch {
	case engineTemp > engineTempCriticalC || oilQuality < oilQualityCriticalPct:
		issue.Component = "engine"
		issue.RiskScore = 0.85
		issue.DaysToFailure = 7
		issue.CausalTags = []string{"engine_overheat", "oil_degradation"}
		issue.Rationale = fmt.Sprintf("High engine temp (%.1f°C) and low oil quality (%.0f%%)",
			engineTemp, oilQuality)

	case brakePad < brakePadCriticalMM:
		issue.Component = "brakes"
		issue.RiskScore = 0.90
		issue.DaysToFailure = 3
		issue.CausalTags = []string{"brake_pad_wear"}
		issue.Rationale = fmt.Sprintf("Critical brake pad wear (%.1fmm remaining)", brakePad)

	case brakePad < brakePadThresholdMM:
		issue.Component = "brakes"
		issue.RiskScore = 0.65
		issue.DaysToFailure = 14
		issue.CausalTags = []string{"brake_pad_wear"}
		issue.Rationale = fmt.Sprintf("Low brake pad thickness (%.1fmm)", brakePad)

	case oilQuality < oilQualityThresholdPct:
		issue.Component = "oil"
		issue.RiskScore = 0.70
		issue.DaysToFailure = 10
		issue.CausalTags = []string{"oil_degradation"}
		issue.Rationale = fmt.Sprintf("Poor oil quality (%.0f%%)", oilQuality)

	case slices.Contains(reading.DTCCodes, "P0562"):
		issue.Component = "battery"
		issue.RiskScore = 0.75
		issue.DaysToFailure = 5
		issue.CausalTags = []string{"low_voltage"}
		issue.Rationale = "Battery voltage low (DTC P0562)"
	}

	return issue, nil
}
