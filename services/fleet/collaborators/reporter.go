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
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
)

// componentActions are the manufacturing follow-ups per component family.
var componentActions = map[string][]string{
	"transmission": {
		"Review transmission fluid supplier quality",
		"Check clutch pack torque specifications",
		"Analyze gear wear patterns across fleet",
	},
	"brakes": {
		"Inspect brake pad material batch",
		"Review hydraulic pressure calibration",
		"Check ABS sensor correlation",
	},
	"engine": {
		"Analyze oil quality and intervals",
		"Review ECU software version",
		"Check turbocharger supplier quality",
	},
	"battery": {
		"Review charging cycle patterns",
		"Check BMS firmware version",
		"Analyze temperature exposure",
	},
}

// Reporter files root-cause reports with manufacturing.
type Reporter struct {
	logger *slog.Logger
}

func NewReporter(logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{logger: logger.With("component", "reporter")}
}

// Submit composes and files the report for a predicted issue.
//
// # Description
//
// The action list is keyed by component family, with an urgent service
// bulletin prepended for critical-risk issues. Every report closes with a
// model-update action so field cases feed the predictive model.
func (r *Reporter) Submit(ctx context.Context, issue datatypes.PredictedIssue, engagement *datatypes.EngagementResult) (datatypes.RCAInsight, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.RCAInsight{}, err
	}

	urgency := datatypes.UrgencyForRisk(issue.RiskScore)

	actions, ok := componentActions[strings.ToLower(issue.Component)]
	if ok {
		actions = append([]string(nil), actions...)
	} else {
		actions = []string{
			fmt.Sprintf("Investigate %s supplier", issue.Component),
			fmt.Sprintf("Review %s assembly procedures", issue.Component),
		}
	}
	if urgency == datatypes.UrgencyCritical {
		actions = append([]string{"URGENT: Issue service bulletin"}, actions...)
		actions = append(actions, "Emergency fleet inspection")
	}
	actions = append(actions, "Update predictive model with case")

	engaged := "owner not engaged"
	if engagement != nil {
		if engagement.Accepted {
			engaged = "owner accepted service"
		} else {
			engaged = "owner declined service"
		}
	}

	insight := datatypes.RCAInsight{
		Title: fmt.Sprintf("[%s] %s alerts - %s",
			strings.ToUpper(string(urgency)), issue.Component, issue.VehicleID),
		Summary: fmt.Sprintf("Vehicle %s shows %s risk %.2f. Days to failure: %d. %s. Engagement: %s.",
			issue.VehicleID, issue.Component, issue.RiskScore,
			issue.DaysToFailure, issue.Rationale, engaged),
		Actions: actions,
	}
	r.logger.InfoContext(ctx, "rca submitted",
		"vehicle_id", issue.VehicleID, "component", issue.Component,
		"risk_score", issue.RiskScore, "actions", len(actions))
	return insight, nil
}
