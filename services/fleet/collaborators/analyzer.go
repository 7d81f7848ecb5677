// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package collaborators holds the concrete stage implementations the
// orchestrator drives: telemetry analysis, risk prediction, owner
// engagement, scheduling, feedback and the manufacturing report. They are
// deterministic simulations with injectable randomness and clocks so runs
// are reproducible in tests and demos.
package collaborators

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
	"github.com/AleutianAI/AleutianFleet/services/fleet/observability"
)

// Anomaly thresholds for the sensor channels.
const (
	engineTempThresholdC   = 105.0
	engineTempCriticalC    = 110.0
	brakePadThresholdMM    = 3.0
	brakePadCriticalMM     = 2.0
	oilQualityThresholdPct = 30.0
	oilQualityCriticalPct  = 20.0
	rpmThreshold           = 4000.0
)

// Analyzer normalizes raw samples and flags threshold crossings. An optional
// timeseries sink receives every reading; sink errors are logged, never
// surfaced, so the pipeline does not depend on the storage tier.
type Analyzer struct {
	sink   observability.TelemetrySink
	logger *slog.Logger
}

// NewAnalyzer accepts a nil sink and a nil logger.
func NewAnalyzer(sink observability.TelemetrySink, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{sink: sink, logger: logger.With("component", "analyzer")}
}

// Analyze flags anomalous readings and grades overall vehicle health.
//
// # Description
//
// Health grading follows the anomaly count: more than two flagged channels
// is poor, one or two is fair, none is good.
func (a *Analyzer) Analyze(ctx context.Context, sample datatypes.TelemetrySample) (datatypes.NormalizedReading, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.NormalizedReading{}, err
	}

	anomalies := make(map[string]datatypes.Anomaly)

	if sample.EngineTempC > engineTempThresholdC {
		sev := datatypes.AnomalySeverityMedium
		if sample.EngineTempC > engineTempCriticalC {
			sev = datatypes.AnomalySeverityHigh
		}
		anomalies["engine_temp"] = datatypes.Anomaly{
			Value: sample.EngineTempC, Threshold: engineTempThresholdC, Severity: sev,
		}
	}
	if sample.BrakePadMM < brakePadThresholdMM {
		sev := datatypes.AnomalySeverityHigh
		if sample.BrakePadMM < brakePadCriticalMM {
			sev = datatypes.AnomalySeverityCritical
		}
		anomalies["brake_pad"] = datatypes.Anomaly{
			Value: sample.BrakePadMM, Threshold: brakePadThresholdMM, Severity: sev,
		}
	}
	if sample.OilQualityPct < oilQualityThresholdPct {
		sev := datatypes.AnomalySeverityMedium
		if sample.OilQualityPct < oilQualityCriticalPct {
			sev = datatypes.AnomalySeverityHigh
		}
		anomalies["oil_quality"] = datatypes.Anomaly{
			Value: sample.OilQualityPct, Threshold: oilQualityThresholdPct, Severity: sev,
		}
	}
	if sample.RPM > rpmThreshold {
		anomalies["high_rpm"] = datatypes.Anomaly{
			Value: sample.RPM, Threshold: rpmThreshold, Severity: datatypes.AnomalySeverityMedium,
		}
	}

	health := datatypes.HealthGood
	switch {
	case len(anomalies) > 2:
		health = datatypes.HealthPoor
	case len(anomalies) > 0:
		health = datatypes.HealthFair
	}

	if a.sink != nil {
		if err := a.sink.WriteReadings(ctx, sample.VehicleID, sample.Geography,
			sample.Timestamp, sample.Readings()); err != nil {
			a.logger.WarnContext(ctx, "telemetry sink write failed",
				"vehicle_id", sample.VehicleID, "error", err)
		}
	}

	return datatypes.NormalizedReading{
		VehicleID:     sample.VehicleID,
		Readings:      sample.Readings(),
		DTCCodes:      append([]string(nil), sample.DTCCodes...),
		Anomalies:     anomalies,
		OverallHealth: health,
	}, nil
}
