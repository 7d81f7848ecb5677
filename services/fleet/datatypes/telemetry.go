// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the shared data structures for the fleet service.
//
// This file contains the telemetry ingest types. A TelemetrySample is the raw
// unit of work submitted by a vehicle; it is immutable once accepted and every
// workflow run starts from exactly one sample.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// fleetValidate is the validator instance for fleet datatypes.
var fleetValidate *validator.Validate

func init() {
	fleetValidate = validator.New()
}

// =============================================================================
// Telemetry Sample
// =============================================================================

// TelemetrySample is one raw telemetry submission for a single vehicle.
//
// # Description
//
// A sample carries the sensor readings the predictive pipeline consumes plus
// the geolocation used for fleet-wide hazard correlation. Samples are
// validated at the ingest boundary and never mutated afterwards; every
// downstream component receives a copy or reads derived data.
//
// # Validation
//
// Uses go-playground/validator:
//   - VehicleID: required
//   - Timestamp: required
//   - MileageKm, RPM: >= 0
//   - EngineTempC: sane physical bounds (-50..200)
//   - BrakePadMM: 0..30
//   - OilQualityPct: 0..100
type TelemetrySample struct {
	VehicleID    string    `json:"vehicle_id" validate:"required"`
	VehicleModel string    `json:"vehicle_model"`
	Timestamp    time.Time `json:"timestamp" validate:"required"`

	MileageKm     float64  `json:"mileage_km" validate:"gte=0"`
	EngineTempC   float64  `json:"engine_temp_c" validate:"gte=-50,lte=200"`
	RPM           float64  `json:"rpm" validate:"gte=0"`
	BrakePadMM    float64  `json:"brake_pad_mm" validate:"gte=0,lte=30"`
	OilQualityPct float64  `json:"oil_quality_pct" validate:"gte=0,lte=100"`
	DTCCodes      []string `json:"dtc_codes"`

	// Geography is the route or region identifier used by the fleet
	// correlator, e.g. "route_9".
	Geography string `json:"geography"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Validate checks the sample against its declared constraints.
//
// A failed validation is a rejection at the ingest boundary: no run is
// created for an invalid sample.
func (t *TelemetrySample) Validate() error {
	if err := fleetValidate.Struct(t); err != nil {
		return fmt.Errorf("invalid telemetry sample: %w", err)
	}
	return nil
}

// Readings returns the sample's sensor values as a normalized mapping.
// Keys are stable and used as field names by the timeseries sink.
func (t *TelemetrySample) Readings() map[string]float64 {
	return map[string]float64{
		"mileage_km":      t.MileageKm,
		"engine_temp_c":   t.EngineTempC,
		"rpm":             t.RPM,
		"brake_pad_mm":    t.BrakePadMM,
		"oil_quality_pct": t.OilQualityPct,
	}
}

// =============================================================================
// Normalized Analysis Output
// =============================================================================

// AnomalySeverity grades a single flagged reading.
type AnomalySeverity string

const (
	AnomalySeverityMedium   AnomalySeverity = "medium"
	AnomalySeverityHigh     AnomalySeverity = "high"
	AnomalySeverityCritical AnomalySeverity = "critical"
)

// Anomaly is one sensor reading that crossed its threshold.
type Anomaly struct {
	Value     float64         `json:"value"`
	Threshold float64         `json:"threshold"`
	Severity  AnomalySeverity `json:"severity"`
}

// VehicleHealth is the coarse health grade derived from the anomaly count.
type VehicleHealth string

const (
	HealthGood VehicleHealth = "good"
	HealthFair VehicleHealth = "fair"
	HealthPoor VehicleHealth = "poor"
)

// NormalizedReading is the analyzer's output for one sample: the readings in
// canonical form plus every flagged anomaly keyed by sensor name.
type NormalizedReading struct {
	VehicleID     string             `json:"vehicle_id"`
	Readings      map[string]float64 `json:"readings"`
	DTCCodes      []string           `json:"dtc_codes,omitempty"`
	Anomalies     map[string]Anomaly `json:"anomalies"`
	OverallHealth VehicleHealth      `json:"overall_health"`
}

// AnomalyKeys returns the flagged sensor names. Order is not guaranteed;
// callers needing stable output must sort.
func (n *NormalizedReading) AnomalyKeys() []string {
	keys := make([]string, 0, len(n.Anomalies))
	for k := range n.Anomalies {
		keys = append(keys, k)
	}
	return keys
}
