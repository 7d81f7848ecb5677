// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
	"github.com/AleutianAI/AleutianFleet/services/fleet/ueba"
	"github.com/AleutianAI/AleutianFleet/services/fleet/workflow"
)

// DemoSample is the canned critical-path scenario: an overheating engine,
// critically worn brake pads, degraded oil and a misfire DTC.
func DemoSample() datatypes.TelemetrySample {
	return datatypes.TelemetrySample{
		VehicleID:     "VHC-DEMO",
		VehicleModel:  "Aurora GT",
		Timestamp:     time.Now().UTC(),
		MileageKm:     87450,
		EngineTempC:   112.5,
		RPM:           4200,
		BrakePadMM:    1.4,
		OilQualityPct: 22,
		DTCCodes:      []string{"P0301"},
		Geography:     "route_9",
		Latitude:      47.61,
		Longitude:     -122.33,
	}
}

// RunDemo executes the canned scenario end to end.
func RunDemo(orch *workflow.Orchestrator, alerts ueba.AlertLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		alertMark := len(alerts.List(0))
		run, err := orch.StartRun(c.Request.Context(), DemoSample(), "demo")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		transitions, err := orch.RunToCompletion(c.Request.Context(), run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "demo run failed", "run_id": run.ID})
			return
		}
		status, err := orch.Status(c.Request.Context(), run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"run":         status,
			"transitions": transitions,
			"alerts":      alertsSince(alerts, alertMark),
		})
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "fleet"})
}
