// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers for the fleet service API.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
	"github.com/AleutianAI/AleutianFleet/services/fleet/ueba"
	"github.com/AleutianAI/AleutianFleet/services/fleet/workflow"
)

// batchConcurrency bounds how many runs a single batch request drives at
// once. Distinct runs advance in parallel; this only caps the fan-out.
const batchConcurrency = 8

// alertsSince returns the alerts appended after the log held n entries.
// The log lists newest first, so these are the leading entries.
func alertsSince(alerts ueba.AlertLog, n int) []ueba.Alert {
	all := alerts.List(0)
	raised := len(all) - n
	if raised <= 0 {
		return nil
	}
	return all[:raised]
}

// IngestTelemetry accepts one telemetry sample, drives a workflow run to its
// terminal stage and returns the finished run with its transitions and any
// guard alerts it raised.
func IngestTelemetry(orch *workflow.Orchestrator, alerts ueba.AlertLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		var sample datatypes.TelemetrySample
		if err := c.ShouldBindJSON(&sample); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid telemetry payload: " + err.Error()})
			return
		}

		alertMark := len(alerts.List(0))
		run, err := orch.StartRun(c.Request.Context(), sample, "api")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		transitions, err := orch.RunToCompletion(c.Request.Context(), run.ID)
		if err != nil {
			slog.Error("run failed to complete", "run_id", run.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "run failed", "run_id": run.ID})
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

// BatchResult is one sample's outcome within a batch ingest.
type BatchResult struct {
	VehicleID string `json:"vehicle_id"`
	RunID     string `json:"run_id,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Error     string `json:"error,omitempty"`
}

// IngestTelemetryBatch accepts a list of samples and drives a run for each,
// fanning out across vehicles. Per-sample failures are reported inline; one
// bad sample does not fail the batch.
func IngestTelemetryBatch(orch *workflow.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var samples []datatypes.TelemetrySample
		if err := c.ShouldBindJSON(&samples); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid telemetry batch: " + err.Error()})
			return
		}
		if len(samples) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty telemetry batch"})
			return
		}

		results := make([]BatchResult, len(samples))
		var mu sync.Mutex
		completed := 0

		g, ctx := errgroup.WithContext(c.Request.Context())
		g.SetLimit(batchConcurrency)
		for i, sample := range samples {
			g.Go(func() error {
				res := BatchResult{VehicleID: sample.VehicleID}
				run, err := orch.StartRun(ctx, sample, "batch")
				if err != nil {
					res.Error = err.Error()
					results[i] = res
					return nil
				}
				res.RunID = run.ID
				if _, err := orch.RunToCompletion(ctx, run.ID); err != nil {
					res.Error = err.Error()
				}
				if final, err := orch.Status(ctx, run.ID); err == nil {
					res.Stage = string(final.Stage)
				}
				results[i] = res
				if res.Error == "" {
					mu.Lock()
					completed++
					mu.Unlock()
				}
				return nil
			})
		}
		// Workers never return errors; Wait only observes context cancellation.
		_ = g.Wait()

		c.JSON(http.StatusOK, gin.H{
			"results":   results,
			"count":     len(results),
			"completed": completed,
		})
	}
}

// GetRun returns the current snapshot of one run.
func GetRun(orch *workflow.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("runId")
		status, err := orch.Status(c.Request.Context(), runID)
		if err != nil {
			if errors.Is(err, workflow.ErrRunNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "run_id": runID})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// ListRuns returns archived runs, newest first.
func ListRuns(store workflow.RunStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		runs, err := store.List(c.Request.Context(), intQuery(c, "limit", 50))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
	}
}

// CancelRun marks a run terminal; an in-flight stage result is discarded.
func CancelRun(orch *workflow.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("runId")
		err := orch.Cancel(c.Request.Context(), runID)
		switch {
		case errors.Is(err, workflow.ErrRunNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "run_id": runID})
		case errors.Is(err, workflow.ErrRunTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": "run already terminal", "run_id": runID})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "cancelled", "run_id": runID})
		}
	}
}

// GetVehicle returns the last known state for a vehicle.
func GetVehicle(store workflow.VehicleStateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		vehicleID := c.Param("vehicleId")
		state, err := store.Get(c.Request.Context(), vehicleID)
		if err != nil {
			if errors.Is(err, workflow.ErrVehicleNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found", "vehicle_id": vehicleID})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, state)
	}
}

// GetAppointment returns the vehicle's latest confirmed booking. A vehicle
// whose runs never reached confirmation has no appointment.
func GetAppointment(store workflow.VehicleStateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		vehicleID := c.Param("vehicleId")
		state, err := store.Get(c.Request.Context(), vehicleID)
		if err != nil {
			if errors.Is(err, workflow.ErrVehicleNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found", "vehicle_id": vehicleID})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if state.Appointment == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no appointment", "vehicle_id": vehicleID})
			return
		}
		c.JSON(http.StatusOK, gin.H{"vehicle_id": vehicleID, "appointment": state.Appointment})
	}
}
