// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianFleet/services/fleet/correlator"
	"github.com/AleutianAI/AleutianFleet/services/fleet/handlers"
	"github.com/AleutianAI/AleutianFleet/services/fleet/middleware"
	"github.com/AleutianAI/AleutianFleet/services/fleet/registry"
	"github.com/AleutianAI/AleutianFleet/services/fleet/ueba"
	"github.com/AleutianAI/AleutianFleet/services/fleet/workflow"
)

// Deps bundles everything the API surface needs.
type Deps struct {
	Orchestrator *workflow.Orchestrator
	Runs         workflow.RunStore
	Vehicles     workflow.VehicleStateStore
	Guard        *ueba.Guard
	Actions      ueba.ActionLog
	Alerts       ueba.AlertLog
	Registry     *registry.AgentRegistry
	Correlator   *correlator.FleetCorrelator
	RateLimiter  *middleware.RateLimiter
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	if deps.RateLimiter != nil {
		v1.Use(deps.RateLimiter.Middleware())
	}
	{
		v1.POST("/ingest/telemetry", handlers.IngestTelemetry(deps.Orchestrator, deps.Alerts))
		v1.POST("/ingest/batch", handlers.IngestTelemetryBatch(deps.Orchestrator))
		v1.GET("/demo", handlers.RunDemo(deps.Orchestrator, deps.Alerts))

		runs := v1.Group("/runs")
		{
			runs.GET("", handlers.ListRuns(deps.Runs))
			runs.GET("/:runId", handlers.GetRun(deps.Orchestrator))
			runs.POST("/:runId/cancel", handlers.CancelRun(deps.Orchestrator))
		}

		v1.GET("/vehicles/:vehicleId", handlers.GetVehicle(deps.Vehicles))
		v1.GET("/vehicles/:vehicleId/appointment", handlers.GetAppointment(deps.Vehicles))

		uebaGroup := v1.Group("/ueba")
		{
			uebaGroup.GET("/alerts", handlers.ListAlerts(deps.Guard))
			uebaGroup.GET("/alerts/ws", handlers.StreamAlerts(deps.Alerts))
			uebaGroup.GET("/actions", handlers.ListActions(deps.Actions))
			uebaGroup.GET("/participants", handlers.ListParticipants(deps.Registry))
			uebaGroup.GET("/participants/:participant", handlers.ParticipantState(deps.Guard))
			uebaGroup.POST("/participants/:participant/release", handlers.ReleaseParticipant(deps.Guard))
		}

		v1.GET("/hazards", handlers.ListHazards(deps.Correlator))
		v1.POST("/procurement", handlers.RequestProcurement(deps.Correlator))
		v1.GET("/procurement", handlers.ListProcurement(deps.Correlator))
	}
}
