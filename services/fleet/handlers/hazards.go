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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianFleet/services/fleet/correlator"
)

// ListHazards returns hazard broadcasts, newest first.
func ListHazards(corr *correlator.FleetCorrelator) gin.HandlerFunc {
	return func(c *gin.Context) {
		hazards := corr.Hazards(intQuery(c, "limit", 50))
		c.JSON(http.StatusOK, gin.H{"hazards": hazards, "count": len(hazards)})
	}
}

// ProcurementRequest is the manual procurement API payload.
type ProcurementRequest struct {
	Component      string `json:"component" binding:"required"`
	ForecastWindow string `json:"forecast_window" binding:"required"`
	Quantity       int    `json:"quantity"`
}

// RequestProcurement reserves parts. Idempotent: repeat requests for the
// same component and window return the existing reservation.
func RequestProcurement(corr *correlator.FleetCorrelator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProcurementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid procurement payload: " + err.Error()})
			return
		}
		key, created := corr.RequestProcurement(req.Component, req.ForecastWindow, req.Quantity)
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, gin.H{"reservation_key": key, "created": created})
	}
}

// ListProcurement returns reservations, newest first.
func ListProcurement(corr *correlator.FleetCorrelator) gin.HandlerFunc {
	return func(c *gin.Context) {
		orders, err := corr.Orders(intQuery(c, "limit", 50))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
	}
}
