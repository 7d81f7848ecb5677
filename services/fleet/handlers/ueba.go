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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianFleet/services/fleet/registry"
	"github.com/AleutianAI/AleutianFleet/services/fleet/ueba"
)

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// ListAlerts returns guard alerts, newest first.
func ListAlerts(guard *ueba.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		alerts := guard.ListAlerts(intQuery(c, "limit", 100))
		c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
	}
}

// ListActions returns the append-only action log, newest first.
func ListActions(actions ueba.ActionLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		records := actions.List(intQuery(c, "limit", 100))
		c.JSON(http.StatusOK, gin.H{"actions": records, "count": len(records)})
	}
}

// ParticipantState returns a participant's quarantine state.
func ParticipantState(guard *ueba.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		participant := c.Param("participant")
		c.JSON(http.StatusOK, gin.H{
			"participant": participant,
			"state":       guard.State(participant),
		})
	}
}

// ReleaseParticipant lifts a quarantine. Release is explicit and audited;
// nothing releases automatically.
func ReleaseParticipant(guard *ueba.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		participant := c.Param("participant")
		state := guard.Release(participant)
		c.JSON(http.StatusOK, gin.H{
			"participant": participant,
			"state":       state,
		})
	}
}

// ListParticipants returns the capability manifest's roles.
func ListParticipants(reg *registry.AgentRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		participants := reg.Participants()
		c.JSON(http.StatusOK, gin.H{"participants": participants, "count": len(participants)})
	}
}
