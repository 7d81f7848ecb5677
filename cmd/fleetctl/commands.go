// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL       string
	listLimit       int
	procureQuantity int

	rootCmd = &cobra.Command{
		Use:   "fleetctl",
		Short: "A cli to operate the Aleutian fleet servicing control plane",
		Long: `fleetctl talks to a running fleet service over its HTTP API.
It can ingest telemetry, inspect and cancel workflow runs, review UEBA
alerts and quarantines, and manage hazard and procurement state.`,
	}

	// --- Ingest / Demo ---
	ingestCmd = &cobra.Command{
		Use:   "ingest [sample.json]",
		Short: "Submit a telemetry sample and drive the run to completion",
		Args:  cobra.ExactArgs(1),
		Run:   runIngestCommand,
	}
	demoCmd = &cobra.Command{
		Use:   "demo",
		Short: "Run the canned critical-engine scenario end to end",
		Run:   runDemoCommand,
	}

	// --- Run Lifecycle ---
	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage workflow runs",
	}
	runsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List archived runs, newest first",
		Run:   runRunsListCommand,
	}
	runsGetCmd = &cobra.Command{
		Use:   "get [run-id]",
		Short: "Show one run with its full stage history",
		Args:  cobra.ExactArgs(1),
		Run:   runRunsGetCommand,
	}
	runsCancelCmd = &cobra.Command{
		Use:   "cancel [run-id]",
		Short: "Cancel an active run",
		Args:  cobra.ExactArgs(1),
		Run:   runRunsCancelCommand,
	}

	// --- UEBA ---
	uebaCmd = &cobra.Command{
		Use:   "ueba",
		Short: "Inspect the behavioral guard",
	}
	uebaAlertsCmd = &cobra.Command{
		Use:   "alerts",
		Short: "List guard alerts, newest first",
		Run:   runUebaAlertsCommand,
	}
	uebaParticipantsCmd = &cobra.Command{
		Use:   "participants",
		Short: "List the capability manifest's participants",
		Run:   runUebaParticipantsCommand,
	}
	uebaReleaseCmd = &cobra.Command{
		Use:   "release [participant]",
		Short: "Lift a participant's quarantine",
		Args:  cobra.ExactArgs(1),
		Run:   runUebaReleaseCommand,
	}

	// --- Fleet Correlation ---
	hazardsCmd = &cobra.Command{
		Use:   "hazards",
		Short: "List fleet hazard broadcasts",
		Run:   runHazardsCommand,
	}
	procureCmd = &cobra.Command{
		Use:   "procure [component] [forecast-window]",
		Short: "Reserve parts ahead of a predicted failure (idempotent)",
		Args:  cobra.ExactArgs(2),
		Run:   runProcureCommand,
	}
)

func init() {
	defaultServer := os.Getenv("FLEET_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:12300"
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer,
		"Base URL of the fleet service")

	runsListCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum runs to list")
	procureCmd.Flags().IntVar(&procureQuantity, "quantity", 1, "Units to reserve")

	runsCmd.AddCommand(runsListCmd, runsGetCmd, runsCancelCmd)
	uebaCmd.AddCommand(uebaAlertsCmd, uebaParticipantsCmd, uebaReleaseCmd)
	rootCmd.AddCommand(ingestCmd, demoCmd, runsCmd, uebaCmd, hazardsCmd, procureCmd)
}
