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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// httpClient is shared by every command. Ingest drives a whole workflow run
// synchronously, so the timeout is generous.
var httpClient = &http.Client{Timeout: 2 * time.Minute}

func getJSON(path string) []byte {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		log.Fatalf("Failed to reach the fleet service at %s: %v", serverURL, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("The fleet service returned an error (status %d): %s",
			resp.StatusCode, string(body))
	}
	return body
}

func postJSON(path string, payload []byte, okStatuses ...int) []byte {
	resp, err := httpClient.Post(serverURL+path, "application/json",
		bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("Failed to reach the fleet service at %s: %v", serverURL, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if len(okStatuses) == 0 {
		okStatuses = []int{http.StatusOK}
	}
	for _, status := range okStatuses {
		if resp.StatusCode == status {
			return body
		}
	}
	log.Fatalf("The fleet service returned an error (status %d): %s",
		resp.StatusCode, string(body))
	return nil
}

func printJSON(body []byte) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(pretty.String())
}

func runIngestCommand(cmd *cobra.Command, args []string) {
	sample, err := os.ReadFile(args[0])
	if err != nil {
		log.Fatalf("Failed to read the sample file: %v", err)
	}
	fmt.Printf("Ingesting telemetry from %s...\n", args[0])
	printJSON(postJSON("/v1/ingest/telemetry", sample))
}

func runDemoCommand(cmd *cobra.Command, args []string) {
	fmt.Println("Running the demo scenario. This drives a full workflow run.")
	printJSON(getJSON("/v1/demo"))
}

func runRunsListCommand(cmd *cobra.Command, args []string) {
	printJSON(getJSON(fmt.Sprintf("/v1/runs?limit=%d", listLimit)))
}

func runRunsGetCommand(cmd *cobra.Command, args []string) {
	printJSON(getJSON("/v1/runs/" + args[0]))
}

func runRunsCancelCommand(cmd *cobra.Command, args []string) {
	printJSON(postJSON("/v1/runs/"+args[0]+"/cancel", nil))
}

func runUebaAlertsCommand(cmd *cobra.Command, args []string) {
	printJSON(getJSON("/v1/ueba/alerts"))
}

func runUebaParticipantsCommand(cmd *cobra.Command, args []string) {
	printJSON(getJSON("/v1/ueba/participants"))
}

func runUebaReleaseCommand(cmd *cobra.Command, args []string) {
	fmt.Printf("Releasing participant %s...\n", args[0])
	printJSON(postJSON("/v1/ueba/participants/"+args[0]+"/release", nil))
}

func runHazardsCommand(cmd *cobra.Command, args []string) {
	printJSON(getJSON("/v1/hazards"))
}

func runProcureCommand(cmd *cobra.Command, args []string) {
	payload, _ := json.Marshal(map[string]any{
		"component":       args[0],
		"forecast_window": args[1],
		"quantity":        procureQuantity,
	})
	printJSON(postJSON("/v1/procurement", payload,
		http.StatusOK, http.StatusCreated))
}
