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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFleet/services/fleet/collaborators"
	"github.com/AleutianAI/AleutianFleet/services/fleet/correlator"
	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
	"github.com/AleutianAI/AleutianFleet/services/fleet/registry"
	"github.com/AleutianAI/AleutianFleet/services/fleet/ueba"
	"github.com/AleutianAI/AleutianFleet/services/fleet/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// alwaysAccept makes every owner call deterministic regardless of urgency.
type alwaysAccept struct{}

func (alwaysAccept) Float64() float64 { return 0.01 }

// testEnv is a fully wired service with in-memory stores and real
// collaborators, suitable for exercising handlers end to end.
type testEnv struct {
	orch     *workflow.Orchestrator
	runs     workflow.RunStore
	vehicles workflow.VehicleStateStore
	guard    *ueba.Guard
	actions  ueba.ActionLog
	alerts   ueba.AlertLog
	corr     *correlator.FleetCorrelator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg, err := registry.NewAgentRegistry()
	require.NoError(t, err)
	actions := ueba.NewMemActionLog()
	alerts := ueba.NewMemAlertLog()
	guard, err := ueba.NewGuard(reg, actions, alerts,
		ueba.DefaultConfig(), nil, nil)
	require.NoError(t, err)

	corr := correlator.New(correlator.DefaultConfig(), nil, nil, nil, nil, nil)

	runs := workflow.NewMemRunStore()
	vehicles := workflow.NewMemVehicleStateStore()
	cfg := workflow.DefaultConfig()
	cfg.RetryBackoff = time.Millisecond

	orch, err := workflow.NewOrchestrator(cfg, workflow.DefaultTransitions(),
		workflow.Deps{
			Collaborators: workflow.Collaborators{
				Analyzer:  collaborators.NewAnalyzer(nil, nil),
				Predictor: collaborators.NewPredictor(),
				Engager:   collaborators.NewEngager(alwaysAccept{}),
				Scheduler: collaborators.NewScheduler(nil),
				Feedback:  collaborators.NewFeedbackCollector(nil),
				Reporter:  collaborators.NewReporter(nil),
			},
			Guard:      guard,
			Correlator: corr,
			Runs:       runs,
			Vehicles:   vehicles,
		})
	require.NoError(t, err)

	return &testEnv{
		orch:     orch,
		runs:     runs,
		vehicles: vehicles,
		guard:    guard,
		actions:  actions,
		alerts:   alerts,
		corr:     corr,
	}
}

func criticalSampleJSON(t *testing.T, vehicleID string) []byte {
	t.Helper()
	sample := datatypes.TelemetrySample{
		VehicleID:     vehicleID,
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
	body, err := json.Marshal(sample)
	require.NoError(t, err)
	return body
}

func healthySampleJSON(t *testing.T, vehicleID string) []byte {
	t.Helper()
	sample := datatypes.TelemetrySample{
		VehicleID:     vehicleID,
		Timestamp:     time.Now().UTC(),
		MileageKm:     12000,
		EngineTempC:   88,
		RPM:           2100,
		BrakePadMM:    9.5,
		OilQualityPct: 80,
		Geography:     "route_1",
	}
	body, err := json.Marshal(sample)
	require.NoError(t, err)
	return body
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck_ReturnsOK(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, "fleet", response["service"])
}

// =============================================================================
// Ingest Tests
// =============================================================================

func TestIngestTelemetry_CriticalPathRunsToCompletion(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.POST("/v1/ingest/telemetry", IngestTelemetry(env.orch, env.alerts))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/ingest/telemetry",
		bytes.NewReader(criticalSampleJSON(t, "VHC-3001")))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response struct {
		Run         workflow.Run          `json:"run"`
		Transitions []workflow.StageResult `json:"transitions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))

	assert.Equal(t, workflow.StageEnd, response.Run.Stage)
	assert.Equal(t, "VHC-3001", response.Run.VehicleID)
	require.NotEmpty(t, response.Transitions)
	last := response.Transitions[len(response.Transitions)-1]
	assert.True(t, last.Terminal)
	require.NotNil(t, response.Run.Confirmation)
	assert.NotEmpty(t, response.Run.Confirmation.BookingID)
	require.NotNil(t, response.Run.Insight)
}

func TestIngestTelemetry_HealthyVehicleTakesLoggingPath(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.POST("/v1/ingest/telemetry", IngestTelemetry(env.orch, env.alerts))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/ingest/telemetry",
		bytes.NewReader(healthySampleJSON(t, "VHC-3002")))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response struct {
		Run workflow.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))

	assert.Equal(t, workflow.StageEnd, response.Run.Stage)
	assert.Contains(t, response.Run.History, workflow.StageLogging)
	assert.Nil(t, response.Run.Confirmation)
}

func TestIngestTelemetryBatch_FansOutAcrossVehicles(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.POST("/v1/ingest/batch", IngestTelemetryBatch(env.orch))

	var samples []json.RawMessage
	for i := 0; i < 4; i++ {
		samples = append(samples, healthySampleJSON(t, fmt.Sprintf("VHC-70%02d", i)))
	}
	// One invalid sample must not fail the batch.
	samples = append(samples, []byte(`{"timestamp": "2026-03-10T08:00:00Z"}`))
	body, err := json.Marshal(samples)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/ingest/batch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response struct {
		Results   []BatchResult `json:"results"`
		Count     int           `json:"count"`
		Completed int           `json:"completed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 5, response.Count)
	assert.Equal(t, 4, response.Completed)
	for _, res := range response.Results[:4] {
		assert.Empty(t, res.Error)
		assert.Equal(t, string(workflow.StageEnd), res.Stage)
	}
	assert.NotEmpty(t, response.Results[4].Error)
}

func TestIngestTelemetryBatch_RejectsEmptyBatch(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.POST("/v1/ingest/batch", IngestTelemetryBatch(env.orch))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/ingest/batch", bytes.NewReader([]byte(`[]`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestTelemetry_RejectsInvalidPayload(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.POST("/v1/ingest/telemetry", IngestTelemetry(env.orch, env.alerts))

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"vehicle_id": `},
		{"missing vehicle id", `{"timestamp": "2026-03-10T08:00:00Z"}`},
		{"negative brake pad", `{"vehicle_id": "VHC-1", "timestamp": "2026-03-10T08:00:00Z", "brake_pad_mm": -1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("POST", "/v1/ingest/telemetry",
				bytes.NewReader([]byte(tc.body)))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

// =============================================================================
// Run Lifecycle Tests
// =============================================================================

func TestGetRun_NotFound(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.GET("/v1/runs/:runId", GetRun(env.orch))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/runs/run-missing", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRuns_ReturnsArchivedRuns(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.POST("/v1/ingest/telemetry", IngestTelemetry(env.orch, env.alerts))
	router.GET("/v1/runs", ListRuns(env.runs))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/v1/ingest/telemetry",
			bytes.NewReader(healthySampleJSON(t, fmt.Sprintf("VHC-40%02d", i))))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/runs?limit=2", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Runs  []workflow.Run `json:"runs"`
		Count int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 2, response.Count)
	assert.Len(t, response.Runs, 2)
}

func TestCancelRun_NotFoundAndConflict(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.POST("/v1/ingest/telemetry", IngestTelemetry(env.orch, env.alerts))
	router.POST("/v1/runs/:runId/cancel", CancelRun(env.orch))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/runs/run-missing/cancel", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// A run that already reached end cannot be cancelled.
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/v1/ingest/telemetry",
		bytes.NewReader(healthySampleJSON(t, "VHC-4100")))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Run workflow.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/v1/runs/"+response.Run.ID+"/cancel", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetVehicle_TracksLastKnownState(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.POST("/v1/ingest/telemetry", IngestTelemetry(env.orch, env.alerts))
	router.GET("/v1/vehicles/:vehicleId", GetVehicle(env.vehicles))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/vehicles/VHC-5000", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/v1/ingest/telemetry",
		bytes.NewReader(criticalSampleJSON(t, "VHC-5000")))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/v1/vehicles/VHC-5000", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "VHC-5000")
}

// A booked run leaves the appointment on the vehicle surface; vehicles with
// only healthy runs report none.
func TestGetAppointment_SurfacesConfirmedBooking(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.POST("/v1/ingest/telemetry", IngestTelemetry(env.orch, env.alerts))
	router.GET("/v1/vehicles/:vehicleId/appointment", GetAppointment(env.vehicles))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/vehicles/VHC-5100/appointment", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/v1/ingest/telemetry",
		bytes.NewReader(criticalSampleJSON(t, "VHC-5100")))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/v1/vehicles/VHC-5100/appointment", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "booking_id")

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/v1/ingest/telemetry",
		bytes.NewReader(healthySampleJSON(t, "VHC-5200")))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/v1/vehicles/VHC-5200/appointment", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// Demo Tests
// =============================================================================

func TestRunDemo_CompletesCriticalScenario(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.GET("/v1/demo", RunDemo(env.orch, env.alerts))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/demo", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response struct {
		Run workflow.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "VHC-DEMO", response.Run.VehicleID)
	assert.Equal(t, workflow.StageEnd, response.Run.Stage)
	require.NotNil(t, response.Run.Issue)
	assert.Equal(t, "engine", response.Run.Issue.Component)
}

// =============================================================================
// UEBA Surface Tests
// =============================================================================

func TestListActions_RecordsEveryAttendedStage(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.POST("/v1/ingest/telemetry", IngestTelemetry(env.orch, env.alerts))
	router.GET("/v1/ueba/actions", ListActions(env.actions))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/ingest/telemetry",
		bytes.NewReader(healthySampleJSON(t, "VHC-6000")))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/v1/ueba/actions", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	// Healthy path attends analyzing, predicting and logging.
	assert.Equal(t, 3, response.Count)
}

func TestListParticipants_ReflectsManifest(t *testing.T) {
	reg, err := registry.NewAgentRegistry()
	require.NoError(t, err)

	router := gin.New()
	router.GET("/v1/ueba/participants", ListParticipants(reg))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/ueba/participants", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	for _, role := range []string{"telemetry", "diagnosis", "voice", "scheduling", "feedback", "manufacturing", "orchestrator"} {
		assert.Contains(t, body, role)
	}
}

func TestReleaseParticipant_LiftsQuarantine(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.GET("/v1/ueba/participants/:participant", ParticipantState(env.guard))
	router.POST("/v1/ueba/participants/:participant/release", ReleaseParticipant(env.guard))

	env.guard.Quarantine("voice")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/ueba/participants/voice", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(ueba.QuarantineBlocked))

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/v1/ueba/participants/voice/release", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(ueba.QuarantineAllowed))
}

// =============================================================================
// Hazard and Procurement Tests
// =============================================================================

func TestRequestProcurement_IdempotentAcrossRequests(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.POST("/v1/procurement", RequestProcurement(env.corr))
	router.GET("/v1/procurement", ListProcurement(env.corr))

	payload := []byte(`{"component": "brakes", "forecast_window": "3d", "quantity": 2}`)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/procurement", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var first struct {
		ReservationKey string `json:"reservation_key"`
		Created        bool   `json:"created"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.True(t, first.Created)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/v1/procurement", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var second struct {
		ReservationKey string `json:"reservation_key"`
		Created        bool   `json:"created"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.False(t, second.Created)
	assert.Equal(t, first.ReservationKey, second.ReservationKey)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/v1/procurement", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var orders struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	assert.Equal(t, 1, orders.Count)
}

func TestRequestProcurement_RejectsMissingFields(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.POST("/v1/procurement", RequestProcurement(env.corr))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/procurement",
		bytes.NewReader([]byte(`{"component": "brakes"}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListHazards_SurfacesCorrelatedBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.GET("/v1/hazards", ListHazards(env.corr))

	env.corr.Observe("run-a", "brakes_failure", "route_9")
	env.corr.Observe("run-b", "brakes_failure", "route_9")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/hazards", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Hazards []correlator.Hazard `json:"hazards"`
		Count   int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Equal(t, 1, response.Count)
	assert.Equal(t, "brakes_failure", response.Hazards[0].Signature)
	assert.Equal(t, "route_9", response.Hazards[0].Geography)
}
