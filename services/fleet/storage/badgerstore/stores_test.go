// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFleet/services/fleet/correlator"
	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
	"github.com/AleutianAI/AleutianFleet/services/fleet/ueba"
	"github.com/AleutianAI/AleutianFleet/services/fleet/workflow"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunStoreRoundTrip(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	run := workflow.Run{
		ID:        "run-1",
		VehicleID: "VHC-3001",
		Stage:     workflow.StagePredicting,
		History:   []workflow.Stage{workflow.StageStart, workflow.StageAnalyzing, workflow.StagePredicting},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Sample:    datatypes.TelemetrySample{VehicleID: "VHC-3001", Timestamp: time.Now().UTC()},
		Issue:     &datatypes.PredictedIssue{Component: "brakes", RiskScore: 0.9},
	}
	require.NoError(t, store.Save(context.Background(), run))

	got, err := store.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.History, got.History)
	require.NotNil(t, got.Issue)
	assert.Equal(t, "brakes", got.Issue.Component)

	_, err = store.Get(context.Background(), "run-missing")
	assert.ErrorIs(t, err, workflow.ErrRunNotFound)
}

func TestRunStoreListNewestFirst(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	base := time.Now().UTC()
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, store.Save(context.Background(), workflow.Run{
			ID: id, VehicleID: "VHC-3001", Stage: workflow.StageEnd,
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	runs, err := store.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].ID)
	assert.Equal(t, "run-b", runs[1].ID)
}

func TestVehicleStateStoreRoundTrip(t *testing.T) {
	store := NewVehicleStateStore(openTestDB(t))
	state := datatypes.VehicleState{
		LastSample: datatypes.TelemetrySample{VehicleID: "VHC-3001"},
		Analysis:   datatypes.NormalizedReading{VehicleID: "VHC-3001", OverallHealth: datatypes.HealthPoor},
		UpdatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, store.Put(context.Background(), "VHC-3001", state))

	got, err := store.Get(context.Background(), "VHC-3001")
	require.NoError(t, err)
	assert.Equal(t, datatypes.HealthPoor, got.Analysis.OverallHealth)

	_, err = store.Get(context.Background(), "VHC-9999")
	assert.ErrorIs(t, err, workflow.ErrVehicleNotFound)
}

func TestActionLogAppendAndListNewestFirst(t *testing.T) {
	log, err := NewActionLog(openTestDB(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Release() })

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, participant := range []string{"telemetry", "diagnosis", "voice"} {
		log.Append(ueba.ActionRecord{
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			Participant:   participant,
			ActionType:    "read",
			ResourceClass: "telematics",
			RunID:         "run-1",
		})
	}

	records := log.List(2)
	require.Len(t, records, 2)
	assert.Equal(t, "voice", records[0].Participant)
	assert.Equal(t, "diagnosis", records[1].Participant)

	all := log.List(0)
	assert.Len(t, all, 3)
}

func TestProcurementStorePutIfAbsent(t *testing.T) {
	store := NewProcurementStore(openTestDB(t))
	order := correlator.ProcurementOrder{
		ReservationKey: "res-abc", Component: "brakes",
		ForecastWindow: "3d", Quantity: 1, CreatedAt: time.Now().UTC(),
	}

	created, err := store.PutIfAbsent(order)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.PutIfAbsent(order)
	require.NoError(t, err)
	assert.False(t, created)

	got, found, err := store.Get("res-abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, got.RequestCount)

	_, found, err = store.Get("res-missing")
	require.NoError(t, err)
	assert.False(t, found)

	orders, err := store.List(0)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}
