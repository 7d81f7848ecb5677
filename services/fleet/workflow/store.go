// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
)

// MemRunStore is the in-memory RunStore used by tests and single-node
// deployments without a persistence tier.
type MemRunStore struct {
	mu   sync.RWMutex
	runs map[string]Run
}

func NewMemRunStore() *MemRunStore {
	return &MemRunStore{runs: make(map[string]Run)}
}

func (s *MemRunStore) Save(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.clone()
	return nil
}

func (s *MemRunStore) Get(_ context.Context, runID string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run.clone(), nil
}

// List returns runs newest-first by UpdatedAt. limit <= 0 means all.
func (s *MemRunStore) List(_ context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	out := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemVehicleStateStore is the in-memory VehicleStateStore.
type MemVehicleStateStore struct {
	mu     sync.RWMutex
	states map[string]datatypes.VehicleState
}

func NewMemVehicleStateStore() *MemVehicleStateStore {
	return &MemVehicleStateStore{states: make(map[string]datatypes.VehicleState)}
}

func (s *MemVehicleStateStore) Put(_ context.Context, vehicleID string, state datatypes.VehicleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[vehicleID] = state
	return nil
}

func (s *MemVehicleStateStore) Get(_ context.Context, vehicleID string) (datatypes.VehicleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[vehicleID]
	if !ok {
		return datatypes.VehicleState{}, fmt.Errorf("%w: %s", ErrVehicleNotFound, vehicleID)
	}
	return state, nil
}
