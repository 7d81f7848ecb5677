// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package correlator

import (
	"sync"
	"time"
)

// Hazard is one fleet-level broadcast: the same fault signature observed by
// multiple runs in the same geography within the correlation window.
type Hazard struct {
	Signature   string    `json:"signature"`
	Geography   string    `json:"geography"`
	RunIDs      []string  `json:"run_ids"`
	RunCount    int       `json:"run_count"`
	FirstSeen   time.Time `json:"first_seen"`
	BroadcastAt time.Time `json:"broadcast_at"`
}

// ProcurementOrder is an idempotent parts reservation.
type ProcurementOrder struct {
	ReservationKey string    `json:"reservation_key"`
	Component      string    `json:"component"`
	ForecastWindow string    `json:"forecast_window"`
	Quantity       int       `json:"quantity"`
	CreatedAt      time.Time `json:"created_at"`

	// RequestCount tracks how many calls deduplicated onto this order.
	RequestCount int `json:"request_count"`
}

// HazardLog records hazard broadcasts.
type HazardLog interface {
	Append(h Hazard)
	List(limit int) []Hazard
}

// ProcurementStore keeps reservations keyed by their idempotency key.
// PutIfAbsent returns true when the order was created by this call; an
// existing order has its RequestCount bumped instead.
type ProcurementStore interface {
	PutIfAbsent(order ProcurementOrder) (created bool, err error)
	Get(reservationKey string) (ProcurementOrder, bool, error)
	List(limit int) ([]ProcurementOrder, error)
}

// =============================================================================
// In-memory implementations
// =============================================================================

type MemHazardLog struct {
	mu      sync.RWMutex
	hazards []Hazard
}

func NewMemHazardLog() *MemHazardLog { return &MemHazardLog{} }

func (l *MemHazardLog) Append(h Hazard) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hazards = append(l.hazards, h)
}

// List returns broadcasts newest-first. limit <= 0 means all.
func (l *MemHazardLog) List(limit int) []Hazard {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.hazards)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Hazard, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.hazards[i])
	}
	return out
}

type MemProcurementStore struct {
	mu     sync.Mutex
	orders map[string]*ProcurementOrder
	order  []string
}

func NewMemProcurementStore() *MemProcurementStore {
	return &MemProcurementStore{orders: make(map[string]*ProcurementOrder)}
}

func (s *MemProcurementStore) PutIfAbsent(order ProcurementOrder) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.orders[order.ReservationKey]; ok {
		existing.RequestCount++
		return false, nil
	}
	order.RequestCount = 1
	s.orders[order.ReservationKey] = &order
	s.order = append(s.order, order.ReservationKey)
	return true, nil
}

func (s *MemProcurementStore) Get(reservationKey string) (ProcurementOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[reservationKey]
	if !ok {
		return ProcurementOrder{}, false, nil
	}
	return *o, true, nil
}

// List returns orders newest-first. limit <= 0 means all.
func (s *MemProcurementStore) List(limit int) ([]ProcurementOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.order)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ProcurementOrder, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, *s.orders[s.order[i]])
	}
	return out, nil
}
