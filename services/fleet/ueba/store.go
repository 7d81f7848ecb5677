// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains the append-only stores behind the guard: the action log
// and the alert log. Both are explicit dependencies injected at construction,
// not ambient globals.
package ueba

import (
	"sync"
)

// ActionLog is the append-only store of authorized actions.
//
// # Thread Safety
//
// Implementations must be safe for concurrent appends from different
// participants. Ordering across participants is approximately time-ordered;
// the Timestamp field is authoritative, not arrival order.
type ActionLog interface {
	// Append adds one record. Must never fail the caller's action; errors
	// are logged by implementations, not returned.
	Append(rec ActionRecord)

	// List returns up to limit records, newest first. limit <= 0 means all.
	List(limit int) []ActionRecord
}

// AlertLog is the append-only store of anomaly alerts.
//
// # Thread Safety
//
// Same contract as ActionLog. Subscribe may be called concurrently with
// Append; slow subscribers must not block appends.
type AlertLog interface {
	Append(alert Alert)
	List(limit int) []Alert

	// Subscribe returns a channel receiving future alerts. Delivery is
	// best-effort: alerts are dropped for subscribers that fall behind.
	Subscribe() (<-chan Alert, func())
}

// =============================================================================
// In-memory implementations
// =============================================================================

// MemActionLog is the in-memory ActionLog.
type MemActionLog struct {
	mu      sync.RWMutex
	records []ActionRecord
}

// NewMemActionLog returns an empty in-memory action log.
func NewMemActionLog() *MemActionLog {
	return &MemActionLog{}
}

// Append adds one record to the log.
func (l *MemActionLog) Append(rec ActionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

// List returns up to limit records, newest first.
func (l *MemActionLog) List(limit int) []ActionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ActionRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.records[i])
	}
	return out
}

// Len returns the number of records appended so far.
func (l *MemActionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// MemAlertLog is the in-memory AlertLog with best-effort fan-out.
type MemAlertLog struct {
	mu     sync.RWMutex
	alerts []Alert
	subs   map[int]chan Alert
	nextID int
}

// NewMemAlertLog returns an empty in-memory alert log.
func NewMemAlertLog() *MemAlertLog {
	return &MemAlertLog{subs: make(map[int]chan Alert)}
}

// Append adds one alert and fans it out to subscribers without blocking.
func (l *MemAlertLog) Append(alert Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts = append(l.alerts, alert)
	for _, ch := range l.subs {
		select {
		case ch <- alert:
		default:
			// Subscriber fell behind; drop rather than block the guard.
		}
	}
}

// List returns up to limit alerts, newest first.
func (l *MemAlertLog) List(limit int) []Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.alerts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.alerts[i])
	}
	return out
}

// Subscribe registers a buffered subscriber channel. The returned cancel
// function unregisters and closes it.
func (l *MemAlertLog) Subscribe() (<-chan Alert, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	ch := make(chan Alert, 32)
	l.subs[id] = ch

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if sub, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}
