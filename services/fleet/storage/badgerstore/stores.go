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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianFleet/services/fleet/correlator"
	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
	"github.com/AleutianAI/AleutianFleet/services/fleet/ueba"
	"github.com/AleutianAI/AleutianFleet/services/fleet/workflow"
)

// Key prefixes partition the keyspace per record type.
const (
	runPrefix     = "run:"
	vehiclePrefix = "vehicle:"
	orderPrefix   = "order:"
	actionPrefix  = "action:"
)

// txnRetries bounds optimistic-concurrency retries on conflicting commits.
const txnRetries = 5

// RunStore persists workflow run snapshots. Implements workflow.RunStore.
type RunStore struct {
	db *DB
}

func NewRunStore(db *DB) *RunStore { return &RunStore{db: db} }

func (s *RunStore) Save(ctx context.Context, run workflow.Run) error {
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(runPrefix+run.ID), raw)
	})
}

func (s *RunStore) Get(ctx context.Context, runID string) (workflow.Run, error) {
	var run workflow.Run
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(runPrefix + runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", workflow.ErrRunNotFound, runID)
		}
		if err != nil {
			return fmt.Errorf("read run %s: %w", runID, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	return run, err
}

// List returns runs newest-first by UpdatedAt. limit <= 0 means all.
func (s *RunStore) List(ctx context.Context, limit int) ([]workflow.Run, error) {
	var runs []workflow.Run
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return iteratePrefix(txn, runPrefix, func(val []byte) error {
			var run workflow.Run
			if err := json.Unmarshal(val, &run); err != nil {
				return err
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].UpdatedAt.After(runs[j].UpdatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// VehicleStateStore persists last known vehicle state. Implements
// workflow.VehicleStateStore.
type VehicleStateStore struct {
	db *DB
}

func NewVehicleStateStore(db *DB) *VehicleStateStore { return &VehicleStateStore{db: db} }

func (s *VehicleStateStore) Put(ctx context.Context, vehicleID string, state datatypes.VehicleState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode vehicle state %s: %w", vehicleID, err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(vehiclePrefix+vehicleID), raw)
	})
}

func (s *VehicleStateStore) Get(ctx context.Context, vehicleID string) (datatypes.VehicleState, error) {
	var state datatypes.VehicleState
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(vehiclePrefix + vehicleID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", workflow.ErrVehicleNotFound, vehicleID)
		}
		if err != nil {
			return fmt.Errorf("read vehicle %s: %w", vehicleID, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	return state, err
}

// ProcurementStore persists reservations with exactly-once creation.
// Implements correlator.ProcurementStore.
type ProcurementStore struct {
	db *DB
}

func NewProcurementStore(db *DB) *ProcurementStore { return &ProcurementStore{db: db} }

// PutIfAbsent creates the order or bumps the existing order's RequestCount.
// Commit conflicts between racing callers are retried; exactly one caller
// observes created=true.
func (s *ProcurementStore) PutIfAbsent(order correlator.ProcurementOrder) (bool, error) {
	key := []byte(orderPrefix + order.ReservationKey)
	for attempt := 0; attempt < txnRetries; attempt++ {
		created := false
		err := s.db.WithTxn(context.Background(), func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				order.RequestCount = 1
				raw, err := json.Marshal(order)
				if err != nil {
					return err
				}
				created = true
				return txn.Set(key, raw)
			}
			if err != nil {
				return err
			}
			var existing correlator.ProcurementOrder
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
			existing.RequestCount++
			raw, err := json.Marshal(existing)
			if err != nil {
				return err
			}
			created = false
			return txn.Set(key, raw)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("procurement put %s: %w", order.ReservationKey, err)
		}
		return created, nil
	}
	return false, fmt.Errorf("procurement put %s: %w", order.ReservationKey, badger.ErrConflict)
}

func (s *ProcurementStore) Get(reservationKey string) (correlator.ProcurementOrder, bool, error) {
	var order correlator.ProcurementOrder
	found := false
	err := s.db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(orderPrefix + reservationKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &order)
		})
	})
	return order, found, err
}

// List returns orders newest-first by CreatedAt. limit <= 0 means all.
func (s *ProcurementStore) List(limit int) ([]correlator.ProcurementOrder, error) {
	var orders []correlator.ProcurementOrder
	err := s.db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		return iteratePrefix(txn, orderPrefix, func(val []byte) error {
			var order correlator.ProcurementOrder
			if err := json.Unmarshal(val, &order); err != nil {
				return err
			}
			orders = append(orders, order)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// ActionLog persists the guard's append-only action log. Implements
// ueba.ActionLog. Keys carry a monotonic sequence so iteration order is
// append order.
type ActionLog struct {
	db     *DB
	seq    *badger.Sequence
	logger *slog.Logger
}

// NewActionLog reserves a key sequence for the log. Callers should Release
// on shutdown.
func NewActionLog(db *DB, logger *slog.Logger) (*ActionLog, error) {
	seq, err := db.GetSequence([]byte("seq:action"), 128)
	if err != nil {
		return nil, fmt.Errorf("action log sequence: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionLog{db: db, seq: seq, logger: logger}, nil
}

// Release returns unused sequence numbers to the store.
func (l *ActionLog) Release() error {
	return l.seq.Release()
}

// Append adds one record. The ueba.ActionLog contract forbids failing the
// caller's action, so errors are logged and swallowed.
func (l *ActionLog) Append(rec ueba.ActionRecord) {
	n, err := l.seq.Next()
	if err != nil {
		l.logger.Error("action log sequence exhausted", "error", err)
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		l.logger.Error("action record encode failed", "error", err)
		return
	}
	key := []byte(fmt.Sprintf("%s%020d", actionPrefix, n))
	err = l.db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	})
	if err != nil {
		l.logger.Error("action record write failed",
			"participant", rec.Participant, "error", err)
	}
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (l *ActionLog) List(limit int) []ueba.ActionRecord {
	var records []ueba.ActionRecord
	err := l.db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(actionPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		// Reverse iteration seeks past the last key in the prefix range.
		seek := append([]byte(actionPrefix), 0xFF)
		for it.Seek(seek); it.Valid(); it.Next() {
			if limit > 0 && len(records) >= limit {
				break
			}
			if err := it.Item().Value(func(val []byte) error {
				var rec ueba.ActionRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		l.logger.Error("action log read failed", "error", err)
		return nil
	}
	return records
}

func iteratePrefix(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}
