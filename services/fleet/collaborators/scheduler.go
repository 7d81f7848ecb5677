// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collaborators

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
)

const serviceCenter = "AutoCare Service Center - Downtown"

// Scheduler proposes service slots and confirms bookings. Booking ids are
// sequential per vehicle so re-running a demo scenario produces stable ids.
type Scheduler struct {
	now func() time.Time

	mu       sync.Mutex
	sequence map[string]int
}

// NewScheduler accepts a nil clock, defaulting to time.Now.
func NewScheduler(now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{now: now, sequence: make(map[string]int)}
}

// ProposeSlots offers three candidate slots over the next three days.
func (s *Scheduler) ProposeSlots(ctx context.Context, issue datatypes.PredictedIssue) (datatypes.AppointmentProposal, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.AppointmentProposal{}, err
	}
	base := s.now().UTC().Truncate(time.Hour)
	return datatypes.AppointmentProposal{
		VehicleID: issue.VehicleID,
		Options: []time.Time{
			base.Add(24*time.Hour + 9*time.Hour),
			base.Add(48*time.Hour + 14*time.Hour),
			base.Add(72*time.Hour + 10*time.Hour),
		},
		Center: serviceCenter,
	}, nil
}

// ConfirmBooking books the earliest proposed slot.
func (s *Scheduler) ConfirmBooking(ctx context.Context, proposal datatypes.AppointmentProposal) (datatypes.AppointmentConfirmation, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.AppointmentConfirmation{}, err
	}
	if len(proposal.Options) == 0 {
		return datatypes.AppointmentConfirmation{}, fmt.Errorf("no slots proposed for vehicle %s", proposal.VehicleID)
	}

	s.mu.Lock()
	s.sequence[proposal.VehicleID]++
	seq := s.sequence[proposal.VehicleID]
	s.mu.Unlock()

	return datatypes.AppointmentConfirmation{
		VehicleID:  proposal.VehicleID,
		ChosenSlot: proposal.Options[0],
		Center:     proposal.Center,
		BookingID:  fmt.Sprintf("BK-%s-%d", proposal.VehicleID, seq),
	}, nil
}
