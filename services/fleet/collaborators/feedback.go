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
	"time"

	"github.com/AleutianAI/AleutianFleet/services/fleet/datatypes"
)

// FeedbackCollector sends the post-booking feedback request.
type FeedbackCollector struct {
	now func() time.Time
}

func NewFeedbackCollector(now func() time.Time) *FeedbackCollector {
	if now == nil {
		now = time.Now
	}
	return &FeedbackCollector{now: now}
}

// Collect records the outgoing prompt for a confirmed booking.
func (f *FeedbackCollector) Collect(ctx context.Context, confirmation datatypes.AppointmentConfirmation) (datatypes.FeedbackPrompt, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.FeedbackPrompt{}, err
	}
	if confirmation.BookingID == "" {
		return datatypes.FeedbackPrompt{}, fmt.Errorf("feedback request without booking id for vehicle %s", confirmation.VehicleID)
	}
	return datatypes.FeedbackPrompt{
		VehicleID:      confirmation.VehicleID,
		BookingID:      confirmation.BookingID,
		Status:         "sent",
		DeliveryMethod: "sms+email",
		Incentive:      "10% discount on next service",
		SentAt:         f.now().UTC(),
	}, nil
}
