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

import "errors"

var (
	// ErrInvalidTransitionTable indicates the workflow graph failed startup
	// validation (missing edge, unreachable stage, or no path to end).
	ErrInvalidTransitionTable = errors.New("invalid transition table")

	// ErrUndefinedTransition indicates a (stage, outcome) pair with no edge.
	// Hitting this at runtime means the executor produced an outcome the
	// table does not declare; the run is aborted rather than guessed at.
	ErrUndefinedTransition = errors.New("undefined transition")

	// ErrRunNotFound indicates the run id matches no active or archived run.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunTerminal indicates an advance or cancel on an already-ended run.
	ErrRunTerminal = errors.New("run already terminal")

	// ErrVehicleNotFound indicates no completed run has recorded state for
	// the vehicle id.
	ErrVehicleNotFound = errors.New("vehicle not found")

	// ErrRunBlocked indicates the guard denied a stage's participant and the
	// run halted in the blocked substate.
	ErrRunBlocked = errors.New("run blocked by guard")

	// ErrCollaboratorFailed indicates a stage's collaborator call failed
	// after exhausting its retry budget.
	ErrCollaboratorFailed = errors.New("collaborator failed")

	// ErrTransitionBound indicates a run exceeded the transition ceiling, a
	// guard against graph bugs that would otherwise loop forever.
	ErrTransitionBound = errors.New("transition bound exceeded")
)

// StageError wraps a collaborator failure with the stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return "stage " + string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }
