// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow implements the deterministic per-run state machine that
// routes a telemetry event through analysis, prediction, owner engagement,
// scheduling, feedback and root-cause reporting. Every stage transition is
// gated by the UEBA guard.
package workflow

import (
	"fmt"
)

// Stage is a named step in the workflow.
type Stage string

const (
	StageStart      Stage = "start"
	StageAnalyzing  Stage = "analyzing"
	StagePredicting Stage = "predicting"
	StageScripting  Stage = "scripting"
	StageCalling    Stage = "calling"
	StageScheduling Stage = "scheduling"
	StageConfirming Stage = "confirming"
	StageFeedback   Stage = "feedback"
	StageRCA        Stage = "rca"
	StageLogging    Stage = "logging"

	// StageEnd is the single ordinary terminal stage.
	StageEnd Stage = "end"

	// StageBlocked is the terminal substate entered when the guard denies a
	// stage's participant. It is reachable from every non-terminal stage and
	// deliberately absent from the transition table.
	StageBlocked Stage = "blocked"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageEnd || s == StageBlocked
}

// Outcome is the result class a stage execution can produce. The transition
// table maps (stage, outcome) to the next stage.
type Outcome string

const (
	// OutcomeOK is a plain success on a linear edge.
	OutcomeOK Outcome = "ok"

	// OutcomeCritical routes prediction onto the critical-handling path.
	OutcomeCritical Outcome = "critical"

	// OutcomeLow routes prediction onto the low-risk path.
	OutcomeLow Outcome = "low"

	// OutcomeAccepted means the owner agreed to schedule service.
	OutcomeAccepted Outcome = "accepted"

	// OutcomeDeclined means the owner was reached and declined.
	OutcomeDeclined Outcome = "declined"

	// OutcomeFailed means the stage's collaborator call exhausted its
	// retries; the run degrades along the stage's fallback edge.
	OutcomeFailed Outcome = "failed"
)

// stageOutcomes declares, per non-terminal stage, the full set of outcomes
// its executor can produce. Startup validation requires an edge for each.
var stageOutcomes = map[Stage][]Outcome{
	StageStart:      {OutcomeOK},
	StageAnalyzing:  {OutcomeOK, OutcomeFailed},
	StagePredicting: {OutcomeCritical, OutcomeLow, OutcomeFailed},
	StageScripting:  {OutcomeOK, OutcomeFailed},
	StageCalling:    {OutcomeAccepted, OutcomeDeclined, OutcomeFailed},
	StageScheduling: {OutcomeOK, OutcomeFailed},
	StageConfirming: {OutcomeOK, OutcomeFailed},
	StageFeedback:   {OutcomeOK, OutcomeFailed},
	StageRCA:        {OutcomeOK, OutcomeFailed},
	StageLogging:    {OutcomeOK},
}

// TransitionTable maps each (stage, outcome) pair to the next stage.
type TransitionTable map[Stage]map[Outcome]Stage

// DefaultTransitions returns the production workflow graph.
//
// Critical path: predict -> script -> call -> {schedule -> confirm ->
// feedback -> rca -> end | rca -> end | end}. Low path: log -> end.
// Collaborator exhaustion degrades along the Failed edges rather than
// aborting: scheduling and confirmation failures fall back to the report
// stage, an unreachable owner ends the run after the report-worthy data is
// already captured by prediction.
func DefaultTransitions() TransitionTable {
	return TransitionTable{
		StageStart: {
			OutcomeOK: StageAnalyzing,
		},
		StageAnalyzing: {
			OutcomeOK:     StagePredicting,
			OutcomeFailed: StageEnd, // unrecoverable ingestion error
		},
		StagePredicting: {
			OutcomeCritical: StageScripting,
			OutcomeLow:      StageLogging,
			OutcomeFailed:   StageLogging, // no score, treat as low risk
		},
		StageScripting: {
			OutcomeOK:     StageCalling,
			OutcomeFailed: StageRCA, // owner unreachable, still report
		},
		StageCalling: {
			OutcomeAccepted: StageScheduling,
			OutcomeDeclined: StageRCA,
			OutcomeFailed:   StageEnd,
		},
		StageScheduling: {
			OutcomeOK:     StageConfirming,
			OutcomeFailed: StageRCA,
		},
		StageConfirming: {
			OutcomeOK:     StageFeedback,
			OutcomeFailed: StageRCA,
		},
		StageFeedback: {
			OutcomeOK:     StageRCA,
			OutcomeFailed: StageRCA, // feedback is best-effort
		},
		StageRCA: {
			OutcomeOK:     StageEnd,
			OutcomeFailed: StageEnd,
		},
		StageLogging: {
			OutcomeOK: StageEnd,
		},
	}
}

// Validate checks the table for completeness and reachability.
//
// # Description
//
// Three properties, all fatal configuration errors when violated:
//  1. Completeness: every non-terminal stage defines an edge for every
//     outcome its executor can produce, and no edges for unknown outcomes.
//  2. Reachability: every stage in the table is reachable from start.
//  3. Termination: end is reachable from every non-terminal stage.
func (t TransitionTable) Validate() error {
	for stage, outcomes := range stageOutcomes {
		edges, ok := t[stage]
		if !ok {
			return fmt.Errorf("%w: stage %q has no edges", ErrInvalidTransitionTable, stage)
		}
		for _, out := range outcomes {
			next, ok := edges[out]
			if !ok {
				return fmt.Errorf("%w: stage %q missing edge for outcome %q",
					ErrInvalidTransitionTable, stage, out)
			}
			if next != StageEnd {
				if _, known := stageOutcomes[next]; !known {
					return fmt.Errorf("%w: stage %q routes %q to undefined stage %q",
						ErrInvalidTransitionTable, stage, out, next)
				}
			}
		}
		for out := range edges {
			if !outcomeDeclared(stage, out) {
				return fmt.Errorf("%w: stage %q declares edge for unknown outcome %q",
					ErrInvalidTransitionTable, stage, out)
			}
		}
	}
	for stage := range t {
		if _, known := stageOutcomes[stage]; !known {
			return fmt.Errorf("%w: table declares edges for unknown stage %q",
				ErrInvalidTransitionTable, stage)
		}
	}

	// Forward reachability from start.
	reached := map[Stage]bool{StageStart: true}
	frontier := []Stage{StageStart}
	for len(frontier) > 0 {
		s := frontier[0]
		frontier = frontier[1:]
		for _, next := range t[s] {
			if !reached[next] {
				reached[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	for stage := range t {
		if !reached[stage] {
			return fmt.Errorf("%w: stage %q unreachable from start",
				ErrInvalidTransitionTable, stage)
		}
	}

	// end must be reachable from every non-terminal stage.
	for stage := range t {
		if !reachesEnd(t, stage, map[Stage]bool{}) {
			return fmt.Errorf("%w: end not reachable from stage %q",
				ErrInvalidTransitionTable, stage)
		}
	}
	return nil
}

func outcomeDeclared(stage Stage, out Outcome) bool {
	for _, o := range stageOutcomes[stage] {
		if o == out {
			return true
		}
	}
	return false
}

func reachesEnd(t TransitionTable, from Stage, seen map[Stage]bool) bool {
	if from == StageEnd {
		return true
	}
	if seen[from] {
		return false
	}
	seen[from] = true
	for _, next := range t[from] {
		if reachesEnd(t, next, seen) {
			return true
		}
	}
	return false
}

// Next computes the successor for a (stage, outcome) pair.
func (t TransitionTable) Next(stage Stage, out Outcome) (Stage, error) {
	edges, ok := t[stage]
	if !ok {
		return "", fmt.Errorf("%w: no edges for stage %q", ErrUndefinedTransition, stage)
	}
	next, ok := edges[out]
	if !ok {
		return "", fmt.Errorf("%w: stage %q has no edge for outcome %q",
			ErrUndefinedTransition, stage, out)
	}
	return next, nil
}
