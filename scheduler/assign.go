// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"fmt"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/hashicorp/courtside/courtside/structs"
)

// AssignBySequence places every unassigned match of the version by walking
// the master sequence in rank order and first-fitting each entry from its
// target day, spilling into later days on overflow. All courts are used;
// spare court reservation is a daily policy concern, not a sequence one.
func (s *Scheduler) AssignBySequence(versionID int64) (*PlacementResult, error) {
	defer metrics.MeasureSince([]string{"courtside", "scheduler", "assign_sequence"}, time.Now())

	in, err := s.loadInputs(versionID)
	if err != nil {
		return nil, err
	}
	if !in.version.IsDraft() {
		return nil, structs.NewErrVersionNotDraft(versionID)
	}

	ctx := newPlaceContext(in)
	result := &PlacementResult{VersionID: versionID}
	result.Warnings = append(result.Warnings, ctx.claimPins()...)

	for _, sm := range buildSequence(in) {
		m := sm.Match
		if ctx.assigned(m.ID) || m.Final() || m.Status == structs.MatchStatusCancelled {
			continue
		}
		if _, ok := ctx.firstFit(m, ctx.dayIdx[sm.Day], false); !ok {
			result.UnplacedIDs = append(result.UnplacedIDs, m.ID)
			result.Warnings = append(result.Warnings, structs.Warning{
				Code:    structs.WarnNoAvailableSlot,
				Message: fmt.Sprintf("no slot for match %s from day %s onward", m.Code, sm.Day),
				MatchID: m.ID,
			})
		}
	}

	if err := s.writePlan(in, ctx, structs.AssignedBySequence); err != nil {
		return nil, err
	}
	result.PlacedCount = len(ctx.placed)

	if n := len(result.UnplacedIDs); n > 0 {
		metrics.IncrCounter([]string{"courtside", "scheduler", "unplaced"}, float32(n))
	}
	s.logger.Info("sequence placement complete", "version_id", versionID,
		"placed", result.PlacedCount, "unplaced", len(result.UnplacedIDs))
	return result, nil
}

// writePlan commits the run's staged assignments in one transaction. An
// empty run writes nothing.
func (s *Scheduler) writePlan(in *placementInputs, ctx *placeContext, assignedBy string) error {
	plan := &structs.PlacementPlan{
		VersionID:   in.version.ID,
		AssignedBy:  assignedBy,
		Assignments: ctx.placed,
	}
	if plan.Empty() {
		return nil
	}
	return s.store.UpsertPlanResults(s.store.NextIndex(), plan)
}
