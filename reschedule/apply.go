// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package reschedule

import (
	"fmt"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"
	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp/courtside/courtside/structs"
)

// RepairResult reports one applied repair plan.
type RepairResult struct {
	PlanID    string
	VersionID int64

	MovedCount int

	// NewSlotCount counts synthesized slots inserted; BlockedSlotCount
	// the lost slots put under blocks.
	NewSlotCount     int
	BlockedSlotCount int

	DurationUpdateCount int
}

// Apply writes a previewed repair in one transaction: every move lands
// locked and stamped RESCHEDULE, duration updates persist, synthesized
// slots are inserted, and the lost slots are blocked so nothing is
// assigned to them afterward. The plan is revalidated against current
// state first; a plan computed before intervening writes fails in full
// rather than applying partially.
func (e *Engine) Apply(plan *RepairPlan) (*RepairResult, error) {
	defer metrics.MeasureSince([]string{"courtside", "reschedule", "apply"}, time.Now())

	in, err := e.loadInputs(plan.VersionID)
	if err != nil {
		return nil, err
	}
	if !in.version.IsDraft() {
		return nil, structs.NewErrVersionNotDraft(plan.VersionID)
	}
	if err := validatePlan(in, plan); err != nil {
		return nil, err
	}

	out := &structs.PlacementPlan{
		VersionID:  plan.VersionID,
		AssignedBy: structs.AssignedByReschedule,
	}
	for _, u := range plan.DurationUpdates {
		updated := in.matchByID[u.MatchID].Copy()
		updated.DurationMinutes = u.ToMinutes
		out.MatchUpdates = append(out.MatchUpdates, updated)
	}
	for _, slot := range plan.NewSlots {
		stored := slot.Copy()
		stored.ID = 0
		stored.VersionID = plan.VersionID
		out.NewSlots = append(out.NewSlots, stored)
	}
	for _, mv := range plan.Moves {
		out.Assignments = append(out.Assignments, &structs.PlannedAssignment{
			MatchID: mv.MatchID,
			SlotID:  mv.ToSlotID,
			SlotRef: mv.ToSlotRef,
			Locked:  true,
		})
	}
	blocked := 0
	for _, slotID := range plan.LostSlotIDs {
		if in.blocked.Contains(slotID) {
			continue
		}
		out.SlotLocks = append(out.SlotLocks, &structs.SlotLock{
			VersionID: plan.VersionID,
			SlotID:    slotID,
			Status:    structs.SlotLockBlocked,
		})
		blocked++
	}

	if err := e.store.UpsertPlanResults(e.store.NextIndex(), out); err != nil {
		return nil, err
	}

	result := &RepairResult{
		PlanID:              plan.PlanID,
		VersionID:           plan.VersionID,
		MovedCount:          len(plan.Moves),
		NewSlotCount:        len(out.NewSlots),
		BlockedSlotCount:    blocked,
		DurationUpdateCount: len(out.MatchUpdates),
	}
	metrics.IncrCounter([]string{"courtside", "reschedule", "moves"}, float32(result.MovedCount))
	e.logger.Info("repair applied",
		"version_id", plan.VersionID, "plan_id", plan.PlanID, "mode", plan.Mode,
		"moved", result.MovedCount, "new_slots", result.NewSlotCount,
		"blocked_slots", result.BlockedSlotCount, "duration_updates", result.DurationUpdateCount)
	return result, nil
}

// validatePlan rechecks a previewed plan against freshly loaded state. All
// problems are collected so the caller sees the full damage of a stale
// plan at once.
func validatePlan(in *repairInputs, plan *RepairPlan) error {
	var mErr *multierror.Error

	for _, u := range plan.DurationUpdates {
		if in.matchByID[u.MatchID] == nil {
			mErr = multierror.Append(mErr, structs.NewErrNotFound("match", u.MatchID))
		}
	}
	for _, mv := range plan.Moves {
		m := in.matchByID[mv.MatchID]
		if m == nil {
			mErr = multierror.Append(mErr, structs.NewErrNotFound("match", mv.MatchID))
			continue
		}
		if m.Final() {
			mErr = multierror.Append(mErr, structs.NewErrConflict(fmt.Sprintf(
				"match %s finished after the preview", m.Code)))
		}
		if mv.ToSlotID == 0 {
			if mv.ToSlotRef < 0 || mv.ToSlotRef >= len(plan.NewSlots) {
				mErr = multierror.Append(mErr, structs.NewErrInternal(fmt.Sprintf(
					"move for match %s references plan slot %d of %d",
					m.Code, mv.ToSlotRef, len(plan.NewSlots))))
			}
			continue
		}
		slot := in.slotByID[mv.ToSlotID]
		if slot == nil {
			mErr = multierror.Append(mErr, structs.NewErrNotFound("slot", mv.ToSlotID))
			continue
		}
		if !slot.Active {
			mErr = multierror.Append(mErr, structs.NewErrConflict(fmt.Sprintf(
				"slot %d went inactive after the preview", mv.ToSlotID)))
		}
		if holder, taken := in.slotTaken[mv.ToSlotID]; taken && holder != mv.MatchID {
			mErr = multierror.Append(mErr, structs.NewErrConflict(fmt.Sprintf(
				"slot %d was taken by match %d after the preview", mv.ToSlotID, holder)))
		}
	}
	return mErr.ErrorOrNil()
}
