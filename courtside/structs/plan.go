// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

// PlacementPlan is the write payload produced by the placement and
// reschedule engines. Engines compute against a read snapshot and emit a
// plan; the state store applies the whole plan in one transaction,
// re-validating occupancy and capacity at apply time. A plan either lands
// in full or not at all.
type PlacementPlan struct {
	VersionID int64

	// AssignedBy stamps assignments that do not carry their own writer
	// tag.
	AssignedBy string

	// NewSlots are inserted after releases and deactivations clear the
	// grid, so a rebuilt day may reuse freed cells. Slots with zero ids
	// are allocated ids at apply time; the engine links assignments to
	// them positionally via SlotRefs.
	NewSlots []*ScheduleSlot

	// DeactivateSlotIDs marks slots inactive. Their assignments must
	// have been moved or listed in UnassignMatchIDs.
	DeactivateSlotIDs []int64

	// UnassignMatchIDs releases existing assignments before the new ones
	// apply.
	UnassignMatchIDs []int64

	// Assignments are the placement decisions. SlotID zero plus a valid
	// SlotRef index targets NewSlots[SlotRef].
	Assignments []*PlannedAssignment

	// MatchUpdates replaces match rows wholesale, e.g. duration changes
	// when a reschedule switches scoring format.
	MatchUpdates []*Match

	// SlotLocks and RemoveSlotLockIDs adjust blocked slots.
	SlotLocks         []*SlotLock
	RemoveSlotLockIDs []int64
}

// PlannedAssignment is one placement decision within a plan.
type PlannedAssignment struct {
	MatchID int64

	// SlotID targets an existing slot. Zero means the assignment targets
	// a slot created by this plan, named by SlotRef.
	SlotID int64

	// SlotRef indexes PlacementPlan.NewSlots when SlotID is zero.
	SlotRef int

	// AssignedBy overrides the plan-level tag when set.
	AssignedBy string

	// Locked pins the assignment against batch replacement.
	Locked bool
}

// Empty reports whether applying the plan would write nothing.
func (p *PlacementPlan) Empty() bool {
	return len(p.NewSlots) == 0 &&
		len(p.DeactivateSlotIDs) == 0 &&
		len(p.UnassignMatchIDs) == 0 &&
		len(p.Assignments) == 0 &&
		len(p.MatchUpdates) == 0 &&
		len(p.SlotLocks) == 0 &&
		len(p.RemoveSlotLockIDs) == 0
}
