// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"

	"github.com/hashicorp/courtside/courtside/structs"
)

// UpsertPlanResults applies a placement plan in one transaction. The plan
// was computed against a snapshot; every occupancy and capacity rule is
// re-validated here against current state, so a plan computed on stale
// inputs fails cleanly instead of corrupting the schedule.
//
// Apply order: match updates land first so duration checks see them, then
// lock changes, releases and deactivations clear the grid, then new slots
// are inserted so a rebuilt grid may reuse freed cells, and finally the
// assignments.
func (s *StateStore) UpsertPlanResults(index uint64, plan *structs.PlacementPlan) error {
	if plan.Empty() {
		return nil
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := draftVersionTxn(txn, plan.VersionID); err != nil {
		return err
	}

	touched := make(map[string]bool)

	for _, match := range plan.MatchUpdates {
		if err := match.Validate(); err != nil {
			return err
		}
		existingRaw, err := txn.First(TableMatches, indexID, match.ID)
		if err != nil {
			return fmt.Errorf("match lookup failed: %v", err)
		}
		if existingRaw == nil {
			return structs.NewErrNotFound("match", match.ID)
		}
		existing := existingRaw.(*structs.Match)
		if existing.VersionID != plan.VersionID {
			return structs.NewErrValidation(fmt.Sprintf(
				"match %s belongs to version %d not %d", match.Code, existing.VersionID, plan.VersionID))
		}
		stored := match.Copy()
		stored.CreateIndex = existing.CreateIndex
		stored.ModifyIndex = index
		if err := txn.Insert(TableMatches, stored); err != nil {
			return fmt.Errorf("match insert failed: %v", err)
		}
		touched[TableMatches] = true
	}

	for _, slotID := range plan.RemoveSlotLockIDs {
		raw, err := txn.First(TableSlotLocks, indexID, plan.VersionID, slotID)
		if err != nil {
			return fmt.Errorf("slot lock lookup failed: %v", err)
		}
		if raw != nil {
			if err := txn.Delete(TableSlotLocks, raw); err != nil {
				return fmt.Errorf("slot lock delete failed: %v", err)
			}
			touched[TableSlotLocks] = true
		}
	}
	for _, lock := range plan.SlotLocks {
		if lock.VersionID != plan.VersionID {
			return structs.NewErrValidation(fmt.Sprintf(
				"slot lock targets version %d not %d", lock.VersionID, plan.VersionID))
		}
		if err := upsertSlotLockTxn(txn, index, lock); err != nil {
			return err
		}
		touched[TableSlotLocks] = true
	}

	for _, matchID := range plan.UnassignMatchIDs {
		if err := unassignMatchTxn(txn, plan.VersionID, matchID); err != nil {
			return err
		}
		touched[TableAssignments] = true
	}

	for _, slotID := range plan.DeactivateSlotIDs {
		raw, err := txn.First(TableSlots, indexID, slotID)
		if err != nil {
			return fmt.Errorf("slot lookup failed: %v", err)
		}
		if raw == nil {
			return structs.NewErrNotFound("slot", slotID)
		}
		slot := raw.(*structs.ScheduleSlot)
		if slot.VersionID != plan.VersionID {
			return structs.NewErrValidation(fmt.Sprintf(
				"slot %d belongs to version %d not %d", slotID, slot.VersionID, plan.VersionID))
		}

		occupantRaw, err := txn.First(TableAssignments, indexSlot, plan.VersionID, slotID)
		if err != nil {
			return fmt.Errorf("assignment lookup failed: %v", err)
		}
		if occupantRaw != nil {
			return structs.NewErrConflict(fmt.Sprintf(
				"slot %d still holds match %d", slotID, occupantRaw.(*structs.MatchAssignment).MatchID))
		}

		if slot.Active {
			updated := slot.Copy()
			updated.Active = false
			updated.ModifyIndex = index
			if err := txn.Insert(TableSlots, updated); err != nil {
				return fmt.Errorf("slot insert failed: %v", err)
			}
			touched[TableSlots] = true
		}
	}

	newSlotIDs := make([]int64, len(plan.NewSlots))
	for i, slot := range plan.NewSlots {
		if slot.VersionID != plan.VersionID {
			return structs.NewErrValidation(fmt.Sprintf(
				"slot targets version %d not %d", slot.VersionID, plan.VersionID))
		}
		if err := s.insertSlotTxn(txn, index, slot); err != nil {
			return err
		}
		newSlotIDs[i] = slot.ID
		touched[TableSlots] = true
	}

	for _, pa := range plan.Assignments {
		slotID := pa.SlotID
		if slotID == 0 {
			if pa.SlotRef < 0 || pa.SlotRef >= len(newSlotIDs) {
				return structs.NewErrInternal(fmt.Sprintf(
					"assignment for match %d references plan slot %d of %d",
					pa.MatchID, pa.SlotRef, len(newSlotIDs)))
			}
			slotID = newSlotIDs[pa.SlotRef]
		}
		assignedBy := pa.AssignedBy
		if assignedBy == "" {
			assignedBy = plan.AssignedBy
		}

		a := &structs.MatchAssignment{
			VersionID:  plan.VersionID,
			MatchID:    pa.MatchID,
			SlotID:     slotID,
			AssignedBy: assignedBy,
			Locked:     pa.Locked,
		}
		if err := assignMatchTxn(txn, index, plan.VersionID, a, true); err != nil {
			return err
		}
		touched[TableAssignments] = true
	}

	for table := range touched {
		if err := bumpIndex(txn, table, index); err != nil {
			return err
		}
	}

	txn.Commit()
	return nil
}
