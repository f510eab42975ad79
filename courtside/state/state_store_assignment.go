// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"
	"sort"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/hashicorp/courtside/courtside/structs"
)

// AssignMatches lands a batch of fresh assignments in one transaction.
// Each target slot must be free, active, unblocked, and long enough for
// the match; matches must not be assigned already. Placement engines
// write through here.
func (s *StateStore) AssignMatches(index uint64, versionID int64, assignments []*structs.MatchAssignment) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := draftVersionTxn(txn, versionID); err != nil {
		return err
	}
	for _, a := range assignments {
		if err := assignMatchTxn(txn, index, versionID, a, false); err != nil {
			return err
		}
	}
	if err := bumpIndex(txn, TableAssignments, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// assignMatchTxn validates and writes one assignment. With replace unset an
// already-assigned match is a conflict; with it set the previous assignment
// is released first.
func assignMatchTxn(txn *memdb.Txn, index uint64, versionID int64, a *structs.MatchAssignment, replace bool) error {
	if a.VersionID != versionID {
		return structs.NewErrValidation(fmt.Sprintf(
			"assignment targets version %d not %d", a.VersionID, versionID))
	}

	matchRaw, err := txn.First(TableMatches, indexID, a.MatchID)
	if err != nil {
		return fmt.Errorf("match lookup failed: %v", err)
	}
	if matchRaw == nil {
		return structs.NewErrNotFound("match", a.MatchID)
	}
	match := matchRaw.(*structs.Match)
	if match.VersionID != versionID {
		return structs.NewErrValidation(fmt.Sprintf(
			"match %s belongs to version %d not %d", match.Code, match.VersionID, versionID))
	}

	slotRaw, err := txn.First(TableSlots, indexID, a.SlotID)
	if err != nil {
		return fmt.Errorf("slot lookup failed: %v", err)
	}
	if slotRaw == nil {
		return structs.NewErrNotFound("slot", a.SlotID)
	}
	slot := slotRaw.(*structs.ScheduleSlot)
	if slot.VersionID != versionID {
		return structs.NewErrValidation(fmt.Sprintf(
			"slot %d belongs to version %d not %d", slot.ID, slot.VersionID, versionID))
	}
	if !slot.Active {
		return structs.NewErrValidation(fmt.Sprintf("slot %d is inactive", slot.ID))
	}

	lockRaw, err := txn.First(TableSlotLocks, indexID, versionID, a.SlotID)
	if err != nil {
		return fmt.Errorf("slot lock lookup failed: %v", err)
	}
	if lockRaw != nil {
		return structs.NewErrValidation(fmt.Sprintf("slot %d is blocked", a.SlotID))
	}

	// Slot length bounds the match duration.
	if match.DurationMinutes > slot.BlockMinutes {
		return structs.NewErrCapacity(fmt.Sprintf(
			"match %s duration %d exceeds slot %d block %d",
			match.Code, match.DurationMinutes, slot.ID, slot.BlockMinutes))
	}

	// One match per slot. Unique indexes do not reject conflicting
	// inserts, so occupancy is checked before writing.
	occupantRaw, err := txn.First(TableAssignments, indexSlot, versionID, a.SlotID)
	if err != nil {
		return fmt.Errorf("assignment lookup failed: %v", err)
	}
	if occupantRaw != nil && occupantRaw.(*structs.MatchAssignment).MatchID != a.MatchID {
		return structs.NewErrConflict(fmt.Sprintf(
			"slot %d already holds match %d", a.SlotID, occupantRaw.(*structs.MatchAssignment).MatchID))
	}

	existingRaw, err := txn.First(TableAssignments, indexID, versionID, a.MatchID)
	if err != nil {
		return fmt.Errorf("assignment lookup failed: %v", err)
	}

	stored := a.Copy()
	if existingRaw != nil {
		existing := existingRaw.(*structs.MatchAssignment)
		if !replace && existing.SlotID != a.SlotID {
			return structs.NewErrConflict(fmt.Sprintf(
				"match %s is already assigned to slot %d", match.Code, existing.SlotID))
		}
		stored.CreateIndex = existing.CreateIndex
		stored.ModifyIndex = index
	} else {
		stored.CreateIndex = index
		stored.ModifyIndex = index
	}

	if err := txn.Insert(TableAssignments, stored); err != nil {
		return fmt.Errorf("assignment insert failed: %v", err)
	}
	return nil
}

// unassignMatchTxn releases a match's assignment if one exists.
func unassignMatchTxn(txn *memdb.Txn, versionID, matchID int64) error {
	raw, err := txn.First(TableAssignments, indexID, versionID, matchID)
	if err != nil {
		return fmt.Errorf("assignment lookup failed: %v", err)
	}
	if raw == nil {
		return nil
	}
	if err := txn.Delete(TableAssignments, raw); err != nil {
		return fmt.Errorf("assignment delete failed: %v", err)
	}
	return nil
}

// UnassignMatches releases assignments in one transaction. Missing
// assignments are ignored.
func (s *StateStore) UnassignMatches(index uint64, versionID int64, matchIDs []int64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := draftVersionTxn(txn, versionID); err != nil {
		return err
	}
	for _, matchID := range matchIDs {
		if err := unassignMatchTxn(txn, versionID, matchID); err != nil {
			return err
		}
	}
	if err := bumpIndex(txn, TableAssignments, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// MoveAssignment relocates a match onto a free slot. An occupied target is
// a conflict; callers run compatibility checks before writing.
func (s *StateStore) MoveAssignment(index uint64, versionID, matchID, slotID int64, assignedBy string, locked bool) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := draftVersionTxn(txn, versionID); err != nil {
		return err
	}

	a := &structs.MatchAssignment{
		VersionID:  versionID,
		MatchID:    matchID,
		SlotID:     slotID,
		AssignedBy: assignedBy,
		Locked:     locked,
	}
	if err := assignMatchTxn(txn, index, versionID, a, true); err != nil {
		return err
	}
	if err := bumpIndex(txn, TableAssignments, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// SwapAssignments exchanges the slots of two assigned matches atomically.
func (s *StateStore) SwapAssignments(index uint64, versionID, matchAID, matchBID int64, assignedBy string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := draftVersionTxn(txn, versionID); err != nil {
		return err
	}

	rawA, err := txn.First(TableAssignments, indexID, versionID, matchAID)
	if err != nil {
		return fmt.Errorf("assignment lookup failed: %v", err)
	}
	if rawA == nil {
		return structs.NewErrNotFound("assignment for match", matchAID)
	}
	rawB, err := txn.First(TableAssignments, indexID, versionID, matchBID)
	if err != nil {
		return fmt.Errorf("assignment lookup failed: %v", err)
	}
	if rawB == nil {
		return structs.NewErrNotFound("assignment for match", matchBID)
	}

	a := rawA.(*structs.MatchAssignment)
	b := rawB.(*structs.MatchAssignment)

	// Release both rows, then write both through the validating path so
	// duration bounds are rechecked against the exchanged slots.
	if err := txn.Delete(TableAssignments, a); err != nil {
		return fmt.Errorf("assignment delete failed: %v", err)
	}
	if err := txn.Delete(TableAssignments, b); err != nil {
		return fmt.Errorf("assignment delete failed: %v", err)
	}

	newA := &structs.MatchAssignment{
		VersionID:  versionID,
		MatchID:    matchAID,
		SlotID:     b.SlotID,
		AssignedBy: assignedBy,
		Locked:     true,
	}
	newB := &structs.MatchAssignment{
		VersionID:  versionID,
		MatchID:    matchBID,
		SlotID:     a.SlotID,
		AssignedBy: assignedBy,
		Locked:     true,
	}
	if err := assignMatchTxn(txn, index, versionID, newA, false); err != nil {
		return err
	}
	if err := assignMatchTxn(txn, index, versionID, newB, false); err != nil {
		return err
	}
	if err := bumpIndex(txn, TableAssignments, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// AssignmentForMatch returns the match's assignment, or nil.
func (s *StateStore) AssignmentForMatch(ws memdb.WatchSet, versionID, matchID int64) (*structs.MatchAssignment, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, existing, err := txn.FirstWatch(TableAssignments, indexID, versionID, matchID)
	if err != nil {
		return nil, fmt.Errorf("assignment lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if existing != nil {
		return existing.(*structs.MatchAssignment), nil
	}
	return nil, nil
}

// AssignmentForSlot returns the slot's assignment, or nil.
func (s *StateStore) AssignmentForSlot(ws memdb.WatchSet, versionID, slotID int64) (*structs.MatchAssignment, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, existing, err := txn.FirstWatch(TableAssignments, indexSlot, versionID, slotID)
	if err != nil {
		return nil, fmt.Errorf("assignment lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if existing != nil {
		return existing.(*structs.MatchAssignment), nil
	}
	return nil, nil
}

// AssignmentsByVersion returns a version's assignments ordered by match id.
func (s *StateStore) AssignmentsByVersion(ws memdb.WatchSet, versionID int64) ([]*structs.MatchAssignment, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableAssignments, indexVersion, versionID)
	if err != nil {
		return nil, fmt.Errorf("assignment lookup failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.MatchAssignment
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.MatchAssignment))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out, nil
}

// UpsertMatchLock pins a match to a slot ahead of placement.
func (s *StateStore) UpsertMatchLock(index uint64, lock *structs.MatchLock) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := draftVersionTxn(txn, lock.VersionID); err != nil {
		return err
	}

	existingRaw, err := txn.First(TableMatchLocks, indexID, lock.VersionID, lock.MatchID)
	if err != nil {
		return fmt.Errorf("match lock lookup failed: %v", err)
	}

	stored := lock.Copy()
	if existingRaw != nil {
		stored.CreateIndex = existingRaw.(*structs.MatchLock).CreateIndex
		stored.ModifyIndex = index
	} else {
		stored.CreateIndex = index
		stored.ModifyIndex = index
	}

	if err := txn.Insert(TableMatchLocks, stored); err != nil {
		return fmt.Errorf("match lock insert failed: %v", err)
	}
	if err := bumpIndex(txn, TableMatchLocks, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// MatchLocksByVersion returns a version's match locks ordered by match id.
func (s *StateStore) MatchLocksByVersion(ws memdb.WatchSet, versionID int64) ([]*structs.MatchLock, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableMatchLocks, indexVersion, versionID)
	if err != nil {
		return nil, fmt.Errorf("match lock lookup failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.MatchLock
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.MatchLock))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out, nil
}

// UpsertSlotLock blocks a slot from placement.
func (s *StateStore) UpsertSlotLock(index uint64, lock *structs.SlotLock) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := draftVersionTxn(txn, lock.VersionID); err != nil {
		return err
	}
	if err := upsertSlotLockTxn(txn, index, lock); err != nil {
		return err
	}
	if err := bumpIndex(txn, TableSlotLocks, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

func upsertSlotLockTxn(txn *memdb.Txn, index uint64, lock *structs.SlotLock) error {
	existingRaw, err := txn.First(TableSlotLocks, indexID, lock.VersionID, lock.SlotID)
	if err != nil {
		return fmt.Errorf("slot lock lookup failed: %v", err)
	}

	stored := lock.Copy()
	if existingRaw != nil {
		stored.CreateIndex = existingRaw.(*structs.SlotLock).CreateIndex
		stored.ModifyIndex = index
	} else {
		stored.CreateIndex = index
		stored.ModifyIndex = index
	}

	if err := txn.Insert(TableSlotLocks, stored); err != nil {
		return fmt.Errorf("slot lock insert failed: %v", err)
	}
	return nil
}

// DeleteSlotLock unblocks a slot. Missing locks are ignored.
func (s *StateStore) DeleteSlotLock(index uint64, versionID, slotID int64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := draftVersionTxn(txn, versionID); err != nil {
		return err
	}

	raw, err := txn.First(TableSlotLocks, indexID, versionID, slotID)
	if err != nil {
		return fmt.Errorf("slot lock lookup failed: %v", err)
	}
	if raw == nil {
		return nil
	}
	if err := txn.Delete(TableSlotLocks, raw); err != nil {
		return fmt.Errorf("slot lock delete failed: %v", err)
	}
	if err := bumpIndex(txn, TableSlotLocks, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// SlotLocksByVersion returns a version's slot locks ordered by slot id.
func (s *StateStore) SlotLocksByVersion(ws memdb.WatchSet, versionID int64) ([]*structs.SlotLock, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableSlotLocks, indexVersion, versionID)
	if err != nil {
		return nil, fmt.Errorf("slot lock lookup failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.SlotLock
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.SlotLock))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotID < out[j].SlotID })
	return out, nil
}

// SlotLockForSlot returns a slot's lock, or nil.
func (s *StateStore) SlotLockForSlot(ws memdb.WatchSet, versionID, slotID int64) (*structs.SlotLock, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, existing, err := txn.FirstWatch(TableSlotLocks, indexID, versionID, slotID)
	if err != nil {
		return nil, fmt.Errorf("slot lock lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if existing != nil {
		return existing.(*structs.SlotLock), nil
	}
	return nil, nil
}
