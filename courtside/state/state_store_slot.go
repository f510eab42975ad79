// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/hashicorp/courtside/courtside/structs"
)

// InsertSlots inserts a batch of slots into a draft version in one
// transaction. A slot colliding with an existing active slot on
// (day, start, court) is a CAPACITY error and aborts the batch.
func (s *StateStore) InsertSlots(index uint64, versionID int64, slots []*structs.ScheduleSlot) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := draftVersionTxn(txn, versionID); err != nil {
		return err
	}
	for _, slot := range slots {
		if slot.VersionID != versionID {
			return structs.NewErrValidation(fmt.Sprintf(
				"slot targets version %d not %d", slot.VersionID, versionID))
		}
		if err := s.insertSlotTxn(txn, index, slot); err != nil {
			return err
		}
	}
	if err := bumpIndex(txn, TableSlots, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// insertSlotTxn validates and inserts one slot. The caller owns the index
// table update.
func (s *StateStore) insertSlotTxn(txn *memdb.Txn, index uint64, slot *structs.ScheduleSlot) error {
	if slot.Day == "" || slot.StartMin >= slot.EndMin || slot.CourtNumber < 1 {
		return structs.NewErrValidation(fmt.Sprintf(
			"slot %s %s-%s court %d is malformed",
			slot.Day, structs.FormatClock(slot.StartMin), structs.FormatClock(slot.EndMin), slot.CourtNumber))
	}
	if slot.BlockMinutes <= 0 || slot.BlockMinutes > slot.EndMin-slot.StartMin {
		return structs.NewErrValidation(fmt.Sprintf(
			"slot %s %s court %d block minutes %d exceed the window",
			slot.Day, structs.FormatClock(slot.StartMin), slot.CourtNumber, slot.BlockMinutes))
	}

	// An active duplicate on the same grid cell is a collision.
	iter, err := txn.Get(TableSlots, indexDay, slot.VersionID, slot.Day)
	if err != nil {
		return fmt.Errorf("slot lookup failed: %v", err)
	}
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		existing := raw.(*structs.ScheduleSlot)
		if !existing.Active || existing.ID == slot.ID {
			continue
		}
		if existing.CourtNumber == slot.CourtNumber && existing.StartMin == slot.StartMin {
			return structs.NewErrCapacity(fmt.Sprintf(
				"slot %s %s court %d already exists",
				slot.Day, structs.FormatClock(slot.StartMin), slot.CourtNumber))
		}
	}

	if slot.ID == 0 {
		slot.ID = s.NextID()
	}

	stored := slot.Copy()
	stored.CreateIndex = index
	stored.ModifyIndex = index
	if err := txn.Insert(TableSlots, stored); err != nil {
		return fmt.Errorf("slot insert failed: %v", err)
	}
	return nil
}

// SlotByID returns the slot with the given id, or nil.
func (s *StateStore) SlotByID(ws memdb.WatchSet, id int64) (*structs.ScheduleSlot, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, existing, err := txn.FirstWatch(TableSlots, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("slot lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if existing != nil {
		return existing.(*structs.ScheduleSlot), nil
	}
	return nil, nil
}

// SlotsByVersion returns a version's slots in placement order.
func (s *StateStore) SlotsByVersion(ws memdb.WatchSet, versionID int64) ([]*structs.ScheduleSlot, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableSlots, indexVersion, versionID)
	if err != nil {
		return nil, fmt.Errorf("slot lookup failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.ScheduleSlot
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.ScheduleSlot))
	}
	structs.SortSlots(out)
	return out, nil
}

// SlotsByVersionDay returns one day's slots in placement order.
func (s *StateStore) SlotsByVersionDay(ws memdb.WatchSet, versionID int64, day string) ([]*structs.ScheduleSlot, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableSlots, indexDay, versionID, day)
	if err != nil {
		return nil, fmt.Errorf("slot lookup failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.ScheduleSlot
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.ScheduleSlot))
	}
	structs.SortSlots(out)
	return out, nil
}
