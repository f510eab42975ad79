// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"
	"sort"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/hashicorp/courtside/courtside/structs"
)

// UpsertScheduleVersion is used to insert or update a schedule version.
// Status transitions are one-way: a final version never becomes a draft
// again (I9/I10).
func (s *StateStore) UpsertScheduleVersion(index uint64, version *structs.ScheduleVersion) error {
	switch version.Status {
	case structs.VersionStatusDraft, structs.VersionStatusFinal:
	default:
		return structs.NewErrValidation(fmt.Sprintf("unknown version status %q", version.Status))
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	tourRaw, err := txn.First(TableTournaments, indexID, version.TournamentID)
	if err != nil {
		return fmt.Errorf("tournament lookup failed: %v", err)
	}
	if tourRaw == nil {
		return structs.NewErrNotFound("tournament", version.TournamentID)
	}

	if version.ID == 0 {
		version.ID = s.NextID()
	}

	existingRaw, err := txn.First(TableVersions, indexID, version.ID)
	if err != nil {
		return fmt.Errorf("version lookup failed: %v", err)
	}

	stored := version.Copy()
	if existingRaw != nil {
		existing := existingRaw.(*structs.ScheduleVersion)
		if !existing.IsDraft() && stored.IsDraft() {
			return structs.NewErrValidation(fmt.Sprintf(
				"version %d is final and cannot return to draft", version.ID))
		}
		stored.CreateIndex = existing.CreateIndex
		stored.ModifyIndex = index
	} else {
		stored.CreateIndex = index
		stored.ModifyIndex = index
	}

	if err := txn.Insert(TableVersions, stored); err != nil {
		return fmt.Errorf("version insert failed: %v", err)
	}
	if err := bumpIndex(txn, TableVersions, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// FinalizeVersion transitions a draft version to final.
func (s *StateStore) FinalizeVersion(index uint64, versionID int64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existingRaw, err := txn.First(TableVersions, indexID, versionID)
	if err != nil {
		return fmt.Errorf("version lookup failed: %v", err)
	}
	if existingRaw == nil {
		return structs.NewErrNotFound("version", versionID)
	}

	existing := existingRaw.(*structs.ScheduleVersion)
	if !existing.IsDraft() {
		return nil
	}

	stored := existing.Copy()
	stored.Status = structs.VersionStatusFinal
	stored.ModifyIndex = index

	if err := txn.Insert(TableVersions, stored); err != nil {
		return fmt.Errorf("version insert failed: %v", err)
	}
	if err := bumpIndex(txn, TableVersions, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// VersionByID returns the schedule version with the given id, or nil.
func (s *StateStore) VersionByID(ws memdb.WatchSet, id int64) (*structs.ScheduleVersion, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, existing, err := txn.FirstWatch(TableVersions, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("version lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if existing != nil {
		return existing.(*structs.ScheduleVersion), nil
	}
	return nil, nil
}

// VersionsByTournament returns a tournament's versions ordered by id.
func (s *StateStore) VersionsByTournament(ws memdb.WatchSet, tournamentID int64) ([]*structs.ScheduleVersion, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableVersions, indexTournament, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("version lookup failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.ScheduleVersion
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.ScheduleVersion))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// VersionByTag returns the tournament's version carrying the given tag, or
// nil. Used to locate the desk draft.
func (s *StateStore) VersionByTag(ws memdb.WatchSet, tournamentID int64, tag string) (*structs.ScheduleVersion, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, existing, err := txn.FirstWatch(TableVersions, indexTag, tournamentID, tag)
	if err != nil {
		return nil, fmt.Errorf("version lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if existing != nil {
		return existing.(*structs.ScheduleVersion), nil
	}
	return nil, nil
}

// draftVersionTxn loads a version inside a write txn and rejects non-drafts.
// Every runtime mutation calls through here.
func draftVersionTxn(txn *memdb.Txn, versionID int64) (*structs.ScheduleVersion, error) {
	raw, err := txn.First(TableVersions, indexID, versionID)
	if err != nil {
		return nil, fmt.Errorf("version lookup failed: %v", err)
	}
	if raw == nil {
		return nil, structs.NewErrNotFound("version", versionID)
	}
	version := raw.(*structs.ScheduleVersion)
	if !version.IsDraft() {
		return nil, structs.NewErrVersionNotDraft(versionID)
	}
	return version, nil
}

// CloneResult reports what CloneVersion produced: the new version plus the
// old-to-new id maps callers use to carry references across.
type CloneResult struct {
	Version  *structs.ScheduleVersion
	MatchIDs map[int64]int64
	SlotIDs  map[int64]int64
}

// CloneVersion deep-copies a schedule version: matches with their
// dependency links remapped, slots, assignments, match locks and slot
// locks, all under fresh ids in one transaction. When publish is set the
// tournament's published pointer moves to the clone in the same
// transaction.
func (s *StateStore) CloneVersion(index uint64, sourceID int64, tag, status string, now time.Time, publish bool) (*CloneResult, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	srcRaw, err := txn.First(TableVersions, indexID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("version lookup failed: %v", err)
	}
	if srcRaw == nil {
		return nil, structs.NewErrNotFound("version", sourceID)
	}
	src := srcRaw.(*structs.ScheduleVersion)

	clone := &structs.ScheduleVersion{
		ID:           s.NextID(),
		TournamentID: src.TournamentID,
		Status:       status,
		Tag:          tag,
		ClonedFromID: src.ID,
		CreateTime:   now,
		CreateIndex:  index,
		ModifyIndex:  index,
	}
	if err := txn.Insert(TableVersions, clone); err != nil {
		return nil, fmt.Errorf("version insert failed: %v", err)
	}

	result := &CloneResult{
		Version:  clone,
		MatchIDs: make(map[int64]int64),
		SlotIDs:  make(map[int64]int64),
	}

	// First pass allocates ids for every match so dependency links can be
	// remapped in the second pass regardless of iteration order.
	matchIter, err := txn.Get(TableMatches, indexVersion, sourceID)
	if err != nil {
		return nil, fmt.Errorf("match lookup failed: %v", err)
	}
	var srcMatches []*structs.Match
	for raw := matchIter.Next(); raw != nil; raw = matchIter.Next() {
		m := raw.(*structs.Match)
		srcMatches = append(srcMatches, m)
		result.MatchIDs[m.ID] = s.NextID()
	}

	for _, src := range srcMatches {
		m := src.Copy()
		m.ID = result.MatchIDs[src.ID]
		m.VersionID = clone.ID
		if m.SourceAID != 0 {
			newID, ok := result.MatchIDs[m.SourceAID]
			if !ok {
				return nil, structs.NewErrInternal(fmt.Sprintf(
					"match %s references %d outside version %d", m.Code, m.SourceAID, sourceID))
			}
			m.SourceAID = newID
		}
		if m.SourceBID != 0 {
			newID, ok := result.MatchIDs[m.SourceBID]
			if !ok {
				return nil, structs.NewErrInternal(fmt.Sprintf(
					"match %s references %d outside version %d", m.Code, m.SourceBID, sourceID))
			}
			m.SourceBID = newID
		}
		m.CreateIndex = index
		m.ModifyIndex = index
		if err := txn.Insert(TableMatches, m); err != nil {
			return nil, fmt.Errorf("match insert failed: %v", err)
		}
	}

	slotIter, err := txn.Get(TableSlots, indexVersion, sourceID)
	if err != nil {
		return nil, fmt.Errorf("slot lookup failed: %v", err)
	}
	for raw := slotIter.Next(); raw != nil; raw = slotIter.Next() {
		src := raw.(*structs.ScheduleSlot)
		sl := src.Copy()
		sl.ID = s.NextID()
		sl.VersionID = clone.ID
		sl.CreateIndex = index
		sl.ModifyIndex = index
		result.SlotIDs[src.ID] = sl.ID
		if err := txn.Insert(TableSlots, sl); err != nil {
			return nil, fmt.Errorf("slot insert failed: %v", err)
		}
	}

	assignIter, err := txn.Get(TableAssignments, indexVersion, sourceID)
	if err != nil {
		return nil, fmt.Errorf("assignment lookup failed: %v", err)
	}
	for raw := assignIter.Next(); raw != nil; raw = assignIter.Next() {
		src := raw.(*structs.MatchAssignment)
		a := src.Copy()
		a.VersionID = clone.ID
		a.MatchID = result.MatchIDs[src.MatchID]
		a.SlotID = result.SlotIDs[src.SlotID]
		if a.MatchID == 0 || a.SlotID == 0 {
			return nil, structs.NewErrInternal(fmt.Sprintf(
				"assignment (%d,%d) references entities outside version %d",
				src.MatchID, src.SlotID, sourceID))
		}
		a.CreateIndex = index
		a.ModifyIndex = index
		if err := txn.Insert(TableAssignments, a); err != nil {
			return nil, fmt.Errorf("assignment insert failed: %v", err)
		}
	}

	lockIter, err := txn.Get(TableMatchLocks, indexVersion, sourceID)
	if err != nil {
		return nil, fmt.Errorf("match lock lookup failed: %v", err)
	}
	for raw := lockIter.Next(); raw != nil; raw = lockIter.Next() {
		src := raw.(*structs.MatchLock)
		l := src.Copy()
		l.VersionID = clone.ID
		l.MatchID = result.MatchIDs[src.MatchID]
		l.SlotID = result.SlotIDs[src.SlotID]
		if l.MatchID == 0 || l.SlotID == 0 {
			return nil, structs.NewErrInternal(fmt.Sprintf(
				"match lock (%d,%d) references entities outside version %d",
				src.MatchID, src.SlotID, sourceID))
		}
		l.CreateIndex = index
		l.ModifyIndex = index
		if err := txn.Insert(TableMatchLocks, l); err != nil {
			return nil, fmt.Errorf("match lock insert failed: %v", err)
		}
	}

	slotLockIter, err := txn.Get(TableSlotLocks, indexVersion, sourceID)
	if err != nil {
		return nil, fmt.Errorf("slot lock lookup failed: %v", err)
	}
	for raw := slotLockIter.Next(); raw != nil; raw = slotLockIter.Next() {
		src := raw.(*structs.SlotLock)
		l := src.Copy()
		l.VersionID = clone.ID
		l.SlotID = result.SlotIDs[src.SlotID]
		if l.SlotID == 0 {
			return nil, structs.NewErrInternal(fmt.Sprintf(
				"slot lock %d references a slot outside version %d", src.SlotID, sourceID))
		}
		l.CreateIndex = index
		l.ModifyIndex = index
		if err := txn.Insert(TableSlotLocks, l); err != nil {
			return nil, fmt.Errorf("slot lock insert failed: %v", err)
		}
	}

	if publish {
		if err := s.setPublishedVersionTxn(txn, index, clone.TournamentID, clone.ID); err != nil {
			return nil, err
		}
		if err := bumpIndex(txn, TableTournaments, index); err != nil {
			return nil, err
		}
	}

	for _, table := range []string{TableVersions, TableMatches, TableSlots,
		TableAssignments, TableMatchLocks, TableSlotLocks} {
		if err := bumpIndex(txn, table, index); err != nil {
			return nil, err
		}
	}

	txn.Commit()
	return result, nil
}
