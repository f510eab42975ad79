// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/hashicorp/courtside/courtside/structs"
)

// UpsertTournament is used to insert or update a tournament. The stored
// object is a copy; callers keep ownership of the argument.
func (s *StateStore) UpsertTournament(index uint64, tour *structs.Tournament) error {
	if err := tour.Validate(); err != nil {
		return err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	if tour.ID == 0 {
		tour.ID = s.NextID()
	}

	existingRaw, err := txn.First(TableTournaments, indexID, tour.ID)
	if err != nil {
		return fmt.Errorf("tournament lookup failed: %v", err)
	}

	stored := tour.Copy()
	if existingRaw != nil {
		existing := existingRaw.(*structs.Tournament)
		stored.CreateIndex = existing.CreateIndex
		stored.ModifyIndex = index
	} else {
		stored.CreateIndex = index
		stored.ModifyIndex = index
	}

	if err := txn.Insert(TableTournaments, stored); err != nil {
		return fmt.Errorf("tournament insert failed: %v", err)
	}
	if err := bumpIndex(txn, TableTournaments, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// TournamentByID returns the tournament with the given id, or nil.
func (s *StateStore) TournamentByID(ws memdb.WatchSet, id int64) (*structs.Tournament, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, existing, err := txn.FirstWatch(TableTournaments, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("tournament lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if existing != nil {
		return existing.(*structs.Tournament), nil
	}
	return nil, nil
}

// Tournaments returns an iterator over all tournaments.
func (s *StateStore) Tournaments(ws memdb.WatchSet) (memdb.ResultIterator, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableTournaments, indexID)
	if err != nil {
		return nil, fmt.Errorf("tournament lookup failed: %v", err)
	}
	ws.Add(iter.WatchCh())
	return iter, nil
}

// SetPublishedVersion repoints the tournament's published schedule. The
// version must exist and belong to the tournament.
func (s *StateStore) SetPublishedVersion(index uint64, tournamentID, versionID int64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := s.setPublishedVersionTxn(txn, index, tournamentID, versionID); err != nil {
		return err
	}
	if err := bumpIndex(txn, TableTournaments, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

func (s *StateStore) setPublishedVersionTxn(txn *memdb.Txn, index uint64, tournamentID, versionID int64) error {
	tourRaw, err := txn.First(TableTournaments, indexID, tournamentID)
	if err != nil {
		return fmt.Errorf("tournament lookup failed: %v", err)
	}
	if tourRaw == nil {
		return structs.NewErrNotFound("tournament", tournamentID)
	}

	verRaw, err := txn.First(TableVersions, indexID, versionID)
	if err != nil {
		return fmt.Errorf("version lookup failed: %v", err)
	}
	if verRaw == nil {
		return structs.NewErrNotFound("version", versionID)
	}
	if ver := verRaw.(*structs.ScheduleVersion); ver.TournamentID != tournamentID {
		return structs.NewErrValidation(fmt.Sprintf(
			"version %d belongs to tournament %d", versionID, ver.TournamentID))
	}

	tour := tourRaw.(*structs.Tournament).Copy()
	tour.PublishedVersionID = versionID
	tour.ModifyIndex = index

	if err := txn.Insert(TableTournaments, tour); err != nil {
		return fmt.Errorf("tournament insert failed: %v", err)
	}
	return nil
}

// AddCourt appends a court label to the tournament and inserts the slots
// synthesized for it, all in one transaction.
func (s *StateStore) AddCourt(index uint64, tournamentID int64, label string, slots []*structs.ScheduleSlot) error {
	if label == "" {
		return structs.NewErrValidation("court label is required")
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	tourRaw, err := txn.First(TableTournaments, indexID, tournamentID)
	if err != nil {
		return fmt.Errorf("tournament lookup failed: %v", err)
	}
	if tourRaw == nil {
		return structs.NewErrNotFound("tournament", tournamentID)
	}

	tour := tourRaw.(*structs.Tournament)
	if tour.CourtNumber(label) != 0 {
		return structs.NewErrValidation(fmt.Sprintf("court %q already exists", label))
	}

	updated := tour.Copy()
	updated.CourtLabels = append(updated.CourtLabels, label)
	updated.ModifyIndex = index
	if err := txn.Insert(TableTournaments, updated); err != nil {
		return fmt.Errorf("tournament insert failed: %v", err)
	}
	if err := bumpIndex(txn, TableTournaments, index); err != nil {
		return err
	}

	if len(slots) > 0 {
		for _, slot := range slots {
			if err := s.insertSlotTxn(txn, index, slot); err != nil {
				return err
			}
		}
		if err := bumpIndex(txn, TableSlots, index); err != nil {
			return err
		}
	}

	txn.Commit()
	return nil
}

// UpsertCourtState records a per-court runtime annotation.
func (s *StateStore) UpsertCourtState(index uint64, cs *structs.CourtState) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	tourRaw, err := txn.First(TableTournaments, indexID, cs.TournamentID)
	if err != nil {
		return fmt.Errorf("tournament lookup failed: %v", err)
	}
	if tourRaw == nil {
		return structs.NewErrNotFound("tournament", cs.TournamentID)
	}
	tour := tourRaw.(*structs.Tournament)
	if cs.CourtNumber < 1 || cs.CourtNumber > len(tour.CourtLabels) {
		return structs.NewErrValidation(fmt.Sprintf(
			"court number %d out of range 1..%d", cs.CourtNumber, len(tour.CourtLabels)))
	}

	existingRaw, err := txn.First(TableCourtStates, indexID, cs.TournamentID, cs.CourtNumber)
	if err != nil {
		return fmt.Errorf("court state lookup failed: %v", err)
	}

	stored := cs.Copy()
	if existingRaw != nil {
		stored.CreateIndex = existingRaw.(*structs.CourtState).CreateIndex
		stored.ModifyIndex = index
	} else {
		stored.CreateIndex = index
		stored.ModifyIndex = index
	}

	if err := txn.Insert(TableCourtStates, stored); err != nil {
		return fmt.Errorf("court state insert failed: %v", err)
	}
	if err := bumpIndex(txn, TableCourtStates, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// CourtState returns the annotation for one court, or nil when the court
// has none.
func (s *StateStore) CourtState(ws memdb.WatchSet, tournamentID int64, courtNumber int) (*structs.CourtState, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, existing, err := txn.FirstWatch(TableCourtStates, indexID, tournamentID, courtNumber)
	if err != nil {
		return nil, fmt.Errorf("court state lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if existing != nil {
		return existing.(*structs.CourtState), nil
	}
	return nil, nil
}

// CourtStatesByTournament returns all court annotations of a tournament.
func (s *StateStore) CourtStatesByTournament(ws memdb.WatchSet, tournamentID int64) ([]*structs.CourtState, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableCourtStates, indexTournament, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("court state lookup failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.CourtState
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.CourtState))
	}
	return out, nil
}
