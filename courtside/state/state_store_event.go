// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"
	"sort"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/hashicorp/courtside/courtside/structs"
)

// UpsertEvent is used to insert or update an event.
func (s *StateStore) UpsertEvent(index uint64, event *structs.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	tourRaw, err := txn.First(TableTournaments, indexID, event.TournamentID)
	if err != nil {
		return fmt.Errorf("tournament lookup failed: %v", err)
	}
	if tourRaw == nil {
		return structs.NewErrNotFound("tournament", event.TournamentID)
	}

	if event.ID == 0 {
		event.ID = s.NextID()
	}

	existingRaw, err := txn.First(TableEvents, indexID, event.ID)
	if err != nil {
		return fmt.Errorf("event lookup failed: %v", err)
	}

	stored := event.Copy()
	if existingRaw != nil {
		stored.CreateIndex = existingRaw.(*structs.Event).CreateIndex
		stored.ModifyIndex = index
	} else {
		stored.CreateIndex = index
		stored.ModifyIndex = index
	}

	if err := txn.Insert(TableEvents, stored); err != nil {
		return fmt.Errorf("event insert failed: %v", err)
	}
	if err := bumpIndex(txn, TableEvents, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// EventByID returns the event with the given id, or nil.
func (s *StateStore) EventByID(ws memdb.WatchSet, id int64) (*structs.Event, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, existing, err := txn.FirstWatch(TableEvents, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("event lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if existing != nil {
		return existing.(*structs.Event), nil
	}
	return nil, nil
}

// EventsByTournament returns the tournament's events ordered by id.
func (s *StateStore) EventsByTournament(ws memdb.WatchSet, tournamentID int64) ([]*structs.Event, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableEvents, indexTournament, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("event lookup failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.Event
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Event))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertTeams inserts or updates an event's teams in one transaction. Seeds
// must be unique within the event across both the batch and what is already
// stored.
func (s *StateStore) UpsertTeams(index uint64, teams []*structs.Team) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	seen := make(map[int64]map[int]int64) // eventID -> seed -> teamID

	for _, team := range teams {
		if team.EventID == 0 {
			return structs.NewErrValidation("team requires an event")
		}
		if team.Seed < 1 {
			return structs.NewErrValidation(fmt.Sprintf("team %q seed %d is invalid", team.Name, team.Seed))
		}

		eventRaw, err := txn.First(TableEvents, indexID, team.EventID)
		if err != nil {
			return fmt.Errorf("event lookup failed: %v", err)
		}
		if eventRaw == nil {
			return structs.NewErrNotFound("event", team.EventID)
		}

		if team.ID == 0 {
			team.ID = s.NextID()
		}

		// Unique indexes do not reject conflicting inserts, so seed
		// collisions are checked here before writing.
		if bySeed := seen[team.EventID]; bySeed != nil {
			if otherID, ok := bySeed[team.Seed]; ok && otherID != team.ID {
				return structs.NewErrValidation(fmt.Sprintf(
					"duplicate seed %d in event %d", team.Seed, team.EventID))
			}
		}
		holderRaw, err := txn.First(TableTeams, indexEventSeed, team.EventID, team.Seed)
		if err != nil {
			return fmt.Errorf("team lookup failed: %v", err)
		}
		if holderRaw != nil && holderRaw.(*structs.Team).ID != team.ID {
			return structs.NewErrValidation(fmt.Sprintf(
				"duplicate seed %d in event %d", team.Seed, team.EventID))
		}
		if seen[team.EventID] == nil {
			seen[team.EventID] = make(map[int]int64)
		}
		seen[team.EventID][team.Seed] = team.ID

		existingRaw, err := txn.First(TableTeams, indexID, team.ID)
		if err != nil {
			return fmt.Errorf("team lookup failed: %v", err)
		}

		stored := team.Copy()
		if existingRaw != nil {
			stored.CreateIndex = existingRaw.(*structs.Team).CreateIndex
			stored.ModifyIndex = index
		} else {
			stored.CreateIndex = index
			stored.ModifyIndex = index
		}

		if err := txn.Insert(TableTeams, stored); err != nil {
			return fmt.Errorf("team insert failed: %v", err)
		}
	}

	if err := bumpIndex(txn, TableTeams, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// TeamByID returns the team with the given id, or nil.
func (s *StateStore) TeamByID(ws memdb.WatchSet, id int64) (*structs.Team, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, existing, err := txn.FirstWatch(TableTeams, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("team lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if existing != nil {
		return existing.(*structs.Team), nil
	}
	return nil, nil
}

// TeamsByEvent returns the event's teams in seed order.
func (s *StateStore) TeamsByEvent(ws memdb.WatchSet, eventID int64) ([]*structs.Team, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableTeams, indexEvent, eventID)
	if err != nil {
		return nil, fmt.Errorf("team lookup failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.Team
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Team))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seed < out[j].Seed })
	return out, nil
}

// SetTeamDefaulted flips a team's defaulted flag.
func (s *StateStore) SetTeamDefaulted(index uint64, teamID int64, defaulted bool) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existingRaw, err := txn.First(TableTeams, indexID, teamID)
	if err != nil {
		return fmt.Errorf("team lookup failed: %v", err)
	}
	if existingRaw == nil {
		return structs.NewErrNotFound("team", teamID)
	}

	existing := existingRaw.(*structs.Team)
	if existing.Defaulted == defaulted {
		return nil
	}

	team := existing.Copy()
	team.Defaulted = defaulted
	team.ModifyIndex = index

	if err := txn.Insert(TableTeams, team); err != nil {
		return fmt.Errorf("team insert failed: %v", err)
	}
	if err := bumpIndex(txn, TableTeams, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}
