// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package desk

import (
	"fmt"

	"github.com/hashicorp/courtside/courtside/structs"
	"github.com/mitchellh/copystructure"
)

// Snapshot is the full read model of one tournament at one version: the
// board, the brackets and every court's state in a single consistent load.
type Snapshot struct {
	Tournament *structs.Tournament
	Version    *structs.ScheduleVersion

	Events []*structs.Event
	Teams  []*structs.Team

	Matches     []*structs.Match
	Slots       []*structs.ScheduleSlot
	Assignments []*structs.MatchAssignment
	CourtStates []*structs.CourtState
}

// Snapshot loads everything a board render needs in one pass. The version
// resolves the same way live reads do: an explicit id wins, then the desk
// draft, the published pointer, the latest final.
func (d *Desk) Snapshot(tournamentID, versionID int64) (*Snapshot, error) {
	version, err := d.ResolveLiveVersion(tournamentID, versionID)
	if err != nil {
		return nil, err
	}
	tour, err := d.store.TournamentByID(nil, tournamentID)
	if err != nil {
		return nil, err
	}
	if tour == nil {
		return nil, structs.NewErrNotFound("tournament", tournamentID)
	}

	snap := &Snapshot{Tournament: tour, Version: version}
	if snap.Events, err = d.store.EventsByTournament(nil, tournamentID); err != nil {
		return nil, err
	}
	for _, event := range snap.Events {
		teams, err := d.store.TeamsByEvent(nil, event.ID)
		if err != nil {
			return nil, err
		}
		snap.Teams = append(snap.Teams, teams...)
	}
	if snap.Matches, err = d.store.MatchesByVersion(nil, version.ID); err != nil {
		return nil, err
	}
	if snap.Slots, err = d.store.SlotsByVersion(nil, version.ID); err != nil {
		return nil, err
	}
	if snap.Assignments, err = d.store.AssignmentsByVersion(nil, version.ID); err != nil {
		return nil, err
	}
	if snap.CourtStates, err = d.store.CourtStatesByTournament(nil, tournamentID); err != nil {
		return nil, err
	}

	// Copy on read so callers never share rows with the store.
	copied, err := copystructure.Copy(snap)
	if err != nil {
		return nil, structs.NewErrInternal(fmt.Sprintf("copying snapshot: %v", err))
	}
	return copied.(*Snapshot), nil
}
