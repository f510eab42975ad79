// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package desk

import (
	"fmt"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/hashicorp/courtside/courtside/structs"
)

// DraftResult reports the desk draft for a tournament and whether this call
// created it.
type DraftResult struct {
	Version *structs.ScheduleVersion
	Created bool
}

// CloneToDeskDraft returns the tournament's desk draft, cloning one from the
// published schedule on first call. The clone carries every match, slot,
// assignment and lock under fresh ids with dependency links remapped, and
// the tournament's published pointer moves to it in the same transaction so
// players see scores as the desk enters them. Idempotent: later calls return
// the existing draft.
func (d *Desk) CloneToDeskDraft(tournamentID int64) (*DraftResult, error) {
	defer metrics.MeasureSince([]string{"courtside", "desk", "clone_draft"}, time.Now())

	tour, err := d.store.TournamentByID(nil, tournamentID)
	if err != nil {
		return nil, err
	}
	if tour == nil {
		return nil, structs.NewErrNotFound("tournament", tournamentID)
	}

	existing, err := d.store.VersionByTag(nil, tournamentID, structs.DeskDraftTag)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &DraftResult{Version: existing, Created: false}, nil
	}

	sourceID := tour.PublishedVersionID
	if sourceID == 0 {
		latest, err := d.latestFinal(tournamentID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return nil, structs.NewErrValidation(fmt.Sprintf(
				"tournament %q has no published or final version to clone", tour.Name))
		}
		sourceID = latest.ID
	}

	clone, err := d.store.CloneVersion(d.store.NextIndex(), sourceID,
		structs.DeskDraftTag, structs.VersionStatusDraft, d.clock.Now().UTC(), true)
	if err != nil {
		return nil, err
	}

	d.logger.Info("cloned desk draft",
		"tournament_id", tournamentID,
		"source_version_id", sourceID,
		"draft_version_id", clone.Version.ID,
		"matches", len(clone.MatchIDs))
	return &DraftResult{Version: clone.Version, Created: true}, nil
}

// ResolveLiveVersion picks the version the runtime reads and writes:
// an explicit id wins, then the desk draft, then the published pointer,
// then the latest final version.
func (d *Desk) ResolveLiveVersion(tournamentID, explicitID int64) (*structs.ScheduleVersion, error) {
	if explicitID != 0 {
		version, err := d.store.VersionByID(nil, explicitID)
		if err != nil {
			return nil, err
		}
		if version == nil {
			return nil, structs.NewErrNotFound("schedule version", explicitID)
		}
		if version.TournamentID != tournamentID {
			return nil, structs.NewErrValidation(fmt.Sprintf(
				"version %d belongs to tournament %d not %d",
				explicitID, version.TournamentID, tournamentID))
		}
		return version, nil
	}

	tour, err := d.store.TournamentByID(nil, tournamentID)
	if err != nil {
		return nil, err
	}
	if tour == nil {
		return nil, structs.NewErrNotFound("tournament", tournamentID)
	}

	draft, err := d.store.VersionByTag(nil, tournamentID, structs.DeskDraftTag)
	if err != nil {
		return nil, err
	}
	if draft != nil {
		return draft, nil
	}

	if tour.PublishedVersionID != 0 {
		published, err := d.store.VersionByID(nil, tour.PublishedVersionID)
		if err != nil {
			return nil, err
		}
		if published != nil {
			return published, nil
		}
	}

	latest, err := d.latestFinal(tournamentID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, structs.NewErrNotFound("live version for tournament", tournamentID)
	}
	return latest, nil
}

// latestFinal returns the tournament's newest final version, or nil.
func (d *Desk) latestFinal(tournamentID int64) (*structs.ScheduleVersion, error) {
	versions, err := d.store.VersionsByTournament(nil, tournamentID)
	if err != nil {
		return nil, err
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Status == structs.VersionStatusFinal {
			return versions[i], nil
		}
	}
	return nil, nil
}
