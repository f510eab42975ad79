// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package desk

import (
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/hashicorp/courtside/courtside/structs"
)

// DefaultWeekendResult reports a team default sweep.
type DefaultWeekendResult struct {
	TeamID int64

	// FinalizedIDs lists the matches finalized against the team, in the
	// order the sweep reached them.
	FinalizedIDs []int64

	Downstream []*DownstreamUpdate
	Warnings   []structs.Warning
}

// DefaultWeekend withdraws a team for the weekend: the team is marked
// defaulted, every unplayed match holding it on both-resolved sides goes
// final with the opponent as winner and the stylized walkover score for its
// duration, and each result advances. The sweep runs twice because
// advancement can pull the defaulted team into matches that had no teams on
// the first pass. Matches in progress are left to the desk to finalize by
// hand.
func (d *Desk) DefaultWeekend(versionID, teamID int64) (*DefaultWeekendResult, error) {
	defer metrics.MeasureSince([]string{"courtside", "desk", "default_weekend"}, time.Now())

	view, err := d.loadView(versionID)
	if err != nil {
		return nil, err
	}
	if err := view.requireDraft(); err != nil {
		return nil, err
	}
	team, err := d.store.TeamByID(nil, teamID)
	if err != nil {
		return nil, err
	}
	if team == nil {
		return nil, structs.NewErrNotFound("team", teamID)
	}

	if err := d.store.SetTeamDefaulted(d.store.NextIndex(), teamID, true); err != nil {
		return nil, err
	}

	result := &DefaultWeekendResult{TeamID: teamID}
	var rows []*structs.Match
	now := d.clock.Now().UTC()

	for pass := 0; pass < 2; pass++ {
		for _, row := range view.matches {
			m := view.matchByID[row.ID]
			if !m.HasTeam(teamID) || !m.Resolved() {
				continue
			}
			switch m.Status {
			case structs.MatchStatusFinal, structs.MatchStatusInProgress, structs.MatchStatusCancelled:
				continue
			}

			winner := m.TeamAID
			if winner == teamID {
				winner = m.TeamBID
			}
			upd := m.Copy()
			upd.Status = structs.MatchStatusFinal
			upd.WinnerTeamID = winner
			upd.Score = structs.DefaultScoreForDuration(m.DurationMinutes)
			upd.CompletedAt = now
			view.put(upd)
			rows = append(rows, upd)
			result.FinalizedIDs = append(result.FinalizedIDs, upd.ID)

			changed, updates, warnings := d.advance(view, upd)
			rows = append(rows, changed...)
			result.Downstream = append(result.Downstream, updates...)
			result.Warnings = append(result.Warnings, warnings...)
		}
	}

	if len(rows) > 0 {
		if err := d.store.UpdateMatches(d.store.NextIndex(), versionID, dedupRows(rows)); err != nil {
			return nil, err
		}
	}

	d.logger.Info("defaulted team for the weekend",
		"team_id", teamID,
		"version_id", versionID,
		"finalized", len(result.FinalizedIDs))
	return result, nil
}
