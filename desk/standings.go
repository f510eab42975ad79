// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package desk

import (
	"fmt"
	"sort"

	"github.com/hashicorp/courtside/courtside/structs"
)

// StandingRow is one team's record within a pool.
type StandingRow struct {
	TeamID int64
	Name   string

	Played int
	Wins   int
	Losses int

	SetsWon  int
	SetsLost int

	// PointsWon/PointsLost total the games across parsed sets.
	PointsWon  int
	PointsLost int
}

// PoolStanding is one pool's table, rows in rank order: wins, then set
// difference, then point difference, seed as the final tiebreak.
type PoolStanding struct {
	Label string
	Rows  []*StandingRow
}

// Standings reports the round robin tables of one event.
type Standings struct {
	EventID  int64
	Pools    []*PoolStanding
	Warnings []structs.Warning
}

// Standings computes the pool tables from final round robin results. Teams
// appear once seated in a pool, before any result lands. A final match whose
// score has no structured form counts the win but zero sets, with a warning
// so the desk can re-enter it.
func (d *Desk) Standings(versionID, eventID int64) (*Standings, error) {
	event, err := d.store.EventByID(nil, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, structs.NewErrNotFound("event", eventID)
	}
	matches, err := d.store.MatchesByVersionEvent(nil, versionID, eventID)
	if err != nil {
		return nil, err
	}
	teams, err := d.store.TeamsByEvent(nil, eventID)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(teams))
	seeds := make(map[int64]int, len(teams))
	for _, team := range teams {
		names[team.ID] = team.DisplayName
		seeds[team.ID] = team.Seed
	}

	result := &Standings{EventID: eventID}
	pools := make(map[string]map[int64]*StandingRow)
	row := func(pool string, teamID int64) *StandingRow {
		rows := pools[pool]
		if rows == nil {
			rows = make(map[int64]*StandingRow)
			pools[pool] = rows
		}
		r := rows[teamID]
		if r == nil {
			r = &StandingRow{TeamID: teamID, Name: names[teamID]}
			rows[teamID] = r
		}
		return r
	}

	for _, m := range matches {
		if m.Type != structs.MatchTypeRR || m.Status == structs.MatchStatusCancelled {
			continue
		}
		pool := m.BracketLabel
		if m.TeamAID != 0 {
			row(pool, m.TeamAID)
		}
		if m.TeamBID != 0 {
			row(pool, m.TeamBID)
		}
		if !m.Final() || m.WinnerTeamID == 0 || !m.Resolved() {
			continue
		}

		rowA, rowB := row(pool, m.TeamAID), row(pool, m.TeamBID)
		rowA.Played++
		rowB.Played++
		if m.WinnerTeamID == m.TeamAID {
			rowA.Wins++
			rowB.Losses++
		} else {
			rowB.Wins++
			rowA.Losses++
		}

		sets, ok := m.Score.ParseSets()
		if !ok {
			result.Warnings = append(result.Warnings, structs.Warning{
				Code:    structs.WarnScoreParseFailed,
				MatchID: m.ID,
				Message: fmt.Sprintf("match %s has no structured score, counting zero sets", m.Code),
			})
			continue
		}
		for _, set := range sets {
			rowA.PointsWon += set.A
			rowA.PointsLost += set.B
			rowB.PointsWon += set.B
			rowB.PointsLost += set.A
			switch {
			case set.A > set.B:
				rowA.SetsWon++
				rowB.SetsLost++
			case set.B > set.A:
				rowB.SetsWon++
				rowA.SetsLost++
			}
		}
	}

	labels := make([]string, 0, len(pools))
	for label := range pools {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		standing := &PoolStanding{Label: label}
		for _, r := range pools[label] {
			standing.Rows = append(standing.Rows, r)
		}
		sort.Slice(standing.Rows, func(i, j int) bool {
			a, b := standing.Rows[i], standing.Rows[j]
			if a.Wins != b.Wins {
				return a.Wins > b.Wins
			}
			if ad, bd := a.SetsWon-a.SetsLost, b.SetsWon-b.SetsLost; ad != bd {
				return ad > bd
			}
			if ad, bd := a.PointsWon-a.PointsLost, b.PointsWon-b.PointsLost; ad != bd {
				return ad > bd
			}
			if seeds[a.TeamID] != seeds[b.TeamID] {
				return seeds[a.TeamID] < seeds[b.TeamID]
			}
			return a.TeamID < b.TeamID
		})
		result.Pools = append(result.Pools, standing)
	}
	return result, nil
}
