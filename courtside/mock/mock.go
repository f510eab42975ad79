// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package mock holds canned fixtures shared by tests across the repo: a
// standard three-day weekend tournament, events of every template family,
// and seeded team lists.
package mock

import (
	"fmt"
	"time"

	"github.com/hashicorp/courtside/courtside/structs"
)

// Tournament returns a three-day weekend on six courts: Friday evening
// waterfall windows, long Saturday and Sunday grids.
func Tournament() *structs.Tournament {
	return &structs.Tournament{
		Name:      "Autumn Team Challenge",
		Timezone:  "America/Chicago",
		StartDate: "2025-10-03",
		EndDate:   "2025-10-05",
		CourtLabels: []string{
			"Court 1", "Court 2", "Court 3", "Court 4", "Court 5", "Court 6",
		},
		Days: []*structs.TournamentDay{
			{
				Day:              "2025-10-03",
				EarliestStartMin: 17 * 60,
				LatestEndMin:     22 * 60,
				Windows:          waterfallWindows(17*60, 22*60, 35),
			},
			{
				Day:              "2025-10-04",
				EarliestStartMin: 8 * 60,
				LatestEndMin:     22 * 60,
				Windows:          scoringWindows(8*60, 22*60, 105),
			},
			{
				Day:              "2025-10-05",
				EarliestStartMin: 8 * 60,
				LatestEndMin:     20 * 60,
				Windows:          scoringWindows(8*60, 20*60, 105),
			},
		},
	}
}

func waterfallWindows(start, end, block int) []structs.TimeWindow {
	var out []structs.TimeWindow
	for at := start; at+block <= end; at += block {
		out = append(out, structs.TimeWindow{StartMin: at, EndMin: at + block, BlockMinutes: block})
	}
	return out
}

func scoringWindows(start, end, block int) []structs.TimeWindow {
	return waterfallWindows(start, end, block)
}

// BracketEvent returns a 16-team WF_TO_BRACKETS_8 event with a 5-match
// guarantee, the most common weekend configuration.
func BracketEvent(tournamentID int64) *structs.Event {
	return &structs.Event{
		TournamentID:     tournamentID,
		Name:             "Womens A",
		Category:         "womens",
		TeamCount:        16,
		Guarantee:        5,
		WaterfallMinutes: 35,
		StandardMinutes:  105,
	}
}

// PoolEvent returns an 8-team WF_TO_POOLS_DYNAMIC event with one waterfall
// round feeding two pools of four.
func PoolEvent(tournamentID int64) *structs.Event {
	return &structs.Event{
		TournamentID:     tournamentID,
		Name:             "Mixed B",
		Category:         "mixed",
		TeamCount:        8,
		Guarantee:        4,
		WaterfallMinutes: 35,
		StandardMinutes:  105,
	}
}

// RREvent returns a 5-team single round robin event.
func RREvent(tournamentID int64) *structs.Event {
	return &structs.Event{
		TournamentID:     tournamentID,
		Name:             "Mens 55+",
		Category:         "mens",
		TeamCount:        5,
		WaterfallMinutes: 35,
		StandardMinutes:  105,
	}
}

// Teams returns n seeded teams for an event. Every fourth team shares an
// avoid group so pairing tests have conflicts to route around.
func Teams(eventID int64, n int) []*structs.Team {
	teams := make([]*structs.Team, n)
	for i := 0; i < n; i++ {
		teams[i] = &structs.Team{
			EventID:     eventID,
			Seed:        i + 1,
			Name:        fmt.Sprintf("Team %02d", i+1),
			DisplayName: fmt.Sprintf("Team %02d", i+1),
		}
		if i%4 == 0 {
			teams[i].AvoidGroup = "club-north"
		}
	}
	return teams
}

// PlainTeams returns n seeded teams without avoid groups.
func PlainTeams(eventID int64, n int) []*structs.Team {
	teams := Teams(eventID, n)
	for _, team := range teams {
		team.AvoidGroup = ""
	}
	return teams
}

// Version returns a draft schedule version for the tournament.
func Version(tournamentID int64) *structs.ScheduleVersion {
	return &structs.ScheduleVersion{
		TournamentID: tournamentID,
		Status:       structs.VersionStatusDraft,
		CreateTime:   time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC),
	}
}
