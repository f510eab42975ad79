// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package draw

import (
	"fmt"
	"testing"

	"github.com/hashicorp/courtside/ci"
	"github.com/hashicorp/courtside/courtside/mock"
	"github.com/hashicorp/courtside/courtside/state"
	"github.com/hashicorp/courtside/courtside/structs"
	"github.com/hashicorp/courtside/helper/testlog"
	"github.com/shoenig/test/must"
)

// setupEvent stores a tournament, a draft version, the event with its
// compiled plan, and a full team list built by teamFn.
func setupEvent(t *testing.T, event *structs.Event, templateKey string, wfRounds int,
	teamFn func(int64, int) []*structs.Team) (*state.StateStore, *structs.ScheduleVersion, *structs.Event) {

	store := state.TestStateStore(t)

	tour := mock.Tournament()
	must.NoError(t, store.UpsertTournament(store.NextIndex(), tour))

	version := mock.Version(tour.ID)
	must.NoError(t, store.UpsertScheduleVersion(store.NextIndex(), version))

	event.TournamentID = tour.ID
	plan, err := Compile(event, templateKey, wfRounds)
	must.NoError(t, err)
	event.Plan = plan
	must.NoError(t, store.UpsertEvent(store.NextIndex(), event))

	teams := teamFn(event.ID, event.TeamCount)
	must.NoError(t, store.UpsertTeams(store.NextIndex(), teams))

	return store, version, event
}

func testGenerator(t *testing.T, store *state.StateStore) *Generator {
	return NewGenerator(store, testlog.HCLogger(t))
}

func countByType(matches []*structs.Match) map[string]int {
	counts := make(map[string]int)
	for _, m := range matches {
		counts[m.Type]++
	}
	return counts
}

func TestGenerator_Generate_Brackets16(t *testing.T) {
	ci.Parallel(t)

	store, version, event := setupEvent(t, mock.BracketEvent(0),
		structs.TemplateWFToBrackets8, 2, mock.PlainTeams)

	result, err := testGenerator(t, store).Generate(version.ID, event.ID)
	must.NoError(t, err)
	must.Len(t, 0, result.Warnings)
	must.Len(t, 40, result.Matches)
	must.Eq(t, map[string]int{
		structs.MatchTypeWF:          16,
		structs.MatchTypeMain:        14,
		structs.MatchTypeConsolation: 6,
		structs.MatchTypePlacement:   4,
	}, countByType(result.Matches))

	stored, err := store.MatchesByVersionEvent(nil, version.ID, event.ID)
	must.NoError(t, err)
	must.Len(t, 40, stored)

	byCode := make(map[string]*structs.Match, len(stored))
	for _, m := range stored {
		byCode[m.Code] = m
	}
	must.Eq(t, 40, len(byCode))

	prefix := event.CodePrefix()
	code := func(suffix string) *structs.Match {
		m := byCode[prefix+suffix]
		must.NotNil(t, m, must.Sprintf("missing match %s%s", prefix, suffix))
		return m
	}

	// Round one pairs the halves: seeds 1v9 through 8v16. Seeds equal
	// team ids here because the teams were inserted in seed order.
	teams, err := store.TeamsByEvent(nil, event.ID)
	must.NoError(t, err)
	r1m1 := code("_WF_R1_M01")
	must.Eq(t, teams[0].ID, r1m1.TeamAID)
	must.Eq(t, teams[8].ID, r1m1.TeamBID)

	// Round two runs the winner track in M01..M04 and the loser track in
	// M05..M08, wired block by block.
	r2m1 := code("_WF_R2_M01")
	must.Eq(t, code("_WF_R1_M01").ID, r2m1.SourceAID)
	must.Eq(t, structs.RoleWinner, r2m1.SourceARole)
	must.Eq(t, code("_WF_R1_M02").ID, r2m1.SourceBID)
	must.Eq(t, structs.RoleWinner, r2m1.SourceBRole)
	must.Eq(t, "WINNER:"+prefix+"_WF_R1_M01", r2m1.PlaceholderA)

	r2m5 := code("_WF_R2_M05")
	must.Eq(t, code("_WF_R1_M01").ID, r2m5.SourceAID)
	must.Eq(t, structs.RoleLoser, r2m5.SourceARole)

	// The WW bracket seeds winner-track winners over winner-track losers:
	// QF1 takes the first winner against the last loser.
	qf1 := code("_BWW_QF_M01")
	must.Eq(t, 1, qf1.RoundIndex)
	must.Eq(t, code("_WF_R2_M01").ID, qf1.SourceAID)
	must.Eq(t, structs.RoleWinner, qf1.SourceARole)
	must.Eq(t, code("_WF_R2_M04").ID, qf1.SourceBID)
	must.Eq(t, structs.RoleLoser, qf1.SourceBRole)

	qf2 := code("_BWW_QF_M02")
	must.Eq(t, code("_WF_R2_M04").ID, qf2.SourceAID)
	must.Eq(t, structs.RoleWinner, qf2.SourceARole)
	must.Eq(t, code("_WF_R2_M01").ID, qf2.SourceBID)
	must.Eq(t, structs.RoleLoser, qf2.SourceBRole)

	// The LW bracket pulls from the loser track.
	lwQF1 := code("_BLW_QF_M01")
	must.Eq(t, code("_WF_R2_M05").ID, lwQF1.SourceAID)
	must.Eq(t, structs.RoleWinner, lwQF1.SourceARole)
	must.Eq(t, code("_WF_R2_M08").ID, lwQF1.SourceBID)
	must.Eq(t, structs.RoleLoser, lwQF1.SourceBRole)

	// Semis take quarterfinal winners, the final takes semi winners.
	sf1 := code("_BWW_SF_M01")
	must.Eq(t, 2, sf1.RoundIndex)
	must.Eq(t, qf1.ID, sf1.SourceAID)
	must.Eq(t, qf2.ID, sf1.SourceBID)

	final := code("_BWW_F_M01")
	must.Eq(t, 3, final.RoundIndex)
	must.Eq(t, sf1.ID, final.SourceAID)
	must.Eq(t, code("_BWW_SF_M02").ID, final.SourceBID)

	// Guarantee five: consolation semis off quarterfinal losers, a
	// consolation final, and both placement matches.
	csf1 := code("_BWW_CSF_M01")
	must.Eq(t, 1, csf1.RoundIndex)
	must.Eq(t, 1, csf1.ConsolationTier)
	must.Eq(t, qf1.ID, csf1.SourceAID)
	must.Eq(t, structs.RoleLoser, csf1.SourceARole)

	cf := code("_BWW_CF_M01")
	must.Eq(t, 2, cf.RoundIndex)
	must.Eq(t, 2, cf.ConsolationTier)
	must.Eq(t, csf1.ID, cf.SourceAID)
	must.Eq(t, structs.RoleWinner, cf.SourceARole)

	p34 := code("_BWW_P34_M01")
	must.Eq(t, structs.Placement3rd4th, p34.PlacementType)
	must.Eq(t, sf1.ID, p34.SourceAID)
	must.Eq(t, structs.RoleLoser, p34.SourceARole)

	p78 := code("_BWW_P78_M01")
	must.Eq(t, structs.Placement7th8th, p78.PlacementType)
	must.Eq(t, csf1.ID, p78.SourceAID)
	must.Eq(t, structs.RoleLoser, p78.SourceARole)

	// Waterfall and scoring durations differ.
	must.Eq(t, event.WaterfallMinutes, r1m1.DurationMinutes)
	must.Eq(t, event.StandardMinutes, qf1.DurationMinutes)
}

func TestGenerator_Generate_Brackets12(t *testing.T) {
	ci.Parallel(t)

	event := mock.BracketEvent(0)
	event.TeamCount = 12
	event.Guarantee = 4
	store, version, _ := setupEvent(t, event,
		structs.TemplateWFToBrackets8, 1, mock.PlainTeams)

	result, err := testGenerator(t, store).Generate(version.ID, event.ID)
	must.NoError(t, err)
	must.Eq(t, map[string]int{
		structs.MatchTypeWF:          6,
		structs.MatchTypeMain:        10,
		structs.MatchTypeConsolation: 3,
	}, countByType(result.Matches))

	byCode := make(map[string]*structs.Match, len(result.Matches))
	for _, m := range result.Matches {
		byCode[m.Code] = m
	}
	prefix := event.CodePrefix()

	// One waterfall round: the eight-bracket takes all six winners plus
	// the first two losers, the short bracket the remaining four losers.
	qf1 := byCode[prefix+"_BWW_QF_M01"]
	must.NotNil(t, qf1)
	must.Eq(t, byCode[prefix+"_WF_R1_M01"].ID, qf1.SourceAID)
	must.Eq(t, structs.RoleWinner, qf1.SourceARole)
	must.Eq(t, byCode[prefix+"_WF_R1_M02"].ID, qf1.SourceBID)
	must.Eq(t, structs.RoleLoser, qf1.SourceBRole)

	sf1 := byCode[prefix+"_BLW_SF_M01"]
	must.NotNil(t, sf1)
	must.Eq(t, 2, sf1.RoundIndex)
	must.Eq(t, byCode[prefix+"_WF_R1_M03"].ID, sf1.SourceAID)
	must.Eq(t, structs.RoleLoser, sf1.SourceARole)
	must.Eq(t, byCode[prefix+"_WF_R1_M06"].ID, sf1.SourceBID)
	must.Eq(t, structs.RoleLoser, sf1.SourceBRole)

	// The short bracket still carries a consolation final for its semi
	// losers.
	cf := byCode[prefix+"_BLW_CF_M01"]
	must.NotNil(t, cf)
	must.Eq(t, 1, cf.ConsolationTier)
	must.Eq(t, sf1.ID, cf.SourceAID)
	must.Eq(t, structs.RoleLoser, cf.SourceARole)
}

func TestGenerator_Generate_SeededBracket(t *testing.T) {
	ci.Parallel(t)

	event := mock.BracketEvent(0)
	event.TeamCount = 8
	store, version, _ := setupEvent(t, event,
		structs.TemplateWFToBrackets8, 0, mock.PlainTeams)

	result, err := testGenerator(t, store).Generate(version.ID, event.ID)
	must.NoError(t, err)
	must.Eq(t, map[string]int{
		structs.MatchTypeMain:        7,
		structs.MatchTypeConsolation: 3,
		structs.MatchTypePlacement:   2,
	}, countByType(result.Matches))

	teams, err := store.TeamsByEvent(nil, event.ID)
	must.NoError(t, err)

	// No waterfall rounds: seeds go straight into the bracket, 1v8 first.
	var qf1 *structs.Match
	for _, m := range result.Matches {
		if m.Code == event.CodePrefix()+"_BWW_QF_M01" {
			qf1 = m
		}
	}
	must.NotNil(t, qf1)
	must.Eq(t, teams[0].ID, qf1.TeamAID)
	must.Eq(t, teams[7].ID, qf1.TeamBID)
	must.Eq(t, "", qf1.PlaceholderA)
	must.Zero(t, qf1.SourceAID)
}

func TestGenerator_Generate_Pools(t *testing.T) {
	ci.Parallel(t)

	store, version, event := setupEvent(t, mock.PoolEvent(0),
		structs.TemplateWFToPoolsDynamic, 1, mock.PlainTeams)

	result, err := testGenerator(t, store).Generate(version.ID, event.ID)
	must.NoError(t, err)
	must.Eq(t, map[string]int{
		structs.MatchTypeWF: 4,
		structs.MatchTypeRR: 12,
	}, countByType(result.Matches))

	byCode := make(map[string]*structs.Match, len(result.Matches))
	for _, m := range result.Matches {
		byCode[m.Code] = m
	}
	prefix := event.CodePrefix()

	// Pool A holds stream positions one through four; its opening round
	// follows the circle preset 1v4, 2v3.
	a1 := byCode[prefix+"_POOLA_R1_M01"]
	must.NotNil(t, a1)
	must.Eq(t, "A", a1.BracketLabel)
	must.Eq(t, "SEED_1", a1.PlaceholderA)
	must.Eq(t, "SEED_4", a1.PlaceholderB)
	must.Zero(t, a1.TeamAID)

	a2 := byCode[prefix+"_POOLA_R1_M02"]
	must.NotNil(t, a2)
	must.Eq(t, "SEED_2", a2.PlaceholderA)
	must.Eq(t, "SEED_3", a2.PlaceholderB)

	b1 := byCode[prefix+"_POOLB_R1_M01"]
	must.NotNil(t, b1)
	must.Eq(t, "B", b1.BracketLabel)
	must.Eq(t, "SEED_5", b1.PlaceholderA)
	must.Eq(t, "SEED_8", b1.PlaceholderB)
}

func TestGenerator_Generate_RROnly(t *testing.T) {
	ci.Parallel(t)

	store, version, event := setupEvent(t, mock.RREvent(0),
		structs.TemplateRROnly, 0, mock.PlainTeams)

	result, err := testGenerator(t, store).Generate(version.ID, event.ID)
	must.NoError(t, err)
	must.Len(t, 10, result.Matches)

	teams, err := store.TeamsByEvent(nil, event.ID)
	must.NoError(t, err)

	rounds := make(map[int]int)
	for _, m := range result.Matches {
		must.Eq(t, structs.MatchTypeRR, m.Type)
		must.True(t, m.Resolved())
		rounds[m.RoundIndex]++
	}
	// Five teams, five rounds of two with one team sitting out each.
	must.Eq(t, map[int]int{1: 2, 2: 2, 3: 2, 4: 2, 5: 2}, rounds)

	// The top two seeds meet in the last round.
	last := result.Matches[len(result.Matches)-1]
	must.Eq(t, 5, last.RoundIndex)
	for _, m := range result.Matches {
		if m.RoundIndex == 5 && m.SequenceInRound == 1 {
			must.Eq(t, teams[0].ID, m.TeamAID)
			must.Eq(t, teams[1].ID, m.TeamBID)
		}
	}
}

func TestGenerator_Generate_Deterministic(t *testing.T) {
	ci.Parallel(t)

	type wiring struct {
		a, aRole, b, bRole string
	}
	run := func() (map[string]wiring, []structs.Warning) {
		store, version, event := setupEvent(t, mock.BracketEvent(0),
			structs.TemplateWFToBrackets8, 2, mock.Teams)
		result, err := testGenerator(t, store).Generate(version.ID, event.ID)
		must.NoError(t, err)

		codeOf := make(map[int64]string, len(result.Matches))
		for _, m := range result.Matches {
			codeOf[m.ID] = m.Code
		}
		graph := make(map[string]wiring, len(result.Matches))
		for _, m := range result.Matches {
			graph[m.Code] = wiring{
				a: codeOf[m.SourceAID], aRole: m.SourceARole,
				b: codeOf[m.SourceBID], bRole: m.SourceBRole,
			}
		}
		return graph, result.Warnings
	}

	first, firstWarnings := run()
	second, secondWarnings := run()
	must.Eq(t, first, second)
	must.Eq(t, len(firstWarnings), len(secondWarnings))
}

func TestGenerator_Generate_ReplacesPrevious(t *testing.T) {
	ci.Parallel(t)

	store, version, event := setupEvent(t, mock.PoolEvent(0),
		structs.TemplateWFToPoolsDynamic, 1, mock.PlainTeams)
	gen := testGenerator(t, store)

	first, err := gen.Generate(version.ID, event.ID)
	must.NoError(t, err)
	second, err := gen.Generate(version.ID, event.ID)
	must.NoError(t, err)

	stored, err := store.MatchesByVersionEvent(nil, version.ID, event.ID)
	must.NoError(t, err)
	must.Len(t, 16, stored)

	// The first generation is gone, ids and all.
	gone, err := store.MatchByID(nil, first.Matches[0].ID)
	must.NoError(t, err)
	must.Nil(t, gone)
	must.NotEq(t, first.Matches[0].ID, second.Matches[0].ID)
	must.Eq(t, first.Matches[0].Code, second.Matches[0].Code)
}

func TestGenerator_Generate_Validation(t *testing.T) {
	ci.Parallel(t)

	store, version, event := setupEvent(t, mock.PoolEvent(0),
		structs.TemplateWFToPoolsDynamic, 1, mock.PlainTeams)
	gen := testGenerator(t, store)

	t.Run("team count mismatch", func(t *testing.T) {
		short := mock.PoolEvent(event.TournamentID)
		short.Name = "Mixed C"
		plan, err := Compile(short, structs.TemplateWFToPoolsDynamic, 1)
		must.NoError(t, err)
		short.Plan = plan
		must.NoError(t, store.UpsertEvent(store.NextIndex(), short))
		must.NoError(t, store.UpsertTeams(store.NextIndex(), mock.PlainTeams(short.ID, 5)))

		_, err = gen.Generate(version.ID, short.ID)
		must.True(t, structs.IsErrValidation(err))
		must.ErrorContains(t, err, "declares 8 teams but 5")
	})

	t.Run("no compiled plan", func(t *testing.T) {
		bare := mock.RREvent(event.TournamentID)
		bare.Name = fmt.Sprintf("%s bare", bare.Name)
		must.NoError(t, store.UpsertEvent(store.NextIndex(), bare))

		_, err := gen.Generate(version.ID, bare.ID)
		must.True(t, structs.IsErrValidation(err))
		must.ErrorContains(t, err, "no compiled draw plan")
	})

	t.Run("final version refuses", func(t *testing.T) {
		must.NoError(t, store.FinalizeVersion(store.NextIndex(), version.ID))
		_, err := gen.Generate(version.ID, event.ID)
		must.True(t, structs.IsErrVersionNotDraft(err))
	})
}
