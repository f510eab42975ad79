// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"testing"

	"github.com/hashicorp/courtside/ci"
	"github.com/hashicorp/courtside/courtside/mock"
	"github.com/hashicorp/courtside/courtside/state"
	"github.com/hashicorp/courtside/courtside/structs"
	"github.com/shoenig/test/must"
	"pgregory.net/rapid"
)

// craftedDay is a day grid of six 105-minute buckets, two hours apart, so
// hand-placed assignments can hit or clear the rest floors precisely.
func craftedDay(day string) *structs.TournamentDay {
	d := &structs.TournamentDay{Day: day, EarliestStartMin: 480, LatestEndMin: 1185}
	for _, start := range []int{480, 600, 720, 840, 960, 1080} {
		d.Windows = append(d.Windows, structs.TimeWindow{
			StartMin: start, EndMin: start + 105, BlockMinutes: 105,
		})
	}
	return d
}

func craftedEvent(t *testing.T, store *state.StateStore, tourID int64, name string) *structs.Event {
	e := &structs.Event{
		TournamentID:     tourID,
		Name:             name,
		Category:         "open",
		TeamCount:        4,
		WaterfallMinutes: 35,
		StandardMinutes:  105,
	}
	must.NoError(t, store.UpsertEvent(store.NextIndex(), e))
	return e
}

// slotGrid indexes a day's slots by start minute and court number.
func slotGrid(t *testing.T, store *state.StateStore, versionID int64, day string) map[[2]int]*structs.ScheduleSlot {
	slots, err := store.SlotsByVersionDay(nil, versionID, day)
	must.NoError(t, err)
	grid := make(map[[2]int]*structs.ScheduleSlot, len(slots))
	for _, slot := range slots {
		grid[[2]int{slot.StartMin, slot.CourtNumber}] = slot
	}
	return grid
}

func TestScheduler_Verify_Violations(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	d1, d2 := "2025-11-01", "2025-11-02"
	tour := &structs.Tournament{
		Name:        "Harvest Invitational",
		Timezone:    "America/Chicago",
		StartDate:   d1,
		EndDate:     d2,
		CourtLabels: []string{"Court 1", "Court 2", "Court 3"},
		Days:        []*structs.TournamentDay{craftedDay(d1), craftedDay(d2)},
	}
	must.NoError(t, store.UpsertTournament(store.NextIndex(), tour))

	capEvent := craftedEvent(t, store, tour.ID, "Cap")
	restEvent := craftedEvent(t, store, tour.ID, "Rest")
	chainEvent := craftedEvent(t, store, tour.ID, "Chain")
	consEvent := craftedEvent(t, store, tour.ID, "Cons")
	fairEvent := craftedEvent(t, store, tour.ID, "Fair")
	spareEvent := craftedEvent(t, store, tour.ID, "Spare")

	version := mock.Version(tour.ID)
	must.NoError(t, store.UpsertScheduleVersion(store.NextIndex(), version))
	for _, day := range tour.Days {
		must.NoError(t, store.InsertSlots(store.NextIndex(), version.ID,
			structs.ExpandDaySlots(version.ID, day, tour.CourtLabels)))
	}

	newMatch := func(e *structs.Event, code, typ string, round, seq int, teamA, teamB int64) *structs.Match {
		return &structs.Match{
			TournamentID:    tour.ID,
			EventID:         e.ID,
			VersionID:       version.ID,
			Code:            code,
			Type:            typ,
			RoundIndex:      round,
			SequenceInRound: seq,
			DurationMinutes: 105,
			TeamAID:         teamA,
			TeamBID:         teamB,
			Status:          structs.MatchStatusScheduled,
		}
	}

	// Team 101 plays three times on day one, one over the cap.
	m1 := newMatch(capEvent, "CAP_RR_R1_M01", structs.MatchTypeRR, 1, 1, 101, 102)
	m2 := newMatch(capEvent, "CAP_RR_R2_M01", structs.MatchTypeRR, 2, 1, 101, 103)
	m3 := newMatch(capEvent, "CAP_RR_R3_M01", structs.MatchTypeRR, 3, 1, 101, 102)

	// Back-to-back buckets leave 15 minutes between scoring matches.
	r1 := newMatch(restEvent, "RST_RR_R1_M01", structs.MatchTypeRR, 1, 1, 104, 105)
	r2 := newMatch(restEvent, "RST_RR_R2_M01", structs.MatchTypeRR, 2, 1, 104, 105)

	// The chain source lands after its dependent match starts.
	c1 := newMatch(chainEvent, "CHN_RR_R1_M01", structs.MatchTypeRR, 1, 1, 120, 121)
	must.NoError(t, store.InsertMatches(store.NextIndex(), version.ID, []*structs.Match{m1, m2, m3, r1, r2, c1}))
	c2 := newMatch(chainEvent, "CHN_MAIN_R1_M01", structs.MatchTypeMain, 1, 1, 118, 119)
	c2.SourceAID, c2.SourceARole = c1.ID, structs.RoleWinner

	// Half of a consolation round placed, its sibling left out.
	k1 := newMatch(consEvent, "CNS_CONS_R1_M01", structs.MatchTypeConsolation, 1, 1, 106, 107)
	k2 := newMatch(consEvent, "CNS_CONS_R1_M02", structs.MatchTypeConsolation, 1, 2, 116, 117)

	// Team 108 plays twice before teams 109 and 110 play at all.
	q1 := newMatch(fairEvent, "FAI_RR_R1_M01", structs.MatchTypeRR, 1, 1, 108, 112)
	q2 := newMatch(fairEvent, "FAI_RR_R2_M01", structs.MatchTypeRR, 2, 1, 108, 113)
	q3 := newMatch(fairEvent, "FAI_RR_R1_M02", structs.MatchTypeRR, 1, 2, 109, 110)

	// Three matches fill all three courts of a non-opening bucket.
	p1 := newMatch(spareEvent, "SPR_RR_R1_M01", structs.MatchTypeRR, 1, 1, 130, 131)
	p2 := newMatch(spareEvent, "SPR_RR_R1_M02", structs.MatchTypeRR, 1, 2, 132, 133)
	p3 := newMatch(spareEvent, "SPR_RR_R1_M03", structs.MatchTypeRR, 1, 3, 134, 135)
	must.NoError(t, store.InsertMatches(store.NextIndex(), version.ID,
		[]*structs.Match{c2, k1, k2, q1, q2, q3, p1, p2, p3}))

	grid1 := slotGrid(t, store, version.ID, d1)
	grid2 := slotGrid(t, store, version.ID, d2)
	assign := func(m *structs.Match, grid map[[2]int]*structs.ScheduleSlot, start, court int) {
		slot := grid[[2]int{start, court}]
		must.NotNil(t, slot)
		must.NoError(t, store.AssignMatches(store.NextIndex(), version.ID,
			[]*structs.MatchAssignment{{
				VersionID:  version.ID,
				MatchID:    m.ID,
				SlotID:     slot.ID,
				AssignedBy: structs.AssignedByDeskMove,
			}}))
	}
	assign(m1, grid1, 480, 1)
	assign(m2, grid1, 720, 1)
	assign(m3, grid1, 960, 1)
	assign(r1, grid1, 480, 2)
	assign(r2, grid1, 600, 2)
	assign(c1, grid1, 1080, 1)
	assign(c2, grid1, 960, 2)
	assign(k1, grid2, 480, 1)
	assign(q1, grid2, 480, 2)
	assign(q2, grid2, 720, 1)
	assign(q3, grid2, 840, 1)
	assign(p1, grid2, 600, 1)
	assign(p2, grid2, 600, 2)
	assign(p3, grid2, 600, 3)

	s := testScheduler(t, store)
	report, err := s.VerifyFull(version.ID)
	must.NoError(t, err)

	must.Eq(t, version.ID, report.VersionID)
	must.False(t, report.Ok())
	must.Eq(t, 6, report.ErrorCount())
	must.False(t, report.CapacityTight)
	must.Len(t, 7, report.Violations)

	codes := make([]string, len(report.Violations))
	for i, v := range report.Violations {
		codes[i] = v.Code
	}
	must.Eq(t, []string{
		structs.ViolationConsolationPartial,
		structs.ConflictRestScoringToScoring,
		structs.ConflictRestScoringToScoring,
		structs.ViolationTeamOverDailyCap,
		structs.ViolationUnresolvedUpstream,
		structs.ViolationFairnessSecondFirst,
		structs.ViolationSpareCourt,
	}, codes)

	cons := report.Violations[0]
	must.Eq(t, structs.SeverityError, cons.Severity)
	must.Eq(t, consEvent.ID, cons.EventID)
	must.Eq(t, []int64{k2.ID}, cons.MatchIDs)
	must.Eq(t, 1, cons.Count)
	must.Eq(t, 2, cons.Cap)

	rest := report.Violations[1]
	must.Eq(t, d1, rest.Day)
	must.Eq(t, int64(104), rest.TeamID)
	must.Eq(t, []int64{r1.ID, r2.ID}, rest.MatchIDs)
	must.Eq(t, 15, rest.Count)
	must.Eq(t, 90, rest.Cap)
	must.Eq(t, int64(105), report.Violations[2].TeamID)

	over := report.Violations[3]
	must.Eq(t, d1, over.Day)
	must.Eq(t, int64(101), over.TeamID)
	must.Eq(t, []int64{m1.ID, m2.ID, m3.ID}, over.MatchIDs)
	must.Eq(t, 3, over.Count)
	must.Eq(t, 2, over.Cap)

	chain := report.Violations[4]
	must.Eq(t, chainEvent.ID, chain.EventID)
	must.Eq(t, []int64{c1.ID, c2.ID}, chain.MatchIDs)

	fair := report.Violations[5]
	must.Eq(t, structs.SeverityWarn, fair.Severity)
	must.Eq(t, d2, fair.Day)
	must.Eq(t, int64(108), fair.TeamID)
	must.Eq(t, []int64{q2.ID}, fair.MatchIDs)

	spare := report.Violations[6]
	must.Eq(t, structs.SeverityError, spare.Severity)
	must.Eq(t, d2, spare.Day)
	must.Eq(t, []int64{p1.ID, p2.ID, p3.ID}, spare.MatchIDs)
	must.Eq(t, 3, spare.Count)
	must.Eq(t, 2, spare.Cap)

	// Day scoping: the consolation gap follows its placed half into day
	// two; day one keeps the cap, rest and ordering findings.
	day1, err := s.VerifyDay(version.ID, d1)
	must.NoError(t, err)
	must.Eq(t, d1, day1.Day)
	must.Len(t, 4, day1.Violations)

	day2, err := s.VerifyDay(version.ID, d2)
	must.NoError(t, err)
	must.Len(t, 3, day2.Violations)

	_, err = s.VerifyDay(version.ID, "2025-12-25")
	must.Error(t, err)
	must.True(t, structs.IsErrValidation(err))
}

func TestScheduler_Verify_TightGridDowngradesSpare(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	day := "2025-11-01"
	tour := &structs.Tournament{
		Name:        "Tight Open",
		Timezone:    "America/Chicago",
		StartDate:   day,
		EndDate:     day,
		CourtLabels: []string{"Court 1"},
		Days: []*structs.TournamentDay{{
			Day:              day,
			EarliestStartMin: 480,
			LatestEndMin:     720,
			Windows: []structs.TimeWindow{
				{StartMin: 480, EndMin: 585, BlockMinutes: 105},
				{StartMin: 600, EndMin: 705, BlockMinutes: 105},
			},
		}},
	}
	must.NoError(t, store.UpsertTournament(store.NextIndex(), tour))
	event := craftedEvent(t, store, tour.ID, "Tight")

	version := mock.Version(tour.ID)
	must.NoError(t, store.UpsertScheduleVersion(store.NextIndex(), version))
	must.NoError(t, store.InsertSlots(store.NextIndex(), version.ID,
		structs.ExpandDaySlots(version.ID, tour.Days[0], tour.CourtLabels)))

	g1 := &structs.Match{
		TournamentID: tour.ID, EventID: event.ID, VersionID: version.ID,
		Code: "TGT_RR_R1_M01", Type: structs.MatchTypeRR,
		RoundIndex: 1, SequenceInRound: 1, DurationMinutes: 105,
		TeamAID: 201, TeamBID: 202, Status: structs.MatchStatusScheduled,
	}
	g2 := &structs.Match{
		TournamentID: tour.ID, EventID: event.ID, VersionID: version.ID,
		Code: "TGT_RR_R1_M02", Type: structs.MatchTypeRR,
		RoundIndex: 1, SequenceInRound: 2, DurationMinutes: 105,
		TeamAID: 203, TeamBID: 204, Status: structs.MatchStatusScheduled,
	}
	must.NoError(t, store.InsertMatches(store.NextIndex(), version.ID, []*structs.Match{g1, g2}))

	grid := slotGrid(t, store, version.ID, day)
	for i, m := range []*structs.Match{g1, g2} {
		slot := grid[[2]int{480 + i*120, 1}]
		must.NoError(t, store.AssignMatches(store.NextIndex(), version.ID,
			[]*structs.MatchAssignment{{
				VersionID: version.ID, MatchID: m.ID, SlotID: slot.ID,
				AssignedBy: structs.AssignedByDeskMove,
			}}))
	}

	// Two matches against two usable slots cannot afford a spare court, so
	// the full second bucket is advisory rather than an error.
	s := testScheduler(t, store)
	report, err := s.VerifyFull(version.ID)
	must.NoError(t, err)
	must.True(t, report.CapacityTight)
	must.True(t, report.Ok())
	must.Eq(t, 0, report.ErrorCount())
	must.Len(t, 1, report.Violations)
	must.Eq(t, structs.ViolationSpareCourt, report.Violations[0].Code)
	must.Eq(t, structs.SeverityWarn, report.Violations[0].Severity)
}

func TestVerifier_SlotIntegrity(t *testing.T) {
	ci.Parallel(t)

	// The store rejects double bookings and oversize matches on write, so
	// the slot integrity checks are fed crafted inputs directly.
	a := rawMatch(1, 1, structs.MatchTypeRR, 1, 1, 105, 301, 302)
	b := rawMatch(2, 1, structs.MatchTypeRR, 1, 2, 105, 303, 304)
	c := rawMatch(3, 1, structs.MatchTypeRR, 1, 3, 105, 305, 306)
	s1 := slotAt(1, "2025-11-01", 480, 105, 1)
	s2 := slotAt(2, "2025-11-01", 600, 35, 2)

	in := rawInputs(rawTour("2025-11-01"), []*structs.Event{rawEvent(1, 4)},
		[]*structs.Match{a, b, c}, []*structs.ScheduleSlot{s1, s2})
	in.assignments = []*structs.MatchAssignment{
		{VersionID: 1, MatchID: a.ID, SlotID: s1.ID},
		{VersionID: 1, MatchID: b.ID, SlotID: s1.ID},
		{VersionID: 1, MatchID: c.ID, SlotID: s2.ID},
	}

	v := newVerifier(in, "")
	v.checkSlotIntegrity()
	v.finish()

	must.Len(t, 2, v.report.Violations)
	double := v.report.Violations[0]
	must.Eq(t, structs.ViolationDoubleBookedSlot, double.Code)
	must.Eq(t, structs.SeverityError, double.Severity)
	must.Eq(t, []int64{a.ID, b.ID}, double.MatchIDs)

	oversize := v.report.Violations[1]
	must.Eq(t, structs.ViolationDurationExceedsBlock, oversize.Code)
	must.Eq(t, []int64{c.ID}, oversize.MatchIDs)
	must.Eq(t, int64(1), oversize.EventID)
}

func TestReplayCache_Classify(t *testing.T) {
	ci.Parallel(t)

	rc, err := newReplayCache(8)
	must.NoError(t, err)

	must.Eq(t, runFirst, rc.classify("", "in1", "out1"))
	must.Eq(t, runReplay, rc.classify("", "in1", "out1"))
	must.Eq(t, runStale, rc.classify("", "in1", "out2"))
	must.Eq(t, runReplay, rc.classify("", "in1", "out2"))

	// A day scope never collides with the full-version scope over the
	// same inputs.
	must.Eq(t, runFirst, rc.classify("2025-10-03", "in1", "out1"))
	must.Eq(t, runFirst, rc.classify("", "in2", "out1"))
}

func TestScheduler_Verify_HashStability(t *testing.T) {
	ci.Parallel(t)

	store, version, events := setupWeekend(t, bracketSpec())
	s := testScheduler(t, store)
	_, err := s.AssignBySequence(version.ID)
	must.NoError(t, err)

	first, err := s.VerifyFull(version.ID)
	must.NoError(t, err)
	second, err := s.VerifyFull(version.ID)
	must.NoError(t, err)
	must.Eq(t, first.InputHash, second.InputHash)
	must.Eq(t, first.OutputHash, second.OutputHash)

	// Moving one match keeps the input fingerprint and changes the output
	// fingerprint.
	slots, err := store.SlotsByVersionDay(nil, version.ID, "2025-10-05")
	must.NoError(t, err)
	var free *structs.ScheduleSlot
	for _, slot := range slots {
		a, err := store.AssignmentForSlot(nil, version.ID, slot.ID)
		must.NoError(t, err)
		if a == nil {
			free = slot
			break
		}
	}
	must.NotNil(t, free)

	final := matchesByCode(t, store, version.ID)[events[0].CodePrefix()+"_BWW_F_M01"]
	must.NotNil(t, final)
	must.NoError(t, store.MoveAssignment(store.NextIndex(), version.ID,
		final.ID, free.ID, structs.AssignedByDeskMove, false))

	moved, err := s.VerifyFull(version.ID)
	must.NoError(t, err)
	must.Eq(t, first.InputHash, moved.InputHash)
	must.NotEq(t, first.OutputHash, moved.OutputHash)
}

// weekendFingerprint builds a fresh store for the specs, runs the full
// daily policy, and snapshots the grid and fingerprints.
func weekendFingerprint(t *testing.T, specs []eventSpec) (map[string]string, string, string) {
	store, version, _ := setupWeekend(t, specs...)
	s := testScheduler(t, store)
	_, err := s.RunFullPolicy(version.ID)
	must.NoError(t, err)
	report, err := s.VerifyFull(version.ID)
	must.NoError(t, err)
	return cellsByCode(t, store, version.ID), report.InputHash, report.OutputHash
}

func TestScheduler_Placement_Deterministic_PropTest(t *testing.T) {
	ci.Parallel(t)

	rapid.Check(t, func(rt *rapid.T) {
		poolTeams := rapid.SampledFrom([]int{8, 12}).Draw(rt, "pool_teams")
		rrTeams := rapid.IntRange(4, 6).Draw(rt, "rr_teams")
		withBracket := rapid.Bool().Draw(rt, "with_bracket")

		build := func() []eventSpec {
			var specs []eventSpec
			if withBracket {
				specs = append(specs, bracketSpec())
			}
			pool := poolSpec()
			pool.event.TeamCount = poolTeams
			return append(specs, pool, rrSpec(rrTeams))
		}

		cellsA, inA, outA := weekendFingerprint(t, build())
		cellsB, inB, outB := weekendFingerprint(t, build())
		must.Eq(rt, inA, inB)
		must.Eq(rt, outA, outB)
		must.Eq(rt, cellsA, cellsB)
	})
}
