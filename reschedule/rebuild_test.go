// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package reschedule

import (
	"testing"

	"github.com/shoenig/test/must"

	"github.com/hashicorp/courtside/ci"
	"github.com/hashicorp/courtside/courtside/mock"
	"github.com/hashicorp/courtside/courtside/structs"
)

// stageMatch inserts a match of any type and round, for drop mode tests.
func stageMatch(t *testing.T, r *rawRepair, code, typ string, round int, teamA, teamB int64) *structs.Match {
	m := &structs.Match{
		TournamentID:    r.tour.ID,
		EventID:         r.event.ID,
		VersionID:       r.version.ID,
		Code:            code,
		Type:            typ,
		RoundIndex:      round,
		SequenceInRound: 1,
		DurationMinutes: 105,
		TeamAID:         teamA,
		TeamBID:         teamB,
		Status:          structs.MatchStatusScheduled,
	}
	must.NoError(t, r.store.InsertMatches(r.store.NextIndex(), r.version.ID, []*structs.Match{m}))
	return m
}

func TestParseDayConfigs(t *testing.T) {
	ci.Parallel(t)
	tour := mock.Tournament()

	// Days come back sorted with clocks and formats resolved.
	days, err := parseDayConfigs(tour, &RebuildRequest{Days: []*DayConfig{
		{Day: "2025-10-05", Start: "09:00", End: "18:00", CourtCount: 4, Format: structs.ScoringFormatProSet8},
		{Day: "2025-10-04", Start: "08:00", End: "22:00", CourtCount: 6, Format: structs.ScoringFormatRegular},
	}})
	must.NoError(t, err)
	must.Len(t, 2, days)
	must.Eq(t, "2025-10-04", days[0].day)
	must.Eq(t, 105, days[0].blockMin)
	must.Eq(t, 6, days[0].courts)
	must.Eq(t, "2025-10-05", days[1].day)
	must.Eq(t, 9*60, days[1].startMin)
	must.Eq(t, 18*60, days[1].endMin)
	must.Eq(t, 60, days[1].blockMin)

	_, err = parseDayConfigs(tour, &RebuildRequest{})
	must.Error(t, err)
	must.True(t, structs.IsErrValidation(err))
	must.StrContains(t, err.Error(), "rebuild requires at least one day config")

	// Every problem in the payload surfaces in one round trip.
	_, err = parseDayConfigs(tour, &RebuildRequest{
		DropMode: "SOME",
		Days: []*DayConfig{
			{Day: "2025-10-06", Start: "09:00", End: "18:00", CourtCount: 2, Format: structs.ScoringFormatRegular},
			{Day: "2025-10-04", Start: "18:00", End: "09:00", CourtCount: 0, Format: "BEST_OF_5"},
			{Day: "2025-10-04", Start: "08:00", End: "12:00", CourtCount: 2, Format: structs.ScoringFormatRegular},
		},
	})
	must.Error(t, err)
	must.True(t, structs.IsErrValidation(err))
	must.StrContains(t, err.Error(), `unknown drop mode "SOME"`)
	must.StrContains(t, err.Error(), "day 2025-10-06 is not an active day")
	must.StrContains(t, err.Error(), "window 18:00-09:00 is empty")
	must.StrContains(t, err.Error(), "needs at least one court, got 0")
	must.StrContains(t, err.Error(), `unknown scoring format "BEST_OF_5"`)
	must.StrContains(t, err.Error(), "day 2025-10-04 appears twice")
}

func TestDropMatch(t *testing.T) {
	ci.Parallel(t)

	must.Eq(t, structs.DropConsolationNone, dropModeOf(&RebuildRequest{}))
	must.Eq(t, structs.DropConsolationAll, dropModeOf(&RebuildRequest{DropMode: structs.DropConsolationAll}))

	mk := func(typ string, round int) *structs.Match {
		return &structs.Match{Type: typ, RoundIndex: round}
	}
	cases := []struct {
		mode string
		m    *structs.Match
		want bool
	}{
		{structs.DropConsolationNone, mk(structs.MatchTypeConsolation, 1), false},
		{structs.DropConsolationNone, mk(structs.MatchTypePlacement, 1), false},
		{structs.DropConsolationFinals, mk(structs.MatchTypePlacement, 1), true},
		{structs.DropConsolationFinals, mk(structs.MatchTypeConsolation, 1), false},
		{structs.DropConsolationFinals, mk(structs.MatchTypeConsolation, 2), true},
		{structs.DropConsolationFinals, mk(structs.MatchTypeMain, 3), false},
		{structs.DropConsolationAll, mk(structs.MatchTypeConsolation, 1), true},
		{structs.DropConsolationAll, mk(structs.MatchTypePlacement, 2), true},
		{structs.DropConsolationAll, mk(structs.MatchTypeRR, 1), false},
		{structs.DropConsolationAll, mk(structs.MatchTypeWF, 1), false},
	}
	for _, tc := range cases {
		must.Eq(t, tc.want, dropMatch(tc.mode, tc.m),
			must.Sprintf("mode %s type %s round %d", tc.mode, tc.m.Type, tc.m.RoundIndex))
	}
}

func TestEngine_RebuildPreview_DropModes(t *testing.T) {
	ci.Parallel(t)
	r := newRawRepair(t)
	sat, sun := "2025-10-04", "2025-10-05"

	// A consolation program: the first consolation round holds a Saturday
	// seat outside the rebuilt day.
	satSlot := r.slot(t, sat, 9*60, 105, 1)
	main := r.match(t, "WOM_E1_BWW_QF_M01", structs.MatchTypeMain, 105, 101, 102)
	conR1 := stageMatch(t, r, "WOM_E1_BWC_R1_M01", structs.MatchTypeConsolation, 1, 103, 104)
	conR2 := stageMatch(t, r, "WOM_E1_BWC_R2_M01", structs.MatchTypeConsolation, 2, 105, 106)
	plc := stageMatch(t, r, "WOM_E1_PLC_M01", structs.MatchTypePlacement, 1, 107, 108)
	r.seat(t, conR1.ID, satSlot.ID)

	dayCfg := []*DayConfig{
		{Day: sun, Start: "09:00", End: "15:00", CourtCount: 2, Format: structs.ScoringFormatRegular},
	}

	// No drop: the whole unseated program lands on the new Sunday grid in
	// master sequence order.
	plan, err := r.engine.RebuildPreview(r.version.ID, &RebuildRequest{Days: dayCfg})
	must.NoError(t, err)
	must.Eq(t, []string{sun}, plan.Days)
	must.Len(t, 0, plan.DroppedMatchIDs)
	must.Len(t, 0, plan.RemovedAssignmentIDs)
	must.Len(t, 6, plan.NewSlots)
	must.Len(t, 3, plan.Moves)
	must.Eq(t, main.ID, plan.Moves[0].MatchID)
	must.Eq(t, conR2.ID, plan.Moves[1].MatchID)
	must.Eq(t, plc.ID, plan.Moves[2].MatchID)
	targets := moveTargets(plan.Moves)
	must.Eq(t, "2025-10-05 09:00 c1", targets[main.Code])
	must.Eq(t, "2025-10-05 09:00 c2", targets[conR2.Code])
	must.Eq(t, "2025-10-05 10:45 c1", targets[plc.Code])

	// Finals mode sheds placement and late consolation rounds only.
	plan, err = r.engine.RebuildPreview(r.version.ID, &RebuildRequest{
		Days: dayCfg, DropMode: structs.DropConsolationFinals,
	})
	must.NoError(t, err)
	must.Eq(t, []int64{conR2.ID, plc.ID}, plan.DroppedMatchIDs)
	must.Len(t, 0, plan.RemovedAssignmentIDs)
	must.Len(t, 1, plan.Moves)
	must.Eq(t, main.ID, plan.Moves[0].MatchID)

	// All mode sheds the entire consolation program, releasing seats it
	// holds anywhere in the weekend.
	plan, err = r.engine.RebuildPreview(r.version.ID, &RebuildRequest{
		Days: dayCfg, DropMode: structs.DropConsolationAll,
	})
	must.NoError(t, err)
	must.Eq(t, []int64{conR1.ID, conR2.ID, plc.ID}, plan.DroppedMatchIDs)
	must.Eq(t, []int64{conR1.ID}, plan.RemovedAssignmentIDs)
	must.Len(t, 1, plan.Moves)

	// Previews are read only; the Saturday seat is untouched.
	must.NotNil(t, r.seatOf(t, conR1.ID))
}

func TestEngine_Rebuild_InProgressFirst(t *testing.T) {
	ci.Parallel(t)
	r := newRawRepair(t)
	sat := "2025-10-04"

	slotA := r.slot(t, sat, 9*60, 105, 1)
	slotB := r.slot(t, sat, 11*60, 105, 1)

	mA := r.match(t, "WOM_E1_BWW_QF_M01", structs.MatchTypeMain, 105, 201, 202)
	mB := r.match(t, "WOM_E1_BWW_QF_M02", structs.MatchTypeMain, 105, 203, 204)
	r.seat(t, mA.ID, slotA.ID)
	r.seat(t, mB.ID, slotB.ID)

	live := mB.Copy()
	live.Status = structs.MatchStatusInProgress
	r.update(t, live)

	// One court for three hours holds a single regular block. The match
	// in flight takes it even though its old seat was later.
	plan, err := r.engine.RebuildPreview(r.version.ID, &RebuildRequest{Days: []*DayConfig{
		{Day: sat, Start: "09:00", End: "12:00", CourtCount: 1, Format: structs.ScoringFormatRegular},
	}})
	must.NoError(t, err)

	must.Eq(t, []int64{slotA.ID, slotB.ID}, plan.DeactivatedSlotIDs)
	must.Eq(t, []int64{mA.ID, mB.ID}, plan.RemovedAssignmentIDs)
	must.Len(t, 1, plan.NewSlots)

	must.Len(t, 1, plan.Moves)
	must.Eq(t, mB.ID, plan.Moves[0].MatchID)
	must.Eq(t, 9*60, plan.Moves[0].StartMin)

	must.Eq(t, []int64{mA.ID}, plan.UnplacedIDs)
	must.Len(t, 1, plan.Warnings)
	must.Eq(t, structs.WarnNoAvailableSlot, plan.Warnings[0].Code)
	must.Eq(t, mA.ID, plan.Warnings[0].MatchID)
}

func TestEngine_Rebuild_UniformRest(t *testing.T) {
	ci.Parallel(t)
	r := newRawRepair(t)
	sat := "2025-10-04"

	slotA := r.slot(t, sat, 9*60, 105, 1)
	slotB := r.slot(t, sat, 11*60, 105, 1)

	// Team 7 plays both matches. On a pro set day the rest floor
	// compresses to the 60 minute block, so back to back with one block
	// of rest is legal.
	mA := r.match(t, "WOM_E1_BWW_QF_M01", structs.MatchTypeMain, 105, 7, 8)
	mB := r.match(t, "WOM_E1_BWW_QF_M02", structs.MatchTypeMain, 105, 7, 9)
	r.seat(t, mA.ID, slotA.ID)
	r.seat(t, mB.ID, slotB.ID)

	plan, err := r.engine.RebuildPreview(r.version.ID, &RebuildRequest{Days: []*DayConfig{
		{Day: sat, Start: "09:00", End: "12:00", CourtCount: 1, Format: structs.ScoringFormatProSet8},
	}})
	must.NoError(t, err)

	must.Len(t, 2, plan.Moves)
	targets := moveTargets(plan.Moves)
	must.Eq(t, "2025-10-04 09:00 c1", targets[mA.Code])
	must.Eq(t, "2025-10-04 11:00 c1", targets[mB.Code])
	must.Len(t, 0, plan.UnplacedIDs)

	must.Len(t, 2, plan.DurationUpdates)
	for _, u := range plan.DurationUpdates {
		must.Eq(t, 105, u.FromMinutes)
		must.Eq(t, 60, u.ToMinutes)
	}
}

func TestEngine_RebuildApply(t *testing.T) {
	ci.Parallel(t)
	r := newRawRepair(t)
	sat := "2025-10-04"

	slotA := r.slot(t, sat, 9*60, 105, 1)
	slotB := r.slot(t, sat, 11*60, 105, 1)
	slotC := r.slot(t, sat, 13*60, 105, 1)
	slotD := r.slot(t, sat, 15*60, 105, 1)
	must.NoError(t, r.store.UpsertSlotLock(r.store.NextIndex(), &structs.SlotLock{
		VersionID: r.version.ID,
		SlotID:    slotD.ID,
		Status:    structs.SlotLockBlocked,
	}))

	mDone := r.match(t, "WOM_E1_BWW_QF_M01", structs.MatchTypeMain, 105, 201, 202)
	mLive := r.match(t, "WOM_E1_BWW_QF_M02", structs.MatchTypeMain, 105, 203, 204)
	mSched := r.match(t, "WOM_E1_BWW_QF_M03", structs.MatchTypeMain, 105, 205, 206)
	mBack := r.match(t, "WOM_E1_BWW_SF_M01", structs.MatchTypeMain, 105, 207, 208)

	r.seat(t, mDone.ID, slotA.ID)
	done := mDone.Copy()
	done.Status = structs.MatchStatusFinal
	done.WinnerTeamID = done.TeamAID
	r.update(t, done)

	r.seat(t, mLive.ID, slotB.ID)
	live := mLive.Copy()
	live.Status = structs.MatchStatusInProgress
	r.update(t, live)

	r.pin(t, mSched.ID, slotC.ID)

	// The afternoon regenerates on two courts of pro sets.
	res, err := r.engine.RebuildApply(r.version.ID, &RebuildRequest{Days: []*DayConfig{
		{Day: sat, Start: "14:00", End: "20:00", CourtCount: 2, Format: structs.ScoringFormatProSet8},
	}})
	must.NoError(t, err)

	must.Eq(t, 2, res.RemovedAssignments)
	must.Eq(t, 3, res.DeactivatedSlots)
	must.Eq(t, 0, res.DroppedMatches)
	must.Eq(t, 12, res.NewSlotCount)
	must.Eq(t, 3, res.PlacedCount)
	must.Eq(t, 0, res.UnplacedCount)

	// The finished match keeps its seat and its slot; everything else on
	// the day retired, the blocked empty slot with its lock.
	for _, slotID := range []int64{slotB.ID, slotC.ID, slotD.ID} {
		slot, err := r.store.SlotByID(nil, slotID)
		must.NoError(t, err)
		must.False(t, slot.Active)
	}
	keptSlot, err := r.store.SlotByID(nil, slotA.ID)
	must.NoError(t, err)
	must.True(t, keptSlot.Active)

	lock, err := r.store.SlotLockForSlot(nil, r.version.ID, slotD.ID)
	must.NoError(t, err)
	must.Nil(t, lock)

	aDone := r.seatOf(t, mDone.ID)
	must.NotNil(t, aDone)
	must.Eq(t, slotA.ID, aDone.SlotID)
	must.Eq(t, structs.AssignedByAuto, aDone.AssignedBy)

	// The in-flight match opens the new grid, then the displaced seat,
	// then the backlog, all stamped REBUILD and unlocked. The desk pin on
	// the scheduled match did not shield it.
	wantCells := []struct {
		matchID int64
		start   int
		court   int
	}{
		{mLive.ID, 14 * 60, 1},
		{mSched.ID, 14 * 60, 2},
		{mBack.ID, 15 * 60, 1},
	}
	for _, want := range wantCells {
		a := r.seatOf(t, want.matchID)
		must.NotNil(t, a)
		must.Eq(t, structs.AssignedByRebuild, a.AssignedBy)
		must.False(t, a.Locked)

		slot, err := r.store.SlotByID(nil, a.SlotID)
		must.NoError(t, err)
		must.NotNil(t, slot)
		must.Eq(t, sat, slot.Day)
		must.Eq(t, want.start, slot.StartMin)
		must.Eq(t, want.court, slot.CourtNumber)
		must.Eq(t, 60, slot.BlockMinutes)
	}

	// Day format durations persisted on the reseated rows only.
	must.Eq(t, 60, r.reload(t, mLive.ID).DurationMinutes)
	must.Eq(t, 60, r.reload(t, mSched.ID).DurationMinutes)
	must.Eq(t, 60, r.reload(t, mBack.ID).DurationMinutes)
	must.Eq(t, 105, r.reload(t, mDone.ID).DurationMinutes)
}

func TestEngine_RebuildApply_DropAll(t *testing.T) {
	ci.Parallel(t)
	r := newRawRepair(t)
	sat, sun := "2025-10-04", "2025-10-05"

	satSlot := r.slot(t, sat, 9*60, 105, 1)
	main := r.match(t, "WOM_E1_BWW_QF_M01", structs.MatchTypeMain, 105, 101, 102)
	conR1 := stageMatch(t, r, "WOM_E1_BWC_R1_M01", structs.MatchTypeConsolation, 1, 103, 104)
	r.seat(t, conR1.ID, satSlot.ID)

	res, err := r.engine.RebuildApply(r.version.ID, &RebuildRequest{
		DropMode: structs.DropConsolationAll,
		Days: []*DayConfig{
			{Day: sun, Start: "09:00", End: "15:00", CourtCount: 1, Format: structs.ScoringFormatRegular},
		},
	})
	must.NoError(t, err)

	must.Eq(t, 1, res.DroppedMatches)
	must.Eq(t, 1, res.RemovedAssignments)
	must.Eq(t, 1, res.PlacedCount)

	// Dropped consolation play is cancelled and its Saturday seat
	// released; the slot itself survives since Saturday was not rebuilt.
	must.Eq(t, structs.MatchStatusCancelled, r.reload(t, conR1.ID).Status)
	must.Nil(t, r.seatOf(t, conR1.ID))
	slot, err := r.store.SlotByID(nil, satSlot.ID)
	must.NoError(t, err)
	must.True(t, slot.Active)

	a := r.seatOf(t, main.ID)
	must.NotNil(t, a)
	must.Eq(t, structs.AssignedByRebuild, a.AssignedBy)
}

func TestEngine_RebuildApply_VersionNotDraft(t *testing.T) {
	ci.Parallel(t)
	r := newRawRepair(t)

	must.NoError(t, r.store.FinalizeVersion(r.store.NextIndex(), r.version.ID))

	_, err := r.engine.RebuildApply(r.version.ID, &RebuildRequest{Days: []*DayConfig{
		{Day: "2025-10-04", Start: "09:00", End: "12:00", CourtCount: 1, Format: structs.ScoringFormatRegular},
	}})
	must.Error(t, err)
	must.True(t, structs.IsErrVersionNotDraft(err))
}
