// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package desk

import (
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/hashicorp/courtside/ci"
	"github.com/hashicorp/courtside/courtside/structs"
)

func TestLegalTransition(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		from, to string
		ok       bool
	}{
		{structs.MatchStatusScheduled, structs.MatchStatusInProgress, true},
		{structs.MatchStatusScheduled, structs.MatchStatusDelayed, true},
		{structs.MatchStatusScheduled, structs.MatchStatusCancelled, true},
		{structs.MatchStatusScheduled, structs.MatchStatusPaused, false},
		{structs.MatchStatusDelayed, structs.MatchStatusScheduled, true},
		{structs.MatchStatusDelayed, structs.MatchStatusInProgress, true},
		{structs.MatchStatusInProgress, structs.MatchStatusPaused, true},
		{structs.MatchStatusInProgress, structs.MatchStatusScheduled, false},
		{structs.MatchStatusPaused, structs.MatchStatusInProgress, true},
		{structs.MatchStatusPaused, structs.MatchStatusScheduled, false},
		{structs.MatchStatusCancelled, structs.MatchStatusScheduled, true},
		{structs.MatchStatusCancelled, structs.MatchStatusInProgress, false},
		{structs.MatchStatusFinal, structs.MatchStatusScheduled, false},
	}
	for _, tc := range cases {
		must.Eq(t, tc.ok, legalTransition(tc.from, tc.to),
			must.Sprintf("%s -> %s", tc.from, tc.to))
	}
}

func TestDesk_SetStatus(t *testing.T) {
	ci.Parallel(t)
	r := newRawDesk(t)
	m := r.match(t, "WOM_E1_WF_R1_M01", structs.MatchTypeWF, 35, 101, 102)

	now := time.Date(2025, 10, 3, 17, 5, 0, 0, time.UTC)
	mockNow(t, r.desk, now)

	// Entering IN_PROGRESS stamps the start time once.
	got, err := r.desk.SetStatus(r.version.ID, m.ID, structs.MatchStatusInProgress)
	must.NoError(t, err)
	must.Eq(t, structs.MatchStatusInProgress, got.Status)
	must.Eq(t, now, got.StartedAt)

	_, err = r.desk.SetStatus(r.version.ID, m.ID, structs.MatchStatusPaused)
	must.NoError(t, err)

	later := now.Add(20 * time.Minute)
	mockNow(t, r.desk, later)
	got, err = r.desk.SetStatus(r.version.ID, m.ID, structs.MatchStatusInProgress)
	must.NoError(t, err)
	must.Eq(t, now, got.StartedAt)

	// Same status is a no-op.
	got, err = r.desk.SetStatus(r.version.ID, m.ID, structs.MatchStatusInProgress)
	must.NoError(t, err)
	must.Eq(t, structs.MatchStatusInProgress, got.Status)

	// Illegal transitions are rejected.
	_, err = r.desk.SetStatus(r.version.ID, m.ID, structs.MatchStatusScheduled)
	must.Error(t, err)
	must.True(t, structs.IsErrValidation(err))

	// FINAL only comes from finalize.
	_, err = r.desk.SetStatus(r.version.ID, m.ID, structs.MatchStatusFinal)
	must.Error(t, err)
	must.True(t, structs.IsErrValidation(err))

	_, err = r.desk.SetStatus(r.version.ID, m.ID, "LOST")
	must.Error(t, err)
	must.True(t, structs.IsErrValidation(err))

	_, err = r.desk.SetStatus(r.version.ID, 424242, structs.MatchStatusPaused)
	must.Error(t, err)
	must.True(t, structs.IsErrNotFound(err))
}

func TestDesk_SetStatus_Reinstate(t *testing.T) {
	ci.Parallel(t)
	r := newRawDesk(t)
	m := r.match(t, "WOM_E1_WF_R1_M01", structs.MatchTypeWF, 35, 101, 102)

	_, err := r.desk.SetStatus(r.version.ID, m.ID, structs.MatchStatusCancelled)
	must.NoError(t, err)

	got, err := r.desk.SetStatus(r.version.ID, m.ID, structs.MatchStatusScheduled)
	must.NoError(t, err)
	must.Eq(t, structs.MatchStatusScheduled, got.Status)
}

func TestDesk_FinalizeMatch_Advancement(t *testing.T) {
	ci.Parallel(t)
	store, d, version, _ := setupDesk(t, bracketSpec())

	now := time.Date(2025, 10, 3, 17, 40, 0, 0, time.UTC)
	mockNow(t, d, now)

	codes := byCode(t, store, version.ID)
	m := codes["WOM_E1_WF_R1_M01"]
	must.NotNil(t, m)
	must.True(t, m.Resolved())

	result, err := d.FinalizeMatch(version.ID, m.ID, &FinalizeRequest{
		WinnerTeamID: m.TeamAID,
		Score:        structs.NewScore("4-2"),
	})
	must.NoError(t, err)
	must.False(t, result.NoOp)
	must.Eq(t, structs.MatchStatusFinal, result.Match.Status)
	must.Eq(t, m.TeamAID, result.Match.WinnerTeamID)
	must.Eq(t, now, result.Match.CompletedAt)
	must.Len(t, 1, result.Match.Score.Sets)

	// Round one feeds one winner-track and one loser-track round two match.
	must.Len(t, 2, result.Downstream)
	must.SliceEmpty(t, result.Warnings)

	for _, upd := range result.Downstream {
		dep, err := store.MatchByID(nil, upd.MatchID)
		must.NoError(t, err)
		want := m.TeamAID
		if upd.Role == structs.RoleLoser {
			want = m.TeamBID
		}
		must.Eq(t, want, upd.TeamID)
		switch upd.Side {
		case SideA:
			must.Eq(t, want, dep.TeamAID)
		case SideB:
			must.Eq(t, want, dep.TeamBID)
		}
	}

	// The stored row reflects the finalize.
	stored, err := store.MatchByID(nil, m.ID)
	must.NoError(t, err)
	must.True(t, stored.Final())
	must.Eq(t, "4-2", stored.Score.Display)
}

func TestDesk_FinalizeMatch_IdempotentAndConflict(t *testing.T) {
	ci.Parallel(t)
	r := newRawDesk(t)
	m1 := r.match(t, "WOM_E1_WF_R1_M01", structs.MatchTypeWF, 35, 101, 102)
	m2 := r.wiredMatch(t, "WOM_E1_WF_R2_M01", structs.MatchTypeWF, 35,
		m1.ID, structs.RoleWinner, 0, "", 0, 103)
	m3 := r.wiredMatch(t, "WOM_E1_WF_R2_M05", structs.MatchTypeWF, 35,
		m1.ID, structs.RoleLoser, 0, "", 0, 104)

	_, err := r.desk.FinalizeMatch(r.version.ID, m1.ID, &FinalizeRequest{
		WinnerTeamID: 101,
		Score:        structs.NewScore("4-1"),
	})
	must.NoError(t, err)
	must.Eq(t, int64(101), r.reload(t, m2.ID).TeamAID)
	must.Eq(t, int64(102), r.reload(t, m3.ID).TeamAID)

	// Identical result is a no-op, parsed or display form alike.
	again, err := r.desk.FinalizeMatch(r.version.ID, m1.ID, &FinalizeRequest{
		WinnerTeamID: 101,
		Score:        &structs.Score{Display: "4-1"},
	})
	must.NoError(t, err)
	must.True(t, again.NoOp)

	// A differing result without the correction flag is a conflict.
	_, err = r.desk.FinalizeMatch(r.version.ID, m1.ID, &FinalizeRequest{
		WinnerTeamID: 102,
		Score:        structs.NewScore("4-1"),
	})
	must.Error(t, err)
	must.True(t, structs.IsErrConflict(err))

	_, err = r.desk.FinalizeMatch(r.version.ID, m1.ID, &FinalizeRequest{
		WinnerTeamID: 101,
		Score:        structs.NewScore("4-3"),
	})
	must.Error(t, err)
	must.True(t, structs.IsErrConflict(err))
}

func TestDesk_FinalizeMatch_CorrectWinner(t *testing.T) {
	ci.Parallel(t)
	r := newRawDesk(t)
	m1 := r.match(t, "WOM_E1_WF_R1_M01", structs.MatchTypeWF, 35, 101, 102)
	m2 := r.wiredMatch(t, "WOM_E1_WF_R2_M01", structs.MatchTypeWF, 35,
		m1.ID, structs.RoleWinner, 0, "", 0, 103)
	m3 := r.wiredMatch(t, "WOM_E1_WF_R2_M05", structs.MatchTypeWF, 35,
		m1.ID, structs.RoleLoser, 0, "", 0, 104)

	_, err := r.desk.FinalizeMatch(r.version.ID, m1.ID, &FinalizeRequest{
		WinnerTeamID: 101,
		Score:        structs.NewScore("4-1"),
	})
	must.NoError(t, err)

	// The correction flips the winner: the old advancements retract and the
	// new ones land.
	result, err := r.desk.FinalizeMatch(r.version.ID, m1.ID, &FinalizeRequest{
		WinnerTeamID: 102,
		Score:        structs.NewScore("4-1"),
		Correct:      true,
	})
	must.NoError(t, err)
	must.Eq(t, int64(102), result.Match.WinnerTeamID)
	must.SliceEmpty(t, result.Warnings)

	must.Eq(t, int64(102), r.reload(t, m2.ID).TeamAID)
	must.Eq(t, int64(101), r.reload(t, m3.ID).TeamAID)
}

func TestDesk_FinalizeMatch_CorrectAfterDownstreamFinal(t *testing.T) {
	ci.Parallel(t)
	r := newRawDesk(t)
	m1 := r.match(t, "WOM_E1_WF_R1_M01", structs.MatchTypeWF, 35, 101, 102)
	m2 := r.wiredMatch(t, "WOM_E1_WF_R2_M01", structs.MatchTypeWF, 35,
		m1.ID, structs.RoleWinner, 0, "", 0, 103)

	_, err := r.desk.FinalizeMatch(r.version.ID, m1.ID, &FinalizeRequest{
		WinnerTeamID: 101,
		Score:        structs.NewScore("4-1"),
	})
	must.NoError(t, err)

	_, err = r.desk.FinalizeMatch(r.version.ID, m2.ID, &FinalizeRequest{
		WinnerTeamID: 103,
		Score:        structs.NewScore("4-2"),
	})
	must.NoError(t, err)

	// The downstream match already played: it keeps its teams, the desk gets
	// warned on both the retraction and the blocked re-advance.
	result, err := r.desk.FinalizeMatch(r.version.ID, m1.ID, &FinalizeRequest{
		WinnerTeamID: 102,
		Score:        structs.NewScore("4-1"),
		Correct:      true,
	})
	must.NoError(t, err)

	warnCodes := make([]string, len(result.Warnings))
	for i, w := range result.Warnings {
		warnCodes[i] = w.Code
	}
	must.SliceContains(t, warnCodes, structs.WarnDownstreamAlreadyFinal)
	must.SliceContains(t, warnCodes, structs.WarnConflictExistingTeam)

	dep := r.reload(t, m2.ID)
	must.Eq(t, int64(101), dep.TeamAID)
	must.True(t, dep.Final())
}

func TestDesk_FinalizeMatch_Validation(t *testing.T) {
	ci.Parallel(t)
	r := newRawDesk(t)
	m := r.match(t, "WOM_E1_WF_R1_M01", structs.MatchTypeWF, 35, 101, 102)
	unresolved := r.wiredMatch(t, "WOM_E1_WF_R2_M01", structs.MatchTypeWF, 35,
		m.ID, structs.RoleWinner, 0, "", 0, 103)

	// The winner must play in the match.
	_, err := r.desk.FinalizeMatch(r.version.ID, m.ID, &FinalizeRequest{
		WinnerTeamID: 999,
		Score:        structs.NewScore("4-1"),
	})
	must.Error(t, err)
	must.True(t, structs.IsErrValidation(err))

	// Both sides must be resolved.
	_, err = r.desk.FinalizeMatch(r.version.ID, unresolved.ID, &FinalizeRequest{
		WinnerTeamID: 103,
		Score:        structs.NewScore("4-1"),
	})
	must.Error(t, err)
	must.True(t, structs.IsErrValidation(err))

	// A result needs a score or a default/retired flag.
	_, err = r.desk.FinalizeMatch(r.version.ID, m.ID, &FinalizeRequest{WinnerTeamID: 101})
	must.Error(t, err)
	must.True(t, structs.IsErrValidation(err))
}

func TestDesk_FinalizeMatch_DefaultAndRetired(t *testing.T) {
	ci.Parallel(t)
	r := newRawDesk(t)

	// Default synthesizes the stylized walkover score from the duration.
	cases := []struct {
		code     string
		duration int
		display  string
	}{
		{"WOM_E1_WF_R1_M01", 35, "4-0"},
		{"WOM_E1_WF_R1_M02", 60, "8-0"},
		{"WOM_E1_BWW_QF_M01", 105, "6-0,6-0"},
	}
	for i, tc := range cases {
		m := r.match(t, tc.code, structs.MatchTypeWF, tc.duration,
			int64(200+2*i), int64(201+2*i))
		result, err := r.desk.FinalizeMatch(r.version.ID, m.ID, &FinalizeRequest{
			WinnerTeamID: m.TeamAID,
			Default:      true,
		})
		must.NoError(t, err)
		must.Eq(t, tc.display, result.Match.Score.Display)
		must.True(t, result.Match.Score.Default)
	}

	// Retired keeps the partial score and flags it.
	m := r.match(t, "WOM_E1_BWW_QF_M02", structs.MatchTypeMain, 105, 301, 302)
	result, err := r.desk.FinalizeMatch(r.version.ID, m.ID, &FinalizeRequest{
		WinnerTeamID: 301,
		Score:        structs.NewScore("6-2,3-0"),
		Retired:      true,
	})
	must.NoError(t, err)
	must.Eq(t, "6-2,3-0", result.Match.Score.Display)
	must.True(t, result.Match.Score.Retired)
	must.False(t, result.Match.Score.Default)
}

func TestDesk_FinalizeMatch_AutoStart(t *testing.T) {
	ci.Parallel(t)
	r := newRawDesk(t)

	m1 := r.match(t, "MEN_E1_RR_R1_M01", structs.MatchTypeRR, 105, 101, 102)
	m2 := r.match(t, "MEN_E1_RR_R2_M01", structs.MatchTypeRR, 105, 103, 104)
	m3 := r.match(t, "MEN_E1_RR_R3_M01", structs.MatchTypeRR, 105, 105, 106)
	other := r.match(t, "MEN_E1_RR_R1_M02", structs.MatchTypeRR, 105, 107, 108)

	day := "2025-10-04"
	r.seat(t, m1.ID, r.slot(t, day, 9*60, 105, 1).ID)
	r.seat(t, m2.ID, r.slot(t, day, 12*60, 105, 1).ID)
	r.seat(t, m3.ID, r.slot(t, day, 15*60, 105, 1).ID)
	r.seat(t, other.ID, r.slot(t, day, 12*60, 105, 2).ID)

	now := time.Date(2025, 10, 4, 11, 0, 0, 0, time.UTC)
	mockNow(t, r.desk, now)

	// Finalizing the 9:00 match starts the next scheduled match on the same
	// court, not the earlier-starting match on the neighbor court.
	result, err := r.desk.FinalizeMatch(r.version.ID, m1.ID, &FinalizeRequest{
		WinnerTeamID: 101,
		Score:        structs.NewScore("8-5"),
	})
	must.NoError(t, err)
	must.Eq(t, m2.ID, result.AutoStartedID)

	started := r.reload(t, m2.ID)
	must.Eq(t, structs.MatchStatusInProgress, started.Status)
	must.Eq(t, now, started.StartedAt)
	must.Eq(t, structs.MatchStatusScheduled, r.reload(t, other.ID).Status)

	// A court with nothing scheduled after the finalized match starts
	// nothing.
	result, err = r.desk.FinalizeMatch(r.version.ID, m3.ID, &FinalizeRequest{
		WinnerTeamID: 105,
		Score:        structs.NewScore("8-3"),
	})
	must.NoError(t, err)
	must.Zero(t, result.AutoStartedID)
}

func TestDesk_FinalizeMatch_AutoStartSkipsDelayed(t *testing.T) {
	ci.Parallel(t)
	r := newRawDesk(t)

	m1 := r.match(t, "MEN_E1_RR_R1_M01", structs.MatchTypeRR, 105, 101, 102)
	m2 := r.match(t, "MEN_E1_RR_R2_M01", structs.MatchTypeRR, 105, 103, 104)
	m3 := r.match(t, "MEN_E1_RR_R3_M01", structs.MatchTypeRR, 105, 105, 106)

	day := "2025-10-04"
	r.seat(t, m1.ID, r.slot(t, day, 9*60, 105, 1).ID)
	r.seat(t, m2.ID, r.slot(t, day, 12*60, 105, 1).ID)
	r.seat(t, m3.ID, r.slot(t, day, 15*60, 105, 1).ID)

	_, err := r.desk.SetStatus(r.version.ID, m2.ID, structs.MatchStatusDelayed)
	must.NoError(t, err)

	result, err := r.desk.FinalizeMatch(r.version.ID, m1.ID, &FinalizeRequest{
		WinnerTeamID: 101,
		Score:        structs.NewScore("8-5"),
	})
	must.NoError(t, err)
	must.Eq(t, m3.ID, result.AutoStartedID)
	must.Eq(t, structs.MatchStatusDelayed, r.reload(t, m2.ID).Status)
}

func TestDesk_FinalizeMatch_VersionNotDraft(t *testing.T) {
	ci.Parallel(t)
	r := newRawDesk(t)
	m := r.match(t, "WOM_E1_WF_R1_M01", structs.MatchTypeWF, 35, 101, 102)

	must.NoError(t, r.store.FinalizeVersion(r.store.NextIndex(), r.version.ID))

	_, err := r.desk.FinalizeMatch(r.version.ID, m.ID, &FinalizeRequest{
		WinnerTeamID: 101,
		Score:        structs.NewScore("4-1"),
	})
	must.Error(t, err)
	must.True(t, structs.IsErrVersionNotDraft(err))
}

func TestFinalizeScore_Synthesis(t *testing.T) {
	ci.Parallel(t)
	m := &structs.Match{Code: "X", DurationMinutes: 60}

	score, err := finalizeScore(m, &FinalizeRequest{Default: true})
	must.NoError(t, err)
	must.Eq(t, "8-0", score.Display)
	must.True(t, score.Default)
	must.Len(t, 1, score.Sets)

	score, err = finalizeScore(m, &FinalizeRequest{Retired: true})
	must.NoError(t, err)
	must.True(t, score.Retired)
	must.Eq(t, "", score.Display)

	// Display-only input gains parsed sets.
	score, err = finalizeScore(m, &FinalizeRequest{Score: &structs.Score{Display: "6-4,7-5"}})
	must.NoError(t, err)
	must.Len(t, 2, score.Sets)

	_, err = finalizeScore(m, &FinalizeRequest{})
	must.Error(t, err)
	must.True(t, structs.IsErrValidation(err))
}

func TestDedupRows(t *testing.T) {
	ci.Parallel(t)

	a1 := &structs.Match{ID: 1, Status: structs.MatchStatusScheduled}
	b := &structs.Match{ID: 2, Status: structs.MatchStatusScheduled}
	a2 := &structs.Match{ID: 1, Status: structs.MatchStatusFinal}

	out := dedupRows([]*structs.Match{a1, b, a2})
	must.Len(t, 2, out)
	must.Eq(t, int64(1), out[0].ID)
	must.Eq(t, structs.MatchStatusFinal, out[0].Status)
	must.Eq(t, int64(2), out[1].ID)
}
