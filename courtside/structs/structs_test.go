// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"testing"

	"github.com/hashicorp/courtside/ci"
	"github.com/shoenig/test/must"
)

func testTournament() *Tournament {
	return &Tournament{
		ID:          1,
		Name:        "Fall Classic",
		Timezone:    "America/Chicago",
		StartDate:   "2025-10-03",
		EndDate:     "2025-10-05",
		CourtLabels: []string{"Court 1", "Court 2", "Court 3"},
		Days: []*TournamentDay{
			{
				Day:              "2025-10-03",
				EarliestStartMin: 8 * 60,
				LatestEndMin:     22 * 60,
				Windows: []TimeWindow{
					{StartMin: 8 * 60, EndMin: 9*60 + 45, BlockMinutes: 105},
					{StartMin: 9*60 + 45, EndMin: 11*60 + 30, BlockMinutes: 105},
				},
			},
			{
				Day:              "2025-10-04",
				EarliestStartMin: 8 * 60,
				LatestEndMin:     22 * 60,
				Windows: []TimeWindow{
					{StartMin: 8 * 60, EndMin: 9*60 + 45, BlockMinutes: 105},
				},
			},
		},
	}
}

func TestTournament_Copy(t *testing.T) {
	ci.Parallel(t)

	orig := testTournament()
	cp := orig.Copy()
	must.Eq(t, orig, cp)

	cp.CourtLabels[0] = "mutated"
	cp.Days[0].Windows[0].BlockMinutes = 1
	must.Eq(t, "Court 1", orig.CourtLabels[0])
	must.Eq(t, 105, orig.Days[0].Windows[0].BlockMinutes)
}

func TestTournament_DayHelpers(t *testing.T) {
	ci.Parallel(t)

	tour := testTournament()

	must.Eq(t, 0, tour.DayIndex("2025-10-03"))
	must.Eq(t, 1, tour.DayIndex("2025-10-04"))
	must.Eq(t, -1, tour.DayIndex("2025-10-05"))

	must.NotNil(t, tour.Day("2025-10-04"))
	must.Nil(t, tour.Day("2025-12-25"))

	must.Eq(t, "2025-10-04", tour.LastDay())

	must.Eq(t, 2, tour.CourtNumber("Court 2"))
	must.Eq(t, 0, tour.CourtNumber("Court 9"))
}

func TestTournament_Validate(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		name   string
		mutate func(*Tournament)
		ok     bool
	}{
		{"valid", func(*Tournament) {}, true},
		{"no name", func(tour *Tournament) { tour.Name = "" }, false},
		{"no courts", func(tour *Tournament) { tour.CourtLabels = nil }, false},
		{"bad day", func(tour *Tournament) { tour.Days[0].Day = "Oct 3" }, false},
		{"days out of order", func(tour *Tournament) {
			tour.Days[0], tour.Days[1] = tour.Days[1], tour.Days[0]
		}, false},
		{"window outside bounds", func(tour *Tournament) {
			tour.Days[0].Windows[0].StartMin = 6 * 60
		}, false},
		{"block exceeds window", func(tour *Tournament) {
			tour.Days[0].Windows[0].BlockMinutes = 300
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tour := testTournament()
			tc.mutate(tour)
			err := tour.Validate()
			if tc.ok {
				must.NoError(t, err)
			} else {
				must.Error(t, err)
				must.True(t, IsErrValidation(err))
			}
		})
	}
}

func TestEvent_CodePrefix(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		category string
		id       int64
		expect   string
	}{
		{"womens", 1, "WOM_E1"},
		{"mixed", 2, "MIX_E2"},
		{"mens open", 14, "MEN_E14"},
		{"co-ed", 3, "COE_E3"},
		{"", 7, "EVT_E7"},
	}

	for _, tc := range cases {
		ev := &Event{ID: tc.id, Category: tc.category}
		must.Eq(t, tc.expect, ev.CodePrefix())
	}
}

func TestEvent_DurationForType(t *testing.T) {
	ci.Parallel(t)

	ev := &Event{WaterfallMinutes: 35, StandardMinutes: 105}
	must.Eq(t, 35, ev.DurationForType(MatchTypeWF))
	must.Eq(t, 105, ev.DurationForType(MatchTypeRR))
	must.Eq(t, 105, ev.DurationForType(MatchTypeMain))
	must.Eq(t, 105, ev.DurationForType(MatchTypeConsolation))
	must.Eq(t, 105, ev.DurationForType(MatchTypePlacement))
}

func TestEvent_Validate(t *testing.T) {
	ci.Parallel(t)

	base := func() *Event {
		return &Event{
			ID:               1,
			TournamentID:     1,
			Name:             "Womens A",
			Category:         "womens",
			TeamCount:        16,
			Guarantee:        5,
			WaterfallMinutes: 35,
			StandardMinutes:  105,
		}
	}

	must.NoError(t, base().Validate())

	ev := base()
	ev.TournamentID = 0
	must.Error(t, ev.Validate())

	ev = base()
	ev.TeamCount = 1
	must.Error(t, ev.Validate())

	ev = base()
	ev.Guarantee = 3
	must.Error(t, ev.Validate())

	ev = base()
	ev.StandardMinutes = 0
	must.Error(t, ev.Validate())
}

func TestDrawPlan_TotalMatches(t *testing.T) {
	ci.Parallel(t)

	plan := &DrawPlan{
		TemplateKey:     TemplateWFToBrackets8,
		WaterfallRounds: 2,
		BracketSizes:    []int{8, 8},
		Inventory: map[string]int{
			MatchTypeWF:          16,
			MatchTypeMain:        14,
			MatchTypeConsolation: 4,
			MatchTypePlacement:   2,
		},
	}
	must.Eq(t, 36, plan.TotalMatches())

	cp := plan.Copy()
	cp.Inventory[MatchTypeWF] = 0
	cp.BracketSizes[0] = 4
	must.Eq(t, 16, plan.Inventory[MatchTypeWF])
	must.Eq(t, 8, plan.BracketSizes[0])
}

func TestScheduleVersion_IsDraft(t *testing.T) {
	ci.Parallel(t)

	v := &ScheduleVersion{Status: VersionStatusDraft}
	must.True(t, v.IsDraft())
	v.Status = VersionStatusFinal
	must.False(t, v.IsDraft())
}

func TestPolicyConfig_Defaults(t *testing.T) {
	ci.Parallel(t)

	cfg := DefaultPolicyConfig()
	must.NoError(t, cfg.Validate())
	must.Eq(t, 90, cfg.RestScoringMin)
	must.Eq(t, 60, cfg.RestWFToScoringMin)
	must.Eq(t, 30, cfg.RestWFMin)
	must.Eq(t, 2, cfg.DailyCap)
	must.Eq(t, 3, cfg.DailyCapRROnly)
	must.Eq(t, PolicyVersion, cfg.Version)

	must.Eq(t, 30, cfg.EffectiveRestWF())
	cfg.WeatherMode = true
	must.Eq(t, 0, cfg.EffectiveRestWF())
	must.Eq(t, 90, cfg.RestScoringMin)
}

func TestPolicyConfig_Validate(t *testing.T) {
	ci.Parallel(t)

	cfg := DefaultPolicyConfig()
	cfg.RestScoringMin = -1
	must.Error(t, cfg.Validate())

	cfg = DefaultPolicyConfig()
	cfg.DailyCap = 0
	must.Error(t, cfg.Validate())

	cfg = DefaultPolicyConfig()
	cfg.DailyCapRROnly = 1
	must.Error(t, cfg.Validate())
}

func TestValidRescheduleMode(t *testing.T) {
	ci.Parallel(t)

	for _, mode := range []string{
		RescheduleModePartialDay, RescheduleModeFullWashout,
		RescheduleModeCourtLoss, RescheduleModeRebuild,
	} {
		must.True(t, ValidRescheduleMode(mode))
	}
	must.False(t, ValidRescheduleMode("TOMORROW"))
	must.False(t, ValidRescheduleMode(""))
}

func TestScoringFormatMinutes(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		format  string
		minutes int
	}{
		{ScoringFormatRegular, 105},
		{ScoringFormatProSet8, 60},
		{ScoringFormatProSet4, 35},
	}
	for _, tc := range cases {
		got, err := ScoringFormatMinutes(tc.format)
		must.NoError(t, err)
		must.Eq(t, tc.minutes, got)
	}

	_, err := ScoringFormatMinutes("TIMED")
	must.Error(t, err)
	must.True(t, IsErrValidation(err))
}

func TestValidDropMode(t *testing.T) {
	ci.Parallel(t)

	for _, mode := range []string{DropConsolationNone, DropConsolationFinals, DropConsolationAll} {
		must.True(t, ValidDropMode(mode))
	}
	must.False(t, ValidDropMode("some"))
}

func TestParseClock(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		in  string
		min int
		ok  bool
	}{
		{"08:00", 480, true},
		{"00:00", 0, true},
		{"21:45", 1305, true},
		{"24:00", 1440, true},
		{"24:01", 0, false},
		{"8am", 0, false},
		{"", 0, false},
	}

	for _, tc := range cases {
		got, err := ParseClock(tc.in)
		if tc.ok {
			must.NoError(t, err)
			must.Eq(t, tc.min, got)
			must.Eq(t, tc.in, FormatClock(got))
		} else {
			must.Error(t, err)
		}
	}
}

func TestParseDay(t *testing.T) {
	ci.Parallel(t)

	_, err := ParseDay("2025-10-03")
	must.NoError(t, err)

	_, err = ParseDay("10/03/2025")
	must.Error(t, err)
	must.True(t, IsErrValidation(err))
}
