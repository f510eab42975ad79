// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"testing"

	"github.com/hashicorp/courtside/ci"
	"github.com/shoenig/test/must"
)

func TestParseScoreDisplay(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		display string
		sets    []SetScore
		ok      bool
	}{
		{"8-4", []SetScore{{8, 4}}, true},
		{"6-0,6-2", []SetScore{{6, 0}, {6, 2}}, true},
		{"6-4, 3-6, 10-8", []SetScore{{6, 4}, {3, 6}, {10, 8}}, true},
		{" 4-0 ", []SetScore{{4, 0}}, true},
		{"", nil, false},
		{"walkover", nil, false},
		{"6-0,retired", nil, false},
		{"-1-4", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.display, func(t *testing.T) {
			sets, ok := ParseScoreDisplay(tc.display)
			must.Eq(t, tc.ok, ok)
			if tc.ok {
				must.Eq(t, tc.sets, sets)
			}
		})
	}
}

func TestScore_ParseSets(t *testing.T) {
	ci.Parallel(t)

	// Structured display parses lazily.
	s := &Score{Display: "8-6"}
	sets, ok := s.ParseSets()
	must.True(t, ok)
	must.Eq(t, []SetScore{{8, 6}}, sets)

	// Pre-parsed sets win over the display string.
	s = &Score{Display: "nonsense", Sets: []SetScore{{6, 3}}}
	sets, ok = s.ParseSets()
	must.True(t, ok)
	must.Eq(t, []SetScore{{6, 3}}, sets)

	// Free-text results carry no sets. Standings count them as zero.
	s = &Score{Display: "won on forfeit"}
	_, ok = s.ParseSets()
	must.False(t, ok)

	var nilScore *Score
	_, ok = nilScore.ParseSets()
	must.False(t, ok)
}

func TestDefaultScoreForDuration(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		minutes int
		display string
	}{
		{35, "4-0"},
		{30, "4-0"},
		{60, "8-0"},
		{45, "8-0"},
		{105, "6-0,6-0"},
		{120, "6-0,6-0"},
	}

	for _, tc := range cases {
		s := DefaultScoreForDuration(tc.minutes)
		must.Eq(t, tc.display, s.Display)
		must.True(t, s.Default)
		_, ok := s.ParseSets()
		must.True(t, ok)
	}
}

func TestScore_Equal(t *testing.T) {
	ci.Parallel(t)

	a := NewScore("6-0,6-2")
	b := NewScore("6-0,6-2")
	must.True(t, a.Equal(b))

	b.Default = true
	must.False(t, a.Equal(b))

	var nilScore *Score
	must.True(t, nilScore.Equal(nil))
	must.False(t, a.Equal(nil))
	must.False(t, nilScore.Equal(a))
}

func TestUnmarshalScore_UnknownShape(t *testing.T) {
	ci.Parallel(t)

	// Well-formed wire scores round-trip.
	raw, err := MarshalScore(NewScore("8-4"))
	must.NoError(t, err)
	s, err := UnmarshalScore(raw)
	must.NoError(t, err)
	must.Eq(t, "8-4", s.Display)
	must.Eq(t, []SetScore{{8, 4}}, s.Sets)

	// Junk from an external device survives as a display-only score.
	s, err = UnmarshalScore("not json at all")
	must.NoError(t, err)
	must.Eq(t, "not json at all", s.Display)
	must.SliceEmpty(t, s.Sets)

	// Empty means no score recorded.
	s, err = UnmarshalScore("")
	must.NoError(t, err)
	must.Nil(t, s)
}

func TestScore_Copy(t *testing.T) {
	ci.Parallel(t)

	s := &Score{
		Display: "6-0,6-2",
		Sets:    []SetScore{{6, 0}, {6, 2}},
		KV:      map[string]string{"device": "pad-3"},
	}
	cp := s.Copy()
	must.Eq(t, s, cp)

	cp.Sets[0].B = 9
	cp.KV["device"] = "pad-4"
	must.Eq(t, 0, s.Sets[0].B)
	must.Eq(t, "pad-3", s.KV["device"])
}
