// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"sort"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/hashicorp/courtside/courtside/structs"
)

// Stage units order sibling match types within one team-round. Waterfall
// precedes everything, placement trails everything.
const (
	unitWF          = 0
	unitMain        = 1
	unitRR          = 2
	unitConsolation = 3
	unitPlacement   = 4
)

// teamRoundsPerDay groups team-rounds onto tournament days: a team plays
// at most two rounds per day, so rounds 1-2 belong to day one, 3-4 to day
// two, and so on.
const teamRoundsPerDay = 2

// stageUnit returns the intra-round ordering unit for a match type.
func stageUnit(matchType string) int {
	switch matchType {
	case structs.MatchTypeWF:
		return unitWF
	case structs.MatchTypeMain:
		return unitMain
	case structs.MatchTypeRR:
		return unitRR
	case structs.MatchTypeConsolation:
		return unitConsolation
	default:
		return unitPlacement
	}
}

// teamRound estimates which match of the weekend this is for its teams,
// 1-based. Waterfall rounds come first; bracket and pool rounds are offset
// by the event's waterfall depth. Consolation rounds trail their feeding
// bracket round by one, placement matches by two. Bracket round indexes
// encode depth (quarterfinal=1, semifinal=2, final=3), so sibling brackets
// of different sizes land in the same team-round.
func teamRound(m *structs.Match, wfRounds int) int {
	switch m.Type {
	case structs.MatchTypeWF:
		return m.RoundIndex
	case structs.MatchTypeMain, structs.MatchTypeRR:
		return wfRounds + m.RoundIndex
	case structs.MatchTypeConsolation:
		return wfRounds + 1 + m.RoundIndex
	default:
		return wfRounds + 2 + m.RoundIndex
	}
}

// phase buckets a match for the master sequence: the tens digit carries the
// team-round, the units digit the stage unit.
func phase(m *structs.Match, wfRounds int) int {
	return teamRound(m, wfRounds)*10 + stageUnit(m.Type)
}

// targetDayIndex maps a team-round onto a tournament day, clamping spare
// rounds onto the last day.
func targetDayIndex(round, dayCount int) int {
	idx := (round - 1) / teamRoundsPerDay
	if idx >= dayCount {
		idx = dayCount - 1
	}
	return idx
}

// eventBefore is the event priority order: larger events first, then id.
func eventBefore(a, b *structs.Event) bool {
	if a.TeamCount != b.TeamCount {
		return a.TeamCount > b.TeamCount
	}
	return a.ID < b.ID
}

// sortEventsByPriority returns the events in priority order without
// mutating the input.
func sortEventsByPriority(events []*structs.Event) []*structs.Event {
	sorted := make([]*structs.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return eventBefore(sorted[i], sorted[j]) })
	return sorted
}

// rotateWithinSizeBuckets rotates each run of equal-sized events left by
// offset positions. Day two then opens with a different event than day one
// among same-size ties while the overall size ordering holds.
func rotateWithinSizeBuckets(events []*structs.Event, offset int) []*structs.Event {
	rotated := make([]*structs.Event, 0, len(events))
	for start := 0; start < len(events); {
		end := start + 1
		for end < len(events) && events[end].TeamCount == events[start].TeamCount {
			end++
		}
		n := end - start
		shift := offset % n
		for i := 0; i < n; i++ {
			rotated = append(rotated, events[start+(i+shift)%n])
		}
		start = end
	}
	return rotated
}

// SequencedMatch is one entry of the master sequence.
type SequencedMatch struct {
	Match *structs.Match

	// Rank is the 1-based position in the total order.
	Rank int

	// Phase and TeamRound expose the bucketing for callers that regroup
	// the sequence, e.g. the reschedule engine.
	Phase     int
	TeamRound int

	// Day is the target tournament day for this entry.
	Day string
}

// BuildMasterSequence computes the ideal playing order of every match in
// the version, independent of slots. The sequence driver walks it directly;
// the reschedule engine uses it to order overflow.
func (s *Scheduler) BuildMasterSequence(versionID int64) ([]*SequencedMatch, error) {
	defer metrics.MeasureSince([]string{"courtside", "scheduler", "build_sequence"}, time.Now())

	in, err := s.loadInputs(versionID)
	if err != nil {
		return nil, err
	}
	return buildSequence(in), nil
}

// buildSequence ranks the input's matches. Within a phase, events are
// visited in rotated priority order with the rotation offset tied to the
// team-round's day, and matches within one event sort by id.
func buildSequence(in *placementInputs) []*SequencedMatch {
	dayCount := len(in.tour.Days)

	// Rotation changes per day, so the event rank of a match depends on
	// its team-round. Cache one rotation per day index.
	rankByDay := make(map[int]map[int64]int)
	eventRank := func(dayIdx int, eventID int64) int {
		ranks, ok := rankByDay[dayIdx]
		if !ok {
			ranks = make(map[int64]int, len(in.eventList))
			for i, e := range rotateWithinSizeBuckets(in.eventList, dayIdx) {
				ranks[e.ID] = i
			}
			rankByDay[dayIdx] = ranks
		}
		return ranks[eventID]
	}

	seq := make([]*SequencedMatch, 0, len(in.matches))
	for _, m := range in.matches {
		round := teamRound(m, in.wfRoundsOf(m.EventID))
		seq = append(seq, &SequencedMatch{
			Match:     m,
			Phase:     phase(m, in.wfRoundsOf(m.EventID)),
			TeamRound: round,
			Day:       in.tour.Days[targetDayIndex(round, dayCount)].Day,
		})
	}

	sort.Slice(seq, func(i, j int) bool {
		a, b := seq[i], seq[j]
		if a.Phase != b.Phase {
			return a.Phase < b.Phase
		}
		dayIdx := targetDayIndex(a.TeamRound, dayCount)
		ra, rb := eventRank(dayIdx, a.Match.EventID), eventRank(dayIdx, b.Match.EventID)
		if ra != rb {
			return ra < rb
		}
		return a.Match.ID < b.Match.ID
	})
	for i, sm := range seq {
		sm.Rank = i + 1
	}
	return seq
}

// sortForPlacement orders a batch of matches by the standard placement key:
// phase, round index, event priority, sequence in round, code.
func sortForPlacement(in *placementInputs, matches []*structs.Match) {
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		pa, pb := phase(a, in.wfRoundsOf(a.EventID)), phase(b, in.wfRoundsOf(b.EventID))
		if pa != pb {
			return pa < pb
		}
		if a.RoundIndex != b.RoundIndex {
			return a.RoundIndex < b.RoundIndex
		}
		ea, eb := in.events[a.EventID], in.events[b.EventID]
		if ea != nil && eb != nil && ea.ID != eb.ID {
			if ea.TeamCount != eb.TeamCount {
				return ea.TeamCount > eb.TeamCount
			}
			return ea.ID < eb.ID
		}
		if a.SequenceInRound != b.SequenceInRound {
			return a.SequenceInRound < b.SequenceInRound
		}
		return a.Code < b.Code
	})
}
