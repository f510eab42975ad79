// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"fmt"
	"sort"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/hashicorp/courtside/courtside/structs"
)

// PlacementBatch is one named, ordered unit of the daily policy. Batches
// execute in order through the shared first-fit primitive; the live
// context carries cap saturation across batch boundaries.
type PlacementBatch struct {
	Name    string
	Matches []*structs.Match

	// capOverride relaxes the daily cap for named events while this batch
	// runs.
	capOverride map[int64]int
}

// RunDailyPolicy places matches onto one tournament day following the
// day's batch policy: opening days run waterfall blocks first, middle days
// run bracket tiers and defer main-draw finals, the last day catches up
// whatever remains. Assignments are restricted to the given day, and one
// court per non-opening time bucket is kept free unless the grid is
// capacity tight.
func (s *Scheduler) RunDailyPolicy(versionID int64, day string) (*PlacementResult, error) {
	defer metrics.MeasureSince([]string{"courtside", "scheduler", "run_daily_policy"}, time.Now())

	in, err := s.loadInputs(versionID)
	if err != nil {
		return nil, err
	}
	if !in.version.IsDraft() {
		return nil, structs.NewErrVersionNotDraft(versionID)
	}
	dayIdx := in.tour.DayIndex(day)
	if dayIdx < 0 {
		return nil, structs.NewErrValidation(fmt.Sprintf(
			"day %s is not an active day of tournament %q", day, in.tour.Name))
	}

	ctx := newPlaceContext(in)
	ctx.reserveSpare = !capacityTight(in)
	result := &PlacementResult{VersionID: versionID, Day: day}
	result.Warnings = append(result.Warnings, ctx.claimPins()...)

	var batches []*PlacementBatch
	switch {
	case dayIdx == len(in.tour.Days)-1:
		batches = s.catchUpBatches(in, ctx, day)
	case dayIdx == 0:
		batches = s.openingBatches(in, ctx)
	default:
		batches = s.middleBatches(in, ctx, dayIdx, result)
	}

	for _, batch := range batches {
		result.Batches = append(result.Batches, ctx.runBatch(batch, dayIdx, result))
	}
	if dayIdx > 0 && dayIdx < len(in.tour.Days)-1 {
		result.Batches = append(result.Batches, s.consolationFill(in, ctx, dayIdx)...)
	}

	if err := s.writePlan(in, ctx, structs.AssignedByAuto); err != nil {
		return nil, err
	}
	result.PlacedCount = len(ctx.placed)

	s.logger.Info("daily policy complete", "version_id", versionID, "day", day,
		"batches", len(result.Batches), "placed", result.PlacedCount,
		"unplaced", len(result.UnplacedIDs), "deferred_finals", len(result.DeferredFinalIDs))
	return result, nil
}

// RunFullPolicy runs the daily policy across every tournament day in date
// order, reloading state between days so each day sees the previous day's
// placements.
func (s *Scheduler) RunFullPolicy(versionID int64) ([]*PlacementResult, error) {
	defer metrics.MeasureSince([]string{"courtside", "scheduler", "run_full_policy"}, time.Now())

	in, err := s.loadInputs(versionID)
	if err != nil {
		return nil, err
	}
	results := make([]*PlacementResult, 0, len(in.tour.Days))
	for _, d := range in.tour.Days {
		r, err := s.RunDailyPolicy(versionID, d.Day)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// runBatch first-fits every match of the batch onto the day. Already
// assigned matches are skipped; failures are recorded on the result and
// retried by later days' policies.
func (ctx *placeContext) runBatch(batch *PlacementBatch, dayIdx int, result *PlacementResult) *BatchOutcome {
	for id, c := range batch.capOverride {
		ctx.capOverride[id] = c
	}
	outcome := &BatchOutcome{Name: batch.Name}
	for _, m := range batch.Matches {
		if ctx.assigned(m.ID) {
			continue
		}
		outcome.Attempted++
		if _, ok := ctx.firstFit(m, dayIdx, true); ok {
			outcome.Placed++
		} else {
			result.UnplacedIDs = append(result.UnplacedIDs, m.ID)
		}
	}
	for id := range batch.capOverride {
		delete(ctx.capOverride, id)
	}
	return outcome
}

// pendingMatches returns the version's placeable backlog: matches with no
// slot that still need one. Cancelled matches and matches finalized off the
// court never consume capacity.
func pendingMatches(in *placementInputs, ctx *placeContext) []*structs.Match {
	pending := make([]*structs.Match, 0, len(in.matches))
	for _, m := range in.matches {
		if ctx.assigned(m.ID) || m.Final() || m.Status == structs.MatchStatusCancelled {
			continue
		}
		pending = append(pending, m)
	}
	return pending
}

// openingBatches builds the first day's batch list: per-event waterfall
// round one blocks largest event first, opening rounds of events without
// waterfall play, per-event waterfall round two blocks, then every other
// match whose target day is the opener.
func (s *Scheduler) openingBatches(in *placementInputs, ctx *placeContext) []*PlacementBatch {
	pending := pendingMatches(in, ctx)
	byEvent := make(map[int64][]*structs.Match)
	for _, m := range pending {
		byEvent[m.EventID] = append(byEvent[m.EventID], m)
	}

	var batches []*PlacementBatch
	batched := make(map[int64]bool)
	add := func(name string, ms []*structs.Match) {
		if len(ms) == 0 {
			return
		}
		sortForPlacement(in, ms)
		for _, m := range ms {
			batched[m.ID] = true
		}
		batches = append(batches, &PlacementBatch{Name: name, Matches: ms})
	}

	for _, e := range in.eventList {
		var ms []*structs.Match
		for _, m := range byEvent[e.ID] {
			if m.Type == structs.MatchTypeWF && m.RoundIndex == 1 {
				ms = append(ms, m)
			}
		}
		add(fmt.Sprintf("wf-r1-e%d", e.ID), ms)
	}

	for _, e := range in.eventList {
		if in.wfRoundsOf(e.ID) > 0 {
			continue
		}
		add(fmt.Sprintf("first-round-e%d", e.ID), openingRound(byEvent[e.ID]))
	}

	for _, e := range in.eventList {
		var ms []*structs.Match
		for _, m := range byEvent[e.ID] {
			if m.Type == structs.MatchTypeWF && m.RoundIndex == 2 {
				ms = append(ms, m)
			}
		}
		add(fmt.Sprintf("wf-r2-e%d", e.ID), ms)
	}

	var rem []*structs.Match
	for _, m := range pending {
		if batched[m.ID] {
			continue
		}
		if targetDayIndex(teamRound(m, in.wfRoundsOf(m.EventID)), len(in.tour.Days)) == 0 {
			rem = append(rem, m)
		}
	}
	add("remainder", rem)
	return batches
}

// openingRound picks an event's first scheduled round when it has no
// waterfall: round robin round one, or the earliest main round of each
// bracket.
func openingRound(pending []*structs.Match) []*structs.Match {
	var rr, main []*structs.Match
	minRound := make(map[string]int)
	for _, m := range pending {
		switch m.Type {
		case structs.MatchTypeRR:
			if m.RoundIndex == 1 {
				rr = append(rr, m)
			}
		case structs.MatchTypeMain:
			if r, ok := minRound[m.BracketLabel]; !ok || m.RoundIndex < r {
				minRound[m.BracketLabel] = m.RoundIndex
			}
		}
	}
	if len(rr) > 0 {
		return rr
	}
	for _, m := range pending {
		if m.Type == structs.MatchTypeMain && m.RoundIndex == minRound[m.BracketLabel] {
			main = append(main, m)
		}
	}
	return main
}

// middleBatches builds the batch list for days between the opener and the
// last day: leftover waterfall as a safety net, per-event bracket tiers with
// main-draw finals deferred, round robin rounds one and two, extra rounds
// for pure pool-play events under the relaxed cap, then placement matches.
// Event order rotates with the day index so same-size events take turns
// opening a day.
func (s *Scheduler) middleBatches(in *placementInputs, ctx *placeContext, dayIdx int, result *PlacementResult) []*PlacementBatch {
	pending := pendingMatches(in, ctx)
	byEvent := make(map[int64][]*structs.Match)
	for _, m := range pending {
		byEvent[m.EventID] = append(byEvent[m.EventID], m)
	}
	rotated := rotateWithinSizeBuckets(in.eventList, dayIdx)

	var batches []*PlacementBatch
	add := func(name string, ms []*structs.Match, caps map[int64]int) {
		if len(ms) == 0 {
			return
		}
		sortForPlacement(in, ms)
		batches = append(batches, &PlacementBatch{Name: name, Matches: ms, capOverride: caps})
	}

	var wf []*structs.Match
	for _, m := range pending {
		if m.Type == structs.MatchTypeWF {
			wf = append(wf, m)
		}
	}
	add("wf-leftover", wf, nil)

	// Bracket tiers are the first and second still-unplaced rounds of each
	// bracket; a tier match that is its bracket's final is deferred instead
	// of placed.
	deferFinal := func(ms []*structs.Match) []*structs.Match {
		kept := ms[:0]
		for _, m := range ms {
			if m.Type == structs.MatchTypeMain && ctx.posFromEnd(m) == 0 {
				result.DeferredFinalIDs = append(result.DeferredFinalIDs, m.ID)
				continue
			}
			kept = append(kept, m)
		}
		return kept
	}
	for _, e := range rotated {
		tier := bracketTier(byEvent[e.ID], 0)
		tier = append(tier, rrRound(byEvent[e.ID], 1)...)
		add(fmt.Sprintf("tier-one-e%d", e.ID), deferFinal(tier), nil)
	}
	for _, e := range rotated {
		tier := bracketTier(byEvent[e.ID], 1)
		tier = append(tier, rrRound(byEvent[e.ID], 2)...)
		add(fmt.Sprintf("tier-two-e%d", e.ID), deferFinal(tier), nil)
	}

	var extra []*structs.Match
	caps := make(map[int64]int)
	for _, e := range rotated {
		if e.Plan == nil || e.Plan.TemplateKey != structs.TemplateRROnly {
			continue
		}
		for _, m := range byEvent[e.ID] {
			if m.Type == structs.MatchTypeRR && m.RoundIndex >= 3 {
				extra = append(extra, m)
				caps[e.ID] = in.config.DailyCapRROnly
			}
		}
	}
	add("rr-extra", extra, caps)

	// Placement matches join a middle day only once their feeders already
	// hold slots; the rest wait for a later day's policy.
	var placement []*structs.Match
	for _, m := range pending {
		if m.Type != structs.MatchTypePlacement {
			continue
		}
		ready := true
		for _, srcID := range m.SourceIDs() {
			if !ctx.assigned(srcID) {
				ready = false
				break
			}
		}
		if ready {
			placement = append(placement, m)
		}
	}
	add("placement", placement, nil)

	sort.Slice(result.DeferredFinalIDs, func(i, j int) bool {
		return result.DeferredFinalIDs[i] < result.DeferredFinalIDs[j]
	})
	return batches
}

// bracketTier returns the matches of the n-th still-unplaced main round of
// each bracket of the event, n counted from zero.
func bracketTier(pending []*structs.Match, n int) []*structs.Match {
	roundsByLabel := make(map[string][]int)
	for _, m := range pending {
		if m.Type != structs.MatchTypeMain {
			continue
		}
		rs := roundsByLabel[m.BracketLabel]
		found := false
		for _, r := range rs {
			if r == m.RoundIndex {
				found = true
				break
			}
		}
		if !found {
			roundsByLabel[m.BracketLabel] = append(rs, m.RoundIndex)
		}
	}
	want := make(map[string]int)
	for label, rs := range roundsByLabel {
		sort.Ints(rs)
		if n < len(rs) {
			want[label] = rs[n]
		} else {
			delete(roundsByLabel, label)
		}
	}

	var tier []*structs.Match
	for _, m := range pending {
		if m.Type != structs.MatchTypeMain {
			continue
		}
		if r, ok := want[m.BracketLabel]; ok && m.RoundIndex == r {
			tier = append(tier, m)
		}
	}
	return tier
}

// rrRound filters an event's pending matches to one round robin round.
func rrRound(pending []*structs.Match, round int) []*structs.Match {
	var ms []*structs.Match
	for _, m := range pending {
		if m.Type == structs.MatchTypeRR && m.RoundIndex == round {
			ms = append(ms, m)
		}
	}
	return ms
}

// consolationFill places eligible consolation rounds onto the day's spare
// courts in full blocks only: either every remaining match of an (event,
// round) group lands or the whole block rolls back, keeping consolation
// rounds complete. A block is eligible once every member's sources are
// placed and the previous consolation round is fully placed; on day two
// only rounds at or below the configured fill cap qualify.
func (s *Scheduler) consolationFill(in *placementInputs, ctx *placeContext, dayIdx int) []*BatchOutcome {
	type fillBlock struct {
		event   *structs.Event
		round   int
		matches []*structs.Match
	}

	var blocks []*fillBlock
	for _, e := range in.eventList {
		pendingByRound := make(map[int][]*structs.Match)
		for _, m := range in.matches {
			if m.EventID != e.ID || m.Type != structs.MatchTypeConsolation {
				continue
			}
			if ctx.assigned(m.ID) || m.Final() || m.Status == structs.MatchStatusCancelled {
				continue
			}
			pendingByRound[m.RoundIndex] = append(pendingByRound[m.RoundIndex], m)
		}
		rounds := make([]int, 0, len(pendingByRound))
		for r := range pendingByRound {
			rounds = append(rounds, r)
		}
		sort.Ints(rounds)

	nextRound:
		for _, r := range rounds {
			if dayIdx == 1 && r > in.config.ConsolationFillMaxRound {
				continue
			}
			ms := pendingByRound[r]
			for _, m := range ms {
				for _, srcID := range m.SourceIDs() {
					if !ctx.assigned(srcID) {
						continue nextRound
					}
				}
			}
			if r > 1 && !roundFullyAssigned(in, ctx, e.ID, r-1) {
				continue
			}
			sortForPlacement(in, ms)
			blocks = append(blocks, &fillBlock{event: e, round: r, matches: ms})
		}
	}

	sort.SliceStable(blocks, func(i, j int) bool {
		a, b := blocks[i], blocks[j]
		if a.event.ID != b.event.ID {
			return eventBefore(a.event, b.event)
		}
		return a.round < b.round
	})

	var outcomes []*BatchOutcome
	for _, blk := range blocks {
		outcome := &BatchOutcome{
			Name:      fmt.Sprintf("consolation-fill-e%d-r%d", blk.event.ID, blk.round),
			Attempted: len(blk.matches),
		}
		claimed := make([]*structs.Match, 0, len(blk.matches))
		full := true
		for _, m := range blk.matches {
			if _, ok := ctx.firstFit(m, dayIdx, true); !ok {
				full = false
				break
			}
			claimed = append(claimed, m)
		}
		if !full {
			for _, m := range claimed {
				ctx.release(m.ID)
			}
		} else {
			outcome.Placed = len(claimed)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// roundFullyAssigned reports whether every match of (event, consolation,
// round) holds a slot.
func roundFullyAssigned(in *placementInputs, ctx *placeContext, eventID int64, round int) bool {
	for _, m := range in.matches {
		if m.EventID != eventID || m.Type != structs.MatchTypeConsolation || m.RoundIndex != round {
			continue
		}
		if !ctx.assigned(m.ID) {
			return false
		}
	}
	return true
}

// catchUpBatches builds the last day's batch list. Events that have played
// the fewest rounds go first within every batch, so events squeezed by
// earlier days get the early slots their backlog needs. Main and
// consolation matches interleave at equal tiers; a consolation semifinal
// and a quarterfinal compete for the same morning courts.
func (s *Scheduler) catchUpBatches(in *placementInputs, ctx *placeContext, day string) []*PlacementBatch {
	pending := pendingMatches(in, ctx)

	played := roundsPlayedBefore(in, ctx, day)
	less := func(a, b *structs.Match) bool {
		if played[a.EventID] != played[b.EventID] {
			return played[a.EventID] < played[b.EventID]
		}
		ea, eb := in.events[a.EventID], in.events[b.EventID]
		if ea != nil && eb != nil && ea.ID != eb.ID {
			if ea.TeamCount != eb.TeamCount {
				return ea.TeamCount > eb.TeamCount
			}
			return ea.ID < eb.ID
		}
		if a.RoundIndex != b.RoundIndex {
			return a.RoundIndex < b.RoundIndex
		}
		if a.SequenceInRound != b.SequenceInRound {
			return a.SequenceInRound < b.SequenceInRound
		}
		return a.Code < b.Code
	}

	var batches []*PlacementBatch
	add := func(name string, ms []*structs.Match) {
		if len(ms) == 0 {
			return
		}
		sort.SliceStable(ms, func(i, j int) bool { return less(ms[i], ms[j]) })
		batches = append(batches, &PlacementBatch{Name: name, Matches: ms})
	}

	tiered := func(pos int) []*structs.Match {
		var ms []*structs.Match
		for _, m := range pending {
			if m.Type != structs.MatchTypeMain && m.Type != structs.MatchTypeConsolation {
				continue
			}
			pfe := ctx.posFromEnd(m)
			if (pos == 2 && pfe >= 2) || (pos != 2 && pfe == pos) {
				ms = append(ms, m)
			}
		}
		return ms
	}
	typed := func(typ string) []*structs.Match {
		var ms []*structs.Match
		for _, m := range pending {
			if m.Type == typ {
				ms = append(ms, m)
			}
		}
		return ms
	}

	add("wf-remaining", typed(structs.MatchTypeWF))
	add("quarterfinals", tiered(2))
	add("semifinals", tiered(1))
	add("rr-remaining", typed(structs.MatchTypeRR))
	add("finals", tiered(0))
	add("placement", typed(structs.MatchTypePlacement))
	return batches
}

// roundsPlayedBefore counts the distinct (type, bracket, round) groups of
// each event assigned to days before the given one.
func roundsPlayedBefore(in *placementInputs, ctx *placeContext, day string) map[int64]int {
	seen := make(map[string]bool)
	counts := make(map[int64]int)
	for matchID, slot := range ctx.slotOf {
		if slot.Day >= day {
			continue
		}
		m := in.matchByID[matchID]
		if m == nil {
			continue
		}
		key := fmt.Sprintf("%d/%s/%s/%d", m.EventID, m.Type, m.BracketLabel, m.RoundIndex)
		if !seen[key] {
			seen[key] = true
			counts[m.EventID]++
		}
	}
	return counts
}
