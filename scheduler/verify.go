// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"fmt"
	"sort"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"
	"github.com/hashicorp/go-set/v3"

	"github.com/hashicorp/courtside/courtside/structs"
)

// VerifyDay re-checks the placement invariants for one day's assignments
// and fingerprints the run. The report is structured; callers decide what
// an error-severity finding means for them.
func (s *Scheduler) VerifyDay(versionID int64, day string) (*structs.InvariantReport, error) {
	defer metrics.MeasureSince([]string{"courtside", "scheduler", "verify_day"}, time.Now())
	return s.verify(versionID, day)
}

// VerifyFull re-checks the placement invariants across every day of the
// version.
func (s *Scheduler) VerifyFull(versionID int64) (*structs.InvariantReport, error) {
	defer metrics.MeasureSince([]string{"courtside", "scheduler", "verify_full"}, time.Now())
	return s.verify(versionID, "")
}

func (s *Scheduler) verify(versionID int64, day string) (*structs.InvariantReport, error) {
	in, err := s.loadInputs(versionID)
	if err != nil {
		return nil, err
	}
	if day != "" && in.tour.DayIndex(day) < 0 {
		return nil, structs.NewErrValidation(fmt.Sprintf(
			"day %s is not an active day of tournament %q", day, in.tour.Name))
	}

	v := newVerifier(in, day)
	v.checkSlotIntegrity()
	v.checkDailyCaps()
	v.checkRestGaps()
	v.checkOrdering()
	v.checkConsolationRounds()
	v.checkSpareCourts()
	v.checkFairness()
	v.finish()

	if err := v.hash(); err != nil {
		return nil, err
	}
	disposition := s.replays.classify(day, v.report.InputHash, v.report.OutputHash)
	if disposition == runStale {
		s.logger.Warn("replayed placement inputs produced a different schedule",
			"version_id", versionID, "day", day,
			"input_hash", v.report.InputHash, "output_hash", v.report.OutputHash)
	} else {
		s.logger.Debug("verified placement", "version_id", versionID, "day", day,
			"violations", len(v.report.Violations), "errors", v.report.ErrorCount(),
			"disposition", disposition)
	}
	metrics.IncrCounter([]string{"courtside", "scheduler", "verify", disposition}, 1)
	return v.report, nil
}

// placedMatch pairs an assigned match with its slot.
type placedMatch struct {
	m    *structs.Match
	slot *structs.ScheduleSlot
}

func (p placedMatch) playEnd() int {
	return p.slot.StartMin + p.m.DurationMinutes
}

// verifier walks one version's assignments against the policy invariants.
// A day scope restricts the per-day checks; cross-day facts (consolation
// completeness, capacity tightness) always consider the whole version.
type verifier struct {
	in     *placementInputs
	day    string
	report *structs.InvariantReport

	slotByID map[int64]*structs.ScheduleSlot
	blocked  *set.Set[int64]

	// placed holds every resolved assignment; byDay groups them.
	placed  []placedMatch
	byDay   map[string][]placedMatch
	slotOf  map[int64]*structs.ScheduleSlot
	days    []string
	tight   bool
	midDays *set.Set[string]
}

func newVerifier(in *placementInputs, day string) *verifier {
	v := &verifier{
		in:       in,
		day:      day,
		report:   &structs.InvariantReport{VersionID: in.version.ID, Day: day},
		slotByID: make(map[int64]*structs.ScheduleSlot, len(in.slots)),
		blocked:  set.New[int64](len(in.slotLocks)),
		byDay:    make(map[string][]placedMatch),
		slotOf:   make(map[int64]*structs.ScheduleSlot, len(in.assignments)),
		midDays:  set.New[string](len(in.tour.Days)),
	}
	for _, slot := range in.slots {
		v.slotByID[slot.ID] = slot
	}
	for _, l := range in.slotLocks {
		v.blocked.Insert(l.SlotID)
	}
	for i, d := range in.tour.Days {
		if day == "" || d.Day == day {
			v.days = append(v.days, d.Day)
		}
		if i > 0 && i < len(in.tour.Days)-1 {
			v.midDays.Insert(d.Day)
		}
	}
	for _, a := range in.assignments {
		m := in.matchByID[a.MatchID]
		slot := v.slotByID[a.SlotID]
		if m == nil || slot == nil {
			continue
		}
		pm := placedMatch{m: m, slot: slot}
		v.placed = append(v.placed, pm)
		v.byDay[slot.Day] = append(v.byDay[slot.Day], pm)
		v.slotOf[m.ID] = slot
	}
	for _, pms := range v.byDay {
		sort.Slice(pms, func(i, j int) bool {
			a, b := pms[i], pms[j]
			if a.slot.StartMin != b.slot.StartMin {
				return a.slot.StartMin < b.slot.StartMin
			}
			if a.slot.CourtNumber != b.slot.CourtNumber {
				return a.slot.CourtNumber < b.slot.CourtNumber
			}
			return a.m.ID < b.m.ID
		})
	}
	v.tight = capacityTight(in)
	v.report.CapacityTight = v.tight
	return v
}

func (v *verifier) add(violation *structs.InvariantViolation) {
	v.report.Violations = append(v.report.Violations, violation)
}

// checkSlotIntegrity re-checks double booking and block length for the
// scoped days. The store enforces both on write; the verifier reports them
// anyway so a report stands on its own.
func (v *verifier) checkSlotIntegrity() {
	bySlot := make(map[int64][]int64)
	for _, a := range v.in.assignments {
		bySlot[a.SlotID] = append(bySlot[a.SlotID], a.MatchID)
	}
	slotIDs := make([]int64, 0, len(bySlot))
	for id := range bySlot {
		slotIDs = append(slotIDs, id)
	}
	sort.Slice(slotIDs, func(i, j int) bool { return slotIDs[i] < slotIDs[j] })

	for _, slotID := range slotIDs {
		slot := v.slotByID[slotID]
		if slot == nil || !v.inScope(slot.Day) {
			continue
		}
		matchIDs := bySlot[slotID]
		if len(matchIDs) > 1 {
			sort.Slice(matchIDs, func(i, j int) bool { return matchIDs[i] < matchIDs[j] })
			v.add(&structs.InvariantViolation{
				Code:     structs.ViolationDoubleBookedSlot,
				Severity: structs.SeverityError,
				Day:      slot.Day,
				MatchIDs: matchIDs,
				Message: fmt.Sprintf("slot %d at %s %s hosts %d matches",
					slotID, slot.Day, slot.StartClock(), len(matchIDs)),
			})
		}
	}

	for _, pm := range v.placed {
		if !v.inScope(pm.slot.Day) {
			continue
		}
		if pm.slot.BlockMinutes < pm.m.DurationMinutes {
			v.add(&structs.InvariantViolation{
				Code:     structs.ViolationDurationExceedsBlock,
				Severity: structs.SeverityError,
				Day:      pm.slot.Day,
				EventID:  pm.m.EventID,
				MatchIDs: []int64{pm.m.ID},
				Message: fmt.Sprintf("match %s needs %d minutes, slot block is %d",
					pm.m.Code, pm.m.DurationMinutes, pm.slot.BlockMinutes),
			})
		}
	}
}

func (v *verifier) inScope(day string) bool {
	return v.day == "" || day == v.day
}

// teamDay collects one team's appearances on one day in start order.
type teamDay struct {
	teamID  int64
	eventID int64
	stints  []placedMatch
}

func (v *verifier) teamDays(day string) []*teamDay {
	byTeam := make(map[int64]*teamDay)
	for _, pm := range v.byDay[day] {
		for _, teamID := range pm.m.TeamIDs() {
			td := byTeam[teamID]
			if td == nil {
				td = &teamDay{teamID: teamID, eventID: pm.m.EventID}
				byTeam[teamID] = td
			}
			td.stints = append(td.stints, pm)
		}
	}
	teams := make([]*teamDay, 0, len(byTeam))
	for _, td := range byTeam {
		teams = append(teams, td)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].teamID < teams[j].teamID })
	return teams
}

// checkDailyCaps re-checks the per-team daily cap. Pure round robin events
// run under the relaxed cap on middle days, matching the policy that
// placed them.
func (v *verifier) checkDailyCaps() {
	for _, day := range v.days {
		for _, td := range v.teamDays(day) {
			dayCap := v.in.config.DailyCap
			if e := v.in.events[td.eventID]; e != nil && e.Plan != nil &&
				e.Plan.TemplateKey == structs.TemplateRROnly && v.midDays.Contains(day) {
				dayCap = v.in.config.DailyCapRROnly
			}
			if len(td.stints) <= dayCap {
				continue
			}
			matchIDs := make([]int64, len(td.stints))
			for i, pm := range td.stints {
				matchIDs[i] = pm.m.ID
			}
			v.add(&structs.InvariantViolation{
				Code:     structs.ViolationTeamOverDailyCap,
				Severity: structs.SeverityError,
				Day:      day,
				EventID:  td.eventID,
				TeamID:   td.teamID,
				MatchIDs: matchIDs,
				Count:    len(td.stints),
				Cap:      dayCap,
				Message: fmt.Sprintf("team %d plays %d matches on %s, cap is %d",
					td.teamID, len(td.stints), day, dayCap),
			})
		}
	}
}

// checkRestGaps re-checks the rest floors between consecutive matches of
// one team on one day. Ends are playing ends, start plus duration, not
// block ends.
func (v *verifier) checkRestGaps() {
	for _, day := range v.days {
		for _, td := range v.teamDays(day) {
			for i := 1; i < len(td.stints); i++ {
				prev, next := td.stints[i-1], td.stints[i]
				gap := next.slot.StartMin - prev.playEnd()
				code, need := v.restRule(prev.m, next.m)
				if gap >= need {
					continue
				}
				v.add(&structs.InvariantViolation{
					Code:     code,
					Severity: structs.SeverityError,
					Day:      day,
					EventID:  next.m.EventID,
					TeamID:   td.teamID,
					MatchIDs: []int64{prev.m.ID, next.m.ID},
					Count:    gap,
					Cap:      need,
					Message: fmt.Sprintf("team %d has %d minutes between %s and %s, needs %d",
						td.teamID, gap, prev.m.Code, next.m.Code, need),
				})
			}
		}
	}
}

func (v *verifier) restRule(prev, next *structs.Match) (string, int) {
	pwf, nwf := prev.Type == structs.MatchTypeWF, next.Type == structs.MatchTypeWF
	switch {
	case pwf && nwf:
		return structs.ConflictRestWFMin, v.in.config.EffectiveRestWF()
	case !pwf && !nwf:
		return structs.ConflictRestScoringToScoring, v.in.config.RestScoringMin
	default:
		return structs.ConflictRestWFToScoring, v.in.config.RestWFToScoringMin
	}
}

// checkOrdering re-checks dependency ordering and the waterfall-first
// stage rule: an assigned source must end no later than its dependent
// starts, and a main draw match never precedes a same-day waterfall match
// of its own event.
func (v *verifier) checkOrdering() {
	for _, pm := range v.placed {
		if !v.inScope(pm.slot.Day) {
			continue
		}
		for _, srcID := range pm.m.SourceIDs() {
			srcSlot, ok := v.slotOf[srcID]
			if !ok || srcSlot.Before(pm.slot) {
				continue
			}
			v.add(&structs.InvariantViolation{
				Code:     structs.ViolationUnresolvedUpstream,
				Severity: structs.SeverityError,
				Day:      pm.slot.Day,
				EventID:  pm.m.EventID,
				MatchIDs: []int64{srcID, pm.m.ID},
				Message: fmt.Sprintf("match %s starts %s %s before its source finishes",
					pm.m.Code, pm.slot.Day, pm.slot.StartClock()),
			})
		}
	}

	for _, day := range v.days {
		for _, pm := range v.byDay[day] {
			if pm.m.Type != structs.MatchTypeMain {
				continue
			}
			for _, wf := range v.byDay[day] {
				if wf.m.Type != structs.MatchTypeWF || wf.m.EventID != pm.m.EventID {
					continue
				}
				if wf.playEnd() <= pm.slot.StartMin {
					continue
				}
				v.add(&structs.InvariantViolation{
					Code:     structs.ViolationUnresolvedUpstream,
					Severity: structs.SeverityError,
					Day:      day,
					EventID:  pm.m.EventID,
					MatchIDs: []int64{wf.m.ID, pm.m.ID},
					Message: fmt.Sprintf("waterfall match %s ends after main draw match %s starts",
						wf.m.Code, pm.m.Code),
				})
			}
		}
	}
}

// checkConsolationRounds re-checks consolation round completeness: once
// any match of an (event, round) group holds a slot, every playable match
// of the group must hold one somewhere.
func (v *verifier) checkConsolationRounds() {
	type groupKey struct {
		eventID int64
		round   int
	}
	groups := make(map[groupKey][]*structs.Match)
	for _, m := range v.in.matches {
		if m.Type == structs.MatchTypeConsolation {
			key := groupKey{eventID: m.EventID, round: m.RoundIndex}
			groups[key] = append(groups[key], m)
		}
	}
	keys := make([]groupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].eventID != keys[j].eventID {
			return keys[i].eventID < keys[j].eventID
		}
		return keys[i].round < keys[j].round
	})

	for _, key := range keys {
		inScope := false
		assigned := 0
		var missing []int64
		for _, m := range groups[key] {
			if slot, ok := v.slotOf[m.ID]; ok {
				assigned++
				if v.inScope(slot.Day) {
					inScope = true
				}
				continue
			}
			if m.Final() || m.Status == structs.MatchStatusCancelled {
				continue
			}
			missing = append(missing, m.ID)
		}
		if !inScope || assigned == 0 || len(missing) == 0 {
			continue
		}
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		v.add(&structs.InvariantViolation{
			Code:     structs.ViolationConsolationPartial,
			Severity: structs.SeverityError,
			EventID:  key.eventID,
			MatchIDs: missing,
			Count:    assigned,
			Cap:      len(groups[key]),
			Message: fmt.Sprintf("consolation round %d of event %d has %d of %d matches placed",
				key.round, key.eventID, assigned, len(groups[key])),
		})
	}
}

// checkSpareCourts flags time buckets past a day's opener with no court
// left free. Advisory when the version is capacity tight, since a full
// grid cannot afford spares.
func (v *verifier) checkSpareCourts() {
	severity := structs.SeverityError
	if v.tight {
		severity = structs.SeverityWarn
	}
	for _, day := range v.days {
		usable := make(map[int]int)
		occupied := make(map[int][]int64)
		for _, slot := range v.in.slots {
			if slot.Day != day || !slot.Active || v.blocked.Contains(slot.ID) {
				continue
			}
			usable[slot.StartMin]++
		}
		for _, pm := range v.byDay[day] {
			occupied[pm.slot.StartMin] = append(occupied[pm.slot.StartMin], pm.m.ID)
		}
		starts := make([]int, 0, len(usable))
		for start := range usable {
			starts = append(starts, start)
		}
		sort.Ints(starts)
		for i, start := range starts {
			if i == 0 || len(occupied[start]) < usable[start] {
				continue
			}
			v.add(&structs.InvariantViolation{
				Code:     structs.ViolationSpareCourt,
				Severity: severity,
				Day:      day,
				MatchIDs: occupied[start],
				Count:    len(occupied[start]),
				Cap:      usable[start] - 1,
				Message: fmt.Sprintf("no spare court at %s on %s",
					structs.FormatClock(start), day),
			})
		}
	}
}

// checkFairness flags teams whose second match of a day starts before
// another team of the same event has started at all. Advisory; it audits
// the planner rather than blocking a schedule.
func (v *verifier) checkFairness() {
	for _, day := range v.days {
		byEvent := make(map[int64][]*teamDay)
		for _, td := range v.teamDays(day) {
			byEvent[td.eventID] = append(byEvent[td.eventID], td)
		}
		eventIDs := make([]int64, 0, len(byEvent))
		for id := range byEvent {
			eventIDs = append(eventIDs, id)
		}
		sort.Slice(eventIDs, func(i, j int) bool { return eventIDs[i] < eventIDs[j] })

		for _, eventID := range eventIDs {
			teams := byEvent[eventID]
			latestFirst := -1
			var latestTeam int64
			for _, td := range teams {
				if first := td.stints[0].slot.StartMin; first > latestFirst {
					latestFirst = first
					latestTeam = td.teamID
				}
			}
			for _, td := range teams {
				if len(td.stints) < 2 || td.stints[1].slot.StartMin >= latestFirst {
					continue
				}
				v.add(&structs.InvariantViolation{
					Code:     structs.ViolationFairnessSecondFirst,
					Severity: structs.SeverityWarn,
					Day:      day,
					EventID:  eventID,
					TeamID:   td.teamID,
					MatchIDs: []int64{td.stints[1].m.ID},
					Message: fmt.Sprintf("team %d starts its second match at %s before team %d starts its first",
						td.teamID, td.stints[1].slot.StartClock(), latestTeam),
				})
			}
		}
	}
}

// finish orders the violations deterministically.
func (v *verifier) finish() {
	sort.SliceStable(v.report.Violations, func(i, j int) bool {
		a, b := v.report.Violations[i], v.report.Violations[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		if a.EventID != b.EventID {
			return a.EventID < b.EventID
		}
		if a.TeamID != b.TeamID {
			return a.TeamID < b.TeamID
		}
		am, bm := int64(0), int64(0)
		if len(a.MatchIDs) > 0 {
			am = a.MatchIDs[0]
		}
		if len(b.MatchIDs) > 0 {
			bm = b.MatchIDs[0]
		}
		return am < bm
	})
}

// hash computes the canonical input and output fingerprints of the run.
// The input hash always covers the whole version; the output hash covers
// the scoped assignments.
func (v *verifier) hash() error {
	pi := &structs.PolicyInput{PolicyVersion: v.in.config.Version}
	for _, slot := range v.in.slots {
		if !slot.Active {
			continue
		}
		pi.Slots = append(pi.Slots, structs.SlotFingerprint{
			Day:         slot.Day,
			StartMin:    slot.StartMin,
			CourtNumber: slot.CourtNumber,
			DurationMin: slot.BlockMinutes,
		})
	}
	for _, m := range v.in.matches {
		pi.Matches = append(pi.Matches, structs.MatchFingerprint{
			MatchID:    m.ID,
			EventID:    m.EventID,
			Type:       m.Type,
			RoundIndex: m.RoundIndex,
			Sequence:   m.SequenceInRound,
		})
	}
	for _, e := range v.in.eventList {
		raw, err := structs.EventDrawPlanRaw(e.Plan)
		if err != nil {
			return err
		}
		pi.Events = append(pi.Events, structs.EventFingerprint{
			EventID:     e.ID,
			Name:        e.Name,
			TeamCount:   e.TeamCount,
			Category:    e.Category,
			DrawPlanRaw: raw,
		})
	}
	for _, l := range v.in.matchLocks {
		pi.MatchLocks = append(pi.MatchLocks, structs.MatchLockFingerprint{
			MatchID: l.MatchID,
			SlotID:  l.SlotID,
		})
	}
	for _, l := range v.in.slotLocks {
		pi.SlotLocks = append(pi.SlotLocks, structs.SlotLockFingerprint{
			SlotID: l.SlotID,
			Status: l.Status,
		})
	}
	inputHash, err := pi.Hash()
	if err != nil {
		return err
	}

	fps := make([]structs.AssignmentFingerprint, 0, len(v.placed))
	for _, pm := range v.placed {
		if !v.inScope(pm.slot.Day) {
			continue
		}
		fps = append(fps, structs.AssignmentFingerprint{
			Day:         pm.slot.Day,
			StartMin:    pm.slot.StartMin,
			CourtNumber: pm.slot.CourtNumber,
			MatchID:     pm.m.ID,
		})
	}
	outputHash, err := structs.PolicyOutputHash(fps)
	if err != nil {
		return err
	}

	v.report.InputHash = structs.ShortHash(inputHash)
	v.report.OutputHash = structs.ShortHash(outputHash)
	return nil
}
