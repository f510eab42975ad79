// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package desk

import (
	"fmt"
	"sort"

	"github.com/hashicorp/courtside/courtside/structs"
)

// MoveMatch relocates a match onto a slot, seating it if it was unassigned.
// The slot must be free and long enough, dependency ordering must hold
// against the match's assigned sources and dependents, and the rest floors
// must hold for both of its teams at the new time. Desk moves are pinned so
// later placement runs do not displace them.
func (d *Desk) MoveMatch(versionID, matchID, slotID int64) (*structs.MatchAssignment, error) {
	view, err := d.loadView(versionID)
	if err != nil {
		return nil, err
	}
	if err := view.requireDraft(); err != nil {
		return nil, err
	}
	m, err := view.match(matchID)
	if err != nil {
		return nil, err
	}
	target := view.slotByID[slotID]
	if target == nil {
		return nil, structs.NewErrNotFound("slot", slotID)
	}

	overlay := map[int64]*structs.ScheduleSlot{m.ID: target}
	if err := d.checkPlacement(view, m, overlay); err != nil {
		return nil, err
	}

	if err := d.store.MoveAssignment(d.store.NextIndex(), versionID, matchID, slotID,
		structs.AssignedByDeskMove, true); err != nil {
		return nil, err
	}
	return d.store.AssignmentForMatch(nil, versionID, matchID)
}

// SwapMatches exchanges the slots of two assigned matches atomically. Both
// matches must satisfy ordering and rest at their exchanged positions.
func (d *Desk) SwapMatches(versionID, matchAID, matchBID int64) error {
	if matchAID == matchBID {
		return structs.NewErrValidation("cannot swap a match with itself")
	}
	view, err := d.loadView(versionID)
	if err != nil {
		return err
	}
	if err := view.requireDraft(); err != nil {
		return err
	}
	a, err := view.match(matchAID)
	if err != nil {
		return err
	}
	b, err := view.match(matchBID)
	if err != nil {
		return err
	}
	slotA, slotB := view.slotOf[a.ID], view.slotOf[b.ID]
	if slotA == nil {
		return structs.NewErrNotFound("assignment for match", matchAID)
	}
	if slotB == nil {
		return structs.NewErrNotFound("assignment for match", matchBID)
	}

	overlay := map[int64]*structs.ScheduleSlot{a.ID: slotB, b.ID: slotA}
	if err := d.checkPlacement(view, a, overlay); err != nil {
		return err
	}
	if err := d.checkPlacement(view, b, overlay); err != nil {
		return err
	}

	return d.store.SwapAssignments(d.store.NextIndex(), versionID, matchAID, matchBID,
		structs.AssignedByDeskSwap)
}

// checkPlacement validates one match at a hypothetical slot given by the
// overlay. It re-checks what the store cannot: dependency ordering against
// assigned sources and dependents, the waterfall-first stage rule, and the
// rest floors for both teams. Occupancy, capacity and slot locks stay with
// the store's write path.
func (d *Desk) checkPlacement(view *deskView, m *structs.Match, overlay map[int64]*structs.ScheduleSlot) error {
	slotFor := func(id int64) *structs.ScheduleSlot {
		if s, ok := overlay[id]; ok {
			return s
		}
		return view.slotOf[id]
	}
	target := slotFor(m.ID)

	for _, srcID := range m.SourceIDs() {
		src := slotFor(srcID)
		if src != nil && !src.Before(target) {
			return structs.NewErrValidation(fmt.Sprintf(
				"match %s would start %s %s before its source finishes",
				m.Code, target.Day, target.StartClock()))
		}
	}
	for _, dep := range view.dependents[m.ID] {
		depSlot := slotFor(dep.ID)
		if depSlot != nil && !target.Before(depSlot) {
			return structs.NewErrValidation(fmt.Sprintf(
				"match %s would end after its dependent %s starts", m.Code, dep.Code))
		}
	}

	if err := d.checkStageOrder(view, m, target, slotFor); err != nil {
		return err
	}
	return d.checkRest(view, m, target, slotFor)
}

// checkStageOrder enforces waterfall-first within a day: a main draw match
// never starts before a same-day waterfall match of its own event ends.
func (d *Desk) checkStageOrder(view *deskView, m *structs.Match, target *structs.ScheduleSlot, slotFor func(int64) *structs.ScheduleSlot) error {
	for _, other := range view.matches {
		if other.ID == m.ID || other.EventID != m.EventID {
			continue
		}
		slot := slotFor(other.ID)
		if slot == nil || slot.Day != target.Day {
			continue
		}
		switch {
		case m.Type == structs.MatchTypeMain && other.Type == structs.MatchTypeWF:
			if slot.StartMin+other.DurationMinutes > target.StartMin {
				return structs.NewErrValidation(fmt.Sprintf(
					"match %s would start before waterfall match %s ends", m.Code, other.Code))
			}
		case m.Type == structs.MatchTypeWF && other.Type == structs.MatchTypeMain:
			if target.StartMin+m.DurationMinutes > slot.StartMin {
				return structs.NewErrValidation(fmt.Sprintf(
					"match %s would end after main draw match %s starts", m.Code, other.Code))
			}
		}
	}
	return nil
}

// checkRest re-checks the rest floors around the moved match for both of
// its teams on the target day. Only pairs involving the moved match are
// checked; the rest of the grid is unchanged by the move.
func (d *Desk) checkRest(view *deskView, m *structs.Match, target *structs.ScheduleSlot, slotFor func(int64) *structs.ScheduleSlot) error {
	for _, teamID := range m.TeamIDs() {
		stints := []stint{{m: m, slot: target}}
		for _, other := range view.matches {
			if other.ID == m.ID || other.Status == structs.MatchStatusCancelled || !other.HasTeam(teamID) {
				continue
			}
			slot := slotFor(other.ID)
			if slot == nil || slot.Day != target.Day {
				continue
			}
			stints = append(stints, stint{m: other, slot: slot})
		}
		sort.Slice(stints, func(i, j int) bool {
			if stints[i].slot.StartMin != stints[j].slot.StartMin {
				return stints[i].slot.StartMin < stints[j].slot.StartMin
			}
			return stints[i].m.ID < stints[j].m.ID
		})
		for i := 1; i < len(stints); i++ {
			prev, next := stints[i-1], stints[i]
			if prev.m.ID != m.ID && next.m.ID != m.ID {
				continue
			}
			gap := next.slot.StartMin - prev.playEnd()
			code, need := d.restRule(prev.m, next.m)
			if gap < need {
				return structs.NewErrValidation(fmt.Sprintf(
					"%s: team %d would have %d minutes between %s and %s, needs %d",
					code, teamID, gap, prev.m.Code, next.m.Code, need))
			}
		}
	}
	return nil
}

// AddSlot inserts one schedule cell at (day, start-end, court). The day must
// be an active tournament day and the court must exist; a collision with an
// active slot on the same cell is a capacity error.
func (d *Desk) AddSlot(versionID int64, day string, startMin, endMin, courtNumber int) (*structs.ScheduleSlot, error) {
	view, err := d.loadView(versionID)
	if err != nil {
		return nil, err
	}
	if err := view.requireDraft(); err != nil {
		return nil, err
	}
	if view.tour.Day(day) == nil {
		return nil, structs.NewErrValidation(fmt.Sprintf(
			"day %s is not an active day of tournament %q", day, view.tour.Name))
	}
	if courtNumber < 1 || courtNumber > len(view.tour.CourtLabels) {
		return nil, structs.NewErrValidation(fmt.Sprintf(
			"court number %d out of range 1..%d", courtNumber, len(view.tour.CourtLabels)))
	}

	slot := &structs.ScheduleSlot{
		VersionID:    versionID,
		Day:          day,
		StartMin:     startMin,
		EndMin:       endMin,
		CourtNumber:  courtNumber,
		CourtLabel:   view.tour.CourtLabels[courtNumber-1],
		BlockMinutes: endMin - startMin,
		Active:       true,
	}
	if err := d.store.InsertSlots(d.store.NextIndex(), versionID, []*structs.ScheduleSlot{slot}); err != nil {
		return nil, err
	}
	return slot, nil
}

// AddCourt appends a court to the tournament. With a version id the new
// court also gets a slot in every existing time window of every day, so the
// grid widens immediately.
func (d *Desk) AddCourt(tournamentID int64, label string, versionID int64) ([]*structs.ScheduleSlot, error) {
	tour, err := d.store.TournamentByID(nil, tournamentID)
	if err != nil {
		return nil, err
	}
	if tour == nil {
		return nil, structs.NewErrNotFound("tournament", tournamentID)
	}

	var slots []*structs.ScheduleSlot
	if versionID != 0 {
		version, err := d.store.VersionByID(nil, versionID)
		if err != nil {
			return nil, err
		}
		if version == nil {
			return nil, structs.NewErrNotFound("schedule version", versionID)
		}
		courtNumber := len(tour.CourtLabels) + 1
		for _, day := range tour.Days {
			for _, w := range day.Windows {
				slots = append(slots, &structs.ScheduleSlot{
					VersionID:    versionID,
					Day:          day.Day,
					StartMin:     w.StartMin,
					EndMin:       w.EndMin,
					CourtNumber:  courtNumber,
					CourtLabel:   label,
					BlockMinutes: w.BlockMinutes,
					Active:       true,
				})
			}
		}
	}

	if err := d.store.AddCourt(d.store.NextIndex(), tournamentID, label, slots); err != nil {
		return nil, err
	}
	d.logger.Info("added court", "tournament_id", tournamentID, "label", label, "slots", len(slots))
	return slots, nil
}

// SetCourtState records a display annotation for one court. It never
// affects placement; closed courts surface to the engines through slot
// locks.
func (d *Desk) SetCourtState(tournamentID int64, courtNumber int, closed bool, note string) (*structs.CourtState, error) {
	cs := &structs.CourtState{
		TournamentID: tournamentID,
		CourtNumber:  courtNumber,
		Closed:       closed,
		Note:         note,
	}
	if err := d.store.UpsertCourtState(d.store.NextIndex(), cs); err != nil {
		return nil, err
	}
	return cs, nil
}
