// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package reschedule

import (
	"fmt"
	"sort"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"
	"github.com/hashicorp/go-set/v3"

	"github.com/hashicorp/courtside/courtside/structs"
	"github.com/hashicorp/courtside/lib/ids"
)

// ProposedMove is one repair decision: a match and the slot it should land
// on. ToSlotID is zero when the target is a synthesized slot, in which
// case ToSlotRef indexes the plan's NewSlots.
type ProposedMove struct {
	MatchID int64
	Code    string

	// FromSlotID is zero for matches that had no assignment.
	FromSlotID int64

	ToSlotID  int64
	ToSlotRef int

	// Day, StartMin and CourtNumber describe the target cell.
	Day         string
	StartMin    int
	CourtNumber int

	// DurationMinutes is the effective duration at the target, after any
	// format switch.
	DurationMinutes int
}

// DurationUpdate records one match shortened or lengthened by a scoring
// format switch.
type DurationUpdate struct {
	MatchID     int64
	Code        string
	FromMinutes int
	ToMinutes   int
}

// RepairPlan is a computed, unapplied repair: the moves, the slots to
// synthesize, the duration updates a format switch implies, and the
// matches that found no home. Apply revalidates it against current state
// before writing anything.
type RepairPlan struct {
	PlanID    string
	VersionID int64
	Mode      string
	Day       string

	// LostSlotIDs are the active slots the zone removed. Apply blocks
	// them so nothing lands there afterward.
	LostSlotIDs []int64

	Moves []*ProposedMove

	// NewSlots are synthesized slots a move landed on, with zero ids;
	// the store allocates real ids at apply time.
	NewSlots []*structs.ScheduleSlot

	DurationUpdates []*DurationUpdate

	// UnplacedIDs lists affected matches with no compatible target, in
	// attempt order. They keep their lost seats for the desk to resolve.
	UnplacedIDs []int64

	Warnings []structs.Warning
}

// Preview computes the repair for a disruption without writing anything:
// which slots are lost, which matches move where, and what cannot be
// placed. Displaced matches keep their original playing order; the
// never-assigned backlog trails by stage priority.
func (e *Engine) Preview(versionID int64, req *Request) (*RepairPlan, error) {
	defer metrics.MeasureSince([]string{"courtside", "reschedule", "preview"}, time.Now())

	in, err := e.loadInputs(versionID)
	if err != nil {
		return nil, err
	}
	zone, err := parseRequest(in.tour, req)
	if err != nil {
		return nil, err
	}

	plan := &RepairPlan{
		PlanID:    ids.NewULID(),
		VersionID: versionID,
		Mode:      req.Mode,
		Day:       req.Day,
	}
	for _, slot := range lostSlots(in, zone) {
		plan.LostSlotIDs = append(plan.LostSlotIDs, slot.ID)
	}

	movable, warnings := e.affectedMatches(in, zone)
	plan.Warnings = append(plan.Warnings, warnings...)

	durations, updates := formatDurations(req, movable)
	plan.DurationUpdates = updates

	moving := set.New[int64](len(movable))
	for _, m := range movable {
		moving.Insert(m.ID)
	}
	ctx := newRepairContext(in, moving, durations)

	targets := targetSlots(in, zone, req, len(movable))

	// refOf maps a synthesized slot's scratch id to its index in the
	// plan's NewSlots. Only targeted slots enter the plan.
	refOf := make(map[int64]int)

	for _, m := range movable {
		var landed *structs.ScheduleSlot
		for _, slot := range targets {
			if ctx.compatible(m, slot) {
				landed = slot
				break
			}
		}
		if landed == nil {
			plan.UnplacedIDs = append(plan.UnplacedIDs, m.ID)
			plan.Warnings = append(plan.Warnings, structs.Warning{
				Code:    structs.WarnNoAvailableSlot,
				Message: fmt.Sprintf("no slot for match %s survives the disruption", m.Code),
				MatchID: m.ID,
			})
			continue
		}
		ctx.track(m, landed, ctx.durationAt(m, landed))

		move := &ProposedMove{
			MatchID:         m.ID,
			Code:            m.Code,
			Day:             landed.Day,
			StartMin:        landed.StartMin,
			CourtNumber:     landed.CourtNumber,
			DurationMinutes: ctx.durationAt(m, landed),
		}
		if a := in.assignmentOf[m.ID]; a != nil {
			move.FromSlotID = a.SlotID
		}
		if landed.ID < 0 {
			ref, ok := refOf[landed.ID]
			if !ok {
				stored := landed.Copy()
				stored.ID = 0
				ref = len(plan.NewSlots)
				plan.NewSlots = append(plan.NewSlots, stored)
				refOf[landed.ID] = ref
			}
			move.ToSlotRef = ref
		} else {
			move.ToSlotID = landed.ID
		}
		plan.Moves = append(plan.Moves, move)
	}

	if n := len(plan.UnplacedIDs); n > 0 {
		metrics.IncrCounter([]string{"courtside", "reschedule", "unplaced"}, float32(n))
	}
	e.logger.Info("repair preview complete",
		"version_id", versionID, "plan_id", plan.PlanID, "mode", req.Mode,
		"lost_slots", len(plan.LostSlotIDs), "moves", len(plan.Moves),
		"new_slots", len(plan.NewSlots), "unplaced", len(plan.UnplacedIDs))
	return plan, nil
}

// formatDurations resolves per-match duration overrides for a requested
// scoring format switch. Waterfall matches keep their own duration; the
// format governs scoring play only.
func formatDurations(req *Request, movable []*structs.Match) (map[int64]int, []*DurationUpdate) {
	durations := make(map[int64]int)
	if req.Format == "" {
		return durations, nil
	}
	minutes, err := structs.ScoringFormatMinutes(req.Format)
	if err != nil {
		return durations, nil
	}
	var updates []*DurationUpdate
	for _, m := range movable {
		if !m.IsScoring() || m.DurationMinutes == minutes {
			continue
		}
		durations[m.ID] = minutes
		updates = append(updates, &DurationUpdate{
			MatchID:     m.ID,
			Code:        m.Code,
			FromMinutes: m.DurationMinutes,
			ToMinutes:   minutes,
		})
	}
	return durations, updates
}

// cellKey identifies a grid cell, one court at one start on one day.
type cellKey struct {
	day   string
	start int
	court int
}

// targetSlots builds the ordered candidate pool for a zone repair: free
// surviving slots from the disrupted day onward, zone-day slots first and
// chronological within a day. Synthesized slots, extensions when the
// request names them or overflow rows when the pool runs short, join the
// pool with scratch ids.
func targetSlots(in *repairInputs, zone *lostZone, req *Request, needed int) []*structs.ScheduleSlot {
	var out []*structs.ScheduleSlot
	for _, slot := range in.slots {
		if !slot.Active || in.blocked.Contains(slot.ID) || zone.contains(slot) {
			continue
		}
		if _, taken := in.slotTaken[slot.ID]; taken {
			continue
		}
		if slot.Day < zone.day {
			continue
		}
		if zone.mode == structs.RescheduleModePartialDay &&
			slot.Day == zone.day && slot.StartMin < zone.fromMin {
			continue
		}
		out = append(out, slot)
	}

	out = append(out, synthesizeSlots(in, zone, req, needed-len(out))...)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Day == zone.day) != (b.Day == zone.day) {
			return a.Day == zone.day
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.StartMin != b.StartMin {
			return a.StartMin < b.StartMin
		}
		return a.CourtNumber < b.CourtNumber
	})
	return out
}

// synthesizeSlots builds the slots the grid does not have: operator
// directed day extensions when the request names them, otherwise overflow
// rows after each target day's last slot until the shortfall is covered.
// Cells inside the zone or colliding with an existing active cell are
// skipped. Scratch ids are negative so the live counters can key
// synthesized slots before the store allocates real ids.
func synthesizeSlots(in *repairInputs, zone *lostZone, req *Request, shortfall int) []*structs.ScheduleSlot {
	cells := make(map[cellKey]bool, len(in.slots))
	for _, slot := range in.slots {
		if slot.Active {
			cells[cellKey{slot.Day, slot.StartMin, slot.CourtNumber}] = true
		}
	}

	scratch := int64(-1)
	newSlot := func(day string, start, block, court int) *structs.ScheduleSlot {
		s := &structs.ScheduleSlot{
			ID:           scratch,
			VersionID:    in.version.ID,
			Day:          day,
			StartMin:     start,
			EndMin:       start + block,
			CourtNumber:  court,
			CourtLabel:   courtLabel(in.tour, court),
			BlockMinutes: block,
			Active:       true,
		}
		scratch--
		return s
	}

	var out []*structs.ScheduleSlot

	if len(req.ExtendDayEnd) > 0 {
		days := make([]string, 0, len(req.ExtendDayEnd))
		for day := range req.ExtendDayEnd {
			days = append(days, day)
		}
		sort.Strings(days)
		for _, day := range days {
			newEnd, _ := structs.ParseClock(req.ExtendDayEnd[day])
			block := blockFor(in, req, day)
			for start := lastActiveEnd(in, zone, day); start+block <= newEnd; start += block {
				for court := 1; court <= len(in.tour.CourtLabels); court++ {
					if zone.containsCell(day, start, court) || cells[cellKey{day, start, court}] {
						continue
					}
					out = append(out, newSlot(day, start, block, court))
				}
			}
		}
		return out
	}

	if shortfall <= 0 {
		return out
	}
	for _, d := range in.tour.Days {
		if len(out) >= shortfall {
			break
		}
		if d.Day < zone.day {
			continue
		}
		block := blockFor(in, req, d.Day)
		for start := lastActiveEnd(in, zone, d.Day); len(out) < shortfall && start+block <= 24*60; start += block {
			for court := 1; court <= len(in.tour.CourtLabels) && len(out) < shortfall; court++ {
				if zone.containsCell(d.Day, start, court) || cells[cellKey{d.Day, start, court}] {
					continue
				}
				out = append(out, newSlot(d.Day, start, block, court))
			}
		}
	}
	return out
}

// blockFor picks the block length of synthesized slots on a day: the
// requested format's duration when a switch is on, otherwise the day's
// last configured window block, falling back to the regular format.
func blockFor(in *repairInputs, req *Request, day string) int {
	if req.Format != "" {
		if minutes, err := structs.ScoringFormatMinutes(req.Format); err == nil {
			return minutes
		}
	}
	if d := in.tour.Day(day); d != nil && len(d.Windows) > 0 {
		return d.Windows[len(d.Windows)-1].BlockMinutes
	}
	minutes, _ := structs.ScoringFormatMinutes(structs.ScoringFormatRegular)
	return minutes
}

// lastActiveEnd returns where a day's surviving grid ends, the latest end
// of its active slots outside the zone, falling back to the day's
// configured start when nothing survives.
func lastActiveEnd(in *repairInputs, zone *lostZone, day string) int {
	end := 0
	for _, slot := range in.slots {
		if slot.Day != day || !slot.Active || zone.contains(slot) {
			continue
		}
		if slot.EndMin > end {
			end = slot.EndMin
		}
	}
	if end == 0 {
		if d := in.tour.Day(day); d != nil {
			end = d.EarliestStartMin
		}
	}
	return end
}
