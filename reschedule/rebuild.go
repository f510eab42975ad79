// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package reschedule

import (
	"fmt"
	"sort"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-set/v3"

	"github.com/hashicorp/courtside/courtside/structs"
	"github.com/hashicorp/courtside/lib/ids"
)

// DayConfig reshapes one rebuilt day: its playing window, court count and
// the scoring format that fixes every block on it.
type DayConfig struct {
	// Day is the date to regenerate, YYYY-MM-DD.
	Day string

	// Start and End bound the new grid, HH:MM.
	Start string
	End   string

	CourtCount int

	// Format names the scoring format; its duration becomes the day's
	// block length and the duration of every scoring match placed there.
	Format string
}

// RebuildRequest regenerates a set of days from scratch.
type RebuildRequest struct {
	Days []*DayConfig

	// DropMode sheds consolation load: none, finals or all. Empty means
	// none.
	DropMode string
}

// rebuildDay is a parsed, validated day config.
type rebuildDay struct {
	day      string
	startMin int
	endMin   int
	blockMin int
	courts   int
	format   string
}

// RebuildPlan is a computed, unapplied rebuild.
type RebuildPlan struct {
	PlanID    string
	VersionID int64

	// Days lists the rebuilt dates ascending.
	Days []string

	// RemovedAssignmentIDs are the matches losing their seats;
	// DeactivatedSlotIDs the old slots retired from the grid. Slots
	// holding finished matches keep both.
	RemovedAssignmentIDs []int64
	DeactivatedSlotIDs   []int64

	// DroppedMatchIDs are the consolation and placement matches the
	// drop mode cancels, program wide.
	DroppedMatchIDs []int64

	// NewSlots is the regenerated grid with zero ids; the store
	// allocates real ids at apply time. Moves reference it by index.
	NewSlots []*structs.ScheduleSlot
	Moves    []*ProposedMove

	DurationUpdates []*DurationUpdate

	UnplacedIDs []int64
	Warnings    []structs.Warning
}

// RebuildResult reports one applied rebuild.
type RebuildResult struct {
	PlanID    string
	VersionID int64

	RemovedAssignments int
	DeactivatedSlots   int
	DroppedMatches     int
	NewSlotCount       int
	PlacedCount        int
	UnplacedCount      int
}

// RebuildPreview computes a rebuild without writing anything: the retired
// grid, the regenerated grid, the dropped program and where everything
// else lands.
func (e *Engine) RebuildPreview(versionID int64, req *RebuildRequest) (*RebuildPlan, error) {
	defer metrics.MeasureSince([]string{"courtside", "reschedule", "rebuild_preview"}, time.Now())

	in, err := e.loadInputs(versionID)
	if err != nil {
		return nil, err
	}
	days, err := parseDayConfigs(in.tour, req)
	if err != nil {
		return nil, err
	}
	plan, err := e.rebuildPlan(in, req, days)
	if err != nil {
		return nil, err
	}
	e.logger.Info("rebuild preview complete",
		"version_id", versionID, "plan_id", plan.PlanID, "days", len(plan.Days),
		"dropped", len(plan.DroppedMatchIDs), "new_slots", len(plan.NewSlots),
		"moves", len(plan.Moves), "unplaced", len(plan.UnplacedIDs))
	return plan, nil
}

// RebuildApply recomputes the rebuild against current state and writes it
// in one transaction: drops are cancelled, displaced seats released, old
// slots retired with their stale locks, the new grid inserted and the
// surviving program reseated stamped REBUILD.
func (e *Engine) RebuildApply(versionID int64, req *RebuildRequest) (*RebuildResult, error) {
	defer metrics.MeasureSince([]string{"courtside", "reschedule", "rebuild_apply"}, time.Now())

	in, err := e.loadInputs(versionID)
	if err != nil {
		return nil, err
	}
	if !in.version.IsDraft() {
		return nil, structs.NewErrVersionNotDraft(versionID)
	}
	days, err := parseDayConfigs(in.tour, req)
	if err != nil {
		return nil, err
	}
	plan, err := e.rebuildPlan(in, req, days)
	if err != nil {
		return nil, err
	}

	out := &structs.PlacementPlan{
		VersionID:         versionID,
		AssignedBy:        structs.AssignedByRebuild,
		UnassignMatchIDs:  plan.RemovedAssignmentIDs,
		DeactivateSlotIDs: plan.DeactivatedSlotIDs,
	}
	for _, slotID := range plan.DeactivatedSlotIDs {
		if in.blocked.Contains(slotID) {
			out.RemoveSlotLockIDs = append(out.RemoveSlotLockIDs, slotID)
		}
	}
	for _, u := range plan.DurationUpdates {
		updated := in.matchByID[u.MatchID].Copy()
		updated.DurationMinutes = u.ToMinutes
		out.MatchUpdates = append(out.MatchUpdates, updated)
	}
	for _, matchID := range plan.DroppedMatchIDs {
		cancelled := in.matchByID[matchID].Copy()
		cancelled.Status = structs.MatchStatusCancelled
		out.MatchUpdates = append(out.MatchUpdates, cancelled)
	}
	for _, slot := range plan.NewSlots {
		stored := slot.Copy()
		stored.VersionID = versionID
		out.NewSlots = append(out.NewSlots, stored)
	}
	for _, mv := range plan.Moves {
		out.Assignments = append(out.Assignments, &structs.PlannedAssignment{
			MatchID: mv.MatchID,
			SlotRef: mv.ToSlotRef,
		})
	}

	if err := e.store.UpsertPlanResults(e.store.NextIndex(), out); err != nil {
		return nil, err
	}

	result := &RebuildResult{
		PlanID:             plan.PlanID,
		VersionID:          versionID,
		RemovedAssignments: len(plan.RemovedAssignmentIDs),
		DeactivatedSlots:   len(plan.DeactivatedSlotIDs),
		DroppedMatches:     len(plan.DroppedMatchIDs),
		NewSlotCount:       len(plan.NewSlots),
		PlacedCount:        len(plan.Moves),
		UnplacedCount:      len(plan.UnplacedIDs),
	}
	metrics.IncrCounter([]string{"courtside", "reschedule", "rebuild_placed"}, float32(result.PlacedCount))
	e.logger.Info("rebuild applied",
		"version_id", versionID, "plan_id", plan.PlanID, "days", len(plan.Days),
		"dropped", result.DroppedMatches, "deactivated_slots", result.DeactivatedSlots,
		"new_slots", result.NewSlotCount, "placed", result.PlacedCount,
		"unplaced", result.UnplacedCount)
	return result, nil
}

// parseDayConfigs validates every day config and resolves clocks and
// formats. Failures aggregate so the caller fixes the whole payload in one
// round trip.
func parseDayConfigs(tour *structs.Tournament, req *RebuildRequest) ([]*rebuildDay, error) {
	var mErr *multierror.Error

	if len(req.Days) == 0 {
		mErr = multierror.Append(mErr, structs.NewErrValidation("rebuild requires at least one day config"))
	}
	if mode := dropModeOf(req); !structs.ValidDropMode(mode) {
		mErr = multierror.Append(mErr, structs.NewErrValidation(fmt.Sprintf(
			"unknown drop mode %q", req.DropMode)))
	}

	seen := make(map[string]bool, len(req.Days))
	var days []*rebuildDay
	for _, dc := range req.Days {
		if tour.DayIndex(dc.Day) < 0 {
			mErr = multierror.Append(mErr, structs.NewErrValidation(fmt.Sprintf(
				"day %s is not an active day of tournament %q", dc.Day, tour.Name)))
			continue
		}
		if seen[dc.Day] {
			mErr = multierror.Append(mErr, structs.NewErrValidation(fmt.Sprintf(
				"day %s appears twice", dc.Day)))
			continue
		}
		seen[dc.Day] = true

		rd := &rebuildDay{day: dc.Day, courts: dc.CourtCount}
		ok := true
		if start, err := structs.ParseClock(dc.Start); err != nil {
			mErr = multierror.Append(mErr, err)
			ok = false
		} else {
			rd.startMin = start
		}
		if end, err := structs.ParseClock(dc.End); err != nil {
			mErr = multierror.Append(mErr, err)
			ok = false
		} else {
			rd.endMin = end
		}
		if ok && rd.startMin >= rd.endMin {
			mErr = multierror.Append(mErr, structs.NewErrValidation(fmt.Sprintf(
				"day %s window %s-%s is empty", dc.Day, dc.Start, dc.End)))
			ok = false
		}
		if dc.CourtCount < 1 {
			mErr = multierror.Append(mErr, structs.NewErrValidation(fmt.Sprintf(
				"day %s needs at least one court, got %d", dc.Day, dc.CourtCount)))
			ok = false
		}
		if minutes, err := structs.ScoringFormatMinutes(dc.Format); err != nil {
			mErr = multierror.Append(mErr, err)
			ok = false
		} else {
			rd.format = dc.Format
			rd.blockMin = minutes
		}
		if ok {
			days = append(days, rd)
		}
	}
	if err := mErr.ErrorOrNil(); err != nil {
		return nil, err
	}

	sort.Slice(days, func(i, j int) bool { return days[i].day < days[j].day })
	return days, nil
}

func dropModeOf(req *RebuildRequest) string {
	if req.DropMode == "" {
		return structs.DropConsolationNone
	}
	return req.DropMode
}

// dropMatch reports whether the drop mode sheds this match. Finals mode
// drops placement matches and consolation rounds past the first; all mode
// drops the entire consolation and placement program.
func dropMatch(mode string, m *structs.Match) bool {
	switch mode {
	case structs.DropConsolationAll:
		return m.Type == structs.MatchTypeConsolation || m.Type == structs.MatchTypePlacement
	case structs.DropConsolationFinals:
		return m.Type == structs.MatchTypePlacement ||
			(m.Type == structs.MatchTypeConsolation && m.RoundIndex >= 2)
	}
	return false
}

// rebuildPlan computes the full rebuild for validated day configs: which
// matches drop, which seats and slots go, the regenerated grid, and where
// the surviving program lands on it.
func (e *Engine) rebuildPlan(in *repairInputs, req *RebuildRequest, days []*rebuildDay) (*RebuildPlan, error) {
	plan := &RebuildPlan{PlanID: ids.NewULID(), VersionID: in.version.ID}

	rebuilt := set.New[string](len(days))
	dayBlocks := make(map[string]int, len(days))
	for _, rd := range days {
		rebuilt.Insert(rd.day)
		dayBlocks[rd.day] = rd.blockMin
		plan.Days = append(plan.Days, rd.day)
	}

	// The drop is program wide, not limited to the rebuilt days.
	dropMode := dropModeOf(req)
	dropped := set.New[int64](0)
	for _, m := range in.matches {
		if m.Final() || m.Status == structs.MatchStatusCancelled {
			continue
		}
		if dropMatch(dropMode, m) {
			dropped.Insert(m.ID)
			plan.DroppedMatchIDs = append(plan.DroppedMatchIDs, m.ID)
		}
	}

	// Seats lost: every unfinished assignment on a rebuilt day, locked or
	// not, plus any seat of a dropped match wherever it sits. Finished
	// matches keep their seats and their slots.
	type formerSeat struct {
		m    *structs.Match
		slot *structs.ScheduleSlot
	}
	vacated := set.New[int64](len(in.assignments))
	var displaced []formerSeat
	for _, a := range in.assignments {
		m := in.matchByID[a.MatchID]
		slot := in.slotByID[a.SlotID]
		if m == nil || slot == nil {
			continue
		}
		onRebuilt := rebuilt.Contains(slot.Day)
		if !dropped.Contains(m.ID) && (!onRebuilt || m.Final()) {
			continue
		}
		vacated.Insert(m.ID)
		plan.RemovedAssignmentIDs = append(plan.RemovedAssignmentIDs, m.ID)

		if onRebuilt && !dropped.Contains(m.ID) && m.Status != structs.MatchStatusCancelled {
			displaced = append(displaced, formerSeat{m: m, slot: slot})
		}
	}
	sort.Slice(plan.RemovedAssignmentIDs, func(i, j int) bool {
		return plan.RemovedAssignmentIDs[i] < plan.RemovedAssignmentIDs[j]
	})

	// Old slots on rebuilt days retire unless a finished match keeps one.
	deactivated := set.New[int64](16)
	for _, slot := range in.slots {
		if !slot.Active || !rebuilt.Contains(slot.Day) {
			continue
		}
		if holder, taken := in.slotTaken[slot.ID]; taken && !vacated.Contains(holder) {
			continue
		}
		deactivated.Insert(slot.ID)
		plan.DeactivatedSlotIDs = append(plan.DeactivatedSlotIDs, slot.ID)
	}

	// The new grid skips cells a kept slot still occupies.
	keptCells := make(map[cellKey]bool)
	for _, slot := range in.slots {
		if slot.Active && rebuilt.Contains(slot.Day) && !deactivated.Contains(slot.ID) {
			keptCells[cellKey{slot.Day, slot.StartMin, slot.CourtNumber}] = true
		}
	}
	scratch := int64(-1)
	var grid []*structs.ScheduleSlot
	for _, rd := range days {
		for start := rd.startMin; start+rd.blockMin <= rd.endMin; start += rd.blockMin {
			for court := 1; court <= rd.courts; court++ {
				if keptCells[cellKey{rd.day, start, court}] {
					continue
				}
				grid = append(grid, &structs.ScheduleSlot{
					ID:           scratch,
					VersionID:    in.version.ID,
					Day:          rd.day,
					StartMin:     start,
					EndMin:       start + rd.blockMin,
					CourtNumber:  court,
					CourtLabel:   courtLabel(in.tour, court),
					BlockMinutes: rd.blockMin,
					Active:       true,
				})
				scratch--
			}
		}
	}
	refOf := make(map[int64]int, len(grid))
	for i, slot := range grid {
		stored := slot.Copy()
		stored.ID = 0
		plan.NewSlots = append(plan.NewSlots, stored)
		refOf[slot.ID] = i
	}

	// Matches in flight reseat first, then the rest of the displaced
	// program in its original playing order, then the never-assigned
	// backlog in master sequence order.
	sort.SliceStable(displaced, func(i, j int) bool {
		a, b := displaced[i], displaced[j]
		ina := a.m.Status == structs.MatchStatusInProgress
		inb := b.m.Status == structs.MatchStatusInProgress
		if ina != inb {
			return ina
		}
		if a.slot.Day != b.slot.Day {
			return a.slot.Day < b.slot.Day
		}
		if a.slot.StartMin != b.slot.StartMin {
			return a.slot.StartMin < b.slot.StartMin
		}
		if a.slot.CourtNumber != b.slot.CourtNumber {
			return a.slot.CourtNumber < b.slot.CourtNumber
		}
		return a.m.ID < b.m.ID
	})

	var backlog []*structs.Match
	for _, m := range in.matches {
		if m.Final() || m.Status == structs.MatchStatusCancelled {
			continue
		}
		if in.assignmentOf[m.ID] != nil || dropped.Contains(m.ID) {
			continue
		}
		if in.pinned.Contains(m.ID) {
			plan.Warnings = append(plan.Warnings, structs.Warning{
				Code:    structs.WarnSlotLocked,
				Message: fmt.Sprintf("match %s is pinned and left for its reserved slot", m.Code),
				MatchID: m.ID,
			})
			continue
		}
		backlog = append(backlog, m)
	}
	seq, err := e.sched.BuildMasterSequence(in.version.ID)
	if err != nil {
		return nil, err
	}
	rank := make(map[int64]int, len(seq))
	for _, sm := range seq {
		rank[sm.Match.ID] = sm.Rank
	}
	sort.SliceStable(backlog, func(i, j int) bool {
		if ra, rb := rank[backlog[i].ID], rank[backlog[j].ID]; ra != rb {
			return ra < rb
		}
		return backlog[i].ID < backlog[j].ID
	})

	order := make([]*structs.Match, 0, len(displaced)+len(backlog))
	for _, fs := range displaced {
		order = append(order, fs.m)
	}
	order = append(order, backlog...)

	moving := set.New[int64](len(order))
	for _, m := range order {
		moving.Insert(m.ID)
	}
	ctx := newRepairContext(in, moving, make(map[int64]int))
	ctx.dayBlocks = dayBlocks
	ctx.uniformRest = uniformRestOf(days)

	for _, m := range order {
		var landed *structs.ScheduleSlot
		for _, slot := range grid {
			if ctx.compatible(m, slot) {
				landed = slot
				break
			}
		}
		if landed == nil {
			plan.UnplacedIDs = append(plan.UnplacedIDs, m.ID)
			plan.Warnings = append(plan.Warnings, structs.Warning{
				Code:    structs.WarnNoAvailableSlot,
				Message: fmt.Sprintf("no slot for match %s on the rebuilt days", m.Code),
				MatchID: m.ID,
			})
			continue
		}
		duration := ctx.durationAt(m, landed)
		ctx.track(m, landed, duration)

		move := &ProposedMove{
			MatchID:         m.ID,
			Code:            m.Code,
			ToSlotRef:       refOf[landed.ID],
			Day:             landed.Day,
			StartMin:        landed.StartMin,
			CourtNumber:     landed.CourtNumber,
			DurationMinutes: duration,
		}
		if a := in.assignmentOf[m.ID]; a != nil {
			move.FromSlotID = a.SlotID
		}
		plan.Moves = append(plan.Moves, move)

		if m.IsScoring() && duration != m.DurationMinutes {
			plan.DurationUpdates = append(plan.DurationUpdates, &DurationUpdate{
				MatchID:     m.ID,
				Code:        m.Code,
				FromMinutes: m.DurationMinutes,
				ToMinutes:   duration,
			})
		}
	}

	if n := len(plan.UnplacedIDs); n > 0 {
		metrics.IncrCounter([]string{"courtside", "reschedule", "unplaced"}, float32(n))
	}
	return plan, nil
}

// uniformRestOf flattens the rest floors of a rebuild to the shortest
// configured day format. A compressed grid cannot honor the standard
// scoring rest and still clear the backlog.
func uniformRestOf(days []*rebuildDay) int {
	rest := days[0].blockMin
	for _, rd := range days[1:] {
		if rd.blockMin < rest {
			rest = rd.blockMin
		}
	}
	return rest
}
