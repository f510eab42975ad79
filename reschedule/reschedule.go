// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package reschedule repairs a live schedule after a disruption: rain that
// cuts a day short, a full washout, or courts lost mid-tournament. The
// engine works out which slots are gone, previews moves for the matches
// sitting on them, and applies the surviving plan through the store's
// transactional plan writer. Rebuild mode goes further and regenerates
// whole days from fresh day configs.
package reschedule

import (
	"fmt"
	"sort"

	log "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"

	"github.com/hashicorp/courtside/courtside/state"
	"github.com/hashicorp/courtside/courtside/structs"
	"github.com/hashicorp/courtside/scheduler"
)

// Engine computes and applies schedule repairs for one state store. It is
// safe for concurrent use; all repair state lives in per-run contexts.
type Engine struct {
	store  *state.StateStore
	logger log.Logger
	config *structs.PolicyConfig

	// sched supplies the master sequence that orders matches which never
	// held a slot when a rebuild reseats them.
	sched *scheduler.Scheduler
}

// NewEngine returns a reschedule engine over the given store. A nil config
// selects the standard weekend policy.
func NewEngine(store *state.StateStore, logger log.Logger, config *structs.PolicyConfig) (*Engine, error) {
	if config == nil {
		config = structs.DefaultPolicyConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	sched, err := scheduler.NewScheduler(store, logger, config)
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:  store,
		logger: logger.Named("reschedule"),
		config: config,
		sched:  sched,
	}, nil
}

// Request names one disruption for the zone modes. Rebuild runs take day
// configs instead, see RebuildRequest.
type Request struct {
	// Mode is PARTIAL_DAY, FULL_WASHOUT or COURT_LOSS.
	Mode string

	// Day is the disrupted day, YYYY-MM-DD.
	Day string

	// UnavailableFrom is the HH:MM cut of a partial day: slots starting
	// at or after it are lost.
	UnavailableFrom string

	// AvailableFrom optionally resumes a partial day: slots starting at
	// or after it stay playable. It must sit after the cut.
	AvailableFrom string

	// Courts lists the lost court numbers of a court-loss day.
	Courts []int

	// ExtendDayEnd pushes the end of target days to make room, keyed by
	// day with HH:MM values. Extended cells are synthesized as new slots.
	ExtendDayEnd map[string]string

	// Format optionally switches displaced scoring matches to another
	// scoring format; empty keeps every duration as is.
	Format string
}

// lostZone is the parsed, validated form of a request: the predicate that
// decides which slot cells the disruption removed.
type lostZone struct {
	mode string
	day  string

	// fromMin and resumeMin bound a partial day. Resume is validated to
	// sit strictly after the cut, so zero means the day never resumes.
	fromMin   int
	resumeMin int

	courts *set.Set[int]
}

// containsCell reports whether the zone removed the (day, start, court)
// cell.
func (z *lostZone) containsCell(day string, startMin, court int) bool {
	if day != z.day {
		return false
	}
	switch z.mode {
	case structs.RescheduleModeFullWashout:
		return true
	case structs.RescheduleModePartialDay:
		if startMin < z.fromMin {
			return false
		}
		return z.resumeMin == 0 || startMin < z.resumeMin
	case structs.RescheduleModeCourtLoss:
		return z.courts.Contains(court)
	}
	return false
}

func (z *lostZone) contains(slot *structs.ScheduleSlot) bool {
	return z.containsCell(slot.Day, slot.StartMin, slot.CourtNumber)
}

// parseRequest validates a zone request against the tournament and returns
// the lost zone it describes.
func parseRequest(tour *structs.Tournament, req *Request) (*lostZone, error) {
	if !structs.ValidRescheduleMode(req.Mode) {
		return nil, structs.NewErrValidation(fmt.Sprintf("unknown reschedule mode %q", req.Mode))
	}
	if req.Mode == structs.RescheduleModeRebuild {
		return nil, structs.NewErrValidation("rebuild runs take day configs, not a disruption zone")
	}
	if tour.DayIndex(req.Day) < 0 {
		return nil, structs.NewErrValidation(fmt.Sprintf(
			"day %s is not an active day of tournament %q", req.Day, tour.Name))
	}

	zone := &lostZone{mode: req.Mode, day: req.Day}
	switch req.Mode {
	case structs.RescheduleModePartialDay:
		from, err := structs.ParseClock(req.UnavailableFrom)
		if err != nil {
			return nil, err
		}
		zone.fromMin = from
		if req.AvailableFrom != "" {
			resume, err := structs.ParseClock(req.AvailableFrom)
			if err != nil {
				return nil, err
			}
			if resume <= from {
				return nil, structs.NewErrValidation(fmt.Sprintf(
					"resume %s is not after the cut %s", req.AvailableFrom, req.UnavailableFrom))
			}
			zone.resumeMin = resume
		}

	case structs.RescheduleModeCourtLoss:
		if len(req.Courts) == 0 {
			return nil, structs.NewErrValidation("court loss requires at least one court")
		}
		zone.courts = set.New[int](len(req.Courts))
		for _, c := range req.Courts {
			if c < 1 || c > len(tour.CourtLabels) {
				return nil, structs.NewErrValidation(fmt.Sprintf(
					"court %d is outside the tournament court list", c))
			}
			zone.courts.Insert(c)
		}
	}

	if req.Format != "" {
		if _, err := structs.ScoringFormatMinutes(req.Format); err != nil {
			return nil, err
		}
	}
	for day, clock := range req.ExtendDayEnd {
		if tour.DayIndex(day) < 0 {
			return nil, structs.NewErrValidation(fmt.Sprintf(
				"extend day %s is not an active day of tournament %q", day, tour.Name))
		}
		if _, err := structs.ParseClock(clock); err != nil {
			return nil, err
		}
	}
	return zone, nil
}

// repairInputs is the read snapshot one repair run works from. Everything
// is loaded up front so a run never blends two store states.
type repairInputs struct {
	tour    *structs.Tournament
	version *structs.ScheduleVersion
	config  *structs.PolicyConfig

	events map[int64]*structs.Event

	matches   []*structs.Match
	matchByID map[int64]*structs.Match

	slots    []*structs.ScheduleSlot
	slotByID map[int64]*structs.ScheduleSlot

	// assignmentOf maps match id to its current assignment; slotTaken
	// maps slot id to the match holding it.
	assignments  []*structs.MatchAssignment
	assignmentOf map[int64]*structs.MatchAssignment
	slotTaken    map[int64]int64

	// pinned holds matches under pre-assignment locks, blocked holds
	// slots under slot locks.
	pinned  *set.Set[int64]
	blocked *set.Set[int64]

	// dependents indexes matches by the upstream match each side sources
	// from, used to keep bracket feeds playing before their targets.
	dependents map[int64][]*structs.Match
}

// loadInputs snapshots everything a repair run reads for the given version.
func (e *Engine) loadInputs(versionID int64) (*repairInputs, error) {
	version, err := e.store.VersionByID(nil, versionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, structs.NewErrNotFound("schedule version", versionID)
	}
	tour, err := e.store.TournamentByID(nil, version.TournamentID)
	if err != nil {
		return nil, err
	}
	if tour == nil {
		return nil, structs.NewErrNotFound("tournament", version.TournamentID)
	}
	if len(tour.Days) == 0 {
		return nil, structs.NewErrValidation(fmt.Sprintf(
			"tournament %q has no active days", tour.Name))
	}

	events, err := e.store.EventsByTournament(nil, tour.ID)
	if err != nil {
		return nil, err
	}
	matches, err := e.store.MatchesByVersion(nil, versionID)
	if err != nil {
		return nil, err
	}
	slots, err := e.store.SlotsByVersion(nil, versionID)
	if err != nil {
		return nil, err
	}
	assignments, err := e.store.AssignmentsByVersion(nil, versionID)
	if err != nil {
		return nil, err
	}
	matchLocks, err := e.store.MatchLocksByVersion(nil, versionID)
	if err != nil {
		return nil, err
	}
	slotLocks, err := e.store.SlotLocksByVersion(nil, versionID)
	if err != nil {
		return nil, err
	}

	in := &repairInputs{
		tour:         tour,
		version:      version,
		config:       e.config,
		events:       make(map[int64]*structs.Event, len(events)),
		matches:      matches,
		matchByID:    make(map[int64]*structs.Match, len(matches)),
		slots:        slots,
		slotByID:     make(map[int64]*structs.ScheduleSlot, len(slots)),
		assignments:  assignments,
		assignmentOf: make(map[int64]*structs.MatchAssignment, len(assignments)),
		slotTaken:    make(map[int64]int64, len(assignments)),
		pinned:       set.New[int64](len(matchLocks)),
		blocked:      set.New[int64](len(slotLocks)),
		dependents:   make(map[int64][]*structs.Match),
	}
	for _, ev := range events {
		in.events[ev.ID] = ev
	}
	for _, m := range matches {
		in.matchByID[m.ID] = m
		for _, srcID := range m.SourceIDs() {
			in.dependents[srcID] = append(in.dependents[srcID], m)
		}
	}
	for _, slot := range slots {
		in.slotByID[slot.ID] = slot
	}
	for _, a := range assignments {
		in.assignmentOf[a.MatchID] = a
		in.slotTaken[a.SlotID] = a.MatchID
	}
	for _, l := range matchLocks {
		in.pinned.Insert(l.MatchID)
	}
	for _, l := range slotLocks {
		in.blocked.Insert(l.SlotID)
	}
	return in, nil
}

// lostSlots returns the active slots the zone removed, in grid order.
func lostSlots(in *repairInputs, zone *lostZone) []*structs.ScheduleSlot {
	var lost []*structs.ScheduleSlot
	for _, slot := range in.slots {
		if slot.Active && zone.contains(slot) {
			lost = append(lost, slot)
		}
	}
	structs.SortSlots(lost)
	return lost
}

// affectedMatches partitions the version's unplayed matches for a zone.
// The returned slice carries the matches a repair will seat, displaced
// assignments first in their original playing order, then the
// never-assigned backlog by stage priority. Pinned matches stay put and
// come back as warnings instead.
func (e *Engine) affectedMatches(in *repairInputs, zone *lostZone) ([]*structs.Match, []structs.Warning) {
	type displaced struct {
		m    *structs.Match
		slot *structs.ScheduleSlot
	}
	var moved []displaced
	var backlog []*structs.Match
	var warnings []structs.Warning

	for _, m := range in.matches {
		if m.Final() || m.Status == structs.MatchStatusCancelled {
			continue
		}
		a := in.assignmentOf[m.ID]
		if a == nil {
			if in.pinned.Contains(m.ID) {
				warnings = append(warnings, structs.Warning{
					Code:    structs.WarnSlotLocked,
					Message: fmt.Sprintf("match %s is pinned and left for its reserved slot", m.Code),
					MatchID: m.ID,
				})
				continue
			}
			backlog = append(backlog, m)
			continue
		}
		slot := in.slotByID[a.SlotID]
		if slot == nil || !zone.contains(slot) {
			continue
		}
		if a.Locked {
			warnings = append(warnings, structs.Warning{
				Code:    structs.WarnSlotLocked,
				Message: fmt.Sprintf("match %s is locked to lost slot %d and stays in place", m.Code, slot.ID),
				MatchID: m.ID,
				SlotID:  slot.ID,
			})
			continue
		}
		moved = append(moved, displaced{m: m, slot: slot})
	}

	sort.SliceStable(moved, func(i, j int) bool {
		a, b := moved[i].slot, moved[j].slot
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.StartMin != b.StartMin {
			return a.StartMin < b.StartMin
		}
		if a.CourtNumber != b.CourtNumber {
			return a.CourtNumber < b.CourtNumber
		}
		return moved[i].m.ID < moved[j].m.ID
	})
	sort.SliceStable(backlog, func(i, j int) bool {
		a, b := backlog[i], backlog[j]
		if pa, pb := stagePriority(a.Type), stagePriority(b.Type); pa != pb {
			return pa < pb
		}
		if a.RoundIndex != b.RoundIndex {
			return a.RoundIndex < b.RoundIndex
		}
		if a.SequenceInRound != b.SequenceInRound {
			return a.SequenceInRound < b.SequenceInRound
		}
		return a.ID < b.ID
	})

	out := make([]*structs.Match, 0, len(moved)+len(backlog))
	for _, d := range moved {
		out = append(out, d.m)
	}
	out = append(out, backlog...)
	return out, warnings
}

// stagePriority orders the never-assigned backlog: waterfall first, then
// main draw, round robin, consolation and placement.
func stagePriority(matchType string) int {
	switch matchType {
	case structs.MatchTypeWF:
		return 0
	case structs.MatchTypeMain:
		return 1
	case structs.MatchTypeRR:
		return 2
	case structs.MatchTypeConsolation:
		return 3
	default:
		return 4
	}
}

// courtLabel resolves the display label of a court number, falling back to
// a generated label past the configured list.
func courtLabel(tour *structs.Tournament, court int) string {
	if court >= 1 && court <= len(tour.CourtLabels) {
		return tour.CourtLabels[court-1]
	}
	return fmt.Sprintf("Court %d", court)
}
