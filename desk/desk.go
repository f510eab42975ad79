// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package desk is the live-operations surface of a tournament weekend: the
// working draft that shadows the published schedule, the per-match runtime
// state machine, advancement of winners and losers into downstream draws,
// manual grid edits, and the read models the desk watches between points.
package desk

import (
	"sort"

	log "github.com/hashicorp/go-hclog"
	"oss.indeed.com/go/libtime"

	"github.com/hashicorp/courtside/courtside/state"
	"github.com/hashicorp/courtside/courtside/structs"
)

// Desk exposes the runtime operations over one state store. It is safe for
// concurrent use; every operation reads a consistent snapshot and lands its
// writes through a single store transaction.
type Desk struct {
	store  *state.StateStore
	logger log.Logger
	clock  libtime.Clock
	config *structs.PolicyConfig
}

// NewDesk returns a desk over the given store. A nil config selects the
// standard weekend policy.
func NewDesk(store *state.StateStore, logger log.Logger, config *structs.PolicyConfig) (*Desk, error) {
	if config == nil {
		config = structs.DefaultPolicyConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Desk{
		store:  store,
		logger: logger.Named("desk"),
		clock:  libtime.SystemClock(),
		config: config,
	}, nil
}

// deskView is the read snapshot an operation works from. Everything is
// loaded up front so an operation never blends two store states; mutations
// write copies back through the store and into the view.
type deskView struct {
	tour    *structs.Tournament
	version *structs.ScheduleVersion

	matches   []*structs.Match
	matchByID map[int64]*structs.Match
	byCode    map[string]*structs.Match

	slotByID map[int64]*structs.ScheduleSlot

	// slotOf maps assigned match ids to their slots; dependents maps an
	// upstream match id to the matches wired to its outcome, in id order.
	slotOf     map[int64]*structs.ScheduleSlot
	dependents map[int64][]*structs.Match

	matchLocks map[int64]*structs.MatchLock
	slotLocks  map[int64]*structs.SlotLock

	assignments []*structs.MatchAssignment
}

// loadView snapshots everything the runtime reads for one version.
func (d *Desk) loadView(versionID int64) (*deskView, error) {
	version, err := d.store.VersionByID(nil, versionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, structs.NewErrNotFound("schedule version", versionID)
	}
	tour, err := d.store.TournamentByID(nil, version.TournamentID)
	if err != nil {
		return nil, err
	}
	if tour == nil {
		return nil, structs.NewErrNotFound("tournament", version.TournamentID)
	}

	matches, err := d.store.MatchesByVersion(nil, versionID)
	if err != nil {
		return nil, err
	}
	slots, err := d.store.SlotsByVersion(nil, versionID)
	if err != nil {
		return nil, err
	}
	assignments, err := d.store.AssignmentsByVersion(nil, versionID)
	if err != nil {
		return nil, err
	}
	matchLocks, err := d.store.MatchLocksByVersion(nil, versionID)
	if err != nil {
		return nil, err
	}
	slotLocks, err := d.store.SlotLocksByVersion(nil, versionID)
	if err != nil {
		return nil, err
	}

	v := &deskView{
		tour:        tour,
		version:     version,
		matches:     matches,
		matchByID:   make(map[int64]*structs.Match, len(matches)),
		byCode:      make(map[string]*structs.Match, len(matches)),
		slotByID:    make(map[int64]*structs.ScheduleSlot, len(slots)),
		slotOf:      make(map[int64]*structs.ScheduleSlot, len(assignments)),
		dependents:  make(map[int64][]*structs.Match),
		matchLocks:  make(map[int64]*structs.MatchLock, len(matchLocks)),
		slotLocks:   make(map[int64]*structs.SlotLock, len(slotLocks)),
		assignments: assignments,
	}
	for _, m := range matches {
		v.matchByID[m.ID] = m
		v.byCode[m.Code] = m
		for _, srcID := range m.SourceIDs() {
			v.dependents[srcID] = append(v.dependents[srcID], m)
		}
	}
	for _, slot := range slots {
		v.slotByID[slot.ID] = slot
	}
	for _, a := range assignments {
		if slot := v.slotByID[a.SlotID]; slot != nil {
			v.slotOf[a.MatchID] = slot
		}
	}
	for _, l := range matchLocks {
		v.matchLocks[l.MatchID] = l
	}
	for _, l := range slotLocks {
		v.slotLocks[l.SlotID] = l
	}
	return v, nil
}

// match returns the named match or a not-found error.
func (v *deskView) match(matchID int64) (*structs.Match, error) {
	m := v.matchByID[matchID]
	if m == nil {
		return nil, structs.NewErrNotFound("match", matchID)
	}
	return m, nil
}

// put replaces a match row in the view so later steps of the same operation
// see the accumulated state.
func (v *deskView) put(m *structs.Match) {
	old := v.matchByID[m.ID]
	v.matchByID[m.ID] = m
	v.byCode[m.Code] = m
	for i, row := range v.matches {
		if row.ID == m.ID {
			v.matches[i] = m
			break
		}
	}
	if old == nil {
		return
	}
	for _, srcID := range old.SourceIDs() {
		deps := v.dependents[srcID]
		for i, dep := range deps {
			if dep.ID == m.ID {
				deps[i] = m
			}
		}
	}
}

// relink rebuilds the dependency fanout after repair rewires source links.
func (v *deskView) relink() {
	v.dependents = make(map[int64][]*structs.Match)
	for _, m := range v.matches {
		for _, srcID := range m.SourceIDs() {
			v.dependents[srcID] = append(v.dependents[srcID], m)
		}
	}
}

// requireDraft rejects runtime mutation against final versions before any
// work is done. The store re-checks inside its write transaction.
func (v *deskView) requireDraft() error {
	if !v.version.IsDraft() {
		return structs.NewErrVersionNotDraft(v.version.ID)
	}
	return nil
}

// stint is one assigned match of one team, ordered by start time within a
// day.
type stint struct {
	m    *structs.Match
	slot *structs.ScheduleSlot
}

// playEnd is the playing end of the stint, start plus match duration, not
// the block end.
func (s stint) playEnd() int {
	return s.slot.StartMin + s.m.DurationMinutes
}

// teamStints groups the version's assigned matches by (team, day), each
// group sorted by start time. Cancelled matches do not count.
func (v *deskView) teamStints() map[int64]map[string][]stint {
	out := make(map[int64]map[string][]stint)
	for _, m := range v.matches {
		if m.Status == structs.MatchStatusCancelled {
			continue
		}
		slot := v.slotOf[m.ID]
		if slot == nil {
			continue
		}
		for _, teamID := range m.TeamIDs() {
			days := out[teamID]
			if days == nil {
				days = make(map[string][]stint)
				out[teamID] = days
			}
			days[slot.Day] = append(days[slot.Day], stint{m: m, slot: slot})
		}
	}
	for _, days := range out {
		for _, stints := range days {
			sort.Slice(stints, func(i, j int) bool {
				a, b := stints[i], stints[j]
				if a.slot.StartMin != b.slot.StartMin {
					return a.slot.StartMin < b.slot.StartMin
				}
				return a.m.ID < b.m.ID
			})
		}
	}
	return out
}

// restRule returns the conflict code and rest floor between two consecutive
// matches of one team, keyed on whether each side is waterfall play.
func (d *Desk) restRule(prev, next *structs.Match) (string, int) {
	pwf, nwf := prev.Type == structs.MatchTypeWF, next.Type == structs.MatchTypeWF
	switch {
	case pwf && nwf:
		return structs.ConflictRestWFMin, d.config.EffectiveRestWF()
	case !pwf && !nwf:
		return structs.ConflictRestScoringToScoring, d.config.RestScoringMin
	default:
		return structs.ConflictRestWFToScoring, d.config.RestWFToScoringMin
	}
}
