// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package scheduler assigns matches to court/time slots. It builds the
// master playing sequence, runs the two placement drivers (sequence fill
// and daily policy batches) against a shared compatibility check, and
// verifies the policy invariants of whatever landed, hashing inputs and
// outputs so reruns can be told apart from stale plans.
package scheduler

import (
	"fmt"

	log "github.com/hashicorp/go-hclog"

	"github.com/hashicorp/courtside/courtside/state"
	"github.com/hashicorp/courtside/courtside/structs"
)

// replayCacheSize bounds the input-hash to output-hash cache. A weekend
// tournament reruns placement a few dozen times at most.
const replayCacheSize = 128

// Scheduler owns the placement drivers and the verifier for one state
// store. It is safe for concurrent use; all placement state lives in
// per-run contexts.
type Scheduler struct {
	store   *state.StateStore
	logger  log.Logger
	config  *structs.PolicyConfig
	replays *replayCache
}

// NewScheduler returns a scheduler over the given store. A nil config
// selects the standard weekend policy.
func NewScheduler(store *state.StateStore, logger log.Logger, config *structs.PolicyConfig) (*Scheduler, error) {
	if config == nil {
		config = structs.DefaultPolicyConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	replays, err := newReplayCache(replayCacheSize)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		store:   store,
		logger:  logger.Named("scheduler"),
		config:  config,
		replays: replays,
	}, nil
}

// placementInputs is the read snapshot a placement or verify run works
// from. Everything is loaded up front so a run never blends two store
// states.
type placementInputs struct {
	tour    *structs.Tournament
	version *structs.ScheduleVersion
	config  *structs.PolicyConfig

	// events holds the tournament's events by id; eventList carries them
	// in priority order (team count descending, then id).
	events    map[int64]*structs.Event
	eventList []*structs.Event

	matches   []*structs.Match
	matchByID map[int64]*structs.Match

	slots       []*structs.ScheduleSlot
	assignments []*structs.MatchAssignment
	matchLocks  []*structs.MatchLock
	slotLocks   []*structs.SlotLock
}

// loadInputs snapshots everything a run reads for the given version.
func (s *Scheduler) loadInputs(versionID int64) (*placementInputs, error) {
	version, err := s.store.VersionByID(nil, versionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, structs.NewErrNotFound("schedule version", versionID)
	}
	tour, err := s.store.TournamentByID(nil, version.TournamentID)
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

	events, err := s.store.EventsByTournament(nil, tour.ID)
	if err != nil {
		return nil, err
	}
	matches, err := s.store.MatchesByVersion(nil, versionID)
	if err != nil {
		return nil, err
	}
	slots, err := s.store.SlotsByVersion(nil, versionID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.store.AssignmentsByVersion(nil, versionID)
	if err != nil {
		return nil, err
	}
	matchLocks, err := s.store.MatchLocksByVersion(nil, versionID)
	if err != nil {
		return nil, err
	}
	slotLocks, err := s.store.SlotLocksByVersion(nil, versionID)
	if err != nil {
		return nil, err
	}

	in := &placementInputs{
		tour:        tour,
		version:     version,
		config:      s.config,
		events:      make(map[int64]*structs.Event, len(events)),
		eventList:   sortEventsByPriority(events),
		matches:     matches,
		matchByID:   make(map[int64]*structs.Match, len(matches)),
		slots:       slots,
		assignments: assignments,
		matchLocks:  matchLocks,
		slotLocks:   slotLocks,
	}
	for _, e := range events {
		in.events[e.ID] = e
	}
	for _, m := range matches {
		in.matchByID[m.ID] = m
	}
	return in, nil
}

// wfRoundsOf returns the event's waterfall round count, zero when the
// event or its plan is unknown.
func (in *placementInputs) wfRoundsOf(eventID int64) int {
	if e := in.events[eventID]; e != nil && e.Plan != nil {
		return e.Plan.WaterfallRounds
	}
	return 0
}

// BatchOutcome reports one placement batch of the daily policy driver.
type BatchOutcome struct {
	Name      string
	Attempted int
	Placed    int
}

// PlacementResult reports one placement run of either driver.
type PlacementResult struct {
	VersionID int64

	// Day is set by daily policy runs, empty for sequence runs.
	Day string

	// PlacedCount counts freshly written assignments; matches assigned
	// before the run are not included.
	PlacedCount int

	// UnplacedIDs lists the matches the run attempted but could not
	// place, in attempt order.
	UnplacedIDs []int64

	// DeferredFinalIDs lists main-draw finals the daily policy pushed
	// past this day.
	DeferredFinalIDs []int64

	// Batches reports the policy batches in execution order; nil for
	// sequence runs.
	Batches []*BatchOutcome

	Warnings []structs.Warning
}
