// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"fmt"
	"sort"
	"time"
)

const (
	MatchTypeWF          = "WF"
	MatchTypeRR          = "RR"
	MatchTypeMain        = "MAIN"
	MatchTypeConsolation = "CONSOLATION"
	MatchTypePlacement   = "PLACEMENT"
)

const (
	MatchStatusScheduled  = "SCHEDULED"
	MatchStatusInProgress = "IN_PROGRESS"
	MatchStatusPaused     = "PAUSED"
	MatchStatusDelayed    = "DELAYED"
	MatchStatusFinal      = "FINAL"
	MatchStatusCancelled  = "CANCELLED"
)

const (
	RoleWinner = "WINNER"
	RoleLoser  = "LOSER"
)

// Bracket labels, assigned to brackets in this order. The names reflect the
// waterfall track feeding them: WW/WL pull from the winners track of the
// last waterfall round, LW/LL from the losers track.
const (
	BracketWW = "WW"
	BracketWL = "WL"
	BracketLW = "LW"
	BracketLL = "LL"
)

// Placement type tags. Stable across regeneration so downstream consumers
// can key on them.
const (
	Placement3rd4th = "3RD_4TH"
	Placement5th6th = "5TH_6TH"
	Placement7th8th = "7TH_8TH"
)

// ValidMatchType reports whether t is a known match type.
func ValidMatchType(t string) bool {
	switch t {
	case MatchTypeWF, MatchTypeRR, MatchTypeMain, MatchTypeConsolation, MatchTypePlacement:
		return true
	}
	return false
}

// ValidMatchStatus reports whether s is a known runtime status.
func ValidMatchStatus(s string) bool {
	switch s {
	case MatchStatusScheduled, MatchStatusInProgress, MatchStatusPaused,
		MatchStatusDelayed, MatchStatusFinal, MatchStatusCancelled:
		return true
	}
	return false
}

// ValidRole reports whether r is WINNER or LOSER.
func ValidRole(r string) bool {
	return r == RoleWinner || r == RoleLoser
}

// Match is one playable unit of an event within a schedule version. Sides
// are either resolved team ids or human-readable placeholders; dependency
// links name the upstream matches whose outcomes fill the sides.
type Match struct {
	ID           int64
	TournamentID int64
	EventID      int64
	VersionID    int64

	// Code is unique within the version and embeds the event prefix
	// plus stage, e.g. WOM_E1_WF_R1_M01 or MIX_E2_BWW_QF_M03.
	Code string

	// Type is one of the MatchType constants.
	Type string

	// RoundIndex is 1-based within the match type. For brackets it
	// encodes depth: QF=1, SF=2, Final=3; consolation semi=1, final=2.
	RoundIndex int

	// SequenceInRound is the deterministic tiebreak among siblings.
	SequenceInRound int

	// BracketLabel carries the bracket label for bracket-stage matches
	// and the pool letter for pool round robin matches, empty otherwise.
	// The label also appears in Code.
	BracketLabel string

	DurationMinutes int

	// TeamAID/TeamBID are the resolved sides, zero when unresolved.
	TeamAID int64
	TeamBID int64

	// PlaceholderA/PlaceholderB describe unresolved sides. Dependency
	// placeholders use the "WINNER:code"/"LOSER:code" form; pool matches
	// awaiting confirmation use "SEED_n".
	PlaceholderA string
	PlaceholderB string

	// SourceAID/SourceARole wire side A to an upstream match outcome;
	// likewise for side B. Zero/empty when the side has no dependency.
	SourceAID   int64
	SourceARole string
	SourceBID   int64
	SourceBRole string

	// Status is the runtime lifecycle state.
	Status string

	StartedAt   time.Time
	CompletedAt time.Time

	WinnerTeamID int64

	// Score is the recorded result, nil until one is entered.
	Score *Score

	// ConsolationTier is 1 for consolation rounds fed by main-draw
	// losers, 2 for rounds fed by earlier consolation play. Zero for
	// non-consolation matches.
	ConsolationTier int

	// PlacementType tags placement matches, e.g. 3RD_4TH.
	PlacementType string

	// PreferredDay is an optional weekday hint for the scheduler,
	// YYYY-MM-DD.
	PreferredDay string

	CreateIndex uint64
	ModifyIndex uint64
}

func (m *Match) Copy() *Match {
	if m == nil {
		return nil
	}
	nm := new(Match)
	*nm = *m
	nm.Score = m.Score.Copy()
	return nm
}

// IsScoring reports whether the match counts as a scoring-format match for
// rest purposes. Everything except waterfall qualifies.
func (m *Match) IsScoring() bool {
	return m.Type != MatchTypeWF
}

// Final reports whether the match has a recorded result.
func (m *Match) Final() bool {
	return m.Status == MatchStatusFinal
}

// Resolved reports whether both sides carry concrete teams.
func (m *Match) Resolved() bool {
	return m.TeamAID != 0 && m.TeamBID != 0
}

// HasTeam reports whether the given team plays in this match.
func (m *Match) HasTeam(teamID int64) bool {
	return teamID != 0 && (m.TeamAID == teamID || m.TeamBID == teamID)
}

// TeamIDs returns the resolved side teams, omitting unresolved sides.
func (m *Match) TeamIDs() []int64 {
	ids := make([]int64, 0, 2)
	if m.TeamAID != 0 {
		ids = append(ids, m.TeamAID)
	}
	if m.TeamBID != 0 {
		ids = append(ids, m.TeamBID)
	}
	return ids
}

// LoserTeamID returns the side that did not win, or zero when the match has
// no winner or unresolved sides.
func (m *Match) LoserTeamID() int64 {
	switch {
	case m.WinnerTeamID == 0:
		return 0
	case m.WinnerTeamID == m.TeamAID:
		return m.TeamBID
	case m.WinnerTeamID == m.TeamBID:
		return m.TeamAID
	}
	return 0
}

// HasSources reports whether either side is wired to an upstream match.
func (m *Match) HasSources() bool {
	return m.SourceAID != 0 || m.SourceBID != 0
}

// SourceIDs returns the wired upstream match ids.
func (m *Match) SourceIDs() []int64 {
	ids := make([]int64, 0, 2)
	if m.SourceAID != 0 {
		ids = append(ids, m.SourceAID)
	}
	if m.SourceBID != 0 {
		ids = append(ids, m.SourceBID)
	}
	return ids
}

func (m *Match) Validate() error {
	if m.Code == "" {
		return NewErrValidation("match code is required")
	}
	if !ValidMatchType(m.Type) {
		return NewErrValidation(fmt.Sprintf("match %s has unknown type %q", m.Code, m.Type))
	}
	if m.Status != "" && !ValidMatchStatus(m.Status) {
		return NewErrValidation(fmt.Sprintf("match %s has unknown status %q", m.Code, m.Status))
	}
	if m.RoundIndex < 1 {
		return NewErrValidation(fmt.Sprintf("match %s has round index %d", m.Code, m.RoundIndex))
	}
	if m.DurationMinutes <= 0 {
		return NewErrValidation(fmt.Sprintf("match %s has duration %d", m.Code, m.DurationMinutes))
	}
	if m.SourceARole != "" && !ValidRole(m.SourceARole) {
		return NewErrValidation(fmt.Sprintf("match %s has unknown source role %q", m.Code, m.SourceARole))
	}
	if m.SourceBRole != "" && !ValidRole(m.SourceBRole) {
		return NewErrValidation(fmt.Sprintf("match %s has unknown source role %q", m.Code, m.SourceBRole))
	}
	return nil
}

// ScheduleSlot is one (day, start-end, court) cell that can host a single
// match.
type ScheduleSlot struct {
	ID        int64
	VersionID int64

	// Day is YYYY-MM-DD; StartMin/EndMin are minutes from midnight.
	Day      string
	StartMin int
	EndMin   int

	CourtNumber int
	CourtLabel  string

	// BlockMinutes is the longest match the slot can host.
	BlockMinutes int

	// Active slots participate in placement. Inactive slots are kept for
	// audit after rebuilds.
	Active bool

	CreateIndex uint64
	ModifyIndex uint64
}

func (s *ScheduleSlot) Copy() *ScheduleSlot {
	if s == nil {
		return nil
	}
	ns := new(ScheduleSlot)
	*ns = *s
	return ns
}

// StartClock renders the start time as HH:MM.
func (s *ScheduleSlot) StartClock() string {
	return FormatClock(s.StartMin)
}

// EndClock renders the end time as HH:MM.
func (s *ScheduleSlot) EndClock() string {
	return FormatClock(s.EndMin)
}

// Before reports whether this slot ends no later than the other starts on
// the same day, or is on an earlier day.
func (s *ScheduleSlot) Before(other *ScheduleSlot) bool {
	if s.Day != other.Day {
		return s.Day < other.Day
	}
	return s.EndMin <= other.StartMin
}

// SortSlots orders slots by the deterministic placement key: day, start
// time, court number, court label, id.
func SortSlots(slots []*ScheduleSlot) {
	sort.Slice(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.StartMin != b.StartMin {
			return a.StartMin < b.StartMin
		}
		if a.CourtNumber != b.CourtNumber {
			return a.CourtNumber < b.CourtNumber
		}
		if a.CourtLabel != b.CourtLabel {
			return a.CourtLabel < b.CourtLabel
		}
		return a.ID < b.ID
	})
}

// ExpandDaySlots builds the slot grid for one day: one slot per
// (window, court), court numbers following label order.
func ExpandDaySlots(versionID int64, day *TournamentDay, courtLabels []string) []*ScheduleSlot {
	slots := make([]*ScheduleSlot, 0, len(day.Windows)*len(courtLabels))
	for _, w := range day.Windows {
		for ci, label := range courtLabels {
			slots = append(slots, &ScheduleSlot{
				VersionID:    versionID,
				Day:          day.Day,
				StartMin:     w.StartMin,
				EndMin:       w.EndMin,
				CourtNumber:  ci + 1,
				CourtLabel:   label,
				BlockMinutes: w.BlockMinutes,
				Active:       true,
			})
		}
	}
	return slots
}

const (
	AssignedByAuto       = "AUTO_ASSIGN_V1"
	AssignedByScope      = "ASSIGN_SCOPE_V1"
	AssignedBySubset     = "ASSIGN_SUBSET_V1"
	AssignedBySequence   = "SEQUENCE_V1"
	AssignedByRebuild    = "REBUILD"
	AssignedByReschedule = "RESCHEDULE"
	AssignedByDeskMove   = "DESK_MOVE"
	AssignedByDeskSwap   = "DESK_SWAP"
)

// MatchAssignment binds a match to a slot within a version. At most one
// assignment exists per (version, slot) and per (version, match).
type MatchAssignment struct {
	VersionID int64
	MatchID   int64
	SlotID    int64

	// AssignedBy records which writer produced the assignment.
	AssignedBy string

	// Locked assignments are pinned; batch planners do not displace them.
	// Manual desk edits and reschedule moves set it.
	Locked bool

	CreateIndex uint64
	ModifyIndex uint64
}

func (a *MatchAssignment) Copy() *MatchAssignment {
	if a == nil {
		return nil
	}
	na := new(MatchAssignment)
	*na = *a
	return na
}

// MatchLock pins a match to a slot before placement runs. The placement
// engines honor the pin and the policy hash covers it.
type MatchLock struct {
	VersionID int64
	MatchID   int64
	SlotID    int64

	CreateIndex uint64
	ModifyIndex uint64
}

func (l *MatchLock) Copy() *MatchLock {
	if l == nil {
		return nil
	}
	nl := new(MatchLock)
	*nl = *l
	return nl
}

// SlotLockBlocked excludes a slot from assignment.
const SlotLockBlocked = "BLOCKED"

// SlotLock excludes a slot from placement, e.g. a closed court or a
// reserved window.
type SlotLock struct {
	VersionID int64
	SlotID    int64
	Status    string

	CreateIndex uint64
	ModifyIndex uint64
}

func (l *SlotLock) Copy() *SlotLock {
	if l == nil {
		return nil
	}
	nl := new(SlotLock)
	*nl = *l
	return nl
}
