// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package structs holds the domain model shared by every Courtside engine:
// tournaments, events, teams, schedule versions, matches, slots, assignments
// and locks, plus the enumerations, error kinds and canonical hashes that
// make up the wire-facing contract.
package structs

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// VersionStatusDraft marks a schedule version that accepts runtime
	// mutation. All desk operations require a draft.
	VersionStatusDraft = "draft"

	// VersionStatusFinal marks an immutable schedule version. The only
	// operation permitted against a final version is cloning it into a
	// new draft.
	VersionStatusFinal = "final"
)

// DeskDraftTag is the distinguished tag of the mutable version that shadows
// the published schedule during live play. A tournament carries at most one.
const DeskDraftTag = "Desk Draft"

const (
	// TemplateRROnly is a single pool where every team plays every other
	// team. Inventory: n*(n-1)/2 matches.
	TemplateRROnly = "RR_ONLY"

	// TemplateWFToPoolsDynamic sorts teams through waterfall rounds into
	// k pools of size m (k*m = team count).
	TemplateWFToPoolsDynamic = "WF_TO_POOLS_DYNAMIC"

	// TemplateWFToPools4 is the legacy 16-team, 2-waterfall-round pool
	// format kept for older event configurations.
	TemplateWFToPools4 = "WF_TO_POOLS_4"

	// TemplateWFToBrackets8 sorts teams through waterfall rounds into
	// 8-team single elimination brackets with consolation play.
	TemplateWFToBrackets8 = "WF_TO_BRACKETS_8"
)

// Tournament is the top level container: a multi-day, multi-court
// competition with one published schedule version at a time.
type Tournament struct {
	ID       int64
	Name     string
	Timezone string

	// StartDate and EndDate bound the active days, YYYY-MM-DD.
	StartDate string
	EndDate   string

	// CourtLabels is the ordered list of court names. Court numbers are
	// 1-based positions in this list.
	CourtLabels []string

	// PublishedVersionID names the version the public schedule resolves
	// through. It may point at a desk draft during live play.
	PublishedVersionID int64

	// Days carries the active day grid in date order.
	Days []*TournamentDay

	CreateIndex uint64
	ModifyIndex uint64
}

func (t *Tournament) Copy() *Tournament {
	if t == nil {
		return nil
	}
	nt := new(Tournament)
	*nt = *t
	nt.CourtLabels = append([]string(nil), t.CourtLabels...)
	nt.Days = make([]*TournamentDay, len(t.Days))
	for i, d := range t.Days {
		nt.Days[i] = d.Copy()
	}
	return nt
}

// DayIndex returns the 0-based position of the given day in the active day
// list, or -1 when the day is not part of the tournament.
func (t *Tournament) DayIndex(day string) int {
	for i, d := range t.Days {
		if d.Day == day {
			return i
		}
	}
	return -1
}

// Day returns the day config for the given date, or nil.
func (t *Tournament) Day(day string) *TournamentDay {
	for _, d := range t.Days {
		if d.Day == day {
			return d
		}
	}
	return nil
}

// LastDay returns the final active day, or "" when no days are configured.
func (t *Tournament) LastDay() string {
	if len(t.Days) == 0 {
		return ""
	}
	return t.Days[len(t.Days)-1].Day
}

// CourtNumber resolves a court label to its 1-based number, or 0.
func (t *Tournament) CourtNumber(label string) int {
	for i, l := range t.CourtLabels {
		if l == label {
			return i + 1
		}
	}
	return 0
}

func (t *Tournament) Validate() error {
	if t.Name == "" {
		return NewErrValidation("tournament name is required")
	}
	if len(t.CourtLabels) == 0 {
		return NewErrValidation("tournament requires at least one court")
	}
	for _, d := range t.Days {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	if !sort.SliceIsSorted(t.Days, func(i, j int) bool { return t.Days[i].Day < t.Days[j].Day }) {
		return NewErrValidation("tournament days must be in date order")
	}
	return nil
}

// TournamentDay is one active day of play: its bounds and the time-window
// grid that slot expansion builds the schedule grid from.
type TournamentDay struct {
	// Day is the date, YYYY-MM-DD, in the tournament timezone.
	Day string

	// EarliestStartMin and LatestEndMin bound play, minutes from
	// midnight.
	EarliestStartMin int
	LatestEndMin     int

	// Windows is the time-window grid. Slot expansion produces one slot
	// per (window, court).
	Windows []TimeWindow
}

func (d *TournamentDay) Copy() *TournamentDay {
	if d == nil {
		return nil
	}
	nd := new(TournamentDay)
	*nd = *d
	nd.Windows = append([]TimeWindow(nil), d.Windows...)
	return nd
}

func (d *TournamentDay) Validate() error {
	if _, err := ParseDay(d.Day); err != nil {
		return err
	}
	if d.EarliestStartMin < 0 || d.LatestEndMin > 24*60 || d.EarliestStartMin >= d.LatestEndMin {
		return NewErrValidation(fmt.Sprintf("day %s has invalid bounds %s-%s",
			d.Day, FormatClock(d.EarliestStartMin), FormatClock(d.LatestEndMin)))
	}
	for _, w := range d.Windows {
		if w.StartMin < d.EarliestStartMin || w.EndMin > d.LatestEndMin || w.StartMin >= w.EndMin {
			return NewErrValidation(fmt.Sprintf("day %s window %s-%s outside day bounds",
				d.Day, FormatClock(w.StartMin), FormatClock(w.EndMin)))
		}
		if w.BlockMinutes <= 0 || w.BlockMinutes > w.EndMin-w.StartMin {
			return NewErrValidation(fmt.Sprintf("day %s window %s-%s has invalid block minutes %d",
				d.Day, FormatClock(w.StartMin), FormatClock(w.EndMin), w.BlockMinutes))
		}
	}
	return nil
}

// TimeWindow is one cell column of a day grid: a start/end pair and the
// block length a slot in this window can host.
type TimeWindow struct {
	StartMin     int
	EndMin       int
	BlockMinutes int
}

// Event is a competitive category within a tournament with its own team
// list, durations, and compiled draw plan.
type Event struct {
	ID           int64
	TournamentID int64
	Name         string

	// Category is the entry class, e.g. "mixed" or "womens". It feeds the
	// match code prefix.
	Category string

	// TeamCount is the declared number of entered teams. Template
	// validation checks it against the draw family presets.
	TeamCount int

	// Guarantee is the minimum number of matches any team plays, 4 or 5.
	// It selects the consolation layout of bracket draws.
	Guarantee int

	// WaterfallMinutes and StandardMinutes are the per-event block
	// durations for waterfall and scoring matches.
	WaterfallMinutes int
	StandardMinutes  int

	// Plan is the compiled draw plan. Nil until draw compilation runs.
	Plan *DrawPlan

	CreateIndex uint64
	ModifyIndex uint64
}

func (e *Event) Copy() *Event {
	if e == nil {
		return nil
	}
	ne := new(Event)
	*ne = *e
	ne.Plan = e.Plan.Copy()
	return ne
}

// CodePrefix derives the match code prefix for the event, e.g. a womens
// event with id 1 yields "WOM_E1".
func (e *Event) CodePrefix() string {
	cat := make([]rune, 0, 3)
	for _, r := range strings.ToUpper(e.Category) {
		if r >= 'A' && r <= 'Z' {
			cat = append(cat, r)
			if len(cat) == 3 {
				break
			}
		}
	}
	if len(cat) == 0 {
		cat = []rune{'E', 'V', 'T'}
	}
	return fmt.Sprintf("%s_E%d", string(cat), e.ID)
}

// DurationForType returns the block duration for a match of the given type
// in this event.
func (e *Event) DurationForType(matchType string) int {
	if matchType == MatchTypeWF {
		return e.WaterfallMinutes
	}
	return e.StandardMinutes
}

func (e *Event) Validate() error {
	if e.TournamentID == 0 {
		return NewErrValidation("event requires a tournament")
	}
	if e.TeamCount < 2 {
		return NewErrValidation(fmt.Sprintf("event %q team count %d is too small", e.Name, e.TeamCount))
	}
	if e.Guarantee != 0 && e.Guarantee != 4 && e.Guarantee != 5 {
		return NewErrValidation(fmt.Sprintf("event %q guarantee must be 4 or 5, got %d", e.Name, e.Guarantee))
	}
	if e.WaterfallMinutes < 0 || e.StandardMinutes <= 0 {
		return NewErrValidation(fmt.Sprintf("event %q has invalid durations", e.Name))
	}
	return nil
}

// DrawPlan is the compiled form of an event's format: a template key, the
// waterfall round count, and the derived inventory the generator and the
// verifier both count against.
type DrawPlan struct {
	TemplateKey     string
	WaterfallRounds int

	// PoolCount and PoolSize describe the pool stage of pool templates;
	// zero for bracket templates.
	PoolCount int
	PoolSize  int

	// BracketSizes lists the bracket sizes of bracket templates in label
	// order, e.g. [8, 4] for a 12-team draw.
	BracketSizes []int

	// Inventory maps a stage key (WF, RR, MAIN, CONSOLATION, PLACEMENT)
	// to the expected match count.
	Inventory map[string]int
}

func (p *DrawPlan) Copy() *DrawPlan {
	if p == nil {
		return nil
	}
	np := new(DrawPlan)
	*np = *p
	np.BracketSizes = append([]int(nil), p.BracketSizes...)
	if p.Inventory != nil {
		np.Inventory = make(map[string]int, len(p.Inventory))
		for k, v := range p.Inventory {
			np.Inventory[k] = v
		}
	}
	return np
}

// TotalMatches sums the inventory across stages.
func (p *DrawPlan) TotalMatches() int {
	total := 0
	for _, n := range p.Inventory {
		total += n
	}
	return total
}

// Team is one entry in an event. Seeds are 1-based and unique within the
// event.
type Team struct {
	ID      int64
	EventID int64
	Seed    int

	Name        string
	DisplayName string

	// AvoidGroup tags teams that should not meet in waterfall play when
	// avoidable, e.g. teams from the same club. Empty means untagged.
	AvoidGroup string

	// WFGroupIndex optionally partitions the waterfall draw. Zero means
	// the single default partition.
	WFGroupIndex int

	// Defaulted is set when the team has withdrawn for the weekend; the
	// runtime finalizes its remaining matches against it.
	Defaulted bool

	CreateIndex uint64
	ModifyIndex uint64
}

func (t *Team) Copy() *Team {
	if t == nil {
		return nil
	}
	nt := new(Team)
	*nt = *t
	return nt
}

// ScheduleVersion is one generation of the schedule. Drafts mutate, finals
// do not; the tournament's published pointer picks the live one.
type ScheduleVersion struct {
	ID           int64
	TournamentID int64

	// Status is draft or final.
	Status string

	// Tag labels distinguished versions; the desk draft carries
	// DeskDraftTag.
	Tag string

	// ClonedFromID names the version this one was cloned from, zero for
	// versions built from scratch.
	ClonedFromID int64

	CreateTime time.Time

	CreateIndex uint64
	ModifyIndex uint64
}

func (v *ScheduleVersion) Copy() *ScheduleVersion {
	if v == nil {
		return nil
	}
	nv := new(ScheduleVersion)
	*nv = *v
	return nv
}

// IsDraft returns whether runtime mutation is permitted.
func (v *ScheduleVersion) IsDraft() bool {
	return v.Status == VersionStatusDraft
}

// CourtState is a per-court runtime annotation. It affects display only;
// closed courts surface to placement through slot locks instead.
type CourtState struct {
	TournamentID int64
	CourtNumber  int
	Closed       bool
	Note         string

	CreateIndex uint64
	ModifyIndex uint64
}

func (c *CourtState) Copy() *CourtState {
	if c == nil {
		return nil
	}
	nc := new(CourtState)
	*nc = *c
	return nc
}
