// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import "fmt"

const (
	// PolicyVersion tags every placement run and is folded into the
	// policy input hash so replayed runs from older engine revisions
	// never alias current ones.
	PolicyVersion = "SEQUENCE_V1"

	// DefaultRestScoringMin is the minimum gap between two scoring
	// matches for the same team.
	DefaultRestScoringMin = 90

	// DefaultRestWFToScoringMin is the gap between a team's waterfall
	// match and its next scoring match.
	DefaultRestWFToScoringMin = 60

	// DefaultRestWFMin is the floor between consecutive waterfall
	// matches for the same team. Weather mode relaxes this one only.
	DefaultRestWFMin = 30

	// DefaultDailyCap is the per-team assigned match cap for one day.
	DefaultDailyCap = 2

	// DefaultDailyCapRROnly is the relaxed cap on middle days of
	// round-robin-only events.
	DefaultDailyCapRROnly = 3

	// DefaultConsolationFillMaxRound caps which consolation rounds the
	// day-two filler may pull forward.
	DefaultConsolationFillMaxRound = 1
)

// PolicyConfig carries the tunable knobs of the placement policy. The
// defaults reproduce the standard weekend format; tests override single
// fields to probe edge behavior.
type PolicyConfig struct {
	// RestScoringMin is the scoring-to-scoring rest floor in minutes.
	RestScoringMin int

	// RestWFToScoringMin is the waterfall-to-scoring rest floor.
	RestWFToScoringMin int

	// RestWFMin is the waterfall-to-waterfall rest floor.
	RestWFMin int

	// DailyCap caps how many assigned matches of any type a team may
	// hold on one day.
	DailyCap int

	// DailyCapRROnly relaxes DailyCap on middle days of RR_ONLY events.
	DailyCapRROnly int

	// ConsolationFillMaxRound limits day-two consolation fill to rounds
	// at or below this index.
	ConsolationFillMaxRound int

	// WeatherMode relaxes RestWFMin to zero. The scoring rest floors
	// hold regardless.
	WeatherMode bool

	// Version names the policy revision for hashing and audit.
	Version string
}

// DefaultPolicyConfig returns the standard weekend policy.
func DefaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{
		RestScoringMin:          DefaultRestScoringMin,
		RestWFToScoringMin:      DefaultRestWFToScoringMin,
		RestWFMin:               DefaultRestWFMin,
		DailyCap:                DefaultDailyCap,
		DailyCapRROnly:          DefaultDailyCapRROnly,
		ConsolationFillMaxRound: DefaultConsolationFillMaxRound,
		Version:                 PolicyVersion,
	}
}

// Copy returns a deep copy of the config.
func (p *PolicyConfig) Copy() *PolicyConfig {
	if p == nil {
		return nil
	}
	np := *p
	return &np
}

// EffectiveRestWF returns the waterfall rest floor under the current
// weather mode.
func (p *PolicyConfig) EffectiveRestWF() int {
	if p.WeatherMode {
		return 0
	}
	return p.RestWFMin
}

// Validate checks the config for nonsensical values.
func (p *PolicyConfig) Validate() error {
	if p.RestScoringMin < 0 || p.RestWFToScoringMin < 0 || p.RestWFMin < 0 {
		return NewErrValidation("rest floors must be non-negative")
	}
	if p.DailyCap < 1 {
		return NewErrValidation("daily cap must be at least 1")
	}
	if p.DailyCapRROnly < p.DailyCap {
		return NewErrValidation(fmt.Sprintf(
			"round-robin daily cap %d below base cap %d", p.DailyCapRROnly, p.DailyCap))
	}
	return nil
}

// Scoring formats. Rebuild day configs select one per day; it fixes the
// block duration of every scoring match placed that day.
const (
	ScoringFormatRegular = "REGULAR"
	ScoringFormatProSet8 = "PRO_SET_8"
	ScoringFormatProSet4 = "PRO_SET_4"
)

// ScoringFormatMinutes returns the block duration of a scoring format.
func ScoringFormatMinutes(format string) (int, error) {
	switch format {
	case ScoringFormatRegular:
		return 105, nil
	case ScoringFormatProSet8:
		return 60, nil
	case ScoringFormatProSet4:
		return 35, nil
	}
	return 0, NewErrValidation(fmt.Sprintf("unknown scoring format %q", format))
}

// Reschedule modes name the disruption being repaired.
const (
	// RescheduleModePartialDay loses the slots at or after a cut time on
	// one day, optionally until a resume time.
	RescheduleModePartialDay = "PARTIAL_DAY"

	// RescheduleModeFullWashout loses every slot on one day.
	RescheduleModeFullWashout = "FULL_WASHOUT"

	// RescheduleModeCourtLoss loses the slots of specific courts on one
	// day.
	RescheduleModeCourtLoss = "COURT_LOSS"

	// RescheduleModeRebuild discards non-final assignments and slots on a
	// set of days and regenerates both from day configs.
	RescheduleModeRebuild = "REBUILD"
)

// ValidRescheduleMode reports whether mode is a known reschedule mode.
func ValidRescheduleMode(mode string) bool {
	switch mode {
	case RescheduleModePartialDay, RescheduleModeFullWashout,
		RescheduleModeCourtLoss, RescheduleModeRebuild:
		return true
	}
	return false
}

// Drop modes select how much consolation load a rebuild sheds.
const (
	// DropConsolationNone sheds nothing.
	DropConsolationNone = "none"

	// DropConsolationFinals drops placement matches and consolation
	// rounds past the first.
	DropConsolationFinals = "finals"

	// DropConsolationAll drops the entire consolation and placement
	// program.
	DropConsolationAll = "all"
)

// ValidDropMode reports whether mode is a known consolation drop mode.
func ValidDropMode(mode string) bool {
	switch mode {
	case DropConsolationNone, DropConsolationFinals, DropConsolationAll:
		return true
	}
	return false
}
