// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import "fmt"

// Warning codes. Warnings ride on successful responses; the operation
// commits.
const (
	// WarnConflictExistingTeam: advancement would overwrite a side
	// already occupied by a different team. The side is left alone.
	WarnConflictExistingTeam = "CONFLICT_EXISTING_TEAM"

	// WarnSlotLocked: a downstream match is pinned to a pre-existing
	// team; advancement skips it.
	WarnSlotLocked = "SLOT_LOCKED"

	// WarnDownstreamAlreadyFinal: a score correction changed the winner
	// but a downstream match already played. The operator must repair it
	// manually.
	WarnDownstreamAlreadyFinal = "DOWNSTREAM_ALREADY_FINAL"

	// WarnWFR1AvoidGroupConflict: round 1 pairing could not avoid a
	// same-group meeting.
	WarnWFR1AvoidGroupConflict = "W_WF_R1_AVOID_GROUP_CONFLICT"

	// WarnWFR2AvoidGroupPotentialConflict: every round 2 wiring choice
	// risks a same-group meeting depending on round 1 outcomes.
	WarnWFR2AvoidGroupPotentialConflict = "W_WF_R2_AVOID_GROUP_POTENTIAL_CONFLICT"

	// WarnScoreParseFailed: a recorded score has no structured form;
	// standings count zero sets for the match.
	WarnScoreParseFailed = "SCORE_PARSE_FAILED"

	// WarnNoAvailableSlot: the reschedule engine could not place a
	// specific match.
	WarnNoAvailableSlot = "NO_AVAILABLE_SLOT"
)

// Warning is a non-fatal finding attached to a successful operation.
type Warning struct {
	Code    string
	Message string

	// Optional subject references, zero when not applicable.
	MatchID int64
	TeamID  int64
	SlotID  int64
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Code, w.Message)
}

// Violation codes emitted by the policy invariants verifier.
const (
	ViolationTeamOverDailyCap     = "TEAM_OVER_DAILY_CAP"
	ViolationFairnessSecondFirst  = "FAIRNESS_SECOND_BEFORE_ALL_FIRST"
	ViolationUnresolvedUpstream   = "UNRESOLVED_UPSTREAM_NOT_BEFORE"
	ViolationConsolationPartial   = "CONSOLATION_PARTIAL_ROUND"
	ViolationSpareCourt           = "SPARE_COURT_VIOLATION"
	ViolationDurationExceedsBlock = "DURATION_EXCEEDS_BLOCK"
	ViolationDoubleBookedSlot     = "DOUBLE_BOOKED_SLOT"
)

// Findings from the read-only conflict check. Always WARN severity; they
// inform the desk, never block it.
const (
	ConflictDayCapExceeded       = "DAY_CAP_EXCEEDED"
	ConflictRestWFToScoring      = "REST_WF_TO_SCORING"
	ConflictRestScoringToScoring = "REST_SCORING_TO_SCORING"
	ConflictRestWFMin            = "REST_WF_MIN"
)

const (
	SeverityError = "ERROR"
	SeverityWarn  = "WARN"
)

// InvariantViolation is one verifier or conflict-check finding.
type InvariantViolation struct {
	Code     string
	Severity string
	Message  string

	Day     string
	EventID int64
	TeamID  int64

	// MatchIDs lists the offending matches in deterministic order.
	MatchIDs []int64

	// Count/Cap quantify cap violations (e.g. DAY_CAP_EXCEEDED count=3
	// cap=2); zero otherwise.
	Count int
	Cap   int
}

func (v *InvariantViolation) String() string {
	return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Code, v.Message)
}

// InvariantReport is the verifier's structured result for one day or a full
// version, including the canonical policy hashes of the run it checked.
type InvariantReport struct {
	VersionID int64

	// Day is set for per-day reports, empty for full-version reports.
	Day string

	Violations []*InvariantViolation

	// InputHash/OutputHash fingerprint the placement inputs and the
	// assignment set, 16-hex short form.
	InputHash  string
	OutputHash string

	// CapacityTight downgrades spare-court findings to advisory: the
	// grid cannot afford spare courts when matches >= usable slots.
	CapacityTight bool
}

// Ok reports whether the report carries no ERROR-severity violations.
func (r *InvariantReport) Ok() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			return false
		}
	}
	return true
}

// ErrorCount returns the number of ERROR-severity violations.
func (r *InvariantReport) ErrorCount() int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			n++
		}
	}
	return n
}
