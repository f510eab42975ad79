// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package desk

import (
	"fmt"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"
	"github.com/mitchellh/hashstructure"

	"github.com/hashicorp/courtside/courtside/structs"
)

// statusGraph lists the legal desk transitions. FINAL is reachable only
// through finalize and is terminal for status; cancelled matches can be
// reinstated.
var statusGraph = map[string][]string{
	structs.MatchStatusScheduled: {
		structs.MatchStatusInProgress,
		structs.MatchStatusDelayed,
		structs.MatchStatusCancelled,
	},
	structs.MatchStatusDelayed: {
		structs.MatchStatusScheduled,
		structs.MatchStatusInProgress,
		structs.MatchStatusCancelled,
	},
	structs.MatchStatusInProgress: {
		structs.MatchStatusPaused,
	},
	structs.MatchStatusPaused: {
		structs.MatchStatusInProgress,
	},
	structs.MatchStatusCancelled: {
		structs.MatchStatusScheduled,
	},
}

func legalTransition(from, to string) bool {
	for _, next := range statusGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SetStatus applies one runtime transition to a match. Entering IN_PROGRESS
// stamps the start time on first entry.
func (d *Desk) SetStatus(versionID, matchID int64, status string) (*structs.Match, error) {
	if !structs.ValidMatchStatus(status) {
		return nil, structs.NewErrValidation(fmt.Sprintf("unknown status %q", status))
	}
	if status == structs.MatchStatusFinal {
		return nil, structs.NewErrValidation("matches reach FINAL through finalize")
	}

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
	if m.Status == status {
		return m, nil
	}
	if !legalTransition(m.Status, status) {
		return nil, structs.NewErrValidation(fmt.Sprintf(
			"match %s cannot move %s -> %s", m.Code, m.Status, status))
	}

	updated := m.Copy()
	updated.Status = status
	if status == structs.MatchStatusInProgress && updated.StartedAt.IsZero() {
		updated.StartedAt = d.clock.Now().UTC()
	}
	if err := d.store.UpdateMatches(d.store.NextIndex(), versionID, []*structs.Match{updated}); err != nil {
		return nil, err
	}
	return updated, nil
}

// FinalizeRequest is the desk's finalize payload. Score may be nil when
// Default or Retired is set; a stylized result is synthesized then. Correct
// permits changing the recorded result of an already final match.
type FinalizeRequest struct {
	WinnerTeamID int64
	Score        *structs.Score
	Default      bool
	Retired      bool
	Correct      bool
}

// FinalizeResult reports a finalize: the updated match, the advancement
// fanout, and the match auto-started to keep the court busy. NoOp marks a
// re-finalize with an identical result.
type FinalizeResult struct {
	Match         *structs.Match
	NoOp          bool
	Downstream    []*DownstreamUpdate
	AutoStartedID int64
	Warnings      []structs.Warning
}

// FinalizeMatch records a result: the winner must be one of the resolved
// sides, the score comes from the request or the default/retired synthesis,
// and the downstream draw fills in the same transaction. Re-finalizing with
// an identical result is a no-op; a differing result is a conflict unless
// the request corrects explicitly. After the write the next unstarted match
// on the same court flips to IN_PROGRESS; auto-start failure is non-fatal.
func (d *Desk) FinalizeMatch(versionID, matchID int64, req *FinalizeRequest) (*FinalizeResult, error) {
	defer metrics.MeasureSince([]string{"courtside", "desk", "finalize"}, time.Now())

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
	if !m.Resolved() {
		return nil, structs.NewErrValidation(fmt.Sprintf(
			"match %s sides are not resolved", m.Code))
	}
	if !m.HasTeam(req.WinnerTeamID) {
		return nil, structs.NewErrValidation(fmt.Sprintf(
			"team %d does not play in match %s", req.WinnerTeamID, m.Code))
	}

	score, err := finalizeScore(m, req)
	if err != nil {
		return nil, err
	}

	if m.Final() {
		same, err := sameResult(m, req.WinnerTeamID, score)
		if err != nil {
			return nil, err
		}
		if same {
			return &FinalizeResult{Match: m, NoOp: true}, nil
		}
		if !req.Correct {
			return nil, structs.NewErrConflict(fmt.Sprintf(
				"match %s is already final with a different result", m.Code))
		}
		return d.correctResult(view, m, req.WinnerTeamID, score)
	}

	updated := m.Copy()
	updated.Status = structs.MatchStatusFinal
	updated.WinnerTeamID = req.WinnerTeamID
	updated.Score = score
	updated.CompletedAt = d.clock.Now().UTC()
	view.put(updated)

	changed, downstream, warnings := d.advance(view, updated)
	rows := append([]*structs.Match{updated}, changed...)
	if err := d.store.UpdateMatches(d.store.NextIndex(), versionID, rows); err != nil {
		return nil, err
	}

	result := &FinalizeResult{
		Match:      updated,
		Downstream: downstream,
		Warnings:   warnings,
	}
	result.AutoStartedID = d.autoStart(view, updated)
	return result, nil
}

// correctResult rewrites an already-final result. A changed winner clears
// the previously advanced teams from every non-final downstream match and
// warns about the final ones, then advancement reruns for the new winner.
func (d *Desk) correctResult(view *deskView, m *structs.Match, winnerID int64, score *structs.Score) (*FinalizeResult, error) {
	winnerChanged := m.WinnerTeamID != winnerID

	updated := m.Copy()
	updated.WinnerTeamID = winnerID
	updated.Score = score

	var warnings []structs.Warning
	var changed []*structs.Match
	if winnerChanged {
		changed, warnings = d.retractAdvance(view, m)
	}
	view.put(updated)

	advanced, downstream, advWarnings := d.advance(view, updated)
	warnings = append(warnings, advWarnings...)

	rows := append([]*structs.Match{updated}, changed...)
	rows = append(rows, advanced...)
	if err := d.store.UpdateMatches(d.store.NextIndex(), view.version.ID, dedupRows(rows)); err != nil {
		return nil, err
	}

	return &FinalizeResult{
		Match:      updated,
		Downstream: downstream,
		Warnings:   warnings,
	}, nil
}

// autoStart flips the next unstarted match on the finalized match's court to
// IN_PROGRESS. Failure is logged, never returned: the desk can start the
// match by hand.
func (d *Desk) autoStart(view *deskView, final *structs.Match) int64 {
	slot := view.slotOf[final.ID]
	if slot == nil {
		return 0
	}

	var next *structs.Match
	var nextSlot *structs.ScheduleSlot
	for id, s := range view.slotOf {
		if s.Day != slot.Day || s.CourtNumber != slot.CourtNumber || s.StartMin <= slot.StartMin {
			continue
		}
		m := view.matchByID[id]
		if m == nil || m.Status != structs.MatchStatusScheduled {
			continue
		}
		if nextSlot == nil || s.StartMin < nextSlot.StartMin {
			next, nextSlot = m, s
		}
	}
	if next == nil {
		return 0
	}

	started := next.Copy()
	started.Status = structs.MatchStatusInProgress
	if started.StartedAt.IsZero() {
		started.StartedAt = d.clock.Now().UTC()
	}
	if err := d.store.UpdateMatches(d.store.NextIndex(), view.version.ID, []*structs.Match{started}); err != nil {
		metrics.IncrCounter([]string{"courtside", "desk", "auto_start_failed"}, 1)
		d.logger.Warn("auto-start failed", "match", next.Code, "error", err)
		return 0
	}
	view.put(started)
	return started.ID
}

// finalizeScore resolves the recorded score for a finalize request. Default
// results synthesize the stylized walkover score from the match duration.
func finalizeScore(m *structs.Match, req *FinalizeRequest) (*structs.Score, error) {
	score := req.Score.Copy()
	if score == nil {
		switch {
		case req.Default:
			score = structs.DefaultScoreForDuration(m.DurationMinutes)
		case req.Retired:
			score = &structs.Score{Retired: true}
		default:
			return nil, structs.NewErrValidation(fmt.Sprintf(
				"match %s needs a score or a default/retired flag", m.Code))
		}
	}
	if req.Default {
		score.Default = true
	}
	if req.Retired {
		score.Retired = true
	}
	if len(score.Sets) == 0 {
		if sets, ok := structs.ParseScoreDisplay(score.Display); ok {
			score.Sets = sets
		}
	}
	return score, nil
}

// resultFingerprint identifies a recorded result for idempotence checks.
type resultFingerprint struct {
	WinnerTeamID int64
	Display      string
	Sets         []structs.SetScore
	Default      bool
	Retired      bool
}

// sameResult reports whether the stored result matches the incoming one,
// comparing canonical fingerprints so display-only and parsed forms of the
// same score agree.
func sameResult(m *structs.Match, winnerID int64, score *structs.Score) (bool, error) {
	stored, err := fingerprint(m.WinnerTeamID, m.Score)
	if err != nil {
		return false, err
	}
	incoming, err := fingerprint(winnerID, score)
	if err != nil {
		return false, err
	}
	return stored == incoming, nil
}

func fingerprint(winnerID int64, score *structs.Score) (uint64, error) {
	fp := resultFingerprint{WinnerTeamID: winnerID}
	if score != nil {
		fp.Display = score.Display
		fp.Default = score.Default
		fp.Retired = score.Retired
		if sets, ok := score.ParseSets(); ok {
			fp.Sets = sets
		}
	}
	hash, err := hashstructure.Hash(fp, nil)
	if err != nil {
		return 0, structs.NewErrInternal(fmt.Sprintf("result fingerprint failed: %v", err))
	}
	return hash, nil
}

// dedupRows keeps the last version of each match row, preserving first-seen
// order.
func dedupRows(rows []*structs.Match) []*structs.Match {
	latest := make(map[int64]*structs.Match, len(rows))
	order := make([]int64, 0, len(rows))
	for _, row := range rows {
		if _, seen := latest[row.ID]; !seen {
			order = append(order, row.ID)
		}
		latest[row.ID] = row
	}
	out := make([]*structs.Match, len(order))
	for i, id := range order {
		out[i] = latest[id]
	}
	return out
}
