// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package desk

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"

	"github.com/hashicorp/courtside/courtside/structs"
)

// Match side names as they appear in downstream update reports.
const (
	SideA = "A"
	SideB = "B"
)

// DownstreamUpdate reports one side fill produced by advancement.
type DownstreamUpdate struct {
	MatchID int64
	Code    string
	Side    string
	TeamID  int64
	Role    string
}

// AdvancementResult reports an advancement recomputation.
type AdvancementResult struct {
	MatchID    int64
	Downstream []*DownstreamUpdate
	Warnings   []structs.Warning
}

// side is one fillable half of a match: its wiring and current occupant.
type side struct {
	name   string
	source int64
	role   string
	team   *int64
}

func sidesOf(m *structs.Match) [2]side {
	return [2]side{
		{name: SideA, source: m.SourceAID, role: m.SourceARole, team: &m.TeamAID},
		{name: SideB, source: m.SourceBID, role: m.SourceBRole, team: &m.TeamBID},
	}
}

// advance fans a final match's outcome into the matches wired to it. A side
// already holding the advancing team is left alone; a side holding a
// different team or belonging to a pinned match is skipped with a warning,
// never overwritten. Changed rows are written back into the view and
// returned for the caller's store transaction.
func (d *Desk) advance(view *deskView, m *structs.Match) ([]*structs.Match, []*DownstreamUpdate, []structs.Warning) {
	winner := m.WinnerTeamID
	loser := m.LoserTeamID()

	var changed []*structs.Match
	var updates []*DownstreamUpdate
	var warnings []structs.Warning

	for _, dep := range view.dependents[m.ID] {
		upd := dep.Copy()
		touched := false
		for _, s := range sidesOf(upd) {
			if s.source != m.ID {
				continue
			}
			team := winner
			if s.role == structs.RoleLoser {
				team = loser
			}
			if team == 0 || *s.team == team {
				continue
			}
			if *s.team != 0 {
				warnings = append(warnings, structs.Warning{
					Code:    structs.WarnConflictExistingTeam,
					MatchID: dep.ID,
					TeamID:  *s.team,
					Message: fmt.Sprintf("match %s side %s already holds team %d, not advancing team %d",
						dep.Code, s.name, *s.team, team),
				})
				continue
			}
			if view.matchLocks[dep.ID] != nil {
				warnings = append(warnings, structs.Warning{
					Code:    structs.WarnSlotLocked,
					MatchID: dep.ID,
					TeamID:  team,
					Message: fmt.Sprintf("match %s is pinned, not advancing team %d", dep.Code, team),
				})
				continue
			}
			*s.team = team
			touched = true
			updates = append(updates, &DownstreamUpdate{
				MatchID: dep.ID,
				Code:    dep.Code,
				Side:    s.name,
				TeamID:  team,
				Role:    s.role,
			})
		}
		if touched {
			view.put(upd)
			changed = append(changed, upd)
		}
	}
	return changed, updates, warnings
}

// retractAdvance clears the teams a previous result advanced out of m from
// every non-final downstream match. Downstream matches that already played
// are warned about and left alone; the desk corrects those by hand.
func (d *Desk) retractAdvance(view *deskView, m *structs.Match) ([]*structs.Match, []structs.Warning) {
	oldWinner := m.WinnerTeamID
	oldLoser := m.LoserTeamID()

	var changed []*structs.Match
	var warnings []structs.Warning

	for _, dep := range view.dependents[m.ID] {
		upd := dep.Copy()
		touched := false
		warned := false
		for _, s := range sidesOf(upd) {
			if s.source != m.ID {
				continue
			}
			expected := oldWinner
			if s.role == structs.RoleLoser {
				expected = oldLoser
			}
			if expected == 0 || *s.team != expected {
				continue
			}
			if dep.Final() {
				if !warned {
					warnings = append(warnings, structs.Warning{
						Code:    structs.WarnDownstreamAlreadyFinal,
						MatchID: dep.ID,
						TeamID:  expected,
						Message: fmt.Sprintf("match %s already played with team %d", dep.Code, expected),
					})
					warned = true
				}
				continue
			}
			*s.team = 0
			touched = true
		}
		if touched {
			view.put(upd)
			changed = append(changed, upd)
		}
	}
	return changed, warnings
}

// ApplyAdvancement recomputes the downstream fills of one final match from
// its current state. Idempotent: sides already advanced are untouched.
func (d *Desk) ApplyAdvancement(versionID, matchID int64) (*AdvancementResult, error) {
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
	if !m.Final() || m.WinnerTeamID == 0 {
		return nil, structs.NewErrValidation(fmt.Sprintf(
			"match %s has no final result to advance", m.Code))
	}

	changed, updates, warnings := d.advance(view, m)
	if len(changed) > 0 {
		if err := d.store.UpdateMatches(d.store.NextIndex(), versionID, changed); err != nil {
			return nil, err
		}
	}
	return &AdvancementResult{MatchID: matchID, Downstream: updates, Warnings: warnings}, nil
}

// RepairResult reports a dependency repair pass.
type RepairResult struct {
	// RewiredSides counts placeholder strings resolved into source links.
	RewiredSides int

	Downstream []*DownstreamUpdate
	Warnings   []structs.Warning
}

// ResolveAllDependencies is the maintenance pass over a version: dangling
// "WINNER:code"/"LOSER:code" placeholders are rewired into source links,
// legacy waterfall numbering on loser-side brackets is renumbered, and every
// final match re-advances so repaired wiring fills in.
func (d *Desk) ResolveAllDependencies(versionID int64) (*RepairResult, error) {
	defer metrics.MeasureSince([]string{"courtside", "desk", "repair"}, time.Now())

	view, err := d.loadView(versionID)
	if err != nil {
		return nil, err
	}
	if err := view.requireDraft(); err != nil {
		return nil, err
	}

	result := &RepairResult{}
	var rows []*structs.Match
	for _, m := range view.matches {
		upd := m.Copy()
		touched := false
		if upd.SourceAID == 0 && upd.PlaceholderA != "" {
			if srcID, role, ok := d.resolvePlaceholder(view, upd, upd.PlaceholderA); ok {
				upd.SourceAID, upd.SourceARole = srcID, role
				touched = true
				result.RewiredSides++
			}
		}
		if upd.SourceBID == 0 && upd.PlaceholderB != "" {
			if srcID, role, ok := d.resolvePlaceholder(view, upd, upd.PlaceholderB); ok {
				upd.SourceBID, upd.SourceBRole = srcID, role
				touched = true
				result.RewiredSides++
			}
		}
		if touched {
			view.put(upd)
			rows = append(rows, upd)
		}
	}
	view.relink()

	for _, m := range view.matches {
		if !m.Final() || m.WinnerTeamID == 0 {
			continue
		}
		changed, updates, warnings := d.advance(view, m)
		rows = append(rows, changed...)
		result.Downstream = append(result.Downstream, updates...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	if len(rows) > 0 {
		if err := d.store.UpdateMatches(d.store.NextIndex(), versionID, dedupRows(rows)); err != nil {
			return nil, err
		}
	}

	d.logger.Info("dependency repair finished",
		"version_id", versionID,
		"rewired_sides", result.RewiredSides,
		"downstream_updates", len(result.Downstream))
	return result, nil
}

// resolvePlaceholder maps a "WINNER:code"/"LOSER:code" placeholder onto the
// named match. Seed placeholders belong to pool confirmation and other
// shapes are left for it; unknown codes stay dangling.
func (d *Desk) resolvePlaceholder(view *deskView, m *structs.Match, placeholder string) (int64, string, bool) {
	role, code, found := strings.Cut(placeholder, ":")
	if !found || !structs.ValidRole(role) {
		return 0, "", false
	}
	code = legacyRewrite(m, code)
	src := view.byCode[code]
	if src == nil {
		d.logger.Warn("placeholder names an unknown match",
			"match", m.Code, "placeholder", placeholder)
		return 0, "", false
	}
	return src.ID, role, true
}

// legacyRewrite maps the old waterfall round-two numbering onto the losers
// track: matches 09..16 became L01..L08 when the tracks were renumbered.
// Only loser-side bracket matches carry such references.
func legacyRewrite(m *structs.Match, code string) string {
	if m.BracketLabel != structs.BracketLW && m.BracketLabel != structs.BracketLL {
		return code
	}
	const marker = "_WF_R2_"
	i := strings.LastIndex(code, marker)
	if i < 0 {
		return code
	}
	tail := code[i+len(marker):]
	if len(tail) != 3 || (tail[0] != 'W' && tail[0] != 'L') {
		return code
	}
	n, err := strconv.Atoi(tail[1:])
	if err != nil || n < 9 || n > 16 {
		return code
	}
	return fmt.Sprintf("%s%sL%02d", code[:i], marker, n-8)
}
