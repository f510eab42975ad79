// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package desk

import (
	"fmt"
	"sort"

	"github.com/hashicorp/courtside/courtside/structs"
)

// ConflictReport is the desk's read-only policy scan. Every finding is WARN
// severity: the desk sees cap and rest pressure as it builds, nothing
// blocks.
type ConflictReport struct {
	VersionID int64
	Findings  []*structs.InvariantViolation
}

// ConflictCheck scans the version's assignments for daily cap overruns and
// rest floor gaps per team. Played matches count toward the caps; a team
// that finished two matches is still done for the day.
func (d *Desk) ConflictCheck(versionID int64) (*ConflictReport, error) {
	view, err := d.loadView(versionID)
	if err != nil {
		return nil, err
	}
	events, err := d.store.EventsByTournament(nil, view.tour.ID)
	if err != nil {
		return nil, err
	}
	eventByID := make(map[int64]*structs.Event, len(events))
	for _, e := range events {
		eventByID[e.ID] = e
	}

	firstDay := view.tour.Days[0].Day
	lastDay := view.tour.LastDay()
	midDay := func(day string) bool { return day > firstDay && day < lastDay }

	report := &ConflictReport{VersionID: versionID}
	byTeam := view.teamStints()

	teamIDs := make([]int64, 0, len(byTeam))
	for teamID := range byTeam {
		teamIDs = append(teamIDs, teamID)
	}
	sort.Slice(teamIDs, func(i, j int) bool { return teamIDs[i] < teamIDs[j] })

	for _, teamID := range teamIDs {
		days := make([]string, 0, len(byTeam[teamID]))
		for day := range byTeam[teamID] {
			days = append(days, day)
		}
		sort.Strings(days)

		for _, day := range days {
			stints := byTeam[teamID][day]
			eventID := stints[0].m.EventID

			dayCap := d.config.DailyCap
			if e := eventByID[eventID]; e != nil && e.Plan != nil &&
				e.Plan.TemplateKey == structs.TemplateRROnly && midDay(day) {
				dayCap = d.config.DailyCapRROnly
			}
			if len(stints) > dayCap {
				matchIDs := make([]int64, len(stints))
				for i, st := range stints {
					matchIDs[i] = st.m.ID
				}
				report.Findings = append(report.Findings, &structs.InvariantViolation{
					Code:     structs.ConflictDayCapExceeded,
					Severity: structs.SeverityWarn,
					Day:      day,
					EventID:  eventID,
					TeamID:   teamID,
					MatchIDs: matchIDs,
					Count:    len(stints),
					Cap:      dayCap,
					Message: fmt.Sprintf("team %d plays %d matches on %s, cap is %d",
						teamID, len(stints), day, dayCap),
				})
			}

			for i := 1; i < len(stints); i++ {
				prev, next := stints[i-1], stints[i]
				gap := next.slot.StartMin - prev.playEnd()
				code, need := d.restRule(prev.m, next.m)
				if gap >= need {
					continue
				}
				report.Findings = append(report.Findings, &structs.InvariantViolation{
					Code:     code,
					Severity: structs.SeverityWarn,
					Day:      day,
					EventID:  next.m.EventID,
					TeamID:   teamID,
					MatchIDs: []int64{prev.m.ID, next.m.ID},
					Count:    gap,
					Cap:      need,
					Message: fmt.Sprintf("team %d has %d minutes between %s and %s, needs %d",
						teamID, gap, prev.m.Code, next.m.Code, need),
				})
			}
		}
	}

	sort.SliceStable(report.Findings, func(i, j int) bool {
		a, b := report.Findings[i], report.Findings[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		if a.TeamID != b.TeamID {
			return a.TeamID < b.TeamID
		}
		return a.MatchIDs[0] < b.MatchIDs[0]
	})
	return report, nil
}
