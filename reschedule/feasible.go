// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package reschedule

import (
	"fmt"
	"sort"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"
	"github.com/hashicorp/go-set/v3"

	"github.com/hashicorp/courtside/courtside/structs"
)

// FormatFit is one scoring format's line of a feasibility report.
type FormatFit struct {
	Format string

	// MatchMinutes is the format's block duration.
	MatchMinutes int

	// NeededMinutes is the affected match count times the duration;
	// AvailableMinutes sums the free block minutes outside the zone.
	NeededMinutes    int
	AvailableMinutes int

	Fits bool

	// Utilization is needed over available, zero when nothing is free.
	Utilization float64
}

// FeasibilityReport is the capacity answer for one disruption: per scoring
// format, whether the displaced program fits in the surviving free slots.
type FeasibilityReport struct {
	VersionID int64
	Mode      string
	Day       string

	LostSlotCount int
	AffectedCount int

	Formats []*FormatFit

	Warnings []structs.Warning
}

// Feasibility weighs the affected match count against the free minutes
// outside the zone, once per scoring format. Nothing is placed; dependency
// and rest rules are the preview's concern.
func (e *Engine) Feasibility(versionID int64, req *Request) (*FeasibilityReport, error) {
	defer metrics.MeasureSince([]string{"courtside", "reschedule", "feasibility"}, time.Now())

	in, err := e.loadInputs(versionID)
	if err != nil {
		return nil, err
	}
	zone, err := parseRequest(in.tour, req)
	if err != nil {
		return nil, err
	}

	lost := lostSlots(in, zone)
	movable, warnings := e.affectedMatches(in, zone)

	available := 0
	for _, slot := range in.slots {
		if !slot.Active || in.blocked.Contains(slot.ID) || zone.contains(slot) {
			continue
		}
		if _, taken := in.slotTaken[slot.ID]; taken {
			continue
		}
		available += slot.BlockMinutes
	}

	report := &FeasibilityReport{
		VersionID:     versionID,
		Mode:          req.Mode,
		Day:           req.Day,
		LostSlotCount: len(lost),
		AffectedCount: len(movable),
		Warnings:      warnings,
	}
	for _, format := range []string{
		structs.ScoringFormatRegular,
		structs.ScoringFormatProSet8,
		structs.ScoringFormatProSet4,
	} {
		minutes, err := structs.ScoringFormatMinutes(format)
		if err != nil {
			return nil, err
		}
		fit := &FormatFit{
			Format:           format,
			MatchMinutes:     minutes,
			NeededMinutes:    len(movable) * minutes,
			AvailableMinutes: available,
		}
		if available > 0 {
			fit.Fits = fit.NeededMinutes <= available
			fit.Utilization = float64(fit.NeededMinutes) / float64(available)
		} else {
			fit.Fits = fit.NeededMinutes == 0
		}
		report.Formats = append(report.Formats, fit)
	}
	return report, nil
}

// ImpactReport summarizes who a disruption touches before anyone commits
// to a repair.
type ImpactReport struct {
	VersionID int64
	Mode      string
	Day       string

	LostSlotIDs []int64

	// MatchIDs lists the unplayed matches assigned in the zone by
	// original slot time, locked ones included.
	MatchIDs []int64

	// TeamIDs and EventIDs are the distinct teams and events behind the
	// affected matches, ascending.
	TeamIDs  []int64
	EventIDs []int64

	Warnings []structs.Warning
}

// Impact reports the blast radius of a disruption: the slots it removes
// and the matches, teams and events sitting on them.
func (e *Engine) Impact(versionID int64, req *Request) (*ImpactReport, error) {
	defer metrics.MeasureSince([]string{"courtside", "reschedule", "impact"}, time.Now())

	in, err := e.loadInputs(versionID)
	if err != nil {
		return nil, err
	}
	zone, err := parseRequest(in.tour, req)
	if err != nil {
		return nil, err
	}

	report := &ImpactReport{
		VersionID: versionID,
		Mode:      req.Mode,
		Day:       req.Day,
	}
	teams := set.New[int64](8)
	events := set.New[int64](4)

	for _, slot := range lostSlots(in, zone) {
		report.LostSlotIDs = append(report.LostSlotIDs, slot.ID)

		matchID, taken := in.slotTaken[slot.ID]
		if !taken {
			continue
		}
		m := in.matchByID[matchID]
		if m == nil || m.Final() || m.Status == structs.MatchStatusCancelled {
			continue
		}
		report.MatchIDs = append(report.MatchIDs, m.ID)
		events.Insert(m.EventID)
		for _, teamID := range m.TeamIDs() {
			teams.Insert(teamID)
		}
		if a := in.assignmentOf[m.ID]; a != nil && a.Locked {
			report.Warnings = append(report.Warnings, structs.Warning{
				Code:    structs.WarnSlotLocked,
				Message: fmt.Sprintf("match %s is locked to lost slot %d", m.Code, slot.ID),
				MatchID: m.ID,
				SlotID:  slot.ID,
			})
		}
	}

	report.TeamIDs = teams.Slice()
	sort.Slice(report.TeamIDs, func(i, j int) bool { return report.TeamIDs[i] < report.TeamIDs[j] })
	report.EventIDs = events.Slice()
	sort.Slice(report.EventIDs, func(i, j int) bool { return report.EventIDs[i] < report.EventIDs[j] })
	return report, nil
}
