// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package desk

import (
	"fmt"

	"github.com/hashicorp/courtside/courtside/structs"
)

// BulkResult reports the matches a bulk operation transitioned, in id order.
type BulkResult struct {
	MatchIDs []int64
}

// PauseAll pauses every in-progress match of the version. Rain call.
func (d *Desk) PauseAll(versionID int64) (*BulkResult, error) {
	view, err := d.loadView(versionID)
	if err != nil {
		return nil, err
	}
	if err := view.requireDraft(); err != nil {
		return nil, err
	}
	return d.transitionAll(view, structs.MatchStatusInProgress, structs.MatchStatusPaused, nil)
}

// ResumeAll returns every paused match to play.
func (d *Desk) ResumeAll(versionID int64) (*BulkResult, error) {
	view, err := d.loadView(versionID)
	if err != nil {
		return nil, err
	}
	if err := view.requireDraft(); err != nil {
		return nil, err
	}
	return d.transitionAll(view, structs.MatchStatusPaused, structs.MatchStatusInProgress, nil)
}

// DelayAfter marks every scheduled match starting at or after the HH:MM
// threshold as delayed, across the whole version or one day.
func (d *Desk) DelayAfter(versionID int64, clock, day string) (*BulkResult, error) {
	threshold, err := structs.ParseClock(clock)
	if err != nil {
		return nil, err
	}
	view, err := d.loadView(versionID)
	if err != nil {
		return nil, err
	}
	if err := view.requireDraft(); err != nil {
		return nil, err
	}
	if day != "" && view.tour.Day(day) == nil {
		return nil, structs.NewErrValidation(fmt.Sprintf(
			"day %s is not an active day of tournament %q", day, view.tour.Name))
	}
	keep := func(m *structs.Match, slot *structs.ScheduleSlot) bool {
		if slot == nil {
			return false
		}
		if day != "" && slot.Day != day {
			return false
		}
		return slot.StartMin >= threshold
	}
	return d.transitionAll(view, structs.MatchStatusScheduled, structs.MatchStatusDelayed, keep)
}

// Undelay returns every delayed match to SCHEDULED.
func (d *Desk) Undelay(versionID int64) (*BulkResult, error) {
	view, err := d.loadView(versionID)
	if err != nil {
		return nil, err
	}
	if err := view.requireDraft(); err != nil {
		return nil, err
	}
	return d.transitionAll(view, structs.MatchStatusDelayed, structs.MatchStatusScheduled, nil)
}

// transitionAll flips every match in the from status (passing the keep
// filter) to the to status in one transaction.
func (d *Desk) transitionAll(view *deskView, from, to string, keep func(*structs.Match, *structs.ScheduleSlot) bool) (*BulkResult, error) {
	result := &BulkResult{}
	var rows []*structs.Match
	for _, m := range view.matches {
		if m.Status != from {
			continue
		}
		if keep != nil && !keep(m, view.slotOf[m.ID]) {
			continue
		}
		upd := m.Copy()
		upd.Status = to
		if to == structs.MatchStatusInProgress && upd.StartedAt.IsZero() {
			upd.StartedAt = d.clock.Now().UTC()
		}
		rows = append(rows, upd)
		result.MatchIDs = append(result.MatchIDs, m.ID)
	}
	if len(rows) > 0 {
		if err := d.store.UpdateMatches(d.store.NextIndex(), view.version.ID, rows); err != nil {
			return nil, err
		}
	}
	return result, nil
}
