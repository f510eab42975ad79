// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package draw

import (
	"fmt"

	"github.com/hashicorp/go-set/v3"

	"github.com/hashicorp/courtside/courtside/state"
	"github.com/hashicorp/courtside/courtside/structs"
)

// Projection statuses. A team is confirmed once every waterfall match of
// the event is final, projected once its own record is complete, and
// pending otherwise.
const (
	ProjectionConfirmed = "confirmed"
	ProjectionProjected = "projected"
	ProjectionPending   = "pending"
)

// ProjectedTeam is one team's projected pool standing.
type ProjectedTeam struct {
	TeamID int64
	Seed   int

	// Bucket is the waterfall record, e.g. "W" or "WL".
	Bucket string

	// BucketRank is the 1-based position within the bucket by seed.
	BucketRank int

	Status string
}

// ProjectedPool is one pool's projected membership in rank order.
type ProjectedPool struct {
	Label string
	Teams []*ProjectedTeam
}

// Projection is the waterfall-to-pool projection of one event.
type Projection struct {
	EventID    int64
	VersionID  int64
	WFComplete bool
	Pools      []*ProjectedPool

	// Pending lists teams whose waterfall record is still incomplete.
	Pending []*ProjectedTeam
}

// ProjectPools computes projected pool assignments from whatever subset of
// an event's waterfall matches is final. Teams with a complete record land
// in a finishing bucket; buckets map one to one onto pools, best record
// first, ranked by seed inside the bucket.
func ProjectPools(store *state.StateStore, versionID, eventID int64) (*Projection, error) {
	event, plan, err := poolEvent(store, eventID)
	if err != nil {
		return nil, err
	}
	teams, err := store.TeamsByEvent(nil, eventID)
	if err != nil {
		return nil, err
	}
	matches, err := store.MatchesByVersionEvent(nil, versionID, eventID)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, structs.NewErrNotFound("event matches", event.ID)
	}

	records := make(map[int64][]byte, len(teams))
	for _, team := range teams {
		records[team.ID] = make([]byte, plan.WaterfallRounds)
	}

	wfTotal, wfFinal := 0, 0
	for _, m := range matches {
		if m.Type != structs.MatchTypeWF {
			continue
		}
		wfTotal++
		if !m.Final() {
			continue
		}
		wfFinal++
		if rec := records[m.WinnerTeamID]; rec != nil && m.RoundIndex <= len(rec) {
			rec[m.RoundIndex-1] = 'W'
		}
		if rec := records[m.LoserTeamID()]; rec != nil && m.RoundIndex <= len(rec) {
			rec[m.RoundIndex-1] = 'L'
		}
	}

	complete := wfTotal > 0 && wfFinal == wfTotal
	status := ProjectionProjected
	if complete {
		status = ProjectionConfirmed
	}

	proj := &Projection{
		EventID:    eventID,
		VersionID:  versionID,
		WFComplete: complete,
		Pools:      make([]*ProjectedPool, plan.PoolCount),
	}
	for p := range proj.Pools {
		proj.Pools[p] = &ProjectedPool{Label: poolLabel(p)}
	}

	// Teams arrive in seed order, so bucket ranks fall out of the append
	// order.
	for _, team := range teams {
		rec := records[team.ID]
		pt := &ProjectedTeam{TeamID: team.ID, Seed: team.Seed}
		bucket, ok := bucketOf(rec)
		if !ok {
			pt.Status = ProjectionPending
			proj.Pending = append(proj.Pending, pt)
			continue
		}
		pt.Bucket = string(rec)
		pt.Status = status
		pool := proj.Pools[bucket]
		pt.BucketRank = len(pool.Teams) + 1
		pool.Teams = append(pool.Teams, pt)
	}
	return proj, nil
}

// bucketOf maps a complete waterfall record to its bucket index, a win
// counting zero and a loss one per round. Incomplete records have no
// bucket.
func bucketOf(rec []byte) (int, bool) {
	idx := 0
	for _, c := range rec {
		idx <<= 1
		switch c {
		case 'W':
		case 'L':
			idx++
		default:
			return 0, false
		}
	}
	return idx, true
}

// PoolAssignment names the teams of one pool in final rank order.
type PoolAssignment struct {
	Label   string
	TeamIDs []int64
}

// ConfirmPools resolves an event's pool round robin placeholders to
// concrete teams. The version must be a draft and waterfall play fully
// final. Positions are rederived from the circle pairings, so reconfirming
// with a corrected assignment rewrites every side again.
func ConfirmPools(store *state.StateStore, versionID, eventID int64, pools []PoolAssignment) error {
	version, err := store.VersionByID(nil, versionID)
	if err != nil {
		return err
	}
	if version == nil {
		return structs.NewErrNotFound("schedule version", versionID)
	}
	if !version.IsDraft() {
		return structs.NewErrVersionNotDraft(versionID)
	}
	event, plan, err := poolEvent(store, eventID)
	if err != nil {
		return err
	}
	teams, err := store.TeamsByEvent(nil, eventID)
	if err != nil {
		return err
	}
	matches, err := store.MatchesByVersionEvent(nil, versionID, eventID)
	if err != nil {
		return err
	}
	for _, m := range matches {
		if m.Type == structs.MatchTypeWF && !m.Final() {
			return structs.NewErrValidation(fmt.Sprintf(
				"waterfall match %s is not final", m.Code))
		}
	}

	entered := set.New[int64](len(teams))
	for _, team := range teams {
		entered.Insert(team.ID)
	}

	byPosition := make(map[int]int64, len(teams))
	seenLabels := set.New[string](len(pools))
	seenTeams := set.New[int64](len(teams))
	for _, pa := range pools {
		p := poolIndex(pa.Label)
		if p < 0 || p >= plan.PoolCount {
			return structs.NewErrValidation(fmt.Sprintf("unknown pool %q", pa.Label))
		}
		if !seenLabels.Insert(pa.Label) {
			return structs.NewErrValidation(fmt.Sprintf("pool %q confirmed twice", pa.Label))
		}
		if len(pa.TeamIDs) != plan.PoolSize {
			return structs.NewErrValidation(fmt.Sprintf(
				"pool %q needs %d teams, got %d", pa.Label, plan.PoolSize, len(pa.TeamIDs)))
		}
		for j, teamID := range pa.TeamIDs {
			if !entered.Contains(teamID) {
				return structs.NewErrValidation(fmt.Sprintf(
					"team %d is not entered in event %q", teamID, event.Name))
			}
			if !seenTeams.Insert(teamID) {
				return structs.NewErrValidation(fmt.Sprintf(
					"team %d appears in two pools", teamID))
			}
			byPosition[p*plan.PoolSize+j+1] = teamID
		}
	}
	if seenLabels.Size() != plan.PoolCount {
		return structs.NewErrValidation(fmt.Sprintf(
			"confirmation covers %d of %d pools", seenLabels.Size(), plan.PoolCount))
	}

	rounds := roundRobinRounds(plan.PoolSize)
	var updates []*structs.Match
	for _, m := range matches {
		if m.Type != structs.MatchTypeRR {
			continue
		}
		p := poolIndex(m.BracketLabel)
		if p < 0 || m.RoundIndex > len(rounds) || m.SequenceInRound > len(rounds[m.RoundIndex-1]) {
			return structs.NewErrInternal(fmt.Sprintf(
				"pool match %s does not fit the compiled plan", m.Code))
		}
		pair := rounds[m.RoundIndex-1][m.SequenceInRound-1]

		up := m.Copy()
		up.TeamAID = byPosition[p*plan.PoolSize+pair[0]]
		up.TeamBID = byPosition[p*plan.PoolSize+pair[1]]
		up.PlaceholderA = ""
		up.PlaceholderB = ""
		updates = append(updates, up)
	}
	return store.UpdateMatches(store.NextIndex(), versionID, updates)
}

// poolEvent loads an event and checks it runs a pool template.
func poolEvent(store *state.StateStore, eventID int64) (*structs.Event, *structs.DrawPlan, error) {
	event, err := store.EventByID(nil, eventID)
	if err != nil {
		return nil, nil, err
	}
	if event == nil {
		return nil, nil, structs.NewErrNotFound("event", eventID)
	}
	plan := event.Plan
	if plan == nil || (plan.TemplateKey != structs.TemplateWFToPoolsDynamic &&
		plan.TemplateKey != structs.TemplateWFToPools4) {
		return nil, nil, structs.NewErrValidation(fmt.Sprintf(
			"event %q is not a pool draw", event.Name))
	}
	return event, plan, nil
}

// poolIndex is the inverse of poolLabel, -1 for anything else.
func poolIndex(label string) int {
	if len(label) != 1 || label[0] < 'A' || label[0] > 'Z' {
		return -1
	}
	return int(label[0] - 'A')
}
