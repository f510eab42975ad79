// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package draw

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/courtside/courtside/state"
	"github.com/hashicorp/courtside/courtside/structs"
)

// Generator turns compiled draw plans into stored match graphs.
type Generator struct {
	store  *state.StateStore
	logger hclog.Logger
}

func NewGenerator(store *state.StateStore, logger hclog.Logger) *Generator {
	return &Generator{
		store:  store,
		logger: logger.Named("draw"),
	}
}

// GenerateResult reports one generation run.
type GenerateResult struct {
	EventID  int64
	Matches  []*structs.Match
	Warnings []structs.Warning
}

// Generate builds the event's full match graph in the given draft version,
// replacing any earlier generation along with its assignments and locks.
// Identical inputs produce identical codes and identical wiring; only the
// stored ids are fresh on each run.
func (g *Generator) Generate(versionID, eventID int64) (*GenerateResult, error) {
	event, err := g.store.EventByID(nil, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, structs.NewErrNotFound("event", eventID)
	}
	if event.Plan == nil {
		return nil, structs.NewErrValidation(fmt.Sprintf(
			"event %q has no compiled draw plan", event.Name))
	}
	version, err := g.store.VersionByID(nil, versionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, structs.NewErrNotFound("schedule version", versionID)
	}
	if version.TournamentID != event.TournamentID {
		return nil, structs.NewErrValidation(fmt.Sprintf(
			"version %d and event %q belong to different tournaments", versionID, event.Name))
	}
	teams, err := g.store.TeamsByEvent(nil, eventID)
	if err != nil {
		return nil, err
	}
	if len(teams) != event.TeamCount {
		return nil, structs.NewErrValidation(fmt.Sprintf(
			"event %q declares %d teams but %d are entered", event.Name, event.TeamCount, len(teams)))
	}

	b := &builder{
		store:   g.store,
		event:   event,
		version: versionID,
		prefix:  event.CodePrefix(),
	}

	var warnings []structs.Warning
	switch event.Plan.TemplateKey {
	case structs.TemplateRROnly:
		b.buildRoundRobin(teams)
	case structs.TemplateWFToPoolsDynamic, structs.TemplateWFToPools4:
		warnings, err = b.buildWaterfallPools(teams)
	case structs.TemplateWFToBrackets8:
		warnings, err = b.buildWaterfallBrackets(teams)
	default:
		err = structs.NewErrValidation(fmt.Sprintf(
			"unknown draw template %q", event.Plan.TemplateKey))
	}
	if err != nil {
		return nil, err
	}

	if err := checkInventory(event.Plan, b.matches); err != nil {
		return nil, err
	}
	if err := g.store.ReplaceEventMatches(g.store.NextIndex(), versionID, eventID, b.matches); err != nil {
		return nil, err
	}

	g.logger.Info("generated event draw",
		"event", event.Name, "version", versionID,
		"template", event.Plan.TemplateKey,
		"matches", len(b.matches), "warnings", len(warnings))

	return &GenerateResult{
		EventID:  eventID,
		Matches:  b.matches,
		Warnings: warnings,
	}, nil
}

// builder accumulates the match graph of a single event generation. Ids
// come off the store counter as matches are created so later stages can
// reference earlier ones before anything is written.
type builder struct {
	store   *state.StateStore
	event   *structs.Event
	version int64
	prefix  string
	matches []*structs.Match
}

func (b *builder) newMatch(matchType, code string, round, seq int) *structs.Match {
	m := &structs.Match{
		ID:              b.store.NextID(),
		TournamentID:    b.event.TournamentID,
		EventID:         b.event.ID,
		VersionID:       b.version,
		Code:            code,
		Type:            matchType,
		RoundIndex:      round,
		SequenceInRound: seq,
		DurationMinutes: b.event.DurationForType(matchType),
		Status:          structs.MatchStatusScheduled,
	}
	b.matches = append(b.matches, m)
	return m
}

// wireA fills side A from a stream slot: a concrete team, or a placeholder
// plus source link on the feed match.
func (b *builder) wireA(m *structs.Match, s streamSlot) {
	if s.team != nil {
		m.TeamAID = s.team.ID
		return
	}
	m.PlaceholderA = s.role + ":" + s.src.Code
	m.SourceAID = s.src.ID
	m.SourceARole = s.role
}

func (b *builder) wireB(m *structs.Match, s streamSlot) {
	if s.team != nil {
		m.TeamBID = s.team.ID
		return
	}
	m.PlaceholderB = s.role + ":" + s.src.Code
	m.SourceBID = s.src.ID
	m.SourceBRole = s.role
}

// buildRoundRobin emits a single round robin over the whole field. Teams
// are known up front, so sides are concrete.
func (b *builder) buildRoundRobin(teams []*structs.Team) {
	for r, pairs := range roundRobinRounds(len(teams)) {
		for i, pair := range pairs {
			m := b.newMatch(structs.MatchTypeRR,
				fmt.Sprintf("%s_RR_R%d_M%02d", b.prefix, r+1, i+1), r+1, i+1)
			m.TeamAID = teams[pair[0]-1].ID
			m.TeamBID = teams[pair[1]-1].ID
		}
	}
}

// buildWaterfall emits the waterfall rounds and returns the round one and
// round two match lists downstream stages feed from. Round two sequences
// run winner track first, then loser track.
func (b *builder) buildWaterfall(teams []*structs.Team) (r1, r2w, r2l []*structs.Match, warnings []structs.Warning, err error) {
	pairs, warnings, err := SolveWFRound1(teams)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	for i, pair := range pairs {
		m := b.newMatch(structs.MatchTypeWF,
			fmt.Sprintf("%s_WF_R1_M%02d", b.prefix, i+1), 1, i+1)
		m.TeamAID = pair.TeamA.ID
		m.TeamBID = pair.TeamB.ID
		r1 = append(r1, m)
	}
	if b.event.Plan.WaterfallRounds < 2 {
		return r1, nil, nil, warnings, nil
	}

	teamsByID := make(map[int64]*structs.Team, len(teams))
	for _, team := range teams {
		teamsByID[team.ID] = team
	}
	wPairs, lPairs, r2Warnings := PairWFRound2(r1, teamsByID)
	warnings = append(warnings, r2Warnings...)

	seq := 0
	for _, pair := range wPairs {
		seq++
		m := b.newMatch(structs.MatchTypeWF,
			fmt.Sprintf("%s_WF_R2_M%02d", b.prefix, seq), 2, seq)
		b.wireA(m, fromMatch(pair.A, structs.RoleWinner))
		b.wireB(m, fromMatch(pair.B, structs.RoleWinner))
		r2w = append(r2w, m)
	}
	for _, pair := range lPairs {
		seq++
		m := b.newMatch(structs.MatchTypeWF,
			fmt.Sprintf("%s_WF_R2_M%02d", b.prefix, seq), 2, seq)
		b.wireA(m, fromMatch(pair.A, structs.RoleLoser))
		b.wireB(m, fromMatch(pair.B, structs.RoleLoser))
		r2l = append(r2l, m)
	}
	return r1, r2w, r2l, warnings, nil
}

// buildWaterfallPools emits the waterfall rounds plus pool round robins
// with SEED_N placeholder sides. Pool confirmation resolves the
// placeholders once waterfall play is final.
func (b *builder) buildWaterfallPools(teams []*structs.Team) ([]structs.Warning, error) {
	_, _, _, warnings, err := b.buildWaterfall(teams)
	if err != nil {
		return nil, err
	}

	plan := b.event.Plan
	for p := 0; p < plan.PoolCount; p++ {
		label := poolLabel(p)
		for r, pairs := range roundRobinRounds(plan.PoolSize) {
			for i, pair := range pairs {
				m := b.newMatch(structs.MatchTypeRR,
					fmt.Sprintf("%s_POOL%s_R%d_M%02d", b.prefix, label, r+1, i+1), r+1, i+1)
				m.BracketLabel = label
				m.PlaceholderA = seedPlaceholder(p*plan.PoolSize + pair[0])
				m.PlaceholderB = seedPlaceholder(p*plan.PoolSize + pair[1])
			}
		}
	}
	return warnings, nil
}

// buildWaterfallBrackets emits the waterfall rounds, orders their outputs
// into the bracket stream, and cuts the stream into the preset brackets.
func (b *builder) buildWaterfallBrackets(teams []*structs.Team) ([]structs.Warning, error) {
	plan := b.event.Plan

	var r1, r2w, r2l []*structs.Match
	var warnings []structs.Warning
	if plan.WaterfallRounds > 0 {
		var err error
		r1, r2w, r2l, warnings, err = b.buildWaterfall(teams)
		if err != nil {
			return nil, err
		}
	}

	stream := buildStream(plan.WaterfallRounds, teams, r1, r2w, r2l)
	labels := bracketLabels(len(plan.BracketSizes))
	guarantee := b.event.Guarantee
	if guarantee == 0 {
		guarantee = 4
	}

	offset := 0
	for i, size := range plan.BracketSizes {
		if err := b.buildBracket(labels[i], stream[offset:offset+size], guarantee); err != nil {
			return nil, err
		}
		offset += size
	}
	return warnings, nil
}

// checkInventory counts the generated matches per stage against the plan.
// A mismatch means the compiler and the presets disagree and nothing is
// written.
func checkInventory(plan *structs.DrawPlan, matches []*structs.Match) error {
	counts := make(map[string]int, len(plan.Inventory))
	for _, m := range matches {
		counts[m.Type]++
	}
	for stage, want := range plan.Inventory {
		if counts[stage] != want {
			return structs.NewErrInternal(fmt.Sprintf(
				"stage %s generated %d matches, plan expects %d", stage, counts[stage], want))
		}
	}
	for stage, got := range counts {
		if _, ok := plan.Inventory[stage]; !ok {
			return structs.NewErrInternal(fmt.Sprintf(
				"stage %s generated %d matches, plan expects none", stage, got))
		}
	}
	return nil
}

// poolLabel converts a 0-based pool index to its letter label.
func poolLabel(i int) string {
	return string(rune('A' + i))
}

// seedPlaceholder is the unresolved-side marker for global pool position n.
func seedPlaceholder(n int) string {
	return fmt.Sprintf("SEED_%d", n)
}
