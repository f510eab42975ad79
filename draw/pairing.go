// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package draw

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-set/v3"

	"github.com/hashicorp/courtside/courtside/structs"
)

// WFPairing is one waterfall round one match-up. TeamA is the top-half
// seed.
type WFPairing struct {
	TeamA *structs.Team
	TeamB *structs.Team
}

// SolveWFRound1 pairs a seeded field for waterfall round one: a half-split
// (seed i against seed i+n/2) adjusted by a local search that swaps
// bottom-half opponents while doing so removes avoid-group meetings. Teams
// carrying a WFGroupIndex are paired inside their own partition, in
// partition order. Meetings no swap can remove come back as warnings, not
// errors.
func SolveWFRound1(teams []*structs.Team) ([]WFPairing, []structs.Warning, error) {
	byPartition := make(map[int][]*structs.Team)
	for _, team := range teams {
		byPartition[team.WFGroupIndex] = append(byPartition[team.WFGroupIndex], team)
	}
	indexes := make([]int, 0, len(byPartition))
	for idx := range byPartition {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var pairings []WFPairing
	var warnings []structs.Warning
	for _, idx := range indexes {
		part := byPartition[idx]
		if len(part)%2 != 0 {
			return nil, nil, structs.NewErrValidation(fmt.Sprintf(
				"waterfall partition %d has an odd team count %d", idx, len(part)))
		}
		sort.Slice(part, func(i, j int) bool { return part[i].Seed < part[j].Seed })

		for _, pair := range solveHalfSplit(part) {
			if sameAvoidGroup(pair.TeamA, pair.TeamB) {
				warnings = append(warnings, structs.Warning{
					Code:   structs.WarnWFR1AvoidGroupConflict,
					TeamID: pair.TeamA.ID,
					Message: fmt.Sprintf("%s and %s share avoid group %q",
						pair.TeamA.Name, pair.TeamB.Name, pair.TeamA.AvoidGroup),
				})
			}
			pairings = append(pairings, pair)
		}
	}
	return pairings, warnings, nil
}

// solveHalfSplit pairs the top half against the bottom half, then swaps
// bottom-half opponents for as long as a swap strictly lowers the
// avoid-group meeting count. First-improvement scanning in seed order keeps
// the result deterministic and as close to the plain half-split as the
// conflicts allow.
func solveHalfSplit(teams []*structs.Team) []WFPairing {
	half := len(teams) / 2
	top, bottom := teams[:half], teams[half:]

	opp := make([]int, half)
	for i := range opp {
		opp[i] = i
	}
	conflicted := func(i, j int) bool {
		return sameAvoidGroup(top[i], bottom[j])
	}

	for improved := true; improved; {
		improved = false
		for i := 0; i < half && !improved; i++ {
			for j := i + 1; j < half && !improved; j++ {
				if !conflicted(i, opp[i]) && !conflicted(j, opp[j]) {
					continue
				}
				before := meetings(conflicted(i, opp[i]), conflicted(j, opp[j]))
				after := meetings(conflicted(i, opp[j]), conflicted(j, opp[i]))
				if after < before {
					opp[i], opp[j] = opp[j], opp[i]
					improved = true
				}
			}
		}
	}

	pairs := make([]WFPairing, half)
	for i := range pairs {
		pairs[i] = WFPairing{TeamA: top[i], TeamB: bottom[opp[i]]}
	}
	return pairs
}

func meetings(conflicts ...bool) int {
	n := 0
	for _, c := range conflicts {
		if c {
			n++
		}
	}
	return n
}

func sameAvoidGroup(a, b *structs.Team) bool {
	return a.AvoidGroup != "" && a.AvoidGroup == b.AvoidGroup
}

// WFSourcePair names two round one matches whose outcomes meet in round
// two: winners on the winner track, losers on the loser track.
type WFSourcePair struct {
	A *structs.Match
	B *structs.Match
}

// blockSplits are the three ways four round one matches can feed two round
// two pairings. The adjacent split comes first and wins ties.
var blockSplits = [3][2][2]int{
	{{0, 1}, {2, 3}},
	{{0, 2}, {1, 3}},
	{{0, 3}, {1, 2}},
}

// PairWFRound2 wires waterfall round two from round one. Within each block
// of four consecutive round one matches the three possible splits are
// scored on potential avoid-group meetings, counting a group present on
// both sides of a candidate pairing whichever teams advance, and the best
// split is kept for winners and losers alike. The round one list must have
// even length; a trailing block of two pairs directly.
func PairWFRound2(r1 []*structs.Match, teams map[int64]*structs.Team) (winners, losers []WFSourcePair, warnings []structs.Warning) {
	groups := make([]*set.Set[string], len(r1))
	for i, m := range r1 {
		groups[i] = matchAvoidGroups(m, teams)
	}

	wire := func(a, b int) {
		winners = append(winners, WFSourcePair{A: r1[a], B: r1[b]})
		losers = append(losers, WFSourcePair{A: r1[a], B: r1[b]})

		if shared := groups[a].Intersect(groups[b]); shared.Size() > 0 {
			names := shared.Slice()
			sort.Strings(names)
			warnings = append(warnings, structs.Warning{
				Code:    structs.WarnWFR2AvoidGroupPotentialConflict,
				MatchID: r1[a].ID,
				Message: fmt.Sprintf("round two pairing of %s and %s may meet avoid group %q",
					r1[a].Code, r1[b].Code, names[0]),
			})
		}
	}

	for start := 0; start+1 < len(r1); start += 4 {
		if len(r1)-start < 4 {
			wire(start, start+1)
			continue
		}

		best, bestScore := 0, -1
		for c, split := range blockSplits {
			score := 0
			for _, pair := range split {
				score += groups[start+pair[0]].Intersect(groups[start+pair[1]]).Size()
			}
			if bestScore == -1 || score < bestScore {
				best, bestScore = c, score
			}
		}
		for _, pair := range blockSplits[best] {
			wire(start+pair[0], start+pair[1])
		}
	}
	return winners, losers, warnings
}

// matchAvoidGroups collects the avoid groups present on a match's resolved
// sides.
func matchAvoidGroups(m *structs.Match, teams map[int64]*structs.Team) *set.Set[string] {
	groups := set.New[string](2)
	for _, id := range m.TeamIDs() {
		if team := teams[id]; team != nil && team.AvoidGroup != "" {
			groups.Insert(team.AvoidGroup)
		}
	}
	return groups
}
