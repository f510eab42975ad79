// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package draw

import (
	"fmt"

	"github.com/hashicorp/courtside/courtside/structs"
)

// streamSlot is one feed position of the post-waterfall stream: a source
// match plus the role that advances from it, or a concrete team when the
// draw runs no waterfall rounds.
type streamSlot struct {
	src  *structs.Match
	role string
	team *structs.Team
}

func fromMatch(m *structs.Match, role string) streamSlot {
	return streamSlot{src: m, role: role}
}

// buildStream orders the waterfall outputs best finishing bucket first:
// winners of every round, then progressively worse records, each bucket in
// source sequence order. Brackets and pools cut contiguous chunks off this
// stream.
func buildStream(wfRounds int, teams []*structs.Team, r1, r2w, r2l []*structs.Match) []streamSlot {
	switch wfRounds {
	case 0:
		stream := make([]streamSlot, len(teams))
		for i, team := range teams {
			stream[i] = streamSlot{team: team}
		}
		return stream

	case 1:
		stream := make([]streamSlot, 0, len(r1)*2)
		for _, m := range r1 {
			stream = append(stream, fromMatch(m, structs.RoleWinner))
		}
		for _, m := range r1 {
			stream = append(stream, fromMatch(m, structs.RoleLoser))
		}
		return stream

	default:
		stream := make([]streamSlot, 0, (len(r2w)+len(r2l))*2)
		for _, m := range r2w {
			stream = append(stream, fromMatch(m, structs.RoleWinner))
		}
		for _, m := range r2w {
			stream = append(stream, fromMatch(m, structs.RoleLoser))
		}
		for _, m := range r2l {
			stream = append(stream, fromMatch(m, structs.RoleWinner))
		}
		for _, m := range r2l {
			stream = append(stream, fromMatch(m, structs.RoleLoser))
		}
		return stream
	}
}

// bracketLabels returns the labels for a bracket count. Two-bracket draws
// collapse onto the track-leading labels so the winner track always lands
// in WW.
func bracketLabels(count int) []string {
	switch count {
	case 1:
		return []string{structs.BracketWW}
	case 2:
		return []string{structs.BracketWW, structs.BracketLW}
	default:
		return []string{structs.BracketWW, structs.BracketWL, structs.BracketLW, structs.BracketLL}
	}
}

// qfSeeding pairs the eight bracket positions into quarterfinals: 1v8, 4v5,
// 3v6, 2v7. Stream positions that came out of the same feed match never
// meet in a quarterfinal.
var qfSeeding = [4][2]int{{0, 7}, {3, 4}, {2, 5}, {1, 6}}

// sfSeeding pairs the four positions of a short bracket: 1v4, 2v3.
var sfSeeding = [2][2]int{{0, 3}, {1, 2}}

// buildBracket emits one bracket from its stream chunk: the main rounds,
// then the consolation rounds the guarantee calls for.
func (b *builder) buildBracket(label string, slots []streamSlot, guarantee int) error {
	switch len(slots) {
	case 8:
		b.buildBracket8(label, slots, guarantee)
	case 4:
		b.buildBracket4(label, slots)
	default:
		return structs.NewErrInternal(fmt.Sprintf("no bracket preset for %d teams", len(slots)))
	}
	return nil
}

func (b *builder) buildBracket8(label string, slots []streamSlot, guarantee int) {
	code := func(stage string, n int) string {
		return fmt.Sprintf("%s_B%s_%s_M%02d", b.prefix, label, stage, n)
	}

	qfs := make([]*structs.Match, 4)
	for i, pair := range qfSeeding {
		m := b.newMatch(structs.MatchTypeMain, code("QF", i+1), 1, i+1)
		m.BracketLabel = label
		b.wireA(m, slots[pair[0]])
		b.wireB(m, slots[pair[1]])
		qfs[i] = m
	}

	sfs := make([]*structs.Match, 2)
	for i := range sfs {
		m := b.newMatch(structs.MatchTypeMain, code("SF", i+1), 2, i+1)
		m.BracketLabel = label
		b.wireA(m, fromMatch(qfs[2*i], structs.RoleWinner))
		b.wireB(m, fromMatch(qfs[2*i+1], structs.RoleWinner))
		sfs[i] = m
	}

	final := b.newMatch(structs.MatchTypeMain, code("F", 1), 3, 1)
	final.BracketLabel = label
	b.wireA(final, fromMatch(sfs[0], structs.RoleWinner))
	b.wireB(final, fromMatch(sfs[1], structs.RoleWinner))

	// Quarterfinal losers drop to the consolation semis regardless of the
	// guarantee; a fifth match needs the consolation final and both
	// placement matches on top.
	csfs := make([]*structs.Match, 2)
	for i := range csfs {
		m := b.newMatch(structs.MatchTypeConsolation, code("CSF", i+1), 1, i+1)
		m.BracketLabel = label
		m.ConsolationTier = 1
		b.wireA(m, fromMatch(qfs[2*i], structs.RoleLoser))
		b.wireB(m, fromMatch(qfs[2*i+1], structs.RoleLoser))
		csfs[i] = m
	}

	if guarantee != 5 {
		return
	}

	cf := b.newMatch(structs.MatchTypeConsolation, code("CF", 1), 2, 1)
	cf.BracketLabel = label
	cf.ConsolationTier = 2
	b.wireA(cf, fromMatch(csfs[0], structs.RoleWinner))
	b.wireB(cf, fromMatch(csfs[1], structs.RoleWinner))

	p34 := b.newMatch(structs.MatchTypePlacement, code("P34", 1), 1, 1)
	p34.BracketLabel = label
	p34.PlacementType = structs.Placement3rd4th
	b.wireA(p34, fromMatch(sfs[0], structs.RoleLoser))
	b.wireB(p34, fromMatch(sfs[1], structs.RoleLoser))

	p78 := b.newMatch(structs.MatchTypePlacement, code("P78", 1), 1, 2)
	p78.BracketLabel = label
	p78.PlacementType = structs.Placement7th8th
	b.wireA(p78, fromMatch(csfs[0], structs.RoleLoser))
	b.wireB(p78, fromMatch(csfs[1], structs.RoleLoser))
}

// buildBracket4 emits a four-team bracket: two semis, a final, and a
// consolation final for the semifinal losers. Round indexes align with the
// eight-team depth encoding so finals across brackets share a round.
func (b *builder) buildBracket4(label string, slots []streamSlot) {
	code := func(stage string, n int) string {
		return fmt.Sprintf("%s_B%s_%s_M%02d", b.prefix, label, stage, n)
	}

	sfs := make([]*structs.Match, 2)
	for i, pair := range sfSeeding {
		m := b.newMatch(structs.MatchTypeMain, code("SF", i+1), 2, i+1)
		m.BracketLabel = label
		b.wireA(m, slots[pair[0]])
		b.wireB(m, slots[pair[1]])
		sfs[i] = m
	}

	final := b.newMatch(structs.MatchTypeMain, code("F", 1), 3, 1)
	final.BracketLabel = label
	b.wireA(final, fromMatch(sfs[0], structs.RoleWinner))
	b.wireB(final, fromMatch(sfs[1], structs.RoleWinner))

	cf := b.newMatch(structs.MatchTypeConsolation, code("CF", 1), 2, 1)
	cf.BracketLabel = label
	cf.ConsolationTier = 1
	b.wireA(cf, fromMatch(sfs[0], structs.RoleLoser))
	b.wireB(cf, fromMatch(sfs[1], structs.RoleLoser))
}
