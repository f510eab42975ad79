// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package draw

import (
	"fmt"
	"testing"

	"github.com/hashicorp/courtside/ci"
	"github.com/shoenig/test/must"
)

func TestRoundRobinRounds_PoolOfFour(t *testing.T) {
	ci.Parallel(t)

	exp := [][][2]int{
		{{1, 4}, {2, 3}},
		{{1, 3}, {2, 4}},
		{{1, 2}, {3, 4}},
	}
	must.Eq(t, exp, roundRobinRounds(4))
}

func TestRoundRobinRounds_Complete(t *testing.T) {
	ci.Parallel(t)

	for _, size := range []int{2, 4, 5, 6, 7, 8, 12} {
		t.Run(fmt.Sprintf("size %d", size), func(t *testing.T) {
			rounds := roundRobinRounds(size)

			expRounds := size - 1
			if size%2 == 1 {
				expRounds = size
			}
			must.Len(t, expRounds, rounds)

			seen := make(map[[2]int]int)
			for _, pairs := range rounds {
				inRound := make(map[int]bool, size)
				for _, pair := range pairs {
					must.Less(t, pair[1], pair[0])
					must.False(t, inRound[pair[0]])
					must.False(t, inRound[pair[1]])
					inRound[pair[0]] = true
					inRound[pair[1]] = true
					seen[pair]++
				}
			}

			must.Eq(t, size*(size-1)/2, len(seen))
			for pair, count := range seen {
				must.Eq(t, 1, count, must.Sprintf("pair %v played %d times", pair, count))
			}
		})
	}
}

func TestRoundRobinRounds_TopSeedsMeetLast(t *testing.T) {
	ci.Parallel(t)

	for _, size := range []int{4, 6, 8} {
		rounds := roundRobinRounds(size)
		last := rounds[len(rounds)-1]
		must.Eq(t, [2]int{1, 2}, last[0])
	}
}

func TestRoundRobinRounds_TooSmall(t *testing.T) {
	ci.Parallel(t)

	must.Nil(t, roundRobinRounds(0))
	must.Nil(t, roundRobinRounds(1))
}
