// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package draw

// roundRobinRounds returns the circle-method pairings for a field of the
// given size as 1-based position pairs, one slice per round. Position 1
// stays fixed while the rest rotate, which lands the top two positions in
// the last round. Odd sizes carry a bye slot whose pairings are dropped, so
// every position sits out exactly one round.
func roundRobinRounds(size int) [][][2]int {
	if size < 2 {
		return nil
	}

	ring := make([]int, 0, size+1)
	for pos := 1; pos <= size; pos++ {
		ring = append(ring, pos)
	}
	if size%2 == 1 {
		ring = append(ring, 0)
	}

	count := len(ring)
	rounds := make([][][2]int, 0, count-1)
	for r := 0; r < count-1; r++ {
		pairs := make([][2]int, 0, count/2)
		for i := 0; i < count/2; i++ {
			a, b := ring[i], ring[count-1-i]
			if a == 0 || b == 0 {
				continue
			}
			if a > b {
				a, b = b, a
			}
			pairs = append(pairs, [2]int{a, b})
		}
		rounds = append(rounds, pairs)

		last := ring[count-1]
		copy(ring[2:], ring[1:count-1])
		ring[1] = last
	}
	return rounds
}
