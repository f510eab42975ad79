// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package draw compiles event format configurations into draw plans and
// generates the wired match graph for a schedule version: waterfall sorting
// rounds, pool round robins and eight-team elimination brackets with
// consolation play.
package draw

import (
	"fmt"

	"github.com/hashicorp/go-set/v3"

	"github.com/hashicorp/courtside/courtside/structs"
)

// dynamicTeamCounts are the entry sizes WF_TO_POOLS_DYNAMIC accepts.
var dynamicTeamCounts = set.From([]int{8, 10, 12, 16, 20, 24, 28})

// bracketSizePresets maps a WF_TO_BRACKETS_8 entry size to its bracket
// layout. Brackets cut contiguous chunks off the post-waterfall stream,
// best finishing bucket first.
var bracketSizePresets = map[int][]int{
	8:  {8},
	12: {8, 4},
	16: {8, 8},
	32: {8, 8, 8, 8},
}

// Compile validates an event's format configuration and derives its draw
// plan: the per-stage match inventory plus the pool or bracket layout the
// generator fills in. The plan is returned, not stored; callers set it on
// the event and upsert.
func Compile(event *structs.Event, templateKey string, wfRounds int) (*structs.DrawPlan, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	n := event.TeamCount
	plan := &structs.DrawPlan{
		TemplateKey:     templateKey,
		WaterfallRounds: wfRounds,
		Inventory:       make(map[string]int),
	}

	switch templateKey {
	case structs.TemplateRROnly:
		if wfRounds != 0 {
			return nil, structs.NewErrValidation(fmt.Sprintf(
				"template %s takes no waterfall rounds, got %d", templateKey, wfRounds))
		}
		plan.PoolCount = 1
		plan.PoolSize = n
		plan.Inventory[structs.MatchTypeRR] = n * (n - 1) / 2

	case structs.TemplateWFToPoolsDynamic:
		if !dynamicTeamCounts.Contains(n) {
			return nil, structs.NewErrValidation(fmt.Sprintf(
				"template %s does not support %d teams", templateKey, n))
		}
		if wfRounds < 1 || wfRounds > 2 {
			return nil, structs.NewErrValidation(fmt.Sprintf(
				"template %s requires 1 or 2 waterfall rounds, got %d", templateKey, wfRounds))
		}
		if err := validateWaterfallRounds(n, wfRounds); err != nil {
			return nil, err
		}
		pools := 1 << wfRounds
		plan.PoolCount = pools
		plan.PoolSize = n / pools
		plan.Inventory[structs.MatchTypeWF] = n / 2 * wfRounds
		plan.Inventory[structs.MatchTypeRR] = pools * plan.PoolSize * (plan.PoolSize - 1) / 2

	case structs.TemplateWFToPools4:
		if n != 16 {
			return nil, structs.NewErrValidation(fmt.Sprintf(
				"template %s requires 16 teams, got %d", templateKey, n))
		}
		if wfRounds != 0 && wfRounds != 2 {
			return nil, structs.NewErrValidation(fmt.Sprintf(
				"template %s runs exactly 2 waterfall rounds, got %d", templateKey, wfRounds))
		}
		plan.WaterfallRounds = 2
		plan.PoolCount = 4
		plan.PoolSize = 4
		plan.Inventory[structs.MatchTypeWF] = 16
		plan.Inventory[structs.MatchTypeRR] = 24

	case structs.TemplateWFToBrackets8:
		sizes, ok := bracketSizePresets[n]
		if !ok {
			return nil, structs.NewErrValidation(fmt.Sprintf(
				"template %s does not support %d teams", templateKey, n))
		}
		if wfRounds < 0 || wfRounds > 2 {
			return nil, structs.NewErrValidation(fmt.Sprintf(
				"template %s takes 0 to 2 waterfall rounds, got %d", templateKey, wfRounds))
		}
		if err := validateWaterfallRounds(n, wfRounds); err != nil {
			return nil, err
		}
		guarantee := event.Guarantee
		if guarantee == 0 {
			guarantee = 4
		}

		plan.BracketSizes = append([]int(nil), sizes...)
		if wfRounds > 0 {
			plan.Inventory[structs.MatchTypeWF] = n / 2 * wfRounds
		}
		var main, cons, placement int
		for _, size := range sizes {
			switch size {
			case 8:
				main += 7
				if guarantee == 5 {
					cons += 3
					placement += 2
				} else {
					cons += 2
				}
			case 4:
				main += 3
				cons++
			}
		}
		plan.Inventory[structs.MatchTypeMain] = main
		plan.Inventory[structs.MatchTypeConsolation] = cons
		if placement > 0 {
			plan.Inventory[structs.MatchTypePlacement] = placement
		}

	default:
		return nil, structs.NewErrValidation(fmt.Sprintf("unknown draw template %q", templateKey))
	}

	return plan, nil
}

// validateWaterfallRounds checks the divisibility a waterfall stage needs:
// one round halves the field, two rounds quarter it.
func validateWaterfallRounds(n, wfRounds int) error {
	switch {
	case wfRounds >= 1 && n%2 != 0:
		return structs.NewErrValidation(fmt.Sprintf(
			"waterfall rounds require an even team count, got %d", n))
	case wfRounds == 2 && n%4 != 0:
		return structs.NewErrValidation(fmt.Sprintf(
			"two waterfall rounds require a team count divisible by 4, got %d", n))
	}
	return nil
}
