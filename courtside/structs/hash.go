// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// ShortHashLen is the display length of policy hashes.
const ShortHashLen = 16

// PolicyInput is the canonical fingerprint of everything a placement run
// reads. The field set is a stability contract: external systems compare
// these hashes across processes and releases, so fields are never added or
// removed casually. Two runs with equal input hashes must produce equal
// output hashes; the replay cache keys on this.
type PolicyInput struct {
	Slots         []SlotFingerprint      `json:"slots"`
	Matches       []MatchFingerprint     `json:"matches"`
	Events        []EventFingerprint     `json:"events"`
	MatchLocks    []MatchLockFingerprint `json:"match_locks"`
	SlotLocks     []SlotLockFingerprint  `json:"slot_locks"`
	PolicyVersion string                 `json:"policy_version"`
}

// SlotFingerprint is the hashed view of one available slot.
type SlotFingerprint struct {
	Day         string `json:"day"`
	StartMin    int    `json:"time"`
	CourtNumber int    `json:"court"`
	DurationMin int    `json:"duration"`
}

// MatchFingerprint is the hashed view of one match awaiting placement.
type MatchFingerprint struct {
	MatchID    int64  `json:"id"`
	EventID    int64  `json:"event"`
	Type       string `json:"type"`
	RoundIndex int    `json:"round"`
	Sequence   int    `json:"seq"`
}

// EventFingerprint is the hashed view of one event's placement inputs.
type EventFingerprint struct {
	EventID     int64  `json:"id"`
	Name        string `json:"name"`
	TeamCount   int    `json:"team_count"`
	Category    string `json:"category"`
	DrawPlanRaw string `json:"draw_plan_json"`
}

// MatchLockFingerprint pins a match to a slot across replacements.
type MatchLockFingerprint struct {
	MatchID int64 `json:"match"`
	SlotID  int64 `json:"slot"`
}

// SlotLockFingerprint marks a blocked slot.
type SlotLockFingerprint struct {
	SlotID int64  `json:"slot"`
	Status string `json:"status"`
}

// AssignmentFingerprint is the hashed view of one placement decision.
type AssignmentFingerprint struct {
	Day         string `json:"day"`
	StartMin    int    `json:"time"`
	CourtNumber int    `json:"court"`
	MatchID     int64  `json:"match_id"`
}

// EventDrawPlanRaw renders the stable JSON form of a draw plan for event
// fingerprints. Inventory keys marshal sorted, so the form is canonical.
func EventDrawPlanRaw(plan *DrawPlan) (string, error) {
	if plan == nil {
		return "", nil
	}
	b, err := json.Marshal(struct {
		TemplateKey     string         `json:"template_key"`
		WaterfallRounds int            `json:"wf_rounds"`
		PoolCount       int            `json:"pool_count"`
		PoolSize        int            `json:"pool_size"`
		BracketSizes    []int          `json:"bracket_sizes"`
		Inventory       map[string]int `json:"inventory"`
	}{
		TemplateKey:     plan.TemplateKey,
		WaterfallRounds: plan.WaterfallRounds,
		PoolCount:       plan.PoolCount,
		PoolSize:        plan.PoolSize,
		BracketSizes:    plan.BracketSizes,
		Inventory:       plan.Inventory,
	})
	if err != nil {
		return "", fmt.Errorf("draw plan encode failed: %w", err)
	}
	return string(b), nil
}

// Canonicalize sorts every slice of the input into its canonical order so
// that hashing is insensitive to retrieval order.
func (in *PolicyInput) Canonicalize() {
	sort.Slice(in.Slots, func(i, j int) bool {
		a, b := in.Slots[i], in.Slots[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.StartMin != b.StartMin {
			return a.StartMin < b.StartMin
		}
		return a.CourtNumber < b.CourtNumber
	})
	sort.Slice(in.Matches, func(i, j int) bool {
		return in.Matches[i].MatchID < in.Matches[j].MatchID
	})
	sort.Slice(in.Events, func(i, j int) bool {
		return in.Events[i].EventID < in.Events[j].EventID
	})
	sort.Slice(in.MatchLocks, func(i, j int) bool {
		return in.MatchLocks[i].MatchID < in.MatchLocks[j].MatchID
	})
	sort.Slice(in.SlotLocks, func(i, j int) bool {
		return in.SlotLocks[i].SlotID < in.SlotLocks[j].SlotID
	})
}

// Hash returns the full hex SHA-256 of the canonical JSON form.
func (in *PolicyInput) Hash() (string, error) {
	in.Canonicalize()
	return hashJSON(in)
}

// PolicyOutputHash hashes the assignment set produced by a placement run.
// Assignments are sorted into canonical order first.
func PolicyOutputHash(assignments []AssignmentFingerprint) (string, error) {
	sorted := make([]AssignmentFingerprint, len(assignments))
	copy(sorted, assignments)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.StartMin != b.StartMin {
			return a.StartMin < b.StartMin
		}
		if a.CourtNumber != b.CourtNumber {
			return a.CourtNumber < b.CourtNumber
		}
		return a.MatchID < b.MatchID
	})
	return hashJSON(sorted)
}

// ShortHash truncates a full hex hash to its 16-hex display form.
func ShortHash(h string) string {
	if len(h) <= ShortHashLen {
		return h
	}
	return h[:ShortHashLen]
}

func hashJSON(v any) (string, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical encode failed: %w", err)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}
