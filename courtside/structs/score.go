// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"encoding/json"
	"strconv"
	"strings"
)

// SetScore is one set's games, side A first.
type SetScore struct {
	A int `json:"a"`
	B int `json:"b"`
}

// Score is the recorded result of a match. It is a tagged union: a display
// string is always present once entered; parsed sets are carried when the
// display form is structured; arbitrary key/value payloads from external
// scoring devices are preserved opaquely.
type Score struct {
	// Display is the operator-entered rendering, e.g. "8-4" or
	// "6-0,6-2".
	Display string `json:"display,omitempty"`

	// Sets holds the parsed set scores when Display is structured.
	Sets []SetScore `json:"sets,omitempty"`

	// KV preserves unrecognized payload fields.
	KV map[string]string `json:"kv,omitempty"`

	// Default marks a walkover result from a defaulted or retired team.
	Default bool `json:"default,omitempty"`

	// Retired marks a mid-match retirement.
	Retired bool `json:"retired,omitempty"`
}

func (s *Score) Copy() *Score {
	if s == nil {
		return nil
	}
	ns := new(Score)
	*ns = *s
	ns.Sets = append([]SetScore(nil), s.Sets...)
	if s.KV != nil {
		ns.KV = make(map[string]string, len(s.KV))
		for k, v := range s.KV {
			ns.KV[k] = v
		}
	}
	return ns
}

// Equal reports whether two scores carry the same result. Nil equals nil.
func (s *Score) Equal(other *Score) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.Display != other.Display || s.Default != other.Default || s.Retired != other.Retired {
		return false
	}
	if len(s.Sets) != len(other.Sets) {
		return false
	}
	for i, set := range s.Sets {
		if set != other.Sets[i] {
			return false
		}
	}
	return true
}

// ParseSets returns the set scores, parsing Display when Sets is not
// already populated. The second return is false when no structured result
// can be recovered; standings treat such scores as zero sets.
func (s *Score) ParseSets() ([]SetScore, bool) {
	if s == nil {
		return nil, false
	}
	if len(s.Sets) > 0 {
		return s.Sets, true
	}
	return ParseScoreDisplay(s.Display)
}

// ParseScoreDisplay parses "8-4" or "6-0,6-2" style renderings into set
// scores. Whitespace around separators is tolerated.
func ParseScoreDisplay(display string) ([]SetScore, bool) {
	display = strings.TrimSpace(display)
	if display == "" {
		return nil, false
	}
	parts := strings.Split(display, ",")
	sets := make([]SetScore, 0, len(parts))
	for _, part := range parts {
		ab := strings.Split(strings.TrimSpace(part), "-")
		if len(ab) != 2 {
			return nil, false
		}
		a, errA := strconv.Atoi(strings.TrimSpace(ab[0]))
		b, errB := strconv.Atoi(strings.TrimSpace(ab[1]))
		if errA != nil || errB != nil || a < 0 || b < 0 {
			return nil, false
		}
		sets = append(sets, SetScore{A: a, B: b})
	}
	return sets, true
}

// NewScore builds a Score from a display string, parsing sets when the form
// is structured.
func NewScore(display string) *Score {
	s := &Score{Display: display}
	if sets, ok := ParseScoreDisplay(display); ok {
		s.Sets = sets
	}
	return s
}

// DefaultScoreForDuration computes the stylized walkover score used when a
// team defaults: 4-0 for short blocks, 8-0 for pro sets, 6-0,6-0 otherwise.
func DefaultScoreForDuration(minutes int) *Score {
	var display string
	switch {
	case minutes <= 35:
		display = "4-0"
	case minutes <= 60:
		display = "8-0"
	default:
		display = "6-0,6-0"
	}
	s := NewScore(display)
	s.Default = true
	return s
}

// MarshalScore renders the opaque wire form.
func MarshalScore(s *Score) (string, error) {
	if s == nil {
		return "", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalScore parses the opaque wire form. Unknown shapes yield a
// display-only score so no result is ever dropped.
func UnmarshalScore(raw string) (*Score, error) {
	if raw == "" {
		return nil, nil
	}
	s := new(Score)
	if err := json.Unmarshal([]byte(raw), s); err != nil {
		return &Score{Display: raw}, nil
	}
	return s, nil
}
