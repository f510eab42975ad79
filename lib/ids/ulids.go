// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package ids generates the time-ordered identifiers stamped onto computed
// repair and rebuild plans. The ids follow the ulid spec but render in UUID
// form, so lexical order tracks creation order while plain UUID consumers
// can still parse them.
//
// Specification of ULID:
// https://github.com/ulid/spec
package ids

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"
	"oss.indeed.com/go/libtime"
)

// NewULID returns a pseudo-ULID for the current moment. It is safe for
// concurrent use and *does not* guarantee monotonic order within the same
// millisecond.
func NewULID() string {
	return NewULIDAt(time.Now().UTC())
}

// NewULIDAt returns a pseudo-ULID for the given time. The first 6 bytes
// carry the millisecond timestamp and the remaining 10 are random.
func NewULIDAt(t time.Time) string {
	b := make([]byte, 16)

	ms := libtime.ToMilliseconds(t)
	for i := 0; i < 6; i++ {
		b[i] = byte(ms >> (40 - 8*i))
	}

	n, rndErr := rand.Read(b[6:])
	if rndErr != nil {
		panic(fmt.Errorf("failed to generate ulid: %v", rndErr))
	}
	if n != 10 {
		panic("failed to generate ulid: not enough random bytes")
	}

	s, fmtErr := uuid.FormatUUID(b)
	if fmtErr != nil {
		panic(fmt.Errorf("failed to format ulid as uuid: %v", fmtErr))
	}

	return s
}
