// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"errors"
	"fmt"
)

// Fatal error kinds. An operation either fails with one of these, aborting
// its transaction, or commits and surfaces Warnings.
var (
	// ErrNotFound wraps lookups of unknown tournaments, versions, events,
	// matches or slots.
	ErrNotFound = errors.New("resource not found")

	// ErrVersionNotDraft guards runtime mutation: writes are only
	// permitted against draft versions.
	ErrVersionNotDraft = errors.New("schedule version is not a draft")

	// ErrDuplicateMatchCode indicates a draw plan bug: the generator
	// emitted the same code twice within one version.
	ErrDuplicateMatchCode = errors.New("duplicate match code")

	// ErrValidation wraps bad enumerations, incompatible team counts and
	// other malformed inputs.
	ErrValidation = errors.New("validation failed")

	// ErrCapacity wraps duration overflows and slot collisions when
	// creating capacity.
	ErrCapacity = errors.New("capacity exceeded")

	// ErrConflict wraps state races: re-finalizing with a different
	// result, moving onto an occupied slot.
	ErrConflict = errors.New("conflict")

	// ErrInternal wraps constraint violations that indicate a bug rather
	// than a bad request.
	ErrInternal = errors.New("internal error")
)

func NewErrNotFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
}

func NewErrVersionNotDraft(versionID int64) error {
	return fmt.Errorf("version %d: %w", versionID, ErrVersionNotDraft)
}

func NewErrDuplicateMatchCode(code string) error {
	return fmt.Errorf("match code %q: %w", code, ErrDuplicateMatchCode)
}

func NewErrValidation(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrValidation)
}

func NewErrCapacity(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrCapacity)
}

func NewErrConflict(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrConflict)
}

func NewErrInternal(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrInternal)
}

func IsErrNotFound(err error) bool        { return errors.Is(err, ErrNotFound) }
func IsErrVersionNotDraft(err error) bool { return errors.Is(err, ErrVersionNotDraft) }
func IsErrValidation(err error) bool      { return errors.Is(err, ErrValidation) }
func IsErrCapacity(err error) bool        { return errors.Is(err, ErrCapacity) }
func IsErrConflict(err error) bool        { return errors.Is(err, ErrConflict) }
