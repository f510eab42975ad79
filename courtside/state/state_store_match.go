// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"fmt"
	"sort"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/hashicorp/courtside/courtside/structs"
)

// InsertMatches inserts a batch of new matches into a draft version in one
// transaction. Codes must be unique within the version; a duplicate aborts
// the whole batch.
func (s *StateStore) InsertMatches(index uint64, versionID int64, matches []*structs.Match) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := draftVersionTxn(txn, versionID); err != nil {
		return err
	}
	if err := s.insertMatchesTxn(txn, index, versionID, matches); err != nil {
		return err
	}
	if err := bumpIndex(txn, TableMatches, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

func (s *StateStore) insertMatchesTxn(txn *memdb.Txn, index uint64, versionID int64, matches []*structs.Match) error {
	seenCodes := make(map[string]struct{}, len(matches))

	for _, match := range matches {
		if match.VersionID != versionID {
			return structs.NewErrValidation(fmt.Sprintf(
				"match %s targets version %d not %d", match.Code, match.VersionID, versionID))
		}
		if err := match.Validate(); err != nil {
			return err
		}

		// Unique indexes do not reject conflicting inserts, so code
		// collisions are checked here before writing.
		if _, ok := seenCodes[match.Code]; ok {
			return structs.NewErrDuplicateMatchCode(match.Code)
		}
		seenCodes[match.Code] = struct{}{}

		existingRaw, err := txn.First(TableMatches, indexCode, versionID, match.Code)
		if err != nil {
			return fmt.Errorf("match lookup failed: %v", err)
		}
		if existingRaw != nil {
			return structs.NewErrDuplicateMatchCode(match.Code)
		}

		if match.ID == 0 {
			match.ID = s.NextID()
		}

		stored := match.Copy()
		stored.CreateIndex = index
		stored.ModifyIndex = index
		if err := txn.Insert(TableMatches, stored); err != nil {
			return fmt.Errorf("match insert failed: %v", err)
		}
	}
	return nil
}

// ReplaceEventMatches deletes an event's matches within a draft version,
// cascades their assignments and locks, and inserts the replacement batch,
// all in one transaction. Regeneration after a draw plan change runs
// through here.
func (s *StateStore) ReplaceEventMatches(index uint64, versionID, eventID int64, matches []*structs.Match) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := draftVersionTxn(txn, versionID); err != nil {
		return err
	}

	iter, err := txn.Get(TableMatches, indexVersionEvent, versionID, eventID)
	if err != nil {
		return fmt.Errorf("match lookup failed: %v", err)
	}

	var stale []*structs.Match
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		stale = append(stale, raw.(*structs.Match))
	}

	for _, m := range stale {
		if assignRaw, err := txn.First(TableAssignments, indexID, versionID, m.ID); err != nil {
			return fmt.Errorf("assignment lookup failed: %v", err)
		} else if assignRaw != nil {
			if err := txn.Delete(TableAssignments, assignRaw); err != nil {
				return fmt.Errorf("assignment delete failed: %v", err)
			}
		}
		if lockRaw, err := txn.First(TableMatchLocks, indexID, versionID, m.ID); err != nil {
			return fmt.Errorf("match lock lookup failed: %v", err)
		} else if lockRaw != nil {
			if err := txn.Delete(TableMatchLocks, lockRaw); err != nil {
				return fmt.Errorf("match lock delete failed: %v", err)
			}
		}
		if err := txn.Delete(TableMatches, m); err != nil {
			return fmt.Errorf("match delete failed: %v", err)
		}
	}

	if err := s.insertMatchesTxn(txn, index, versionID, matches); err != nil {
		return err
	}

	for _, table := range []string{TableMatches, TableAssignments, TableMatchLocks} {
		if err := bumpIndex(txn, table, index); err != nil {
			return err
		}
	}

	txn.Commit()
	return nil
}

// UpdateMatches replaces existing match rows in one transaction. It is the
// write path of finalize, advancement, corrections, status flips and pool
// confirmation: the caller computes the full updated rows against a
// snapshot, the store re-verifies each row still exists and lands the batch
// atomically.
func (s *StateStore) UpdateMatches(index uint64, versionID int64, matches []*structs.Match) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := draftVersionTxn(txn, versionID); err != nil {
		return err
	}

	for _, match := range matches {
		if err := match.Validate(); err != nil {
			return err
		}

		existingRaw, err := txn.First(TableMatches, indexID, match.ID)
		if err != nil {
			return fmt.Errorf("match lookup failed: %v", err)
		}
		if existingRaw == nil {
			return structs.NewErrNotFound("match", match.ID)
		}
		existing := existingRaw.(*structs.Match)
		if existing.VersionID != versionID {
			return structs.NewErrValidation(fmt.Sprintf(
				"match %s belongs to version %d not %d", match.Code, existing.VersionID, versionID))
		}
		if existing.Code != match.Code {
			return structs.NewErrValidation(fmt.Sprintf(
				"match %d code is immutable (%s -> %s)", match.ID, existing.Code, match.Code))
		}

		stored := match.Copy()
		stored.CreateIndex = existing.CreateIndex
		stored.ModifyIndex = index
		if err := txn.Insert(TableMatches, stored); err != nil {
			return fmt.Errorf("match insert failed: %v", err)
		}
	}

	if err := bumpIndex(txn, TableMatches, index); err != nil {
		return err
	}

	txn.Commit()
	return nil
}

// MatchByID returns the match with the given id, or nil.
func (s *StateStore) MatchByID(ws memdb.WatchSet, id int64) (*structs.Match, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, existing, err := txn.FirstWatch(TableMatches, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("match lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if existing != nil {
		return existing.(*structs.Match), nil
	}
	return nil, nil
}

// MatchByCode returns the match with the given code within a version, or
// nil.
func (s *StateStore) MatchByCode(ws memdb.WatchSet, versionID int64, code string) (*structs.Match, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	watchCh, existing, err := txn.FirstWatch(TableMatches, indexCode, versionID, code)
	if err != nil {
		return nil, fmt.Errorf("match lookup failed: %v", err)
	}
	ws.Add(watchCh)

	if existing != nil {
		return existing.(*structs.Match), nil
	}
	return nil, nil
}

// MatchesByVersion returns a version's matches ordered by id.
func (s *StateStore) MatchesByVersion(ws memdb.WatchSet, versionID int64) ([]*structs.Match, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableMatches, indexVersion, versionID)
	if err != nil {
		return nil, fmt.Errorf("match lookup failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.Match
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Match))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MatchesByVersionEvent returns one event's matches within a version,
// ordered by id.
func (s *StateStore) MatchesByVersionEvent(ws memdb.WatchSet, versionID, eventID int64) ([]*structs.Match, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableMatches, indexVersionEvent, versionID, eventID)
	if err != nil {
		return nil, fmt.Errorf("match lookup failed: %v", err)
	}
	ws.Add(iter.WatchCh())

	var out []*structs.Match
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Match))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MatchesDependingOn returns the matches whose sides are wired to the given
// upstream match. Advancement fans out through this.
func (s *StateStore) MatchesDependingOn(ws memdb.WatchSet, versionID, matchID int64) ([]*structs.Match, error) {
	matches, err := s.MatchesByVersion(ws, versionID)
	if err != nil {
		return nil, err
	}
	var out []*structs.Match
	for _, m := range matches {
		if m.SourceAID == matchID || m.SourceBID == matchID {
			out = append(out, m)
		}
	}
	return out, nil
}
