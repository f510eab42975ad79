// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package state provides the transactional entity store every Courtside
// engine reads from and writes to. It is backed by go-memdb: reads run
// against consistent MVCC snapshots, writes serialize through a single
// write transaction and commit atomically or not at all.
package state

import (
	"fmt"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	memdb "github.com/hashicorp/go-memdb"
)

// IndexEntry tracks the latest modify index of one table.
type IndexEntry struct {
	Key   string
	Value uint64
}

// StateStoreConfig holds the configuration of a state store.
type StateStoreConfig struct {
	Logger hclog.Logger
}

// StateStore is the single source of truth for tournaments, events, teams,
// schedule versions, matches, slots, assignments and locks.
//
// Every exported mutation runs in one write transaction: it either commits
// in full or leaves no trace. Write transactions serialize, which gives
// each schedule version an effective single writer. Reads never block
// writes and vice versa.
type StateStore struct {
	logger hclog.Logger
	db     *memdb.MemDB

	// nextIndex and nextID allocate modify indexes and entity ids.
	nextIndex uint64
	nextID    int64
}

// NewStateStore constructs a state store with an empty schema-validated
// database.
func NewStateStore(config *StateStoreConfig) (*StateStore, error) {
	db, err := memdb.NewMemDB(stateStoreSchema())
	if err != nil {
		return nil, fmt.Errorf("state store setup failed: %v", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &StateStore{
		logger: logger.Named("state_store"),
		db:     db,
	}, nil
}

// NextIndex allocates the modify index for one write. Callers pass it to
// the write method they are about to invoke.
func (s *StateStore) NextIndex() uint64 {
	return atomic.AddUint64(&s.nextIndex, 1)
}

// NextID allocates an entity id. Generators pre-allocate ids so dependency
// links between new entities can be wired before insert.
func (s *StateStore) NextID() int64 {
	return atomic.AddInt64(&s.nextID, 1)
}

// Snapshot returns a point-in-time read-only view of the store. Engines
// that compute over many tables take one snapshot so their inputs cannot
// shift mid-computation.
func (s *StateStore) Snapshot() *StateSnapshot {
	return &StateSnapshot{
		StateStore: StateStore{
			logger: s.logger,
			db:     s.db.Snapshot(),
		},
	}
}

// StateSnapshot is a read-only frozen view of the state store. Write
// methods must not be invoked against it.
type StateSnapshot struct {
	StateStore
}

// LatestIndex returns the highest modify index across all tables.
func (s *StateStore) LatestIndex() (uint64, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(tableIndex, indexID)
	if err != nil {
		return 0, fmt.Errorf("index lookup failed: %v", err)
	}

	var max uint64
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		if entry := raw.(*IndexEntry); entry.Value > max {
			max = entry.Value
		}
	}
	return max, nil
}

// Index returns the latest modify index of a table.
func (s *StateStore) Index(table string) (uint64, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableIndex, indexID, table)
	if err != nil {
		return 0, fmt.Errorf("index lookup failed: %v", err)
	}
	if raw == nil {
		return 0, nil
	}
	return raw.(*IndexEntry).Value, nil
}

// bumpIndex records a table's new modify index inside a write txn.
func bumpIndex(txn *memdb.Txn, table string, index uint64) error {
	if err := txn.Insert(tableIndex, &IndexEntry{Key: table, Value: index}); err != nil {
		return fmt.Errorf("index update failed: %v", err)
	}
	return nil
}
