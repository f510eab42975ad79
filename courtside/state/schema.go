// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	memdb "github.com/hashicorp/go-memdb"
)

const (
	tableIndex = "index"

	TableTournaments = "tournaments"
	TableEvents      = "events"
	TableTeams       = "teams"
	TableVersions    = "versions"
	TableMatches     = "matches"
	TableSlots       = "slots"
	TableAssignments = "assignments"
	TableMatchLocks  = "match_locks"
	TableSlotLocks   = "slot_locks"
	TableCourtStates = "court_states"
)

const (
	indexID           = "id"
	indexTournament   = "tournament"
	indexEvent        = "event"
	indexEventSeed    = "event_seed"
	indexVersion      = "version"
	indexVersionEvent = "version_event"
	indexCode         = "code"
	indexSlot         = "slot"
	indexDay          = "day"
	indexTag          = "tag"
)

// stateStoreSchema assembles the full schema of the state store.
func stateStoreSchema() *memdb.DBSchema {
	db := &memdb.DBSchema{
		Tables: make(map[string]*memdb.TableSchema),
	}

	schemas := []func() *memdb.TableSchema{
		indexTableSchema,
		tournamentTableSchema,
		eventTableSchema,
		teamTableSchema,
		versionTableSchema,
		matchTableSchema,
		slotTableSchema,
		assignmentTableSchema,
		matchLockTableSchema,
		slotLockTableSchema,
		courtStateTableSchema,
	}
	for _, fn := range schemas {
		schema := fn()
		if _, ok := db.Tables[schema.Name]; ok {
			panic("duplicate table name: " + schema.Name)
		}
		db.Tables[schema.Name] = schema
	}
	return db
}

// indexTableSchema is the table used to track the modify index of every
// other table.
func indexTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: tableIndex,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.StringFieldIndex{
					Field:     "Key",
					Lowercase: true,
				},
			},
		},
	}
}

func tournamentTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableTournaments,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.IntFieldIndex{Field: "ID"},
			},
		},
	}
}

func eventTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableEvents,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.IntFieldIndex{Field: "ID"},
			},
			indexTournament: {
				Name:         indexTournament,
				AllowMissing: false,
				Unique:       false,
				Indexer:      &memdb.IntFieldIndex{Field: "TournamentID"},
			},
		},
	}
}

func teamTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableTeams,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.IntFieldIndex{Field: "ID"},
			},
			indexEvent: {
				Name:         indexEvent,
				AllowMissing: false,
				Unique:       false,
				Indexer:      &memdb.IntFieldIndex{Field: "EventID"},
			},

			// Seed uniqueness within an event is checked explicitly on
			// upsert; this index exists for ordered seed iteration.
			indexEventSeed: {
				Name:         indexEventSeed,
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.IntFieldIndex{Field: "EventID"},
						&memdb.IntFieldIndex{Field: "Seed"},
					},
				},
			},
		},
	}
}

func versionTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableVersions,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.IntFieldIndex{Field: "ID"},
			},
			indexTournament: {
				Name:         indexTournament,
				AllowMissing: false,
				Unique:       false,
				Indexer:      &memdb.IntFieldIndex{Field: "TournamentID"},
			},
			indexTag: {
				Name:         indexTag,
				AllowMissing: true,
				Unique:       false,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.IntFieldIndex{Field: "TournamentID"},
						&memdb.StringFieldIndex{Field: "Tag"},
					},
				},
			},
		},
	}
}

func matchTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableMatches,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.IntFieldIndex{Field: "ID"},
			},
			indexVersion: {
				Name:         indexVersion,
				AllowMissing: false,
				Unique:       false,
				Indexer:      &memdb.IntFieldIndex{Field: "VersionID"},
			},
			indexVersionEvent: {
				Name:         indexVersionEvent,
				AllowMissing: false,
				Unique:       false,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.IntFieldIndex{Field: "VersionID"},
						&memdb.IntFieldIndex{Field: "EventID"},
					},
				},
			},

			// Code uniqueness within a version is checked explicitly on
			// insert; the index serves code lookups.
			indexCode: {
				Name:         indexCode,
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.IntFieldIndex{Field: "VersionID"},
						&memdb.StringFieldIndex{Field: "Code"},
					},
				},
			},
		},
	}
}

func slotTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableSlots,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer:      &memdb.IntFieldIndex{Field: "ID"},
			},
			indexVersion: {
				Name:         indexVersion,
				AllowMissing: false,
				Unique:       false,
				Indexer:      &memdb.IntFieldIndex{Field: "VersionID"},
			},
			indexDay: {
				Name:         indexDay,
				AllowMissing: false,
				Unique:       false,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.IntFieldIndex{Field: "VersionID"},
						&memdb.StringFieldIndex{Field: "Day"},
					},
				},
			},
		},
	}
}

func assignmentTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableAssignments,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.IntFieldIndex{Field: "VersionID"},
						&memdb.IntFieldIndex{Field: "MatchID"},
					},
				},
			},
			indexVersion: {
				Name:         indexVersion,
				AllowMissing: false,
				Unique:       false,
				Indexer:      &memdb.IntFieldIndex{Field: "VersionID"},
			},

			// Slot occupancy is checked explicitly on assign; the index
			// serves slot lookups.
			indexSlot: {
				Name:         indexSlot,
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.IntFieldIndex{Field: "VersionID"},
						&memdb.IntFieldIndex{Field: "SlotID"},
					},
				},
			},
		},
	}
}

func matchLockTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableMatchLocks,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.IntFieldIndex{Field: "VersionID"},
						&memdb.IntFieldIndex{Field: "MatchID"},
					},
				},
			},
			indexVersion: {
				Name:         indexVersion,
				AllowMissing: false,
				Unique:       false,
				Indexer:      &memdb.IntFieldIndex{Field: "VersionID"},
			},
		},
	}
}

func slotLockTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableSlotLocks,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.IntFieldIndex{Field: "VersionID"},
						&memdb.IntFieldIndex{Field: "SlotID"},
					},
				},
			},
			indexVersion: {
				Name:         indexVersion,
				AllowMissing: false,
				Unique:       false,
				Indexer:      &memdb.IntFieldIndex{Field: "VersionID"},
			},
		},
	}
}

func courtStateTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableCourtStates,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:         indexID,
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.IntFieldIndex{Field: "TournamentID"},
						&memdb.IntFieldIndex{Field: "CourtNumber"},
					},
				},
			},
			indexTournament: {
				Name:         indexTournament,
				AllowMissing: false,
				Unique:       false,
				Indexer:      &memdb.IntFieldIndex{Field: "TournamentID"},
			},
		},
	}
}
