// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package desk

import (
	"testing"

	"github.com/shoenig/test/must"

	"github.com/hashicorp/courtside/ci"
	"github.com/hashicorp/courtside/courtside/mock"
	"github.com/hashicorp/courtside/courtside/structs"
)

func TestDesk_CloneToDeskDraft(t *testing.T) {
	ci.Parallel(t)
	store, d, version, _ := setupDesk(t, bracketSpec())
	tourID := version.TournamentID

	must.NoError(t, store.FinalizeVersion(store.NextIndex(), version.ID))
	must.NoError(t, store.SetPublishedVersion(store.NextIndex(), tourID, version.ID))

	sourceMatches, err := store.MatchesByVersion(nil, version.ID)
	must.NoError(t, err)

	result, err := d.CloneToDeskDraft(tourID)
	must.NoError(t, err)
	must.True(t, result.Created)
	must.NotEq(t, version.ID, result.Version.ID)
	must.Eq(t, structs.DeskDraftTag, result.Version.Tag)
	must.Eq(t, structs.VersionStatusDraft, result.Version.Status)
	must.Eq(t, version.ID, result.Version.ClonedFromID)

	// The clone carries the full match graph under fresh ids.
	cloned, err := store.MatchesByVersion(nil, result.Version.ID)
	must.NoError(t, err)
	must.Len(t, len(sourceMatches), cloned)

	// The published pointer moved with the clone.
	tour, err := store.TournamentByID(nil, tourID)
	must.NoError(t, err)
	must.Eq(t, result.Version.ID, tour.PublishedVersionID)

	// Idempotent: the second call returns the same draft.
	again, err := d.CloneToDeskDraft(tourID)
	must.NoError(t, err)
	must.False(t, again.Created)
	must.Eq(t, result.Version.ID, again.Version.ID)
}

func TestDesk_CloneToDeskDraft_FallsBackToLatestFinal(t *testing.T) {
	ci.Parallel(t)
	store, d, version, _ := setupDesk(t, rrSpec(5))
	tourID := version.TournamentID

	// Final version, no published pointer.
	must.NoError(t, store.FinalizeVersion(store.NextIndex(), version.ID))

	result, err := d.CloneToDeskDraft(tourID)
	must.NoError(t, err)
	must.True(t, result.Created)
	must.Eq(t, version.ID, result.Version.ClonedFromID)
}

func TestDesk_CloneToDeskDraft_NoSource(t *testing.T) {
	ci.Parallel(t)
	r := newRawDesk(t)

	// Only an untagged draft exists: nothing published, nothing final.
	_, err := r.desk.CloneToDeskDraft(r.tour.ID)
	must.Error(t, err)
	must.True(t, structs.IsErrValidation(err))

	_, err = r.desk.CloneToDeskDraft(424242)
	must.Error(t, err)
	must.True(t, structs.IsErrNotFound(err))
}

func TestDesk_ResolveLiveVersion(t *testing.T) {
	ci.Parallel(t)
	store, d, version, _ := setupDesk(t, rrSpec(5))
	tourID := version.TournamentID

	// An explicit id wins regardless of pointers.
	got, err := d.ResolveLiveVersion(tourID, version.ID)
	must.NoError(t, err)
	must.Eq(t, version.ID, got.ID)

	_, err = d.ResolveLiveVersion(tourID, 424242)
	must.Error(t, err)
	must.True(t, structs.IsErrNotFound(err))

	// An explicit id of another tournament is rejected.
	other := mock.Tournament()
	other.Name = "Spring Cup"
	must.NoError(t, store.UpsertTournament(store.NextIndex(), other))
	_, err = d.ResolveLiveVersion(other.ID, version.ID)
	must.Error(t, err)
	must.True(t, structs.IsErrValidation(err))

	// Without pointers and tags there is nothing to resolve.
	_, err = d.ResolveLiveVersion(tourID, 0)
	must.Error(t, err)
	must.True(t, structs.IsErrNotFound(err))

	// The latest final version is the last fallback.
	must.NoError(t, store.FinalizeVersion(store.NextIndex(), version.ID))
	got, err = d.ResolveLiveVersion(tourID, 0)
	must.NoError(t, err)
	must.Eq(t, version.ID, got.ID)

	// A published pointer outranks it.
	published := mock.Version(tourID)
	must.NoError(t, store.UpsertScheduleVersion(store.NextIndex(), published))
	must.NoError(t, store.SetPublishedVersion(store.NextIndex(), tourID, published.ID))
	got, err = d.ResolveLiveVersion(tourID, 0)
	must.NoError(t, err)
	must.Eq(t, published.ID, got.ID)

	// The desk draft outranks everything but an explicit id.
	draft := mock.Version(tourID)
	draft.Tag = structs.DeskDraftTag
	must.NoError(t, store.UpsertScheduleVersion(store.NextIndex(), draft))
	got, err = d.ResolveLiveVersion(tourID, 0)
	must.NoError(t, err)
	must.Eq(t, draft.ID, got.ID)

	got, err = d.ResolveLiveVersion(tourID, version.ID)
	must.NoError(t, err)
	must.Eq(t, version.ID, got.ID)
}
