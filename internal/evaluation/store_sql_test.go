package evaluation_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalboard/evalboard-server/internal/db"
	"github.com/evalboard/evalboard-server/internal/evaluation"
)

func openTestStore(t *testing.T) *evaluation.SQLStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })
	return evaluation.NewSQLStore(dbh)
}

func sampleSession() *evaluation.Session {
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	return &evaluation.Session{
		ID:      "sess-1",
		BoardID: "B1", TeamID: "T1", Phase: evaluation.PhaseA,
		Evaluations: map[string]evaluation.Evaluation{
			"F2": {
				RaterID: "F2", RaterName: "Prof. Two", Type: evaluation.TypeTeam,
				Team:        &evaluation.TeamMark{Mark: 70, Feedback: "solid"},
				SubmittedAt: now, LastModified: now,
			},
		},
		TotalEvaluators: 3,
		Status:          evaluation.StatusInProgress,
		CreatedAt:       now, UpdatedAt: now,
	}
}

func TestSQLStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	s := sampleSession()
	require.NoError(t, store.Create(ctx, s))
	assert.Equal(t, int64(1), s.Version)

	got, err := store.Get(ctx, "B1", "T1", evaluation.PhaseA)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, 3, got.TotalEvaluators)
	assert.Equal(t, 1, got.SubmittedEvaluations())
	require.NotNil(t, got.Evaluations["F2"].Team)
	assert.Equal(t, 70.0, got.Evaluations["F2"].Team.Mark)

	byID, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, got.ID, byID.ID)
}

func TestSQLStoreUniqueTriple(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, sampleSession()))
	dup := sampleSession()
	dup.ID = "sess-2"
	assert.ErrorIs(t, store.Create(ctx, dup), evaluation.ErrSessionExists)
}

func TestSQLStoreVersionConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	s := sampleSession()
	require.NoError(t, store.Create(ctx, s))

	a, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)
	b, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)

	a.Status = evaluation.StatusPendingAdminReview
	require.NoError(t, store.Update(ctx, a))

	b.Status = evaluation.StatusAdminReviewed
	assert.ErrorIs(t, store.Update(ctx, b), evaluation.ErrVersionConflict)

	missing := sampleSession()
	missing.ID = "nope"
	missing.Version = 1
	assert.ErrorIs(t, store.Update(ctx, missing), evaluation.ErrSessionNotFound)
}

func TestSQLStoreListAndCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	s1 := sampleSession()
	require.NoError(t, store.Create(ctx, s1))

	s2 := sampleSession()
	s2.ID = "sess-2"
	s2.TeamID = "T2"
	s2.Status = evaluation.StatusPendingAdminReview
	require.NoError(t, store.Create(ctx, s2))

	pending, err := store.ListByStatus(ctx,
		evaluation.StatusPendingAdminReview, evaluation.StatusAdminReviewed)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "sess-2", pending[0].ID)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[evaluation.StatusInProgress])
	assert.Equal(t, 1, counts[evaluation.StatusPendingAdminReview])
}
