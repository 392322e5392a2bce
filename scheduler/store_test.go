package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore("sqlite", filepath.Join(t.TempDir(), "forge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSchedules(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	assert.True(t, s.IsSQLite())

	require.NoError(t, s.Upsert(ctx, ScheduleRecord{Name: "gpcp", Repo: "https://x/gpcp", CronSpec: "0 0 * * * *", Bakery: "dataflow"}))
	require.NoError(t, s.Upsert(ctx, ScheduleRecord{Name: "aqua", Repo: "https://x/aqua", Ref: "main", CronSpec: "0 0 0 * * *", Bakery: "local-direct", Prune: true}))
	require.NoError(t, s.Upsert(ctx, ScheduleRecord{Name: "gpcp", Repo: "https://x/gpcp", CronSpec: "0 30 * * * *", Bakery: "dataflow"}))

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "aqua", recs[0].Name)
	assert.True(t, recs[0].Prune)
	assert.Equal(t, "main", recs[0].Ref)
	assert.Equal(t, "0 30 * * * *", recs[1].CronSpec, "upsert replaces")

	require.NoError(t, s.Delete(ctx, "aqua"))
	assert.True(t, errors.Is(s.Delete(ctx, "aqua"), ErrNotFound))
}

func TestStoreSubmissions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.RecordSubmission(ctx, SubmissionRecord{RunID: "r1", Recipe: "gpcp", JobName: "gpcp-a-1", Bakery: "dataflow", JobID: "2024-01", Status: "submitted", SubmittedAt: 1}))
	require.NoError(t, s.RecordSubmission(ctx, SubmissionRecord{RunID: "r1", Recipe: "aqua", JobName: "aqua-b-2", Bakery: "dataflow", Status: "error", Error: "boom", SubmittedAt: 2}))

	recs, err := s.Submissions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "aqua", recs[0].Recipe)
	assert.Equal(t, "boom", recs[0].Error)
	assert.Equal(t, "2024-01", recs[1].JobID)

	recs, err = s.Submissions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
