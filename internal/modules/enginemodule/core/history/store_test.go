package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", ":memory:", hclog.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Record(ctx, &JobRecord{JobID: "a", Sequence: 257, Logical: 1, Pass: "first", Status: StatusCompleted, OutFrames: 1200, StartedAt: now, FinishedAt: now}))
	require.NoError(t, s.Record(ctx, &JobRecord{JobID: "a", Sequence: 258, Logical: 1, Pass: "second", Status: StatusCompleted, OutFrames: 1200, StartedAt: now, FinishedAt: now}))
	require.NoError(t, s.Record(ctx, &JobRecord{JobID: "b", Sequence: 512, Logical: 2, Pass: "single", Status: StatusFailed, Error: "boom", StartedAt: now, FinishedAt: now}))

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].JobID)

	passes, err := s.ForJob(ctx, "a")
	require.NoError(t, err)
	require.Len(t, passes, 2)
	assert.Equal(t, "first", passes[0].Pass)
	assert.Equal(t, "second", passes[1].Pass)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats[StatusCompleted])
	assert.Equal(t, int64(1), stats[StatusFailed])
}

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := Open("oracle", "", hclog.NewNullLogger())
	assert.Error(t, err)
}

func TestRecordSurfacesDatabaseErrors(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)
	s := &Store{db: db, logger: hclog.NewNullLogger()}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "job_records"`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = s.Record(context.Background(), &JobRecord{JobID: "x", Status: StatusFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
