package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"behavior-session-backend/internal/model"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestGormStore_UpsertSession(t *testing.T) {
	start := time.Date(2023, 10, 5, 8, 15, 30, 0, time.UTC)
	stop := start.Add(65 * time.Minute)

	testCases := []struct {
		name             string
		artifacts        []model.Artifact
		mockExpectations func(mock sqlmock.Sqlmock)
		expectedErr      bool
	}{
		{
			name: "Session with artifacts is upserted in one transaction",
			artifacts: []model.Artifact{
				{Stream: "lick", Path: "/data/lick.json", RowCount: 12, Present: true},
				{Stream: "reward", Present: false},
			},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "sessions"`)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "artifacts"`)).
					WillReturnResult(sqlmock.NewResult(0, 2))
				mock.ExpectCommit()
			},
		},
		{
			name:      "Session without artifacts skips the artifact insert",
			artifacts: nil,
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "sessions"`)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name:      "Failed session insert rolls back",
			artifacts: []model.Artifact{{Stream: "lick", Present: true}},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "sessions"`)).
					WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			expectedErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newTestDB(t)
			store := NewGormStore(gormDB)
			sess := &model.Session{
				ID:              "2023-10-05_08-15-30",
				Name:            "2023-10-05_08-15-30_1h-5min",
				StartDate:       "2023-10-05",
				Dir:             "/data/2023-10-05/08-15-30",
				StartedAt:       &start,
				StoppedAt:       &stop,
				DurationSeconds: stop.Sub(start).Seconds(),
				ProcessedAt:     time.Now(),
			}

			tc.mockExpectations(mock)

			err := store.UpsertSession(context.Background(), sess, tc.artifacts)

			if tc.expectedErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				for _, a := range tc.artifacts {
					assert.Equal(t, sess.ID, a.SessionID)
				}
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_ListSessions(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "sessions" WHERE duration_seconds > $1 ORDER BY id`)).
		WithArgs(120.0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "duration_seconds"}).
			AddRow("2023-10-05_08-15-30", "2023-10-05_08-15-30_1h-5min", 3900.0).
			AddRow("2023-10-06_09-00-00", "2023-10-06_09-00-00_0h-3min", 180.0))

	sessions, err := store.ListSessions(context.Background(), 2*time.Minute)

	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "2023-10-05_08-15-30", sessions[0].ID)
	assert.Equal(t, 180.0, sessions[1].DurationSeconds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_ListSessions_All(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "sessions" ORDER BY id`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "duration_seconds"}).
			AddRow("2023-10-07_11-00-00", 0.0))

	sessions, err := store.ListSessions(context.Background(), 0)

	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetSession_NotFound(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "sessions" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	sess, err := store.GetSession(context.Background(), "nope")

	assert.Nil(t, sess)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetSession(t *testing.T) {
	gormDB, mock := newTestDB(t)
	store := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "sessions" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("2023-10-05_08-15-30", "s"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "artifacts" WHERE "artifacts"."session_id" = $1`)).
		WithArgs("2023-10-05_08-15-30").
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "stream", "row_count", "present"}).
			AddRow("2023-10-05_08-15-30", "lick", 3, true))

	sess, err := store.GetSession(context.Background(), "2023-10-05_08-15-30")

	require.NoError(t, err)
	require.Len(t, sess.Artifacts, 1)
	assert.Equal(t, "lick", sess.Artifacts[0].Stream)
	assert.NoError(t, mock.ExpectationsWereMet())
}
