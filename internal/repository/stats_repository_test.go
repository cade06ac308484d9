package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsRepositoryQueries(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewStatsRepository(db)
	ctx := context.Background()

	day := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DATE(start_time) AS date, COUNT(id) AS count")).
		WillReturnRows(sqlmock.NewRows([]string{"date", "count"}).AddRow(day, 12))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT r.name, AVG(")).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"name", "rate"}).AddRow("Hall A", 62.5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT p.id AS staff_id")).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"staff_id", "name", "count"}).AddRow(7, "Ada", 3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS count FROM timetable_entries")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("DRAFT", 12))

	days, err := repo.ExamsByDay(ctx)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, 12, days[0].Count)

	rooms, err := repo.RoomOccupancy(ctx, 10)
	require.NoError(t, err)
	assert.InDelta(t, 62.5, rooms[0].Rate, 0.001)

	load, err := repo.SupervisionLoad(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(7), load[0].StaffID)

	statuses, err := repo.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DRAFT", statuses[0].Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}
