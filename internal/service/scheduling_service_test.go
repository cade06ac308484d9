package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-scheduler/internal/dto"
	"github.com/noah-isme/exam-scheduler/internal/models"
	"github.com/noah-isme/exam-scheduler/internal/scheduler"
	appErrors "github.com/noah-isme/exam-scheduler/pkg/errors"
)

type txProviderMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb, mock: mock}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

type snapshotLoaderStub struct {
	snapshot *scheduler.Snapshot
	err      error
	calls    int
}

func (s *snapshotLoaderStub) Load(context.Context) (*scheduler.Snapshot, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshot, nil
}

type timetableWriterStub struct {
	entries []models.TimetableEntry
	calls   int
	err     error
}

func (s *timetableWriterStub) ReplaceAll(_ context.Context, _ sqlx.ExtContext, entries []models.TimetableEntry) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.entries = entries
	return nil
}

type runRecorderStub struct {
	runs    []*models.ScheduleRun
	version int
}

func (s *runRecorderStub) CreateVersioned(_ context.Context, _ sqlx.ExtContext, run *models.ScheduleRun) error {
	run.Version = s.version
	s.runs = append(s.runs, run)
	return nil
}

type runLockerStub struct {
	held     bool
	acquired []string
	released []string
}

func (s *runLockerStub) Acquire(_ context.Context, _ string, token string, _ time.Duration) (bool, error) {
	if s.held {
		return false, nil
	}
	s.acquired = append(s.acquired, token)
	return true, nil
}

func (s *runLockerStub) Release(_ context.Context, _ string, token string) error {
	s.released = append(s.released, token)
	return nil
}

type reportCacheStub struct {
	items map[string][]byte
}

func newReportCacheStub() *reportCacheStub {
	return &reportCacheStub{items: map[string][]byte{}}
}

func (s *reportCacheStub) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	raw, ok := s.items[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (s *reportCacheStub) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.items[key] = raw
	return nil
}

// twoExamSnapshot has two exams sharing student 101.
func twoExamSnapshot() *scheduler.Snapshot {
	enrollments := scheduler.Enrollments{}
	enrollments.Add(1, 100)
	enrollments.Add(1, 101)
	enrollments.Add(2, 101)
	snapshot := &scheduler.Snapshot{
		Exams:       []scheduler.Exam{{ID: 1, ModuleID: 10, DurationMinutes: 120}, {ID: 2, ModuleID: 20}},
		Rooms:       []scheduler.Room{{ID: 1, Name: "Hall A", Capacity: 50}},
		Staff:       []scheduler.Staff{{ID: 7}, {ID: 8}},
		Enrollments: enrollments,
	}
	snapshot.Normalize()
	return snapshot
}

// triangleSnapshot cannot be fully scheduled on a single cell.
func triangleSnapshot() *scheduler.Snapshot {
	enrollments := scheduler.Enrollments{}
	enrollments.Add(1, 1)
	enrollments.Add(1, 2)
	enrollments.Add(2, 2)
	enrollments.Add(2, 3)
	enrollments.Add(3, 1)
	enrollments.Add(3, 3)
	snapshot := &scheduler.Snapshot{
		Exams:       []scheduler.Exam{{ID: 1}, {ID: 2}, {ID: 3}},
		Rooms:       []scheduler.Room{{ID: 1, Capacity: 10}, {ID: 2, Capacity: 10}},
		Staff:       []scheduler.Staff{{ID: 1}, {ID: 2}},
		Enrollments: enrollments,
	}
	snapshot.Normalize()
	return snapshot
}

type schedulingFixture struct {
	loader    *snapshotLoaderStub
	timetable *timetableWriterStub
	runs      *runRecorderStub
	locker    *runLockerStub
	cache     *reportCacheStub
	mock      sqlmock.Sqlmock
	metrics   *MetricsService
	svc       *SchedulingService
}

func newSchedulingFixture(t *testing.T, snapshot *scheduler.Snapshot, modes *scheduler.ModeRegistry) *schedulingFixture {
	tx, mock := newTxProviderMock(t)
	f := &schedulingFixture{
		loader:    &snapshotLoaderStub{snapshot: snapshot},
		timetable: &timetableWriterStub{},
		runs:      &runRecorderStub{version: 3},
		locker:    &runLockerStub{},
		cache:     newReportCacheStub(),
		mock:      mock,
		metrics:   NewMetricsService(),
	}
	f.svc = NewSchedulingService(SchedulingDeps{
		Loader:    f.loader,
		Timetable: f.timetable,
		Runs:      f.runs,
		Locker:    f.locker,
		Cache:     f.cache,
		Tx:        tx,
		Metrics:   f.metrics,
	}, SchedulingConfig{Modes: modes})
	return f
}

func singleCellModes(t *testing.T) *scheduler.ModeRegistry {
	modes, err := scheduler.NewModeRegistry(
		scheduler.Mode{Name: scheduler.ModeFast, Days: 1, SlotsPerDay: 1, StaffDailyQuota: 3, Deadline: time.Hour},
		scheduler.Mode{Name: scheduler.ModeThorough, Days: 1, SlotsPerDay: 1, StaffDailyQuota: 3, Deadline: time.Hour},
	)
	require.NoError(t, err)
	return modes
}

func TestSchedulingServiceRunPersistsCompleteTimetable(t *testing.T) {
	f := newSchedulingFixture(t, twoExamSnapshot(), nil)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	report, err := f.svc.Run(context.Background(), dto.RunRequest{Mode: "fast"})
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.True(t, report.Success)
	assert.True(t, report.Persisted)
	assert.Equal(t, 3, report.Version)
	assert.Equal(t, 2, report.TotalExams)
	assert.Equal(t, 2, report.Scheduled)
	assert.Empty(t, report.Unassignable)
	assert.Equal(t, 1, report.ConflictEdges)
	assert.NotEmpty(t, report.RunID)

	require.Len(t, f.timetable.entries, 2)
	first, second := f.timetable.entries[0], f.timetable.entries[1]
	assert.Equal(t, int64(1), first.ExamID)
	assert.Equal(t, time.Date(2026, time.June, 1, 8, 30, 0, 0, time.UTC), first.StartTime)
	assert.Equal(t, time.Date(2026, time.June, 1, 10, 30, 0, 0, time.UTC), first.EndTime)
	assert.Equal(t, int64(7), first.SupervisorID)
	assert.Equal(t, int64(2), second.ExamID)
	assert.Equal(t, time.Date(2026, time.June, 2, 8, 30, 0, 0, time.UTC), second.StartTime)
	assert.Equal(t, time.Date(2026, time.June, 2, 10, 0, 0, 0, time.UTC), second.EndTime)
	assert.Equal(t, int64(8), second.SupervisorID)
	assert.Equal(t, models.TimetableStatusDraft, second.Status)

	require.Len(t, f.runs.runs, 1)
	run := f.runs.runs[0]
	assert.Equal(t, report.RunID, run.ID)
	assert.Equal(t, "fast", run.Mode)
	assert.True(t, run.Success)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(run.Meta, &meta))
	assert.EqualValues(t, 1, meta["conflict_edges"])

	assert.Equal(t, []string{report.RunID}, f.locker.acquired)
	assert.Equal(t, []string{report.RunID}, f.locker.released)
	assert.Contains(t, scrape(t, f.metrics), `scheduler_runs_total{mode="fast",outcome="success"} 1`)
}

func TestSchedulingServiceDryRunSkipsPersistence(t *testing.T) {
	f := newSchedulingFixture(t, twoExamSnapshot(), nil)

	report, err := f.svc.Run(context.Background(), dto.RunRequest{Mode: "thorough", DryRun: true})
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.True(t, report.Success)
	assert.False(t, report.Persisted)
	assert.Zero(t, f.timetable.calls)
	assert.Empty(t, f.locker.acquired)
}

func TestSchedulingServiceFastPartialRunIsNotPersisted(t *testing.T) {
	f := newSchedulingFixture(t, triangleSnapshot(), singleCellModes(t))

	report, err := f.svc.Run(context.Background(), dto.RunRequest{Mode: "draft"})
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.Equal(t, "fast", report.Mode)
	assert.False(t, report.Success)
	assert.Equal(t, 1, report.Scheduled)
	assert.Equal(t, []int64{2, 3}, report.Unassignable)
	assert.False(t, report.Persisted)
	assert.Zero(t, f.timetable.calls)
	assert.Contains(t, scrape(t, f.metrics), `scheduler_runs_total{mode="fast",outcome="partial"} 1`)
}

func TestSchedulingServicePartialRunPersistsWhenRequested(t *testing.T) {
	for _, tc := range []struct {
		name string
		req  dto.RunRequest
	}{
		{name: "fast with persist partial", req: dto.RunRequest{Mode: "fast", PersistPartial: true}},
		{name: "thorough", req: dto.RunRequest{Mode: "thorough"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newSchedulingFixture(t, triangleSnapshot(), singleCellModes(t))
			f.mock.ExpectBegin()
			f.mock.ExpectCommit()

			report, err := f.svc.Run(context.Background(), tc.req)
			require.NoError(t, err)
			require.NoError(t, f.mock.ExpectationsWereMet())

			assert.False(t, report.Success)
			assert.True(t, report.Persisted)
			require.Len(t, f.timetable.entries, 1)
			assert.Equal(t, int64(1), f.timetable.entries[0].ExamID)
			assert.Equal(t, 2, f.runs.runs[0].Unassignable)
		})
	}
}

func TestSchedulingServiceRunLocked(t *testing.T) {
	f := newSchedulingFixture(t, twoExamSnapshot(), nil)
	f.locker.held = true

	_, err := f.svc.Run(context.Background(), dto.RunRequest{Mode: "fast"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrRunLocked))
	assert.Zero(t, f.timetable.calls)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSchedulingServiceRollsBackOnWriteFailure(t *testing.T) {
	f := newSchedulingFixture(t, twoExamSnapshot(), nil)
	f.timetable.err = errors.New("disk full")
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Run(context.Background(), dto.RunRequest{Mode: "fast"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPersist))
	assert.Empty(t, f.runs.runs)
	require.NoError(t, f.mock.ExpectationsWereMet())
	assert.Len(t, f.locker.released, 1)

	_, err = f.svc.LastReport(context.Background())
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestSchedulingServiceSnapshotLoadFailure(t *testing.T) {
	f := newSchedulingFixture(t, nil, nil)
	f.loader.err = errors.New("connection refused")

	_, err := f.svc.Run(context.Background(), dto.RunRequest{Mode: "fast"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrSnapshotLoad))
	assert.Contains(t, scrape(t, f.metrics), `scheduler_runs_total{mode="fast",outcome="error"} 1`)
}

func TestSchedulingServiceRejectsInvalidRequests(t *testing.T) {
	f := newSchedulingFixture(t, twoExamSnapshot(), nil)

	_, err := f.svc.Run(context.Background(), dto.RunRequest{Mode: "exhaustive"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.Run(context.Background(), dto.RunRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Zero(t, f.loader.calls)
}

func TestSchedulingServiceUsesSnapshotFile(t *testing.T) {
	f := newSchedulingFixture(t, nil, nil)
	var requested string
	f.svc.fileLoader = func(path string) (*scheduler.Snapshot, error) {
		requested = path
		return twoExamSnapshot(), nil
	}

	report, err := f.svc.Run(context.Background(), dto.RunRequest{Mode: "fast", SnapshotFile: "snap.json", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "snap.json", requested)
	assert.Zero(t, f.loader.calls)
	assert.Equal(t, 2, report.Scheduled)
}

func TestSchedulingServiceLastReport(t *testing.T) {
	f := newSchedulingFixture(t, twoExamSnapshot(), nil)

	report, err := f.svc.Run(context.Background(), dto.RunRequest{Mode: "fast", DryRun: true})
	require.NoError(t, err)

	cached, err := f.svc.LastReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.RunID, cached.RunID)
	assert.Equal(t, report.Scheduled, cached.Scheduled)
}

func TestSchedulingServiceBenchmark(t *testing.T) {
	f := newSchedulingFixture(t, triangleSnapshot(), singleCellModes(t))

	bench, err := f.svc.Benchmark(context.Background(), "thorough", "")
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.Equal(t, "thorough", bench.Mode)
	assert.Equal(t, 3, bench.Exams)
	assert.Equal(t, 3, bench.Edges)
	assert.Equal(t, 1, bench.Scheduled)
	assert.Equal(t, 2, bench.Unassignable)
	assert.Zero(t, f.timetable.calls)
}

func TestEntriesFromAssignmentDefaultsDuration(t *testing.T) {
	snapshot := &scheduler.Snapshot{Exams: []scheduler.Exam{{ID: 5}}}
	assignment := scheduler.Assignment{5: {Day: 2, Slot: 3, RoomID: 1, StaffID: 9}}

	entries := EntriesFromAssignment(snapshot, assignment, scheduler.DefaultWallClock())
	require.Len(t, entries, 1)
	assert.Equal(t, time.Date(2026, time.June, 3, 15, 30, 0, 0, time.UTC), entries[0].StartTime)
	assert.Equal(t, 90*time.Minute, entries[0].EndTime.Sub(entries[0].StartTime))
}

func TestSchedulingServiceRunIsIdempotent(t *testing.T) {
	f := newSchedulingFixture(t, twoExamSnapshot(), nil)
	var persisted [][]models.TimetableEntry
	for i := 0; i < 2; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()

		report, err := f.svc.Run(context.Background(), dto.RunRequest{Mode: "fast"})
		require.NoError(t, err)
		require.True(t, report.Persisted)
		persisted = append(persisted, f.timetable.entries)
	}
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.Equal(t, 2, f.timetable.calls)
	require.Len(t, persisted[0], 2)
	assert.Equal(t, persisted[0], persisted[1])
}

func TestSchedulingServiceRejectsClockWithSharedStartTimes(t *testing.T) {
	modes, err := scheduler.NewModeRegistry(
		scheduler.Mode{Name: scheduler.ModeFast, Days: 1, SlotsPerDay: 2, StaffDailyQuota: 2, Deadline: time.Hour},
	)
	require.NoError(t, err)
	snapshot := &scheduler.Snapshot{
		Exams: []scheduler.Exam{{ID: 1}, {ID: 2}},
		Rooms: []scheduler.Room{{ID: 1, Capacity: 10}},
		Staff: []scheduler.Staff{{ID: 1}, {ID: 2}},
	}
	snapshot.Normalize()

	f := newSchedulingFixture(t, snapshot, modes)
	f.svc = NewSchedulingService(SchedulingDeps{
		Loader:    f.loader,
		Timetable: f.timetable,
		Runs:      f.runs,
		Locker:    f.locker,
		Metrics:   f.metrics,
	}, SchedulingConfig{
		Modes: modes,
		Clock: scheduler.WallClock{Epoch: scheduler.DefaultWallClock().Epoch, SlotOffsets: []time.Duration{0, 0}},
	})

	_, err = f.svc.Run(context.Background(), dto.RunRequest{Mode: "fast"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Zero(t, f.timetable.calls)
}

func TestSlotOverrunsListsLongExams(t *testing.T) {
	snapshot := &scheduler.Snapshot{Exams: []scheduler.Exam{
		{ID: 3, DurationMinutes: 180},
		{ID: 1, DurationMinutes: 90},
		{ID: 2, DurationMinutes: 240},
		{ID: 4, DurationMinutes: 600},
	}}
	assignment := scheduler.Assignment{
		1: {Day: 0, Slot: 0},
		2: {Day: 0, Slot: 1},
		3: {Day: 1, Slot: 0},
	}

	assert.Equal(t, []int64{2, 3}, SlotOverruns(snapshot, assignment, scheduler.DefaultWallClock()))
	assert.Empty(t, SlotOverruns(snapshot, scheduler.Assignment{1: {Day: 0, Slot: 3}}, scheduler.DefaultWallClock()))
}
