package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/exam-scheduler/internal/dto"
	"github.com/noah-isme/exam-scheduler/internal/models"
	"github.com/noah-isme/exam-scheduler/internal/scheduler"
	appErrors "github.com/noah-isme/exam-scheduler/pkg/errors"
)

type snapshotLoader interface {
	Load(ctx context.Context) (*scheduler.Snapshot, error)
}

// SnapshotFileLoader reads a snapshot from disk.
type SnapshotFileLoader func(path string) (*scheduler.Snapshot, error)

type timetableWriter interface {
	ReplaceAll(ctx context.Context, exec sqlx.ExtContext, entries []models.TimetableEntry) error
}

type runRecorder interface {
	CreateVersioned(ctx context.Context, exec sqlx.ExtContext, run *models.ScheduleRun) error
}

type runLocker interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

type reportCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type timetableValidator interface {
	Validate(ctx context.Context) (*dto.ValidationReport, error)
}

// SchedulingConfig governs SchedulingService behaviour.
type SchedulingConfig struct {
	Modes           *scheduler.ModeRegistry
	Clock           scheduler.WallClock
	AffinityPenalty int
	Optimizer       scheduler.Optimizer
	LockKey         string
	LockTTL         time.Duration
	ReportKey       string
	ReportTTL       time.Duration
}

// SchedulingService runs the full pipeline: load, conflict graph, engine,
// atomic write-back and optional validation.
type SchedulingService struct {
	loader     snapshotLoader
	fileLoader SnapshotFileLoader
	timetable  timetableWriter
	runs       runRecorder
	locker     runLocker
	cache      reportCache
	tx         txProvider
	validation timetableValidator
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        SchedulingConfig
	now        func() time.Time
}

// SchedulingDeps groups the collaborators of SchedulingService. Locker,
// Cache, Validation and Metrics are optional.
type SchedulingDeps struct {
	Loader     snapshotLoader
	FileLoader SnapshotFileLoader
	Timetable  timetableWriter
	Runs       runRecorder
	Locker     runLocker
	Cache      reportCache
	Tx         txProvider
	Validation timetableValidator
	Metrics    *MetricsService
	Validator  *validator.Validate
	Logger     *zap.Logger
}

// NewSchedulingService wires the scheduling pipeline.
func NewSchedulingService(deps SchedulingDeps, cfg SchedulingConfig) *SchedulingService {
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Modes == nil {
		cfg.Modes, _ = scheduler.NewModeRegistry(scheduler.FastMode(), scheduler.ThoroughMode())
	}
	if len(cfg.Clock.SlotOffsets) == 0 {
		cfg.Clock = scheduler.DefaultWallClock()
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "examsched:lock:replace"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.ReportKey == "" {
		cfg.ReportKey = "examsched:report:last"
	}
	return &SchedulingService{
		loader:     deps.Loader,
		fileLoader: deps.FileLoader,
		timetable:  deps.Timetable,
		runs:       deps.Runs,
		locker:     deps.Locker,
		cache:      deps.Cache,
		tx:         deps.Tx,
		validation: deps.Validation,
		metrics:    deps.Metrics,
		validator:  deps.Validator,
		logger:     deps.Logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// solved is the in-memory outcome of load, graph and engine phases.
type solved struct {
	mode         scheduler.Mode
	snapshot     *scheduler.Snapshot
	graph        scheduler.ConflictGraph
	result       *scheduler.Result
	loadElapsed  time.Duration
	graphElapsed time.Duration
}

// Run executes one scheduling run and, unless it is a dry run, replaces the
// stored timetable. Infeasible exams and deadline hits are reported, not
// returned as errors.
func (s *SchedulingService) Run(ctx context.Context, req dto.RunRequest) (*dto.RunReport, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid run request")
	}

	runID := uuid.NewString()
	out, err := s.solve(ctx, req.Mode, req.SnapshotFile)
	if err != nil {
		s.metrics.RecordRun(req.Mode, "error", 0, 0)
		return nil, err
	}
	result := out.result

	report := &dto.RunReport{
		RunID:         runID,
		Mode:          out.mode.Name,
		Success:       result.Success,
		TotalExams:    len(out.snapshot.Exams),
		Scheduled:     result.Scheduled(),
		Unassignable:  result.Unassignable,
		ConflictEdges: out.graph.EdgeCount(),
		DeadlineHit:   result.DeadlineExceeded,
		LoadElapsed:   out.loadElapsed,
		GraphElapsed:  out.graphElapsed,
		Elapsed:       result.Elapsed,
		SlotOverruns:  SlotOverruns(out.snapshot, result.Assignment, s.cfg.Clock),
	}
	if len(report.SlotOverruns) > 0 {
		s.logger.Warn("exams run into the next slot and may overlap in real time",
			zap.String("run_id", runID),
			zap.Int64s("exam_ids", report.SlotOverruns),
		)
	}

	if s.shouldPersist(req, out.mode, result) {
		persistStart := s.now()
		version, err := s.persist(ctx, runID, out)
		report.PersistElapsed = s.now().Sub(persistStart)
		s.metrics.ObservePhase(out.mode.Name, PhasePersist, report.PersistElapsed)
		if err != nil {
			s.metrics.RecordRun(out.mode.Name, "error", 0, 0)
			return nil, err
		}
		report.Persisted = true
		report.Version = version
	} else {
		s.logger.Info("timetable not persisted",
			zap.String("run_id", runID),
			zap.String("mode", out.mode.Name),
			zap.Bool("dry_run", req.DryRun),
			zap.Bool("success", result.Success),
			zap.Int("scheduled", result.Scheduled()),
		)
	}

	if req.Validate && report.Persisted && s.validation != nil {
		validation, err := s.validation.Validate(ctx)
		if err != nil {
			return nil, err
		}
		report.Validation = validation
	}

	report.FinishedAt = s.now().UTC()
	if s.cache != nil {
		_ = s.cache.Set(ctx, s.cfg.ReportKey, report, s.cfg.ReportTTL)
	}

	outcome := "success"
	if !result.Success {
		outcome = "partial"
	}
	s.metrics.RecordRun(out.mode.Name, outcome, len(result.Unassignable), report.ConflictEdges)

	s.logger.Info("scheduling run finished",
		zap.String("run_id", runID),
		zap.String("mode", report.Mode),
		zap.Bool("success", report.Success),
		zap.Int("total_exams", report.TotalExams),
		zap.Int("scheduled", report.Scheduled),
		zap.Int("unassignable", len(report.Unassignable)),
		zap.Bool("persisted", report.Persisted),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// Benchmark times the load, graph and solve phases without touching storage.
func (s *SchedulingService) Benchmark(ctx context.Context, modeName, snapshotFile string) (*dto.BenchmarkReport, error) {
	start := s.now()
	out, err := s.solve(ctx, modeName, snapshotFile)
	if err != nil {
		return nil, err
	}
	return &dto.BenchmarkReport{
		Mode:         out.mode.Name,
		Exams:        len(out.snapshot.Exams),
		Rooms:        len(out.snapshot.Rooms),
		Staff:        len(out.snapshot.Staff),
		Edges:        out.graph.EdgeCount(),
		Scheduled:    out.result.Scheduled(),
		Unassignable: len(out.result.Unassignable),
		Load:         out.loadElapsed,
		Graph:        out.graphElapsed,
		Solve:        out.result.Elapsed,
		Total:        s.now().Sub(start),
	}, nil
}

// LastReport returns the report of the most recent run from the cache.
func (s *SchedulingService) LastReport(ctx context.Context) (*dto.RunReport, error) {
	if s.cache == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no run report cached")
	}
	var report dto.RunReport
	hit, err := s.cache.Get(ctx, s.cfg.ReportKey, &report)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read cached run report")
	}
	if !hit {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no run report cached")
	}
	return &report, nil
}

func (s *SchedulingService) solve(ctx context.Context, modeName, snapshotFile string) (*solved, error) {
	mode, ok := s.cfg.Modes.Lookup(modeName)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown scheduling mode "+modeName)
	}
	if err := s.cfg.Clock.Supports(mode); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "mode does not fit the slot clock")
	}

	loadStart := s.now()
	snapshot, err := s.load(ctx, snapshotFile)
	if err != nil {
		return nil, err
	}
	loadElapsed := s.now().Sub(loadStart)
	s.metrics.ObservePhase(mode.Name, PhaseLoad, loadElapsed)
	s.logger.Info("snapshot loaded",
		zap.Int("exams", len(snapshot.Exams)),
		zap.Int("rooms", len(snapshot.Rooms)),
		zap.Int("staff", len(snapshot.Staff)),
		zap.Int("enrolled_exams", len(snapshot.Enrollments)),
		zap.Duration("elapsed", loadElapsed),
	)

	graphStart := s.now()
	graph := scheduler.BuildConflictGraph(snapshot.Enrollments)
	graphElapsed := s.now().Sub(graphStart)
	s.metrics.ObservePhase(mode.Name, PhaseGraph, graphElapsed)

	engine, err := scheduler.NewEngine(scheduler.Options{
		Mode:            mode,
		AffinityPenalty: s.cfg.AffinityPenalty,
		Optimizer:       s.cfg.Optimizer,
		Logger:          s.logger,
		Now:             s.now,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scheduling mode")
	}
	result := engine.Run(snapshot, graph)
	s.metrics.ObservePhase(mode.Name, PhaseSolve, result.Elapsed)

	return &solved{
		mode:         mode,
		snapshot:     snapshot,
		graph:        graph,
		result:       result,
		loadElapsed:  loadElapsed,
		graphElapsed: graphElapsed,
	}, nil
}

func (s *SchedulingService) load(ctx context.Context, snapshotFile string) (*scheduler.Snapshot, error) {
	var (
		snapshot *scheduler.Snapshot
		err      error
	)
	switch {
	case snapshotFile != "":
		if s.fileLoader == nil {
			return nil, appErrors.Clone(appErrors.ErrSnapshotLoad, "snapshot file loading is not configured")
		}
		snapshot, err = s.fileLoader(snapshotFile)
	case s.loader != nil:
		snapshot, err = s.loader.Load(ctx)
	default:
		return nil, appErrors.Clone(appErrors.ErrSnapshotLoad, "no snapshot source configured")
	}
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrSnapshotLoad, err, "")
	}
	return snapshot, nil
}

// shouldPersist applies the write-back policy: fast runs only replace the
// stored timetable when complete unless partial persistence is requested,
// other modes always persist. Dry runs and empty assignments never persist.
func (s *SchedulingService) shouldPersist(req dto.RunRequest, mode scheduler.Mode, result *scheduler.Result) bool {
	if req.DryRun || result.Scheduled() == 0 {
		return false
	}
	if mode.Name == scheduler.ModeFast && !result.Success && !req.PersistPartial {
		return false
	}
	return true
}

func (s *SchedulingService) persist(ctx context.Context, runID string, out *solved) (version int, err error) {
	if s.tx == nil || s.timetable == nil || s.runs == nil {
		return 0, appErrors.Clone(appErrors.ErrPersist, "persistence is not configured")
	}

	if s.locker != nil {
		acquired, lockErr := s.locker.Acquire(ctx, s.cfg.LockKey, runID, s.cfg.LockTTL)
		if lockErr != nil {
			return 0, appErrors.WrapAs(appErrors.ErrPersist, lockErr, "failed to acquire replace lock")
		}
		if !acquired {
			return 0, appErrors.Clone(appErrors.ErrRunLocked, "")
		}
		defer func() {
			if releaseErr := s.locker.Release(context.WithoutCancel(ctx), s.cfg.LockKey, runID); releaseErr != nil {
				s.logger.Warn("failed to release replace lock", zap.String("run_id", runID), zap.Error(releaseErr))
			}
		}()
	}

	entries := EntriesFromAssignment(out.snapshot, out.result.Assignment, s.cfg.Clock)

	metaBytes, marshalErr := json.Marshal(map[string]any{
		"unassignable":      out.result.Unassignable,
		"deadline_exceeded": out.result.DeadlineExceeded,
		"optimizer":         out.result.Optimizer,
		"conflict_edges":    out.graph.EdgeCount(),
		"visited":           out.result.Visited,
		"load_ms":           out.loadElapsed.Milliseconds(),
		"graph_ms":          out.graphElapsed.Milliseconds(),
		"days":              out.mode.Days,
		"slots_per_day":     out.mode.SlotsPerDay,
		"staff_daily_quota": out.mode.StaffDailyQuota,
	})
	if marshalErr != nil {
		return 0, appErrors.WrapAs(appErrors.ErrInternal, marshalErr, "failed to encode run metadata")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return 0, appErrors.WrapAs(appErrors.ErrPersist, err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.timetable.ReplaceAll(ctx, tx, entries); err != nil {
		err = appErrors.WrapAs(appErrors.ErrPersist, err, "failed to replace timetable entries")
		return 0, err
	}

	record := &models.ScheduleRun{
		ID:           runID,
		Mode:         out.mode.Name,
		Success:      out.result.Success,
		TotalExams:   len(out.snapshot.Exams),
		Scheduled:    out.result.Scheduled(),
		Unassignable: len(out.result.Unassignable),
		ElapsedMS:    out.result.Elapsed.Milliseconds(),
		Meta:         types.JSONText(metaBytes),
	}
	if err = s.runs.CreateVersioned(ctx, tx, record); err != nil {
		err = appErrors.WrapAs(appErrors.ErrPersist, err, "failed to record schedule run")
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.WrapAs(appErrors.ErrPersist, err, "failed to commit timetable transaction")
		return 0, err
	}

	s.logger.Info("timetable replaced",
		zap.String("run_id", runID),
		zap.Int("entries", len(entries)),
		zap.Int("version", record.Version),
	)
	return record.Version, nil
}

// SlotOverruns lists, sorted by id, the scheduled exams whose duration
// extends past the start of the following slot.
func SlotOverruns(snapshot *scheduler.Snapshot, assignment scheduler.Assignment, clock scheduler.WallClock) []int64 {
	var ids []int64
	for _, exam := range snapshot.Exams {
		p, ok := assignment[exam.ID]
		if !ok {
			continue
		}
		duration := exam.DurationMinutes
		if duration <= 0 {
			duration = scheduler.DefaultExamDuration
		}
		if clock.Overruns(p.Slot, duration) {
			ids = append(ids, exam.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// EntriesFromAssignment maps grid placements to timetable rows, ordered by
// exam id. Start times follow the wall clock; end = start + exam duration.
func EntriesFromAssignment(snapshot *scheduler.Snapshot, assignment scheduler.Assignment, clock scheduler.WallClock) []models.TimetableEntry {
	durations := make(map[int64]int, len(snapshot.Exams))
	for _, exam := range snapshot.Exams {
		durations[exam.ID] = exam.DurationMinutes
	}

	ids := make([]int64, 0, len(assignment))
	for id := range assignment {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	entries := make([]models.TimetableEntry, 0, len(ids))
	for _, id := range ids {
		p := assignment[id]
		duration := durations[id]
		if duration <= 0 {
			duration = scheduler.DefaultExamDuration
		}
		start, end := clock.Window(p.Day, p.Slot, duration)
		entries = append(entries, models.TimetableEntry{
			ExamID:       id,
			RoomID:       p.RoomID,
			SupervisorID: p.StaffID,
			StartTime:    start,
			EndTime:      end,
			Status:       models.TimetableStatusDraft,
		})
	}
	return entries
}
