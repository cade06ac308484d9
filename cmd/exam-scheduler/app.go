package main

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/exam-scheduler/internal/repository"
	"github.com/noah-isme/exam-scheduler/internal/scheduler"
	"github.com/noah-isme/exam-scheduler/internal/service"
	"github.com/noah-isme/exam-scheduler/pkg/cache"
	"github.com/noah-isme/exam-scheduler/pkg/config"
	"github.com/noah-isme/exam-scheduler/pkg/database"
	"github.com/noah-isme/exam-scheduler/pkg/logger"
	"github.com/noah-isme/exam-scheduler/pkg/storage"
)

// app holds the wired dependencies shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *sqlx.DB
	redis   *redis.Client
	metrics *service.MetricsService
	clock   scheduler.WallClock

	snapshots *repository.SnapshotRepository
	timetable *repository.TimetableRepository
	runs      *repository.ScheduleRunRepository
	queue     *repository.RunQueueRepository

	scheduling *service.SchedulingService
	validation *service.ValidationService
	stats      *service.StatsService
	export     *service.ExportService
}

// newApp loads configuration and connects to the stores. Postgres is only
// dialled when needDB is set so offline runs against a snapshot file work
// without a database.
func newApp(needDB bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logr, metrics: service.NewMetricsService()}

	if needDB {
		a.db, err = database.NewPostgres(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
	}
	a.redis, err = cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, continuing without lock, cache and queue", zap.Error(err))
		a.redis = nil
	}

	modes, err := scheduler.NewModeRegistry(modeFromConfig(scheduler.ModeFast, cfg.Scheduler.Fast), modeFromConfig(scheduler.ModeThorough, cfg.Scheduler.Thorough))
	if err != nil {
		return nil, fmt.Errorf("configure modes: %w", err)
	}
	a.clock = scheduler.WallClock{Epoch: cfg.Scheduler.Epoch, SlotOffsets: cfg.Scheduler.SlotOffsets}
	if len(a.clock.SlotOffsets) == 0 {
		a.clock = scheduler.DefaultWallClock()
	}
	if err := a.clock.Validate(); err != nil {
		a.close()
		return nil, fmt.Errorf("configure slot clock: %w", err)
	}

	cacheSvc := service.NewCacheService(repository.NewCacheRepository(a.redis, logr), a.metrics, cfg.Scheduler.ReportTTL, logr, a.redis != nil)
	a.queue = repository.NewRunQueueRepository(a.redis, cfg.Scheduler.QueueKey)

	deps := service.SchedulingDeps{
		FileLoader: repository.LoadSnapshotFile,
		Locker:     repository.NewRunLockRepository(a.redis),
		Cache:      cacheSvc,
		Metrics:    a.metrics,
		Logger:     logr,
	}
	if a.db != nil {
		a.snapshots = repository.NewSnapshotRepository(a.db)
		a.timetable = repository.NewTimetableRepository(a.db)
		a.runs = repository.NewScheduleRunRepository(a.db)
		a.validation = service.NewValidationService(a.snapshots, a.timetable, a.clock, cfg.Scheduler.Thorough.StaffDailyQuota, logr)
		a.stats = service.NewStatsService(repository.NewStatsRepository(a.db), cacheSvc, service.StatsServiceConfig{CacheTTL: cfg.Scheduler.ReportTTL}, logr)

		deps.Loader = a.snapshots
		deps.Timetable = a.timetable
		deps.Runs = a.runs
		deps.Tx = a.db
		deps.Validation = a.validation
	}
	a.scheduling = service.NewSchedulingService(deps, service.SchedulingConfig{
		Modes:           modes,
		Clock:           a.clock,
		AffinityPenalty: cfg.Scheduler.AffinityPenalty,
		LockKey:         cfg.Scheduler.LockKey,
		LockTTL:         cfg.Scheduler.LockTTL,
		ReportKey:       cfg.Scheduler.ReportKey,
		ReportTTL:       cfg.Scheduler.ReportTTL,
	})

	return a, nil
}

// exportService builds the export pipeline on first use so that commands
// which never export do not create the storage directory.
func (a *app) exportService() (*service.ExportService, error) {
	if a.export != nil {
		return a.export, nil
	}
	if a.timetable == nil {
		return nil, fmt.Errorf("export requires a database connection")
	}
	local, err := storage.NewLocalStorage(a.cfg.Export.StorageDir)
	if err != nil {
		return nil, err
	}
	var remote *storage.S3Storage
	if a.cfg.S3.Endpoint != "" {
		remote, err = storage.NewS3Storage(storage.S3Config{
			Endpoint:  a.cfg.S3.Endpoint,
			Region:    a.cfg.S3.Region,
			AccessKey: a.cfg.S3.AccessKey,
			SecretKey: a.cfg.S3.SecretKey,
			Bucket:    a.cfg.S3.Bucket,
			UseSSL:    a.cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("configure s3 storage: %w", err)
		}
	}
	cfg := service.ExportConfig{Title: a.cfg.Export.Title}
	if remote != nil {
		a.export = service.NewExportService(a.timetable, local, remote, cfg, a.logger)
	} else {
		a.export = service.NewExportService(a.timetable, local, nil, cfg, a.logger)
	}
	return a.export, nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.logger.Sync()
}

func modeFromConfig(name string, cfg config.ModeConfig) scheduler.Mode {
	return scheduler.Mode{
		Name:            name,
		Days:            cfg.Days,
		SlotsPerDay:     cfg.SlotsPerDay,
		StaffDailyQuota: cfg.StaffDailyQuota,
		Deadline:        cfg.Deadline,
	}
}
