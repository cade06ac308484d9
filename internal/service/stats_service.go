package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/exam-scheduler/internal/dto"
	"github.com/noah-isme/exam-scheduler/internal/models"
	appErrors "github.com/noah-isme/exam-scheduler/pkg/errors"
)

type statsRepository interface {
	ExamsByDay(ctx context.Context) ([]models.DayCount, error)
	RoomOccupancy(ctx context.Context, limit int) ([]models.RoomOccupancy, error)
	SupervisionLoad(ctx context.Context, limit int) ([]models.SupervisionLoad, error)
	StatusCounts(ctx context.Context) ([]models.StatusCount, error)
}

// StatsServiceConfig tunes statistics behaviour.
type StatsServiceConfig struct {
	Limit    int
	CacheKey string
	CacheTTL time.Duration
}

// StatsService aggregates the persisted timetable.
type StatsService struct {
	repo   statsRepository
	cache  reportCache
	logger *zap.Logger
	cfg    StatsServiceConfig
}

// NewStatsService constructs the service. cache may be nil.
func NewStatsService(repo statsRepository, cache reportCache, cfg StatsServiceConfig, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.CacheKey == "" {
		cfg.CacheKey = "examsched:stats:summary"
	}
	return &StatsService{repo: repo, cache: cache, logger: logger, cfg: cfg}
}

// Summary returns exams per day, the top room occupancy rates, the busiest
// supervisors and row counts per status.
func (s *StatsService) Summary(ctx context.Context) (*dto.StatsSummary, error) {
	if s.cache != nil {
		var cached dto.StatsSummary
		if hit, err := s.cache.Get(ctx, s.cfg.CacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	days, err := s.repo.ExamsByDay(ctx)
	if err != nil {
		return nil, wrapStatsErr(err)
	}
	rooms, err := s.repo.RoomOccupancy(ctx, s.cfg.Limit)
	if err != nil {
		return nil, wrapStatsErr(err)
	}
	loads, err := s.repo.SupervisionLoad(ctx, s.cfg.Limit)
	if err != nil {
		return nil, wrapStatsErr(err)
	}
	statuses, err := s.repo.StatusCounts(ctx)
	if err != nil {
		return nil, wrapStatsErr(err)
	}

	summary := &dto.StatsSummary{
		ExamsByDay:      make([]dto.DayCountItem, 0, len(days)),
		RoomOccupancy:   make([]dto.RoomOccupancyItem, 0, len(rooms)),
		SupervisionLoad: make([]dto.SupervisionLoadItem, 0, len(loads)),
		StatusCounts:    make(map[string]int, len(statuses)),
	}
	for _, day := range days {
		summary.ExamsByDay = append(summary.ExamsByDay, dto.DayCountItem{Date: day.Date.Format("2006-01-02"), Count: day.Count})
	}
	for _, room := range rooms {
		summary.RoomOccupancy = append(summary.RoomOccupancy, dto.RoomOccupancyItem{Name: room.RoomName, Rate: round2(room.Rate)})
	}
	for _, load := range loads {
		summary.SupervisionLoad = append(summary.SupervisionLoad, dto.SupervisionLoadItem{StaffID: load.StaffID, Name: load.Name, Count: load.Count})
	}
	for _, status := range statuses {
		summary.StatusCounts[status.Status] = status.Count
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, s.cfg.CacheKey, summary, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("failed to cache stats summary", zap.Error(err))
		}
	}
	return summary, nil
}

func wrapStatsErr(err error) error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute timetable statistics")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
