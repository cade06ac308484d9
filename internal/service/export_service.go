package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/exam-scheduler/internal/dto"
	"github.com/noah-isme/exam-scheduler/internal/models"
	appErrors "github.com/noah-isme/exam-scheduler/pkg/errors"
	"github.com/noah-isme/exam-scheduler/pkg/export"
)

type timetableRowLister interface {
	ListDetailed(ctx context.Context) ([]models.TimetableRow, error)
}

// objectStore is implemented by the local and S3 export sinks.
type objectStore interface {
	Name() string
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type prunableStore interface {
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	Title     string
	ResultTTL time.Duration
	Location  *time.Location
}

var timetableHeaders = []string{"exam_id", "module", "date", "start", "end", "room", "supervisor", "status"}

// ExportService renders the persisted timetable and writes it to storage.
type ExportService struct {
	timetable timetableRowLister
	local     objectStore
	remote    objectStore
	renderers map[string]export.Renderer
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService. remote may be nil when no
// object store is configured.
func NewExportService(timetable timetableRowLister, local, remote objectStore, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Title == "" {
		cfg.Title = "Exam Timetable"
	}
	csvRenderer := export.NewCSVExporter()
	pdfRenderer := export.NewPDFExporter()
	return &ExportService{
		timetable: timetable,
		local:     local,
		remote:    remote,
		renderers: map[string]export.Renderer{
			csvRenderer.Extension(): csvRenderer,
			pdfRenderer.Extension(): pdfRenderer,
		},
		validator: validator.New(),
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Export renders every stored timetable row in the requested format.
func (s *ExportService) Export(ctx context.Context, req dto.ExportRequest) (*dto.ExportResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export request")
	}
	renderer, ok := s.renderers[req.Format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format "+req.Format)
	}

	store := s.local
	if req.Upload {
		if s.remote == nil {
			return nil, appErrors.Clone(appErrors.ErrExport, "object storage is not configured")
		}
		store = s.remote
	}
	if store == nil {
		return nil, appErrors.Clone(appErrors.ErrExport, "export storage is not configured")
	}

	rows, err := s.timetable.ListDetailed(ctx)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrExport, err, "failed to list timetable rows")
	}
	dataset := s.buildDataset(rows)

	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrExport, err, "failed to render timetable")
	}

	key := fmt.Sprintf("timetable_%s.%s", s.now().UTC().Format("20060102_150405"), renderer.Extension())
	location, err := store.Put(ctx, key, payload, renderer.ContentType())
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrExport, err, "failed to store export")
	}

	s.logger.Info("timetable exported",
		zap.String("format", req.Format),
		zap.String("storage", store.Name()),
		zap.String("location", location),
		zap.Int("rows", len(rows)),
	)
	return &dto.ExportResult{
		Format:      req.Format,
		Location:    location,
		Rows:        len(rows),
		ContentType: renderer.ContentType(),
	}, nil
}

// Prune removes local export files older than ttl, or the configured
// ResultTTL when ttl <= 0.
func (s *ExportService) Prune(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	prunable, ok := s.local.(prunableStore)
	if !ok {
		return nil, nil
	}
	return prunable.CleanupOlderThan(ttl)
}

func (s *ExportService) buildDataset(rows []models.TimetableRow) export.Dataset {
	dataset := export.Dataset{
		Title:   s.cfg.Title,
		Headers: timetableHeaders,
		Rows:    make([]map[string]string, 0, len(rows)),
	}
	for _, row := range rows {
		start := row.StartTime.In(s.cfg.Location)
		end := row.EndTime.In(s.cfg.Location)
		dataset.Rows = append(dataset.Rows, map[string]string{
			"exam_id":    strconv.FormatInt(row.ExamID, 10),
			"module":     row.ModuleName,
			"date":       start.Format("2006-01-02"),
			"start":      start.Format("15:04"),
			"end":        end.Format("15:04"),
			"room":       row.RoomName,
			"supervisor": row.SupervisorName,
			"status":     row.Status,
		})
	}
	return dataset
}
