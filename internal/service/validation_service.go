package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/exam-scheduler/internal/dto"
	"github.com/noah-isme/exam-scheduler/internal/models"
	"github.com/noah-isme/exam-scheduler/internal/scheduler"
	appErrors "github.com/noah-isme/exam-scheduler/pkg/errors"
)

// ConstraintDuplicateEntry flags an exam stored more than once.
const ConstraintDuplicateEntry = "DUPLICATE_ENTRY"

type timetableReader interface {
	ListAll(ctx context.Context) ([]models.TimetableEntry, error)
}

// ValidationService re-checks the persisted timetable against the hard
// constraints without trusting the engine that produced it.
type ValidationService struct {
	loader    snapshotLoader
	timetable timetableReader
	clock     scheduler.WallClock
	quota     int
	logger    *zap.Logger
}

// NewValidationService constructs the validator. quota <= 0 uses the thorough
// mode's staff daily quota.
func NewValidationService(loader snapshotLoader, timetable timetableReader, clock scheduler.WallClock, quota int, logger *zap.Logger) *ValidationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(clock.SlotOffsets) == 0 {
		clock = scheduler.DefaultWallClock()
	}
	if quota <= 0 {
		quota = scheduler.ThoroughMode().StaffDailyQuota
	}
	return &ValidationService{loader: loader, timetable: timetable, clock: clock, quota: quota, logger: logger}
}

// Validate loads the snapshot and every stored row and reports all
// violations. Days come from the start date and slot identity from the start
// time.
func (s *ValidationService) Validate(ctx context.Context) (*dto.ValidationReport, error) {
	snapshot, err := s.loader.Load(ctx)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrSnapshotLoad, err, "")
	}
	entries, err := s.timetable.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list timetable entries")
	}

	report := &dto.ValidationReport{Entries: len(entries), Violations: make([]dto.ViolationItem, 0)}
	assignment := make(scheduler.Assignment, len(entries))
	for _, entry := range entries {
		if _, dup := assignment[entry.ExamID]; dup {
			report.Violations = append(report.Violations, dto.ViolationItem{
				Constraint: ConstraintDuplicateEntry,
				ExamID:     entry.ExamID,
				Detail:     fmt.Sprintf("exam %d is stored more than once", entry.ExamID),
			})
			continue
		}
		cell := s.clock.Identify(entry.StartTime)
		assignment[entry.ExamID] = scheduler.Placement{
			Day:     cell.Day,
			Slot:    cell.Slot,
			RoomID:  entry.RoomID,
			StaffID: entry.SupervisorID,
		}
	}

	graph := scheduler.BuildConflictGraph(snapshot.Enrollments)
	evaluator := scheduler.NewEvaluator(snapshot, graph, s.quota)
	for _, v := range evaluator.AuditAssignment(assignment) {
		report.Violations = append(report.Violations, dto.ViolationItem{
			Constraint: string(v.Constraint),
			ExamID:     v.ExamID,
			Detail:     s.describe(v, evaluator, snapshot),
		})
	}
	report.Valid = len(report.Violations) == 0

	s.logger.Info("timetable validated",
		zap.Int("entries", report.Entries),
		zap.Int("violations", len(report.Violations)),
		zap.Bool("valid", report.Valid),
	)
	return report, nil
}

func (s *ValidationService) describe(v scheduler.Violation, ev *scheduler.Evaluator, snapshot *scheduler.Snapshot) string {
	p := v.Placement
	switch v.Constraint {
	case scheduler.ConstraintStudentDaily:
		return fmt.Sprintf("exam %d shares day %d with a conflicting exam", v.ExamID, p.Day)
	case scheduler.ConstraintRoomCapacity:
		capacity := 0
		for _, room := range snapshot.Rooms {
			if room.ID == p.RoomID {
				capacity = room.Capacity
				break
			}
		}
		return fmt.Sprintf("room %d seats %d but exam %d has %d students", p.RoomID, capacity, v.ExamID, ev.Demand(v.ExamID))
	case scheduler.ConstraintRoomBusy:
		return fmt.Sprintf("room %d is double-booked on day %d slot %d", p.RoomID, p.Day, p.Slot)
	case scheduler.ConstraintStaffBusy:
		return fmt.Sprintf("staff %d supervises two exams on day %d slot %d", p.StaffID, p.Day, p.Slot)
	case scheduler.ConstraintStaffQuota:
		return fmt.Sprintf("staff %d exceeds %d supervisions on day %d", p.StaffID, ev.Quota(), p.Day)
	default:
		return string(v.Constraint)
	}
}
