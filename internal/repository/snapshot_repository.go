package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/exam-scheduler/internal/scheduler"
)

// SnapshotRepository reads the scheduling universe from Postgres.
type SnapshotRepository struct {
	db *sqlx.DB
}

// NewSnapshotRepository constructs the repository.
func NewSnapshotRepository(db *sqlx.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

type examRow struct {
	ID              int64         `db:"id"`
	ModuleID        int64         `db:"module_id"`
	DurationMinutes sql.NullInt64 `db:"duration_minutes"`
	DepartmentID    sql.NullInt64 `db:"department_id"`
}

type roomRow struct {
	ID       int64          `db:"id"`
	Name     sql.NullString `db:"name"`
	Capacity sql.NullInt64  `db:"capacity"`
}

type staffRow struct {
	ID           int64          `db:"id"`
	Name         sql.NullString `db:"name"`
	DepartmentID sql.NullInt64  `db:"department_id"`
}

const (
	snapshotExamsQuery = `SELECT e.id, e.module_id, e.duration_minutes, p.department_id
FROM exams e
LEFT JOIN modules m ON m.id = e.module_id
LEFT JOIN programs p ON p.id = m.program_id
ORDER BY e.id`
	snapshotRoomsQuery = `SELECT id, name, capacity FROM rooms ORDER BY id`
	snapshotStaffQuery = `SELECT p.id, u.full_name AS name, p.department_id
FROM professors p
LEFT JOIN users u ON u.id = p.user_id
ORDER BY p.id`
	snapshotEnrollmentsQuery = `SELECT e.id AS exam_id, en.student_id
FROM exams e
JOIN enrollments en ON en.module_id = e.module_id`
)

// Load runs the four snapshot queries and assembles an immutable snapshot.
// A department is attached to an exam through its module's program.
func (r *SnapshotRepository) Load(ctx context.Context) (*scheduler.Snapshot, error) {
	var exams []examRow
	if err := r.db.SelectContext(ctx, &exams, snapshotExamsQuery); err != nil {
		return nil, fmt.Errorf("load exams: %w", err)
	}
	var rooms []roomRow
	if err := r.db.SelectContext(ctx, &rooms, snapshotRoomsQuery); err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}
	var staff []staffRow
	if err := r.db.SelectContext(ctx, &staff, snapshotStaffQuery); err != nil {
		return nil, fmt.Errorf("load staff: %w", err)
	}
	enrollments, err := r.loadEnrollments(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &scheduler.Snapshot{
		Exams:       make([]scheduler.Exam, 0, len(exams)),
		Rooms:       make([]scheduler.Room, 0, len(rooms)),
		Staff:       make([]scheduler.Staff, 0, len(staff)),
		Enrollments: enrollments,
	}
	for _, row := range exams {
		snapshot.Exams = append(snapshot.Exams, scheduler.Exam{
			ID:              row.ID,
			ModuleID:        row.ModuleID,
			DurationMinutes: int(row.DurationMinutes.Int64),
			DepartmentID:    nullableID(row.DepartmentID),
		})
	}
	for _, row := range rooms {
		snapshot.Rooms = append(snapshot.Rooms, scheduler.Room{
			ID:       row.ID,
			Name:     row.Name.String,
			Capacity: int(row.Capacity.Int64),
		})
	}
	for _, row := range staff {
		snapshot.Staff = append(snapshot.Staff, scheduler.Staff{
			ID:           row.ID,
			Name:         row.Name.String,
			DepartmentID: nullableID(row.DepartmentID),
		})
	}

	snapshot.Normalize()
	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("validate snapshot: %w", err)
	}
	return snapshot, nil
}

// loadEnrollments streams the (exam, student) facts instead of buffering them.
func (r *SnapshotRepository) loadEnrollments(ctx context.Context) (scheduler.Enrollments, error) {
	rows, err := r.db.QueryxContext(ctx, snapshotEnrollmentsQuery)
	if err != nil {
		return nil, fmt.Errorf("load enrollments: %w", err)
	}
	defer rows.Close()

	enrollments := make(scheduler.Enrollments)
	for rows.Next() {
		var examID, studentID int64
		if err := rows.Scan(&examID, &studentID); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		enrollments.Add(examID, studentID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}
	return enrollments, nil
}

func nullableID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}
