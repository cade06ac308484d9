package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"github.com/noah-isme/exam-scheduler/internal/models"
)

// timetableInsertBatch bounds the rows per INSERT so parameter counts stay
// well under the Postgres limit of 65535.
const timetableInsertBatch = 500

// TimetableRepository persists the generated exam timetable.
type TimetableRepository struct {
	db *sqlx.DB
}

// NewTimetableRepository constructs the repository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db}
}

func (r *TimetableRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ReplaceAll deletes every stored entry and inserts the given ones. Callers
// pass the transaction so the replace is atomic. An empty slice is a no-op and
// leaves the prior timetable untouched.
func (r *TimetableRepository) ReplaceAll(ctx context.Context, exec sqlx.ExtContext, entries []models.TimetableEntry) error {
	if len(entries) == 0 {
		return nil
	}
	target := r.exec(exec)

	if _, err := target.ExecContext(ctx, `DELETE FROM timetable_entries`); err != nil {
		return fmt.Errorf("clear timetable entries: %w", err)
	}

	for i := range entries {
		if entries[i].Status == "" {
			entries[i].Status = models.TimetableStatusDraft
		}
	}

	const insertQuery = `
INSERT INTO timetable_entries (exam_id, room_id, supervisor_id, start_time, end_time, status)
VALUES (:exam_id, :room_id, :supervisor_id, :start_time, :end_time, :status)`
	for _, batch := range lo.Chunk(entries, timetableInsertBatch) {
		if _, err := sqlx.NamedExecContext(ctx, target, insertQuery, batch); err != nil {
			return fmt.Errorf("insert timetable entries: %w", err)
		}
	}
	return nil
}

// ListAll returns the persisted entries ordered by start time.
func (r *TimetableRepository) ListAll(ctx context.Context) ([]models.TimetableEntry, error) {
	const query = `SELECT id, exam_id, room_id, supervisor_id, start_time, end_time, status
FROM timetable_entries ORDER BY start_time ASC, exam_id ASC`
	var entries []models.TimetableEntry
	if err := r.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("list timetable entries: %w", err)
	}
	return entries, nil
}

// ListDetailed returns entries joined with module, room and supervisor names.
func (r *TimetableRepository) ListDetailed(ctx context.Context) ([]models.TimetableRow, error) {
	const query = `SELECT t.exam_id,
       COALESCE(m.name, '') AS module_name,
       COALESCE(r.name, '') AS room_name,
       COALESCE(u.full_name, '') AS supervisor_name,
       t.start_time, t.end_time, t.status
FROM timetable_entries t
LEFT JOIN exams e ON e.id = t.exam_id
LEFT JOIN modules m ON m.id = e.module_id
LEFT JOIN rooms r ON r.id = t.room_id
LEFT JOIN professors p ON p.id = t.supervisor_id
LEFT JOIN users u ON u.id = p.user_id
ORDER BY t.start_time ASC, r.name ASC`
	var rows []models.TimetableRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list timetable rows: %w", err)
	}
	return rows, nil
}
