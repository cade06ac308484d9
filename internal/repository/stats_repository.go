package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/exam-scheduler/internal/models"
)

// StatsRepository runs the aggregate queries behind timetable statistics.
type StatsRepository struct {
	db *sqlx.DB
}

// NewStatsRepository constructs the repository.
func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// ExamsByDay counts exams per calendar day.
func (r *StatsRepository) ExamsByDay(ctx context.Context) ([]models.DayCount, error) {
	const query = `SELECT DATE(start_time) AS date, COUNT(id) AS count
FROM timetable_entries GROUP BY DATE(start_time) ORDER BY DATE(start_time)`
	var rows []models.DayCount
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("exams by day: %w", err)
	}
	return rows, nil
}

// RoomOccupancy averages demand over capacity per room, in percent.
func (r *StatsRepository) RoomOccupancy(ctx context.Context, limit int) ([]models.RoomOccupancy, error) {
	const query = `SELECT r.name, AVG(CAST(en.cnt AS NUMERIC) / NULLIF(r.capacity, 0) * 100) AS rate
FROM rooms r
JOIN timetable_entries t ON r.id = t.room_id
JOIN exams e ON t.exam_id = e.id
JOIN (SELECT module_id, COUNT(*) AS cnt FROM enrollments GROUP BY module_id) en ON e.module_id = en.module_id
WHERE r.capacity > 0
GROUP BY r.name
ORDER BY rate DESC
LIMIT $1`
	var rows []models.RoomOccupancy
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("room occupancy: %w", err)
	}
	return rows, nil
}

// SupervisionLoad counts supervised exams per staff member, busiest first.
func (r *StatsRepository) SupervisionLoad(ctx context.Context, limit int) ([]models.SupervisionLoad, error) {
	const query = `SELECT p.id AS staff_id, COALESCE(u.full_name, '') AS name, COUNT(t.id) AS count
FROM professors p
LEFT JOIN users u ON p.user_id = u.id
LEFT JOIN timetable_entries t ON p.id = t.supervisor_id
GROUP BY p.id, u.full_name
ORDER BY count DESC, p.id ASC
LIMIT $1`
	var rows []models.SupervisionLoad
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("supervision load: %w", err)
	}
	return rows, nil
}

// StatusCounts counts entries per workflow status.
func (r *StatsRepository) StatusCounts(ctx context.Context) ([]models.StatusCount, error) {
	const query = `SELECT status, COUNT(*) AS count FROM timetable_entries GROUP BY status ORDER BY status`
	var rows []models.StatusCount
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	return rows, nil
}
