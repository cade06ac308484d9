package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// ScheduleRun records the outcome of one persisted scheduling run.
type ScheduleRun struct {
	ID           string         `db:"id" json:"id"`
	Version      int            `db:"version" json:"version"`
	Mode         string         `db:"mode" json:"mode"`
	Success      bool           `db:"success" json:"success"`
	TotalExams   int            `db:"total_exams" json:"total_exams"`
	Scheduled    int            `db:"scheduled" json:"scheduled"`
	Unassignable int            `db:"unassignable" json:"unassignable"`
	ElapsedMS    int64          `db:"elapsed_ms" json:"elapsed_ms"`
	Meta         types.JSONText `db:"meta" json:"meta"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}
