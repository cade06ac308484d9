package models

import "time"

// TimetableStatus tracks the approval workflow of a persisted timetable row.
type TimetableStatus string

const (
	TimetableStatusDraft         TimetableStatus = "DRAFT"
	TimetableStatusDeptApproved  TimetableStatus = "DEPT_APPROVED"
	TimetableStatusFinalApproved TimetableStatus = "FINAL_APPROVED"
)

// TimetableEntry is one scheduled exam as stored in timetable_entries.
type TimetableEntry struct {
	ID           int64           `db:"id" json:"id"`
	ExamID       int64           `db:"exam_id" json:"exam_id"`
	RoomID       int64           `db:"room_id" json:"room_id"`
	SupervisorID int64           `db:"supervisor_id" json:"supervisor_id"`
	StartTime    time.Time       `db:"start_time" json:"start_time"`
	EndTime      time.Time       `db:"end_time" json:"end_time"`
	Status       TimetableStatus `db:"status" json:"status"`
}

// TimetableRow is a denormalised entry used by exports.
type TimetableRow struct {
	ExamID         int64     `db:"exam_id" json:"exam_id"`
	ModuleName     string    `db:"module_name" json:"module_name"`
	RoomName       string    `db:"room_name" json:"room_name"`
	SupervisorName string    `db:"supervisor_name" json:"supervisor_name"`
	StartTime      time.Time `db:"start_time" json:"start_time"`
	EndTime        time.Time `db:"end_time" json:"end_time"`
	Status         string    `db:"status" json:"status"`
}
