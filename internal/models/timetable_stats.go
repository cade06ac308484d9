package models

import "time"

// DayCount is the number of exams starting on one calendar day.
type DayCount struct {
	Date  time.Time `db:"date" json:"date"`
	Count int       `db:"count" json:"count"`
}

// RoomOccupancy is the average seat utilisation of a room in percent.
type RoomOccupancy struct {
	RoomName string  `db:"name" json:"name"`
	Rate     float64 `db:"rate" json:"rate"`
}

// SupervisionLoad counts the exams a staff member supervises.
type SupervisionLoad struct {
	StaffID int64  `db:"staff_id" json:"staff_id"`
	Name    string `db:"name" json:"name"`
	Count   int    `db:"count" json:"count"`
}

// StatusCount counts timetable rows per workflow status.
type StatusCount struct {
	Status string `db:"status" json:"status"`
	Count  int    `db:"count" json:"count"`
}
