// Package scheduler assigns exams to (day, slot, room, supervisor) tuples.
//
// A run consumes an immutable Snapshot and the ConflictGraph derived from its
// enrollments, and produces an Assignment. The engine is single threaded: all
// mutable state of a run lives in one runState owned by Engine.Run.
package scheduler

import (
	"fmt"
)

// DefaultExamDuration is applied to exams loaded without an explicit duration.
const DefaultExamDuration = 90

// Exam is a schedulable unit tied to exactly one module.
type Exam struct {
	ID              int64  `json:"id" mapstructure:"id"`
	ModuleID        int64  `json:"module_id" mapstructure:"module_id"`
	DurationMinutes int    `json:"duration_minutes" mapstructure:"duration_minutes"`
	DepartmentID    *int64 `json:"department_id,omitempty" mapstructure:"department_id"`
}

// Room is an exam venue.
type Room struct {
	ID       int64  `json:"id" mapstructure:"id"`
	Name     string `json:"name" mapstructure:"name"`
	Capacity int    `json:"capacity" mapstructure:"capacity"`
}

// Staff is a supervisor candidate.
type Staff struct {
	ID           int64  `json:"id" mapstructure:"id"`
	Name         string `json:"name" mapstructure:"name"`
	DepartmentID *int64 `json:"department_id,omitempty" mapstructure:"department_id"`
}

// Enrollments maps an exam to the set of students sitting it.
type Enrollments map[int64]map[int64]struct{}

// Add records that student sits exam.
func (e Enrollments) Add(examID, studentID int64) {
	students, ok := e[examID]
	if !ok {
		students = make(map[int64]struct{})
		e[examID] = students
	}
	students[studentID] = struct{}{}
}

// Demand returns the number of distinct students enrolled in the exam.
func (e Enrollments) Demand(examID int64) int {
	return len(e[examID])
}

// Snapshot is the read-only candidate universe of one run.
type Snapshot struct {
	Exams       []Exam
	Rooms       []Room
	Staff       []Staff
	Enrollments Enrollments
}

// Validate rejects malformed snapshots before any scheduling work happens.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("snapshot is nil")
	}
	seenExams := make(map[int64]struct{}, len(s.Exams))
	for i := range s.Exams {
		exam := &s.Exams[i]
		if _, dup := seenExams[exam.ID]; dup {
			return fmt.Errorf("duplicate exam id %d", exam.ID)
		}
		seenExams[exam.ID] = struct{}{}
		if exam.DurationMinutes < 0 {
			return fmt.Errorf("exam %d has negative duration", exam.ID)
		}
	}
	seenRooms := make(map[int64]struct{}, len(s.Rooms))
	for _, room := range s.Rooms {
		if _, dup := seenRooms[room.ID]; dup {
			return fmt.Errorf("duplicate room id %d", room.ID)
		}
		seenRooms[room.ID] = struct{}{}
		if room.Capacity < 0 {
			return fmt.Errorf("room %d has negative capacity", room.ID)
		}
	}
	seenStaff := make(map[int64]struct{}, len(s.Staff))
	for _, staff := range s.Staff {
		if _, dup := seenStaff[staff.ID]; dup {
			return fmt.Errorf("duplicate staff id %d", staff.ID)
		}
		seenStaff[staff.ID] = struct{}{}
	}
	return nil
}

// Normalize fills defaults such as the exam duration.
func (s *Snapshot) Normalize() {
	if s.Enrollments == nil {
		s.Enrollments = make(Enrollments)
	}
	for i := range s.Exams {
		if s.Exams[i].DurationMinutes == 0 {
			s.Exams[i].DurationMinutes = DefaultExamDuration
		}
	}
}

// ExamIDs returns exam ids in snapshot order.
func (s *Snapshot) ExamIDs() []int64 {
	ids := make([]int64, len(s.Exams))
	for i, exam := range s.Exams {
		ids[i] = exam.ID
	}
	return ids
}

// Placement is the (day, slot, room, staff) tuple assigned to an exam.
type Placement struct {
	Day     int   `json:"day"`
	Slot    int   `json:"slot"`
	RoomID  int64 `json:"room_id"`
	StaffID int64 `json:"staff_id"`
}

// Assignment maps scheduled exams to their placement. Unscheduled exams are absent.
type Assignment map[int64]Placement

// Clone returns an independent copy.
func (a Assignment) Clone() Assignment {
	out := make(Assignment, len(a))
	for id, p := range a {
		out[id] = p
	}
	return out
}
