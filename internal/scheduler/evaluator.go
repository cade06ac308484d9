package scheduler

// Constraint names one of the hard constraints checked for every placement.
type Constraint string

const (
	ConstraintNone         Constraint = ""
	ConstraintStudentDaily Constraint = "STUDENT_DAILY_LIMIT"
	ConstraintRoomCapacity Constraint = "ROOM_CAPACITY"
	ConstraintRoomBusy     Constraint = "ROOM_AVAILABILITY"
	ConstraintStaffBusy    Constraint = "STAFF_AVAILABILITY"
	ConstraintStaffQuota   Constraint = "STAFF_DAILY_QUOTA"
)

// View is the read side of a (partial) assignment and its usage indices.
type View interface {
	Placement(examID int64) (Placement, bool)
	RoomUsage(day, slot int, roomID int64) int
	StaffUsage(day, slot int, staffID int64) int
	StaffDayLoad(day int, staffID int64) int
	StaffLoad(staffID int64) int
}

// Evaluator answers whether an exam may be placed somewhere given a View.
// It holds no mutable state and is shared by the engine and the auditor.
type Evaluator struct {
	graph  ConflictGraph
	demand map[int64]int
	rooms  map[int64]Room
	quota  int
}

// NewEvaluator precomputes per-exam demand and the room lookup.
func NewEvaluator(snapshot *Snapshot, graph ConflictGraph, staffDailyQuota int) *Evaluator {
	demand := make(map[int64]int, len(snapshot.Exams))
	for _, exam := range snapshot.Exams {
		demand[exam.ID] = snapshot.Enrollments.Demand(exam.ID)
	}
	rooms := make(map[int64]Room, len(snapshot.Rooms))
	for _, room := range snapshot.Rooms {
		rooms[room.ID] = room
	}
	return &Evaluator{graph: graph, demand: demand, rooms: rooms, quota: staffDailyQuota}
}

// Demand returns the number of seats the exam needs.
func (e *Evaluator) Demand(examID int64) int {
	return e.demand[examID]
}

// Quota returns the per-day supervision limit.
func (e *Evaluator) Quota() int {
	return e.quota
}

// StudentDayFree checks constraint 1 by scanning the exam's conflict neighbours
// instead of enumerating students.
func (e *Evaluator) StudentDayFree(v View, examID int64, day int) bool {
	for neighbor := range e.graph[examID] {
		if p, ok := v.Placement(neighbor); ok && p.Day == day {
			return false
		}
	}
	return true
}

// RoomFits checks constraint 2.
func (e *Evaluator) RoomFits(examID int64, room Room) bool {
	return room.Capacity >= e.demand[examID]
}

// RoomFree checks constraint 3 before the exam is committed.
func (e *Evaluator) RoomFree(v View, day, slot int, roomID int64) bool {
	return v.RoomUsage(day, slot, roomID) == 0
}

// StaffFree checks constraint 4 before the exam is committed.
func (e *Evaluator) StaffFree(v View, day, slot int, staffID int64) bool {
	return v.StaffUsage(day, slot, staffID) == 0
}

// StaffUnderQuota checks constraint 5 before the exam is committed.
func (e *Evaluator) StaffUnderQuota(v View, day int, staffID int64) bool {
	return v.StaffDayLoad(day, staffID) < e.quota
}

// CanPlace returns the first constraint violated by placing examID at p, or
// ConstraintNone when the placement is feasible.
func (e *Evaluator) CanPlace(v View, examID int64, p Placement) Constraint {
	violations := e.check(v, examID, p, false, true)
	if len(violations) == 0 {
		return ConstraintNone
	}
	return violations[0]
}

// Audit re-evaluates an exam that is already part of v and returns every
// constraint it violates. Occupancy counts include the exam itself.
func (e *Evaluator) Audit(v View, examID int64, p Placement) []Constraint {
	return e.check(v, examID, p, true, false)
}

func (e *Evaluator) check(v View, examID int64, p Placement, committed, firstOnly bool) []Constraint {
	var violations []Constraint
	add := func(c Constraint) bool {
		violations = append(violations, c)
		return firstOnly
	}

	self := 0
	if committed {
		self = 1
	}

	if !e.StudentDayFree(v, examID, p.Day) && add(ConstraintStudentDaily) {
		return violations
	}
	room, known := e.rooms[p.RoomID]
	if (!known || !e.RoomFits(examID, room)) && add(ConstraintRoomCapacity) {
		return violations
	}
	if v.RoomUsage(p.Day, p.Slot, p.RoomID) > self && add(ConstraintRoomBusy) {
		return violations
	}
	if v.StaffUsage(p.Day, p.Slot, p.StaffID) > self && add(ConstraintStaffBusy) {
		return violations
	}
	if v.StaffDayLoad(p.Day, p.StaffID) >= e.quota+self && add(ConstraintStaffQuota) {
		return violations
	}
	return violations
}

// Violation is a hard constraint breach found by an audit.
type Violation struct {
	ExamID     int64      `json:"exam_id"`
	Constraint Constraint `json:"constraint"`
	Placement  Placement  `json:"placement"`
}

// AuditAssignment checks every entry of a complete assignment against all the
// others. Results are ordered by exam id.
func (e *Evaluator) AuditAssignment(a Assignment) []Violation {
	view := NewAuditView(a)
	var violations []Violation
	for _, examID := range sortedExamIDs(a) {
		p := a[examID]
		for _, c := range e.Audit(view, examID, p) {
			violations = append(violations, Violation{ExamID: examID, Constraint: c, Placement: p})
		}
	}
	return violations
}
