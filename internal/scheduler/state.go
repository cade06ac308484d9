package scheduler

import (
	"slices"

	"github.com/samber/lo"
)

type cellKey struct {
	day  int
	slot int
	id   int64
}

type dayKey struct {
	day int
	id  int64
}

// runState is the arena owned by one engine run: the assignment plus the four
// usage indices that keep feasibility checks O(1). commit is the only writer.
type runState struct {
	assignment Assignment
	roomUsage  map[cellKey]int64
	staffUsage map[cellKey]int64
	staffDaily map[dayKey]int
	staffTotal map[int64]int
}

func newRunState(capacity int) *runState {
	return &runState{
		assignment: make(Assignment, capacity),
		roomUsage:  make(map[cellKey]int64, capacity),
		staffUsage: make(map[cellKey]int64, capacity),
		staffDaily: make(map[dayKey]int),
		staffTotal: make(map[int64]int),
	}
}

func (s *runState) commit(examID int64, p Placement) {
	s.assignment[examID] = p
	s.roomUsage[cellKey{day: p.Day, slot: p.Slot, id: p.RoomID}] = examID
	s.staffUsage[cellKey{day: p.Day, slot: p.Slot, id: p.StaffID}] = examID
	s.staffDaily[dayKey{day: p.Day, id: p.StaffID}]++
	s.staffTotal[p.StaffID]++
}

func (s *runState) Placement(examID int64) (Placement, bool) {
	p, ok := s.assignment[examID]
	return p, ok
}

func (s *runState) RoomUsage(day, slot int, roomID int64) int {
	if _, ok := s.roomUsage[cellKey{day: day, slot: slot, id: roomID}]; ok {
		return 1
	}
	return 0
}

func (s *runState) StaffUsage(day, slot int, staffID int64) int {
	if _, ok := s.staffUsage[cellKey{day: day, slot: slot, id: staffID}]; ok {
		return 1
	}
	return 0
}

func (s *runState) StaffDayLoad(day int, staffID int64) int {
	return s.staffDaily[dayKey{day: day, id: staffID}]
}

func (s *runState) StaffLoad(staffID int64) int {
	return s.staffTotal[staffID]
}

// AuditView indexes a finished assignment with occupancy counts, so that
// double bookings in persisted data are visible to the evaluator.
type AuditView struct {
	assignment Assignment
	roomUsage  map[cellKey]int
	staffUsage map[cellKey]int
	staffDaily map[dayKey]int
	staffTotal map[int64]int
}

// NewAuditView indexes a.
func NewAuditView(a Assignment) *AuditView {
	v := &AuditView{
		assignment: a,
		roomUsage:  make(map[cellKey]int, len(a)),
		staffUsage: make(map[cellKey]int, len(a)),
		staffDaily: make(map[dayKey]int),
		staffTotal: make(map[int64]int),
	}
	for _, p := range a {
		v.roomUsage[cellKey{day: p.Day, slot: p.Slot, id: p.RoomID}]++
		v.staffUsage[cellKey{day: p.Day, slot: p.Slot, id: p.StaffID}]++
		v.staffDaily[dayKey{day: p.Day, id: p.StaffID}]++
		v.staffTotal[p.StaffID]++
	}
	return v
}

func (v *AuditView) Placement(examID int64) (Placement, bool) {
	p, ok := v.assignment[examID]
	return p, ok
}

func (v *AuditView) RoomUsage(day, slot int, roomID int64) int {
	return v.roomUsage[cellKey{day: day, slot: slot, id: roomID}]
}

func (v *AuditView) StaffUsage(day, slot int, staffID int64) int {
	return v.staffUsage[cellKey{day: day, slot: slot, id: staffID}]
}

func (v *AuditView) StaffDayLoad(day int, staffID int64) int {
	return v.staffDaily[dayKey{day: day, id: staffID}]
}

func (v *AuditView) StaffLoad(staffID int64) int {
	return v.staffTotal[staffID]
}

func sortedExamIDs(a Assignment) []int64 {
	ids := lo.Keys(a)
	slices.Sort(ids)
	return ids
}
