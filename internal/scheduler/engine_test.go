package scheduler

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMode(days, slots, quota int) Mode {
	return Mode{Name: "test", Days: days, SlotsPerDay: slots, StaffDailyQuota: quota, Deadline: time.Hour}
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	engine, err := NewEngine(opts)
	require.NoError(t, err)
	return engine
}

func runSnapshot(t *testing.T, opts Options, snapshot *Snapshot) *Result {
	t.Helper()
	snapshot.Normalize()
	require.NoError(t, snapshot.Validate())
	graph := BuildConflictGraph(snapshot.Enrollments)
	return newTestEngine(t, opts).Run(snapshot, graph)
}

func deptID(v int64) *int64 { return &v }

func TestEngineTriangleOnSingleCell(t *testing.T) {
	snapshot := &Snapshot{
		Exams: []Exam{{ID: 1}, {ID: 2}, {ID: 3}},
		Rooms: []Room{{ID: 1, Capacity: 10}, {ID: 2, Capacity: 10}, {ID: 3, Capacity: 10}},
		Staff: []Staff{{ID: 1}, {ID: 2}, {ID: 3}},
		Enrollments: enroll(map[int64][]int64{
			1: {1, 2},
			2: {2, 3},
			3: {1, 3},
		}),
	}

	result := runSnapshot(t, Options{Mode: testMode(1, 1, 3)}, snapshot)

	assert.False(t, result.Success)
	assert.Len(t, result.Assignment, 1)
	assert.Contains(t, result.Assignment, int64(1))
	assert.Equal(t, []int64{2, 3}, result.Unassignable)
	assert.Equal(t, 3, result.Visited)
	assert.False(t, result.DeadlineExceeded)
}

func TestEngineNeverUsesUndersizedRoom(t *testing.T) {
	students := make([]int64, 31)
	pairs := map[int64][]int64{}
	for i := range students {
		pairs[int64(i)] = []int64{1}
	}

	small := &Snapshot{
		Exams:       []Exam{{ID: 1}},
		Rooms:       []Room{{ID: 30, Capacity: 30}},
		Staff:       []Staff{{ID: 1}, {ID: 2}},
		Enrollments: enroll(pairs),
	}
	result := runSnapshot(t, Options{Mode: testMode(5, 4, 3)}, small)
	assert.False(t, result.Success)
	assert.Empty(t, result.Assignment)
	assert.Equal(t, []int64{1}, result.Unassignable)

	withBigRoom := &Snapshot{
		Exams:       []Exam{{ID: 1}},
		Rooms:       []Room{{ID: 30, Capacity: 30}, {ID: 31, Capacity: 31}},
		Staff:       []Staff{{ID: 1}},
		Enrollments: enroll(pairs),
	}
	result = runSnapshot(t, Options{Mode: testMode(5, 4, 3)}, withBigRoom)
	require.True(t, result.Success)
	assert.Equal(t, int64(31), result.Assignment[1].RoomID)
}

func TestEngineCompleteUnderSlack(t *testing.T) {
	snapshot := &Snapshot{}
	pairs := map[int64][]int64{}
	for i := int64(1); i <= 40; i++ {
		snapshot.Exams = append(snapshot.Exams, Exam{ID: i})
		for s := int64(0); s < 5; s++ {
			pairs[i*100+s] = []int64{i}
		}
	}
	for i := int64(1); i <= 4; i++ {
		snapshot.Rooms = append(snapshot.Rooms, Room{ID: i, Capacity: 50})
		snapshot.Staff = append(snapshot.Staff, Staff{ID: i})
	}
	snapshot.Enrollments = enroll(pairs)

	result := runSnapshot(t, Options{Mode: testMode(5, 4, 3)}, snapshot)

	assert.True(t, result.Success)
	assert.Empty(t, result.Unassignable)
	assert.Len(t, result.Assignment, 40)
}

func TestEngineZeroDeadlineMarksEverythingUnassignable(t *testing.T) {
	snapshot := &Snapshot{
		Exams:       []Exam{{ID: 1}, {ID: 2}},
		Rooms:       []Room{{ID: 1, Capacity: 10}},
		Staff:       []Staff{{ID: 1}},
		Enrollments: enroll(map[int64][]int64{1: {1}, 2: {2}}),
	}
	mode := testMode(3, 3, 3)
	mode.Deadline = 0

	result := runSnapshot(t, Options{Mode: mode}, snapshot)

	assert.False(t, result.Success)
	assert.True(t, result.DeadlineExceeded)
	assert.Empty(t, result.Assignment)
	assert.ElementsMatch(t, []int64{1, 2}, result.Unassignable)
	assert.Equal(t, 0, result.Visited)
}

func TestEngineDeadlineCheckedPerExam(t *testing.T) {
	snapshot := &Snapshot{
		Exams:       []Exam{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}},
		Rooms:       []Room{{ID: 1, Capacity: 10}},
		Staff:       []Staff{{ID: 1}},
		Enrollments: Enrollments{},
	}
	mode := testMode(4, 4, 4)
	mode.Deadline = 2500 * time.Millisecond

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := 0
	now := func() time.Time {
		current := base.Add(time.Duration(ticks) * time.Second)
		ticks++
		return current
	}

	result := runSnapshot(t, Options{Mode: mode, Now: now}, snapshot)

	assert.True(t, result.DeadlineExceeded)
	assert.Equal(t, 2, result.Visited)
	assert.Len(t, result.Assignment, 2)
	assert.Equal(t, []int64{3, 4}, result.Unassignable)
}

func TestEngineSchedulesMostConstrainedFirst(t *testing.T) {
	snapshot := &Snapshot{
		Exams: []Exam{{ID: 1}, {ID: 2}, {ID: 3}},
		Rooms: []Room{{ID: 1, Capacity: 10}},
		Staff: []Staff{{ID: 1}, {ID: 2}},
		Enrollments: enroll(map[int64][]int64{
			1: {1},
			2: {2, 3},
		}),
	}

	result := runSnapshot(t, Options{Mode: testMode(2, 1, 3)}, snapshot)

	assert.Equal(t, Placement{Day: 0, Slot: 0, RoomID: 1, StaffID: 1}, result.Assignment[2])
	assert.Equal(t, Placement{Day: 1, Slot: 0, RoomID: 1, StaffID: 2}, result.Assignment[3])
	assert.Equal(t, []int64{1}, result.Unassignable)
}

func TestEnginePicksBestFitRoom(t *testing.T) {
	pairs := map[int64][]int64{}
	for s := int64(0); s < 15; s++ {
		pairs[s] = []int64{1}
	}
	snapshot := &Snapshot{
		Exams:       []Exam{{ID: 1}},
		Rooms:       []Room{{ID: 1, Capacity: 100}, {ID: 2, Capacity: 20}, {ID: 3, Capacity: 50}, {ID: 4, Capacity: 10}},
		Staff:       []Staff{{ID: 1}},
		Enrollments: enroll(pairs),
	}

	result := runSnapshot(t, Options{Mode: testMode(1, 1, 1)}, snapshot)

	assert.Equal(t, int64(2), result.Assignment[1].RoomID)
}

func TestEnginePrefersDepartmentThenLeastLoaded(t *testing.T) {
	t.Run("department affinity", func(t *testing.T) {
		snapshot := &Snapshot{
			Exams:       []Exam{{ID: 1, DepartmentID: deptID(7)}},
			Rooms:       []Room{{ID: 1, Capacity: 10}},
			Staff:       []Staff{{ID: 1, DepartmentID: deptID(1)}, {ID: 2, DepartmentID: deptID(7)}},
			Enrollments: Enrollments{},
		}
		result := runSnapshot(t, Options{Mode: testMode(1, 1, 3), AffinityPenalty: 1}, snapshot)
		assert.Equal(t, int64(2), result.Assignment[1].StaffID)
	})

	t.Run("affinity disabled", func(t *testing.T) {
		snapshot := &Snapshot{
			Exams:       []Exam{{ID: 1, DepartmentID: deptID(7)}},
			Rooms:       []Room{{ID: 1, Capacity: 10}},
			Staff:       []Staff{{ID: 1, DepartmentID: deptID(1)}, {ID: 2, DepartmentID: deptID(7)}},
			Enrollments: Enrollments{},
		}
		result := runSnapshot(t, Options{Mode: testMode(1, 1, 3), AffinityPenalty: 0}, snapshot)
		assert.Equal(t, int64(1), result.Assignment[1].StaffID)
	})

	t.Run("load balancing", func(t *testing.T) {
		snapshot := &Snapshot{
			Exams:       []Exam{{ID: 1}, {ID: 2}},
			Rooms:       []Room{{ID: 1, Capacity: 10}},
			Staff:       []Staff{{ID: 1}, {ID: 2}},
			Enrollments: Enrollments{},
		}
		result := runSnapshot(t, Options{Mode: testMode(1, 2, 3), AffinityPenalty: 1}, snapshot)
		assert.Equal(t, Placement{Day: 0, Slot: 0, RoomID: 1, StaffID: 1}, result.Assignment[1])
		assert.Equal(t, Placement{Day: 0, Slot: 1, RoomID: 1, StaffID: 2}, result.Assignment[2])
	})

	t.Run("affinity outweighs load", func(t *testing.T) {
		snapshot := &Snapshot{
			Exams:       []Exam{{ID: 1, DepartmentID: deptID(7)}, {ID: 2, DepartmentID: deptID(7)}},
			Rooms:       []Room{{ID: 1, Capacity: 10}},
			Staff:       []Staff{{ID: 1}, {ID: 2, DepartmentID: deptID(7)}},
			Enrollments: Enrollments{},
		}
		result := runSnapshot(t, Options{Mode: testMode(1, 2, 3), AffinityPenalty: 1}, snapshot)
		assert.Equal(t, int64(2), result.Assignment[1].StaffID)
		assert.Equal(t, int64(2), result.Assignment[2].StaffID)
	})

	t.Run("large penalty keeps affinity", func(t *testing.T) {
		snapshot := &Snapshot{
			Exams:       []Exam{{ID: 1, DepartmentID: deptID(7)}, {ID: 2, DepartmentID: deptID(7)}},
			Rooms:       []Room{{ID: 1, Capacity: 10}},
			Staff:       []Staff{{ID: 1}, {ID: 2, DepartmentID: deptID(7)}},
			Enrollments: Enrollments{},
		}
		result := runSnapshot(t, Options{Mode: testMode(1, 2, 3), AffinityPenalty: math.MaxInt}, snapshot)
		assert.Equal(t, int64(2), result.Assignment[1].StaffID)
		assert.Equal(t, int64(2), result.Assignment[2].StaffID)
	})
}

func TestEngineRunLeavesCallerGraphUntouched(t *testing.T) {
	snapshot := &Snapshot{
		Exams: []Exam{{ID: 1}, {ID: 2}, {ID: 3}},
		Rooms: []Room{{ID: 1, Capacity: 10}},
		Staff: []Staff{{ID: 1}},
	}
	snapshot.Normalize()
	snapshot.Enrollments.Add(1, 100)
	snapshot.Enrollments.Add(2, 100)
	graph := BuildConflictGraph(snapshot.Enrollments)
	require.Len(t, graph, 2)

	result := newTestEngine(t, Options{Mode: testMode(3, 1, 3)}).Run(snapshot, graph)

	assert.True(t, result.Success)
	assert.Len(t, graph, 2)
	_, ok := graph[3]
	assert.False(t, ok)
	assert.True(t, graph.Has(1, 2))
}

func TestEngineRespectsStaffDailyQuota(t *testing.T) {
	snapshot := &Snapshot{
		Exams:       []Exam{{ID: 1}, {ID: 2}, {ID: 3}},
		Rooms:       []Room{{ID: 1, Capacity: 10}},
		Staff:       []Staff{{ID: 1}},
		Enrollments: Enrollments{},
	}

	result := runSnapshot(t, Options{Mode: testMode(1, 3, 1)}, snapshot)
	assert.Len(t, result.Assignment, 1)
	assert.Equal(t, []int64{2, 3}, result.Unassignable)

	result = runSnapshot(t, Options{Mode: testMode(2, 3, 1)}, snapshot)
	assert.Len(t, result.Assignment, 2)
	assert.Equal(t, 1, result.Assignment[2].Day)
}

func TestEngineAssignmentSatisfiesHardConstraints(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	snapshot := &Snapshot{}
	pairs := map[int64][]int64{}
	for i := int64(1); i <= 120; i++ {
		snapshot.Exams = append(snapshot.Exams, Exam{ID: i, DepartmentID: deptID(i % 4)})
	}
	for s := int64(0); s < 900; s++ {
		for k := 0; k < 3; k++ {
			pairs[s] = append(pairs[s], int64(rng.Intn(120)+1))
		}
	}
	for i := int64(1); i <= 6; i++ {
		snapshot.Rooms = append(snapshot.Rooms, Room{ID: i, Capacity: 20 + int(i)*15})
	}
	for i := int64(1); i <= 8; i++ {
		snapshot.Staff = append(snapshot.Staff, Staff{ID: i, DepartmentID: deptID(i % 4)})
	}
	snapshot.Enrollments = enroll(pairs)

	mode := ThoroughMode()
	result := runSnapshot(t, Options{Mode: mode, AffinityPenalty: 1}, snapshot)

	graph := BuildConflictGraph(snapshot.Enrollments)
	ev := NewEvaluator(snapshot, graph, mode.StaffDailyQuota)
	assert.Empty(t, ev.AuditAssignment(result.Assignment))

	for examID, p := range result.Assignment {
		for _, neighbor := range graph.Neighbors(examID) {
			if other, ok := result.Assignment[neighbor]; ok {
				assert.NotEqual(t, p.Day, other.Day, "exams %d and %d share students", examID, neighbor)
			}
		}
	}
	assert.Equal(t, len(snapshot.Exams), len(result.Assignment)+len(result.Unassignable))
	assert.Equal(t, len(result.Unassignable) == 0, result.Success)
}

func TestEngineIsDeterministic(t *testing.T) {
	build := func() *Snapshot {
		return &Snapshot{
			Exams: []Exam{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}},
			Rooms: []Room{{ID: 1, Capacity: 5}, {ID: 2, Capacity: 5}},
			Staff: []Staff{{ID: 1}, {ID: 2}, {ID: 3}},
			Enrollments: enroll(map[int64][]int64{
				1: {1, 2},
				2: {2, 3},
				3: {4},
			}),
		}
	}
	first := runSnapshot(t, Options{Mode: testMode(2, 2, 2)}, build())
	second := runSnapshot(t, Options{Mode: testMode(2, 2, 2)}, build())
	assert.Equal(t, first.Assignment, second.Assignment)
	assert.Equal(t, first.Unassignable, second.Unassignable)
}

func TestEngineOptimizerHook(t *testing.T) {
	snapshot := func() *Snapshot {
		return &Snapshot{
			Exams:       []Exam{{ID: 1}, {ID: 2}},
			Rooms:       []Room{{ID: 1, Capacity: 10}, {ID: 2, Capacity: 10}},
			Staff:       []Staff{{ID: 1}, {ID: 2}},
			Enrollments: enroll(map[int64][]int64{1: {1, 2}}),
		}
	}

	t.Run("noop keeps constructive assignment", func(t *testing.T) {
		result := runSnapshot(t, Options{Mode: testMode(2, 1, 3)}, snapshot())
		assert.Equal(t, "noop", result.Optimizer)
		assert.Equal(t, 0, result.Assignment[1].Day)
		assert.Equal(t, 1, result.Assignment[2].Day)
	})

	t.Run("valid improvement is accepted", func(t *testing.T) {
		swap := OptimizerFunc(func(_ *Snapshot, _ ConflictGraph, a Assignment) Assignment {
			a[1], a[2] = a[2], a[1]
			return a
		})
		result := runSnapshot(t, Options{Mode: testMode(2, 1, 3), Optimizer: swap}, snapshot())
		assert.Equal(t, 1, result.Assignment[1].Day)
		assert.Equal(t, 0, result.Assignment[2].Day)
	})

	t.Run("infeasible improvement is rejected", func(t *testing.T) {
		collapse := OptimizerFunc(func(_ *Snapshot, _ ConflictGraph, a Assignment) Assignment {
			a[2] = a[1]
			return a
		})
		result := runSnapshot(t, Options{Mode: testMode(2, 1, 3), Optimizer: collapse}, snapshot())
		assert.NotEqual(t, result.Assignment[1].Day, result.Assignment[2].Day)
	})

	t.Run("dropping exams is rejected", func(t *testing.T) {
		drop := OptimizerFunc(func(_ *Snapshot, _ ConflictGraph, a Assignment) Assignment {
			delete(a, 2)
			return a
		})
		result := runSnapshot(t, Options{Mode: testMode(2, 1, 3), Optimizer: drop}, snapshot())
		assert.Len(t, result.Assignment, 2)
	})
}

func TestNewEngineRejectsInvalidMode(t *testing.T) {
	_, err := NewEngine(Options{Mode: Mode{Name: "broken", Days: 0, SlotsPerDay: 4, StaffDailyQuota: 2}})
	assert.Error(t, err)
}
