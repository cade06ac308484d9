package scheduler

import (
	"cmp"
	"slices"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Options configures an Engine.
type Options struct {
	Mode Mode
	// AffinityPenalty is the score added to staff outside the exam's
	// department. Zero disables department affinity.
	AffinityPenalty int
	Optimizer       Optimizer
	Logger          *zap.Logger
	// Now overrides the wall clock used for the deadline check.
	Now func() time.Time
}

// Engine runs the constructive heuristic for one mode.
type Engine struct {
	mode      Mode
	penalty   int
	optimizer Optimizer
	logger    *zap.Logger
	now       func() time.Time
}

// Result is the outcome of a run. Success is true iff no exam is unassignable.
type Result struct {
	Mode             string        `json:"mode"`
	Success          bool          `json:"success"`
	Assignment       Assignment    `json:"assignment"`
	Unassignable     []int64       `json:"unassignable"`
	Visited          int           `json:"visited"`
	DeadlineExceeded bool          `json:"deadline_exceeded"`
	Optimizer        string        `json:"optimizer"`
	Elapsed          time.Duration `json:"elapsed"`
}

// Scheduled returns the number of assigned exams.
func (r *Result) Scheduled() int {
	return len(r.Assignment)
}

// NewEngine validates the mode and returns an engine.
func NewEngine(opts Options) (*Engine, error) {
	if err := opts.Mode.Validate(); err != nil {
		return nil, err
	}
	if opts.AffinityPenalty < 0 {
		opts.AffinityPenalty = 0
	}
	if opts.Optimizer == nil {
		opts.Optimizer = NoopOptimizer{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		mode:      opts.Mode,
		penalty:   opts.AffinityPenalty,
		optimizer: opts.Optimizer,
		logger:    opts.Logger,
		now:       opts.Now,
	}, nil
}

// Mode returns the engine configuration.
func (e *Engine) Mode() Mode {
	return e.mode
}

// Run assigns every exam of the snapshot, hardest first. Exams that cannot be
// placed, and every exam left unvisited when the deadline passes, are reported
// as unassignable. Run never fails: infeasibility is a result, not an error.
func (e *Engine) Run(snapshot *Snapshot, graph ConflictGraph) *Result {
	start := e.now()
	graph = graph.WithExams(snapshot.ExamIDs()...)

	evaluator := NewEvaluator(snapshot, graph, e.mode.StaffDailyQuota)
	state := newRunState(len(snapshot.Exams))
	order := orderByDifficulty(snapshot.Exams, graph)
	rooms := roomsByCapacity(snapshot.Rooms)
	cells := e.mode.Cells()
	scorer := newStaffScorer(snapshot, e.penalty)

	result := &Result{Mode: e.mode.Name, Unassignable: make([]int64, 0)}

	for idx, exam := range order {
		if e.now().Sub(start) >= e.mode.Deadline {
			result.DeadlineExceeded = true
			for _, rest := range order[idx:] {
				result.Unassignable = append(result.Unassignable, rest.ID)
			}
			e.logger.Warn("scheduling deadline exceeded",
				zap.String("mode", e.mode.Name),
				zap.Int("visited", idx),
				zap.Int("remaining", len(order)-idx),
			)
			break
		}
		result.Visited++

		if !e.place(exam, cells, rooms, scorer, evaluator, state) {
			result.Unassignable = append(result.Unassignable, exam.ID)
		}

		if idx%100 == 0 {
			e.logger.Debug("assigning exams", zap.Int("index", idx), zap.Int("total", len(order)))
		}
	}

	result.Assignment = e.optimize(snapshot, graph, evaluator, state.assignment)
	result.Optimizer = e.optimizer.Name()
	result.Success = len(result.Unassignable) == 0
	result.Elapsed = e.now().Sub(start)

	e.logger.Info("scheduling pass complete",
		zap.String("mode", e.mode.Name),
		zap.Int("exams", len(order)),
		zap.Int("scheduled", len(result.Assignment)),
		zap.Int("unassignable", len(result.Unassignable)),
		zap.Bool("deadline_exceeded", result.DeadlineExceeded),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result
}

// place tries the grid in day-major order and commits the exam at the first
// cell where both a room and a supervisor are available.
func (e *Engine) place(exam Exam, cells []Cell, rooms []Room, scorer *staffScorer, ev *Evaluator, state *runState) bool {
	candidates := lo.Filter(rooms, func(room Room, _ int) bool {
		return ev.RoomFits(exam.ID, room)
	})
	if len(candidates) == 0 {
		return false
	}

	for _, cell := range cells {
		if !ev.StudentDayFree(state, exam.ID, cell.Day) {
			continue
		}

		room, ok := lo.Find(candidates, func(room Room) bool {
			return ev.RoomFree(state, cell.Day, cell.Slot, room.ID)
		})
		if !ok {
			continue
		}

		staffID, ok := scorer.best(exam, cell, ev, state)
		if !ok {
			continue
		}

		state.commit(exam.ID, Placement{Day: cell.Day, Slot: cell.Slot, RoomID: room.ID, StaffID: staffID})
		return true
	}
	return false
}

func (e *Engine) optimize(snapshot *Snapshot, graph ConflictGraph, ev *Evaluator, constructed Assignment) Assignment {
	improved := e.optimizer.Optimize(snapshot, graph, constructed.Clone())
	if improved == nil {
		return constructed
	}
	if len(improved) != len(constructed) {
		e.logger.Warn("optimizer changed the set of scheduled exams, keeping constructive assignment",
			zap.String("optimizer", e.optimizer.Name()))
		return constructed
	}
	for id := range constructed {
		if _, ok := improved[id]; !ok {
			e.logger.Warn("optimizer dropped a scheduled exam, keeping constructive assignment",
				zap.String("optimizer", e.optimizer.Name()), zap.Int64("exam_id", id))
			return constructed
		}
	}
	if violations := ev.AuditAssignment(improved); len(violations) > 0 {
		e.logger.Warn("optimizer broke hard constraints, keeping constructive assignment",
			zap.String("optimizer", e.optimizer.Name()), zap.Int("violations", len(violations)))
		return constructed
	}
	return improved
}

// orderByDifficulty sorts exams by conflict degree, highest first. Ties keep
// snapshot order.
func orderByDifficulty(exams []Exam, graph ConflictGraph) []Exam {
	order := slices.Clone(exams)
	slices.SortStableFunc(order, func(a, b Exam) int {
		return cmp.Compare(graph.Degree(b.ID), graph.Degree(a.ID))
	})
	return order
}

// roomsByCapacity sorts rooms ascending by capacity so the first fitting room
// is the tightest one.
func roomsByCapacity(rooms []Room) []Room {
	sorted := slices.Clone(rooms)
	slices.SortStableFunc(sorted, func(a, b Room) int {
		return cmp.Compare(a.Capacity, b.Capacity)
	})
	return sorted
}

// staffScorer picks supervisors: lowest score wins, ties go to the earlier
// staff member in snapshot order.
type staffScorer struct {
	staff   []Staff
	penalty int
	scale   int
}

func newStaffScorer(snapshot *Snapshot, penalty int) *staffScorer {
	// A department mismatch must outweigh any load difference, and no staff
	// member can supervise more exams than exist.
	// Only the ordering matters, so any positive penalty collapses to one
	// to keep the product from overflowing.
	if penalty > 1 {
		penalty = 1
	}
	return &staffScorer{staff: snapshot.Staff, penalty: penalty, scale: len(snapshot.Exams) + 1}
}

func (s *staffScorer) score(exam Exam, staff Staff, v View) int {
	score := v.StaffLoad(staff.ID)
	if !sameDepartment(exam.DepartmentID, staff.DepartmentID) {
		score += s.penalty * s.scale
	}
	return score
}

func (s *staffScorer) best(exam Exam, cell Cell, ev *Evaluator, v View) (int64, bool) {
	var (
		bestID    int64
		bestScore int
		found     bool
	)
	for _, staff := range s.staff {
		if !ev.StaffFree(v, cell.Day, cell.Slot, staff.ID) || !ev.StaffUnderQuota(v, cell.Day, staff.ID) {
			continue
		}
		score := s.score(exam, staff, v)
		if !found || score < bestScore {
			bestID, bestScore, found = staff.ID, score, true
		}
	}
	return bestID, found
}

func sameDepartment(a, b *int64) bool {
	return a != nil && b != nil && *a == *b
}
