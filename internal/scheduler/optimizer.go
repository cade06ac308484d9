package scheduler

// Optimizer is the extension point for a soft-constraint improvement pass run
// after the constructive pass. It receives a copy of the assignment and returns
// a possibly improved one; the engine discards results that break a hard
// constraint or drop a scheduled exam.
type Optimizer interface {
	Name() string
	Optimize(snapshot *Snapshot, graph ConflictGraph, assignment Assignment) Assignment
}

// OptimizerFunc adapts a function to Optimizer.
type OptimizerFunc func(snapshot *Snapshot, graph ConflictGraph, assignment Assignment) Assignment

func (f OptimizerFunc) Name() string { return "func" }

func (f OptimizerFunc) Optimize(snapshot *Snapshot, graph ConflictGraph, assignment Assignment) Assignment {
	return f(snapshot, graph, assignment)
}

// NoopOptimizer keeps the constructive assignment unchanged.
type NoopOptimizer struct{}

func (NoopOptimizer) Name() string { return "noop" }

func (NoopOptimizer) Optimize(_ *Snapshot, _ ConflictGraph, assignment Assignment) Assignment {
	return assignment
}
