package scheduler

import (
	"slices"

	"github.com/samber/lo"
)

// ConflictGraph is the undirected exam adjacency: an edge means the two exams
// share at least one student and therefore cannot sit on the same day.
type ConflictGraph map[int64]map[int64]struct{}

// BuildConflictGraph derives the conflict graph from enrollments via a
// student -> exams inverted index. Every exam key of enrollments gets an entry,
// empty when it shares no student.
func BuildConflictGraph(enrollments Enrollments) ConflictGraph {
	graph := make(ConflictGraph, len(enrollments))

	examIDs := lo.Keys(enrollments)
	slices.Sort(examIDs)

	studentExams := make(map[int64][]int64)
	for _, examID := range examIDs {
		graph[examID] = make(map[int64]struct{})
		for studentID := range enrollments[examID] {
			studentExams[studentID] = append(studentExams[studentID], examID)
		}
	}

	for _, exams := range studentExams {
		for i := 0; i < len(exams); i++ {
			for j := i + 1; j < len(exams); j++ {
				u, v := exams[i], exams[j]
				graph[u][v] = struct{}{}
				graph[v][u] = struct{}{}
			}
		}
	}
	return graph
}

// Ensure adds empty entries for exams that have no enrollments at all.
func (g ConflictGraph) Ensure(examIDs ...int64) {
	for _, id := range examIDs {
		if _, ok := g[id]; !ok {
			g[id] = make(map[int64]struct{})
		}
	}
}

// WithExams returns a graph with an entry for every exam in examIDs. The
// adjacency sets are shared with g, which is left unchanged.
func (g ConflictGraph) WithExams(examIDs ...int64) ConflictGraph {
	out := make(ConflictGraph, len(g)+len(examIDs))
	for id, adj := range g {
		out[id] = adj
	}
	out.Ensure(examIDs...)
	return out
}

// Degree returns the number of exams conflicting with examID.
func (g ConflictGraph) Degree(examID int64) int {
	return len(g[examID])
}

// Has reports whether a and b conflict.
func (g ConflictGraph) Has(a, b int64) bool {
	_, ok := g[a][b]
	return ok
}

// Neighbors returns the conflicting exams sorted by id.
func (g ConflictGraph) Neighbors(examID int64) []int64 {
	ids := lo.Keys(g[examID])
	slices.Sort(ids)
	return ids
}

// EdgeCount returns the number of undirected edges.
func (g ConflictGraph) EdgeCount() int {
	total := 0
	for _, adj := range g {
		total += len(adj)
	}
	return total / 2
}
