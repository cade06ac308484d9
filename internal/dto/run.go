package dto

import "time"

// RunRequest asks for one scheduling run.
type RunRequest struct {
	Mode           string `json:"mode" validate:"required,oneof=fast thorough draft optimize optimized"`
	SnapshotFile   string `json:"snapshot_file,omitempty"`
	DryRun         bool   `json:"dry_run"`
	PersistPartial bool   `json:"persist_partial"`
	Validate       bool   `json:"validate"`
}

// RunReport summarises a scheduling run.
type RunReport struct {
	RunID          string            `json:"run_id"`
	Mode           string            `json:"mode"`
	Success        bool              `json:"success"`
	TotalExams     int               `json:"total_exams"`
	Scheduled      int               `json:"scheduled"`
	Unassignable   []int64           `json:"unassignable"`
	ConflictEdges  int               `json:"conflict_edges"`
	DeadlineHit    bool              `json:"deadline_hit"`
	SlotOverruns   []int64           `json:"slot_overruns,omitempty"`
	Persisted      bool              `json:"persisted"`
	Version        int               `json:"version,omitempty"`
	LoadElapsed    time.Duration     `json:"load_elapsed"`
	GraphElapsed   time.Duration     `json:"graph_elapsed"`
	Elapsed        time.Duration     `json:"elapsed"`
	PersistElapsed time.Duration     `json:"persist_elapsed"`
	Validation     *ValidationReport `json:"validation,omitempty"`
	FinishedAt     time.Time         `json:"finished_at"`
}

// ViolationItem is one hard-constraint breach found in persisted rows.
type ViolationItem struct {
	Constraint string `json:"constraint"`
	ExamID     int64  `json:"exam_id"`
	Detail     string `json:"detail"`
}

// ValidationReport lists every violation found by the independent validator.
type ValidationReport struct {
	Entries    int             `json:"entries"`
	Valid      bool            `json:"valid"`
	Violations []ViolationItem `json:"violations"`
}

// StatsSummary aggregates the persisted timetable for dashboards and reports.
type StatsSummary struct {
	ExamsByDay      []DayCountItem        `json:"exams_by_day"`
	RoomOccupancy   []RoomOccupancyItem   `json:"room_occupancy"`
	SupervisionLoad []SupervisionLoadItem `json:"supervision_load"`
	StatusCounts    map[string]int        `json:"status_counts"`
}

// DayCountItem counts exams on one date.
type DayCountItem struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// RoomOccupancyItem is a room's average seat utilisation in percent.
type RoomOccupancyItem struct {
	Name string  `json:"name"`
	Rate float64 `json:"rate"`
}

// SupervisionLoadItem counts supervised exams per staff member.
type SupervisionLoadItem struct {
	StaffID int64  `json:"staff_id"`
	Name    string `json:"name"`
	Count   int    `json:"count"`
}

// ExportRequest selects the export format and destination.
type ExportRequest struct {
	Format string `json:"format" validate:"required,oneof=csv pdf"`
	Upload bool   `json:"upload"`
}

// ExportResult describes a written export file.
type ExportResult struct {
	Format      string `json:"format"`
	Location    string `json:"location"`
	Rows        int    `json:"rows"`
	ContentType string `json:"content_type"`
}

// BenchmarkReport times each phase of a run without persisting.
type BenchmarkReport struct {
	Mode         string        `json:"mode"`
	Exams        int           `json:"exams"`
	Rooms        int           `json:"rooms"`
	Staff        int           `json:"staff"`
	Edges        int           `json:"edges"`
	Scheduled    int           `json:"scheduled"`
	Unassignable int           `json:"unassignable"`
	Load         time.Duration `json:"load"`
	Graph        time.Duration `json:"graph"`
	Solve        time.Duration `json:"solve"`
	Total        time.Duration `json:"total"`
}
