package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/mitchellh/mapstructure"

	"github.com/noah-isme/exam-scheduler/internal/scheduler"
)

// snapshotFile is the on-disk layout. Enrollments are keyed by exam id as a
// string because JSON object keys cannot be numbers.
type snapshotFile struct {
	Exams       []scheduler.Exam   `mapstructure:"exams" json:"exams"`
	Rooms       []scheduler.Room   `mapstructure:"rooms" json:"rooms"`
	Staff       []scheduler.Staff  `mapstructure:"staff" json:"staff"`
	Enrollments map[string][]int64 `mapstructure:"enrollments" json:"enrollments"`
}

// LoadSnapshotFile reads a snapshot from a JSON file for offline runs and benchmarks.
func LoadSnapshotFile(path string) (*scheduler.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}
	return DecodeSnapshot(raw)
}

// DecodeSnapshot parses the JSON snapshot layout.
func DecodeSnapshot(raw []byte) (*scheduler.Snapshot, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse snapshot json: %w", err)
	}

	var file snapshotFile
	if err := mapstructure.Decode(payload, &file); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	snapshot := &scheduler.Snapshot{
		Exams:       file.Exams,
		Rooms:       file.Rooms,
		Staff:       file.Staff,
		Enrollments: make(scheduler.Enrollments, len(file.Enrollments)),
	}
	for key, students := range file.Enrollments {
		examID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid exam id %q in enrollments: %w", key, err)
		}
		for _, studentID := range students {
			snapshot.Enrollments.Add(examID, studentID)
		}
	}

	snapshot.Normalize()
	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("validate snapshot: %w", err)
	}
	return snapshot, nil
}

// WriteSnapshotFile stores a snapshot in the layout LoadSnapshotFile reads.
func WriteSnapshotFile(path string, snapshot *scheduler.Snapshot) error {
	file := snapshotFile{
		Exams:       snapshot.Exams,
		Rooms:       snapshot.Rooms,
		Staff:       snapshot.Staff,
		Enrollments: make(map[string][]int64, len(snapshot.Enrollments)),
	}
	for examID, students := range snapshot.Enrollments {
		ids := make([]int64, 0, len(students))
		for studentID := range students {
			ids = append(ids, studentID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		file.Enrollments[strconv.FormatInt(examID, 10)] = ids
	}

	payload, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write snapshot file: %w", err)
	}
	return nil
}
