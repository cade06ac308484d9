package scheduler

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	ModeFast     = "fast"
	ModeThorough = "thorough"
)

// Mode parameterizes a run: grid size, per-day supervision quota and the
// wall-clock budget. All modes share the same engine.
type Mode struct {
	Name            string        `json:"name" validate:"required"`
	Days            int           `json:"days" validate:"min=1,max=366"`
	SlotsPerDay     int           `json:"slots_per_day" validate:"min=1,max=48"`
	StaffDailyQuota int           `json:"staff_daily_quota" validate:"min=1"`
	Deadline        time.Duration `json:"deadline" validate:"min=0"`
}

// FastMode is the quick draft configuration.
func FastMode() Mode {
	return Mode{Name: ModeFast, Days: 14, SlotsPerDay: 4, StaffDailyQuota: 2, Deadline: 30 * time.Second}
}

// ThoroughMode is the full optimisation configuration.
func ThoroughMode() Mode {
	return Mode{Name: ModeThorough, Days: 14, SlotsPerDay: 4, StaffDailyQuota: 3, Deadline: 5 * time.Minute}
}

var modeValidator = validator.New()

// Validate checks the mode parameters.
func (m Mode) Validate() error {
	if err := modeValidator.Struct(m); err != nil {
		return fmt.Errorf("invalid mode %q: %w", m.Name, err)
	}
	return nil
}

// GridSize returns the number of (day, slot) cells.
func (m Mode) GridSize() int {
	return m.Days * m.SlotsPerDay
}

// Cell is one (day, slot) pair of the time grid.
type Cell struct {
	Day  int
	Slot int
}

// Cells enumerates the grid day-major, which is the order the engine tries.
func (m Mode) Cells() []Cell {
	cells := make([]Cell, 0, m.GridSize())
	for day := 0; day < m.Days; day++ {
		for slot := 0; slot < m.SlotsPerDay; slot++ {
			cells = append(cells, Cell{Day: day, Slot: slot})
		}
	}
	return cells
}

// ModeRegistry resolves mode names to configurations.
type ModeRegistry struct {
	modes map[string]Mode
}

// NewModeRegistry registers the given modes, validating each one.
func NewModeRegistry(modes ...Mode) (*ModeRegistry, error) {
	r := &ModeRegistry{modes: make(map[string]Mode, len(modes))}
	for _, m := range modes {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		r.modes[strings.ToLower(m.Name)] = m
	}
	return r, nil
}

// Lookup returns the named mode. The legacy names "draft" and "optimize" are
// accepted for fast and thorough.
func (r *ModeRegistry) Lookup(name string) (Mode, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "draft":
		key = ModeFast
	case "optimize", "optimized":
		key = ModeThorough
	}
	m, ok := r.modes[key]
	return m, ok
}

// Names lists registered modes in alphabetical order.
func (r *ModeRegistry) Names() []string {
	names := make([]string, 0, len(r.modes))
	for name := range r.modes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
