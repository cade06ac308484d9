package scheduler

import (
	"fmt"
	"time"
)

// WallClock maps synthetic grid cells to concrete timestamps at write-back.
type WallClock struct {
	Epoch       time.Time
	SlotOffsets []time.Duration
}

// DefaultWallClock starts on 2026-06-01 08:30 with four slots per day.
func DefaultWallClock() WallClock {
	return WallClock{
		Epoch: time.Date(2026, time.June, 1, 8, 30, 0, 0, time.UTC),
		SlotOffsets: []time.Duration{
			0,
			120 * time.Minute,
			300 * time.Minute,
			420 * time.Minute,
		},
	}
}

// Validate checks that slot offsets are strictly increasing and fall within
// one day, so distinct grid cells never share a start time.
func (c WallClock) Validate() error {
	if len(c.SlotOffsets) == 0 {
		return fmt.Errorf("no slot offsets configured")
	}
	for i, offset := range c.SlotOffsets {
		if offset < 0 || offset >= 24*time.Hour {
			return fmt.Errorf("slot offset %d (%s) must be within one day", i, offset)
		}
		if i > 0 && offset <= c.SlotOffsets[i-1] {
			return fmt.Errorf("slot offset %d (%s) must be later than slot offset %d (%s)", i, offset, i-1, c.SlotOffsets[i-1])
		}
	}
	return nil
}

// Supports reports whether the clock is valid and every slot of the mode has
// a clock offset.
func (c WallClock) Supports(m Mode) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if m.SlotsPerDay > len(c.SlotOffsets) {
		return fmt.Errorf("mode %q uses %d slots per day but only %d slot offsets are configured", m.Name, m.SlotsPerDay, len(c.SlotOffsets))
	}
	return nil
}

// Start returns the start time of (day, slot).
func (c WallClock) Start(day, slot int) time.Time {
	return c.Epoch.AddDate(0, 0, day).Add(c.SlotOffsets[slot])
}

// Window returns the start and end time of an exam placed at (day, slot).
func (c WallClock) Window(day, slot, durationMinutes int) (time.Time, time.Time) {
	start := c.Start(day, slot)
	return start, start.Add(time.Duration(durationMinutes) * time.Minute)
}

// Overruns reports whether an exam of durationMinutes placed in slot runs
// past the start of the next slot. The last slot of a day runs up to the first
// slot of the following day.
func (c WallClock) Overruns(slot, durationMinutes int) bool {
	if slot < 0 || slot >= len(c.SlotOffsets) {
		return false
	}
	limit := 24*time.Hour + c.SlotOffsets[0]
	if slot+1 < len(c.SlotOffsets) {
		limit = c.SlotOffsets[slot+1]
	}
	return c.SlotOffsets[slot]+time.Duration(durationMinutes)*time.Minute > limit
}

// Identify maps a persisted start time back to a grid cell. The day is the
// number of calendar days since the epoch date. Starts matching a configured
// offset get that slot index; any other time of day gets a distinct index past
// the configured slots, so two rows share a cell iff they share a start time.
func (c WallClock) Identify(start time.Time) Cell {
	start = start.In(c.Epoch.Location())
	epochDate := truncateToDate(c.Epoch)
	startDate := truncateToDate(start)
	day := int(startDate.Sub(epochDate).Round(time.Hour) / (24 * time.Hour))

	sinceEpochTime := start.Sub(c.Epoch.AddDate(0, 0, day))
	for slot, offset := range c.SlotOffsets {
		if offset == sinceEpochTime {
			return Cell{Day: day, Slot: slot}
		}
	}
	minuteOfDay := int(start.Sub(startDate) / time.Minute)
	return Cell{Day: day, Slot: len(c.SlotOffsets) + minuteOfDay}
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
