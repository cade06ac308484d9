package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltInModes(t *testing.T) {
	fast := FastMode()
	require.NoError(t, fast.Validate())
	assert.Equal(t, 56, fast.GridSize())
	assert.Equal(t, 2, fast.StaffDailyQuota)
	assert.Equal(t, 30*time.Second, fast.Deadline)

	thorough := ThoroughMode()
	require.NoError(t, thorough.Validate())
	assert.Equal(t, 3, thorough.StaffDailyQuota)
	assert.Equal(t, 5*time.Minute, thorough.Deadline)
}

func TestModeValidateRejectsBadParameters(t *testing.T) {
	cases := map[string]Mode{
		"missing name":  {Days: 1, SlotsPerDay: 1, StaffDailyQuota: 1},
		"zero days":     {Name: "x", Days: 0, SlotsPerDay: 1, StaffDailyQuota: 1},
		"zero slots":    {Name: "x", Days: 1, SlotsPerDay: 0, StaffDailyQuota: 1},
		"zero quota":    {Name: "x", Days: 1, SlotsPerDay: 1, StaffDailyQuota: 0},
		"negative time": {Name: "x", Days: 1, SlotsPerDay: 1, StaffDailyQuota: 1, Deadline: -time.Second},
	}
	for name, mode := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, mode.Validate())
		})
	}
}

func TestModeCellsAreDayMajor(t *testing.T) {
	mode := Mode{Name: "grid", Days: 2, SlotsPerDay: 2, StaffDailyQuota: 1}
	assert.Equal(t, []Cell{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, mode.Cells())
}

func TestModeRegistryLookup(t *testing.T) {
	registry, err := NewModeRegistry(FastMode(), ThoroughMode())
	require.NoError(t, err)

	m, ok := registry.Lookup("draft")
	require.True(t, ok)
	assert.Equal(t, ModeFast, m.Name)

	m, ok = registry.Lookup(" Optimize ")
	require.True(t, ok)
	assert.Equal(t, ModeThorough, m.Name)

	_, ok = registry.Lookup("exhaustive")
	assert.False(t, ok)

	assert.Equal(t, []string{ModeFast, ModeThorough}, registry.Names())

	_, err = NewModeRegistry(Mode{Name: "broken"})
	assert.Error(t, err)
}
