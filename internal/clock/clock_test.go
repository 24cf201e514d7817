package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parkb/internal/clock"
)

func TestRealNowHonoursLocation(t *testing.T) {
	t.Parallel()

	now := clock.Real{Loc: time.UTC}.Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.WithinDuration(t, time.Now(), now, time.Second)
}

func TestManualAfterFiresOnAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	m := clock.NewManual(start)
	ch := m.After(time.Minute)
	require.Equal(t, 1, m.Pending())

	m.Advance(30 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired early")
	default:
	}

	m.Advance(30 * time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, start.Add(time.Minute), got)
	default:
		t.Fatal("timer did not fire")
	}
	assert.Zero(t, m.Pending())
}

func TestManualAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	select {
	case <-m.After(0):
	default:
		t.Fatal("zero duration timer should fire immediately")
	}
}
