package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDayUsesReferenceZone(t *testing.T) {
	almaty := time.FixedZone("UTC+5", 5*60*60)
	// 21:30 UTC is already the next calendar day at UTC+5.
	instant := time.Date(2026, 3, 10, 21, 30, 0, 0, time.UTC)

	assert.Equal(t, "2026-03-10", Day(instant, time.UTC).Format("2006-01-02"))
	assert.Equal(t, "2026-03-11", Day(instant, almaty).Format("2006-01-02"))
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	c.Advance(36 * time.Hour)
	assert.Equal(t, start.Add(36*time.Hour), c.Now())
}
