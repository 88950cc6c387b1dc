package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMock(start)

	assert.Equal(t, start, m.Now())

	m.Sleep(5 * time.Minute)
	assert.Equal(t, start.Add(5*time.Minute), m.Now())

	m.Advance(time.Hour)
	assert.Equal(t, start.Add(5*time.Minute+time.Hour), m.Now())

	later := start.Add(24 * time.Hour)
	m.Set(later)
	assert.Equal(t, later, m.Now())
}
