package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAppendAndStats(t *testing.T) {
	m := NewMemory(10)
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return fixed })

	m.AppendUser("hello")
	m.AppendModel("hi there")
	m.AppendUser("what time is it?")

	all := m.All()
	require.Len(t, all, 3)
	assert.Equal(t, RoleUser, all[0].Role)
	assert.Equal(t, "hi there", all[1].Content)
	assert.Equal(t, fixed, all[2].Timestamp)

	assert.Equal(t, Stats{Count: 3, UserCount: 2, ModelCount: 1}, m.Stats())
}

func TestMemoryBoundKeepsNewestInOrder(t *testing.T) {
	const limit = 50
	m := NewMemory(limit)
	for i := 0; i < 120; i++ {
		m.AppendUser(fmt.Sprintf("msg-%d", i))
	}

	all := m.All()
	require.Len(t, all, limit)
	for i, msg := range all {
		assert.Equal(t, fmt.Sprintf("msg-%d", 70+i), msg.Content)
	}
}

func TestMemoryRecent(t *testing.T) {
	m := NewMemory(0)
	assert.Equal(t, DefaultCap, m.Cap())

	m.AppendUser("a")
	m.AppendModel("b")
	m.AppendUser("c")

	recent := m.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Content)
	assert.Equal(t, "c", recent[1].Content)

	assert.Len(t, m.Recent(10), 3)
	assert.Empty(t, m.Recent(0))
}

func TestMemorySnapshotsAreIsolated(t *testing.T) {
	m := NewMemory(5)
	m.AppendUser("original")

	snap := m.Recent(1)
	snap[0].Content = "mutated"

	assert.Equal(t, "original", m.All()[0].Content)
}

func TestMemoryFormattedAndClear(t *testing.T) {
	m := NewMemory(5)
	m.AppendUser("question")
	m.AppendModel("answer")

	assert.Equal(t, []Turn{
		{Role: RoleUser, Content: "question"},
		{Role: RoleModel, Content: "answer"},
	}, m.Formatted())

	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.Formatted())
	assert.Equal(t, Stats{}, m.Stats())
}
