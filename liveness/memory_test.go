package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.Now = func() time.Time {
		return now
	}

	assert.Equal(t, ErrNotArmed, m.Refresh(ctx, "a", time.Minute))

	require.NoError(t, m.Arm(ctx, "a", time.Minute))
	alive, err := m.Alive(ctx, "a")
	require.NoError(t, err)
	assert.True(t, alive)

	now = now.Add(50 * time.Second)
	require.NoError(t, m.Refresh(ctx, "a", time.Minute))

	now = now.Add(50 * time.Second)
	alive, _ = m.Alive(ctx, "a")
	assert.True(t, alive)

	t.Run("Expiration", func(t *testing.T) {
		now = now.Add(time.Minute)
		alive, _ := m.Alive(ctx, "a")
		assert.False(t, alive)
		assert.Equal(t, ErrNotArmed, m.Refresh(ctx, "a", time.Minute))
	})

	t.Run("Drop", func(t *testing.T) {
		require.NoError(t, m.Arm(ctx, "b", time.Minute))
		m.Drop("b")
		alive, _ := m.Alive(ctx, "b")
		assert.False(t, alive)
	})

	t.Run("Disarm", func(t *testing.T) {
		require.NoError(t, m.Arm(ctx, "c", time.Minute))
		require.NoError(t, m.Disarm(ctx, "c"))
		require.NoError(t, m.Disarm(ctx, "c"))
		alive, _ := m.Alive(ctx, "c")
		assert.False(t, alive)
	})
}
