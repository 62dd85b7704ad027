package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStateStore_TakeConsumesOnce(t *testing.T) {
	store := NewMemoryStateStore(15 * time.Minute)

	store.Put("tok-1", "flow-1")

	flowID, ok := store.Take("tok-1")
	require.True(t, ok)
	assert.Equal(t, "flow-1", flowID)

	// 重放：同一 token 第二次消费必须失败
	_, ok = store.Take("tok-1")
	assert.False(t, ok)
}

func TestMemoryStateStore_UnknownToken(t *testing.T) {
	store := NewMemoryStateStore(15 * time.Minute)

	_, ok := store.Take("never-issued")
	assert.False(t, ok)
}

func TestMemoryStateStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStateStore(15 * time.Minute)

	current := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	store.Put("tok-1", "flow-1")

	current = current.Add(16 * time.Minute)
	_, ok := store.Take("tok-1")
	assert.False(t, ok)
}

func TestMemoryStateStore_PutEvictsExpired(t *testing.T) {
	store := NewMemoryStateStore(15 * time.Minute)

	current := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	store.Put("tok-old", "flow-old")
	current = current.Add(time.Hour)
	store.Put("tok-new", "flow-new")

	assert.Len(t, store.entries, 1)

	flowID, ok := store.Take("tok-new")
	require.True(t, ok)
	assert.Equal(t, "flow-new", flowID)
}

func TestNewStateToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token := NewStateToken()
		require.NotEmpty(t, token)
		require.False(t, seen[token])
		seen[token] = true
	}
}
