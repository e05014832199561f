package cache_test

import (
	"testing"
	"time"

	"github.com/benmeehan/debloat-agent/internal/cache"
	"github.com/stretchr/testify/assert"
)

func TestEntry_ValidFor(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	e := cache.Entry[int]{Value: 7, CapturedAt: base, TTL: 5 * time.Second, Owner: "ABC"}

	assert.True(t, e.ValidFor(base.Add(4*time.Second), "ABC"))
	assert.False(t, e.ValidFor(base.Add(5*time.Second), "ABC"), "age equal to TTL is stale")
	assert.False(t, e.ValidFor(base.Add(time.Second), "XYZ"), "different owner is a miss")
	assert.Equal(t, 3*time.Second, e.Age(base.Add(3*time.Second)))
}

func TestSlot_GetSetClear(t *testing.T) {
	base := time.Now()
	var s cache.Slot[[]string]

	_, ok := s.Get(base, "")
	assert.False(t, ok)

	s.Set(cache.Entry[[]string]{Value: []string{"a"}, CapturedAt: base, TTL: time.Minute})
	v, ok := s.Get(base.Add(time.Second), "")
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, v)

	s.Expire()
	_, ok = s.Get(base, "")
	assert.False(t, ok)
	peeked, ok := s.Peek()
	assert.True(t, ok, "expired entries stay visible to Peek")
	assert.Equal(t, []string{"a"}, peeked.Value)

	s.Clear()
	_, ok = s.Peek()
	assert.False(t, ok)
}
