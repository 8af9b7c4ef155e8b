package cache_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/engramlabs/engram/memory/cache"
)

func TestSetAndGet(t *testing.T) {
	c, err := cache.New(16, time.Minute)
	gt.NoError(t, err)
	defer c.Dispose()

	vec := []float32{0.1, 0.2, 0.3}
	c.Set("hello", vec)

	got, ok := c.Get("hello")
	gt.True(t, ok)
	gt.Equal(t, got, vec)
}

func TestGetMiss(t *testing.T) {
	c, err := cache.New(16, time.Minute)
	gt.NoError(t, err)
	defer c.Dispose()

	_, ok := c.Get("never stored")
	gt.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c, err := cache.New(16, 10*time.Millisecond)
	gt.NoError(t, err)
	defer c.Dispose()

	c.Set("ephemeral", []float32{1})
	time.Sleep(50 * time.Millisecond)

	_, ok := c.Get("ephemeral")
	gt.False(t, ok)
}

func TestRejectsInvalidSize(t *testing.T) {
	_, err := cache.New(0, time.Minute)
	gt.Error(t, err)
	_, err = cache.New(-5, time.Minute)
	gt.Error(t, err)
}
