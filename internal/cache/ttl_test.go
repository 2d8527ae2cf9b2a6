package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewTTL[string](5 * time.Second).WithClock(func() time.Time { return now })

	_, ok := c.Get()
	assert.False(t, ok)

	c.Set("store")
	v, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, "store", v)

	now = now.Add(4 * time.Second)
	_, ok = c.Get()
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get()
	assert.False(t, ok)
}

type counter struct{ n int }

func (c *counter) Invalidate() { c.n++ }

func TestResetAndGroup(t *testing.T) {
	c := NewTTL[int](time.Hour)
	c.Set(3)
	c.Reset()
	_, ok := c.Get()
	assert.False(t, ok)

	a, b := &counter{}, &counter{}
	Group{a, nil, b}.Invalidate()
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}
