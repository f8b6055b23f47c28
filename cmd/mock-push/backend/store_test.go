package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumimeds/realtime/internal/feed"
)

func TestStore_Pagination(t *testing.T) {
	s := NewStore()
	s.Seed("notifications", 45)

	p1 := s.Page("notifications", 1, 20)
	assert.Len(t, p1.Items, 20)
	assert.Equal(t, feed.PageMeta{Page: 1, Limit: 20, Total: 45, TotalPages: 3}, p1.Meta)

	p3 := s.Page("notifications", 3, 20)
	assert.Len(t, p3.Items, 5)

	// past the end is empty, not an error
	p4 := s.Page("notifications", 4, 20)
	assert.Empty(t, p4.Items)
	assert.Equal(t, 45, p4.Meta.Total)

	// newest first across the whole history
	require.NotEmpty(t, p1.Items)
	require.NotEmpty(t, p3.Items)
	assert.True(t, p1.Items[0].CreatedAt.After(p3.Items[len(p3.Items)-1].CreatedAt))
}

func TestStore_PageDefaults(t *testing.T) {
	s := NewStore()
	s.Seed("messages", 5)

	p := s.Page("messages", 0, 0)
	assert.Equal(t, 1, p.Meta.Page)
	assert.Equal(t, 20, p.Meta.Limit)
	assert.Len(t, p.Items, 5)
}

func TestStore_UnknownStreamIsEmpty(t *testing.T) {
	s := NewStore()
	p := s.Page("nope", 1, 20)
	assert.Empty(t, p.Items)
	assert.Equal(t, 0, p.Meta.Total)
	assert.Equal(t, 0, p.Meta.TotalPages)
}

func TestStore_AddThenPage(t *testing.T) {
	s := NewStore()
	s.Seed("messages", 2)
	s.Add("messages", feed.Item{
		ID:        "fresh",
		CreatedAt: time.Now().UTC().Add(time.Minute),
		Body:      "hello",
	})

	p := s.Page("messages", 1, 20)
	require.Len(t, p.Items, 3)
	assert.Equal(t, "fresh", p.Items[0].ID)
}

func TestStore_MarkAllRead(t *testing.T) {
	s := NewStore()
	s.Seed("notifications", 10)

	assert.Equal(t, 10, s.MarkAllRead("notifications"))
	for _, it := range s.Page("notifications", 1, 20).Items {
		assert.True(t, it.Read)
	}

	// second call has nothing left to flip
	assert.Equal(t, 0, s.MarkAllRead("notifications"))
	assert.Equal(t, 0, s.MarkAllRead("unknown"))
}
