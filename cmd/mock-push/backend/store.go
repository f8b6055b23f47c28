package backend

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumimeds/realtime/internal/feed"
)

// Store is the mock server's in-memory history: one ordered item list per
// stream, paginated the same way the production REST API paginates.
type Store struct {
	mu      sync.Mutex
	streams map[string][]feed.Item
}

func NewStore() *Store {
	return &Store{streams: make(map[string][]feed.Item)}
}

// Seed fills a stream with n unread items with staggered creation times.
func (s *Store) Seed(stream string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	items := make([]feed.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, feed.Item{
			ID:        uuid.NewString(),
			CreatedAt: now.Add(-time.Duration(i) * time.Minute),
			Kind:      "seed",
			Title:     fmt.Sprintf("%s item %d", stream, i+1),
			Body:      "seeded by mock-push",
		})
	}
	s.streams[stream] = items
}

// Add appends one item to a stream.
func (s *Store) Add(stream string, it feed.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[stream] = append(s.streams[stream], it)
}

// Page returns one page, newest first, ties broken by id ascending.
func (s *Store) Page(stream string, page, limit int) *feed.Page {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	s.mu.Lock()
	items := make([]feed.Item, len(s.streams[stream]))
	copy(items, s.streams[stream])
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})

	total := len(items)
	totalPages := (total + limit - 1) / limit
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &feed.Page{
		Items: items[start:end],
		Meta: feed.PageMeta{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
		},
	}
}

// MarkAllRead flips every unread item of a stream and reports how many.
func (s *Store) MarkAllRead(stream string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	items := s.streams[stream]
	for i := range items {
		if !items[i].Read {
			items[i].Read = true
			n++
		}
	}
	return n
}
