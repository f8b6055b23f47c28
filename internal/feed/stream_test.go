package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeHistory serves scripted pages and records mark-all-read calls.
type fakeHistory struct {
	mu        sync.Mutex
	pages     map[int]*Page
	listErr   error
	markErr   error
	markCalls int
}

func (f *fakeHistory) ListPage(_ context.Context, _ string, page, _ int) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	p, ok := f.pages[page]
	if !ok {
		return nil, fmt.Errorf("no such page %d", page)
	}
	return p, nil
}

func (f *fakeHistory) MarkAllRead(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls++
	return f.markErr
}

var base = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func item(id string, age time.Duration, read bool) Item {
	return Item{ID: id, CreatedAt: base.Add(-age), Read: read, Title: "t-" + id}
}

func newTestStream(h HistoryClient) *Stream {
	return NewStream("notifications", h, 20, zap.NewNop(), nil)
}

func TestStream_LoadPageMergesAndOrders(t *testing.T) {
	h := &fakeHistory{pages: map[int]*Page{
		1: {
			Items: []Item{
				item("b", 2*time.Minute, false),
				item("a", time.Minute, false),
				item("c", 3*time.Minute, true),
			},
			Meta: PageMeta{Page: 1, Limit: 20, Total: 3, TotalPages: 1},
		},
	}}
	s := newTestStream(h)

	p, err := s.LoadPage(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Meta.Total)

	got := s.Items()
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, "c", got[2].ID)
}

func TestStream_OrderingTieBreak(t *testing.T) {
	h := &fakeHistory{pages: map[int]*Page{
		1: {
			Items: []Item{
				item("z", time.Minute, false),
				item("a", time.Minute, false),
				item("m", time.Minute, false),
			},
			Meta: PageMeta{Page: 1, TotalPages: 1},
		},
	}}
	s := newTestStream(h)
	_, err := s.LoadPage(context.Background(), 1)
	require.NoError(t, err)

	// identical timestamps project in identity order, every time
	for i := 0; i < 5; i++ {
		got := s.Items()
		require.Len(t, got, 3)
		assert.Equal(t, "a", got[0].ID)
		assert.Equal(t, "m", got[1].ID)
		assert.Equal(t, "z", got[2].ID)
	}
}

func TestStream_DeduplicatesAcrossPagesAndPush(t *testing.T) {
	h := &fakeHistory{pages: map[int]*Page{
		1: {
			Items: []Item{item("a", time.Minute, false), item("b", 2*time.Minute, false)},
			Meta:  PageMeta{Page: 1, Limit: 2, Total: 3, TotalPages: 2},
		},
		2: {
			Items: []Item{item("b", 2*time.Minute, true), item("c", 3*time.Minute, false)},
			Meta:  PageMeta{Page: 2, Limit: 2, Total: 3, TotalPages: 2},
		},
	}}
	s := newTestStream(h)

	_, err := s.LoadPage(context.Background(), 1)
	require.NoError(t, err)
	p, err := s.LoadMore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)

	got := s.Items()
	require.Len(t, got, 3)
	// page 2's copy of "b" replaced page 1's
	assert.True(t, got[1].Read)

	// history exhausted
	p, err = s.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)

	// a push for an existing identity overwrites it wholesale
	s.ApplyPush([]byte(`{"id":"a","createdAt":"2026-08-01T11:59:00Z","read":true,"title":"updated"}`))
	got = s.Items()
	require.Len(t, got, 3)
	assert.Equal(t, "updated", got[0].Title)
	assert.True(t, got[0].Read)
}

func TestStream_LoadPageDropsItemsWithoutIdentity(t *testing.T) {
	// a REST entry whose id is neither string nor number decodes to an
	// empty identity; it must not land in the merged set under ""
	noID := item("", time.Minute, false)
	h := &fakeHistory{pages: map[int]*Page{
		1: {
			Items: []Item{noID, item("a", 2*time.Minute, false)},
			Meta:  PageMeta{Page: 1, Limit: 20, Total: 2, TotalPages: 1},
		},
	}}
	s := newTestStream(h)

	_, err := s.LoadPage(context.Background(), 1)
	require.NoError(t, err)

	got := s.Items()
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, 1, s.UnreadCount())
}

func TestStream_FailedLoadKeepsItems(t *testing.T) {
	h := &fakeHistory{pages: map[int]*Page{
		1: {Items: []Item{item("a", time.Minute, false)}, Meta: PageMeta{Page: 1, TotalPages: 2}},
	}}
	s := newTestStream(h)
	_, err := s.LoadPage(context.Background(), 1)
	require.NoError(t, err)

	h.mu.Lock()
	h.listErr = errors.New("upstream 502")
	h.mu.Unlock()

	_, err = s.LoadMore(context.Background())
	require.Error(t, err)
	assert.Len(t, s.Items(), 1)
}

func TestStream_ApplyPushValidation(t *testing.T) {
	s := newTestStream(&fakeHistory{})

	for name, payload := range map[string]string{
		"not json":      `{"id":`,
		"missing id":    `{"createdAt":"2026-08-01T12:00:00Z"}`,
		"empty id":      `{"id":"","createdAt":"2026-08-01T12:00:00Z"}`,
		"bad createdAt": `{"id":"x","createdAt":"yesterday"}`,
		"no createdAt":  `{"id":"x"}`,
	} {
		s.ApplyPush([]byte(payload))
		assert.Empty(t, s.Items(), name)
	}

	// numeric id and nano timestamps are accepted
	s.ApplyPush([]byte(`{"id":42,"createdAt":"2026-08-01T12:00:00.123456Z"}`))
	got := s.Items()
	require.Len(t, got, 1)
	assert.Equal(t, "42", got[0].ID)
}

func TestStream_UnreadSnapshotLock(t *testing.T) {
	h := &fakeHistory{pages: map[int]*Page{
		1: {
			Items: []Item{
				item("a", time.Minute, false),
				item("b", 2*time.Minute, false),
				item("c", 3*time.Minute, true),
			},
			Meta: PageMeta{Page: 1, TotalPages: 1},
		},
	}}
	s := newTestStream(h)
	_, err := s.LoadPage(context.Background(), 1)
	require.NoError(t, err)

	snap := s.EnterUnreadView()
	assert.Equal(t, []string{"a", "b"}, snap)
	assert.True(t, s.IsUnreadLocked())
	assert.Equal(t, 2, s.UnreadCount())

	// a push marking "a" read mid-review must not shrink the batch on screen
	s.ApplyPush([]byte(`{"id":"a","createdAt":"2026-08-01T11:59:00Z","read":true}`))
	unread := s.UnreadItems()
	require.Len(t, unread, 2)
	assert.Equal(t, "a", unread[0].ID)
	assert.Equal(t, 2, s.UnreadCount())

	// resolving successfully unlocks and the live view is empty
	s.MarkAllReadCompleted(true)
	assert.False(t, s.IsUnreadLocked())
	assert.Equal(t, 0, s.UnreadCount())
	assert.Empty(t, s.UnreadItems())
	for _, it := range s.Items() {
		assert.True(t, it.Read)
	}
}

func TestStream_EnterUnreadViewEmptyDoesNotLock(t *testing.T) {
	h := &fakeHistory{pages: map[int]*Page{
		1: {Items: []Item{item("a", time.Minute, true)}, Meta: PageMeta{Page: 1, TotalPages: 1}},
	}}
	s := newTestStream(h)
	_, err := s.LoadPage(context.Background(), 1)
	require.NoError(t, err)

	snap := s.EnterUnreadView()
	assert.Empty(t, snap)
	assert.False(t, s.IsUnreadLocked())
}

func TestStream_MarkAllReadFailureFailsOpen(t *testing.T) {
	h := &fakeHistory{
		pages: map[int]*Page{
			1: {Items: []Item{item("a", time.Minute, false)}, Meta: PageMeta{Page: 1, TotalPages: 1}},
		},
		markErr: errors.New("upstream 500"),
	}
	s := newTestStream(h)
	_, err := s.LoadPage(context.Background(), 1)
	require.NoError(t, err)

	err = s.MarkAllRead(context.Background())
	require.Error(t, err)

	// failure clears the snapshot so the next view answers live
	assert.False(t, s.IsUnreadLocked())
	assert.Equal(t, 1, s.UnreadCount())
	require.Len(t, s.UnreadItems(), 1)
	assert.False(t, s.UnreadItems()[0].Read)
}

func TestStream_MarkAllReadSkipsWhenNothingUnread(t *testing.T) {
	h := &fakeHistory{pages: map[int]*Page{
		1: {Items: []Item{item("a", time.Minute, true)}, Meta: PageMeta{Page: 1, TotalPages: 1}},
	}}
	s := newTestStream(h)
	_, err := s.LoadPage(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, s.MarkAllRead(context.Background()))
	assert.Equal(t, 0, h.markCalls)
}

func TestStream_MarkAllReadSuccess(t *testing.T) {
	h := &fakeHistory{pages: map[int]*Page{
		1: {
			Items: []Item{item("a", time.Minute, false), item("b", 2*time.Minute, false)},
			Meta:  PageMeta{Page: 1, TotalPages: 1},
		},
	}}
	s := newTestStream(h)
	_, err := s.LoadPage(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, s.MarkAllRead(context.Background()))
	assert.Equal(t, 1, h.markCalls)
	assert.Equal(t, 0, s.UnreadCount())
	assert.False(t, s.IsUnreadLocked())
}

func TestStream_Refresh(t *testing.T) {
	h := &fakeHistory{pages: map[int]*Page{
		1: {Items: []Item{item("a", time.Minute, false)}, Meta: PageMeta{Page: 1, TotalPages: 1}},
	}}
	s := newTestStream(h)
	_, err := s.LoadPage(context.Background(), 1)
	require.NoError(t, err)
	s.ApplyPush([]byte(`{"id":"ghost","createdAt":"2026-08-01T12:00:00Z"}`))
	s.EnterUnreadView()
	require.True(t, s.IsUnreadLocked())

	// swap the backing data to a different identity's feed
	h.mu.Lock()
	h.pages[1] = &Page{Items: []Item{item("x", time.Minute, false)}, Meta: PageMeta{Page: 1, TotalPages: 1}}
	h.mu.Unlock()

	p, err := s.Refresh(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)

	got := s.Items()
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].ID)
	assert.False(t, s.IsUnreadLocked())
}

func TestStream_ReviewBatchEndToEnd(t *testing.T) {
	// a user opens the unread tab with a page of unread items, pushes arrive
	// marking some of them read, the batch on screen stays whole until the
	// bulk mutation resolves
	items := make([]Item, 0, 20)
	for i := 0; i < 20; i++ {
		items = append(items, item(fmt.Sprintf("n%02d", i), time.Duration(i)*time.Minute, false))
	}
	h := &fakeHistory{pages: map[int]*Page{
		1: {Items: items, Meta: PageMeta{Page: 1, Limit: 20, Total: 20, TotalPages: 1}},
	}}
	s := newTestStream(h)
	_, err := s.LoadPage(context.Background(), 1)
	require.NoError(t, err)

	snap := s.EnterUnreadView()
	require.Len(t, snap, 20)

	for _, id := range []string{"n03", "n07", "n11"} {
		payload := fmt.Sprintf(`{"id":%q,"createdAt":%q,"read":true}`, id, base.Format(time.RFC3339))
		s.ApplyPush([]byte(payload))
	}
	assert.Len(t, s.UnreadItems(), 20)
	assert.Equal(t, 20, s.UnreadCount())

	require.NoError(t, h.MarkAllRead(context.Background(), "notifications"))
	s.MarkAllReadCompleted(true)

	assert.Equal(t, 0, s.UnreadCount())
	assert.Empty(t, s.UnreadItems())
}
