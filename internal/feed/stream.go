package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/lumimeds/realtime/internal/common/cnst"
	"github.com/lumimeds/realtime/pkg/metrics"
)

// Stream reconciles one logical feed: the paginated REST history and the
// asynchronously arriving push events are merged into a single
// de-duplicated view keyed by item identity. The projected list is
// re-derived on every read, ordered by creation time descending with
// identity as the tie-break, so equal inputs always project equally.
//
// The unread snapshot is part of the stream's own state, not of any UI
// component, so a remount never loses the batch the user is reviewing.
type Stream struct {
	name    string
	client  HistoryClient
	limit   int
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	items    map[string]Item
	meta     PageMeta
	snapshot []string
	locked   bool
}

// NewStream constructs an empty stream. Nothing is fetched until LoadPage
// or Refresh is called.
func NewStream(name string, client HistoryClient, pageLimit int, logger *zap.Logger, m *metrics.Metrics) *Stream {
	if pageLimit <= 0 {
		pageLimit = cnst.DefaultPageLimit
	}
	return &Stream{
		name:    name,
		client:  client,
		limit:   pageLimit,
		logger:  logger.Named("feed").With(zap.String("stream", name)),
		metrics: m,
		items:   make(map[string]Item),
	}
}

// Name returns the stream name.
func (s *Stream) Name() string {
	return s.name
}

// LoadPage fetches one page of history and merges it in. A failed fetch
// leaves previously loaded items intact and surfaces the error to the
// caller for user-facing retry.
func (s *Stream) LoadPage(ctx context.Context, page int) (*Page, error) {
	start := time.Now()
	p, err := s.client.ListPage(ctx, s.name, page, s.limit)
	if err != nil {
		s.metrics.FetchDone(s.name, "error", start)
		return nil, err
	}
	s.metrics.FetchDone(s.name, "ok", start)

	s.mu.Lock()
	for _, it := range p.Items {
		// An id of an unexpected type decodes to the empty string; such
		// an entry has no identity to reconcile on and is dropped.
		if it.ID == "" {
			s.logger.Warn("dropping history item without identity",
				zap.Int("page", page))
			continue
		}
		s.merge(it)
	}
	s.meta = p.Meta
	s.mu.Unlock()
	return p, nil
}

// LoadMore fetches the next page after the last loaded one. Returns nil
// when the history is already exhausted.
func (s *Stream) LoadMore(ctx context.Context) (*Page, error) {
	s.mu.Lock()
	next := s.meta.Page + 1
	done := s.meta.TotalPages > 0 && next > s.meta.TotalPages
	s.mu.Unlock()
	if done {
		return nil, nil
	}
	return s.LoadPage(ctx, next)
}

// ApplyPush validates and merges one push-delivered payload. A malformed
// payload is dropped and logged; it never corrupts the merged set. The push
// payload wins over any existing entry with the same identity since push
// implies most current.
func (s *Stream) ApplyPush(data []byte) {
	it, err := decodePush(data)
	if err != nil {
		s.metrics.EventDropped("malformed")
		s.logger.Warn("dropping malformed push event", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.merge(it)
	s.mu.Unlock()
}

// decodePush checks the payload shape before any merge: a non-empty
// identity and a parseable creation timestamp are required.
func decodePush(data []byte) (Item, error) {
	if !gjson.ValidBytes(data) {
		return Item{}, fmt.Errorf("%w: invalid json", cnst.ErrMalformedEvent)
	}
	id := gjson.GetBytes(data, "id")
	if !id.Exists() || id.String() == "" {
		return Item{}, fmt.Errorf("%w: missing id", cnst.ErrMalformedEvent)
	}
	created := gjson.GetBytes(data, "createdAt")
	if _, err := time.Parse(time.RFC3339, created.String()); err != nil {
		if _, err := time.Parse(time.RFC3339Nano, created.String()); err != nil {
			return Item{}, fmt.Errorf("%w: bad createdAt %q", cnst.ErrMalformedEvent, created.String())
		}
	}

	var it Item
	if err := json.Unmarshal(data, &it); err != nil {
		return Item{}, err
	}
	return it, nil
}

// merge inserts or replaces by identity. Both page loads and push events
// overwrite the existing entry wholesale: last arrival wins, which makes
// the REST payload authoritative for the items it contains and a later
// push authoritative over that. Caller holds the lock.
func (s *Stream) merge(it Item) {
	s.items[it.ID] = it
}

// Items projects the merged set: creation time descending, ties broken by
// identity ascending so repeated projections of the same set never reorder.
func (s *Stream) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project()
}

func (s *Stream) project() []Item {
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// EnterUnreadView captures the identity list of all currently-unread items
// and, when the list is non-empty, locks it. While locked, UnreadItems and
// UnreadCount answer from the snapshot rather than a live filter: the user
// is reviewing that batch and its entries must not vanish one by one as
// read-state mutates underneath them.
func (s *Stream) EnterUnreadView() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]string, 0)
	for _, it := range s.project() {
		if !it.Read {
			snapshot = append(snapshot, it.ID)
		}
	}
	s.snapshot = snapshot
	s.locked = len(snapshot) > 0
	out := make([]string, len(snapshot))
	copy(out, snapshot)
	return out
}

// MarkAllReadCompleted resolves the in-flight bulk mutation. On success the
// local read-state catches up and the view reverts to a live filter, now
// empty. On failure snapshot and lock are cleared immediately so the user
// retries from a live, accurate view instead of a stale frozen batch.
func (s *Stream) MarkAllReadCompleted(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if success {
		for id, it := range s.items {
			if !it.Read {
				it.Read = true
				s.items[id] = it
			}
		}
	}
	s.snapshot = nil
	s.locked = false
}

// MarkAllRead captures the unread snapshot, fires the bulk mutation and
// resolves it through MarkAllReadCompleted. This is the single consolidated
// path for both the initial view and tab switches.
func (s *Stream) MarkAllRead(ctx context.Context) error {
	snapshot := s.EnterUnreadView()
	if len(snapshot) == 0 {
		return nil
	}

	err := s.client.MarkAllRead(ctx, s.name)
	s.MarkAllReadCompleted(err == nil)
	if err != nil {
		return fmt.Errorf("mark all read on %s: %w", s.name, err)
	}
	return nil
}

// UnreadItems returns the snapshot batch while locked, in captured order,
// otherwise a live filter over the projection.
func (s *Stream) UnreadItems() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked {
		out := make([]Item, 0, len(s.snapshot))
		for _, id := range s.snapshot {
			if it, ok := s.items[id]; ok {
				out = append(out, it)
			}
		}
		return out
	}

	out := make([]Item, 0)
	for _, it := range s.project() {
		if !it.Read {
			out = append(out, it)
		}
	}
	return out
}

// UnreadCount reports the snapshot size while locked, the live unread
// count otherwise.
func (s *Stream) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked {
		return len(s.snapshot)
	}
	n := 0
	for _, it := range s.items {
		if !it.Read {
			n++
		}
	}
	return n
}

// IsUnreadLocked reports whether the unread view is answering from a
// captured snapshot.
func (s *Stream) IsUnreadLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Refresh discards all items, the snapshot and the lock, then reloads the
// first page. Used when the owning context switches identity.
func (s *Stream) Refresh(ctx context.Context) (*Page, error) {
	s.mu.Lock()
	s.items = make(map[string]Item)
	s.meta = PageMeta{}
	s.snapshot = nil
	s.locked = false
	s.mu.Unlock()

	return s.LoadPage(ctx, 1)
}
