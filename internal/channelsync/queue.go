package channelsync

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

// GroupKey identifies one sync group.
type GroupKey struct {
	HotelID    uuid.UUID
	RoomTypeID uuid.UUID
}

// Item is a coalesced dirty span awaiting a push. To is exclusive.
type Item struct {
	GroupKey
	From       time.Time
	To         time.Time
	EnqueuedAt time.Time
	Priority   enums.SyncPriority
	// Bookings maps bookings whose needsSync rides on this group to the
	// version that was read when they were enqueued.
	Bookings map[uuid.UUID]int
}

// Span returns the item's date range.
func (i Item) Span() types.DateRange {
	return types.DateRange{From: i.From, To: i.To}
}

func (i *Item) merge(other Item) {
	if other.From.Before(i.From) {
		i.From = other.From
	}
	if other.To.After(i.To) {
		i.To = other.To
	}
	if other.EnqueuedAt.Before(i.EnqueuedAt) {
		i.EnqueuedAt = other.EnqueuedAt
	}
	if other.Priority.Rank() > i.Priority.Rank() {
		i.Priority = other.Priority
	}
	for id, v := range other.Bookings {
		if i.Bookings == nil {
			i.Bookings = make(map[uuid.UUID]int)
		}
		if cur, ok := i.Bookings[id]; !ok || v > cur {
			i.Bookings[id] = v
		}
	}
}

// Queue coalesces dirty notifications per (hotel, room type). While a group
// is in flight new dirties for it are parked and released by Done.
type Queue struct {
	mu       sync.Mutex
	pending  map[GroupKey]*Item
	parked   map[GroupKey]*Item
	inflight map[GroupKey]bool
	debounce time.Duration
}

// NewQueue builds an empty queue. Normal-priority items younger than debounce
// are held back from Drain so bursts collapse into one push.
func NewQueue(debounce time.Duration) *Queue {
	return &Queue{
		pending:  make(map[GroupKey]*Item),
		parked:   make(map[GroupKey]*Item),
		inflight: make(map[GroupKey]bool),
		debounce: debounce,
	}
}

// Add enqueues or coalesces item.
func (q *Queue) Add(item Item) {
	if item.Priority == "" {
		item.Priority = enums.SyncPriorityNormal
	}
	item.From = types.Day(item.From)
	item.To = types.Day(item.To)
	if !item.To.After(item.From) {
		item.To = types.AddDays(item.From, 1)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	target := q.pending
	if q.inflight[item.GroupKey] {
		target = q.parked
	}
	if cur, ok := target[item.GroupKey]; ok {
		cur.merge(item)
		return
	}
	cp := item
	cp.Bookings = nil
	if len(item.Bookings) > 0 {
		cp.Bookings = make(map[uuid.UUID]int, len(item.Bookings))
		for id, v := range item.Bookings {
			cp.Bookings[id] = v
		}
	}
	target[item.GroupKey] = &cp
}

// Drain removes and returns the items ready at now, high priority first then
// oldest first, and marks them in flight.
func (q *Queue) Drain(now time.Time) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Item
	for key, item := range q.pending {
		if item.Priority != enums.SyncPriorityHigh && q.debounce > 0 && now.Sub(item.EnqueuedAt) < q.debounce {
			continue
		}
		out = append(out, *item)
		delete(q.pending, key)
		q.inflight[key] = true
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}

// Done releases an in-flight group and moves any parked dirties back into the
// pending set.
func (q *Queue) Done(key GroupKey) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, key)
	parked, ok := q.parked[key]
	if !ok {
		return
	}
	delete(q.parked, key)
	if cur, ok := q.pending[key]; ok {
		cur.merge(*parked)
		return
	}
	q.pending[key] = parked
}

// Len counts pending and parked groups.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.parked)
}

// InFlight counts groups currently being pushed.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}
