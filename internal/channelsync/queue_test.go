package channelsync

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

var (
	day1 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	day3 = day1.AddDate(0, 0, 2)
	day5 = day1.AddDate(0, 0, 4)
)

func TestQueueCoalescesPerGroup(t *testing.T) {
	q := NewQueue(0)
	key := GroupKey{HotelID: uuid.New(), RoomTypeID: uuid.New()}
	now := time.Now()

	q.Add(Item{GroupKey: key, From: day3, To: day5, EnqueuedAt: now})
	q.Add(Item{GroupKey: key, From: day1, To: day3, EnqueuedAt: now.Add(-time.Minute), Priority: enums.SyncPriorityHigh})
	require.Equal(t, 1, q.Len())

	items := q.Drain(now)
	require.Len(t, items, 1)
	assert.Equal(t, day1, items[0].From)
	assert.Equal(t, day5, items[0].To)
	assert.Equal(t, enums.SyncPriorityHigh, items[0].Priority)
	assert.Equal(t, now.Add(-time.Minute), items[0].EnqueuedAt)
}

func TestQueueParksWhileInFlight(t *testing.T) {
	q := NewQueue(0)
	key := GroupKey{HotelID: uuid.New(), RoomTypeID: uuid.New()}
	now := time.Now()

	q.Add(Item{GroupKey: key, From: day1, To: day3, EnqueuedAt: now})
	require.Len(t, q.Drain(now), 1)
	assert.Equal(t, 1, q.InFlight())

	q.Add(Item{GroupKey: key, From: day3, To: day5, EnqueuedAt: now})
	assert.Empty(t, q.Drain(now), "parked items are not drained while the group is in flight")

	q.Done(key)
	assert.Equal(t, 0, q.InFlight())
	items := q.Drain(now)
	require.Len(t, items, 1)
	assert.Equal(t, day3, items[0].From)
}

func TestQueueDebounceHoldsNormalPriority(t *testing.T) {
	q := NewQueue(5 * time.Second)
	now := time.Now()
	normal := GroupKey{HotelID: uuid.New(), RoomTypeID: uuid.New()}
	urgent := GroupKey{HotelID: uuid.New(), RoomTypeID: uuid.New()}

	q.Add(Item{GroupKey: normal, From: day1, To: day3, EnqueuedAt: now})
	q.Add(Item{GroupKey: urgent, From: day1, To: day3, EnqueuedAt: now, Priority: enums.SyncPriorityHigh})

	items := q.Drain(now.Add(time.Second))
	require.Len(t, items, 1)
	assert.Equal(t, urgent, items[0].GroupKey)

	items = q.Drain(now.Add(6 * time.Second))
	require.Len(t, items, 1)
	assert.Equal(t, normal, items[0].GroupKey)
}

func TestQueueDrainOrdersByPriorityThenAge(t *testing.T) {
	q := NewQueue(0)
	now := time.Now()
	a := GroupKey{HotelID: uuid.New(), RoomTypeID: uuid.New()}
	b := GroupKey{HotelID: uuid.New(), RoomTypeID: uuid.New()}
	c := GroupKey{HotelID: uuid.New(), RoomTypeID: uuid.New()}

	q.Add(Item{GroupKey: a, From: day1, EnqueuedAt: now.Add(-time.Minute)})
	q.Add(Item{GroupKey: b, From: day1, EnqueuedAt: now.Add(-2 * time.Minute)})
	q.Add(Item{GroupKey: c, From: day1, EnqueuedAt: now, Priority: enums.SyncPriorityHigh})

	items := q.Drain(now)
	require.Len(t, items, 3)
	assert.Equal(t, []GroupKey{c, b, a}, []GroupKey{items[0].GroupKey, items[1].GroupKey, items[2].GroupKey})
	assert.Equal(t, day1.AddDate(0, 0, 1), items[0].To, "empty spans widen to one night")
}

func TestQueueKeepsHighestBookingVersion(t *testing.T) {
	q := NewQueue(0)
	key := GroupKey{HotelID: uuid.New(), RoomTypeID: uuid.New()}
	id := uuid.New()

	q.Add(Item{GroupKey: key, From: day1, To: day3, Bookings: map[uuid.UUID]int{id: 2}})
	q.Add(Item{GroupKey: key, From: day1, To: day3, Bookings: map[uuid.UUID]int{id: 4}})
	q.Add(Item{GroupKey: key, From: day1, To: day3, Bookings: map[uuid.UUID]int{id: 3}})

	items := q.Drain(time.Now())
	require.Len(t, items, 1)
	assert.Equal(t, 4, items[0].Bookings[id])
}
