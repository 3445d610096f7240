package reservations

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/channelcore-backend/internal/channels"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox/idempotency"
)

type stubProcessor struct {
	mu    sync.Mutex
	calls []channels.Reservation
	errs  []error
}

func (p *stubProcessor) Handle(ctx context.Context, res channels.Reservation) (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, res)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{Ack: true, Action: ActionCreated}, nil
}

type memoryIdempotency struct {
	mu    sync.Mutex
	state map[string]idempotency.Status
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{state: map[string]idempotency.Status{}}
}

func (m *memoryIdempotency) Claim(ctx context.Context, consumer, key string) (idempotency.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := consumer + ":" + key
	if st, ok := m.state[k]; ok {
		if st == idempotency.Done {
			return idempotency.Done, nil
		}
		return idempotency.InFlight, nil
	}
	m.state[k] = idempotency.Claimed
	return idempotency.Claimed, nil
}

func (m *memoryIdempotency) Complete(ctx context.Context, consumer, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[consumer+":"+key] = idempotency.Done
	return nil
}

func (m *memoryIdempotency) Release(ctx context.Context, consumer, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, consumer+":"+key)
	return nil
}

type fakeConsumer struct {
	msgs      []kafkago.Message
	committed []kafkago.Message
	cancel    context.CancelFunc
}

func (c *fakeConsumer) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	if len(c.msgs) == 0 {
		c.cancel()
		<-ctx.Done()
		return kafkago.Message{}, ctx.Err()
	}
	msg := c.msgs[0]
	c.msgs = c.msgs[1:]
	return msg, nil
}

func (c *fakeConsumer) CommitMessages(ctx context.Context, msgs ...kafkago.Message) error {
	c.committed = append(c.committed, msgs...)
	return nil
}

func (c *fakeConsumer) Close() error { return nil }

func newTestDispatcher(t *testing.T, p Processor) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(p, newMemoryIdempotency(), logger.New(logger.Options{ServiceName: "dispatch-test", Level: logger.ParseLevel("error")}))
	require.NoError(t, err)
	d.retryDelay = 0
	return d
}

func TestDecodeFillsFromAttributes(t *testing.T) {
	hotelID := uuid.New()
	body := []byte(`{"channelBookingId":"X-1","checkIn":"2025-08-01T00:00:00Z","checkOut":"2025-08-03T00:00:00Z","rooms":1}`)

	res, err := Decode(body, map[string]string{"source": "booking_com", "hotel_id": hotelID.String()})
	require.NoError(t, err)
	assert.Equal(t, "booking_com", res.Source)
	assert.Equal(t, hotelID, res.HotelID)
	assert.Equal(t, channels.ReservationNew, res.Kind)
	assert.JSONEq(t, string(body), string(res.Raw))

	_, err = Decode(body, map[string]string{"hotel_id": "not-a-uuid"})
	assert.Error(t, err)
	_, err = Decode([]byte("{"), nil)
	assert.Error(t, err)
}

func TestProcessSkipsRedelivery(t *testing.T) {
	p := &stubProcessor{}
	d := newTestDispatcher(t, p)
	body := []byte(`{"source":"expedia","hotelId":"` + uuid.NewString() + `","channelBookingId":"E-9"}`)

	assert.False(t, d.process(context.Background(), "m-1", body, nil).retry)
	assert.False(t, d.process(context.Background(), "m-1", body, nil).retry)
	assert.Len(t, p.calls, 1)
}

func TestProcessReleasesKeyOnHandlerError(t *testing.T) {
	p := &stubProcessor{errs: []error{errors.New("db down")}}
	d := newTestDispatcher(t, p)
	body := []byte(`{"source":"expedia","channelBookingId":"E-10"}`)

	assert.True(t, d.process(context.Background(), "m-2", body, nil).retry)
	assert.False(t, d.process(context.Background(), "m-2", body, nil).retry)
	assert.Len(t, p.calls, 2)
}

func TestProcessCompletesPermanentHandlerError(t *testing.T) {
	p := &stubProcessor{errs: []error{pkgerrors.New(pkgerrors.CodeValidation, "arrival after departure")}}
	d := newTestDispatcher(t, p)
	body := []byte(`{"source":"expedia","channelBookingId":"E-12"}`)

	assert.False(t, d.process(context.Background(), "m-5", body, nil).retry)
	assert.False(t, d.process(context.Background(), "m-5", body, nil).retry)
	assert.Len(t, p.calls, 1)
	assert.Equal(t, idempotency.Done, d.manager.(*memoryIdempotency).state[inboundConsumerName+":m-5"])
}

func TestProcessRetriesWhileAnotherWorkerHoldsTheClaim(t *testing.T) {
	p := &stubProcessor{}
	d := newTestDispatcher(t, p)
	idem := d.manager.(*memoryIdempotency)
	_, _ = idem.Claim(context.Background(), inboundConsumerName, "m-4")

	body := []byte(`{"source":"expedia","channelBookingId":"E-11"}`)
	assert.True(t, d.process(context.Background(), "m-4", body, nil).retry)
	assert.Empty(t, p.calls)
}

func TestProcessAcksUndecodableMessage(t *testing.T) {
	p := &stubProcessor{}
	d := newTestDispatcher(t, p)
	assert.False(t, d.process(context.Background(), "m-3", []byte("garbage"), nil).retry)
	assert.Empty(t, p.calls)
}

func TestRunKafkaCommitsAfterHandling(t *testing.T) {
	p := &stubProcessor{errs: []error{errors.New("transient"), nil, errors.New("a"), errors.New("b"), errors.New("c")}}
	d := newTestDispatcher(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hotelID := uuid.NewString()
	consumer := &fakeConsumer{cancel: cancel, msgs: []kafkago.Message{
		{Topic: "reservations", Offset: 1, Value: []byte(`{"channelBookingId":"K-1"}`), Headers: []kafkago.Header{{Key: "source", Value: []byte("airbnb")}, {Key: "hotel_id", Value: []byte(hotelID)}}},
		{Topic: "reservations", Offset: 2, Value: []byte(`{"channelBookingId":"K-2"}`)},
	}}

	err := d.RunKafka(ctx, consumer)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, consumer.committed, 2)

	// K-1 retried once, K-2 gave up after three attempts and was committed anyway
	require.Len(t, p.calls, 5)
	assert.Equal(t, "airbnb", p.calls[0].Source)
	assert.Equal(t, hotelID, p.calls[0].HotelID.String())
	assert.Equal(t, "K-2", p.calls[4].ChannelBookingID)
}
