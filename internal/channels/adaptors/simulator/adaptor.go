// Package simulator is an in-process channel used in development and tests.
// It records every push and can be told to fail.
package simulator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelcore-backend/internal/channels"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

// FailurePartial makes the simulator refuse the last record of each push.
const FailurePartial = "partial"

// Push is one recorded PushUpdates call.
type Push struct {
	ChannelID uuid.UUID
	Records   []channels.Record
	Result    channels.Result
	At        time.Time
}

type Adaptor struct {
	mu           sync.Mutex
	pushes       []Push
	scripted     map[uuid.UUID][]string
	reservations map[uuid.UUID][]channels.Reservation
	latency      time.Duration
	now          func() time.Time
}

type Option func(*Adaptor)

// WithLatency delays every call by d, honoring context cancellation.
func WithLatency(d time.Duration) Option {
	return func(a *Adaptor) { a.latency = d }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Adaptor) {
		if now != nil {
			a.now = now
		}
	}
}

func New(opts ...Option) *Adaptor {
	a := &Adaptor{
		scripted:     make(map[uuid.UUID][]string),
		reservations: make(map[uuid.UUID][]channels.Reservation),
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

func (a *Adaptor) Category() enums.ChannelCategory {
	return enums.ChannelSimulator
}

// FailNext queues failure kinds consumed one per push for the channel, ahead
// of the channel's configured failure.
func (a *Adaptor) FailNext(channelID uuid.UUID, kinds ...channels.FailureKind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, k := range kinds {
		a.scripted[channelID] = append(a.scripted[channelID], string(k))
	}
}

// Seed adds reservations returned by PullReservations.
func (a *Adaptor) Seed(channelID uuid.UUID, res ...channels.Reservation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reservations[channelID] = append(a.reservations[channelID], res...)
}

// Pushes returns a copy of the recorded pushes.
func (a *Adaptor) Pushes() []Push {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Push, len(a.pushes))
	copy(out, a.pushes)
	return out
}

// PushesFor returns the recorded pushes for one channel.
func (a *Adaptor) PushesFor(channelID uuid.UUID) []Push {
	var out []Push
	for _, p := range a.Pushes() {
		if p.ChannelID == channelID {
			out = append(out, p)
		}
	}
	return out
}

func (a *Adaptor) TestConnection(ctx context.Context, conn channels.Connection) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	if conn.Settings.SimulatedFailureKind == string(channels.FailureAuth) {
		return pkgerrors.New(pkgerrors.CodeAdaptor, "simulated authentication failure")
	}
	return nil
}

func (a *Adaptor) TestEndpoint(ctx context.Context, conn channels.Connection) channels.EndpointStatus {
	start := time.Now()
	err := a.TestConnection(ctx, conn)
	status := channels.EndpointStatus{OK: err == nil, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

func (a *Adaptor) PushUpdates(ctx context.Context, conn channels.Connection, records []channels.Record) channels.Result {
	if err := a.wait(ctx); err != nil {
		return channels.Failed(len(records), channels.FailureTimeout, err)
	}
	kind := a.nextFailure(conn)
	res := a.result(conn, records, kind)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushes = append(a.pushes, Push{
		ChannelID: conn.ChannelID,
		Records:   append([]channels.Record(nil), records...),
		Result:    res,
		At:        a.now(),
	})
	return res
}

func (a *Adaptor) result(conn channels.Connection, records []channels.Record, failure string) channels.Result {
	switch failure {
	case "":
	case FailurePartial:
		if len(records) == 0 {
			break
		}
		last := len(records) - 1
		errs := []channels.RecordError{{Index: last, Date: types.FormatDay(records[last].Date), Code: "SIM", Message: "simulated record refusal"}}
		return channels.Partial(len(records), errs, a.reported(conn, records[:last]))
	default:
		kind := channels.FailureKind(failure)
		return channels.Failed(len(records), kind, fmt.Errorf("simulated %s failure", kind))
	}
	return channels.Ok(len(records), a.reported(conn, records))
}

// reported applies SimulatedRateMultiplier so parity checks can be exercised.
func (a *Adaptor) reported(conn channels.Connection, records []channels.Record) map[string]decimal.Decimal {
	if !conn.Settings.EnableRateSync {
		return nil
	}
	mult := decimal.NewFromInt(1)
	if m := conn.Settings.SimulatedRateMultiplier; m != nil {
		mult = decimal.NewFromFloat(*m)
	}
	out := make(map[string]decimal.Decimal, len(records))
	for _, rec := range records {
		out[types.FormatDay(rec.Date)] = rec.Rate.Mul(mult).Round(2)
	}
	return out
}

func (a *Adaptor) nextFailure(conn channels.Connection) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if queue := a.scripted[conn.ChannelID]; len(queue) > 0 {
		a.scripted[conn.ChannelID] = queue[1:]
		return queue[0]
	}
	return conn.Settings.SimulatedFailureKind
}

func (a *Adaptor) PullReservations(ctx context.Context, conn channels.Connection, since time.Time) ([]channels.Reservation, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []channels.Reservation
	for _, r := range a.reservations[conn.ChannelID] {
		if r.ReceivedAt.After(since) {
			r.ChannelID = conn.ChannelID
			r.HotelID = conn.HotelID
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (a *Adaptor) wait(ctx context.Context) error {
	if a.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(a.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
