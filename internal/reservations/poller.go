package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/channelcore-backend/internal/channels"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
)

// PollSource is the slice of the channel registry the poller needs.
type PollSource interface {
	ListAllConnected(ctx context.Context) ([]models.Channel, error)
	Connection(channel *models.Channel) (channels.Connection, error)
	Adaptor(category enums.ChannelCategory) (channels.Adaptor, error)
	MarkLastSync(ctx context.Context, id uuid.UUID, at time.Time, kinds ...channels.SyncKind) error
}

// PollReport counts one poll pass.
type PollReport struct {
	Channels int
	Pulled   int
	Acked    int
	Refused  int
}

// Poller pulls reservations from channels that do not push them.
type Poller struct {
	source    PollSource
	processor Processor
	logg      *logger.Logger
	lookback  time.Duration
	now       func() time.Time
}

// NewPoller builds a poller. lookback is how far back the first pull of a
// channel without a reservations marker reaches.
func NewPoller(source PollSource, processor Processor, logg *logger.Logger, lookback time.Duration) (*Poller, error) {
	if source == nil {
		return nil, errors.New("channel registry is required")
	}
	if processor == nil {
		return nil, errors.New("reservation processor is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &Poller{source: source, processor: processor, logg: logg, lookback: lookback, now: time.Now}, nil
}

// Poll pulls every connected channel once. A channel's marker only moves
// forward when all of its reservations were handled.
func (p *Poller) Poll(ctx context.Context) (PollReport, error) {
	var report PollReport
	chans, err := p.source.ListAllConnected(ctx)
	if err != nil {
		return report, err
	}
	var errs error
	for i := range chans {
		ch := &chans[i]
		report.Channels++
		if err := p.pollChannel(ctx, ch, &report); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("channel %s: %w", ch.Code, err))
		}
	}
	return report, errs
}

func (p *Poller) pollChannel(ctx context.Context, ch *models.Channel, report *PollReport) error {
	ctx = p.logg.WithChannelID(ctx, ch.ID.String())
	adaptor, err := p.source.Adaptor(ch.Category)
	if err != nil {
		return err
	}
	conn, err := p.source.Connection(ch)
	if err != nil {
		return err
	}
	started := p.now().UTC()
	since := started.Add(-p.lookback)
	if ch.LastSync.Reservations != nil {
		since = *ch.LastSync.Reservations
	}

	pulled, err := adaptor.PullReservations(ctx, conn, since)
	if err != nil {
		return err
	}
	report.Pulled += len(pulled)

	var errs error
	for _, res := range pulled {
		if res.HotelID == uuid.Nil {
			res.HotelID = ch.HotelID
		}
		if res.ChannelID == uuid.Nil {
			res.ChannelID = ch.ID
		}
		if res.Source == "" {
			res.Source = ch.Code
		}
		out, err := p.processor.Handle(ctx, res)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if out.Ack {
			report.Acked++
		} else {
			report.Refused++
		}
	}
	if errs != nil {
		return errs
	}
	if len(pulled) > 0 {
		p.logg.Info(ctx, fmt.Sprintf("pulled %d reservations", len(pulled)))
	}
	return p.source.MarkLastSync(ctx, ch.ID, started, channels.SyncReservations)
}

// Run polls every interval until ctx ends. Failed passes are logged and the
// next tick tries again.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := p.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			p.logg.Error(ctx, "reservation poll failed", err)
		} else if report.Pulled > 0 {
			p.logg.Info(p.logg.WithFields(ctx, map[string]any{
				"channels": report.Channels,
				"pulled":   report.Pulled,
				"acked":    report.Acked,
				"refused":  report.Refused,
			}), "reservation poll complete")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
