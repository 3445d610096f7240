package channelsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/internal/audit"
	"github.com/angelmondragon/channelcore-backend/internal/bookings"
	"github.com/angelmondragon/channelcore-backend/internal/channels"
	"github.com/angelmondragon/channelcore-backend/internal/inventory"
	"github.com/angelmondragon/channelcore-backend/pkg/config"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/metrics"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/channelcore-backend/pkg/tracing"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

// Ledger is the slice of the availability ledger the coordinator reads and stamps.
type Ledger interface {
	Availability(ctx context.Context, hotelID, roomTypeID uuid.UUID, from, to time.Time, channel string) ([]inventory.RowView, error)
	Rows(ctx context.Context, hotelID, roomTypeID uuid.UUID, span types.DateRange) ([]models.AvailabilityRow, error)
	MarkSynced(ctx context.Context, in inventory.MarkSyncedInput) error
	ListDirty(ctx context.Context) ([]inventory.DirtyGroup, error)
}

// Registry resolves channels, mappings and adaptors.
type Registry interface {
	ListConnected(ctx context.Context, hotelID uuid.UUID) ([]models.Channel, error)
	ResolveRoomMapping(channel *models.Channel, roomTypeID uuid.UUID) (models.RoomMapping, error)
	Connection(channel *models.Channel) (channels.Connection, error)
	Adaptor(category enums.ChannelCategory) (channels.Adaptor, error)
	MarkLastSync(ctx context.Context, id uuid.UUID, at time.Time, kinds ...channels.SyncKind) error
}

// BookingSync tracks bookings whose changes still have to reach channels.
type BookingSync interface {
	ListNeedsSync(ctx context.Context, limit int) ([]models.Booking, error)
	MarkSynced(ctx context.Context, bookingID uuid.UUID, renderedVersion int, outcomes []bookings.SyncOutcome, at time.Time) error
}

// StatusStore persists per-(channel, room type, date) sync state.
type StatusStore interface {
	RecordSuccess(ctx context.Context, key audit.SyncKey, payload any, at time.Time) error
	RecordFailure(ctx context.Context, key audit.SyncKey, payload any, cause string, at time.Time) (audit.AttemptResult, error)
	NotBefore(ctx context.Context, channelID, roomTypeID uuid.UUID, span types.DateRange) (*time.Time, error)
	Parked(ctx context.Context, key audit.SyncKey, payload any) (bool, error)
	DueRetries(ctx context.Context, now time.Time) ([]audit.DueRetry, error)
	AppendParity(ctx context.Context, entry *models.RateParityLog) error
}

// Lock guards Run so only one coordinator ticks across replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Settings tune the coordinator.
type Settings struct {
	Tick                time.Duration
	AdaptorTimeout      time.Duration
	StoreTimeout        time.Duration
	Debounce            time.Duration
	WorkersPerChannel   int
	ChannelInflightCap  int
	MaxConcurrentGroups int
	DefaultVariancePct  float64
	NeedsSyncBatch      int
}

// SettingsFromConfig maps the sync config section onto coordinator settings.
func SettingsFromConfig(cfg config.SyncConfig) Settings {
	return Settings{
		Tick:                cfg.Tick(),
		AdaptorTimeout:      cfg.AdaptorTimeout,
		StoreTimeout:        cfg.StoreTimeout,
		Debounce:            cfg.Debounce,
		WorkersPerChannel:   cfg.Workers(),
		ChannelInflightCap:  cfg.ChannelInflightCap,
		MaxConcurrentGroups: 8,
		DefaultVariancePct:  5,
		NeedsSyncBatch:      500,
	}
}

func (s Settings) withDefaults() Settings {
	if s.Tick <= 0 {
		s.Tick = 300 * time.Second
	}
	if s.AdaptorTimeout <= 0 {
		s.AdaptorTimeout = 30 * time.Second
	}
	if s.StoreTimeout <= 0 {
		s.StoreTimeout = 5 * time.Second
	}
	if s.WorkersPerChannel <= 0 {
		s.WorkersPerChannel = 1
	}
	if s.ChannelInflightCap <= 0 {
		s.ChannelInflightCap = 4
	}
	if s.MaxConcurrentGroups <= 0 {
		s.MaxConcurrentGroups = 8
	}
	if s.DefaultVariancePct <= 0 {
		s.DefaultVariancePct = 5
	}
	if s.NeedsSyncBatch <= 0 {
		s.NeedsSyncBatch = 500
	}
	return s
}

// Deps wires the coordinator.
type Deps struct {
	Ledger   Ledger
	Registry Registry
	Bookings BookingSync
	Status   StatusStore
	Audit    audit.Service
	Outbox   *outbox.Service
	Tx       TxRunner
	Lock     Lock
	Metrics  *metrics.SyncMetrics
	Logger   *logger.Logger
	Clock    func() time.Time
}

// TickReport summarises one pass over the queue.
type TickReport struct {
	Groups       int
	Pushed       int
	Failed       int
	Skipped      int
	Deferred     int
	DeadLettered int
}

func (r *TickReport) add(o groupOutcome) {
	r.Groups++
	r.Pushed += o.pushed
	r.Failed += o.failed
	r.Skipped += o.skipped
	r.Deferred += o.deferred
	r.DeadLettered += o.deadLettered
}

// Coordinator pushes dirty ledger spans to every connected channel.
type Coordinator struct {
	ledger   Ledger
	registry Registry
	bookings BookingSync
	status   StatusStore
	audit    audit.Service
	outbox   *outbox.Service
	tx       TxRunner
	lock     Lock
	metrics  *metrics.SyncMetrics
	logg     *logger.Logger
	clock    func() time.Time
	settings Settings

	queue   *Queue
	trigger chan struct{}

	mu        sync.Mutex
	workers   map[uuid.UUID]*semaphore.Weighted
	admitted  map[uuid.UUID]int
	timers    []*time.Timer
	runningWG sync.WaitGroup
}

// NewCoordinator validates deps and builds a coordinator.
func NewCoordinator(deps Deps, settings Settings) (*Coordinator, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("channel registry required")
	}
	if deps.Status == nil {
		return nil, fmt.Errorf("sync status store required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	settings = settings.withDefaults()
	return &Coordinator{
		ledger:   deps.Ledger,
		registry: deps.Registry,
		bookings: deps.Bookings,
		status:   deps.Status,
		audit:    deps.Audit,
		outbox:   deps.Outbox,
		tx:       deps.Tx,
		lock:     deps.Lock,
		metrics:  deps.Metrics,
		logg:     deps.Logger,
		clock:    clock,
		settings: settings,
		queue:    NewQueue(settings.Debounce),
		trigger:  make(chan struct{}, 1),
		workers:  make(map[uuid.UUID]*semaphore.Weighted),
		admitted: make(map[uuid.UUID]int),
	}, nil
}

func (c *Coordinator) now() time.Time {
	return c.clock().UTC()
}

// Queue exposes the pending work, mainly for status endpoints.
func (c *Coordinator) Queue() *Queue {
	return c.queue
}

// NotifyDirty enqueues a dirty span. High priority wakes the loop immediately.
func (c *Coordinator) NotifyDirty(hotelID, roomTypeID uuid.UUID, from, to time.Time, priority enums.SyncPriority) {
	c.queue.Add(Item{
		GroupKey:   GroupKey{HotelID: hotelID, RoomTypeID: roomTypeID},
		From:       from,
		To:         to,
		EnqueuedAt: c.now(),
		Priority:   priority,
	})
	c.metrics.SetQueueDepth(c.queue.Len())
	if priority == enums.SyncPriorityHigh {
		c.Trigger()
	}
}

// EnqueueBooking schedules a high-priority push over the booking's stay and
// ties the booking's needsSync flag to the outcome.
func (c *Coordinator) EnqueueBooking(b models.Booking) {
	c.queue.Add(Item{
		GroupKey:   GroupKey{HotelID: b.HotelID, RoomTypeID: b.RoomTypeID},
		From:       b.CheckIn,
		To:         b.CheckOut,
		EnqueuedAt: c.now(),
		Priority:   enums.SyncPriorityHigh,
		Bookings:   map[uuid.UUID]int{b.ID: b.Version},
	})
	c.metrics.SetQueueDepth(c.queue.Len())
	c.Trigger()
}

// Trigger wakes the run loop without blocking.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run ticks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.settings.Tick)
	defer ticker.Stop()

	c.logg.Info(ctx, fmt.Sprintf("channel sync coordinator started; tick=%s", c.settings.Tick))
	c.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			c.logg.Info(ctx, "channel sync coordinator stopping")
			return ctx.Err()
		case <-ticker.C:
			c.runOnce(ctx)
		case <-c.trigger:
			c.runOnce(ctx)
		}
	}
}

func (c *Coordinator) runOnce(ctx context.Context) {
	if c.lock != nil {
		acquired, err := c.lock.Acquire(ctx)
		if err != nil {
			c.logg.Error(ctx, "channel sync lock acquire failed", err)
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if err := c.lock.Release(context.Background()); err != nil {
				c.logg.Error(ctx, "channel sync lock release failed", err)
			}
		}()
	}
	// other processes only leave the dirty flag behind
	if _, err := c.Rebuild(ctx); err != nil {
		c.logg.Error(ctx, "channel sync rebuild failed", err)
	}
	if _, err := c.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logg.Error(ctx, "channel sync tick failed", err)
	}
}

// Rebuild re-enqueues every dirty ledger span and every booking still
// flagged needsSync. It runs before each tick so nothing is lost across
// restarts and spans dirtied by the API or cron processes are picked up.
func (c *Coordinator) Rebuild(ctx context.Context) (int, error) {
	count := 0
	groups, err := c.ledger.ListDirty(ctx)
	if err != nil {
		return 0, err
	}
	for _, g := range groups {
		c.queue.Add(Item{
			GroupKey: GroupKey{HotelID: g.HotelID, RoomTypeID: g.RoomTypeID},
			From:     g.From,
			To:       g.To,
			Priority: enums.SyncPriorityNormal,
		})
		count++
	}
	if c.bookings != nil {
		pending, err := c.bookings.ListNeedsSync(ctx, c.settings.NeedsSyncBatch)
		if err != nil {
			return count, err
		}
		for _, b := range pending {
			c.queue.Add(Item{
				GroupKey: GroupKey{HotelID: b.HotelID, RoomTypeID: b.RoomTypeID},
				From:     b.CheckIn,
				To:       b.CheckOut,
				Priority: enums.SyncPriorityHigh,
				Bookings: map[uuid.UUID]int{b.ID: b.Version},
			})
			count++
		}
	}
	c.metrics.SetQueueDepth(c.queue.Len())
	return count, nil
}

// Tick drains the queue once and pushes every ready group.
func (c *Coordinator) Tick(ctx context.Context) (TickReport, error) {
	var report TickReport
	now := c.now()

	// due retries were enqueued in the past so debounce does not hold them
	retries, err := c.status.DueRetries(ctx, now)
	if err != nil {
		c.warn(ctx, "load due sync retries", err)
	}
	for _, r := range retries {
		c.queue.Add(Item{
			GroupKey: GroupKey{HotelID: r.HotelID, RoomTypeID: r.RoomTypeID},
			From:     r.From,
			To:       types.AddDays(types.Day(r.To), 1),
			Priority: enums.SyncPriorityNormal,
		})
	}

	items := c.queue.Drain(now)
	c.metrics.SetQueueDepth(c.queue.Len())
	if len(items) == 0 {
		return report, nil
	}

	connected := map[uuid.UUID][]models.Channel{}
	for _, item := range items {
		if _, ok := connected[item.HotelID]; ok {
			continue
		}
		chans, err := c.registry.ListConnected(ctx, item.HotelID)
		if err != nil {
			c.warn(ctx, "list connected channels", err)
			continue
		}
		connected[item.HotelID] = chans
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.settings.MaxConcurrentGroups)
	for _, item := range items {
		item := item
		chans, ok := connected[item.HotelID]
		if !ok {
			// registry unavailable: try again next tick
			c.queue.Add(item)
			c.queue.Done(item.GroupKey)
			continue
		}
		c.runningWG.Add(1)
		g.Go(func() error {
			defer c.runningWG.Done()
			outcome := c.syncGroup(gctx, item, chans)
			if outcome.requeue {
				c.queue.Add(item)
			}
			c.queue.Done(item.GroupKey)
			mu.Lock()
			report.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	c.metrics.SetQueueDepth(c.queue.Len())
	if err == nil {
		err = ctx.Err()
	}
	return report, err
}

// Shutdown waits for in-flight groups and stops pending retry wakes.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.runningWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type groupOutcome struct {
	pushed       int
	failed       int
	skipped      int
	deferred     int
	deadLettered int
	requeue      bool
}

type channelOutcome struct {
	channel  models.Channel
	views    []inventory.RowView
	records  int
	result   *channels.Result
	err      error
	excluded bool
	skipped  bool
	parked   bool
	deferred bool
}

func (c *Coordinator) syncGroup(ctx context.Context, item Item, chans []models.Channel) groupOutcome {
	ctx = c.logg.WithHotelID(ctx, item.HotelID.String())
	ctx = c.logg.WithField(ctx, "room_type_id", item.RoomTypeID.String())
	span := item.Span()

	outcomes := make([]channelOutcome, len(chans))
	var wg sync.WaitGroup
	for i := range chans {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = c.syncChannel(ctx, item, chans[i])
		}(i)
	}
	wg.Wait()

	var out groupOutcome
	versions := map[string]int{}
	var succeeded []inventory.ChannelSync
	reported := map[uuid.UUID]map[string]decimal.Decimal{}
	var parityViews []inventory.RowView
	allSucceeded := true
	var bookingOutcomes []bookings.SyncOutcome

	for _, o := range outcomes {
		for _, v := range o.views {
			day := types.FormatDay(v.Date)
			if cur, ok := versions[day]; ok && cur != v.Version {
				versions[day] = -1
				continue
			}
			versions[day] = v.Version
		}
		if parityViews == nil && len(o.views) > 0 {
			parityViews = o.views
		}
		switch {
		case o.excluded:
		case o.deferred:
			out.deferred++
			out.requeue = true
			allSucceeded = false
		case o.skipped:
			out.skipped++
			allSucceeded = false
			msg := "retry pending"
			if o.parked {
				msg = "dead-lettered; waiting for a change"
			}
			bookingOutcomes = append(bookingOutcomes, bookings.SyncOutcome{ChannelID: o.channel.ID, Error: msg})
		case o.result != nil && o.result.OK():
			out.pushed++
			succeeded = append(succeeded, inventory.ChannelSync{
				ChannelID:     o.channel.ID,
				RecordCount:   o.records,
				ReportedRates: o.result.ReportedRates,
			})
			if len(o.result.ReportedRates) > 0 {
				reported[o.channel.ID] = o.result.ReportedRates
			}
			bookingOutcomes = append(bookingOutcomes, bookings.SyncOutcome{ChannelID: o.channel.ID, OK: true})
		default:
			out.failed++
			allSucceeded = false
			msg := "push failed"
			if o.err != nil {
				msg = o.err.Error()
			} else if o.result != nil && o.result.Message != "" {
				msg = o.result.Message
			}
			bookingOutcomes = append(bookingOutcomes, bookings.SyncOutcome{ChannelID: o.channel.ID, Error: msg})
		}
	}

	if len(versions) == 0 {
		rows, err := c.ledger.Rows(ctx, item.HotelID, item.RoomTypeID, span)
		if err != nil {
			c.warn(ctx, "load rows for sync stamp", err)
		}
		for _, r := range rows {
			versions[types.FormatDay(r.Date)] = r.Version
		}
	}

	for _, o := range outcomes {
		if o.result != nil && !o.result.OK() && o.deadLetter() {
			out.deadLettered++
		}
	}

	if err := c.ledger.MarkSynced(ctx, inventory.MarkSyncedInput{
		HotelID:      item.HotelID,
		RoomTypeID:   item.RoomTypeID,
		Span:         span,
		Versions:     versions,
		Succeeded:    succeeded,
		AllSucceeded: allSucceeded,
		At:           c.now(),
	}); err != nil {
		c.warn(ctx, "stamp ledger sync state", err)
	}

	if c.bookings != nil && !out.requeue {
		for id, version := range item.Bookings {
			if err := c.bookings.MarkSynced(ctx, id, version, bookingOutcomes, c.now()); err != nil {
				c.warn(ctx, "stamp booking sync state", err)
			}
		}
	}

	if len(parityViews) > 0 && len(reported) > 0 {
		c.checkParity(ctx, parityViews, chans, reported)
	}
	return out
}

func (o channelOutcome) deadLetter() bool {
	return errors.Is(o.err, errDeadLetter)
}

var errDeadLetter = errors.New("retries exhausted")

func (c *Coordinator) syncChannel(ctx context.Context, item Item, ch models.Channel) channelOutcome {
	out := channelOutcome{channel: ch}
	ctx = c.logg.WithChannelID(ctx, ch.ID.String())
	span := item.Span()

	kinds := syncKinds(ch.Settings)
	if len(kinds) == 0 {
		out.excluded = true
		return out
	}
	mapping, err := c.registry.ResolveRoomMapping(&ch, item.RoomTypeID)
	if err != nil {
		c.logg.Warn(ctx, "room type not mapped on channel; skipping push")
		out.excluded = true
		return out
	}

	if item.Priority != enums.SyncPriorityHigh {
		notBefore, err := c.status.NotBefore(ctx, ch.ID, item.RoomTypeID, span)
		if err != nil {
			c.warn(ctx, "load sync backoff", err)
		}
		if notBefore != nil && notBefore.After(c.now()) {
			out.skipped = true
			return out
		}
	}

	if !c.admit(ch.ID) {
		out.deferred = true
		return out
	}
	defer c.release(ch.ID)
	sem := c.workerSem(ch.ID)
	if err := sem.Acquire(ctx, 1); err != nil {
		out.deferred = true
		return out
	}
	defer sem.Release(1)

	views, err := c.ledger.Availability(ctx, item.HotelID, item.RoomTypeID, span.From, span.To, ch.Code)
	if err != nil {
		if len(views) == 0 {
			out.err = err
			out.deferred = true
			c.warn(ctx, "read availability for push", err)
			return out
		}
		c.warn(ctx, "availability integrity check", err)
	}
	out.views = views

	records := render(views, mapping, &ch, c.now())
	if len(records) == 0 {
		out.excluded = true
		return out
	}
	out.records = len(records)

	if item.Priority != enums.SyncPriorityHigh {
		key := audit.SyncKey{HotelID: item.HotelID, ChannelID: ch.ID, RoomTypeID: item.RoomTypeID, Span: span}
		parked, err := c.status.Parked(ctx, key, records)
		if err != nil {
			c.warn(ctx, "load dead letter state", err)
		}
		if parked {
			out.skipped = true
			out.parked = true
			return out
		}
	}

	adaptor, err := c.registry.Adaptor(ch.Category)
	if err != nil {
		out.err = err
		result := channels.Result{Kind: channels.ResultFailed, Failure: channels.FailureProtocol, Message: err.Error()}
		out.result = &result
		c.onFailure(ctx, item, ch, records, result, &out)
		return out
	}
	conn, err := c.registry.Connection(&ch)
	if err != nil {
		out.err = err
		result := channels.Result{Kind: channels.ResultFailed, Failure: channels.FailureAuth, Message: err.Error()}
		out.result = &result
		c.onFailure(ctx, item, ch, records, result, &out)
		return out
	}

	result := c.push(ctx, adaptor, conn, ch, records)
	out.result = &result
	if result.OK() {
		c.onSuccess(ctx, item, ch, records, kinds, result)
		return out
	}
	c.onFailure(ctx, item, ch, records, result, &out)
	return out
}

func (c *Coordinator) push(ctx context.Context, adaptor channels.Adaptor, conn channels.Connection, ch models.Channel, records []channels.Record) channels.Result {
	pushCtx, cancel := context.WithTimeout(ctx, c.settings.AdaptorTimeout)
	defer cancel()
	pushCtx, span := tracing.Tracer().Start(pushCtx, "channelsync.push")
	span.SetAttributes(
		attribute.String("channel.id", ch.ID.String()),
		attribute.String("channel.category", string(ch.Category)),
		attribute.Int("records", len(records)),
	)
	defer span.End()

	started := time.Now()
	result := adaptor.PushUpdates(pushCtx, conn, records)
	if result.Kind == channels.ResultFailed && result.Failure == "" && errors.Is(pushCtx.Err(), context.DeadlineExceeded) {
		result.Failure = channels.FailureTimeout
	}
	span.SetAttributes(attribute.String("result", string(result.Kind)))
	if !result.OK() {
		tracing.RecordError(span, fmt.Errorf("%s: %s", result.Kind, result.Message))
	}
	c.metrics.ObservePush(string(ch.Category), string(result.Kind), time.Since(started))
	return result
}

func (c *Coordinator) onSuccess(ctx context.Context, item Item, ch models.Channel, records []channels.Record, kinds []channels.SyncKind, result channels.Result) {
	storeCtx, cancel := context.WithTimeout(ctx, c.settings.StoreTimeout)
	defer cancel()
	now := c.now()
	key := audit.SyncKey{HotelID: item.HotelID, ChannelID: ch.ID, RoomTypeID: item.RoomTypeID, Span: item.Span()}
	if err := c.status.RecordSuccess(storeCtx, key, records, now); err != nil {
		c.warn(ctx, "record sync success", err)
	}
	if err := c.registry.MarkLastSync(storeCtx, ch.ID, now, kinds...); err != nil {
		c.warn(ctx, "stamp channel last sync", err)
	}
	if c.audit != nil {
		hotelID := item.HotelID
		if _, err := c.audit.Record(storeCtx, nil, audit.Entry{
			HotelID:    &hotelID,
			Table:      audit.TableChannels,
			RecordID:   ch.ID.String(),
			ChangeType: enums.AuditSyncSuccess,
			Source:     string(enums.SourceSystem),
			NewValues:  map[string]any{"roomTypeId": item.RoomTypeID, "from": types.FormatDay(item.From), "to": types.FormatDay(item.To), "records": result.Accepted},
			Tags:       []string{audit.TagSyncSuccess},
		}); err != nil {
			c.warn(ctx, "audit sync success", err)
		}
	}
}

func (c *Coordinator) onFailure(ctx context.Context, item Item, ch models.Channel, records []channels.Record, result channels.Result, out *channelOutcome) {
	storeCtx, cancel := context.WithTimeout(ctx, c.settings.StoreTimeout)
	defer cancel()
	now := c.now()
	cause := failureCause(result)
	key := audit.SyncKey{HotelID: item.HotelID, ChannelID: ch.ID, RoomTypeID: item.RoomTypeID, Span: item.Span()}
	attempt, err := c.status.RecordFailure(storeCtx, key, records, cause, now)
	if err != nil {
		c.warn(ctx, "record sync failure", err)
		return
	}
	hotelID := item.HotelID
	entry := audit.Entry{
		HotelID:    &hotelID,
		Table:      audit.TableChannels,
		RecordID:   ch.ID.String(),
		ChangeType: enums.AuditSyncFailure,
		Source:     string(enums.SourceSystem),
		NewValues: map[string]any{
			"roomTypeId": item.RoomTypeID,
			"from":       types.FormatDay(item.From),
			"to":         types.FormatDay(item.To),
			"attempts":   attempt.Attempts,
			"result":     result,
		},
		Tags: []string{audit.TagSyncFailure},
	}
	if c.audit != nil {
		if _, err := c.audit.Record(storeCtx, nil, entry); err != nil {
			c.warn(ctx, "audit sync failure", err)
		}
	}

	if !attempt.DeadLetter {
		if attempt.NextRetryAt != nil {
			c.scheduleWake(attempt.NextRetryAt.Sub(now))
		}
		return
	}

	out.err = pkgerrors.Wrap(pkgerrors.CodeAdaptor, errDeadLetter, cause)
	c.metrics.IncDeadLetter(string(ch.Category))
	correlationID := uuid.NewString()
	ctx = c.logg.WithCorrelationID(ctx, correlationID)
	c.logg.Error(ctx, fmt.Sprintf("channel sync dead-lettered after %d attempts", attempt.Attempts), errors.New(cause))

	if c.tx == nil {
		return
	}
	err = c.tx.WithTx(storeCtx, func(tx *gorm.DB) error {
		if c.audit != nil {
			dead := entry
			dead.ChangeType = enums.AuditSyncDeadLetter
			dead.Tags = []string{audit.TagSyncDeadLetter}
			dead.CorrelationID = correlationID
			if err := c.audit.RecordFailure(storeCtx, tx, dead, errors.New(cause)); err != nil {
				return err
			}
		}
		if c.outbox == nil {
			return nil
		}
		_, err := c.outbox.Emit(storeCtx, tx, outbox.DomainEvent{
			EventType:     enums.EventSyncDeadLetter,
			AggregateType: enums.AggregateChannel,
			AggregateID:   ch.ID,
			Actor:         &outbox.ActorRef{Source: string(enums.SourceSystem)},
			CorrelationID: correlationID,
			Data: payloads.SyncDeadLetterEvent{
				HotelID:       item.HotelID,
				ChannelID:     ch.ID,
				Channel:       ch.Code,
				RoomTypeID:    item.RoomTypeID,
				From:          item.From,
				To:            item.To,
				Attempts:      attempt.Attempts,
				LastError:     cause,
				CorrelationID: correlationID,
			},
		})
		return err
	})
	if err != nil {
		c.warn(ctx, "record dead letter", err)
	}
}

func failureCause(r channels.Result) string {
	msg := r.Message
	if msg == "" && len(r.Errors) > 0 {
		msg = r.Errors[0].Message
	}
	switch {
	case r.Kind == channels.ResultPartial:
		return fmt.Sprintf("partial: %d of %d rejected: %s", len(r.Errors), r.Attempted, msg)
	case r.Failure != "":
		return fmt.Sprintf("%s: %s", r.Failure, msg)
	default:
		return msg
	}
}

func (c *Coordinator) scheduleWake(after time.Duration) {
	if after < 0 {
		after = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers = append(c.timers, time.AfterFunc(after, c.Trigger))
	// older timers have fired by now
	if len(c.timers) > 256 {
		c.timers = c.timers[len(c.timers)-256:]
	}
}

func (c *Coordinator) workerSem(channelID uuid.UUID) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()
	sem, ok := c.workers[channelID]
	if !ok {
		sem = semaphore.NewWeighted(int64(c.settings.WorkersPerChannel))
		c.workers[channelID] = sem
	}
	return sem
}

func (c *Coordinator) admit(channelID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.admitted[channelID] >= c.settings.ChannelInflightCap {
		return false
	}
	c.admitted[channelID]++
	return true
}

func (c *Coordinator) release(channelID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.admitted[channelID]--
	if c.admitted[channelID] <= 0 {
		delete(c.admitted, channelID)
	}
}

func (c *Coordinator) warn(ctx context.Context, msg string, err error) {
	if err == nil {
		return
	}
	c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), msg)
}
