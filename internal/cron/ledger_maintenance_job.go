package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

const defaultIntegrityWindowDays = 60

type ledgerArchiver interface {
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type integrityScanner interface {
	ScanIntegrity(ctx context.Context, hotelID uuid.UUID, from, to time.Time) (int, error)
}

type hotelLister interface {
	ListHotelIDs(ctx context.Context) ([]uuid.UUID, error)
}

// LedgerArchiveJobParams configure archival of past ledger rows.
type LedgerArchiveJobParams struct {
	Logger *logger.Logger
	Ledger ledgerArchiver
}

// NewLedgerArchiveJob flags rows for dates before today as archived.
func NewLedgerArchiveJob(params LedgerArchiveJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	return &ledgerArchiveJob{logg: params.Logger, ledger: params.Ledger, now: time.Now}, nil
}

type ledgerArchiveJob struct {
	logg   *logger.Logger
	ledger ledgerArchiver
	now    func() time.Time
}

func (j *ledgerArchiveJob) Name() string { return "ledger-archive" }

func (j *ledgerArchiveJob) Run(ctx context.Context) error {
	cutoff := types.Day(j.now())
	n, err := j.ledger.ArchiveBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive ledger rows: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{"cutoff": types.FormatDay(cutoff), "rows_archived": n}), "ledger archive complete")
	return nil
}

// IntegrityScanJobParams configure the ledger integrity sweep.
type IntegrityScanJobParams struct {
	Logger     *logger.Logger
	Hotels     hotelLister
	Ledger     integrityScanner
	WindowDays int
}

// NewIntegrityScanJob re-reads upcoming ledger rows of every hotel so
// capacity breaches raise reconciliation events even when nobody queries them.
func NewIntegrityScanJob(params IntegrityScanJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Hotels == nil {
		return nil, fmt.Errorf("hotel lister required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	window := params.WindowDays
	if window <= 0 {
		window = defaultIntegrityWindowDays
	}
	return &integrityScanJob{logg: params.Logger, hotels: params.Hotels, ledger: params.Ledger, window: window, now: time.Now}, nil
}

type integrityScanJob struct {
	logg   *logger.Logger
	hotels hotelLister
	ledger integrityScanner
	window int
	now    func() time.Time
}

func (j *integrityScanJob) Name() string { return "ledger-integrity-scan" }

func (j *integrityScanJob) Run(ctx context.Context) error {
	ids, err := j.hotels.ListHotelIDs(ctx)
	if err != nil {
		return fmt.Errorf("list hotels: %w", err)
	}
	from := types.Day(j.now())
	to := types.AddDays(from, j.window)
	var errs error
	breached := 0
	for _, id := range ids {
		n, err := j.ledger.ScanIntegrity(ctx, id, from, to)
		breached += n
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("hotel %s: %w", id, err))
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"hotels": len(ids), "room_types_in_breach": breached})
	if breached > 0 {
		j.logg.Warn(logCtx, "ledger integrity breaches found")
	} else {
		j.logg.Info(logCtx, "ledger integrity scan clean")
	}
	return errs
}
