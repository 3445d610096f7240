package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"

	"github.com/angelmondragon/channelcore-backend/internal/inventory"
	"github.com/angelmondragon/channelcore-backend/pkg/config"
	"github.com/angelmondragon/channelcore-backend/pkg/db"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/metrics"
	"github.com/angelmondragon/channelcore-backend/pkg/tracing"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
	"github.com/angelmondragon/channelcore-backend/pkg/validation"
)

// Ledger is the availability surface pricing reads and writes.
type Ledger interface {
	EnsureRows(ctx context.Context, hotelID, roomTypeID uuid.UUID, span types.DateRange) error
	Rows(ctx context.Context, hotelID, roomTypeID uuid.UUID, span types.DateRange) ([]models.AvailabilityRow, error)
	SetRate(ctx context.Context, in inventory.SetRateInput) (*models.AvailabilityRow, error)
}

// Settings tune the controller.
type Settings struct {
	HorizonDays       int
	MinAutoApplyScore float64
	MinChangePct      float64
	ForecastStaleness time.Duration
	AutoApply         bool
}

// SettingsFromConfig maps the env config onto Settings.
func SettingsFromConfig(cfg config.PricingConfig) Settings {
	return Settings{
		HorizonDays:       cfg.HorizonDays,
		MinAutoApplyScore: float64(cfg.MinAutoApplyScore),
		MinChangePct:      cfg.MinChangePct,
		ForecastStaleness: cfg.ForecastStaleAfter(),
		AutoApply:         cfg.AutoApply,
	}
}

func (s Settings) withDefaults() Settings {
	if s.HorizonDays <= 0 {
		s.HorizonDays = 30
	}
	if s.MinAutoApplyScore <= 0 {
		s.MinAutoApplyScore = 70
	}
	if s.MinChangePct <= 0 {
		s.MinChangePct = 2
	}
	if s.ForecastStaleness <= 0 {
		s.ForecastStaleness = 6 * time.Hour
	}
	return s
}

// Deps wires the service.
type Deps struct {
	Repo     Repository
	Ledger   Ledger
	Locker   Locker
	Metrics  *metrics.PricingMetrics
	Logger   *logger.Logger
	Clock    func() time.Time
	Settings Settings
}

// Service is the dynamic pricing controller.
type Service struct {
	repo     Repository
	ledger   Ledger
	guard    *hotelGuard
	metrics  *metrics.PricingMetrics
	logg     *logger.Logger
	clock    func() time.Time
	settings Settings
}

// NewService builds the controller. Locker may be nil for single-process use.
func NewService(deps Deps) (*Service, error) {
	if deps.Repo == nil {
		return nil, errors.New("pricing repository required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("ledger required")
	}
	if deps.Logger == nil {
		return nil, errors.New("logger required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:     deps.Repo,
		ledger:   deps.Ledger,
		guard:    newHotelGuard(deps.Locker),
		metrics:  deps.Metrics,
		logg:     deps.Logger,
		clock:    clock,
		settings: deps.Settings.withDefaults(),
	}, nil
}

// RunAll prices every hotel once. Hotels already running elsewhere are skipped.
func (s *Service) RunAll(ctx context.Context) (RunReport, error) {
	var total RunReport
	ids, err := s.repo.ListHotelIDs(ctx)
	if err != nil {
		return total, fmt.Errorf("list hotels: %w", err)
	}
	var errs error
	for _, id := range ids {
		if ctx.Err() != nil {
			return total, multierr.Append(errs, ctx.Err())
		}
		report, err := s.RunHotel(ctx, id)
		total.Add(report)
		if err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeConflict) {
				s.logg.Info(s.logg.WithHotelID(ctx, id.String()), "pricing run already in progress")
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("hotel %s: %w", id, err))
		}
	}
	return total, errs
}

// RunHotel evaluates every room type over the horizon and applies the
// recommendations that clear the change and score thresholds.
func (s *Service) RunHotel(ctx context.Context, hotelID uuid.UUID) (RunReport, error) {
	report := RunReport{HotelID: hotelID}
	release, ok, err := s.guard.acquire(ctx, hotelID)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire pricing guard")
	}
	if !ok {
		return report, pkgerrors.New(pkgerrors.CodeConflict, "pricing run already in progress for hotel")
	}
	defer release(context.WithoutCancel(ctx))

	ctx = s.logg.WithHotelID(ctx, hotelID.String())
	ctx, span := tracing.Tracer().Start(ctx, "pricing.run_hotel")
	span.SetAttributes(attribute.String("hotel_id", hotelID.String()))
	defer span.End()

	strategies, err := s.repo.ListStrategies(ctx, hotelID, true)
	if err != nil {
		tracing.RecordError(span, err)
		return report, fmt.Errorf("load strategies: %w", err)
	}
	roomTypes, err := s.repo.ListRoomTypes(ctx, hotelID)
	if err != nil {
		tracing.RecordError(span, err)
		return report, fmt.Errorf("load room types: %w", err)
	}

	var errs error
	for i := range roomTypes {
		rt := &roomTypes[i]
		report.RoomTypes++
		if err := s.runRoomType(ctx, rt, strategies, &report); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("room type %s: %w", rt.ID, err))
		}
	}
	span.SetAttributes(
		attribute.Int("evaluated", report.Evaluated),
		attribute.Int("applied", report.Applied),
	)
	if errs != nil {
		tracing.RecordError(span, errs)
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"evaluated": report.Evaluated,
		"applied":   report.Applied,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	}), "pricing run finished")
	return report, errs
}

func (s *Service) runRoomType(ctx context.Context, rt *models.RoomType, strategies []models.PricingStrategy, report *RunReport) error {
	now := s.clock().UTC()
	today := types.Day(now)
	span := types.DateRange{From: today, To: types.AddDays(today, s.settings.HorizonDays)}
	if err := s.ledger.EnsureRows(ctx, rt.HotelID, rt.ID, span); err != nil {
		return err
	}
	rows, err := s.ledger.Rows(ctx, rt.HotelID, rt.ID, span)
	if err != nil {
		return err
	}
	forecasts, err := s.repo.Forecasts(ctx, rt.HotelID, rt.ID, span.From, span.To)
	if err != nil {
		return err
	}
	byDay := make(map[string]*models.DemandForecast, len(forecasts))
	for i := range forecasts {
		byDay[types.FormatDay(forecasts[i].Date)] = &forecasts[i]
	}
	samples, err := s.repo.CompetitorRates(ctx, rt.HotelID, rt.ID, span.From, span.To)
	if err != nil {
		return err
	}
	competitors := map[string][]models.CompetitorRate{}
	for _, c := range samples {
		key := types.FormatDay(c.Date)
		competitors[key] = append(competitors[key], c)
	}

	var errs error
	recs := make([]models.PricingRecommendation, 0, len(rows))
	for _, row := range rows {
		if row.Archived {
			continue
		}
		key := types.FormatDay(row.Date)
		forecast := byDay[key]
		if stale(forecast, now, s.settings.ForecastStaleness) {
			fresh := heuristicForecast(row, today)
			if err := s.repo.UpsertForecast(ctx, &fresh); err != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "forecast not stored")
			}
			forecast = &fresh
		}

		rec := Evaluate(Input{
			RoomType:    rt,
			Row:         row,
			Today:       today,
			Strategies:  strategies,
			Forecast:    forecast,
			Competitors: competitors[key],
		})
		report.Evaluated++
		stored := toModel(rt, rec)
		if reason := s.skipReason(rec); reason != "" {
			stored.SkipReason = reason
			report.Skipped++
			s.metrics.Observe(decisionSkipped)
		} else if err := s.apply(ctx, rt, rec); err != nil {
			stored.SkipReason = SkipLedgerRefused
			report.Failed++
			s.metrics.Observe(decisionError)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
		} else {
			stored.Applied = true
			report.Applied++
			s.metrics.Observe(decisionApplied)
		}
		recs = append(recs, stored)
	}
	if err := s.repo.CreateRecommendations(ctx, recs); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("store recommendations: %w", err))
	}
	return errs
}

// skipReason returns why rec must not be written, or "" when it should be.
func (s *Service) skipReason(rec Recommendation) string {
	switch {
	case math.Abs(rec.PriceChangePct) < s.settings.MinChangePct:
		return SkipBelowMinChange
	case rec.Score < s.settings.MinAutoApplyScore:
		return SkipBelowScore
	case !s.settings.AutoApply:
		return SkipAutoApplyOff
	}
	return ""
}

func (s *Service) apply(ctx context.Context, rt *models.RoomType, rec Recommendation) error {
	_, err := s.ledger.SetRate(ctx, inventory.SetRateInput{
		HotelID:    rt.HotelID,
		RoomTypeID: rt.ID,
		Date:       rec.Date,
		Rate:       rec.RecommendedRate,
		Source:     pricingSource,
		Reason:     fmt.Sprintf("dynamic pricing score %.0f change %.2f%%", rec.Score, rec.PriceChangePct),
	})
	return err
}

func toModel(rt *models.RoomType, rec Recommendation) models.PricingRecommendation {
	return models.PricingRecommendation{
		HotelID:              rt.HotelID,
		RoomTypeID:           rt.ID,
		Date:                 rec.Date,
		StrategyID:           rec.StrategyID,
		CurrentRate:          rec.CurrentRate,
		StrategicRate:        rec.StrategicRate,
		DemandAdjustment:     rec.DemandAdjustment,
		CompetitorAdjustment: rec.CompetitorAdjustment,
		RecommendedRate:      rec.RecommendedRate,
		PriceChangePct:       rec.PriceChangePct,
		CurrentOccupancy:     rec.CurrentOccupancy,
		ProjectedOccupancy:   rec.ProjectedOccupancy,
		RevenueImpact:        rec.RevenueImpact,
		Score:                rec.Score,
		Position:             rec.Position,
	}
}

// CreateStrategy stores a new active strategy.
func (s *Service) CreateStrategy(ctx context.Context, input StrategyInput) (*models.PricingStrategy, error) {
	if err := validateStrategy(input); err != nil {
		return nil, err
	}
	strategy := &models.PricingStrategy{
		HotelID:     input.HotelID,
		Name:        strings.TrimSpace(input.Name),
		Type:        input.Type,
		Priority:    input.Priority,
		RoomTypeIDs: input.RoomTypeIDs,
		Parameters:  input.Parameters,
		MinRate:     input.MinRate,
		MaxRate:     input.MaxRate,
		ValidFrom:   input.ValidFrom,
		ValidTo:     input.ValidTo,
		Active:      true,
	}
	if err := s.repo.CreateStrategy(ctx, strategy); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create pricing strategy")
	}
	return strategy, nil
}

// DeactivateStrategy stops a strategy from being evaluated.
func (s *Service) DeactivateStrategy(ctx context.Context, id uuid.UUID) error {
	strategy, err := s.repo.FindStrategy(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "pricing strategy not found")
		}
		return err
	}
	strategy.Active = false
	return s.repo.SaveStrategy(ctx, strategy)
}

// ListStrategies returns a hotel's strategies in evaluation order.
func (s *Service) ListStrategies(ctx context.Context, hotelID uuid.UUID) ([]models.PricingStrategy, error) {
	return s.repo.ListStrategies(ctx, hotelID, false)
}

// RecordCompetitorRate stores one sampled competitor price.
func (s *Service) RecordCompetitorRate(ctx context.Context, input CompetitorRateInput) (*models.CompetitorRate, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if !input.Rate.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rate must be positive")
	}
	currency := strings.ToUpper(input.Currency)
	if currency == "" {
		currency = "USD"
	}
	rate := &models.CompetitorRate{
		HotelID:    input.HotelID,
		Competitor: strings.TrimSpace(input.Competitor),
		RoomTypeID: input.RoomTypeID,
		Date:       types.Day(input.Date),
		Rate:       input.Rate,
		Currency:   currency,
		Confidence: input.Confidence,
		CapturedAt: s.clock().UTC(),
	}
	if err := s.repo.CreateCompetitorRate(ctx, rate); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store competitor rate")
	}
	return rate, nil
}

// Recommendations lists the newest recommendations for a hotel.
func (s *Service) Recommendations(ctx context.Context, hotelID uuid.UUID, roomTypeID *uuid.UUID, limit int) ([]models.PricingRecommendation, error) {
	if limit <= 0 {
		limit = defaultRecListLimit
	}
	return s.repo.ListRecommendations(ctx, hotelID, roomTypeID, limit)
}

func validateStrategy(input StrategyInput) error {
	if err := validation.Struct(input); err != nil {
		return err
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown strategy type").WithDetail("type", string(input.Type))
	}
	if input.MinRate != nil && input.MaxRate != nil && input.MinRate.GreaterThan(*input.MaxRate) {
		return pkgerrors.New(pkgerrors.CodeValidation, "minRate exceeds maxRate")
	}
	if input.ValidFrom != nil && input.ValidTo != nil && input.ValidTo.Before(*input.ValidFrom) {
		return pkgerrors.New(pkgerrors.CodeValidation, "validTo precedes validFrom")
	}
	p := input.Parameters
	var missing bool
	switch input.Type {
	case enums.StrategyFixed:
		missing = p.FixedRate == nil || !p.FixedRate.IsPositive()
	case enums.StrategyOccupancyBased:
		missing = len(p.OccupancyTiers) == 0
	case enums.StrategyDayOfWeek:
		missing = len(p.DayOfWeekMultipliers) == 0
	case enums.StrategyLeadTime:
		missing = len(p.LeadTimeTiers) == 0
	case enums.StrategySeasonal:
		missing = len(p.SeasonalPeriods) == 0
	}
	if missing {
		return pkgerrors.New(pkgerrors.CodeValidation, "strategy parameters missing for "+string(input.Type))
	}
	return nil
}
