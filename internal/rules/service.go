package rules

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/internal/audit"
	"github.com/angelmondragon/channelcore-backend/pkg/db"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
	"github.com/angelmondragon/channelcore-backend/pkg/validation"
)

// Service evaluates and manages overbooking and stop-sell rules.
type Service interface {
	Evaluate(ctx context.Context, hotelID, roomTypeID uuid.UUID, span types.DateRange, channel string) (map[string]DayRules, error)
	EffectiveAllowance(ctx context.Context, hotelID, roomTypeID uuid.UUID, date time.Time, channel string, totalRooms int) (int, error)
	StopSellState(ctx context.Context, hotelID, roomTypeID uuid.UUID, date time.Time, channel string) (Effective, error)
	MaxAllowancePercents(ctx context.Context, hotelID, roomTypeID uuid.UUID, span types.DateRange) (map[string]float64, error)

	CreateOverbookingRule(ctx context.Context, input OverbookingRuleInput) (*models.OverbookingRule, error)
	UpdateOverbookingRule(ctx context.Context, id uuid.UUID, input OverbookingRuleInput) (*models.OverbookingRule, error)
	DeleteOverbookingRule(ctx context.Context, id uuid.UUID) error

	CreateStopSellRule(ctx context.Context, input StopSellRuleInput) (*models.StopSellRule, error)
	UpdateStopSellRule(ctx context.Context, id uuid.UUID, input StopSellRuleInput) (*models.StopSellRule, error)
	DeactivateStopSellRule(ctx context.Context, id uuid.UUID) error
	ListStopSellRules(ctx context.Context, hotelID uuid.UUID, activeOnly bool) ([]models.StopSellRule, error)

	SetChangeListener(listener RulesChangeListener)
}

type service struct {
	repo   Repository
	audit  audit.Service
	logg   *logger.Logger
	now    func() time.Time
	mu     sync.RWMutex
	listen RulesChangeListener
}

// NewService wires the rules service. auditSvc may be nil.
func NewService(repo Repository, auditSvc audit.Service, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("rules repository required")
	}
	return &service{repo: repo, audit: auditSvc, logg: logg, now: time.Now}, nil
}

func (s *service) SetChangeListener(listener RulesChangeListener) {
	s.mu.Lock()
	s.listen = listener
	s.mu.Unlock()
}

func (s *service) Evaluate(ctx context.Context, hotelID, roomTypeID uuid.UUID, span types.DateRange, channel string) (map[string]DayRules, error) {
	channel = normalizeChannel(channel)
	overbooking, err := s.repo.ActiveOverbookingRule(ctx, hotelID, roomTypeID)
	if err != nil {
		return nil, fmt.Errorf("load overbooking rule: %w", err)
	}
	stopSell, err := s.repo.ActiveStopSellRulesOverlapping(ctx, hotelID, span.From, span.Last())
	if err != nil {
		return nil, fmt.Errorf("load stop-sell rules: %w", err)
	}
	SortStopSellRules(stopSell)

	now := s.now()
	out := make(map[string]DayRules, span.Nights())
	for _, day := range span.Days() {
		eff := ComposeStopSell(stopSell, roomTypeID, day, channel)
		out[types.FormatDay(day)] = DayRules{
			AllowancePct:      AllowancePercent(overbooking, day, now, channel),
			Restrictions:      eff.Restrictions,
			RateAdjustmentPct: eff.RateAdjustmentPct,
		}
	}
	return out, nil
}

func (s *service) EffectiveAllowance(ctx context.Context, hotelID, roomTypeID uuid.UUID, date time.Time, channel string, totalRooms int) (int, error) {
	rule, err := s.repo.ActiveOverbookingRule(ctx, hotelID, roomTypeID)
	if err != nil {
		return 0, fmt.Errorf("load overbooking rule: %w", err)
	}
	return AllowanceRooms(totalRooms, AllowancePercent(rule, date, s.now(), normalizeChannel(channel))), nil
}

func (s *service) StopSellState(ctx context.Context, hotelID, roomTypeID uuid.UUID, date time.Time, channel string) (Effective, error) {
	day := types.Day(date)
	rules, err := s.repo.ActiveStopSellRulesOverlapping(ctx, hotelID, day, day)
	if err != nil {
		return Effective{}, fmt.Errorf("load stop-sell rules: %w", err)
	}
	SortStopSellRules(rules)
	return ComposeStopSell(rules, roomTypeID, day, normalizeChannel(channel)), nil
}

func (s *service) MaxAllowancePercents(ctx context.Context, hotelID, roomTypeID uuid.UUID, span types.DateRange) (map[string]float64, error) {
	rule, err := s.repo.ActiveOverbookingRule(ctx, hotelID, roomTypeID)
	if err != nil {
		return nil, fmt.Errorf("load overbooking rule: %w", err)
	}
	now := s.now()
	out := make(map[string]float64, span.Nights())
	for _, day := range span.Days() {
		out[types.FormatDay(day)] = MaxAllowancePercent(rule, day, now)
	}
	return out, nil
}

func (s *service) CreateOverbookingRule(ctx context.Context, input OverbookingRuleInput) (*models.OverbookingRule, error) {
	if err := validateOverbooking(input); err != nil {
		return nil, err
	}
	rule := &models.OverbookingRule{Active: true}
	applyOverbooking(rule, input)
	if err := s.repo.CreateOverbookingRule(ctx, rule); err != nil {
		return nil, err
	}
	s.record(ctx, &rule.HotelID, audit.TableOverbooking, rule.ID, enums.AuditCreate, nil, rule)
	s.notify(ctx, rule.HotelID, []uuid.UUID{rule.RoomTypeID}, time.Time{}, time.Time{})
	return rule, nil
}

func (s *service) UpdateOverbookingRule(ctx context.Context, id uuid.UUID, input OverbookingRuleInput) (*models.OverbookingRule, error) {
	if err := validateOverbooking(input); err != nil {
		return nil, err
	}
	rule, err := s.repo.FindOverbookingRule(ctx, id)
	if err != nil {
		return nil, notFound(err, "overbooking rule")
	}
	before := *rule
	applyOverbooking(rule, input)
	if err := s.repo.SaveOverbookingRule(ctx, rule); err != nil {
		return nil, err
	}
	s.record(ctx, &rule.HotelID, audit.TableOverbooking, rule.ID, enums.AuditUpdate, before, rule)
	s.notify(ctx, rule.HotelID, []uuid.UUID{rule.RoomTypeID}, time.Time{}, time.Time{})
	return rule, nil
}

// DeleteOverbookingRule deactivates the rule; rules are kept for audit.
func (s *service) DeleteOverbookingRule(ctx context.Context, id uuid.UUID) error {
	rule, err := s.repo.FindOverbookingRule(ctx, id)
	if err != nil {
		return notFound(err, "overbooking rule")
	}
	if !rule.Active {
		return nil
	}
	rule.Active = false
	if err := s.repo.SaveOverbookingRule(ctx, rule); err != nil {
		return err
	}
	s.record(ctx, &rule.HotelID, audit.TableOverbooking, rule.ID, enums.AuditUpdate, map[string]bool{"active": true}, map[string]bool{"active": false})
	s.notify(ctx, rule.HotelID, []uuid.UUID{rule.RoomTypeID}, time.Time{}, time.Time{})
	return nil
}

func (s *service) CreateStopSellRule(ctx context.Context, input StopSellRuleInput) (*models.StopSellRule, error) {
	if err := validateStopSell(&input); err != nil {
		return nil, err
	}
	rule := &models.StopSellRule{Active: true}
	applyStopSell(rule, input)
	if err := s.repo.CreateStopSellRule(ctx, rule); err != nil {
		return nil, err
	}
	s.recordActor(ctx, &rule.HotelID, audit.TableRules, rule.ID, enums.AuditCreate, input.Actor, nil, rule)
	s.notifyRule(ctx, rule)
	return rule, nil
}

func (s *service) UpdateStopSellRule(ctx context.Context, id uuid.UUID, input StopSellRuleInput) (*models.StopSellRule, error) {
	if err := validateStopSell(&input); err != nil {
		return nil, err
	}
	rule, err := s.repo.FindStopSellRule(ctx, id)
	if err != nil {
		return nil, notFound(err, "stop-sell rule")
	}
	before := *rule
	applyStopSell(rule, input)
	if err := s.repo.SaveStopSellRule(ctx, rule); err != nil {
		return nil, err
	}
	s.recordActor(ctx, &rule.HotelID, audit.TableRules, rule.ID, enums.AuditUpdate, input.Actor, before, rule)
	s.notifyRule(ctx, &before)
	s.notifyRule(ctx, rule)
	return rule, nil
}

func (s *service) DeactivateStopSellRule(ctx context.Context, id uuid.UUID) error {
	rule, err := s.repo.FindStopSellRule(ctx, id)
	if err != nil {
		return notFound(err, "stop-sell rule")
	}
	if !rule.Active {
		return nil
	}
	rule.Active = false
	if err := s.repo.SaveStopSellRule(ctx, rule); err != nil {
		return err
	}
	s.record(ctx, &rule.HotelID, audit.TableRules, rule.ID, enums.AuditUpdate, map[string]bool{"active": true}, map[string]bool{"active": false})
	s.notifyRule(ctx, rule)
	return nil
}

func (s *service) ListStopSellRules(ctx context.Context, hotelID uuid.UUID, activeOnly bool) ([]models.StopSellRule, error) {
	if hotelID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hotel id is required")
	}
	return s.repo.ListStopSellRules(ctx, hotelID, activeOnly)
}

func (s *service) notifyRule(ctx context.Context, rule *models.StopSellRule) {
	var roomTypes []uuid.UUID
	if !rule.AllRoomTypes {
		roomTypes = rule.RoomTypeIDs
	}
	s.notify(ctx, rule.HotelID, roomTypes, rule.StartDate, types.AddDays(rule.EndDate, 1))
}

// notify forwards a rule edit to the listener; zero bounds mean the whole horizon.
func (s *service) notify(ctx context.Context, hotelID uuid.UUID, roomTypeIDs []uuid.UUID, from, to time.Time) {
	s.mu.RLock()
	listener := s.listen
	s.mu.RUnlock()
	if listener == nil {
		return
	}
	if from.IsZero() {
		from = types.Day(s.now())
	}
	if to.IsZero() {
		to = types.AddDays(from, 365)
	}
	if err := listener.RulesChanged(ctx, hotelID, roomTypeIDs, from, to); err != nil && s.logg != nil {
		s.logg.Error(s.logg.WithHotelID(ctx, hotelID.String()), "mark dirty after rule change failed", err)
	}
}

func (s *service) record(ctx context.Context, hotelID *uuid.UUID, table string, id uuid.UUID, change enums.AuditChangeType, before, after any) {
	s.recordActor(ctx, hotelID, table, id, change, "", before, after)
}

func (s *service) recordActor(ctx context.Context, hotelID *uuid.UUID, table string, id uuid.UUID, change enums.AuditChangeType, actor string, before, after any) {
	if s.audit == nil {
		return
	}
	source := string(enums.SourceAdmin)
	var extra map[string]any
	if actor != "" {
		extra = map[string]any{"actor": actor}
	}
	if _, err := s.audit.Record(ctx, nil, audit.Entry{
		HotelID:    hotelID,
		Table:      table,
		RecordID:   id.String(),
		ChangeType: change,
		Source:     source,
		OldValues:  before,
		NewValues:  after,
		Extra:      extra,
	}); err != nil && s.logg != nil {
		s.logg.Warn(ctx, fmt.Sprintf("audit rule change failed: %v", err))
	}
}

func validateOverbooking(input OverbookingRuleInput) error {
	if err := validation.Struct(input); err != nil {
		return err
	}
	for _, adj := range input.SeasonalAdjustments {
		if adj.Factor < 0 || adj.To.Before(adj.From) {
			return pkgerrors.New(pkgerrors.CodeValidation, "seasonal adjustment requires from <= to and a non-negative factor")
		}
	}
	for _, adj := range input.DayOfWeekAdjustments {
		if adj.Weekday < 0 || adj.Weekday > 6 || adj.Factor < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "day-of-week adjustment requires weekday 0-6 and a non-negative factor")
		}
	}
	for _, adj := range input.LeadTimeAdjustments {
		if adj.MinDays < 0 || (adj.MaxDays > 0 && adj.MaxDays < adj.MinDays) || adj.Factor < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "lead-time adjustment requires 0 <= minDays <= maxDays and a non-negative factor")
		}
	}
	for _, o := range input.ChannelOverrides {
		if strings.TrimSpace(o.Channel) == "" || o.MaxOverbookingPercent < 0 || o.MaxOverbookingPercent > 100 {
			return pkgerrors.New(pkgerrors.CodeValidation, "channel override requires a channel and a percent between 0 and 100")
		}
	}
	return nil
}

func validateStopSell(input *StopSellRuleInput) error {
	if input.Priority == 0 {
		input.Priority = 5
	}
	if err := validation.Struct(input); err != nil {
		return err
	}
	if !input.Type.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid rule type %q", input.Type)
	}
	input.StartDate = types.Day(input.StartDate)
	input.EndDate = types.Day(input.EndDate)
	if input.EndDate.Before(input.StartDate) {
		return pkgerrors.New(pkgerrors.CodeValidation, "endDate must not precede startDate")
	}
	if !input.AllRoomTypes && len(input.RoomTypeIDs) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "roomTypeIds or allRoomTypes is required")
	}
	if !input.AllChannels && len(input.Channels) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "channels or allChannels is required")
	}
	input.Action = defaultAction(input.Type, input.Action)
	a := input.Action
	if a.StopSell == nil && a.ClosedToArrival == nil && a.ClosedToDeparture == nil &&
		a.MinLOS == nil && a.MaxLOS == nil && a.RateAdjustmentPct == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "rule action sets no restriction")
	}
	restr := types.Restrictions{MinLOS: a.MinLOS, MaxLOS: a.MaxLOS}
	if err := restr.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	return nil
}

// defaultAction fills the action implied by the rule type when the caller left it out.
func defaultAction(ruleType enums.StopSellRuleType, action models.RuleAction) models.RuleAction {
	yes := true
	switch ruleType {
	case enums.RuleStopSell:
		if action.StopSell == nil {
			action.StopSell = &yes
		}
	case enums.RuleClosedToArrival:
		if action.ClosedToArrival == nil {
			action.ClosedToArrival = &yes
		}
	case enums.RuleClosedToDeparture:
		if action.ClosedToDeparture == nil {
			action.ClosedToDeparture = &yes
		}
	}
	return action
}

func applyOverbooking(rule *models.OverbookingRule, input OverbookingRuleInput) {
	rule.HotelID = input.HotelID
	rule.RoomTypeID = input.RoomTypeID
	rule.MaxOverbookingPercent = input.MaxOverbookingPercent
	rule.SeasonalAdjustments = input.SeasonalAdjustments
	rule.DayOfWeekAdjustments = input.DayOfWeekAdjustments
	rule.LeadTimeAdjustments = input.LeadTimeAdjustments
	rule.ChannelOverrides = input.ChannelOverrides
	rule.FallbackActions = input.FallbackActions
}

func applyStopSell(rule *models.StopSellRule, input StopSellRuleInput) {
	rule.HotelID = input.HotelID
	rule.Name = strings.TrimSpace(input.Name)
	rule.Type = input.Type
	rule.Priority = input.Priority
	rule.StartDate = input.StartDate
	rule.EndDate = input.EndDate
	rule.Weekdays = input.Weekdays
	rule.RoomTypeIDs = input.RoomTypeIDs
	rule.AllRoomTypes = input.AllRoomTypes
	rule.Channels = input.Channels
	rule.AllChannels = input.AllChannels
	rule.Action = input.Action
	rule.Reason = input.Reason
}

func normalizeChannel(channel string) string {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return ChannelDirect
	}
	return strings.ToLower(channel)
}

func notFound(err error, what string) error {
	if db.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, what+" not found")
	}
	return err
}
