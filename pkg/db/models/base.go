package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// assignID gives new rows a client-side UUID so inserts work on every dialect.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (h *Hotel) BeforeCreate(*gorm.DB) error                 { assignID(&h.ID); return nil }
func (r *RoomType) BeforeCreate(*gorm.DB) error              { assignID(&r.ID); return nil }
func (a *AvailabilityRow) BeforeCreate(*gorm.DB) error       { assignID(&a.ID); return nil }
func (c *Channel) BeforeCreate(*gorm.DB) error               { assignID(&c.ID); return nil }
func (b *Booking) BeforeCreate(*gorm.DB) error               { assignID(&b.ID); return nil }
func (s *InventorySync) BeforeCreate(*gorm.DB) error         { assignID(&s.ID); return nil }
func (m *ReservationMapping) BeforeCreate(*gorm.DB) error    { assignID(&m.ID); return nil }
func (l *RateParityLog) BeforeCreate(*gorm.DB) error         { assignID(&l.ID); return nil }
func (o *OverbookingRule) BeforeCreate(*gorm.DB) error       { assignID(&o.ID); return nil }
func (s *StopSellRule) BeforeCreate(*gorm.DB) error          { assignID(&s.ID); return nil }
func (p *PricingStrategy) BeforeCreate(*gorm.DB) error       { assignID(&p.ID); return nil }
func (f *DemandForecast) BeforeCreate(*gorm.DB) error        { assignID(&f.ID); return nil }
func (c *CompetitorRate) BeforeCreate(*gorm.DB) error        { assignID(&c.ID); return nil }
func (p *PricingRecommendation) BeforeCreate(*gorm.DB) error { assignID(&p.ID); return nil }
func (a *AuditLog) BeforeCreate(*gorm.DB) error              { assignID(&a.ID); return nil }
func (e *OutboxEvent) BeforeCreate(*gorm.DB) error           { assignID(&e.ID); return nil }
func (d *OutboxDLQ) BeforeCreate(*gorm.DB) error             { assignID(&d.ID); return nil }

// All lists every persisted model; tests feed it to AutoMigrate.
func All() []any {
	return []any{
		&Hotel{},
		&RoomType{},
		&AvailabilityRow{},
		&Channel{},
		&Booking{},
		&InventorySync{},
		&ReservationMapping{},
		&RateParityLog{},
		&OverbookingRule{},
		&StopSellRule{},
		&PricingStrategy{},
		&DemandForecast{},
		&CompetitorRate{},
		&PricingRecommendation{},
		&AuditLog{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
