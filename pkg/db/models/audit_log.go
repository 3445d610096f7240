package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

// AuditMetadata carries tags and free-form context for an audit entry.
type AuditMetadata struct {
	Tags  []string       `json:"tags,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// AuditLog is an append-only change record. Rows are never updated.
type AuditLog struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	HotelID       *uuid.UUID            `gorm:"column:hotel_id;type:uuid;index:idx_audit_logs_hotel_time,priority:1"`
	Entity        string                `gorm:"column:table_name;not null;index:idx_audit_logs_record,priority:1"`
	RecordID      string                `gorm:"column:record_id;not null;index:idx_audit_logs_record,priority:2"`
	ChangeType    enums.AuditChangeType `gorm:"column:change_type;type:text;not null"`
	Source        string                `gorm:"column:source;not null"`
	OldValues     json.RawMessage       `gorm:"column:old_values;type:jsonb"`
	NewValues     json.RawMessage       `gorm:"column:new_values;type:jsonb"`
	Metadata      AuditMetadata         `gorm:"column:metadata;type:jsonb;serializer:json"`
	Tags          string                `gorm:"column:tags;type:text;not null;default:''"`
	CorrelationID string                `gorm:"column:correlation_id;index"`
	Timestamp     time.Time             `gorm:"column:timestamp;not null;index:idx_audit_logs_hotel_time,priority:2"`
}
