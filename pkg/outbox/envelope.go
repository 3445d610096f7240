package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyData marks an envelope whose data is missing or JSON null.
var ErrEmptyData = errors.New("envelope data is empty")

// ActorRef identifies who produced the event: an operator (UserID set) or a
// subsystem such as "channel_sync" or "cron".
type ActorRef struct {
	Source string     `json:"source"`
	UserID *uuid.UUID `json:"userId,omitempty"`
}

// PayloadEnvelope wraps every event payload stored in outbox_events and
// published to Pub/Sub. Data is decoded per (event type, Version).
type PayloadEnvelope struct {
	Version       int             `json:"version"`
	EventID       string          `json:"eventId"`
	OccurredAt    time.Time       `json:"occurredAt"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Actor         *ActorRef       `json:"actor,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// DecodeEnvelope parses raw and requires non-empty data. Envelopes written
// before versioning carry no version and are read as version 1.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version <= 0 {
		env.Version = 1
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, ErrEmptyData
	}
	return env, nil
}
