package bus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Topics. Message, context and voice events share one channel; the
// high-frequency live-session mirror gets its own so passive tabs are not
// filtering transcript deltas out of the general stream.
const (
	TopicSync = "hypley.sync"
	TopicLive = "hypley.live"
)

// Event kinds carried on the sync topic, plus the live-state kind on the
// live topic.
const (
	EventMessageUpsert = "message-upsert"
	EventContextUpdate = "context-update"
	EventVoiceUpdate   = "voice-update"
	EventLiveState     = "live-state"
)

// Envelope is the wire shape of every broadcast event. Origin carries the
// publishing tab's id so a tab can drop its own echoes; the transport also
// delivers to the publisher on some backends.
type Envelope struct {
	Type    string          `json:"type"`
	Origin  string          `json:"origin,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an envelope of the given event type.
func NewEnvelope(eventType, origin string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, Origin: origin, Payload: data}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// Handler consumes one delivered envelope.
type Handler func(Envelope)

// Bus is the at-most-once, unordered, same-origin broadcast primitive
// connecting all open tabs. Publish is fire-and-forget: no acknowledgment,
// no retry, and a tab not subscribed at send time never sees the event.
type Bus interface {
	Publish(ctx context.Context, topic string, env Envelope) error
	// Subscribe registers a handler and returns its unsubscribe function.
	Subscribe(ctx context.Context, topic string, h Handler) (func(), error)
}
