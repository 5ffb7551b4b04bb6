package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// EnvelopeVersion is written on every new row. Readers reject anything newer.
const EnvelopeVersion = 1

// ActorRef identifies who triggered the event. Guests and background jobs leave OwnerID empty.
type ActorRef struct {
	OwnerID string `json:"ownerId,omitempty"`
	Source  string `json:"source,omitempty"`
}

// PayloadEnvelope is the payload_json column and the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses raw and checks that it carries an id, a known version and a
// non-null data section.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	switch data := bytes.TrimSpace(env.Data); {
	case env.EventID == "":
		return env, fmt.Errorf("envelope missing eventId")
	case env.Version < 1 || env.Version > EnvelopeVersion:
		return env, fmt.Errorf("unsupported envelope version %d", env.Version)
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return env, fmt.Errorf("envelope missing data")
	}
	return env, nil
}
