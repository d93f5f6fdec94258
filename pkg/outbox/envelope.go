package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/pkg/enums"
)

// EnvelopeVersion is written on every new envelope. Consumers pick payload
// decoders by (event type, version).
const EnvelopeVersion = 1

var ErrMalformedEnvelope = errors.New("malformed outbox envelope")

// ActorRef identifies who caused the event. System actors carry only a Name.
type ActorRef struct {
	AccountID *uuid.UUID `json:"accountId,omitempty"`
	Email     string     `json:"email,omitempty"`
	Role      string     `json:"role,omitempty"`
	Name      string     `json:"name,omitempty"`
}

// Envelope is stored in outbox_events.payload and published unchanged as the
// message body, so a consumer never needs the row or the attributes. EventID
// equals the outbox row id.
type Envelope struct {
	Version       int                       `json:"version"`
	EventID       uuid.UUID                 `json:"eventId"`
	EventType     enums.OutboxEventType     `json:"eventType"`
	AggregateType enums.OutboxAggregateType `json:"aggregateType"`
	AggregateID   uuid.UUID                 `json:"aggregateId"`
	OccurredAt    time.Time                 `json:"occurredAt"`
	Actor         *ActorRef                 `json:"actor,omitempty"`
	Data          json.RawMessage           `json:"data"`
}

// DecodeEnvelope parses and validates a stored or delivered envelope.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := env.validate(); err != nil {
		return Envelope{}, err
	}
	if env.Version <= 0 {
		env.Version = EnvelopeVersion
	}
	return env, nil
}

func (e Envelope) validate() error {
	var problem string
	switch data := bytes.TrimSpace(e.Data); {
	case e.EventID == uuid.Nil:
		problem = "event id missing"
	case !e.EventType.IsValid():
		problem = fmt.Sprintf("unknown event type %q", e.EventType)
	case !e.AggregateType.IsValid():
		problem = fmt.Sprintf("unknown aggregate type %q", e.AggregateType)
	case e.AggregateID == uuid.Nil:
		problem = "aggregate id missing"
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		problem = "data missing"
	default:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMalformedEnvelope, problem)
}

// OrderingKey keeps every event of one aggregate in publish order.
func (e Envelope) OrderingKey() string {
	return e.AggregateID.String()
}

// Attributes lets subscriptions filter without decoding the body.
func (e Envelope) Attributes() map[string]string {
	return map[string]string{
		"event_id":       e.EventID.String(),
		"event_type":     string(e.EventType),
		"aggregate_type": string(e.AggregateType),
		"aggregate_id":   e.AggregateID.String(),
		"version":        strconv.Itoa(e.Version),
		"occurred_at":    e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}
