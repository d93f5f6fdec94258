package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	"github.com/nanophoto/nanophoto-backend/pkg/enums"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox"
	"github.com/nanophoto/nanophoto-backend/pkg/outbox/payloads"
)

// ErrNoDecoder is returned for an event type/version pair nobody registered.
var ErrNoDecoder = errors.New("no payload decoder registered")

// PermanentError marks an outbox row that can never be published as stored.
type PermanentError struct {
	Err error
}

func (e PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	return PermanentError{Err: err}
}

// DecodeFunc turns the envelope data of one payload version into a typed value.
type DecodeFunc func(data json.RawMessage) (any, error)

// JSONDecoder decodes into a fresh *T.
func JSONDecoder[T any]() DecodeFunc {
	return func(data json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(data, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

type route struct {
	aggregate enums.OutboxAggregateType
	topic     string
	decoders  map[int]DecodeFunc
}

// Catalog records, per event type, the owning aggregate, the topic that
// carries it and a decoder per payload version. Publishers and consumers
// share one catalog so they cannot disagree about a payload.
type Catalog struct {
	mu     sync.RWMutex
	routes map[enums.OutboxEventType]*route
}

func NewCatalog() *Catalog {
	return &Catalog{routes: make(map[enums.OutboxEventType]*route)}
}

// Ledger describes everything the ledger emits. Both events share the topic
// so a consumer sees one ordered stream per account. Decode-only consumers
// pass an empty topic.
func Ledger(topic string) *Catalog {
	c := NewCatalog()
	c.must(c.Route(enums.EventLedgerEntryRecorded, enums.AggregateAccount, topic))
	c.must(c.Register(enums.EventLedgerEntryRecorded, 1, JSONDecoder[payloads.LedgerEntryRecordedEvent]()))
	c.must(c.Route(enums.EventAccountStatusChanged, enums.AggregateAccount, topic))
	c.must(c.Register(enums.EventAccountStatusChanged, 1, JSONDecoder[payloads.AccountStatusChangedEvent]()))
	return c
}

func (c *Catalog) must(err error) {
	if err != nil {
		panic(err)
	}
}

func (c *Catalog) Route(eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) error {
	if !eventType.IsValid() {
		return fmt.Errorf("invalid event type %q", eventType)
	}
	if !aggregate.IsValid() {
		return fmt.Errorf("invalid aggregate type %q", aggregate)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.routes[eventType]; exists {
		return fmt.Errorf("%s already routed", eventType)
	}
	c.routes[eventType] = &route{aggregate: aggregate, topic: topic, decoders: make(map[int]DecodeFunc)}
	return nil
}

func (c *Catalog) Register(eventType enums.OutboxEventType, version int, decode DecodeFunc) error {
	if decode == nil {
		return fmt.Errorf("decoder for %s is nil", eventType)
	}
	if version <= 0 {
		return fmt.Errorf("decoder version for %s must be positive", eventType)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.routes[eventType]
	if !ok {
		return fmt.Errorf("%s has no route", eventType)
	}
	if _, exists := r.decoders[version]; exists {
		return fmt.Errorf("decoder for %s@v%d already registered", eventType, version)
	}
	r.decoders[version] = decode
	return nil
}

// Topics lists the distinct non-empty topics, sorted.
func (c *Catalog) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, r := range c.routes {
		if r.topic != "" && !seen[r.topic] {
			seen[r.topic] = true
			out = append(out, r.topic)
		}
	}
	sort.Strings(out)
	return out
}

// Decode returns the typed payload of env. An unknown version yields
// ErrNoDecoder.
func (c *Catalog) Decode(env outbox.Envelope) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[env.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDecoder, env.EventType)
	}
	return r.decode(env)
}

// decode runs under the catalog read lock.
func (r *route) decode(env outbox.Envelope) (any, error) {
	decode, ok := r.decoders[env.Version]
	if !ok {
		return nil, fmt.Errorf("%w: %s@v%d", ErrNoDecoder, env.EventType, env.Version)
	}
	out, err := decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s@v%d: %w", env.EventType, env.Version, err)
	}
	return out, nil
}

// Resolved is an outbox row ready to publish.
type Resolved struct {
	Topic    string
	Envelope outbox.Envelope
	Payload  any
}

// Resolve checks a row against its stored envelope and the catalog. Every
// error it returns is a PermanentError.
func (c *Catalog) Resolve(row models.OutboxEvent) (*Resolved, error) {
	env, err := outbox.DecodeEnvelope(row.Payload)
	if err != nil {
		return nil, Permanent(err)
	}
	switch {
	case env.EventID != row.ID:
		return nil, Permanent(fmt.Errorf("envelope %s stored on row %s", env.EventID, row.ID))
	case env.EventType != row.EventType:
		return nil, Permanent(fmt.Errorf("envelope type %s stored on %s row", env.EventType, row.EventType))
	case env.AggregateID != row.AggregateID:
		return nil, Permanent(fmt.Errorf("envelope aggregate %s stored on row for %s", env.AggregateID, row.AggregateID))
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[env.EventType]
	if !ok {
		return nil, Permanent(fmt.Errorf("unsupported event type %s", env.EventType))
	}
	if r.topic == "" {
		return nil, Permanent(fmt.Errorf("no topic routed for %s", env.EventType))
	}
	if r.aggregate != env.AggregateType {
		return nil, Permanent(fmt.Errorf("aggregate mismatch: expected %s got %s", r.aggregate, env.AggregateType))
	}
	payload, err := r.decode(env)
	if err != nil {
		return nil, Permanent(err)
	}
	return &Resolved{Topic: r.topic, Envelope: env, Payload: payload}, nil
}
