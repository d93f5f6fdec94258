package main

import (
	"context"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	// Resume unblocks an ordering key after a failed publish.
	Resume(orderingKey string)
	Stop()
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisherFactory func(topic string) publisher

// orderedPublishers hands out Pub/Sub publishers with message ordering on,
// which the per-account ordering key depends on.
func orderedPublishers(client pubSubClient) publisherFactory {
	return func(topic string) publisher {
		p := client.Publisher(topic)
		if p == nil {
			return nil
		}
		p.EnableMessageOrdering = true
		return gcpPublisher{p}
	}
}

// publisherSet builds one publisher per topic on first use.
type publisherSet struct {
	factory publisherFactory

	mu      sync.Mutex
	byTopic map[string]publisher
}

func newPublisherSet(factory publisherFactory) *publisherSet {
	return &publisherSet{factory: factory, byTopic: map[string]publisher{}}
}

func (s *publisherSet) get(topic string) publisher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byTopic[topic]; ok {
		return p
	}
	p := s.factory(topic)
	if p != nil {
		s.byTopic[topic] = p
	}
	return p
}

// stopAll flushes pending messages. The pubsub client stops the same
// publishers again on Close, which Stop tolerates.
func (s *publisherSet) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, p := range s.byTopic {
		p.Stop()
		delete(s.byTopic, topic)
	}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}

func (p gcpPublisher) Resume(orderingKey string) {
	p.Publisher.ResumePublish(orderingKey)
}
