package generations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/pkg/enums"
)

// Job is the message handed to the generation backend.
type Job struct {
	ID             uuid.UUID                 `json:"jobId"`
	AccountID      uuid.UUID                 `json:"accountId"`
	Operation      enums.GenerationOperation `json:"operation"`
	SourceImageURL string                    `json:"sourceImageUrl,omitempty"`
	Style          string                    `json:"style,omitempty"`
	Prompt         string                    `json:"prompt,omitempty"`
	Cost           int64                     `json:"cost"`
	RequestedAt    time.Time                 `json:"requestedAt"`
}

// Dispatcher hands a paid job to the external generation backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

type messagePublisher interface {
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
}

// PubSubDispatcher publishes jobs on the generation topic.
type PubSubDispatcher struct {
	publisher messagePublisher
	topic     string
	timeout   time.Duration
}

func NewPubSubDispatcher(publisher messagePublisher, topic string) (*PubSubDispatcher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("generation topic required")
	}
	return &PubSubDispatcher{publisher: publisher, topic: topic, timeout: 10 * time.Second}, nil
}

func (d *PubSubDispatcher) Dispatch(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, err = d.publisher.Publish(ctx, d.topic, data, map[string]string{
		"job_id":     job.ID.String(),
		"operation":  string(job.Operation),
		"account_id": job.AccountID.String(),
	})
	if err != nil {
		return fmt.Errorf("publish generation job: %w", err)
	}
	return nil
}
