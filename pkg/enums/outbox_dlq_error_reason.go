package enums

import (
	"fmt"
	"strings"
)

// OutboxDLQErrorReason records why the publisher parked an event.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts means the broker kept failing until the
	// publisher's attempt budget ran out.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable means the event could never be published
	// as stored (bad payload, unknown topic).
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable:
		return true
	}
	return false
}

// ParseOutboxDLQErrorReason accepts the reason case-insensitively. An empty
// value parses to the empty reason, which callers treat as "any".
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	reason := OutboxDLQErrorReason(strings.ToLower(strings.TrimSpace(value)))
	if reason == "" || reason.IsValid() {
		return reason, nil
	}
	return "", fmt.Errorf("invalid dead letter reason %q", value)
}
