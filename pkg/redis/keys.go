package redis

import "strings"

const defaultKeyPrefix = "np"

// Keyspace builds the namespaced keys the services share. Empty parts are
// dropped so an optional scope never produces "a::b".
type Keyspace struct {
	prefix string
}

func NewKeyspace(prefix string) Keyspace {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return Keyspace{prefix: prefix}
}

func (k Keyspace) join(parts ...string) string {
	prefix := k.prefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	var b strings.Builder
	b.WriteString(prefix)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

func (k Keyspace) IdempotencyKey(scope, id string) string {
	return k.join("idempotency", scope, id)
}

func (k Keyspace) RateLimitKey(scope string) string {
	return k.join("rate_limit", scope)
}

// VerificationCodeKey holds the hashed one-time code issued to an account.
func (k Keyspace) VerificationCodeKey(accountID string) string {
	return k.join("verification", "code", accountID)
}

// VerificationAttemptsKey counts confirmation attempts against the current code.
func (k Keyspace) VerificationAttemptsKey(accountID string) string {
	return k.join("verification", "attempts", accountID)
}

func (k Keyspace) LockKey(name string) string {
	return k.join("lock", name)
}
