package cache

import (
	"github.com/google/uuid"
)

// keyNamespace prefixes every key so the server can share a Redis database.
const keyNamespace = "mcp:"

// JobKey is where the latest snapshot of a job is cached.
func JobKey(jobID uuid.UUID) string {
	return keyNamespace + "job:" + jobID.String()
}

// RateLimitKey counts the requests made with one API key in the current
// rate limit window.
func RateLimitKey(keyPrefix string) string {
	return keyNamespace + "ratelimit:" + keyPrefix
}
