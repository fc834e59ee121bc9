package application

import (
	"strconv"
	"strings"
	"time"

	"github.com/actiongates/actiongates-server/internal/domain"
)

// defaultRetryDelay is used when the rate-limited response carries no
// usable reset information.
const defaultRetryDelay = 30 * time.Second

// resetTime computes when a rate-limited call may be retried. It prefers
// the X-RateLimit-Reset epoch header, falls back to Retry-After seconds,
// and falls back to a fixed delay when neither is present. A malformed or
// negative value is treated the same as an absent one.
func resetTime(rl *domain.RateLimitError, now time.Time) time.Time {
	if v, ok := rl.Header("X-RateLimit-Reset"); ok {
		epoch, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || epoch < 0 {
			return now.Add(defaultRetryDelay)
		}
		return time.Unix(epoch, 0).UTC()
	}
	if v, ok := rl.Header("Retry-After"); ok {
		seconds, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || seconds < 0 {
			return now.Add(defaultRetryDelay)
		}
		return now.Add(time.Duration(seconds) * time.Second)
	}
	return now.Add(defaultRetryDelay)
}
