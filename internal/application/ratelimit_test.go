package application

import (
	"testing"
	"time"

	"github.com/actiongates/actiongates-server/internal/domain"
)

func TestResetTimeFromResetHeader(t *testing.T) {
	now := time.Date(2023, 1, 2, 12, 0, 0, 0, time.UTC)
	reset := now.Add(5 * time.Minute)
	rl := &domain.RateLimitError{Headers: map[string]string{
		"X-RateLimit-Reset": "1672661100", // 2023-01-02T12:05:00Z
		"Retry-After":       "900",
	}}

	got := resetTime(rl, now)
	if !got.Equal(reset) {
		t.Fatalf("resetTime = %s, want %s (reset header wins over Retry-After)", got, reset)
	}
}

func TestResetTimeFromRetryAfter(t *testing.T) {
	now := time.Date(2023, 1, 2, 12, 0, 0, 0, time.UTC)
	rl := &domain.RateLimitError{Headers: map[string]string{"Retry-After": "90"}}

	got := resetTime(rl, now)
	if want := now.Add(90 * time.Second); !got.Equal(want) {
		t.Fatalf("resetTime = %s, want %s", got, want)
	}
}

func TestResetTimeHeaderNamesCaseInsensitive(t *testing.T) {
	now := time.Date(2023, 1, 2, 12, 0, 0, 0, time.UTC)
	rl := &domain.RateLimitError{Headers: map[string]string{"retry-after": "60"}}

	got := resetTime(rl, now)
	if want := now.Add(time.Minute); !got.Equal(want) {
		t.Fatalf("resetTime = %s, want %s", got, want)
	}
}

func TestResetTimeDefault(t *testing.T) {
	now := time.Date(2023, 1, 2, 12, 0, 0, 0, time.UTC)
	want := now.Add(defaultRetryDelay)

	cases := []struct {
		name    string
		headers map[string]string
	}{
		{"no headers", nil},
		{"malformed reset", map[string]string{"X-RateLimit-Reset": "soon"}},
		{"negative reset", map[string]string{"X-RateLimit-Reset": "-5"}},
		{"malformed retry-after", map[string]string{"Retry-After": "later"}},
		{"negative retry-after", map[string]string{"Retry-After": "-1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rl := &domain.RateLimitError{Headers: tc.headers}
			if got := resetTime(rl, now); !got.Equal(want) {
				t.Fatalf("resetTime = %s, want %s", got, want)
			}
		})
	}
}
