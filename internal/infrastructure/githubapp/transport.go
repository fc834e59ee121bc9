package githubapp

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

const (
	maxTransportRetries = 3
	sleepBaseSeconds    = 2
)

// retryStatuses are the transient statuses worth another attempt at the
// transport level. Everything else, rate limiting included, is handled
// above this layer.
var retryStatuses = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
	http.StatusRequestTimeout:      true,
}

// retryTransport retries individual HTTP calls on transient statuses with
// exponential backoff (sleepBase^retryNumber seconds). When retries are
// exhausted the last failing response is returned as-is; callers inspect
// status codes themselves.
type retryTransport struct {
	base http.RoundTripper
	log  *slog.Logger

	// sleep is swappable in tests. Defaults to sleepContext.
	sleep func(ctx context.Context, d time.Duration) error
}

func newRetryTransport(base http.RoundTripper, log *slog.Logger) *retryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &retryTransport{base: base, log: log, sleep: sleepContext}
}

// sleepContext waits for d unless ctx is cancelled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for retry := 0; ; retry++ {
		attempt := req
		if retry > 0 {
			attempt = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				attempt.Body = body
			}
		}

		resp, err := t.base.RoundTrip(attempt)
		if err != nil {
			return resp, err
		}
		if !retryStatuses[resp.StatusCode] || retry >= maxTransportRetries {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		wait := time.Duration(math.Pow(sleepBaseSeconds, float64(retry+1))) * time.Second
		t.log.Info("retrying transient http failure",
			"status", resp.StatusCode,
			"retry", retry+1,
			"of", maxTransportRetries,
			"wait", wait)

		if err := t.sleep(req.Context(), wait); err != nil {
			return nil, err
		}
	}
}
