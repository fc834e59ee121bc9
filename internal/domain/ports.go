package domain

import (
	"context"
	"time"
)

// RuleFileSource fetches the raw gate rule file for a repository.
// Implementations return the file content plus a browse URL used in
// validation-failure comments.
type RuleFileSource interface {
	FetchRuleFile(ctx context.Context, repo Repo, path string) (content []byte, htmlURL string, err error)
}

// QueryClient runs a GraphQL count query and decodes the data payload
// into out. A response carrying a GraphQL errors array fails with a
// *QueryFailure; rate limiting fails with a *RateLimitError.
type QueryClient interface {
	Query(ctx context.Context, query string, variables map[string]any, out any) error
}

// RunLookup resolves workflow-run metadata.
type RunLookup interface {
	WorkflowRunCreatedAt(ctx context.Context, repo Repo, runID int64) (time.Time, error)
}

// DecisionAPI applies a gate decision through the deployment callback.
// All calls may fail with a *RateLimitError.
type DecisionAPI interface {
	Approve(ctx context.Context, callbackURL, environment, comment string) error
	Reject(ctx context.Context, callbackURL, environment, comment string) error
	Comment(ctx context.Context, callbackURL, environment, comment string) error
}

// Queue enqueues an envelope for processing. A zero notBefore means
// deliver as soon as possible; otherwise delivery is withheld until the
// given instant.
type Queue interface {
	Enqueue(ctx context.Context, queue string, envelope Envelope, notBefore time.Time) error
}

// Consumer is the worker-side counterpart of Queue. Dequeue returns the
// next due envelope, or ok=false when none is due.
type Consumer interface {
	Queue
	Dequeue(ctx context.Context, queue string) (envelope Envelope, ok bool, err error)
}
