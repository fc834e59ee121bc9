package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Rejection is a terminal business decision: the gate must reject the
// deployment with the carried comment. It is never retried.
type Rejection struct {
	Message string
}

func (e *Rejection) Error() string { return e.Message }

// Rejectf builds a Rejection with a formatted comment.
func Rejectf(format string, args ...any) *Rejection {
	return &Rejection{Message: fmt.Sprintf(format, args...)}
}

// Fatal is an unrecoverable programming-level condition. The pipeline logs
// it and drops the message without deciding an outcome.
type Fatal struct {
	Message string
	Err     error
}

func (e *Fatal) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Fatal) Unwrap() error { return e.Err }

// RateLimitKind distinguishes the three rate-limit signals GitHub emits.
type RateLimitKind string

const (
	RateLimitPrimary   RateLimitKind = "rate limit"
	RateLimitAbuse     RateLimitKind = "abuse detection"
	RateLimitSecondary RateLimitKind = "secondary rate limit"
)

// RateLimitError signals that an external call was rate limited. It is the
// only error class allowed to cross the evaluation/application boundary
// unhandled: the retry controller parks the envelope until the limit
// resets. Headers carries the response metadata needed to compute the
// reset instant.
type RateLimitError struct {
	Kind    RateLimitKind
	Headers map[string]string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github %s hit for resource %q", e.Kind, e.Resource())
}

// Header returns a response header by name, case-insensitively.
func (e *RateLimitError) Header(name string) (string, bool) {
	for k, v := range e.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Resource names the limited resource, taken from the X-RateLimit-Resource
// response header. Empty when the header is absent.
func (e *RateLimitError) Resource() string {
	v, _ := e.Header("X-RateLimit-Resource")
	return v
}

// QueryFailure reports a GraphQL response whose errors array was non-empty.
// Each entry is one error message from the response.
type QueryFailure struct {
	Errors []string
}

func (e *QueryFailure) Error() string {
	return fmt.Sprintf("query failed with %d error(s)", len(e.Errors))
}
