package githubapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/actiongates/actiongates-server/internal/domain"
)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type graphQLError struct {
	Message string `json:"message"`
}

// Query implements domain.QueryClient by posting to the GraphQL
// endpoint. Query-level errors become a domain.QueryFailure; HTTP-level
// throttling becomes a domain.RateLimitError.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	resp, err := c.gql.R().
		SetContext(ctx).
		SetBody(graphQLRequest{Query: query, Variables: variables}).
		Post("/graphql")
	if err != nil {
		return fmt.Errorf("graphql request: %w", err)
	}

	if resp.IsError() {
		if rl := rateLimitFromResponse(resp.StatusCode(), resp.Header(), resp.Body()); rl != nil {
			return rl
		}
		return fmt.Errorf("graphql request failed with status %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}

	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			messages = append(messages, e.Message)
		}
		return &domain.QueryFailure{Errors: messages}
	}
	if envelope.Data == nil {
		return fmt.Errorf("graphql response carried no data")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}

// rateLimitFromResponse classifies a failing GraphQL HTTP response as a
// rate limit, or returns nil when it is an ordinary failure. GitHub
// reports secondary and abuse limits as 403/429 with a telling message
// body; primary exhaustion shows as a zeroed remaining header.
func rateLimitFromResponse(status int, header http.Header, body []byte) *domain.RateLimitError {
	if status != http.StatusForbidden && status != http.StatusTooManyRequests {
		return nil
	}

	headers := map[string]string{}
	for name := range header {
		headers[name] = header.Get(name)
	}

	text := strings.ToLower(string(body))
	switch {
	case strings.Contains(text, "secondary rate limit"):
		return &domain.RateLimitError{Kind: domain.RateLimitSecondary, Headers: headers}
	case strings.Contains(text, "abuse"):
		return &domain.RateLimitError{Kind: domain.RateLimitAbuse, Headers: headers}
	case header.Get("X-RateLimit-Remaining") == "0":
		return &domain.RateLimitError{Kind: domain.RateLimitPrimary, Headers: headers}
	}
	return nil
}
