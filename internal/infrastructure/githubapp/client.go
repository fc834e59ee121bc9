// Package githubapp adapts the GitHub REST and GraphQL APIs to the
// domain's collaborator ports: rule file fetch, workflow run lookup,
// count queries, and decision application through the deployment
// callback.
package githubapp

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/go-github/v71/github"

	"github.com/actiongates/actiongates-server/internal/domain"
)

const defaultBaseURL = "https://api.github.com"

const acceptHeader = "application/vnd.github+json"

// Client implements domain.RuleFileSource, domain.QueryClient,
// domain.RunLookup, and domain.DecisionAPI against one GitHub
// installation token. Safe for use within a single invocation; no state
// is shared across invocations.
type Client struct {
	rest *github.Client
	gql  *resty.Client
	log  *slog.Logger
}

// New builds a client for the given API base URL (empty means
// api.github.com) authenticating with token.
func New(baseURL, token string, log *slog.Logger) (*Client, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := &http.Client{
		Transport: newRetryTransport(http.DefaultTransport, log),
	}

	rest := github.NewClient(httpClient).WithAuthToken(token)
	if baseURL != defaultBaseURL {
		// go-github requires a trailing slash on its base URL.
		u, err := url.Parse(baseURL + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		rest.BaseURL = u
	}

	gql := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetHeader("Accept", acceptHeader).
		SetRetryCount(maxTransportRetries).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err == nil && r != nil && retryStatuses[r.StatusCode()]
		}).
		SetRetryAfter(func(c *resty.Client, r *resty.Response) (time.Duration, error) {
			return time.Duration(math.Pow(sleepBaseSeconds, float64(r.Request.Attempt))) * time.Second, nil
		})

	return &Client{rest: rest, gql: gql, log: log}, nil
}

// Approve marks the protection rule approved through the callback URL.
func (c *Client) Approve(ctx context.Context, callbackURL, environment, comment string) error {
	c.log.Info("approving gate", "environment", environment, "callback_url", callbackURL)
	return c.review(ctx, callbackURL, "approved", environment, comment)
}

// Reject marks the protection rule rejected through the callback URL.
func (c *Client) Reject(ctx context.Context, callbackURL, environment, comment string) error {
	c.log.Info("rejecting gate", "environment", environment, "callback_url", callbackURL)
	return c.review(ctx, callbackURL, "rejected", environment, comment)
}

// Comment posts a progress comment without deciding the rule.
func (c *Client) Comment(ctx context.Context, callbackURL, environment, comment string) error {
	payload := map[string]any{
		"environment_name": environment,
		"comment":          comment,
	}
	return c.post(ctx, callbackURL, payload)
}

func (c *Client) review(ctx context.Context, callbackURL, state, environment, comment string) error {
	payload := map[string]any{
		"state":            state,
		"environment_name": environment,
		"comment":          comment,
	}
	return c.post(ctx, callbackURL, payload)
}

func (c *Client) post(ctx context.Context, callbackURL string, payload map[string]any) error {
	req, err := c.rest.NewRequest(http.MethodPost, callbackURL, payload)
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	if _, err := c.rest.Do(ctx, req, nil); err != nil {
		return mapRESTError(err)
	}
	return nil
}

// FetchRuleFile implements domain.RuleFileSource via the repository
// contents API.
func (c *Client) FetchRuleFile(ctx context.Context, repo domain.Repo, path string) ([]byte, string, error) {
	file, _, _, err := c.rest.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, nil)
	if err != nil {
		return nil, "", mapRESTError(err)
	}
	if file == nil {
		return nil, "", fmt.Errorf("rule file path %q is a directory: %w", path, domain.ErrInvalidArgument)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, "", fmt.Errorf("decode rule file content: %w", err)
	}
	return []byte(content), file.GetHTMLURL(), nil
}

// WorkflowRunCreatedAt implements domain.RunLookup.
func (c *Client) WorkflowRunCreatedAt(ctx context.Context, repo domain.Repo, runID int64) (time.Time, error) {
	run, _, err := c.rest.Actions.GetWorkflowRunByID(ctx, repo.Owner, repo.Name, runID)
	if err != nil {
		return time.Time{}, mapRESTError(err)
	}
	return run.GetCreatedAt().Time.UTC(), nil
}

// mapRESTError translates go-github's rate-limit error types into the
// domain's rate-limit class so the retry controller can park the
// envelope. Other errors pass through.
func mapRESTError(err error) error {
	if err == nil {
		return nil
	}

	if rle, ok := err.(*github.RateLimitError); ok {
		return &domain.RateLimitError{
			Kind:    domain.RateLimitPrimary,
			Headers: headerMap(rle.Response),
		}
	}
	if arle, ok := err.(*github.AbuseRateLimitError); ok {
		kind := domain.RateLimitAbuse
		if strings.Contains(strings.ToLower(arle.Message), "secondary") {
			kind = domain.RateLimitSecondary
		}
		return &domain.RateLimitError{
			Kind:    kind,
			Headers: headerMap(arle.Response),
		}
	}
	return err
}

func headerMap(resp *http.Response) map[string]string {
	headers := map[string]string{}
	if resp == nil {
		return headers
	}
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}
	return headers
}
