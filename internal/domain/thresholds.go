package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// searchTimeFormat renders the created:< predicate timestamp with seven
// fractional digits, matching GitHub's search syntax expectations.
const searchTimeFormat = "2006-01-02T15:04:05.0000000Z"

const searchCountQuery = "query($type: SearchType!, $limit: Int, $query: String!) { search(type: $type, first: $limit, query: $query) { issueCount } }"

// ThresholdEvaluator evaluates issue-count and search-count rules against
// GitHub. Checks run sequentially in a fixed order, issues before search:
// issue queries are cheaper against rate limits and should fail first.
type ThresholdEvaluator struct {
	rules   *RuleSet
	queries QueryClient
	runs    RunLookup
	log     *slog.Logger
}

// NewThresholdEvaluator builds an evaluator over an immutable rule set.
func NewThresholdEvaluator(rules *RuleSet, queries QueryClient, runs RunLookup, log *slog.Logger) *ThresholdEvaluator {
	return &ThresholdEvaluator{rules: rules, queries: queries, runs: runs, log: log}
}

// ValidateRules runs the configured checks for the environment and
// returns the accumulated human-readable report. A violated threshold or
// failed query returns a *Rejection; rate limiting propagates unchanged.
// When both checks are configured, both execute even if the first
// rejects, and the rejection texts are concatenated.
func (e *ThresholdEvaluator) ValidateRules(ctx context.Context, environment string, repository Repo, runID int64) (string, error) {
	rule := e.rules.GetRule(environment)
	if rule == nil {
		return "", Rejectf("No rule found for %s environment", environment)
	}
	if !rule.HasThresholds() {
		return "", nil
	}

	workflowCreatedAt, err := e.lookupRunCreatedAt(ctx, rule, repository, runID)
	if err != nil {
		return "", err
	}

	var report strings.Builder
	var rejections []string

	if rule.Issues != nil {
		if err := e.executeIssuesQuery(ctx, rule, repository, workflowCreatedAt, &report); err != nil {
			var rej *Rejection
			if !errors.As(err, &rej) {
				return "", err
			}
			rejections = append(rejections, rej.Message)
		}
	}
	if rule.Search != nil {
		if err := e.executeSearchQuery(ctx, rule, workflowCreatedAt, &report); err != nil {
			var rej *Rejection
			if !errors.As(err, &rej) {
				return "", err
			}
			rejections = append(rejections, rej.Message)
		}
	}

	if len(rejections) > 0 {
		return "", &Rejection{Message: strings.Join(rejections, "\n")}
	}
	return report.String(), nil
}

// lookupRunCreatedAt fetches the workflow run start instant, but only
// when a configured check will actually use it.
func (e *ThresholdEvaluator) lookupRunCreatedAt(ctx context.Context, rule *Rule, repository Repo, runID int64) (*time.Time, error) {
	needed := (rule.Issues != nil && rule.Issues.OnlyCreatedBeforeWorkflowCreated) ||
		(rule.Search != nil && rule.Search.OnlyCreatedBeforeWorkflowCreated)
	if !needed {
		return nil, nil
	}
	createdAt, err := e.runs.WorkflowRunCreatedAt(ctx, repository, runID)
	if err != nil {
		return nil, err
	}
	utc := createdAt.UTC()
	return &utc, nil
}

// issuesCountResult is the typed shape of the issues count query.
type issuesCountResult struct {
	Repository struct {
		Before struct {
			TotalCount int `json:"totalCount"`
		} `json:"before"`
		After struct {
			TotalCount int `json:"totalCount"`
		} `json:"after"`
	} `json:"repository"`
}

// searchCountResult is the typed shape of the search count query.
type searchCountResult struct {
	Search struct {
		IssueCount int `json:"issueCount"`
	} `json:"search"`
}

func (e *ThresholdEvaluator) executeIssuesQuery(ctx context.Context, rule *Rule, repository Repo, workflowCreatedAt *time.Time, report *strings.Builder) error {
	check := rule.Issues

	target := repository
	if check.Repo != nil {
		r, err := ParseRepo(*check.Repo)
		if err != nil {
			return err
		}
		target = r
	}

	query, variables := buildIssuesQuery(check, target, workflowCreatedAt)

	var result issuesCountResult
	if err := e.queries.Query(ctx, query, variables, &result); err != nil {
		return rejectOnQueryFailure("Issues", err)
	}

	count := result.Repository.Before.TotalCount
	if check.OnlyCreatedBeforeWorkflowCreated {
		count -= result.Repository.After.TotalCount
	}

	if count > check.MaxAllowed {
		if check.Message != nil {
			return &Rejection{Message: *check.Message}
		}
		return Rejectf("You have **%d** %s, this exceeds maximum number **%d** in configured query.",
			count, pluralize("issue", count), check.MaxAllowed)
	}

	writeReportLine(report, "Issues", count, check.MaxAllowed)
	return nil
}

func (e *ThresholdEvaluator) executeSearchQuery(ctx context.Context, rule *Rule, workflowCreatedAt *time.Time, report *strings.Builder) error {
	check := rule.Search
	query := BuildSearchQuery(check, workflowCreatedAt)

	var result searchCountResult
	err := e.queries.Query(ctx, searchCountQuery, map[string]any{
		"limit": 0,
		"query": query,
		"type":  "ISSUE",
	}, &result)
	if err != nil {
		return rejectOnQueryFailure("Search", err)
	}

	count := result.Search.IssueCount
	if count > check.MaxAllowed {
		if check.Message != nil {
			return &Rejection{Message: *check.Message}
		}
		return Rejectf("You have **%d** %s, this exceeds maximum number **%d** in configured [search](/search?q=%s)",
			count, pluralize("issue", count), check.MaxAllowed, url.QueryEscape(query))
	}

	writeReportLine(report, "Search", count, check.MaxAllowed)
	return nil
}

// buildIssuesQuery assembles the issues count query and its variables.
// Both counts come back in one round trip: the unrestricted total
// ("before") and the count of issues created after the reference instant
// ("after"). The milestone filter has three distinct encodings: absent
// from the rule means the filter is omitted from the query entirely,
// MilestoneNone means the filter is present with a null value (issues
// with no milestone), anything else passes through literally.
func buildIssuesQuery(check *IssuesCheck, target Repo, workflowCreatedAt *time.Time) (string, map[string]any) {
	milestoneVar := ""
	milestoneFilter := ""
	if check.Milestone != nil {
		milestoneVar = ", $milestone: String"
		milestoneFilter = ", milestoneNumber: $milestone"
	}

	query := fmt.Sprintf(`query($owner: String!, $repo: String!, $limit: Int, $states: [IssueState!] = OPEN, $assignee: String, $author: String, $mention: String, $labels: [String!], $since: DateTime%s) {
  repository(owner: $owner, name: $repo) {
    before: issues(first: $limit, states: $states, filterBy: { assignee: $assignee, createdBy: $author, mentioned: $mention, labels: $labels%s }) {
      totalCount
    }
    after: issues(first: $limit, states: $states, filterBy: { since: $since, assignee: $assignee, createdBy: $author, mentioned: $mention, labels: $labels%s }) {
      totalCount
    }
  }
}`, milestoneVar, milestoneFilter, milestoneFilter)

	variables := map[string]any{
		"owner":    target.Owner,
		"repo":     target.Name,
		"limit":    0,
		"states":   optionalString(check.State),
		"assignee": optionalString(check.Assignee),
		"author":   optionalString(check.Author),
		"mention":  optionalString(check.Mention),
		"labels":   check.Labels,
		"since":    optionalTime(workflowCreatedAt),
	}
	if check.Milestone != nil {
		if *check.Milestone == MilestoneNone {
			variables["milestone"] = nil
		} else {
			variables["milestone"] = *check.Milestone
		}
	}
	return query, variables
}

// BuildSearchQuery returns the free-text search string for a check,
// appending a strict created:< predicate when the check is restricted to
// issues created before the workflow run started.
func BuildSearchQuery(check *SearchCheck, workflowCreatedAt *time.Time) string {
	query := check.Query
	if check.OnlyCreatedBeforeWorkflowCreated && workflowCreatedAt != nil {
		query += " created:<" + workflowCreatedAt.UTC().Format(searchTimeFormat)
	}
	return query
}

// rejectOnQueryFailure converts a *QueryFailure into a Rejection listing
// every sub-error as a markdown bullet. Other errors (rate limiting
// included) pass through unchanged.
func rejectOnQueryFailure(queryType string, err error) error {
	var qf *QueryFailure
	if !errors.As(err, &qf) {
		return err
	}
	var bullets strings.Builder
	for _, msg := range qf.Errors {
		fmt.Fprintf(&bullets, "- %s\n", msg)
	}
	return Rejectf("Sorry, I have to reject this. %s query execution failed with %s:\n%s",
		queryType, pluralize("error", len(qf.Errors)), bullets.String())
}

func writeReportLine(report *strings.Builder, checkName string, count, maxAllowed int) {
	comparison := "below"
	if count == maxAllowed {
		comparison = "equal to"
	}
	fmt.Fprintf(report, "- **%s** found **%d** %s which is %s threshold of **%d**.\n",
		checkName, count, pluralize("issue", count), comparison, maxAllowed)
}

func pluralize(word string, n int) string {
	if n > 1 {
		return word + "s"
	}
	return word
}

func optionalString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
