package domain

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Repo identifies a GitHub repository by owner and name.
type Repo struct {
	Owner string
	Name  string
}

// ParseRepo splits an "owner/name" full name.
func ParseRepo(fullName string) (Repo, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return Repo{}, fmt.Errorf("repository full name %q: %w", fullName, ErrInvalidArgument)
	}
	return Repo{Owner: owner, Name: name}, nil
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// DeploymentProtectionRuleEvent is the subset of the
// deployment_protection_rule webhook payload the pipeline needs.
// Signature verification and event-type dispatch happen upstream.
type DeploymentProtectionRuleEvent struct {
	Action                string       `json:"action"`
	Environment           string       `json:"environment"`
	Event                 string       `json:"event"`
	DeploymentCallbackURL string       `json:"deployment_callback_url"`
	Deployment            Deployment   `json:"deployment"`
	Repository            Repository   `json:"repository"`
	Installation          Installation `json:"installation"`
}

// Deployment carries the deployment fields used for decisions and logs.
type Deployment struct {
	ID          int64     `json:"id"`
	SHA         string    `json:"sha"`
	Ref         string    `json:"ref"`
	Environment string    `json:"environment"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository identifies the repository the deployment targets.
type Repository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    Owner  `json:"owner"`
}

// Owner is the repository owner account.
type Owner struct {
	Login string `json:"login"`
}

// Installation identifies the GitHub App installation that delivered the
// event.
type Installation struct {
	ID int64 `json:"id"`
}

// Repo returns the triggering repository.
func (e *DeploymentProtectionRuleEvent) Repo() Repo {
	if e.Repository.Owner.Login != "" && e.Repository.Name != "" {
		return Repo{Owner: e.Repository.Owner.Login, Name: e.Repository.Name}
	}
	r, _ := ParseRepo(e.Repository.FullName)
	return r
}

// RunID extracts the workflow run id from the deployment callback URL.
// The payload does not carry the run id directly; the callback URL has
// the shape
// https://api.github.com/repos/{owner}/{repo}/actions/runs/{id}/deployment_protection_rule.
func (e *DeploymentProtectionRuleEvent) RunID() (int64, error) {
	if strings.TrimSpace(e.DeploymentCallbackURL) == "" {
		return 0, fmt.Errorf("deployment callback url is empty: %w", ErrInvalidArgument)
	}
	u, err := url.Parse(e.DeploymentCallbackURL)
	if err != nil {
		return 0, fmt.Errorf("parse deployment callback url: %w", err)
	}
	segments := strings.Split(u.Path, "/")
	if len(segments) < 7 {
		return 0, fmt.Errorf("deployment callback url %q has no run id: %w", e.DeploymentCallbackURL, ErrInvalidArgument)
	}
	id, err := strconv.ParseInt(segments[6], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("deployment callback url %q has no run id: %w", e.DeploymentCallbackURL, ErrInvalidArgument)
	}
	return id, nil
}
