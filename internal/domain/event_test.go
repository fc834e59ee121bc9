package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseRepo(t *testing.T) {
	r, err := ParseRepo("octo/app")
	if err != nil {
		t.Fatalf("ParseRepo: %v", err)
	}
	if r.Owner != "octo" || r.Name != "app" {
		t.Fatalf("repo = %+v", r)
	}
	if r.String() != "octo/app" {
		t.Fatalf("String() = %q", r.String())
	}

	for _, bad := range []string{"", "octo", "/app", "octo/"} {
		if _, err := ParseRepo(bad); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("ParseRepo(%q) = %v, want invalid argument", bad, err)
		}
	}
}

func TestEventRunID(t *testing.T) {
	e := DeploymentProtectionRuleEvent{
		DeploymentCallbackURL: "https://api.github.com/repos/octo/app/actions/runs/1234567/deployment_protection_rule",
	}
	id, err := e.RunID()
	if err != nil {
		t.Fatalf("RunID: %v", err)
	}
	if id != 1234567 {
		t.Fatalf("id = %d", id)
	}
}

func TestEventRunIDInvalid(t *testing.T) {
	cases := []string{
		"",
		"https://api.github.com/repos/octo/app",
		"https://api.github.com/repos/octo/app/actions/runs/not-a-number/deployment_protection_rule",
	}
	for _, u := range cases {
		e := DeploymentProtectionRuleEvent{DeploymentCallbackURL: u}
		if _, err := e.RunID(); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("RunID(%q) = %v, want invalid argument", u, err)
		}
	}
}

func TestEventRepoFallsBackToFullName(t *testing.T) {
	var e DeploymentProtectionRuleEvent
	if err := json.Unmarshal([]byte(`{"repository": {"full_name": "octo/app"}}`), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := e.Repo(); got != (Repo{Owner: "octo", Name: "app"}) {
		t.Fatalf("repo = %+v", got)
	}
}

func TestEnvelopeCarriesOutcomeThroughJSON(t *testing.T) {
	env := NewEnvelope("d-1", 6, DeploymentProtectionRuleEvent{Environment: "production"})
	env.Outcome = &Outcome{State: OutcomeApproved, Comment: "ok"}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Envelope
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Outcome == nil || got.Outcome.State != OutcomeApproved || got.Outcome.Comment != "ok" {
		t.Fatalf("outcome = %+v", got.Outcome)
	}
	if got.TryNumber != 1 || got.RemainingTries != 6 {
		t.Fatalf("budget = %d/%d", got.TryNumber, got.RemainingTries)
	}
}
