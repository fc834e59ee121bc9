package domain

import (
	"slices"
	"testing"
	"time"
)

const sampleRuleFile = `
Version: 1
Lockout: false
DeployDays: [Monday, Wednesday]
Rules:
  - Environment: production
    WaitMinutes: 10
    DeploySlots:
      - Start: "09:00"
        End: "17:00:30"
    Issues:
      MaxAllowed: 2
      State: OPEN
      Labels: [bug, incident]
      OnlyCreatedBeforeWorkflowCreated: true
  - Environment: ""
    Search:
      MaxAllowed: 0
      Query: "is:open label:blocker"
`

func TestParseRuleSet(t *testing.T) {
	rs, err := ParseRuleSet([]byte(sampleRuleFile))
	if err != nil {
		t.Fatalf("ParseRuleSet: %v", err)
	}

	if rs.Version != 1 || rs.Lockout {
		t.Errorf("header = %d %v", rs.Version, rs.Lockout)
	}
	if want := weekdays(time.Monday, time.Wednesday); !slices.Equal(rs.DeployDays, want) {
		t.Errorf("DeployDays = %v, want %v", rs.DeployDays, want)
	}
	if len(rs.Rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rs.Rules))
	}

	prod := rs.Rules[0]
	if prod.Environment != "production" || prod.WaitMinutes != 10 {
		t.Errorf("rule header = %q %d", prod.Environment, prod.WaitMinutes)
	}
	if len(prod.DeploySlots) != 1 {
		t.Fatalf("slots = %d", len(prod.DeploySlots))
	}
	slot := prod.DeploySlots[0]
	if *slot.Start != (TimeOfDay{Hour: 9}) {
		t.Errorf("start = %v", *slot.Start)
	}
	if *slot.End != (TimeOfDay{Hour: 17, Minute: 0, Second: 30}) {
		t.Errorf("end = %v", *slot.End)
	}
	if prod.Issues == nil || prod.Issues.MaxAllowed != 2 || !prod.Issues.OnlyCreatedBeforeWorkflowCreated {
		t.Errorf("issues check = %+v", prod.Issues)
	}
	if got := *prod.Issues.State; got != "OPEN" {
		t.Errorf("state = %q", got)
	}
	if prod.Issues.Assignee != nil {
		t.Error("absent filter should stay nil")
	}
}

func TestParseRuleSetDeployDaysDefault(t *testing.T) {
	rs, err := ParseRuleSet([]byte("Rules: []"))
	if err != nil {
		t.Fatalf("ParseRuleSet: %v", err)
	}
	if !slices.Equal(rs.DeployDays, DefaultDeployDays) {
		t.Fatalf("DeployDays = %v, want the Monday-Friday default", rs.DeployDays)
	}
}

func TestParseRuleSetDeployDaysExplicitlyEmpty(t *testing.T) {
	rs, err := ParseRuleSet([]byte("DeployDays: []\nRules:\n  - Environment: production\n    Search: {MaxAllowed: 0, Query: q}"))
	if err != nil {
		t.Fatalf("ParseRuleSet: %v", err)
	}
	if len(rs.DeployDays) != 0 {
		t.Fatalf("DeployDays = %v, want empty", rs.DeployDays)
	}
	errs := rs.Validate()
	if !slices.Contains(errs, "If DeployDays is defined it cannot be empty") {
		t.Fatalf("validation errors = %v", errs)
	}
}

func TestParseRuleSetInvalidYAML(t *testing.T) {
	if _, err := ParseRuleSet([]byte("Rules: [}")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseRuleSetInvalidTime(t *testing.T) {
	for _, raw := range []string{"25:00", "09:61", "nine"} {
		doc := "Rules:\n  - DeploySlots:\n      - Start: \"" + raw + "\"\n        End: \"17:00\""
		if _, err := ParseRuleSet([]byte(doc)); err == nil {
			t.Errorf("time %q should fail to parse", raw)
		}
	}
}

func TestParseRuleSetInvalidWeekday(t *testing.T) {
	if _, err := ParseRuleSet([]byte("DeployDays: [Funday]\nRules: []")); err == nil {
		t.Fatal("expected weekday parse error")
	}
}

func TestGetRule(t *testing.T) {
	rs, err := ParseRuleSet([]byte(sampleRuleFile))
	if err != nil {
		t.Fatalf("ParseRuleSet: %v", err)
	}

	if got := rs.GetRule("PRODUCTION"); got == nil || got.Environment != "production" {
		t.Errorf("case-insensitive match failed: %+v", got)
	}
	if got := rs.GetRule("staging"); got == nil || got.Environment != "" {
		t.Errorf("fallback match failed: %+v", got)
	}

	noFallback := &RuleSet{Rules: []Rule{{Environment: "production"}}}
	if got := noFallback.GetRule("staging"); got != nil {
		t.Errorf("GetRule = %+v, want nil", got)
	}
}

func TestValidateRequiresRules(t *testing.T) {
	rs := &RuleSet{}
	errs := rs.Validate()
	if len(errs) != 1 || errs[0] != "Rules is mandatory" {
		t.Fatalf("errors = %v", errs)
	}
}

func TestValidateEmptyRule(t *testing.T) {
	rs := &RuleSet{Rules: []Rule{{Environment: "production"}, {}}}
	errs := rs.Validate()

	want := []string{
		"Rule for environment production has no DeploySlots, Issues or Search element",
		"Rule for environment ANY has no DeploySlots, Issues or Search element",
	}
	if !slices.Equal(errs, want) {
		t.Fatalf("errors = %v, want %v", errs, want)
	}
}

func TestValidateDeploySlot(t *testing.T) {
	cases := []struct {
		name string
		slot DeploySlot
		want []string
	}{
		{"missing both", DeploySlot{}, []string{"Start is required", "End is required"}},
		{"missing end", DeploySlot{Start: tod(9, 0, 0)}, []string{"End is required"}},
		{"inverted", DeploySlot{Start: tod(17, 0, 0), End: tod(9, 0, 0)}, []string{"End should be greater than Start"}},
		{"valid", DeploySlot{Start: tod(9, 0, 0), End: tod(17, 0, 0)}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.slot.Validate(); !slices.Equal(got, tc.want) {
				t.Fatalf("Validate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidateIssuesCheck(t *testing.T) {
	empty := ""
	badRepo := "not a repo"
	goodRepo := "octo/app"

	cases := []struct {
		name  string
		check IssuesCheck
		want  []string
	}{
		{"negative max", IssuesCheck{MaxAllowed: -1}, []string{"MaxAllowed must be equal or greater than 0"}},
		{"empty repo", IssuesCheck{Repo: &empty}, []string{"If Repo is specified it cannot be empty"}},
		{"malformed repo", IssuesCheck{Repo: &badRepo}, []string{"Repo must be in format owner/repository"}},
		{"good repo", IssuesCheck{Repo: &goodRepo}, nil},
		{"empty state", IssuesCheck{State: &empty}, []string{"If State is specified it cannot be empty"}},
		{"empty milestone", IssuesCheck{Milestone: &empty}, []string{"If Milestone is specified it cannot be empty"}},
		{"empty message", IssuesCheck{Message: &empty}, []string{"When Message is specified it cannot be empty"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.check.Validate(); !slices.Equal(got, tc.want) {
				t.Fatalf("Validate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidateSearchCheck(t *testing.T) {
	empty := ""
	errs := SearchCheck{MaxAllowed: -1, Message: &empty}.Validate()
	want := []string{
		"MaxAllowed must be equal or greater than 0",
		"Query must be specified",
		"When Message is specified it cannot be empty",
	}
	if !slices.Equal(errs, want) {
		t.Fatalf("errors = %v, want %v", errs, want)
	}

	if errs := (SearchCheck{MaxAllowed: 0, Query: "is:open"}).Validate(); len(errs) != 0 {
		t.Fatalf("valid check reported %v", errs)
	}
}

func TestSortedSlots(t *testing.T) {
	rule := Rule{DeploySlots: []DeploySlot{
		{Start: tod(13, 0, 0), End: tod(17, 0, 0)},
		{End: tod(23, 0, 0)},
		{Start: tod(9, 0, 0), End: tod(12, 0, 0)},
	}}
	slots := rule.SortedSlots()
	if len(slots) != 2 {
		t.Fatalf("slots = %d, want 2 (startless slot dropped)", len(slots))
	}
	if slots[0].Start.Hour != 9 || slots[1].Start.Hour != 13 {
		t.Fatalf("order = %v %v", *slots[0].Start, *slots[1].Start)
	}
}

func TestMarkdownErrorList(t *testing.T) {
	if got := MarkdownErrorList(nil); got != "" {
		t.Fatalf("empty list rendered %q", got)
	}
	got := MarkdownErrorList([]string{"first", "second"})
	if got != "- first\n- second\n\n" {
		t.Fatalf("rendered %q", got)
	}
}
