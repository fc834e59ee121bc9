package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TimeOfDay is a wall-clock time with no date component, in UTC.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// Duration returns the offset from midnight.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t.Hour)*time.Hour +
		time.Duration(t.Minute)*time.Minute +
		time.Duration(t.Second)*time.Second
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// UnmarshalYAML parses "HH:MM" or "HH:MM:SS".
func (t *TimeOfDay) UnmarshalYAML(value *yaml.Node) error {
	parts := strings.Split(strings.TrimSpace(value.Value), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return fmt.Errorf("invalid time of day %q: %w", value.Value, ErrInvalidArgument)
	}
	fields := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid time of day %q: %w", value.Value, ErrInvalidArgument)
		}
		fields[i] = n
	}
	if fields[0] < 0 || fields[0] > 23 || fields[1] < 0 || fields[1] > 59 || fields[2] < 0 || fields[2] > 59 {
		return fmt.Errorf("invalid time of day %q: %w", value.Value, ErrInvalidArgument)
	}
	t.Hour, t.Minute, t.Second = fields[0], fields[1], fields[2]
	return nil
}

// Weekday is a day-of-week that unmarshals from its English name.
type Weekday time.Weekday

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func (d Weekday) String() string { return time.Weekday(d).String() }

func (d *Weekday) UnmarshalYAML(value *yaml.Node) error {
	day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(value.Value))]
	if !ok {
		return fmt.Errorf("invalid deploy day %q: %w", value.Value, ErrInvalidArgument)
	}
	*d = Weekday(day)
	return nil
}

// DeploySlot is a time-of-day interval during which deployment is
// permitted. Both bounds are optional until validated.
type DeploySlot struct {
	Start *TimeOfDay `yaml:"Start"`
	End   *TimeOfDay `yaml:"End"`
}

// Validate returns one error string per violated constraint.
func (s DeploySlot) Validate() []string {
	var errs []string
	if s.Start == nil {
		errs = append(errs, "Start is required")
	}
	if s.End == nil {
		errs = append(errs, "End is required")
	}
	if s.Start != nil && s.End != nil && s.Start.Duration() > s.End.Duration() {
		errs = append(errs, "End should be greater than Start")
	}
	return errs
}

// MilestoneNone is the milestone filter value selecting issues that have
// no milestone. It is encoded as an explicit null in the issues query,
// distinct from an absent filter (no constraint) and from "*" (any
// milestone), which pass through literally.
const MilestoneNone = "NONE"

// IssuesCheck is a threshold rule counted via the repository issues API.
// Optional string filters are pointers so that "absent" and "present but
// empty" validate differently.
type IssuesCheck struct {
	MaxAllowed int      `yaml:"MaxAllowed"`
	Repo       *string  `yaml:"Repo"`
	State      *string  `yaml:"State"`
	Assignee   *string  `yaml:"Assignee"`
	Author     *string  `yaml:"Author"`
	Mention    *string  `yaml:"Mention"`
	Milestone  *string  `yaml:"Milestone"`
	Labels     []string `yaml:"Labels"`
	Message    *string  `yaml:"Message"`

	// OnlyCreatedBeforeWorkflowCreated restricts the count to issues
	// created before the triggering workflow run started.
	OnlyCreatedBeforeWorkflowCreated bool `yaml:"OnlyCreatedBeforeWorkflowCreated"`
}

var repoPattern = regexp.MustCompile(`[a-zA-Z0-9]+(-[a-zA-Z0-9]+)*\/[a-zA-Z0-9-_]+$`)

// Validate returns one error string per violated constraint.
func (c IssuesCheck) Validate() []string {
	var errs []string
	if c.MaxAllowed < 0 {
		errs = append(errs, "MaxAllowed must be equal or greater than 0")
	}
	if c.Repo != nil {
		if strings.TrimSpace(*c.Repo) == "" {
			errs = append(errs, "If Repo is specified it cannot be empty")
		} else if !repoPattern.MatchString(*c.Repo) {
			errs = append(errs, "Repo must be in format owner/repository")
		}
	}
	for _, f := range []struct {
		name  string
		value *string
	}{
		{"State", c.State},
		{"Assignee", c.Assignee},
		{"Author", c.Author},
		{"Mention", c.Mention},
		{"Milestone", c.Milestone},
	} {
		if f.value != nil && strings.TrimSpace(*f.value) == "" {
			errs = append(errs, fmt.Sprintf("If %s is specified it cannot be empty", f.name))
		}
	}
	if c.Message != nil && strings.TrimSpace(*c.Message) == "" {
		errs = append(errs, "When Message is specified it cannot be empty")
	}
	return errs
}

// SearchCheck is a threshold rule counted via a free-text issue search.
type SearchCheck struct {
	MaxAllowed int     `yaml:"MaxAllowed"`
	Query      string  `yaml:"Query"`
	Message    *string `yaml:"Message"`

	OnlyCreatedBeforeWorkflowCreated bool `yaml:"OnlyCreatedBeforeWorkflowCreated"`
}

// Validate returns one error string per violated constraint.
func (c SearchCheck) Validate() []string {
	var errs []string
	if c.MaxAllowed < 0 {
		errs = append(errs, "MaxAllowed must be equal or greater than 0")
	}
	if strings.TrimSpace(c.Query) == "" {
		errs = append(errs, "Query must be specified")
	}
	if c.Message != nil && strings.TrimSpace(*c.Message) == "" {
		errs = append(errs, "When Message is specified it cannot be empty")
	}
	return errs
}

// Rule is one environment-scoped gate rule. An empty Environment makes it
// the default rule, matched only when no specific rule matches.
type Rule struct {
	Environment string       `yaml:"Environment"`
	WaitMinutes int          `yaml:"WaitMinutes"`
	DeploySlots []DeploySlot `yaml:"DeploySlots"`
	Issues      *IssuesCheck `yaml:"Issues"`
	Search      *SearchCheck `yaml:"Search"`
}

// HasThresholds reports whether the rule configures any issue or search
// count check.
func (r *Rule) HasThresholds() bool {
	return r.Issues != nil || r.Search != nil
}

// SortedSlots returns the rule's slots that have a defined start, ordered
// by ascending start time. Config authors are not required to pre-sort.
func (r *Rule) SortedSlots() []DeploySlot {
	slots := make([]DeploySlot, 0, len(r.DeploySlots))
	for _, s := range r.DeploySlots {
		if s.Start != nil {
			slots = append(slots, s)
		}
	}
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Start.Duration() < slots[j].Start.Duration()
	})
	return slots
}

// RuleSet is the full gate configuration for one repository. It is built
// once per processing invocation and never mutated afterwards.
type RuleSet struct {
	Version    int       `yaml:"Version"`
	Lockout    bool      `yaml:"Lockout"`
	DeployDays []Weekday `yaml:"DeployDays"`
	Rules      []Rule    `yaml:"Rules"`

	// deployDaysSpecified records whether the config file set DeployDays
	// at all, so an explicitly empty list can be flagged during
	// validation while an absent one gets the Monday-Friday default.
	deployDaysSpecified bool
}

// DefaultDeployDays is the allowed-days set applied when the config file
// does not specify one.
var DefaultDeployDays = []Weekday{
	Weekday(time.Monday),
	Weekday(time.Tuesday),
	Weekday(time.Wednesday),
	Weekday(time.Thursday),
	Weekday(time.Friday),
}

// ParseRuleSet deserializes a YAML rule file. Parsing is syntactic only;
// call Validate for semantic checks.
func ParseRuleSet(raw []byte) (*RuleSet, error) {
	var doc struct {
		Version    int        `yaml:"Version"`
		Lockout    bool       `yaml:"Lockout"`
		DeployDays *[]Weekday `yaml:"DeployDays"`
		Rules      []Rule     `yaml:"Rules"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse rule file: %w", err)
	}
	rs := &RuleSet{
		Version: doc.Version,
		Lockout: doc.Lockout,
		Rules:   doc.Rules,
	}
	if doc.DeployDays != nil {
		rs.DeployDays = *doc.DeployDays
		rs.deployDaysSpecified = true
	} else {
		rs.DeployDays = DefaultDeployDays
	}
	return rs, nil
}

// GetRule selects the rule for an environment: a case-insensitive exact
// match wins, otherwise the rule with an empty environment acts as the
// fallback. Returns nil when neither exists.
func (rs *RuleSet) GetRule(environment string) *Rule {
	for i := range rs.Rules {
		if strings.EqualFold(rs.Rules[i].Environment, environment) {
			return &rs.Rules[i]
		}
	}
	for i := range rs.Rules {
		if rs.Rules[i].Environment == "" {
			return &rs.Rules[i]
		}
	}
	return nil
}

// Validate returns all configuration errors, empty when the rule set is
// usable.
func (rs *RuleSet) Validate() []string {
	var errs []string

	if rs.deployDaysSpecified && len(rs.DeployDays) == 0 {
		errs = append(errs, "If DeployDays is defined it cannot be empty")
	}

	if len(rs.Rules) == 0 {
		errs = append(errs, "Rules is mandatory")
		return errs
	}

	for i := range rs.Rules {
		rule := &rs.Rules[i]
		if len(rule.DeploySlots) == 0 && !rule.HasThresholds() {
			errs = append(errs, fmt.Sprintf(
				"Rule for environment %s has no DeploySlots, Issues or Search element",
				environmentLabelOr(rule.Environment, "ANY")))
			continue
		}
		for _, slot := range rule.DeploySlots {
			errs = append(errs, slot.Validate()...)
		}
		if rule.Issues != nil {
			errs = append(errs, rule.Issues.Validate()...)
		}
		if rule.Search != nil {
			errs = append(errs, rule.Search.Validate()...)
		}
	}
	return errs
}

// MarkdownErrorList renders validation errors as a markdown bullet list.
func MarkdownErrorList(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func environmentLabelOr(environment, fallback string) string {
	if environment == "" {
		return fallback
	}
	return environment
}
