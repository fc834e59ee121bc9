package domain

import (
	"time"
)

// WindowEvaluator answers deploy-window questions against a loaded rule
// set. All instants are treated as UTC; no conversion is performed.
type WindowEvaluator struct {
	rules *RuleSet
}

// NewWindowEvaluator builds an evaluator over an immutable rule set.
func NewWindowEvaluator(rules *RuleSet) *WindowEvaluator {
	return &WindowEvaluator{rules: rules}
}

// InLockout reports whether the global lockout flag is set. When it is,
// every deployment is rejected regardless of rules.
func (e *WindowEvaluator) InLockout() bool {
	return e.rules.Lockout
}

// IsWithinWindow reports whether now falls inside a deploy slot of the
// matched rule. Fails with a Rejection when no rule (specific or default)
// matches the environment. Days outside the allowed deploy days are never
// within a window. Slots missing a start are skipped; membership is
// inclusive of both bounds.
func (e *WindowEvaluator) IsWithinWindow(now time.Time, environment string) (bool, error) {
	rule := e.rules.GetRule(environment)
	if rule == nil {
		return false, Rejectf("No rule found for %s environment", environmentLabelOr(environment, "Any Environment"))
	}
	if !e.isDeployDay(now) {
		return false, nil
	}

	current := timeOfDayDuration(now)
	for _, slot := range rule.SortedSlots() {
		if slot.End == nil {
			continue
		}
		if current >= slot.Start.Duration() && current <= slot.End.Duration() {
			return true, nil
		}
	}
	return false, nil
}

// NextWindowStart computes the earliest instant at or after now that lies
// within a deploy window. An instant already inside a window is returned
// unchanged. Fails with a Rejection when no rule matches or when no slot
// in the matched rule has a defined start.
func (e *WindowEvaluator) NextWindowStart(now time.Time, environment string) (time.Time, error) {
	rule := e.rules.GetRule(environment)
	if rule == nil {
		return time.Time{}, Rejectf("No rule found for %s environment", environmentLabelOr(environment, "Any Environment"))
	}

	slots := rule.SortedSlots()
	if len(slots) == 0 {
		return time.Time{}, Rejectf("No deploy slot with a valid start time found for %s environment",
			environmentLabelOr(environment, "Any Environment"))
	}
	if len(e.rules.DeployDays) == 0 {
		return time.Time{}, Rejectf("No reachable deploy window found for %s environment",
			environmentLabelOr(environment, "Any Environment"))
	}
	firstStart := *slots[0].Start

	// Walking day by day visits at most every slot of every weekday
	// before either landing in a window or cycling, so anything past
	// that bound means no reachable window exists (e.g. slots with a
	// start but no usable end).
	maxSteps := (len(slots) + 1) * 8

	next := now
	for steps := 0; ; steps++ {
		in, err := e.IsWithinWindow(next, environment)
		if err != nil {
			return time.Time{}, err
		}
		if in {
			return next, nil
		}
		if steps > maxSteps {
			return time.Time{}, Rejectf("No reachable deploy window found for %s environment",
				environmentLabelOr(environment, "Any Environment"))
		}

		if !e.isDeployDay(next) {
			next = atTimeOfDay(next, firstStart).AddDate(0, 0, 1)
			continue
		}

		current := timeOfDayDuration(next)
		var upcoming *TimeOfDay
		for _, slot := range slots {
			if slot.Start.Duration() > current {
				s := *slot.Start
				upcoming = &s
				break
			}
		}
		if upcoming != nil {
			next = atTimeOfDay(next, *upcoming)
		} else {
			// Past all of today's slots; first slot tomorrow.
			next = atTimeOfDay(next, firstStart).AddDate(0, 0, 1)
		}
	}
}

func (e *WindowEvaluator) isDeployDay(t time.Time) bool {
	for _, d := range e.rules.DeployDays {
		if time.Weekday(d) == t.Weekday() {
			return true
		}
	}
	return false
}

func timeOfDayDuration(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

func atTimeOfDay(t time.Time, tod TimeOfDay) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), tod.Hour, tod.Minute, tod.Second, 0, time.UTC)
}
