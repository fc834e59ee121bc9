// Package application runs the per-message gate pipeline: rule file load,
// rule evaluation, outcome application, and the requeue protocol that
// makes the whole thing retry-safe under rate limiting.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/actiongates/actiongates-server/internal/domain"
)

const (
	missingRuleFileMessage = "Sorry I'm rejecting this. I can't proceed, couldn't retrieve the config file %s. Error: %v"
	invalidRuleFileMessage = "Sorry I'm rejecting this. The %s file doesn't seem to be valid. Check if the YAML file is valid and it respect the configuration format. Error: %v"
	lockoutMessage         = "You can't deploy. We are in Lockout mode."
	delayApprovalMessage   = "Deploy requested outside deploy hours. Will be automatically approved on next deploy slot on **%s UTC**."

	delayApprovalTimeFormat = "Monday, 02 January 2006 15:04"
)

// Processor executes one pipeline invocation per dequeued envelope. All
// collaborators are explicit; the processor holds no state across
// invocations.
type Processor struct {
	RuleFiles domain.RuleFileSource
	Queries   domain.QueryClient
	Runs      domain.RunLookup
	Decisions domain.DecisionAPI
	Queue     domain.Queue

	QueueName    string
	RuleFilePath string

	// Now is the clock, injectable for tests. Defaults to time.Now.
	Now func() time.Time

	Log *slog.Logger
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// Process handles one envelope delivery end to end. The returned error is
// infrastructural only (a requeue that could not be performed); every
// evaluation failure is converted into a decision or a park before it
// reaches the caller.
func (p *Processor) Process(ctx context.Context, envelope domain.Envelope) error {
	m := &envelope

	p.Log.Info("processing gate event",
		"delivery_id", m.DeliveryID,
		"environment", m.Event.Environment,
		"try", m.TryNumber,
		"has_outcome", m.Outcome != nil)

	err := p.run(ctx, m)

	// Rejections raised inside run are applied there; a rate limit
	// surfacing here came from the decision-application call itself.
	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		return p.park(ctx, "outer", m, rl)
	}
	if err != nil {
		return err
	}

	p.Log.Info("finished gate event",
		"delivery_id", m.DeliveryID,
		"environment", m.Event.Environment,
		"try", m.TryNumber,
		"outcome", outcomeLabel(m.Outcome))
	return nil
}

// run converts every evaluation error into its terminal effect: rate
// limits park the envelope, rejections apply a reject decision, fatals
// drop the message, and anything unexpected is rejected with its raw
// message. Only errors from the decision application itself escape.
func (p *Processor) run(ctx context.Context, m *domain.Envelope) error {
	err := p.attempt(ctx, m)
	if err == nil {
		return nil
	}

	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		return p.park(ctx, "inner", m, rl)
	}
	var rej *domain.Rejection
	if errors.As(err, &rej) {
		p.Log.Info("rule evaluation rejected", "delivery_id", m.DeliveryID)
		return p.applyReject(ctx, m, rej.Message)
	}
	var fatal *domain.Fatal
	if errors.As(err, &fatal) {
		p.Log.Error("fatal error, giving up on message", "delivery_id", m.DeliveryID, "error", fatal.Error())
		return nil
	}

	// Fail-safe default: when in doubt, reject rather than silently
	// approve or loop.
	p.Log.Error("unexpected processing error", "delivery_id", m.DeliveryID, "error", err.Error())
	return p.applyReject(ctx, m, err.Error())
}

// attempt is the happy-path pipeline: outcome replay, rule file load,
// one-shot delay, evaluation.
func (p *Processor) attempt(ctx context.Context, m *domain.Envelope) error {
	if m.Outcome != nil {
		return p.applyOutcome(ctx, m, m.Outcome)
	}

	rules, err := p.loadRuleSet(ctx, m)
	if err != nil {
		return err
	}

	delayed, err := p.delayIfConfigured(ctx, m, rules)
	if err != nil || delayed {
		return err
	}

	return p.evaluate(ctx, m, rules)
}

// loadRuleSet fetches, parses, and validates the repository's rule file.
// Any failure short of rate limiting is a terminal Rejection with a
// comment the deployment author can act on.
func (p *Processor) loadRuleSet(ctx context.Context, m *domain.Envelope) (*domain.RuleSet, error) {
	repo := m.Event.Repo()
	p.Log.Info("loading rule file", "path", p.RuleFilePath, "repo", repo.String())

	content, htmlURL, err := p.RuleFiles.FetchRuleFile(ctx, repo, p.RuleFilePath)
	if err != nil {
		var rl *domain.RateLimitError
		var fatal *domain.Fatal
		if errors.As(err, &rl) || errors.As(err, &fatal) {
			return nil, err
		}
		p.Log.Error("rule file fetch failed", "path", p.RuleFilePath, "error", err.Error())
		return nil, domain.Rejectf(missingRuleFileMessage, p.RuleFilePath, err)
	}

	rules, err := domain.ParseRuleSet(content)
	if err != nil {
		p.Log.Error("rule file parse failed", "path", p.RuleFilePath, "error", err.Error())
		return nil, domain.Rejectf(invalidRuleFileMessage, p.RuleFilePath, err)
	}

	if validationErrors := rules.Validate(); len(validationErrors) > 0 {
		return nil, domain.Rejectf("Config file [%s](%s) is not valid:\n%s",
			p.RuleFilePath, htmlURL, domain.MarkdownErrorList(validationErrors))
	}
	return rules, nil
}

// delayIfConfigured requeues the envelope once when the matched rule asks
// for an evaluation delay. Returns true when processing was deferred.
func (p *Processor) delayIfConfigured(ctx context.Context, m *domain.Envelope, rules *domain.RuleSet) (bool, error) {
	if m.Delayed {
		return false, nil
	}
	rule := rules.GetRule(m.Event.Environment)
	if rule == nil || rule.WaitMinutes <= 0 {
		return false, nil
	}

	m.Delayed = true
	at := p.now().Add(time.Duration(rule.WaitMinutes) * time.Minute)
	p.Log.Info("delaying evaluation", "delivery_id", m.DeliveryID, "wait_minutes", rule.WaitMinutes)
	return true, p.requeue(ctx, m, at)
}

// evaluate runs the rule engine and decides the outcome: lockout rejects,
// thresholds reject, otherwise the deploy window decides between an
// immediate approval and a scheduled one.
func (p *Processor) evaluate(ctx context.Context, m *domain.Envelope, rules *domain.RuleSet) error {
	windows := domain.NewWindowEvaluator(rules)
	if windows.InLockout() {
		return &domain.Rejection{Message: lockoutMessage}
	}

	runID, err := m.Event.RunID()
	if err != nil {
		return err
	}

	thresholds := domain.NewThresholdEvaluator(rules, p.Queries, p.Runs, p.Log)
	report, err := thresholds.ValidateRules(ctx, m.Event.Environment, m.Event.Repo(), runID)
	if err != nil {
		return err
	}

	// A thresholds-only rule has no window to wait for: passing its
	// checks approves immediately.
	if rule := rules.GetRule(m.Event.Environment); rule != nil && len(rule.DeploySlots) == 0 {
		return p.applyApprove(ctx, m, report, nil)
	}

	now := p.now()
	within, err := windows.IsWithinWindow(now, m.Event.Environment)
	if err != nil {
		return err
	}
	if within {
		return p.applyApprove(ctx, m, report, nil)
	}

	next, err := windows.NextWindowStart(now, m.Event.Environment)
	if err != nil {
		return err
	}
	if err := p.applyApprove(ctx, m, report, &next); err != nil {
		return err
	}
	return p.comment(ctx, m, fmt.Sprintf(delayApprovalMessage, next.UTC().Format(delayApprovalTimeFormat)))
}

// applyOutcome replays a decision computed by a previous attempt. The
// schedule, if any, was honored by the queue's delivery delay; arrival
// here means it is time to apply.
func (p *Processor) applyOutcome(ctx context.Context, m *domain.Envelope, outcome *domain.Outcome) error {
	p.Log.Info("replaying previous outcome",
		"delivery_id", m.DeliveryID,
		"state", string(outcome.State),
		"scheduled", outcome.Schedule != nil)

	switch outcome.State {
	case domain.OutcomeApproved:
		return p.deliverDecision(ctx, m, p.Decisions.Approve, outcome.Comment)
	case domain.OutcomeRejected:
		return p.deliverDecision(ctx, m, p.Decisions.Reject, outcome.Comment)
	default:
		return &domain.Fatal{Message: fmt.Sprintf("unknown outcome state %q", outcome.State)}
	}
}

// applyApprove records an approved outcome and either applies it now or,
// when scheduled for the future, requeues the envelope carrying the
// outcome so the next delivery applies it without re-evaluating.
func (p *Processor) applyApprove(ctx context.Context, m *domain.Envelope, comment string, schedule *time.Time) error {
	m.Outcome = &domain.Outcome{State: domain.OutcomeApproved, Comment: comment, Schedule: schedule}
	if schedule != nil {
		p.Log.Info("approval scheduled", "delivery_id", m.DeliveryID, "at", schedule.UTC())
		return p.requeue(ctx, m, *schedule)
	}
	return p.deliverDecision(ctx, m, p.Decisions.Approve, comment)
}

// applyReject records a rejected outcome and applies it immediately;
// rejection has no delay concept.
func (p *Processor) applyReject(ctx context.Context, m *domain.Envelope, comment string) error {
	m.Outcome = &domain.Outcome{State: domain.OutcomeRejected, Comment: comment}
	return p.deliverDecision(ctx, m, p.Decisions.Reject, comment)
}

// deliverDecision performs the external approve/reject call. Rate limits
// propagate so the controller can park the envelope; any other failure is
// logged and swallowed, the side effect is best-effort.
func (p *Processor) deliverDecision(ctx context.Context, m *domain.Envelope, call func(ctx context.Context, callbackURL, environment, comment string) error, comment string) error {
	err := call(ctx, m.Event.DeploymentCallbackURL, m.Event.Environment, comment)
	if err == nil {
		return nil
	}
	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		return err
	}
	p.Log.Error("decision delivery failed, ignored",
		"delivery_id", m.DeliveryID,
		"callback_url", m.Event.DeploymentCallbackURL,
		"error", err.Error())
	return nil
}

// comment posts a progress comment. Same error policy as decisions.
func (p *Processor) comment(ctx context.Context, m *domain.Envelope, text string) error {
	err := p.Decisions.Comment(ctx, m.Event.DeploymentCallbackURL, m.Event.Environment, text)
	if err == nil {
		return nil
	}
	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		return err
	}
	p.Log.Error("comment delivery failed, ignored", "delivery_id", m.DeliveryID, "error", err.Error())
	return nil
}

// park handles a rate-limit signal: the attempt is not failed, the
// envelope is requeued at the limit's reset instant and the error is
// swallowed.
func (p *Processor) park(ctx context.Context, boundary string, m *domain.Envelope, rl *domain.RateLimitError) error {
	retryAt := resetTime(rl, p.now())
	p.Log.Info("rate limited, parking envelope",
		"boundary", boundary,
		"kind", string(rl.Kind),
		"resource", rl.Resource(),
		"retry_at", retryAt)
	return p.requeue(ctx, m, retryAt)
}

// requeue re-enqueues the envelope for a later attempt, carrying any
// decided outcome forward verbatim. The try counter increments even when
// the budget is exhausted and the message is dropped.
func (p *Processor) requeue(ctx context.Context, m *domain.Envelope, at time.Time) error {
	m.TryNumber++
	if m.RemainingTries == 1 {
		p.Log.Warn("retry budget exhausted, dropping message", "delivery_id", m.DeliveryID, "try", m.TryNumber)
		return nil
	}
	m.RemainingTries--

	p.Log.Info("requeueing envelope", "delivery_id", m.DeliveryID, "at", at.UTC(), "remaining_tries", m.RemainingTries)
	if err := p.Queue.Enqueue(ctx, p.QueueName, *m, at); err != nil {
		return fmt.Errorf("requeue envelope %s: %w", m.DeliveryID, err)
	}
	return nil
}

func outcomeLabel(o *domain.Outcome) string {
	if o == nil {
		return "none"
	}
	return string(o.State)
}
