// Package executor resolves a command's target across the page's documents
// and candidate selectors and performs the action on the first match.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"browser-automation/internal/config"
	"browser-automation/internal/entity"
	"browser-automation/internal/metrics"
	"browser-automation/internal/ports"
	"browser-automation/internal/selector"
	"browser-automation/pkg/apperr"
	"browser-automation/pkg/logg"
	"browser-automation/pkg/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	executorName   = "CommandExecutor"
	executorTracer = "automation.executor"
)

// Policy holds every timeout the executor applies.
type Policy struct {
	// AttemptTimeout bounds one document and selector pairing.
	AttemptTimeout time.Duration
	// CommandTimeout bounds the whole resolution scan.
	CommandTimeout    time.Duration
	NavigationTimeout time.Duration
}

// DefaultPolicy is used for any field the configuration leaves at zero.
func DefaultPolicy() Policy {
	return Policy{
		AttemptTimeout:    2 * time.Second,
		CommandTimeout:    30 * time.Second,
		NavigationTimeout: 30 * time.Second,
	}
}

// PolicyFromConfig overlays positive config durations on DefaultPolicy.
func PolicyFromConfig(cfg *config.AutomationConfig) Policy {
	p := DefaultPolicy()
	if cfg == nil {
		return p
	}

	if cfg.AttemptTimeout > 0 {
		p.AttemptTimeout = cfg.AttemptTimeout
	}

	if cfg.CommandTimeout > 0 {
		p.CommandTimeout = cfg.CommandTimeout
	}

	if cfg.NavigationTimeout > 0 {
		p.NavigationTimeout = cfg.NavigationTimeout
	}

	return p
}

// Executor resolves and runs commands against one page at a time.
type Executor struct {
	logger  *zap.Logger
	tracer  trace.Tracer
	policy  Policy
	metrics *metrics.Collector
}

type Params struct {
	fx.In

	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Collector `optional:"true"`
}

func NewExecutor(params Params) *Executor {
	return New(PolicyFromConfig(params.Config.AutomationConfig), params.Logger, params.Metrics)
}

func New(policy Policy, logger *zap.Logger, collector *metrics.Collector) *Executor {
	return &Executor{
		logger:  logger.With(zap.String(logg.Layer, executorName)),
		tracer:  otel.Tracer(executorTracer),
		policy:  policy,
		metrics: collector,
	}
}

// Policy returns the timeouts the executor was built with.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Execute runs cmd against page. Documents are scanned main first and
// candidates in generator order; the first pairing that succeeds wins and
// later ones are never tried.
func (e *Executor) Execute(ctx context.Context, page ports.Page, cmd entity.Command) (result *entity.ExecutionResult, err error) {
	const op = "Execute"
	logger := e.logger.With(
		zap.String(logg.Operation, op),
		zap.String(logg.Action, string(cmd.Action)),
		zap.String(logg.Target, cmd.Target),
	)

	ctx, step := tracing.StartSpan(ctx, e.tracer, logger, op,
		attribute.String("action", string(cmd.Action)),
		attribute.String("target", cmd.Target))
	defer func() {
		step.End(err)
	}()

	started := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = apperr.CodeOf(err)
		}

		e.metrics.CommandExecuted(string(cmd.Action), outcome, time.Since(started))
	}()

	if !cmd.Action.Valid() {
		return nil, apperr.Wrap(op, apperr.CodeUnsupportedAction, fmt.Errorf("unsupported action %q", cmd.Action), map[string]any{
			apperr.MetaReason: "unsupported_action",
			apperr.MetaAction: string(cmd.Action),
		})
	}

	budget := e.policy.CommandTimeout
	if d, ok := cmd.DurationOption(entity.OptionTimeout); ok {
		budget = d
	}

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	switch cmd.Action {
	case entity.ActionWaitForNavigation:
		return e.waitForNavigation(ctx, page, cmd)
	case entity.ActionEvaluate:
		return e.evaluate(ctx, page, cmd)
	case entity.ActionSelect:
		if cmd.Value == "" {
			return nil, apperr.InvalidReqError(op, "value", errors.New("select requires an option value"))
		}
	}

	return e.resolve(ctx, logger, step, page, cmd)
}

func (e *Executor) resolve(ctx context.Context, logger *zap.Logger, step *tracing.Span, page ports.Page, cmd entity.Command) (*entity.ExecutionResult, error) {
	const op = "Resolve"

	candidates := Candidates(cmd)
	result := &entity.ExecutionResult{Action: cmd.Action, Target: cmd.Target}

	if len(candidates) == 0 {
		return nil, notFound(op, cmd, 0)
	}

	docs := DocumentsOf(page)
	step.SetAttributes(attribute.Int("documents", len(docs)), attribute.Int("candidates", len(candidates)))

	optionMiss := false

	for _, doc := range docs {
		for _, c := range candidates {
			timeout, err := e.attemptBudget(ctx, op, cmd, len(result.Attempts))
			if err != nil {
				return nil, err
			}

			started := time.Now()
			data, attemptErr := attempt(doc.Doc, cmd, c.Expression, timeout)
			took := time.Since(started)

			record := entity.ExecutionAttempt{
				Document:  doc.Ref,
				Selector:  c.Expression,
				Outcome:   classify(attemptErr),
				Elapsed:   took,
				ElapsedMs: took.Milliseconds(),
			}

			e.metrics.SelectorAttempt(string(record.Outcome))

			if attemptErr == nil {
				result.Attempts = append(result.Attempts, record)
				result.Success = true
				result.ResolvedSelector = c.Expression
				result.Document = doc.Ref
				result.Data = data

				logger.Info("Command succeeded",
					zap.String(logg.Selector, c.Expression),
					zap.String(logg.Document, doc.Ref.String()),
					zap.Int("attempts", len(result.Attempts)))

				return result, nil
			}

			record.Error = attemptErr.Error()
			result.Attempts = append(result.Attempts, record)

			logger.Debug("Attempt failed",
				zap.String(logg.Selector, c.Expression),
				zap.String(logg.Document, doc.Ref.String()),
				zap.String("outcome", string(record.Outcome)),
				zap.Error(attemptErr))

			if errors.Is(attemptErr, ports.ErrClosed) {
				return nil, apperr.Wrap(op, apperr.CodeSessionNotFound, attemptErr, map[string]any{
					apperr.MetaReason: "session_closed",
					apperr.MetaTarget: cmd.Target,
				})
			}

			if record.Outcome == entity.OutcomeOptionNotFound {
				optionMiss = true
			}
		}
	}

	if optionMiss {
		return nil, apperr.Wrap(op, apperr.CodeOptionNotFound, fmt.Errorf("no option matching %q for %q", cmd.Value, cmd.Target), map[string]any{
			apperr.MetaReason:   "option_not_found",
			apperr.MetaStage:    apperr.StageResolution,
			apperr.MetaTarget:   cmd.Target,
			apperr.MetaValue:    cmd.Value,
			apperr.MetaAttempts: len(result.Attempts),
		})
	}

	return nil, notFound(op, cmd, len(result.Attempts))
}

// attemptBudget caps the per-attempt timeout by what is left of the command
// budget.
func (e *Executor) attemptBudget(ctx context.Context, op string, cmd entity.Command, attempts int) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, timeoutError(op, cmd, err, attempts)
	}

	timeout := e.policy.AttemptTimeout

	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, timeoutError(op, cmd, context.DeadlineExceeded, attempts)
		}

		timeout = min(timeout, remaining)
	}

	return timeout, nil
}

func (e *Executor) waitForNavigation(ctx context.Context, page ports.Page, cmd entity.Command) (*entity.ExecutionResult, error) {
	const op = "WaitForNavigation"

	if err := ctx.Err(); err != nil {
		return nil, timeoutError(op, cmd, err, 0)
	}

	timeout := e.policy.NavigationTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, timeoutError(op, cmd, context.DeadlineExceeded, 0)
		}

		timeout = min(timeout, remaining)
	}

	_, err := bounded(ctx, func() (any, error) {
		if cmd.Target != "" {
			return nil, page.WaitForURL(cmd.Target, timeout)
		}

		return nil, page.WaitForLoad(timeout)
	})
	if err != nil {
		if isBudgetExpiry(err) {
			return nil, timeoutError(op, cmd, err, 0)
		}

		code := apperr.CodeNavigationFailed
		if errors.Is(err, ports.ErrAttemptTimeout) {
			code = apperr.CodeTimeout
		} else if errors.Is(err, ports.ErrClosed) {
			code = apperr.CodeSessionNotFound
		}

		return nil, apperr.Wrap(op, code, err, map[string]any{
			apperr.MetaReason: "wait_for_navigation_failed",
			apperr.MetaStage:  apperr.StageNavigation,
			apperr.MetaURL:    cmd.Target,
		})
	}

	return &entity.ExecutionResult{
		Success:  true,
		Action:   cmd.Action,
		Target:   cmd.Target,
		Document: entity.DocumentRef{Main: true},
		Data:     page.URL(),
	}, nil
}

func (e *Executor) evaluate(ctx context.Context, page ports.Page, cmd entity.Command) (*entity.ExecutionResult, error) {
	const op = "Evaluate"

	if cmd.Value == "" {
		return nil, apperr.InvalidReqError(op, "value", errors.New("evaluate requires a non-empty expression"))
	}

	value, err := bounded(ctx, func() (any, error) {
		return page.Evaluate(cmd.Value)
	})
	if err != nil {
		if isBudgetExpiry(err) {
			return nil, timeoutError(op, cmd, err, 0)
		}

		code := apperr.CodeActionFailed
		switch {
		case errors.Is(err, ports.ErrUnsupported):
			code = apperr.CodeUnsupportedAction
		case errors.Is(err, ports.ErrAttemptTimeout):
			code = apperr.CodeTimeout
		case errors.Is(err, ports.ErrClosed):
			code = apperr.CodeSessionNotFound
		}

		return nil, apperr.Wrap(op, code, err, map[string]any{
			apperr.MetaReason: "evaluate_failed",
			apperr.MetaStage:  apperr.StageInteraction,
		})
	}

	return &entity.ExecutionResult{
		Success:  true,
		Action:   cmd.Action,
		Document: entity.DocumentRef{Main: true},
		Data:     value,
	}, nil
}

type outcome struct {
	value any
	err   error
}

// bounded runs fn and gives up when ctx ends first. A driver call that never
// returns is left behind; its result is discarded.
func bounded(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan outcome, 1)

	go func() {
		value, err := fn()
		done <- outcome{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.value, res.err
	}
}

func isBudgetExpiry(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// Candidates builds the selector list for cmd. Raw selectors pass through as
// a single candidate.
func Candidates(cmd entity.Command) selector.List {
	if cmd.BoolOption(entity.OptionRaw) || selector.IsRawSelector(cmd.Target) {
		return selector.Raw(cmd.Target)
	}

	var opts []selector.Option
	if cmd.BoolOption(entity.OptionExact) {
		opts = append(opts, selector.ExactOnly())
	}

	if cmd.Action == entity.ActionType || cmd.Action == entity.ActionSelect {
		opts = append(opts, selector.WithLabelFallback())
	}

	return selector.ForTarget(cmd.Target, opts...)
}

func attempt(doc ports.Document, cmd entity.Command, sel string, timeout time.Duration) (any, error) {
	switch cmd.Action {
	case entity.ActionClick:
		return nil, doc.Click(sel, timeout)
	case entity.ActionType:
		return nil, doc.Fill(sel, cmd.Value, timeout)
	case entity.ActionSelect:
		chosen, err := doc.SelectOption(sel, cmd.Value, timeout)
		if err != nil {
			return nil, err
		}

		return chosen, nil
	case entity.ActionHover:
		return nil, doc.Hover(sel, timeout)
	case entity.ActionCheck:
		return nil, doc.Check(sel, timeout)
	case entity.ActionUncheck:
		return nil, doc.Uncheck(sel, timeout)
	case entity.ActionWaitForElement:
		return nil, doc.WaitVisible(sel, timeout)
	default:
		return nil, ports.ErrUnsupported
	}
}

func classify(err error) entity.AttemptOutcome {
	switch {
	case err == nil:
		return entity.OutcomeSuccess
	case errors.Is(err, ports.ErrNoMatch):
		return entity.OutcomeNotFound
	case errors.Is(err, ports.ErrAttemptTimeout):
		return entity.OutcomeTimeout
	case errors.Is(err, ports.ErrOptionNotFound):
		return entity.OutcomeOptionNotFound
	default:
		return entity.OutcomeFailed
	}
}

func notFound(op string, cmd entity.Command, attempts int) error {
	return apperr.Wrap(op, apperr.CodeElementNotFound, fmt.Errorf("element not found: %q", cmd.Target), map[string]any{
		apperr.MetaReason:   "element_not_found",
		apperr.MetaStage:    apperr.StageResolution,
		apperr.MetaTarget:   cmd.Target,
		apperr.MetaAttempts: attempts,
	})
}

func timeoutError(op string, cmd entity.Command, cause error, attempts int) error {
	reason := "command_timeout"
	if errors.Is(cause, context.Canceled) {
		reason = "command_cancelled"
	}

	return apperr.Wrap(op, apperr.CodeTimeout, cause, map[string]any{
		apperr.MetaReason:   reason,
		apperr.MetaStage:    apperr.StageResolution,
		apperr.MetaTarget:   cmd.Target,
		apperr.MetaAttempts: attempts,
	})
}
