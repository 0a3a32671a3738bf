package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"browser-automation/internal/chat"
	"browser-automation/internal/config"
	"browser-automation/internal/entity"
	"browser-automation/internal/executor"
	"browser-automation/internal/metrics"
	"browser-automation/internal/ports"
	"browser-automation/internal/session"
	"browser-automation/pkg/apperr"
	"browser-automation/pkg/logg"
	"browser-automation/pkg/tracing"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	automationServiceName = "AutomationService"
	automationTracer      = "usecase.automation"
)

// AutomationService serves every request against a session. Page-touching
// operations on one session run one at a time in arrival order; different
// sessions run in parallel.
type AutomationService struct {
	logger       *zap.Logger
	tracer       trace.Tracer
	registry     *session.Registry
	executor     *executor.Executor
	metrics      *metrics.Collector
	chatFallback bool
}

type AutomationServiceParams struct {
	fx.In

	Config   *config.Config
	Logger   *zap.Logger
	Registry *session.Registry
	Executor *executor.Executor
	Metrics  *metrics.Collector `optional:"true"`
}

func NewAutomationService(params AutomationServiceParams) *AutomationService {
	fallback := true
	if params.Config != nil && params.Config.AutomationConfig != nil {
		fallback = params.Config.AutomationConfig.ChatFallbackClick
	}

	return &AutomationService{
		logger:       params.Logger.With(zap.String(logg.Layer, automationServiceName)),
		tracer:       otel.Tracer(automationTracer),
		registry:     params.Registry,
		executor:     params.Executor,
		metrics:      params.Metrics,
		chatFallback: fallback,
	}
}

func (s *AutomationService) CreateSession(ctx context.Context, id string, opts entity.SessionOptions) (info *entity.SessionInfo, err error) {
	const op = "CreateSession"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.SessionID, id))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op, attribute.String("session.id", id))
	defer func() {
		step.End(err)
	}()

	sess, err := s.registry.Create(ctx, id, opts)
	if err != nil {
		return nil, err
	}

	created := sess.Info()

	return &created, nil
}

func (s *AutomationService) Navigate(ctx context.Context, id, rawURL string) (result *entity.NavigationResult, err error) {
	const op = "Navigate"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.SessionID, id), zap.String(logg.URL, rawURL))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op, attribute.String("url", rawURL))
	defer func() {
		step.End(err)
	}()

	target, err := normalizeURL(op, rawURL)
	if err != nil {
		return nil, err
	}

	err = s.withSession(ctx, op, id, func(sess *session.Session) error {
		status, err := sess.Page().Goto(target, s.executor.Policy().NavigationTimeout)
		if err != nil {
			code := apperr.CodeNavigationFailed
			switch {
			case errors.Is(err, ports.ErrAttemptTimeout):
				code = apperr.CodeTimeout
			case errors.Is(err, ports.ErrClosed):
				code = apperr.CodeSessionNotFound
			}

			s.metrics.Navigation(code)

			return apperr.Wrap(op, code, err, map[string]any{
				apperr.MetaReason:    "goto_failed",
				apperr.MetaStage:     apperr.StageNavigation,
				apperr.MetaURL:       target,
				apperr.MetaSessionID: id,
			})
		}

		s.metrics.Navigation("ok")
		result = &entity.NavigationResult{URL: sess.Page().URL(), StatusCode: status}

		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Navigated", zap.Int("status", result.StatusCode))

	return result, nil
}

func (s *AutomationService) ExecuteCommand(ctx context.Context, id string, cmd entity.Command) (result *entity.ExecutionResult, err error) {
	const op = "ExecuteCommand"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.SessionID, id))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op,
		attribute.String("action", string(cmd.Action)),
		attribute.String("target", cmd.Target))
	defer func() {
		step.End(err)
	}()

	err = s.withSession(ctx, op, id, func(sess *session.Session) error {
		var execErr error
		result, execErr = s.executor.Execute(ctx, sess.Page(), cmd)

		return execErr
	})

	return result, err
}

// ExecuteChat parses sentence into a command and runs it. When parsing fails
// and the chat fallback is on, the whole sentence becomes a click target.
func (s *AutomationService) ExecuteChat(ctx context.Context, id, sentence string) (result *entity.ExecutionResult, err error) {
	const op = "ExecuteChat"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.SessionID, id))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op, attribute.String("sentence", sentence))
	defer func() {
		step.End(err)
	}()

	cmd, err := chat.Parse(sentence)
	if err != nil {
		if !s.chatFallback || strings.TrimSpace(sentence) == "" {
			return nil, err
		}

		logger.Info("Unparsable sentence, falling back to click", zap.String("sentence", sentence))
		step.AddEvent("fallback click")

		cmd = entity.Command{Action: entity.ActionClick, Target: strings.TrimSpace(sentence)}
	}

	return s.ExecuteCommand(ctx, id, cmd)
}

func (s *AutomationService) Screenshot(ctx context.Context, id string, opts entity.ScreenshotOptions) (data []byte, err error) {
	const op = "Screenshot"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.SessionID, id))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op, attribute.Bool("full_page", opts.FullPage))
	defer func() {
		step.End(err)
	}()

	switch opts.Format {
	case "":
		opts.Format = entity.ImagePNG
	case entity.ImagePNG, entity.ImageJPEG:
	default:
		return nil, apperr.InvalidReqError(op, "format", fmt.Errorf("unsupported image format %q", opts.Format))
	}

	err = s.withSession(ctx, op, id, func(sess *session.Session) error {
		var shotErr error

		data, shotErr = sess.Page().Screenshot(opts)
		if shotErr != nil {
			return pageError(op, id, apperr.StageScreenshot, shotErr, map[string]any{
				apperr.MetaSelector: opts.Selector,
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Screenshot taken", zap.Int("bytes", len(data)))

	return data, nil
}

func (s *AutomationService) Content(ctx context.Context, id string) (html string, err error) {
	const op = "Content"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.SessionID, id))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	err = s.withSession(ctx, op, id, func(sess *session.Session) error {
		var contentErr error

		html, contentErr = sess.Page().Content()
		if contentErr != nil {
			return pageError(op, id, apperr.StagePageState, contentErr, nil)
		}

		return nil
	})

	return html, err
}

func (s *AutomationService) Metadata(ctx context.Context, id string) (meta *entity.PageMetadata, err error) {
	const op = "Metadata"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.SessionID, id))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	err = s.withSession(ctx, op, id, func(sess *session.Session) error {
		page := sess.Page()

		title, err := page.Title()
		if err != nil {
			return pageError(op, id, apperr.StagePageState, err, nil)
		}

		meta = &entity.PageMetadata{
			URL:    page.URL(),
			Title:  title,
			Frames: len(executor.DocumentsOf(page)) - 1,
		}

		content, err := page.Content()
		if err != nil {
			logger.Warn("Failed to read content for description", zap.Error(err))
			return nil
		}

		meta.Description = describePage(content)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return meta, nil
}

func (s *AutomationService) ListSessions() []entity.SessionInfo {
	return s.registry.Infos()
}

func (s *AutomationService) CloseSession(ctx context.Context, id string) bool {
	return s.registry.Close(ctx, id)
}

// withSession runs fn holding the session's turn. Errors from fn pass
// through untouched.
func (s *AutomationService) withSession(ctx context.Context, op, id string, fn func(*session.Session) error) error {
	sess, err := s.registry.Get(id)
	if err != nil {
		return err
	}

	if err := sess.Acquire(ctx); err != nil {
		return apperr.Wrap(op, apperr.CodeTimeout, err, map[string]any{
			apperr.MetaReason:    "session_busy",
			apperr.MetaSessionID: id,
		})
	}
	defer sess.Release()

	return fn(sess)
}

func pageError(op, id, stage string, err error, meta map[string]any) error {
	code := apperr.CodeInternal
	switch {
	case errors.Is(err, ports.ErrClosed):
		code = apperr.CodeSessionNotFound
	case errors.Is(err, ports.ErrNoMatch):
		code = apperr.CodeElementNotFound
	case errors.Is(err, ports.ErrAttemptTimeout):
		code = apperr.CodeTimeout
	case errors.Is(err, ports.ErrUnsupported):
		code = apperr.CodeUnsupportedAction
	}

	if meta == nil {
		meta = make(map[string]any)
	}

	meta[apperr.MetaStage] = stage
	meta[apperr.MetaSessionID] = id
	meta[apperr.MetaReason] = strings.ToLower(op) + "_failed"

	return apperr.Wrap(op, code, err, meta)
}

// normalizeURL defaults a bare host to https.
func normalizeURL(op, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperr.InvalidReqError(op, "url", errors.New("url is required"))
	}

	if !strings.Contains(raw, "://") && !strings.HasPrefix(raw, "about:") && !strings.HasPrefix(raw, "data:") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", apperr.InvalidReqError(op, "url", err)
	}

	if u.Scheme != "about" && u.Scheme != "data" && u.Host == "" {
		return "", apperr.InvalidReqError(op, "url", fmt.Errorf("url %q has no host", raw))
	}

	return u.String(), nil
}

func describePage(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}

	for _, sel := range []string{`meta[name="description"]`, `meta[property="og:description"]`} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}

	return ""
}
