package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"browser-automation/internal/config"
	"browser-automation/internal/entity"
	"browser-automation/internal/ports"
	"browser-automation/pkg/apperr"
	"browser-automation/pkg/logg"
	"browser-automation/pkg/tracing"

	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	launcherName  = "BrowserLauncher"
	browserTracer = "browser.launcher"
)

// Launcher starts one playwright browser, context and page per session. The
// playwright driver itself is started lazily on the first launch and shared.
type Launcher struct {
	config *config.BrowserConfig
	logger *zap.Logger
	tracer trace.Tracer

	mu         sync.Mutex
	playwright *playwright.Playwright
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewLauncher(params Params) *Launcher {
	return &Launcher{
		config: params.Config.BrowserConfig,
		logger: params.Logger.With(zap.String(logg.Layer, launcherName)),
		tracer: otel.Tracer(browserTracer),
	}
}

func (l *Launcher) start(ctx context.Context) (pw *playwright.Playwright, err error) {
	const op = "Start"
	logger := l.logger.With(zap.String(logg.Operation, op))

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.playwright != nil {
		return l.playwright, nil
	}

	_, step := tracing.StartSpan(ctx, l.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	if l.config.Install {
		step.AddEvent("installing playwright")

		if err := playwright.Install(); err != nil {
			return nil, apperr.Wrap(op, apperr.CodeLaunchFailed, err, map[string]any{
				apperr.MetaReason: "playwright_install_failed",
				apperr.MetaStage:  apperr.StageBrowser,
			})
		}
	}

	step.AddEvent("starting playwright")

	pw, err = playwright.Run()
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeLaunchFailed, err, map[string]any{
			apperr.MetaReason: "playwright_start_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	l.playwright = pw
	logger.Info("Playwright started")

	return pw, nil
}

func (l *Launcher) Launch(ctx context.Context, opts entity.SessionOptions) (inst ports.BrowserInstance, err error) {
	const op = "Launch"
	logger := l.logger.With(zap.String(logg.Operation, op), zap.String(logg.Browser, string(opts.BrowserKind)))

	ctx, step := tracing.StartSpan(ctx, l.tracer, logger, op, attribute.String("browser.kind", string(opts.BrowserKind)))
	defer func() {
		step.End(err)
	}()

	pw, err := l.start(ctx)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browserType := browserTypeOf(pw, opts.BrowserKind)

	browser, err := browserType.Launch(launchOptions(ctx, l.config, opts))
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeLaunchFailed, err, map[string]any{
			apperr.MetaReason: "browser_launch_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	browserContext, err := browser.NewContext(contextOptions(opts))
	if err != nil {
		_ = browser.Close()

		return nil, apperr.Wrap(op, apperr.CodeLaunchFailed, err, map[string]any{
			apperr.MetaReason: "context_create_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	page, err := browserContext.NewPage()
	if err != nil {
		_ = browserContext.Close()
		_ = browser.Close()

		return nil, apperr.Wrap(op, apperr.CodeLaunchFailed, err, map[string]any{
			apperr.MetaReason: "page_create_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	logger.Info("Browser launched", zap.String("version", browser.Version()))

	return newInstance(browser, browserContext, page), nil
}

// Shutdown stops the shared playwright driver. Browsers still open are
// killed with it.
func (l *Launcher) Shutdown(ctx context.Context) (err error) {
	const op = "Shutdown"
	logger := l.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, l.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.playwright == nil {
		return nil
	}

	if err := l.playwright.Stop(); err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "playwright_stop_failed",
		})
	}

	l.playwright = nil
	logger.Info("Playwright stopped")

	return nil
}

func browserTypeOf(pw *playwright.Playwright, kind entity.BrowserKind) playwright.BrowserType {
	switch kind {
	case entity.BrowserFirefox:
		return pw.Firefox
	case entity.BrowserWebKit:
		return pw.WebKit
	default:
		return pw.Chromium
	}
}

func launchOptions(ctx context.Context, cfg *config.BrowserConfig, opts entity.SessionOptions) playwright.BrowserTypeLaunchOptions {
	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		SlowMo:   playwright.Float(float64(cfg.SlowMo)),
	}

	if opts.Headless != nil {
		launch.Headless = playwright.Bool(*opts.Headless)
	}

	if deadline, ok := ctx.Deadline(); ok {
		launch.Timeout = millis(time.Until(deadline))
	}

	return launch
}

func contextOptions(opts entity.SessionOptions) playwright.BrowserNewContextOptions {
	options := playwright.BrowserNewContextOptions{
		AcceptDownloads:   playwright.Bool(true),
		JavaScriptEnabled: playwright.Bool(true),
	}

	if opts.Viewport != nil {
		options.Viewport = &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height}
	}

	if opts.Locale != "" {
		options.Locale = playwright.String(opts.Locale)
	}

	if opts.UserAgent != "" {
		options.UserAgent = playwright.String(opts.UserAgent)
	}

	if opts.RecordVideoDir != "" {
		options.RecordVideo = &playwright.RecordVideo{Dir: opts.RecordVideoDir}
	}

	return options
}

// translate maps playwright errors onto the driver-neutral ones.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, playwright.ErrTimeout):
		return errors.Join(ports.ErrAttemptTimeout, err)
	case errors.Is(err, playwright.ErrTargetClosed):
		return errors.Join(ports.ErrClosed, err)
	default:
		return err
	}
}

// millis never returns zero: playwright reads a zero timeout as no timeout.
func millis(d time.Duration) *float64 {
	if d < time.Millisecond {
		d = time.Millisecond
	}

	return playwright.Float(float64(d.Milliseconds()))
}
