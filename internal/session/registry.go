// Package session keeps the live browser sessions keyed by id.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"browser-automation/internal/config"
	"browser-automation/internal/entity"
	"browser-automation/internal/metrics"
	"browser-automation/internal/ports"
	"browser-automation/pkg/apperr"
	"browser-automation/pkg/logg"
	"browser-automation/pkg/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	registryName   = "SessionRegistry"
	registryTracer = "automation.registry"
)

// Options are the registry's launch defaults and limits.
type Options struct {
	Kind     entity.BrowserKind
	Headless bool
	Viewport entity.Viewport
	Locale   string

	LaunchTimeout time.Duration
	// LaunchRate is launches per second; zero disables throttling.
	LaunchRate  float64
	LaunchBurst int
}

// DefaultOptions launches headless chromium at 1280x720 in en-US.
func DefaultOptions() Options {
	return Options{
		Kind:          entity.BrowserChromium,
		Headless:      true,
		Viewport:      entity.Viewport{Width: 1280, Height: 720},
		Locale:        "en-US",
		LaunchTimeout: time.Minute,
	}
}

// OptionsFromConfig fills the session defaults from the browser config.
func OptionsFromConfig(cfg *config.BrowserConfig) Options {
	o := DefaultOptions()
	if cfg == nil {
		return o
	}

	if kind, ok := entity.ParseBrowserKind(cfg.Kind); ok {
		o.Kind = kind
	}

	o.Headless = cfg.Headless

	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		o.Viewport = entity.Viewport{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight}
	}

	if cfg.Locale != "" {
		o.Locale = cfg.Locale
	}

	if cfg.LaunchTimeout > 0 {
		o.LaunchTimeout = cfg.LaunchTimeout
	}

	o.LaunchRate = cfg.LaunchRate
	o.LaunchBurst = cfg.LaunchBurst

	return o
}

type idLock struct {
	sem  *semaphore.Weighted
	refs int
}

type Registry struct {
	logger   *zap.Logger
	tracer   trace.Tracer
	launcher ports.BrowserLauncher
	metrics  *metrics.Collector
	options  Options
	limiter  *rate.Limiter

	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*idLock
}

type Params struct {
	fx.In

	Config   *config.Config
	Logger   *zap.Logger
	Launcher ports.BrowserLauncher
	Metrics  *metrics.Collector `optional:"true"`
}

func NewRegistry(params Params) *Registry {
	return New(params.Launcher, OptionsFromConfig(params.Config.BrowserConfig), params.Logger, params.Metrics)
}

func New(launcher ports.BrowserLauncher, options Options, logger *zap.Logger, collector *metrics.Collector) *Registry {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if options.LaunchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(options.LaunchRate), max(options.LaunchBurst, 1))
	}

	return &Registry{
		logger:   logger.With(zap.String(logg.Layer, registryName)),
		tracer:   otel.Tracer(registryTracer),
		launcher: launcher,
		metrics:  collector,
		options:  options,
		limiter:  limiter,
		sessions: make(map[string]*Session),
		locks:    make(map[string]*idLock),
	}
}

// Create launches a new session under id, generating one when id is empty.
// A live session with the same id is closed first. On failure nothing is
// registered.
func (r *Registry) Create(ctx context.Context, id string, opts entity.SessionOptions) (s *Session, err error) {
	const op = "Create"

	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}

	logger := r.logger.With(zap.String(logg.Operation, op), zap.String(logg.SessionID, id))

	ctx, step := tracing.StartSpan(ctx, r.tracer, logger, op, attribute.String("session.id", id))
	defer func() {
		step.End(err)
	}()

	resolved, err := r.resolve(op, id, opts)
	if err != nil {
		return nil, err
	}

	unlock, err := r.lockID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeTimeout, err, map[string]any{
			apperr.MetaReason:    "session_busy",
			apperr.MetaStage:     apperr.StageRegistry,
			apperr.MetaSessionID: id,
		})
	}
	defer unlock()

	if r.lookup(id) != nil {
		logger.Info("Replacing live session")
		r.closeLocked(id, metrics.CloseReplaced, logger)
	}

	if err := r.limiter.Wait(ctx); err != nil {
		r.metrics.LaunchFailed()

		return nil, apperr.Wrap(op, apperr.CodeLaunchFailed, err, map[string]any{
			apperr.MetaReason:    "launch_throttled",
			apperr.MetaStage:     apperr.StageBrowser,
			apperr.MetaSessionID: id,
		})
	}

	launchCtx, cancel := context.WithTimeout(ctx, r.options.LaunchTimeout)
	defer cancel()

	instance, err := r.launcher.Launch(launchCtx, resolved)
	if err != nil {
		r.metrics.LaunchFailed()
		logger.Error("Browser launch failed", zap.String(logg.Browser, string(resolved.BrowserKind)), zap.Error(err))

		return nil, apperr.Wrap(op, apperr.CodeLaunchFailed, err, map[string]any{
			apperr.MetaReason:    "launch_failed",
			apperr.MetaStage:     apperr.StageBrowser,
			apperr.MetaSessionID: id,
			"browser_kind":       string(resolved.BrowserKind),
		})
	}

	s = newSession(entity.SessionInfo{
		ID:          id,
		BrowserKind: resolved.BrowserKind,
		Headless:    *resolved.Headless,
		Viewport:    *resolved.Viewport,
		CreatedAt:   time.Now(),
	}, instance)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	r.metrics.SessionCreated(string(resolved.BrowserKind))

	logger.Info("Session created",
		zap.String(logg.Browser, string(resolved.BrowserKind)),
		zap.Bool("headless", *resolved.Headless))

	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	const op = "Get"

	if s := r.lookup(id); s != nil {
		return s, nil
	}

	return nil, apperr.SessionNotFoundError(op, id)
}

// Close tears down the session and reports whether one was registered.
// Driver errors are logged, never returned.
func (r *Registry) Close(ctx context.Context, id string) bool {
	const op = "Close"
	logger := r.logger.With(zap.String(logg.Operation, op), zap.String(logg.SessionID, id))

	unlock, err := r.lockID(ctx, id)
	if err != nil {
		logger.Warn("Gave up waiting for session lock", zap.Error(err))
		return false
	}
	defer unlock()

	closed := r.closeLocked(id, metrics.CloseExplicit, logger)
	if !closed {
		logger.Debug("No live session")
	}

	return closed
}

// CloseAll closes every live session and returns how many were closed.
func (r *Registry) CloseAll(ctx context.Context) int {
	const op = "CloseAll"
	logger := r.logger.With(zap.String(logg.Operation, op))

	closed := 0

	for _, id := range r.List() {
		unlock, err := r.lockID(ctx, id)
		if err != nil {
			logger.Warn("Gave up waiting for session lock", zap.String(logg.SessionID, id), zap.Error(err))
			continue
		}

		if r.closeLocked(id, metrics.CloseShutdown, logger.With(zap.String(logg.SessionID, id))) {
			closed++
		}

		unlock()
	}

	logger.Info("Sessions closed", zap.Int("count", closed))

	return closed
}

// List returns the live session ids in sorted order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

// Infos snapshots every live session, oldest first.
func (r *Registry) Infos() []entity.SessionInfo {
	r.mu.Lock()
	infos := make([]entity.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	r.mu.Unlock()

	slices.SortFunc(infos, func(a, b entity.SessionInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return infos
}

// ReapIdle closes sessions unused since before now-maxIdle. Sessions that are
// running or waiting for a command are skipped.
func (r *Registry) ReapIdle(ctx context.Context, now time.Time, maxIdle time.Duration) []string {
	const op = "ReapIdle"
	logger := r.logger.With(zap.String(logg.Operation, op))

	var reaped []string

	for _, id := range r.List() {
		s := r.lookup(id)
		if s == nil || now.Sub(s.LastUsedAt()) < maxIdle {
			continue
		}

		if !s.tryIdle() {
			continue
		}

		unlock, err := r.lockID(ctx, id)
		if err != nil {
			s.turn.Release(1)
			break
		}

		// the id may have been replaced while we waited for its lock
		if r.lookup(id) == s && r.closeLocked(id, metrics.CloseIdle, logger.With(zap.String(logg.SessionID, id))) {
			reaped = append(reaped, id)
		}

		unlock()
		s.turn.Release(1)
	}

	if len(reaped) > 0 {
		logger.Info("Idle sessions closed", zap.Strings("ids", reaped))
	}

	return reaped
}

// RunReaper calls ReapIdle every interval until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 || maxIdle <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.ReapIdle(ctx, now, maxIdle)
		}
	}
}

func (r *Registry) resolve(op, id string, opts entity.SessionOptions) (entity.SessionOptions, error) {
	kind := opts.BrowserKind
	if kind == "" {
		kind = r.options.Kind
	}

	parsed, ok := entity.ParseBrowserKind(string(kind))
	if !ok {
		return opts, apperr.Wrap(op, apperr.CodeInvalidArgument, fmt.Errorf("unknown browser kind %q", kind), map[string]any{
			apperr.MetaField:     "browserKind",
			apperr.MetaReason:    "invalid_request",
			apperr.MetaSessionID: id,
		})
	}

	opts.BrowserKind = parsed

	if opts.Headless == nil {
		headless := r.options.Headless
		opts.Headless = &headless
	}

	if opts.Viewport == nil || opts.Viewport.Width <= 0 || opts.Viewport.Height <= 0 {
		viewport := r.options.Viewport
		opts.Viewport = &viewport
	}

	if opts.Locale == "" {
		opts.Locale = r.options.Locale
	}

	return opts, nil
}

func (r *Registry) lookup(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sessions[id]
}

// closeLocked must run under the id lock.
func (r *Registry) closeLocked(id, reason string, logger *zap.Logger) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return false
	}

	if err := s.instance.Close(); err != nil {
		if errors.Is(err, ports.ErrClosed) {
			logger.Debug("Browser already closed")
		} else {
			logger.Warn("Browser close failed", zap.Error(err))
		}
	}

	r.metrics.SessionClosed(reason)
	logger.Info("Session closed", zap.String("reason", reason))

	return true
}

// lockID serializes create and close for one id without blocking others.
func (r *Registry) lockID(ctx context.Context, id string) (func(), error) {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &idLock{sem: semaphore.NewWeighted(1)}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		r.unref(id, l)
		return nil, err
	}

	return func() {
		l.sem.Release(1)
		r.unref(id, l)
	}, nil
}

func (r *Registry) unref(id string, l *idLock) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(r.locks, id)
	}
}
