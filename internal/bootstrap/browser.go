package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"browser-automation/internal/browser"
	"browser-automation/internal/browser/static"
	"browser-automation/internal/config"
	"browser-automation/internal/ports"
	"browser-automation/internal/session"
	"browser-automation/pkg/logg"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	driverPlaywright = "playwright"
	driverStatic     = "static"
)

func newBrowserLauncher(conf *config.Config, logger *zap.Logger) (ports.BrowserLauncher, error) {
	switch driver := strings.ToLower(conf.BrowserConfig.Driver); driver {
	case driverPlaywright, "":
		return browser.NewLauncher(browser.Params{Config: conf, Logger: logger}), nil
	case driverStatic:
		return static.NewDriver(static.Params{Config: conf, Logger: logger}), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", driver)
	}
}

// runSessions starts the idle reaper when configured and closes every
// session before the driver goes away.
func runSessions(lc fx.Lifecycle, conf *config.Config, registry *session.Registry, launcher ports.BrowserLauncher, logger *zap.Logger) {
	logger = logger.With(zap.String(logg.Layer, "Sessions"))

	automation := conf.AutomationConfig
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	reaperDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if automation.IdleTimeout <= 0 {
				close(reaperDone)
				return nil
			}

			logger.Info("Starting idle session reaper",
				zap.Duration("idle_timeout", automation.IdleTimeout),
				zap.Duration("interval", automation.ReapInterval))

			go func() {
				defer close(reaperDone)
				registry.RunReaper(reaperCtx, automation.ReapInterval, automation.IdleTimeout)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopReaper()
			<-reaperDone

			closed := registry.CloseAll(ctx)
			logger.Info("Sessions closed", zap.Int("count", closed))

			if err := launcher.Shutdown(ctx); err != nil {
				logger.Error("Failed to shut down browser driver", zap.Error(err))
			}

			return nil
		},
	})
}
