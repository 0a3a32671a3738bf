package bootstrap

import (
	"context"

	"browser-automation/internal/config"
	"browser-automation/internal/console"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func runConsole(lc fx.Lifecycle, conf *config.Config, consoleInterface *console.Interface, shutdowner fx.Shutdowner, logger *zap.Logger) {
	if !conf.ConsoleConfig.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("Starting console interface...")

			go func() {
				if err := consoleInterface.Start(ctx); err != nil {
					logger.Error("Console interface error", zap.Error(err))
				}

				if ctx.Err() == nil {
					_ = shutdowner.Shutdown()
				}
			}()

			return nil
		},
		OnStop: func(context.Context) error {
			cancel()

			return nil
		},
	})
}
