package bootstrap

import (
	"time"

	"browser-automation/internal/config"
	"browser-automation/internal/console"
	"browser-automation/internal/executor"
	"browser-automation/internal/httpapi"
	"browser-automation/internal/metrics"
	"browser-automation/internal/session"
	"browser-automation/internal/usecase"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func NewApp() *fx.App {
	return fx.New(
		fx.Provide(
			config.GetConfig,
			newLogger,
			newTraceProvider,
			metrics.NewFromConfig,

			newBrowserLauncher,

			session.NewRegistry,
			executor.NewExecutor,
			usecase.NewUsecase,

			httpapi.NewHandler,
			console.NewInterface,
		),

		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),

		fx.Invoke(
			registerTracing,
			runSessions,
			runHTTPServer,
			runConsole,
		),

		fx.StartTimeout(10*time.Second),
		fx.StopTimeout(30*time.Second),
	)
}
