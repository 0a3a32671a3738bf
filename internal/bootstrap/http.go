package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"

	"browser-automation/internal/config"
	"browser-automation/internal/httpapi"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func runHTTPServer(lc fx.Lifecycle, conf *config.Config, handler *httpapi.Handler, shutdowner fx.Shutdowner, logger *zap.Logger) {
	httpConf := conf.HTTPConfig

	server := &http.Server{
		Addr:         httpConf.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  httpConf.ReadTimeout,
		WriteTimeout: httpConf.WriteTimeout,
		ErrorLog:     zap.NewStdLog(logger),
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			listener, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return err
			}

			logger.Info("HTTP server listening", zap.String("addr", listener.Addr().String()))

			go func() {
				if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server failed", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, httpConf.ShutdownTimeout)
			defer cancel()

			logger.Info("Stopping HTTP server...")

			return server.Shutdown(ctx)
		},
	})
}
