package usecase

import (
	"browser-automation/internal/config"
	"browser-automation/internal/executor"
	"browser-automation/internal/metrics"
	"browser-automation/internal/session"
	"browser-automation/internal/usecase/adapters"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	Automation adapters.AutomationService
}

type Params struct {
	fx.In

	Logger   *zap.Logger
	Config   *config.Config
	Registry *session.Registry
	Executor *executor.Executor
	Metrics  *metrics.Collector `optional:"true"`
}

func NewUsecase(params Params) *Service {
	factory := newServiceFactory(params)

	return &Service{
		Automation: factory.CreateAutomationService(),
	}
}
