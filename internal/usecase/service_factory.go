package usecase

import (
	"browser-automation/internal/usecase/adapters"
)

type serviceFactory struct {
	deps Params
}

func newServiceFactory(deps Params) *serviceFactory {
	return &serviceFactory{
		deps: deps,
	}
}

func (f *serviceFactory) CreateAutomationService() adapters.AutomationService {
	return NewAutomationService(AutomationServiceParams{
		Config:   f.deps.Config,
		Logger:   f.deps.Logger,
		Registry: f.deps.Registry,
		Executor: f.deps.Executor,
		Metrics:  f.deps.Metrics,
	})
}
