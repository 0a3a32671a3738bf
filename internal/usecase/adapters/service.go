package adapters

import (
	"context"

	"browser-automation/internal/entity"
)

type AutomationService interface {
	CreateSession(ctx context.Context, id string, opts entity.SessionOptions) (*entity.SessionInfo, error)
	Navigate(ctx context.Context, id, url string) (*entity.NavigationResult, error)
	ExecuteCommand(ctx context.Context, id string, cmd entity.Command) (*entity.ExecutionResult, error)
	ExecuteChat(ctx context.Context, id, sentence string) (*entity.ExecutionResult, error)
	Screenshot(ctx context.Context, id string, opts entity.ScreenshotOptions) ([]byte, error)
	Content(ctx context.Context, id string) (string, error)
	Metadata(ctx context.Context, id string) (*entity.PageMetadata, error)
	ListSessions() []entity.SessionInfo
	CloseSession(ctx context.Context, id string) bool
}
