package ports

import (
	"browser-automation/internal/entity"
	"context"
	"errors"
	"time"
)

// Driver-level attempt failures. Adapters translate their own errors into
// these so the executor can classify an attempt without knowing the driver.
var (
	ErrNoMatch         = errors.New("no element matches selector")
	ErrAttemptTimeout  = errors.New("attempt timed out")
	ErrNotInteractable = errors.New("element is not interactable")
	ErrOptionNotFound  = errors.New("no option matches value")
	ErrUnsupported     = errors.New("operation not supported by driver")
	ErrClosed          = errors.New("target page, context or browser has been closed")
)

// BrowserLauncher starts isolated browser instances, one per session.
type BrowserLauncher interface {
	Launch(ctx context.Context, opts entity.SessionOptions) (BrowserInstance, error)
	Shutdown(ctx context.Context) error
}

// BrowserInstance owns one browser, one context and one page.
// Close cascades to the context and page.
type BrowserInstance interface {
	Page() Page
	Close() error
}

type Page interface {
	Goto(url string, timeout time.Duration) (statusCode int, err error)
	URL() string
	Title() (string, error)
	Content() (string, error)
	Screenshot(opts entity.ScreenshotOptions) ([]byte, error)
	Evaluate(expression string) (any, error)
	WaitForLoad(timeout time.Duration) error
	WaitForURL(url string, timeout time.Duration) error

	MainDocument() Document
	// Frames lists every frame the page reports, the main one included.
	Frames() []Document
}

// Document is the main page or one embedded frame. Every element operation
// targets the first element matched by selector.
type Document interface {
	IsMain() bool
	Name() string
	URL() string
	Click(selector string, timeout time.Duration) error
	Fill(selector, value string, timeout time.Duration) error
	// SelectOption commits the first option whose visible text contains
	// value (case-insensitive) and returns that text.
	SelectOption(selector, value string, timeout time.Duration) (string, error)
	Hover(selector string, timeout time.Duration) error
	Check(selector string, timeout time.Duration) error
	Uncheck(selector string, timeout time.Duration) error
	WaitVisible(selector string, timeout time.Duration) error
}
