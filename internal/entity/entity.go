package entity

import (
	"strconv"
	"strings"
	"time"
)

type BrowserKind string

const (
	BrowserChromium BrowserKind = "chromium"
	BrowserFirefox  BrowserKind = "firefox"
	BrowserWebKit   BrowserKind = "webkit"
)

// ParseBrowserKind maps loose names ("chrome", "safari", ...) onto a kind.
// Empty input yields chromium.
func ParseBrowserKind(s string) (BrowserKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "chromium", "chrome", "edge", "msedge":
		return BrowserChromium, true
	case "firefox", "gecko":
		return BrowserFirefox, true
	case "webkit", "safari":
		return BrowserWebKit, true
	default:
		return "", false
	}
}

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type SessionOptions struct {
	BrowserKind    BrowserKind `json:"browserKind,omitempty"`
	Headless       *bool       `json:"headless,omitempty"`
	Viewport       *Viewport   `json:"viewport,omitempty"`
	Locale         string      `json:"locale,omitempty"`
	UserAgent      string      `json:"userAgent,omitempty"`
	RecordVideoDir string      `json:"recordVideoDir,omitempty"`
}

type SessionInfo struct {
	ID          string      `json:"id"`
	BrowserKind BrowserKind `json:"browserKind"`
	Headless    bool        `json:"headless"`
	Viewport    Viewport    `json:"viewport"`
	CreatedAt   time.Time   `json:"createdAt"`
	LastUsedAt  time.Time   `json:"lastUsedAt"`
}

type Action string

const (
	ActionClick             Action = "click"
	ActionType              Action = "type"
	ActionSelect            Action = "select"
	ActionHover             Action = "hover"
	ActionCheck             Action = "check"
	ActionUncheck           Action = "uncheck"
	ActionWaitForElement    Action = "waitForElement"
	ActionWaitForNavigation Action = "waitForNavigation"
	ActionEvaluate          Action = "evaluate"
)

func (a Action) Valid() bool {
	switch a {
	case ActionClick, ActionType, ActionSelect, ActionHover, ActionCheck, ActionUncheck,
		ActionWaitForElement, ActionWaitForNavigation, ActionEvaluate:
		return true
	default:
		return false
	}
}

// NeedsElement reports whether the action resolves a target element.
func (a Action) NeedsElement() bool {
	return a != ActionWaitForNavigation && a != ActionEvaluate
}

// Command option keys.
const (
	OptionTimeout = "timeout"
	OptionExact   = "exact"
	OptionRaw     = "raw"
)

type Command struct {
	Action  Action         `json:"action"`
	Target  string         `json:"target,omitempty"`
	Value   string         `json:"value,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// BoolOption reads a boolean option, tolerating "true"/"false" strings.
func (c Command) BoolOption(key string) bool {
	switch v := c.Options[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// DurationOption reads a millisecond option (number or duration string).
func (c Command) DurationOption(key string) (time.Duration, bool) {
	switch v := c.Options[key].(type) {
	case float64:
		return time.Duration(v) * time.Millisecond, v > 0
	case int:
		return time.Duration(v) * time.Millisecond, v > 0
	case string:
		d, err := time.ParseDuration(v)
		return d, err == nil && d > 0
	default:
		return 0, false
	}
}

type DocumentRef struct {
	Index int    `json:"index"`
	Main  bool   `json:"main"`
	Name  string `json:"name,omitempty"`
	URL   string `json:"url,omitempty"`
}

func (d DocumentRef) String() string {
	if d.Main {
		return "main"
	}

	if d.Name != "" {
		return "frame[" + d.Name + "]"
	}

	return "frame#" + strconv.Itoa(d.Index)
}

type AttemptOutcome string

const (
	OutcomeSuccess        AttemptOutcome = "success"
	OutcomeTimeout        AttemptOutcome = "timeout"
	OutcomeNotFound       AttemptOutcome = "not-found"
	OutcomeOptionNotFound AttemptOutcome = "option-not-found"
	OutcomeFailed         AttemptOutcome = "failed"
)

type ExecutionAttempt struct {
	Document  DocumentRef    `json:"document"`
	Selector  string         `json:"selector"`
	Outcome   AttemptOutcome `json:"outcome"`
	Elapsed   time.Duration  `json:"-"`
	ElapsedMs int64          `json:"elapsedMs"`
	Error     string         `json:"error,omitempty"`
}

type ExecutionResult struct {
	Success          bool               `json:"success"`
	Action           Action             `json:"action"`
	Target           string             `json:"target,omitempty"`
	ResolvedSelector string             `json:"resolvedSelector,omitempty"`
	Document         DocumentRef        `json:"document"`
	Data             any                `json:"data,omitempty"`
	Attempts         []ExecutionAttempt `json:"attempts,omitempty"`
}

type NavigationResult struct {
	URL        string `json:"url"`
	StatusCode int    `json:"statusCode,omitempty"`
}

type ImageFormat string

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"
)

type ScreenshotOptions struct {
	FullPage bool        `json:"fullPage,omitempty"`
	Format   ImageFormat `json:"format,omitempty"`
	Selector string      `json:"selector,omitempty"`
}

type PageMetadata struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Frames      int    `json:"frames"`
}
