package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"browser-automation/internal/entity"
	"browser-automation/internal/usecase"
	"browser-automation/internal/usecase/adapters"
	"browser-automation/pkg/apperr"
	"browser-automation/pkg/logg"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var errExit = errors.New("exit")

type Interface struct {
	logger  *zap.Logger
	svc     adapters.AutomationService
	in      io.Reader
	out     io.Writer
	current string
}

type Params struct {
	fx.In

	Logger  *zap.Logger
	Usecase *usecase.Service
}

func NewInterface(params Params) *Interface {
	return New(params.Usecase.Automation, params.Logger, os.Stdin, os.Stdout)
}

func New(svc adapters.AutomationService, logger *zap.Logger, in io.Reader, out io.Writer) *Interface {
	return &Interface{
		logger: logger.With(zap.String(logg.Layer, "Console")),
		svc:    svc,
		in:     in,
		out:    out,
	}
}

// Start reads commands until input ends, exit is typed or ctx is cancelled.
func (i *Interface) Start(ctx context.Context) error {
	i.printBanner()
	i.printHelp()

	scanner := bufio.NewScanner(i.in)

	for {
		if ctx.Err() != nil {
			return nil
		}

		i.printf("\n%s> ", i.current)

		if !scanner.Scan() {
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if err := i.handleCommand(ctx, input); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}

			i.logger.Debug("Command error", zap.String("input", input), zap.Error(err))
			i.printf("error [%s]: %v\n", apperr.CodeOf(err), err)
		}
	}
}

func (i *Interface) handleCommand(ctx context.Context, input string) error {
	fields := strings.Fields(input)
	args := fields[1:]

	switch strings.ToLower(fields[0]) {
	case "help", "h":
		i.printHelp()

		return nil
	case "exit", "quit", "q":
		i.printf("Shutting down...\n")

		return errExit
	case "open":
		return i.open(ctx, args)
	case "use":
		return i.use(args)
	case "sessions":
		i.listSessions()

		return nil
	case "close":
		return i.close(ctx, args)
	case "goto":
		return i.gotoURL(ctx, args)
	case "shot":
		return i.screenshot(ctx, args)
	case "html":
		return i.content(ctx)
	case "meta":
		return i.metadata(ctx)
	default:
		return i.chat(ctx, input)
	}
}

func (i *Interface) open(ctx context.Context, args []string) error {
	var (
		id   string
		opts entity.SessionOptions
	)

	if len(args) > 0 {
		id = args[0]
	}

	if len(args) > 1 {
		kind, ok := entity.ParseBrowserKind(args[1])
		if !ok {
			return apperr.InvalidReqError("Open", "kind", fmt.Errorf("unknown browser kind %q", args[1]))
		}

		opts.BrowserKind = kind
	}

	info, err := i.svc.CreateSession(ctx, id, opts)
	if err != nil {
		return err
	}

	i.current = info.ID
	i.printf("session %s opened (%s, headless=%t)\n", info.ID, info.BrowserKind, info.Headless)

	return nil
}

func (i *Interface) use(args []string) error {
	if len(args) != 1 {
		return apperr.InvalidReqError("Use", "id", errors.New("usage: use <id>"))
	}

	for _, info := range i.svc.ListSessions() {
		if info.ID == args[0] {
			i.current = info.ID
			i.printf("using session %s\n", info.ID)

			return nil
		}
	}

	return apperr.SessionNotFoundError("Use", args[0])
}

func (i *Interface) listSessions() {
	sessions := i.svc.ListSessions()
	if len(sessions) == 0 {
		i.printf("no sessions\n")
		return
	}

	for _, info := range sessions {
		marker := " "
		if info.ID == i.current {
			marker = "*"
		}

		i.printf("%s %s  %s  idle since %s\n", marker, info.ID, info.BrowserKind, info.LastUsedAt.Format("15:04:05"))
	}
}

func (i *Interface) close(ctx context.Context, args []string) error {
	id := i.current
	if len(args) > 0 {
		id = args[0]
	}

	if id == "" {
		return apperr.InvalidReqError("Close", "id", errors.New("no session selected"))
	}

	if !i.svc.CloseSession(ctx, id) {
		i.printf("session %s was not open\n", id)
		return nil
	}

	if id == i.current {
		i.current = ""
	}

	i.printf("session %s closed\n", id)

	return nil
}

func (i *Interface) gotoURL(ctx context.Context, args []string) error {
	id, err := i.session("Goto")
	if err != nil {
		return err
	}

	if len(args) != 1 {
		return apperr.InvalidReqError("Goto", "url", errors.New("usage: goto <url>"))
	}

	result, err := i.svc.Navigate(ctx, id, args[0])
	if err != nil {
		return err
	}

	i.printf("%s [%d]\n", result.URL, result.StatusCode)

	return nil
}

func (i *Interface) screenshot(ctx context.Context, args []string) error {
	id, err := i.session("Shot")
	if err != nil {
		return err
	}

	if len(args) != 1 {
		return apperr.InvalidReqError("Shot", "file", errors.New("usage: shot <file>"))
	}

	opts := entity.ScreenshotOptions{FullPage: true, Format: entity.ImagePNG}

	switch strings.ToLower(filepath.Ext(args[0])) {
	case ".jpg", ".jpeg":
		opts.Format = entity.ImageJPEG
	}

	data, err := i.svc.Screenshot(ctx, id, opts)
	if err != nil {
		return err
	}

	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return apperr.Wrap("Shot", apperr.CodeInternal, err, map[string]any{apperr.MetaField: args[0]})
	}

	i.printf("saved %d bytes to %s\n", len(data), args[0])

	return nil
}

func (i *Interface) content(ctx context.Context) error {
	id, err := i.session("HTML")
	if err != nil {
		return err
	}

	content, err := i.svc.Content(ctx, id)
	if err != nil {
		return err
	}

	i.printf("%s\n", content)

	return nil
}

func (i *Interface) metadata(ctx context.Context) error {
	id, err := i.session("Meta")
	if err != nil {
		return err
	}

	meta, err := i.svc.Metadata(ctx, id)
	if err != nil {
		return err
	}

	i.printf("url:         %s\n", meta.URL)
	i.printf("title:       %s\n", meta.Title)
	i.printf("description: %s\n", meta.Description)
	i.printf("frames:      %d\n", meta.Frames)

	return nil
}

func (i *Interface) chat(ctx context.Context, sentence string) error {
	id, err := i.session("Chat")
	if err != nil {
		return err
	}

	result, err := i.svc.ExecuteChat(ctx, id, sentence)
	if err != nil {
		return err
	}

	i.printf("%s %q via %s in %s (%d attempts)\n",
		result.Action, result.Target, result.ResolvedSelector, result.Document, len(result.Attempts))

	if result.Data != nil {
		i.printf("=> %v\n", result.Data)
	}

	return nil
}

func (i *Interface) session(op string) (string, error) {
	if i.current == "" {
		return "", apperr.InvalidReqError(op, "session", errors.New("no session selected, run open first"))
	}

	return i.current, nil
}

func (i *Interface) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(i.out, format, args...)
}

func (i *Interface) printBanner() {
	i.printf(`
+-----------------------------------------------------------+
|                 Browser Automation Console                |
+-----------------------------------------------------------+
`)
}

func (i *Interface) printHelp() {
	i.printf(`
Available commands:
  open [id] [kind]  - Open a browser session and make it current
  use <id>          - Switch to another session
  sessions          - List open sessions
  goto <url>        - Navigate the current session
  shot <file>       - Save a screenshot (.png or .jpg)
  html              - Print the page content
  meta              - Print title, url, description and frame count
  close [id]        - Close a session (the current one by default)
  help, h           - Show this help message
  exit, quit, q     - Exit the application

Anything else is run as a chat command on the current session:
    click "Sign in"
    type "a@b.com" into "Email"
    select "Large" from "Size"
`)
}
