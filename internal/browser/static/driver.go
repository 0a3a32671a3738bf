// Package static is an in-process browser driver over parsed HTML.
//
// It does not run scripts or lay out pages. Documents come from registered
// fixtures, iframe srcdoc attributes or plain HTTP fetches, and element
// operations mutate the parsed tree the way a browser would mutate the DOM
// (value, checked and selected attributes). It backs dry runs and every test
// that should not need a real browser.
package static

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"browser-automation/internal/config"
	"browser-automation/internal/entity"
	"browser-automation/internal/ports"
	"browser-automation/pkg/logg"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const (
	staticDriverName = "StaticDriver"
	maxFrameDepth    = 4
	blankURL         = "about:blank"
	srcdocURL        = "about:srcdoc"
	frameLoadTimeout = 10 * time.Second

	// documents past this size are truncated before parsing
	maxDocumentBytes = 8 << 20
)

type Driver struct {
	logger   *zap.Logger
	client   *http.Client
	viewport entity.Viewport
	maxBytes int64

	mu    sync.RWMutex
	pages map[string]string

	launched atomic.Int64
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewDriver(params Params) *Driver {
	d := New(params.Logger)

	if bc := params.Config.BrowserConfig; bc != nil && bc.ViewportWidth > 0 && bc.ViewportHeight > 0 {
		d.viewport = entity.Viewport{Width: bc.ViewportWidth, Height: bc.ViewportHeight}
	}

	return d
}

func New(logger *zap.Logger) *Driver {
	return &Driver{
		logger:   logger.With(zap.String(logg.Layer, staticDriverName)),
		client:   &http.Client{},
		viewport: entity.Viewport{Width: 1280, Height: 720},
		maxBytes: maxDocumentBytes,
		pages:    make(map[string]string),
	}
}

// Register serves markup for url without touching the network. Frames whose
// src resolves to url load it as well.
func (d *Driver) Register(url, markup string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pages[url] = markup
}

// Launched counts instances started since the driver was created.
func (d *Driver) Launched() int {
	return int(d.launched.Load())
}

func (d *Driver) Launch(ctx context.Context, opts entity.SessionOptions) (ports.BrowserInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	viewport := d.viewport
	if opts.Viewport != nil && opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		viewport = *opts.Viewport
	}

	d.launched.Add(1)

	inst := &Instance{}
	inst.page = &Page{
		driver:   d,
		instance: inst,
		viewport: viewport,
	}
	inst.page.reset(blankURL, emptyDocument())

	d.logger.Debug("Instance launched", zap.String(logg.Browser, string(opts.BrowserKind)))

	return inst, nil
}

func (d *Driver) Shutdown(context.Context) error {
	return nil
}

// load returns the markup and status code for url.
func (d *Driver) load(url string, timeout time.Duration) (*html.Node, int, error) {
	if url == "" || url == blankURL {
		return emptyDocument(), 0, nil
	}

	d.mu.RLock()
	markup, ok := d.pages[url]
	d.mu.RUnlock()

	if ok {
		root, err := html.Parse(strings.NewReader(markup))
		if err != nil {
			return nil, 0, err
		}

		return root, http.StatusOK, nil
	}

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, 0, fmt.Errorf("unsupported url %q", url)
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ports.ErrAttemptTimeout
		}

		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := charset.NewReader(io.LimitReader(resp.Body, d.maxBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, 0, err
	}

	root, err := html.Parse(body)
	if err != nil {
		return nil, 0, err
	}

	return root, resp.StatusCode, nil
}

func emptyDocument() *html.Node {
	root, _ := html.Parse(strings.NewReader("<html><head></head><body></body></html>"))

	return root
}

// Instance is one launched "browser" holding a single page.
type Instance struct {
	page   *Page
	closed atomic.Bool
}

func (i *Instance) Page() ports.Page {
	return i.page
}

func (i *Instance) StaticPage() *Page {
	return i.page
}

func (i *Instance) Closed() bool {
	return i.closed.Load()
}

func (i *Instance) Close() error {
	if !i.closed.CompareAndSwap(false, true) {
		return ports.ErrClosed
	}

	return nil
}
