package browser

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"browser-automation/internal/entity"
	"browser-automation/internal/ports"

	"github.com/playwright-community/playwright-go"
)

// Instance owns one browser with its single context and page.
type Instance struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    *Page
	closed  atomic.Bool
}

func newInstance(browser playwright.Browser, browserContext playwright.BrowserContext, page playwright.Page) *Instance {
	inst := &Instance{browser: browser, context: browserContext}
	inst.page = &Page{page: page, instance: inst}

	return inst
}

func (i *Instance) Page() ports.Page {
	return i.page
}

// Close closes the context, then the browser. A second call returns
// ports.ErrClosed.
func (i *Instance) Close() error {
	if !i.closed.CompareAndSwap(false, true) {
		return ports.ErrClosed
	}

	return errors.Join(translate(i.context.Close()), translate(i.browser.Close()))
}

type Page struct {
	page     playwright.Page
	instance *Instance
}

func (p *Page) checkOpen() error {
	if p.instance.closed.Load() || p.page.IsClosed() {
		return ports.ErrClosed
	}

	return nil
}

func (p *Page) Goto(url string, timeout time.Duration) (int, error) {
	if err := p.checkOpen(); err != nil {
		return 0, err
	}

	resp, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   millis(timeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return 0, translate(err)
	}

	// about: and data: urls have no response
	if resp == nil {
		return 0, nil
	}

	return resp.Status(), nil
}

func (p *Page) URL() string {
	return p.page.URL()
}

func (p *Page) Title() (string, error) {
	if err := p.checkOpen(); err != nil {
		return "", err
	}

	title, err := p.page.Title()

	return title, translate(err)
}

func (p *Page) Content() (string, error) {
	if err := p.checkOpen(); err != nil {
		return "", err
	}

	content, err := p.page.Content()

	return content, translate(err)
}

func (p *Page) Screenshot(opts entity.ScreenshotOptions) ([]byte, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	typ := playwright.ScreenshotTypePng
	if opts.Format == entity.ImageJPEG {
		typ = playwright.ScreenshotTypeJpeg
	}

	if opts.Selector != "" {
		loc := p.page.Locator(opts.Selector).First()

		n, err := loc.Count()
		if err != nil {
			return nil, translate(err)
		}

		if n == 0 {
			return nil, fmt.Errorf("%w: %s", ports.ErrNoMatch, opts.Selector)
		}

		data, err := loc.Screenshot(playwright.LocatorScreenshotOptions{Type: typ})

		return data, translate(err)
	}

	data, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(opts.FullPage),
		Type:     typ,
	})

	return data, translate(err)
}

func (p *Page) Evaluate(expression string) (any, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	v, err := p.page.Evaluate(expression)

	return v, translate(err)
}

func (p *Page) WaitForLoad(timeout time.Duration) error {
	if err := p.checkOpen(); err != nil {
		return err
	}

	return translate(p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateLoad,
		Timeout: millis(timeout),
	}))
}

func (p *Page) WaitForURL(url string, timeout time.Duration) error {
	if err := p.checkOpen(); err != nil {
		return err
	}

	return translate(p.page.WaitForURL(url, playwright.PageWaitForURLOptions{
		Timeout: millis(timeout),
	}))
}

func (p *Page) MainDocument() ports.Document {
	return &Document{frame: p.page.MainFrame(), page: p, main: true}
}

func (p *Page) Frames() []ports.Document {
	main := p.page.MainFrame()
	frames := p.page.Frames()

	out := make([]ports.Document, 0, len(frames))
	for _, f := range frames {
		out = append(out, &Document{frame: f, page: p, main: f == main})
	}

	return out
}

// Document runs element operations inside one frame. Each operation targets
// the first element the selector matches; a selector matching nothing fails
// at once with ports.ErrNoMatch instead of waiting out the timeout.
type Document struct {
	frame playwright.Frame
	page  *Page
	main  bool
}

func (d *Document) IsMain() bool { return d.main }
func (d *Document) Name() string { return d.frame.Name() }
func (d *Document) URL() string  { return d.frame.URL() }

func (d *Document) Click(selector string, timeout time.Duration) error {
	loc, err := d.locate(selector)
	if err != nil {
		return err
	}

	return translate(loc.Click(playwright.LocatorClickOptions{Timeout: millis(timeout)}))
}

func (d *Document) Fill(selector, value string, timeout time.Duration) error {
	loc, err := d.locate(selector)
	if err != nil {
		return err
	}

	return translate(loc.Fill(value, playwright.LocatorFillOptions{Timeout: millis(timeout)}))
}

// optionScript finds the first option whose text contains the lower-cased
// needle. Labels resolve to their control first.
const optionScript = `(el, needle) => {
	const target = el.control || el;
	if (!(target instanceof HTMLSelectElement)) {
		return { select: false };
	}
	const option = Array.from(target.options).find((o) => o.text.toLowerCase().includes(needle));
	if (!option) {
		return { select: true, found: false };
	}
	return { select: true, found: true, label: option.label, text: option.text.trim() };
}`

func (d *Document) SelectOption(selector, value string, timeout time.Duration) (string, error) {
	loc, err := d.locate(selector)
	if err != nil {
		return "", err
	}

	err = loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: millis(timeout),
	})
	if err != nil {
		return "", translate(err)
	}

	raw, err := loc.Evaluate(optionScript, strings.ToLower(strings.TrimSpace(value)), playwright.LocatorEvaluateOptions{
		Timeout: millis(timeout),
	})
	if err != nil {
		return "", translate(err)
	}

	match, _ := raw.(map[string]any)
	if isSelect, _ := match["select"].(bool); !isSelect {
		return "", fmt.Errorf("%w: %s is not a select element", ports.ErrNotInteractable, selector)
	}

	if found, _ := match["found"].(bool); !found {
		return "", ports.ErrOptionNotFound
	}

	label, _ := match["label"].(string)
	text, _ := match["text"].(string)

	_, err = loc.SelectOption(playwright.SelectOptionValues{Labels: &[]string{label}}, playwright.LocatorSelectOptionOptions{
		Timeout: millis(timeout),
	})
	if err != nil {
		return "", translate(err)
	}

	return text, nil
}

func (d *Document) Hover(selector string, timeout time.Duration) error {
	loc, err := d.locate(selector)
	if err != nil {
		return err
	}

	return translate(loc.Hover(playwright.LocatorHoverOptions{Timeout: millis(timeout)}))
}

func (d *Document) Check(selector string, timeout time.Duration) error {
	loc, err := d.locate(selector)
	if err != nil {
		return err
	}

	return translate(loc.Check(playwright.LocatorCheckOptions{Timeout: millis(timeout)}))
}

func (d *Document) Uncheck(selector string, timeout time.Duration) error {
	loc, err := d.locate(selector)
	if err != nil {
		return err
	}

	return translate(loc.Uncheck(playwright.LocatorUncheckOptions{Timeout: millis(timeout)}))
}

func (d *Document) WaitVisible(selector string, timeout time.Duration) error {
	loc, err := d.locate(selector)
	if err != nil {
		return err
	}

	return translate(loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: millis(timeout),
	}))
}

func (d *Document) locate(selector string) (playwright.Locator, error) {
	if err := d.page.checkOpen(); err != nil {
		return nil, err
	}

	if d.frame.IsDetached() {
		return nil, fmt.Errorf("%w: frame %q detached", ports.ErrNoMatch, d.frame.Name())
	}

	loc := d.frame.Locator(selector).First()

	n, err := loc.Count()
	if err != nil {
		return nil, translate(err)
	}

	if n == 0 {
		return nil, ports.ErrNoMatch
	}

	return loc, nil
}
