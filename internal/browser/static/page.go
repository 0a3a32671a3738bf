package static

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"browser-automation/internal/entity"
	"browser-automation/internal/ports"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

type Page struct {
	driver   *Driver
	instance *Instance
	viewport entity.Viewport

	// mu guards the tree of every document on the page.
	mu     sync.Mutex
	url    string
	main   *Document
	frames []*Document
}

func (p *Page) reset(pageURL string, root *html.Node) {
	p.url = pageURL
	p.main = &Document{page: p, root: root, url: pageURL, main: true}
	p.frames = nil
	p.collectFrames(root, pageURL, 1)
}

// collectFrames appends every iframe and frame of root depth first, which is
// the order a browser reports them in.
func (p *Page) collectFrames(root *html.Node, baseURL string, depth int) {
	if depth > maxFrameDepth {
		return
	}

	for _, el := range htmlquery.Find(root, "//iframe | //frame") {
		doc := &Document{page: p, name: frameName(el)}

		if srcdoc, ok := attr(el, "srcdoc"); ok {
			doc.url = srcdocURL
			doc.root, _ = html.Parse(strings.NewReader(srcdoc))
		} else {
			src, _ := attr(el, "src")
			doc.url = resolveURL(baseURL, src)

			var err error

			doc.root, _, err = p.driver.load(doc.url, frameLoadTimeout)
			if err != nil {
				p.driver.logger.Debug("Frame load failed", zap.String("frame", doc.url), zap.Error(err))
				doc.root = emptyDocument()
			}
		}

		if doc.root == nil {
			doc.root = emptyDocument()
		}

		p.frames = append(p.frames, doc)
		p.collectFrames(doc.root, doc.url, depth+1)
	}
}

func (p *Page) checkOpen() error {
	if p.instance.Closed() {
		return ports.ErrClosed
	}

	return nil
}

func (p *Page) Goto(target string, timeout time.Duration) (int, error) {
	if err := p.checkOpen(); err != nil {
		return 0, err
	}

	root, status, err := p.driver.load(target, timeout)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.reset(target, root)

	return status, nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.url
}

func (p *Page) Title() (string, error) {
	if err := p.checkOpen(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	doc := goquery.NewDocumentFromNode(p.main.root)

	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}

func (p *Page) Content() (string, error) {
	if err := p.checkOpen(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var buf bytes.Buffer
	if err := html.Render(&buf, p.main.root); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// Screenshot renders a blank canvas the size of the viewport, or of the
// element when a selector is given, since nothing is laid out.
func (p *Page) Screenshot(opts entity.ScreenshotOptions) ([]byte, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	width, height := p.viewport.Width, p.viewport.Height

	if opts.Selector != "" {
		p.mu.Lock()
		_, err := p.main.visibleElement(opts.Selector)
		p.mu.Unlock()

		if err != nil {
			return nil, err
		}

		width, height = width/4, height/8
	}

	img := image.NewRGBA(image.Rect(0, 0, max(width, 1), max(height, 1)))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	var buf bytes.Buffer

	var err error
	if opts.Format == entity.ImageJPEG {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80})
	} else {
		err = png.Encode(&buf, img)
	}

	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (p *Page) Evaluate(string) (any, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	return nil, ports.ErrUnsupported
}

// WaitForLoad returns at once: Goto only returns after the tree is parsed.
func (p *Page) WaitForLoad(time.Duration) error {
	return p.checkOpen()
}

// WaitForURL accepts an exact url or a path.Match glob.
func (p *Page) WaitForURL(want string, _ time.Duration) error {
	if err := p.checkOpen(); err != nil {
		return err
	}

	current := p.URL()
	if current == want {
		return nil
	}

	if ok, _ := path.Match(want, current); ok {
		return nil
	}

	return ports.ErrAttemptTimeout
}

func (p *Page) MainDocument() ports.Document {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.main
}

func (p *Page) Frames() []ports.Document {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ports.Document, 0, len(p.frames)+1)
	out = append(out, p.main)

	for _, f := range p.frames {
		out = append(out, f)
	}

	return out
}

// StaticFrames exposes the concrete documents for inspection in tests.
func (p *Page) StaticFrames() []*Document {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*Document{p.main}, p.frames...)
}

func frameName(el *html.Node) string {
	if name, ok := attr(el, "name"); ok && name != "" {
		return name
	}

	id, _ := attr(el, "id")

	return id
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return blankURL
	}

	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ref
	}

	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}

	return b.ResolveReference(r).String()
}

func describe(n *html.Node) string {
	var b strings.Builder
	b.WriteString(n.Data)

	if id, ok := attr(n, "id"); ok && id != "" {
		b.WriteString("#" + id)
	} else if name, ok := attr(n, "name"); ok && name != "" {
		b.WriteString("[name=" + strconv.Quote(name) + "]")
	}

	return b.String()
}
