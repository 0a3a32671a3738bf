package static

import (
	"fmt"
	"strings"
	"time"

	"browser-automation/internal/ports"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Document is the main page or one frame. Element operations behave like a
// browser whose timeout already elapsed: an element that would never become
// visible or editable fails with ports.ErrAttemptTimeout.
type Document struct {
	page *Page
	root *html.Node
	name string
	url  string
	main bool

	clicks []string
}

func (d *Document) IsMain() bool { return d.main }
func (d *Document) Name() string { return d.name }
func (d *Document) URL() string  { return d.url }

func (d *Document) Click(selector string, _ time.Duration) error {
	return d.withElement(selector, func(n *html.Node) error {
		if isDisabled(n) {
			return ports.ErrAttemptTimeout
		}

		if n.Data == "input" {
			switch inputType(n) {
			case "checkbox":
				setChecked(n, !hasAttr(n, "checked"))
			case "radio":
				setChecked(n, true)
			}
		}

		d.clicks = append(d.clicks, describe(n))

		return nil
	})
}

func (d *Document) Fill(selector, value string, _ time.Duration) error {
	return d.withElement(selector, func(n *html.Node) error {
		n = d.retarget(n)

		editable := hasAttr(n, "contenteditable") && attrValue(n, "contenteditable") != "false"
		if n.Data != "textarea" && !editable && (n.Data != "input" || !fillable(inputType(n))) {
			return fmt.Errorf("%w: <%s> is not an input, textarea or editable element", ports.ErrNotInteractable, n.Data)
		}

		if isDisabled(n) || hasAttr(n, "readonly") {
			return ports.ErrAttemptTimeout
		}

		if n.Data == "input" {
			setAttr(n, "value", value)
			return nil
		}

		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}

		n.AppendChild(&html.Node{Type: html.TextNode, Data: value})

		return nil
	})
}

func (d *Document) SelectOption(selector, value string, _ time.Duration) (string, error) {
	var chosen string

	err := d.withElement(selector, func(n *html.Node) error {
		n = d.retarget(n)
		if n.Data != "select" {
			return fmt.Errorf("%w: <%s> is not a select element", ports.ErrNotInteractable, n.Data)
		}

		if isDisabled(n) {
			return ports.ErrAttemptTimeout
		}

		needle := strings.ToLower(strings.TrimSpace(value))
		options := htmlquery.Find(n, ".//option")

		var match *html.Node

		for _, opt := range options {
			text := normalizeSpace(htmlquery.InnerText(opt))
			if strings.Contains(strings.ToLower(text), needle) {
				match, chosen = opt, text
				break
			}
		}

		if match == nil {
			return ports.ErrOptionNotFound
		}

		if !hasAttr(n, "multiple") {
			for _, opt := range options {
				removeAttr(opt, "selected")
			}
		}

		setAttr(match, "selected", "")

		return nil
	})

	return chosen, err
}

func (d *Document) Hover(selector string, _ time.Duration) error {
	return d.withElement(selector, func(*html.Node) error { return nil })
}

func (d *Document) Check(selector string, _ time.Duration) error {
	return d.setCheckState(selector, true)
}

func (d *Document) Uncheck(selector string, _ time.Duration) error {
	return d.setCheckState(selector, false)
}

func (d *Document) WaitVisible(selector string, _ time.Duration) error {
	return d.withElement(selector, func(*html.Node) error { return nil })
}

// Clicks lists the clicked elements in order as tag#id or tag[name="..."].
func (d *Document) Clicks() []string {
	d.page.mu.Lock()
	defer d.page.mu.Unlock()

	return append([]string(nil), d.clicks...)
}

// Value reads the current value of the first element matching selector.
func (d *Document) Value(selector string) (string, error) {
	d.page.mu.Lock()
	defer d.page.mu.Unlock()

	n, err := d.element(selector)
	if err != nil {
		return "", err
	}

	n = d.retarget(n)
	if n.Data == "textarea" {
		return htmlquery.InnerText(n), nil
	}

	if n.Data == "select" {
		for _, opt := range htmlquery.Find(n, ".//option") {
			if hasAttr(opt, "selected") {
				return normalizeSpace(htmlquery.InnerText(opt)), nil
			}
		}

		return "", nil
	}

	return attrValue(n, "value"), nil
}

func (d *Document) Checked(selector string) (bool, error) {
	d.page.mu.Lock()
	defer d.page.mu.Unlock()

	n, err := d.element(selector)
	if err != nil {
		return false, err
	}

	n = d.retarget(n)

	return hasAttr(n, "checked") || attrValue(n, "aria-checked") == "true", nil
}

func (d *Document) setCheckState(selector string, checked bool) error {
	return d.withElement(selector, func(n *html.Node) error {
		n = d.retarget(n)

		switch {
		case n.Data == "input" && (inputType(n) == "checkbox" || inputType(n) == "radio"):
			if !checked && inputType(n) == "radio" {
				return fmt.Errorf("%w: cannot uncheck a radio button", ports.ErrNotInteractable)
			}

			if isDisabled(n) {
				return ports.ErrAttemptTimeout
			}

			setChecked(n, checked)
		case attrValue(n, "role") == "checkbox":
			if checked {
				setAttr(n, "aria-checked", "true")
			} else {
				setAttr(n, "aria-checked", "false")
			}
		default:
			return fmt.Errorf("%w: <%s> is not a checkbox or radio input", ports.ErrNotInteractable, n.Data)
		}

		return nil
	})
}

// withElement runs fn on the first visible match of selector with the page
// tree locked.
func (d *Document) withElement(selector string, fn func(*html.Node) error) error {
	if err := d.page.checkOpen(); err != nil {
		return err
	}

	d.page.mu.Lock()
	defer d.page.mu.Unlock()

	n, err := d.visibleElement(selector)
	if err != nil {
		return err
	}

	return fn(n)
}

func (d *Document) visibleElement(selector string) (*html.Node, error) {
	n, err := d.element(selector)
	if err != nil {
		return nil, err
	}

	if !visible(n) {
		return nil, ports.ErrAttemptTimeout
	}

	return n, nil
}

func (d *Document) element(selector string) (*html.Node, error) {
	nodes, err := d.query(selector)
	if err != nil {
		return nil, err
	}

	if len(nodes) == 0 {
		return nil, ports.ErrNoMatch
	}

	return nodes[0], nil
}

// query evaluates xpath= and // expressions with htmlquery and everything
// else as CSS through goquery.
func (d *Document) query(selector string) ([]*html.Node, error) {
	selector = strings.TrimSpace(selector)

	switch {
	case strings.HasPrefix(selector, "xpath="):
		return d.xpath(strings.TrimPrefix(selector, "xpath="))
	case strings.HasPrefix(selector, "/"), strings.HasPrefix(selector, "(/"), strings.HasPrefix(selector, "./"):
		return d.xpath(selector)
	case strings.HasPrefix(selector, "css="):
		selector = strings.TrimPrefix(selector, "css=")
	case strings.HasPrefix(selector, "id="):
		return d.attrEquals("id", strings.TrimPrefix(selector, "id=")), nil
	case strings.HasPrefix(selector, "data-testid="):
		return d.attrEquals("data-testid", strings.TrimPrefix(selector, "data-testid=")), nil
	case strings.HasPrefix(selector, "text="), strings.HasPrefix(selector, "role="), strings.HasPrefix(selector, "internal:"):
		return nil, fmt.Errorf("%w: selector engine in %q", ports.ErrUnsupported, selector)
	}

	return goquery.NewDocumentFromNode(d.root).Find(selector).Nodes, nil
}

func (d *Document) xpath(expr string) ([]*html.Node, error) {
	nodes, err := htmlquery.QueryAll(d.root, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}

	out := nodes[:0]
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			out = append(out, n)
		}
	}

	return out, nil
}

func (d *Document) attrEquals(name, value string) []*html.Node {
	value = strings.Trim(value, `"'`)

	var out []*html.Node

	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && attrValue(n, name) == value {
			out = append(out, n)
		}

		return true
	})

	return out
}

// retarget follows a label to the control it labels, like the browser does
// for fill, select and check.
func (d *Document) retarget(n *html.Node) *html.Node {
	if n.Data != "label" {
		return n
	}

	if id := attrValue(n, "for"); id != "" {
		if nodes := d.attrEquals("id", id); len(nodes) > 0 {
			return nodes[0]
		}
	}

	var control *html.Node

	walk(n, func(c *html.Node) bool {
		if control != nil {
			return false
		}

		if c.Type == html.ElementNode && (c.Data == "input" || c.Data == "select" || c.Data == "textarea") {
			control = c
			return false
		}

		return true
	})

	if control != nil {
		return control
	}

	return n
}

func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

var hiddenContainers = map[string]struct{}{
	"head": {}, "script": {}, "style": {}, "template": {}, "noscript": {}, "title": {}, "meta": {},
}

func visible(n *html.Node) bool {
	if n.Data == "input" && inputType(n) == "hidden" {
		return false
	}

	for c := n; c != nil; c = c.Parent {
		if c.Type != html.ElementNode {
			continue
		}

		if _, ok := hiddenContainers[c.Data]; ok {
			return false
		}

		if hasAttr(c, "hidden") {
			return false
		}

		style := strings.ReplaceAll(strings.ToLower(attrValue(c, "style")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}

	return true
}

func fillable(typ string) bool {
	switch typ {
	case "checkbox", "radio", "submit", "button", "reset", "file", "image", "hidden", "range", "color":
		return false
	default:
		return true
	}
}

func inputType(n *html.Node) string {
	typ := strings.ToLower(attrValue(n, "type"))
	if typ == "" {
		return "text"
	}

	return typ
}

func isDisabled(n *html.Node) bool {
	return hasAttr(n, "disabled")
}

func setChecked(n *html.Node, checked bool) {
	if !checked {
		removeAttr(n, "checked")
		return
	}

	setAttr(n, "checked", "")
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}

	return "", false
}

func attrValue(n *html.Node, name string) string {
	v, _ := attr(n, name)

	return v
}

func hasAttr(n *html.Node, name string) bool {
	_, ok := attr(n, name)

	return ok
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}

	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != name {
			out = append(out, a)
		}
	}

	n.Attr = out
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
