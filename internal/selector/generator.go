// Package selector turns a human description of an element into an ordered
// list of candidate selector expressions.
//
// Candidates are XPath 1.0 expressions prefixed with "xpath=" so that they can
// be handed to the browser driver unchanged. Order is significant: the
// executor tries them front to back and the first one that resolves wins, so
// cheap and precise matches come before broad ones.
package selector

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const xpathPrefix = "xpath="

type Strategy string

const (
	StrategyExact       Strategy = "exact"
	StrategyLower       Strategy = "exact-lower"
	StrategyUpper       Strategy = "exact-upper"
	StrategyCapitalized Strategy = "exact-capitalized"
	StrategyContains    Strategy = "contains"
	StrategyAriaLabel   Strategy = "aria-label"
	StrategyPlaceholder Strategy = "placeholder"
	StrategyTitle       Strategy = "title"
	StrategyLink        Strategy = "link"
	StrategyButton      Strategy = "button"
	StrategyRoleButton  Strategy = "role-button"
	StrategyRoleLink    Strategy = "role-link"
	StrategyVisibleText Strategy = "visible-text"
	StrategyLabelFor    Strategy = "label-for"
	StrategyLabelNested Strategy = "label-nested"
	StrategyLabel       Strategy = "label"
	StrategyRaw         Strategy = "raw"
)

type Candidate struct {
	Strategy   Strategy
	Expression string
}

// List is ordered most specific first.
type List []Candidate

func (l List) Expressions() []string {
	out := make([]string, len(l))
	for i, c := range l {
		out[i] = c.Expression
	}

	return out
}

type options struct {
	labelFallback bool
	exactOnly     bool
}

type Option func(*options)

// WithLabelFallback appends the label-association strategies used for
// type and select targets.
func WithLabelFallback() Option {
	return func(o *options) {
		o.labelFallback = true
	}
}

// ExactOnly keeps the exact-text strategies and drops every fuzzy one.
func ExactOnly() Option {
	return func(o *options) {
		o.exactOnly = true
	}
}

var textKinds = []string{
	"a", "button", "input", "select", "textarea", "label",
	"h1", "h2", "h3", "h4", "h5", "h6",
	"p", "span", "div",
}

var kindPredicate = buildKindPredicate(textKinds)

const (
	upperASCII = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerASCII = "abcdefghijklmnopqrstuvwxyz"
)

// ForTarget builds the candidate list for a human-language target. Empty or
// blank text yields an empty list.
func ForTarget(text string, opts ...Option) List {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return List{}
	}

	b := &builder{seen: make(map[string]struct{})}

	b.add(StrategyExact, exactMatch(text))
	b.add(StrategyLower, exactMatch(strings.ToLower(text)))
	b.add(StrategyUpper, exactMatch(strings.ToUpper(text)))
	b.add(StrategyCapitalized, exactMatch(capitalize(text)))

	if o.exactOnly {
		return b.list
	}

	lit := literal(text)

	b.add(StrategyContains, "//*["+kindPredicate+"][text()[contains(normalize-space(.), "+lit+")] or (self::input and contains(@value, "+lit+"))]")

	b.add(StrategyAriaLabel, "//*[contains(@aria-label, "+lit+")]")
	b.add(StrategyPlaceholder, "//*[contains(@placeholder, "+lit+")]")
	b.add(StrategyTitle, "//*[contains(@title, "+lit+")]")

	b.add(StrategyLink, "//a[contains(normalize-space(.), "+lit+")]")
	b.add(StrategyButton, "//button[contains(normalize-space(.), "+lit+")]")
	b.add(StrategyRoleButton, `//*[@role="button"][contains(normalize-space(.), `+lit+")]")
	b.add(StrategyRoleLink, `//*[@role="link"][contains(normalize-space(.), `+lit+")]")

	b.add(StrategyVisibleText, "//body//*[text()[contains("+foldCase("normalize-space(.)")+", "+literal(strings.ToLower(text))+")]]")

	if o.labelFallback {
		label := "//label[contains(normalize-space(.), " + lit + ")]"

		b.add(StrategyLabelFor, "//*[@id="+label+"/@for]")
		b.add(StrategyLabelNested, label+"//*[self::input or self::select or self::textarea]")
		b.add(StrategyLabel, label)
	}

	return b.list
}

// Raw wraps an explicit selector expression as a single-candidate list.
func Raw(expression string) List {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return List{}
	}

	return List{{Strategy: StrategyRaw, Expression: expression}}
}

var (
	rawPrefixes = []string{"xpath=", "css=", "text=", "id=", "role=", "data-testid=", "internal:", "//", "(//", "#", "[", "./"}

	// optional tag followed by id, class, attribute or pseudo parts: input#email, .btn, a[href]
	rawTagPattern = regexp.MustCompile(`^(?:[a-zA-Z][\w-]*)?(?:[#.][\w-]+|\[[^\]]+\]|:[\w-]+(?:\([^)]*\))?)+$`)
)

// IsRawSelector reports whether target already looks like a selector
// expression rather than human language.
func IsRawSelector(target string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return false
	}

	for _, prefix := range rawPrefixes {
		if strings.HasPrefix(target, prefix) {
			return true
		}
	}

	if strings.Contains(target, " > ") && !strings.ContainsAny(target, `"'`) {
		return true
	}

	return rawTagPattern.MatchString(target)
}

type builder struct {
	list List
	seen map[string]struct{}
}

func (b *builder) add(strategy Strategy, xpath string) {
	expr := xpathPrefix + xpath
	if _, dup := b.seen[expr]; dup {
		return
	}

	b.seen[expr] = struct{}{}
	b.list = append(b.list, Candidate{Strategy: strategy, Expression: expr})
}

func exactMatch(text string) string {
	lit := literal(text)

	return "//*[" + kindPredicate + "][normalize-space(text())=" + lit + " or (self::input and @value=" + lit + ")]"
}

func buildKindPredicate(kinds []string) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = "self::" + k
	}

	return strings.Join(parts, " or ")
}

func foldCase(expr string) string {
	return "translate(" + expr + ", '" + upperASCII + "', '" + lowerASCII + "')"
}

func capitalize(text string) string {
	r, size := utf8.DecodeRuneInString(text)
	if r == utf8.RuneError {
		return text
	}

	return string(unicode.ToUpper(r)) + strings.ToLower(text[size:])
}

// literal quotes s as an XPath 1.0 string literal. XPath has no escape
// sequences, so text holding both quote kinds is assembled with concat().
func literal(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}

	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}

	parts := strings.Split(s, `"`)
	args := make([]string, 0, len(parts)*2)

	for i, part := range parts {
		if i > 0 {
			args = append(args, `'"'`)
		}

		if part != "" {
			args = append(args, `"`+part+`"`)
		}
	}

	if len(args) == 1 {
		return args[0]
	}

	return "concat(" + strings.Join(args, ", ") + ")"
}
