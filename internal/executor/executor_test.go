package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"browser-automation/internal/browser/static"
	"browser-automation/internal/entity"
	"browser-automation/internal/ports"
	"browser-automation/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	loginPage = `<html><body>
<div><p>Please Login here</p><button id="login">Login</button></div>
<label for="email">Email</label><input id="email" type="email">
<select id="size" name="size"><option>Small</option><option>Large</option></select>
<input id="terms" type="checkbox" aria-label="Accept terms">
</body></html>`

	framedPage = `<html><body>
<h1>Checkout</h1>
<iframe name="payment" srcdoc="&lt;form&gt;&lt;button id=&quot;submit&quot;&gt;Submit&lt;/button&gt;&lt;/form&gt;"></iframe>
</body></html>`
)

func staticPage(t *testing.T, url, markup string) (*static.Instance, ports.Page) {
	t.Helper()

	d := static.New(zap.NewNop())
	d.Register(url, markup)

	inst, err := d.Launch(context.Background(), entity.SessionOptions{})
	require.NoError(t, err)

	page := inst.Page()
	_, err = page.Goto(url, time.Second)
	require.NoError(t, err)

	return inst.(*static.Instance), page
}

func newExecutor() *Executor {
	return New(Policy{AttemptTimeout: 50 * time.Millisecond, CommandTimeout: 5 * time.Second, NavigationTimeout: time.Second}, zap.NewNop(), nil)
}

func TestExecute_ExactMatchWinsOverContaining(t *testing.T) {
	inst, page := staticPage(t, "https://site.test/login", loginPage)

	res, err := newExecutor().Execute(context.Background(), page, entity.Command{Action: entity.ActionClick, Target: "Login"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, Candidates(entity.Command{Action: entity.ActionClick, Target: "Login"})[0].Expression, res.ResolvedSelector)
	assert.True(t, res.Document.Main)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, []string{"button#login"}, inst.StaticPage().StaticFrames()[0].Clicks())
}

func TestExecute_FallsBackToFrame(t *testing.T) {
	inst, page := staticPage(t, "https://site.test/checkout", framedPage)

	cmd := entity.Command{Action: entity.ActionClick, Target: "Submit"}
	res, err := newExecutor().Execute(context.Background(), page, cmd)
	require.NoError(t, err)

	assert.False(t, res.Document.Main)
	assert.Equal(t, 1, res.Document.Index)
	assert.Equal(t, "payment", res.Document.Name)

	candidates := Candidates(cmd)
	require.Len(t, res.Attempts, len(candidates)+1)

	for i, a := range res.Attempts[:len(candidates)] {
		assert.True(t, a.Document.Main)
		assert.Equal(t, candidates[i].Expression, a.Selector)
		assert.Equal(t, entity.OutcomeNotFound, a.Outcome)
	}

	assert.Equal(t, entity.OutcomeSuccess, res.Attempts[len(candidates)].Outcome)

	frames := inst.StaticPage().StaticFrames()
	assert.Empty(t, frames[0].Clicks())
	assert.Equal(t, []string{"button#submit"}, frames[1].Clicks())
}

func TestExecute_TypeThroughLabel(t *testing.T) {
	inst, page := staticPage(t, "https://site.test/login", loginPage)

	res, err := newExecutor().Execute(context.Background(), page, entity.Command{Action: entity.ActionType, Target: "email", Value: "a@b.com"})
	require.NoError(t, err)
	assert.True(t, res.Document.Main)

	v, err := inst.StaticPage().StaticFrames()[0].Value("#email")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", v)
}

func TestExecute_Select(t *testing.T) {
	_, page := staticPage(t, "https://site.test/login", loginPage)
	exec := newExecutor()

	res, err := exec.Execute(context.Background(), page, entity.Command{Action: entity.ActionSelect, Target: "#size", Value: "large"})
	require.NoError(t, err)
	assert.Equal(t, "Large", res.Data)
	assert.Equal(t, "#size", res.ResolvedSelector)

	_, err = exec.Execute(context.Background(), page, entity.Command{Action: entity.ActionSelect, Target: "#size", Value: "huge"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeOptionNotFound, apperr.CodeOf(err))

	_, err = exec.Execute(context.Background(), page, entity.Command{Action: entity.ActionSelect, Target: "#size"})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestExecute_CheckAndWait(t *testing.T) {
	inst, page := staticPage(t, "https://site.test/login", loginPage)
	exec := newExecutor()

	_, err := exec.Execute(context.Background(), page, entity.Command{Action: entity.ActionCheck, Target: "Accept terms"})
	require.NoError(t, err)

	checked, err := inst.StaticPage().StaticFrames()[0].Checked("#terms")
	require.NoError(t, err)
	assert.True(t, checked)

	_, err = exec.Execute(context.Background(), page, entity.Command{Action: entity.ActionUncheck, Target: "#terms"})
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), page, entity.Command{Action: entity.ActionWaitForElement, Target: "Login"})
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), page, entity.Command{Action: entity.ActionHover, Target: "Login"})
	require.NoError(t, err)
}

func TestExecute_RawAndExactOptions(t *testing.T) {
	_, page := staticPage(t, "https://site.test/login", loginPage)
	exec := newExecutor()

	res, err := exec.Execute(context.Background(), page, entity.Command{
		Action:  entity.ActionClick,
		Target:  "button",
		Options: map[string]any{entity.OptionRaw: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "button", res.ResolvedSelector)

	_, err = exec.Execute(context.Background(), page, entity.Command{
		Action:  entity.ActionClick,
		Target:  "Please",
		Options: map[string]any{entity.OptionExact: true},
	})
	assert.Equal(t, apperr.CodeElementNotFound, apperr.CodeOf(err))

	_, err = exec.Execute(context.Background(), page, entity.Command{Action: entity.ActionClick, Target: "Please"})
	require.NoError(t, err)
}

func TestExecute_EmptyTargetFailsWithoutTraversal(t *testing.T) {
	page := newRecordingPage(nil, "main", "f1")

	_, err := newExecutor().Execute(context.Background(), page, entity.Command{Action: entity.ActionClick, Target: "   "})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeElementNotFound, apperr.CodeOf(err))
	assert.Empty(t, page.calls())
}

func TestExecute_ExhaustionTriesEveryPairingOnce(t *testing.T) {
	page := newRecordingPage(ports.ErrNoMatch, "main", "f1", "f2")
	cmd := entity.Command{Action: entity.ActionClick, Target: "Continue"}

	_, err := newExecutor().Execute(context.Background(), page, cmd)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeElementNotFound, apperr.CodeOf(err))

	candidates := Candidates(cmd)
	calls := page.calls()
	require.Len(t, calls, 3*len(candidates))

	seen := make(map[string]int)
	for i, c := range calls {
		seen[c.doc+" "+c.selector]++

		assert.Equal(t, []string{"main", "f1", "f2"}[i/len(candidates)], c.doc)
		assert.Equal(t, candidates[i%len(candidates)].Expression, c.selector)
	}

	for pairing, n := range seen {
		assert.Equal(t, 1, n, pairing)
	}

	assert.Equal(t, 3*len(candidates), apperr.MetaOf(err)[apperr.MetaAttempts])
}

func TestExecute_FailedAttemptsAdvance(t *testing.T) {
	page := newRecordingPage(ports.ErrNotInteractable, "main")

	_, err := newExecutor().Execute(context.Background(), page, entity.Command{Action: entity.ActionClick, Target: "Go"})
	assert.Equal(t, apperr.CodeElementNotFound, apperr.CodeOf(err))
	assert.Len(t, page.calls(), len(Candidates(entity.Command{Action: entity.ActionClick, Target: "Go"})))
}

func TestExecute_CommandTimeout(t *testing.T) {
	page := newRecordingPage(ports.ErrAttemptTimeout, "main", "f1")
	page.sleep = true

	exec := New(Policy{AttemptTimeout: 20 * time.Millisecond, CommandTimeout: 70 * time.Millisecond}, zap.NewNop(), nil)

	started := time.Now()
	_, err := exec.Execute(context.Background(), page, entity.Command{Action: entity.ActionClick, Target: "Slow"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeTimeout, apperr.CodeOf(err))
	assert.Less(t, time.Since(started), time.Second)

	for _, c := range page.calls() {
		assert.LessOrEqual(t, c.timeout, 20*time.Millisecond)
	}
}

func TestExecute_CommandTimeoutOption(t *testing.T) {
	page := newRecordingPage(ports.ErrAttemptTimeout, "main")
	page.sleep = true

	exec := New(Policy{AttemptTimeout: 20 * time.Millisecond, CommandTimeout: time.Minute}, zap.NewNop(), nil)

	_, err := exec.Execute(context.Background(), page, entity.Command{
		Action:  entity.ActionClick,
		Target:  "Slow",
		Options: map[string]any{entity.OptionTimeout: float64(30)},
	})
	assert.Equal(t, apperr.CodeTimeout, apperr.CodeOf(err))
}

func TestExecute_CancelledContext(t *testing.T) {
	page := newRecordingPage(ports.ErrNoMatch, "main")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newExecutor().Execute(ctx, page, entity.Command{Action: entity.ActionClick, Target: "Anything"})
	assert.Equal(t, apperr.CodeTimeout, apperr.CodeOf(err))
	assert.Empty(t, page.calls())
}

func TestExecute_ClosedSession(t *testing.T) {
	inst, page := staticPage(t, "https://site.test/login", loginPage)
	require.NoError(t, inst.Close())

	_, err := newExecutor().Execute(context.Background(), page, entity.Command{Action: entity.ActionClick, Target: "Login"})
	assert.Equal(t, apperr.CodeSessionNotFound, apperr.CodeOf(err))
}

func TestExecute_UnsupportedAction(t *testing.T) {
	_, err := newExecutor().Execute(context.Background(), newRecordingPage(nil, "main"), entity.Command{Action: "drag", Target: "x"})
	assert.Equal(t, apperr.CodeUnsupportedAction, apperr.CodeOf(err))
}

func TestExecute_Evaluate(t *testing.T) {
	exec := newExecutor()

	_, err := exec.Execute(context.Background(), newRecordingPage(nil, "main"), entity.Command{Action: entity.ActionEvaluate})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	res, err := exec.Execute(context.Background(), newRecordingPage(nil, "main"), entity.Command{Action: entity.ActionEvaluate, Value: "document.title"})
	require.NoError(t, err)
	assert.Equal(t, "document.title", res.Data)

	_, page := staticPage(t, "https://site.test/login", loginPage)
	_, err = exec.Execute(context.Background(), page, entity.Command{Action: entity.ActionEvaluate, Value: "1"})
	assert.Equal(t, apperr.CodeUnsupportedAction, apperr.CodeOf(err))
}

func TestExecute_WaitForNavigation(t *testing.T) {
	_, page := staticPage(t, "https://site.test/login", loginPage)
	exec := newExecutor()

	res, err := exec.Execute(context.Background(), page, entity.Command{Action: entity.ActionWaitForNavigation})
	require.NoError(t, err)
	assert.Equal(t, "https://site.test/login", res.Data)

	_, err = exec.Execute(context.Background(), page, entity.Command{Action: entity.ActionWaitForNavigation, Target: "https://site.test/*"})
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), page, entity.Command{Action: entity.ActionWaitForNavigation, Target: "https://elsewhere.test/"})
	assert.Equal(t, apperr.CodeTimeout, apperr.CodeOf(err))
}

func TestDocumentsOf_MainFirst(t *testing.T) {
	page := newRecordingPage(nil, "main", "a", "b")
	// report the main frame last to make sure it is not scanned twice
	page.reportMainLast = true

	docs := DocumentsOf(page)
	require.Len(t, docs, 3)
	assert.True(t, docs[0].Ref.Main)
	assert.Equal(t, "main", docs[0].Ref.Name)
	assert.Equal(t, "a", docs[1].Ref.Name)
	assert.Equal(t, 1, docs[1].Ref.Index)
	assert.Equal(t, "b", docs[2].Ref.Name)
	assert.Equal(t, 2, docs[2].Ref.Index)
}

func TestPolicyFromConfig(t *testing.T) {
	assert.Equal(t, DefaultPolicy(), PolicyFromConfig(nil))
}

type call struct {
	doc      string
	selector string
	timeout  time.Duration
}

// recordingPage fails every element operation with err and records the
// document and selector of each call.
type recordingPage struct {
	mu             sync.Mutex
	log            []call
	docs           []*recordingDoc
	err            error
	sleep          bool
	reportMainLast bool
}

func newRecordingPage(err error, names ...string) *recordingPage {
	p := &recordingPage{err: err}
	for i, name := range names {
		p.docs = append(p.docs, &recordingDoc{page: p, name: name, main: i == 0})
	}

	return p
}

func (p *recordingPage) calls() []call {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]call(nil), p.log...)
}

func (p *recordingPage) Goto(string, time.Duration) (int, error)             { return 200, nil }
func (p *recordingPage) URL() string                                         { return "about:blank" }
func (p *recordingPage) Title() (string, error)                              { return "", nil }
func (p *recordingPage) Content() (string, error)                            { return "", nil }
func (p *recordingPage) Screenshot(entity.ScreenshotOptions) ([]byte, error) { return nil, nil }
func (p *recordingPage) Evaluate(expr string) (any, error)                   { return expr, nil }
func (p *recordingPage) WaitForLoad(time.Duration) error                     { return nil }
func (p *recordingPage) WaitForURL(string, time.Duration) error              { return nil }
func (p *recordingPage) MainDocument() ports.Document                        { return p.docs[0] }

func (p *recordingPage) Frames() []ports.Document {
	out := make([]ports.Document, 0, len(p.docs))
	for _, d := range p.docs[1:] {
		out = append(out, d)
	}

	if p.reportMainLast {
		return append(out, p.docs[0])
	}

	return append([]ports.Document{p.docs[0]}, out...)
}

type recordingDoc struct {
	page *recordingPage
	name string
	main bool
}

func (d *recordingDoc) record(sel string, timeout time.Duration) error {
	d.page.mu.Lock()
	d.page.log = append(d.page.log, call{doc: d.name, selector: sel, timeout: timeout})
	d.page.mu.Unlock()

	if d.page.sleep {
		time.Sleep(timeout)
	}

	return d.page.err
}

func (d *recordingDoc) IsMain() bool                              { return d.main }
func (d *recordingDoc) Name() string                              { return d.name }
func (d *recordingDoc) URL() string                               { return "about:blank" }
func (d *recordingDoc) Click(sel string, t time.Duration) error   { return d.record(sel, t) }
func (d *recordingDoc) Fill(sel, _ string, t time.Duration) error { return d.record(sel, t) }
func (d *recordingDoc) Hover(sel string, t time.Duration) error   { return d.record(sel, t) }
func (d *recordingDoc) Check(sel string, t time.Duration) error   { return d.record(sel, t) }
func (d *recordingDoc) Uncheck(sel string, t time.Duration) error { return d.record(sel, t) }

func (d *recordingDoc) WaitVisible(sel string, t time.Duration) error { return d.record(sel, t) }

func (d *recordingDoc) SelectOption(sel, _ string, t time.Duration) (string, error) {
	return "", d.record(sel, t)
}

// stalledPage never settles Evaluate or navigation waits until released.
type stalledPage struct {
	*recordingPage

	release chan struct{}

	mu       sync.Mutex
	timeouts []time.Duration
}

func newStalledPage(t *testing.T) *stalledPage {
	p := &stalledPage{recordingPage: newRecordingPage(nil, "main"), release: make(chan struct{})}
	t.Cleanup(func() { close(p.release) })

	return p
}

func (p *stalledPage) wait(timeout time.Duration) {
	p.mu.Lock()
	p.timeouts = append(p.timeouts, timeout)
	p.mu.Unlock()

	<-p.release
}

func (p *stalledPage) waits() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]time.Duration(nil), p.timeouts...)
}

func (p *stalledPage) Evaluate(string) (any, error) {
	p.wait(0)
	return "late", nil
}

func (p *stalledPage) WaitForLoad(timeout time.Duration) error {
	p.wait(timeout)
	return nil
}

func (p *stalledPage) WaitForURL(_ string, timeout time.Duration) error {
	p.wait(timeout)
	return nil
}

func TestExecute_EvaluateHonoursCommandBudget(t *testing.T) {
	page := newStalledPage(t)
	exec := New(Policy{AttemptTimeout: time.Second, CommandTimeout: 50 * time.Millisecond, NavigationTimeout: time.Minute}, zap.NewNop(), nil)

	started := time.Now()
	res, err := exec.Execute(context.Background(), page, entity.Command{Action: entity.ActionEvaluate, Value: "new Promise(() => {})"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, apperr.CodeTimeout, apperr.CodeOf(err))
	assert.Equal(t, "command_timeout", apperr.MetaOf(err)[apperr.MetaReason])
	assert.Less(t, time.Since(started), time.Second)
}

func TestExecute_WaitForNavigationHonoursCommandBudget(t *testing.T) {
	for name, cmd := range map[string]entity.Command{
		"load": {Action: entity.ActionWaitForNavigation},
		"url":  {Action: entity.ActionWaitForNavigation, Target: "https://site.test/done"},
	} {
		t.Run(name, func(t *testing.T) {
			page := newStalledPage(t)
			exec := New(Policy{AttemptTimeout: time.Second, CommandTimeout: 50 * time.Millisecond, NavigationTimeout: time.Minute}, zap.NewNop(), nil)

			started := time.Now()
			_, err := exec.Execute(context.Background(), page, cmd)
			assert.Equal(t, apperr.CodeTimeout, apperr.CodeOf(err))
			assert.Less(t, time.Since(started), time.Second)

			require.Eventually(t, func() bool { return len(page.waits()) == 1 }, time.Second, 5*time.Millisecond)

			waits := page.waits()
			assert.Greater(t, waits[0], time.Duration(0))
			assert.LessOrEqual(t, waits[0], 50*time.Millisecond)
		})
	}
}

func TestExecute_WaitForNavigationExpiredBudget(t *testing.T) {
	page := newStalledPage(t)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Millisecond))
	defer cancel()

	_, err := newExecutor().Execute(ctx, page, entity.Command{Action: entity.ActionWaitForNavigation})
	assert.Equal(t, apperr.CodeTimeout, apperr.CodeOf(err))
	assert.Equal(t, "command_timeout", apperr.MetaOf(err)[apperr.MetaReason])
	assert.Empty(t, page.waits())
}
