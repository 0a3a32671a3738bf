package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"browser-automation/internal/browser/static"
	"browser-automation/internal/config"
	"browser-automation/internal/executor"
	"browser-automation/internal/metrics"
	"browser-automation/internal/session"
	"browser-automation/internal/usecase"
	"browser-automation/pkg/apperr"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	shopURL  = "https://shop.test/"
	shopPage = `<html><head><title>Shop</title></head><body>
<label for="size">Size</label>
<select id="size"><option>Small</option><option>Medium</option></select>
<button id="buy">Buy now</button>
</body></html>`
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorInfo      `json:"error"`
}

func newServer(t *testing.T) (*httptest.Server, *metrics.Collector) {
	t.Helper()

	logger := zap.NewNop()
	collector := metrics.NewCollector("test", logger)

	driver := static.New(logger)
	driver.Register(shopURL, shopPage)

	registry := session.New(driver, session.DefaultOptions(), logger, collector)
	exec := executor.New(executor.Policy{
		AttemptTimeout:    100 * time.Millisecond,
		CommandTimeout:    5 * time.Second,
		NavigationTimeout: 5 * time.Second,
	}, logger, collector)

	svc := usecase.NewAutomationService(usecase.AutomationServiceParams{
		Config:   &config.Config{AutomationConfig: &config.AutomationConfig{ChatFallbackClick: true}},
		Logger:   logger,
		Registry: registry,
		Executor: exec,
		Metrics:  collector,
	})

	srv := httptest.NewServer(New(svc, logger, collector).Router())
	t.Cleanup(srv.Close)

	return srv, collector
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))

	return resp.StatusCode, env
}

func TestSessionLifecycle(t *testing.T) {
	srv, collector := newServer(t)

	status, env := call(t, srv, http.MethodPost, "/api/sessions", map[string]any{"id": "s1", "browserKind": "firefox"})
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"browserKind":"firefox"`)

	status, env = call(t, srv, http.MethodPost, "/api/sessions/s1/navigate", map[string]any{"url": shopURL})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"statusCode":200`)

	status, env = call(t, srv, http.MethodPost, "/api/sessions/s1/commands", map[string]any{"chat": "select medium from size"})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"data":"Medium"`)

	status, env = call(t, srv, http.MethodPost, "/api/sessions/s1/commands", map[string]any{"action": "click", "target": "Buy now"})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"main":true`)

	status, env = call(t, srv, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"id":"s1"`)

	status, env = call(t, srv, http.MethodDelete, "/api/sessions/s1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"closed":true}`, string(env.Data))

	status, env = call(t, srv, http.MethodDelete, "/api/sessions/s1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"closed":false}`, string(env.Data))

	count, err := testutil.GatherAndCount(collector.Registry(), "test_sessions_closed_total", "test_commands_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestErrorStatuses(t *testing.T) {
	srv, _ := newServer(t)

	status, env := call(t, srv, http.MethodPost, "/api/sessions/ghost/navigate", map[string]any{"url": shopURL})
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, apperr.CodeSessionNotFound, env.Error.Code)
	assert.Equal(t, "ghost", env.Error.Details[apperr.MetaSessionID])

	status, _ = call(t, srv, http.MethodPost, "/api/sessions", map[string]any{"browserKind": "netscape"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = call(t, srv, http.MethodPost, "/api/sessions", map[string]any{"id": "s1"})
	require.Equal(t, http.StatusCreated, status)

	status, _ = call(t, srv, http.MethodPost, "/api/sessions/s1/navigate", map[string]any{"url": shopURL})
	require.Equal(t, http.StatusOK, status)

	status, env = call(t, srv, http.MethodPost, "/api/sessions/s1/commands", map[string]any{"action": "click", "target": "Checkout"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, apperr.CodeElementNotFound, env.Error.Code)
	assert.NotContains(t, env.Error.Message, "Resolve:")

	status, env = call(t, srv, http.MethodPost, "/api/sessions/s1/commands", map[string]any{"action": "select", "target": "#size", "value": "huge"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, apperr.CodeOptionNotFound, env.Error.Code)

	status, env = call(t, srv, http.MethodPost, "/api/sessions/s1/commands", map[string]any{"action": "drag", "target": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperr.CodeUnsupportedAction, env.Error.Code)

	status, _ = call(t, srv, http.MethodPost, "/api/sessions/s1/commands", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = call(t, srv, http.MethodPost, "/api/sessions/s1/commands", map[string]any{"verb": "click"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestScreenshotContentMetadata(t *testing.T) {
	srv, _ := newServer(t)

	call(t, srv, http.MethodPost, "/api/sessions", map[string]any{"id": "s1"})
	call(t, srv, http.MethodPost, "/api/sessions/s1/navigate", map[string]any{"url": shopURL})

	resp, err := srv.Client().Get(srv.URL + "/api/sessions/s1/screenshot?format=jpg")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	resp, err = srv.Client().Get(srv.URL + "/api/sessions/s1/screenshot?fullPage=maybe")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/api/sessions/s1/content")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
	assert.Contains(t, string(body), "Buy now")

	status, env := call(t, srv, http.MethodGet, "/api/sessions/s1/metadata", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"title":"Shop"`)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newServer(t)

	status, env := call(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, string(env.Data))

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_http_requests_total{method="GET",route="/healthz",status="2xx"} 1`)
}

func TestStatusOf(t *testing.T) {
	tests := map[string]int{
		apperr.CodeSessionNotFound:   http.StatusNotFound,
		apperr.CodeInvalidArgument:   http.StatusBadRequest,
		apperr.CodeParse:             http.StatusBadRequest,
		apperr.CodeUnsupportedAction: http.StatusBadRequest,
		apperr.CodeElementNotFound:   http.StatusUnprocessableEntity,
		apperr.CodeOptionNotFound:    http.StatusUnprocessableEntity,
		apperr.CodeTimeout:           http.StatusGatewayTimeout,
		apperr.CodeLaunchFailed:      http.StatusServiceUnavailable,
		apperr.CodeNavigationFailed:  http.StatusBadGateway,
		apperr.CodeInternal:          http.StatusInternalServerError,
	}

	for code, want := range tests {
		assert.Equal(t, want, statusOf(code), code)
	}
}

func TestMessageOf(t *testing.T) {
	inner := errors.New("element not found: \"Checkout\"")
	err := apperr.Wrap("Outer", apperr.CodeElementNotFound, apperr.Wrap("Resolve", apperr.CodeElementNotFound, inner, nil), nil)

	assert.Equal(t, inner.Error(), messageOf(err))
	assert.Equal(t, "plain", messageOf(errors.New("plain")))
}
