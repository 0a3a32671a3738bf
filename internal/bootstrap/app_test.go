package bootstrap

import (
	"context"
	"testing"
	"time"

	"browser-automation/internal/browser"
	"browser-automation/internal/browser/static"
	"browser-automation/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewBrowserLauncher(t *testing.T) {
	conf := func(driver string) *config.Config {
		return &config.Config{BrowserConfig: &config.BrowserConfig{Driver: driver}}
	}

	launcher, err := newBrowserLauncher(conf("static"), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &static.Driver{}, launcher)

	launcher, err = newBrowserLauncher(conf("Playwright"), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &browser.Launcher{}, launcher)

	_, err = newBrowserLauncher(conf("selenium"), zap.NewNop())
	assert.ErrorContains(t, err, `unknown browser driver "selenium"`)
}

func TestNewApp_StartsAndStops(t *testing.T) {
	t.Setenv("BROWSER_DRIVER", "static")
	t.Setenv("HTTP_ADDR", "127.0.0.1:0")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("SESSION_IDLE_TIMEOUT", "1m")

	app := NewApp()
	require.NoError(t, app.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, app.Start(ctx))
	require.NoError(t, app.Stop(ctx))
}
