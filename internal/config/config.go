package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppConfig        *AppConfig
	BrowserConfig    *BrowserConfig
	AutomationConfig *AutomationConfig
	HTTPConfig       *HTTPConfig
	ConsoleConfig    *ConsoleConfig
}

type AppConfig struct {
	ServiceName    string `envconfig:"SERVICE_NAME" default:"browser-automation"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	Debug          bool   `envconfig:"DEBUG" default:"false"`
	TracingEnabled bool   `envconfig:"TRACING_ENABLED" default:"false"`
}

type BrowserConfig struct {
	Driver         string        `envconfig:"BROWSER_DRIVER" default:"playwright"`
	Kind           string        `envconfig:"BROWSER_KIND" default:"chromium"`
	Headless       bool          `envconfig:"BROWSER_HEADLESS" default:"true"`
	SlowMo         int           `envconfig:"BROWSER_SLOW_MO" default:"0"`
	ViewportWidth  int           `envconfig:"BROWSER_VIEWPORT_WIDTH" default:"1280"`
	ViewportHeight int           `envconfig:"BROWSER_VIEWPORT_HEIGHT" default:"720"`
	Locale         string        `envconfig:"BROWSER_LOCALE" default:"en-US"`
	Install        bool          `envconfig:"BROWSER_INSTALL" default:"true"`
	LaunchTimeout  time.Duration `envconfig:"BROWSER_LAUNCH_TIMEOUT" default:"60s"`
	LaunchRate     float64       `envconfig:"BROWSER_LAUNCH_RATE" default:"2"`
	LaunchBurst    int           `envconfig:"BROWSER_LAUNCH_BURST" default:"4"`
}

type AutomationConfig struct {
	AttemptTimeout    time.Duration `envconfig:"AUTOMATION_ATTEMPT_TIMEOUT" default:"2s"`
	CommandTimeout    time.Duration `envconfig:"AUTOMATION_COMMAND_TIMEOUT" default:"30s"`
	NavigationTimeout time.Duration `envconfig:"AUTOMATION_NAVIGATION_TIMEOUT" default:"30s"`
	ChatFallbackClick bool          `envconfig:"AUTOMATION_CHAT_FALLBACK_CLICK" default:"true"`
	IdleTimeout       time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"0"`
	ReapInterval      time.Duration `envconfig:"SESSION_REAP_INTERVAL" default:"1m"`
}

type HTTPConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"90s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

type ConsoleConfig struct {
	Enabled bool `envconfig:"CONSOLE_ENABLED" default:"false"`
}

func GetConfig() (*Config, error) {
	_ = godotenv.Load()

	var conf Config

	if err := envconfig.Process("", &conf); err != nil {
		return nil, fmt.Errorf("read config from env vars: %w", err)
	}

	return &conf, nil
}
