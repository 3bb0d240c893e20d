package server

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/protolith/scenebridge"
)

type Config struct {
	HTTPAddr  string `env:"BRIDGE_HTTP_ADDR" envDefault:"127.0.0.1:8790"`
	DataDir   string `env:"BRIDGE_DATA_DIR"`
	ScriptDir string `env:"BRIDGE_SCRIPT_DIR"`
	LogPath   string `env:"BRIDGE_LOG_PATH"`
	LogLevel  string `env:"BRIDGE_LOG_LEVEL" envDefault:"info"`

	WatchdogTimeout  time.Duration `env:"BRIDGE_WATCHDOG_TIMEOUT" envDefault:"5s"`
	StopGrace        time.Duration `env:"BRIDGE_STOP_GRACE" envDefault:"250ms"`
	ExportGrace      time.Duration `env:"BRIDGE_EXPORT_GRACE" envDefault:"500ms"`
	AutosaveDebounce time.Duration `env:"BRIDGE_AUTOSAVE_DEBOUNCE" envDefault:"2s"`
}

// ConfigFromEnv parses configuration from the environment; flags may
// override individual fields afterwards.
func ConfigFromEnv() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, scenebridge.WithStack(err)
	}
	return cfg, nil
}
