package config

import (
	"log"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" yaml:"listen_addr"`
	DatabasePath string `envconfig:"DATABASE_PATH" yaml:"database_path"`
	LogPath      string `envconfig:"LOG_PATH" yaml:"log_path"`

	// EncryptionKey is the fernet key used to encrypt stored private keys.
	// The server refuses to start without it.
	EncryptionKey string `envconfig:"ENCRYPTION_KEY" yaml:"encryption_key"`

	// Durations are strings parsed with time.ParseDuration at the use site.
	ConnectTimeout   string `envconfig:"CONNECT_TIMEOUT" yaml:"connect_timeout"`
	ShellIdleTimeout string `envconfig:"SHELL_IDLE_TIMEOUT" yaml:"shell_idle_timeout"`

	AuthDisabled bool `envconfig:"AUTH_DISABLED" yaml:"auth_disabled"`
}

var Cfg Settings

// Load populates Cfg from built-in defaults, then an optional YAML config
// file (path in RCMD_CONFIG, default config.yaml), then the environment.
// Later sources win.
func Load() {
	Cfg = Settings{
		ListenAddr:       ":8000",
		DatabasePath:     "data/rcmd.db",
		ConnectTimeout:   "15s",
		ShellIdleTimeout: "30m",
	}

	path := os.Getenv("RCMD_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &Cfg); err != nil {
			log.Fatalf("failed to parse config file %s: %v", path, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("failed to read config file %s: %v", path, err)
	}

	if err := envconfig.Process("RCMD", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
