package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the conventional config filename in the working directory
const DefaultConfigFile = "config.ini"

// Sync modes
const (
	ModeInteractive = "interactive"
	ModeBatch       = "batch"
)

// TargetAll selects every common user for watch-history sync
const TargetAll = "all"

// ServerConfig holds the connection settings for one server.
// Immutable after load.
type ServerConfig struct {
	BaseURL string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
}

// Config holds all configuration for the application
type Config struct {
	// Source server (read side)
	Source ServerConfig `yaml:"source"`

	// Destination server (write side)
	Destination ServerConfig `yaml:"destination"`

	// Logging configuration
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// Application settings
	App struct {
		Mode        string `yaml:"mode"`
		Target      string `yaml:"target"`
		CreateUsers bool   `yaml:"create_users"`
		DryRun      bool   `yaml:"dry_run"`
	} `yaml:"app"`

	// Run history store
	History struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"history"`
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Msg
}

// Load reads configuration from the given file and applies environment
// overrides. The file format is chosen by extension: .yaml/.yml use the
// YAML schema, anything else is parsed as the INI key/value format.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	cfg := defaults()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigError{Field: path, Msg: "config file not found"}
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	default:
		if err := loadINI(path, cfg); err != nil {
			return nil, err
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"
	cfg.App.Mode = ModeInteractive
	cfg.App.Target = TargetAll
	cfg.History.Enabled = true
	cfg.History.Path = "./watch-sync-history.db"
	return cfg
}

// loadINI parses the [Source]/[destination] key/value format
func loadINI(path string, cfg *Config) error {
	file, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	// Section names are matched case-insensitively; the historical file
	// uses [Source] and [destination].
	for _, section := range file.Sections() {
		switch strings.ToLower(section.Name()) {
		case "source":
			cfg.Source.BaseURL = section.Key("server1UrlBase").String()
			cfg.Source.APIKey = section.Key("server1ApiKey").String()
		case "destination":
			cfg.Destination.BaseURL = section.Key("server2UrlBase").String()
			cfg.Destination.APIKey = section.Key("server2ApiKey").String()
		case "logging":
			if v := section.Key("level").String(); v != "" {
				cfg.Logging.Level = v
			}
			if v := section.Key("format").String(); v != "" {
				cfg.Logging.Format = v
			}
		case "app":
			if v := section.Key("mode").String(); v != "" {
				cfg.App.Mode = v
			}
			if v := section.Key("target").String(); v != "" {
				cfg.App.Target = v
			}
			if v := section.Key("createUsers").String(); v != "" {
				cfg.App.CreateUsers, _ = strconv.ParseBool(v)
			}
			if v := section.Key("dryRun").String(); v != "" {
				cfg.App.DryRun, _ = strconv.ParseBool(v)
			}
		case "history":
			if v := section.Key("enabled").String(); v != "" {
				cfg.History.Enabled, _ = strconv.ParseBool(v)
			}
			if v := section.Key("path").String(); v != "" {
				cfg.History.Path = v
			}
		}
	}
	return nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// loadFromEnv applies environment variable overrides on top of the file
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("SOURCE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := os.Getenv("SOURCE_API_KEY"); v != "" {
		cfg.Source.APIKey = v
	}
	if v := os.Getenv("DEST_URL"); v != "" {
		cfg.Destination.BaseURL = v
	}
	if v := os.Getenv("DEST_API_KEY"); v != "" {
		cfg.Destination.APIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SYNC_MODE"); v != "" {
		cfg.App.Mode = v
	}
	if v := os.Getenv("SYNC_TARGET"); v != "" {
		cfg.App.Target = v
	}
	if v := os.Getenv("CREATE_USERS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.App.CreateUsers = b
		}
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.App.DryRun = b
		}
	}
	if v := os.Getenv("HISTORY_FILE"); v != "" {
		cfg.History.Enabled = true
		cfg.History.Path = v
	}
}

// Validate checks that all required configuration is present and well formed
func (c *Config) Validate() error {
	if err := validateServer("source", c.Source); err != nil {
		return err
	}
	if err := validateServer("destination", c.Destination); err != nil {
		return err
	}

	switch c.App.Mode {
	case ModeInteractive, ModeBatch:
	default:
		return &ConfigError{Field: "app.mode", Msg: fmt.Sprintf("must be %q or %q", ModeInteractive, ModeBatch)}
	}
	if c.App.Target == "" {
		return &ConfigError{Field: "app.target", Msg: "must be \"all\" or a username"}
	}
	return nil
}

func validateServer(name string, sc ServerConfig) error {
	if sc.BaseURL == "" {
		return &ConfigError{Field: name + ".url", Msg: "required value is missing"}
	}
	u, err := url.Parse(sc.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ConfigError{Field: name + ".url", Msg: "must be an http(s) URL"}
	}
	if sc.APIKey == "" {
		return &ConfigError{Field: name + ".api_key", Msg: "required value is missing"}
	}
	return nil
}
