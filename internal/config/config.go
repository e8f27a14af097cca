// Package config handles configuration loading, validation, and hot reload
// for fieldsync.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"fieldsync/internal/commit"
	"fieldsync/internal/field"
	"fieldsync/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FIELDSYNC_"

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Engine tunes commit timing and focus protection.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Storage configuration for the committed value store.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Metrics configuration for the scrape endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// EngineConfig holds the sync engine tuning.
type EngineConfig struct {
	// DelaysMs maps commit categories to debounce delays in milliseconds.
	// Categories left out keep their defaults.
	DelaysMs map[string]int `toml:"delays_ms" json:"delays_ms" yaml:"delays_ms"`

	// ComposedScripts lists the Unicode scripts typed through an input
	// method, e.g. "Hangul", "Han", "Hiragana".
	ComposedScripts []string `toml:"composed_scripts" json:"composed_scripts" yaml:"composed_scripts"`

	// ProtectionWindowMs is how long external values are held off after
	// the last local activity. Zero disables protection.
	ProtectionWindowMs int `toml:"protection_window_ms" json:"protection_window_ms" yaml:"protection_window_ms"`

	// CompositionGraceMs delays the commit after a composition ends.
	CompositionGraceMs int `toml:"composition_grace_ms" json:"composition_grace_ms" yaml:"composition_grace_ms"`

	// BlurRecheckMs delays the check that confirms a blur.
	BlurRecheckMs int `toml:"blur_recheck_ms" json:"blur_recheck_ms" yaml:"blur_recheck_ms"`

	// TypingIdleMs ends a typing session after this much inactivity.
	TypingIdleMs int `toml:"typing_idle_ms" json:"typing_idle_ms" yaml:"typing_idle_ms"`

	// FinalizeKeys commit the field immediately.
	FinalizeKeys []string `toml:"finalize_keys" json:"finalize_keys" yaml:"finalize_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// RedactValues hides field contents in log records.
	RedactValues bool `toml:"redact_values" json:"redact_values" yaml:"redact_values"`
}

// StorageConfig holds value store configuration.
type StorageConfig struct {
	// Path is the SQLite database file. Empty disables persistence.
	Path string `toml:"path" json:"path" yaml:"path"`

	// HistoryLimit caps rows returned by history queries.
	HistoryLimit int `toml:"history_limit" json:"history_limit" yaml:"history_limit"`
}

// MetricsConfig holds the metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:9464". Empty disables it.
	Addr string `toml:"addr" json:"addr" yaml:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	opts := field.DefaultOptions()
	return &Config{
		Version: Version,
		Engine: EngineConfig{
			DelaysMs:           opts.Policy.Millis(),
			ComposedScripts:    append([]string(nil), commit.DefaultScripts...),
			ProtectionWindowMs: int(opts.ProtectionWindow / time.Millisecond),
			CompositionGraceMs: int(opts.CompositionGrace / time.Millisecond),
			BlurRecheckMs:      int(opts.BlurRecheck / time.Millisecond),
			TypingIdleMs:       int(opts.TypingIdle / time.Millisecond),
			FinalizeKeys:       append([]string(nil), opts.FinalizeKeys...),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Storage: StorageConfig{
			HistoryLimit: 100,
		},
	}
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// loadConfigFromFile reads and parses a config file based on its extension.
// Values absent from the file keep their defaults.
func loadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}
	return cfg, nil
}

// Save writes cfg to path in the format implied by its extension (TOML by
// default).
func Save(cfg *Config, path string) error {
	data, err := Encode(cfg, filepath.Ext(path))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Encode renders cfg as ".json", ".yaml"/".yml", or TOML for anything else.
func Encode(cfg *Config, ext string) ([]byte, error) {
	switch ext {
	case ".json", "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode JSON: %w", err)
		}
		return append(data, '\n'), nil
	case ".yaml", ".yml", "yaml", "yml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encode YAML: %w", err)
		}
		return data, nil
	default:
		data, err := toml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encode TOML: %w", err)
		}
		return data, nil
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies environment variable overrides to the
// configuration. Variables are prefixed with FIELDSYNC_. Malformed numbers
// are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_PATH"); v != "" {
		c.Logging.FilePath = v
		c.Logging.Output = "file"
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv(EnvPrefix + "METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	envInt(EnvPrefix+"PROTECTION_WINDOW_MS", &c.Engine.ProtectionWindowMs)
	envInt(EnvPrefix+"COMPOSITION_GRACE_MS", &c.Engine.CompositionGraceMs)
	envInt(EnvPrefix+"BLUR_RECHECK_MS", &c.Engine.BlurRecheckMs)
	envInt(EnvPrefix+"TYPING_IDLE_MS", &c.Engine.TypingIdleMs)
}

func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Engine.DelaysMs != nil {
		clone.Engine.DelaysMs = make(map[string]int, len(c.Engine.DelaysMs))
		for k, v := range c.Engine.DelaysMs {
			clone.Engine.DelaysMs[k] = v
		}
	}
	clone.Engine.ComposedScripts = append([]string(nil), c.Engine.ComposedScripts...)
	clone.Engine.FinalizeKeys = append([]string(nil), c.Engine.FinalizeKeys...)
	return &clone
}

// Options converts the engine section to field options.
func (e EngineConfig) Options() (field.Options, error) {
	opts := field.DefaultOptions()

	policy, err := commit.PolicyFromMillis(e.DelaysMs)
	if err != nil {
		return opts, fmt.Errorf("engine.delays_ms: %w", err)
	}
	opts.Policy = policy

	if len(e.ComposedScripts) > 0 {
		tables, err := commit.ScriptTables(e.ComposedScripts)
		if err != nil {
			return opts, fmt.Errorf("engine.composed_scripts: %w", err)
		}
		opts.Classifier = commit.NewPatternClassifier(tables...)
	}

	opts.ProtectionWindow = millis(e.ProtectionWindowMs)
	opts.CompositionGrace = millis(e.CompositionGraceMs)
	opts.BlurRecheck = millis(e.BlurRecheckMs)
	opts.TypingIdle = millis(e.TypingIdleMs)
	if len(e.FinalizeKeys) > 0 {
		opts.FinalizeKeys = append([]string(nil), e.FinalizeKeys...)
	}
	return opts, nil
}

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// LoggerConfig converts the logging section to a logging.Config.
func (l LoggingConfig) LoggerConfig() (*logging.Config, error) {
	cfg := logging.DefaultConfig()

	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(l.Format)
	if err != nil {
		return nil, err
	}
	cfg.Level = level
	cfg.Format = format
	if l.Output != "" {
		cfg.Output = l.Output
	}
	cfg.FilePath = l.FilePath
	cfg.RedactValues = l.RedactValues
	return cfg, nil
}
