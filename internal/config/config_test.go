package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/commit"
	"fieldsync/internal/logging"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, 5000, cfg.Engine.ProtectionWindowMs)
	assert.Equal(t, 100, cfg.Engine.CompositionGraceMs)
	assert.Equal(t, 50, cfg.Engine.BlurRecheckMs)
	assert.Equal(t, 2000, cfg.Engine.TypingIdleMs)
	assert.Equal(t, []string{"Enter", "Tab"}, cfg.Engine.FinalizeKeys)
	assert.Equal(t, 400, cfg.Engine.DelaysMs["composed"])
	assert.Empty(t, cfg.Storage.Path)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Engine, cfg.Engine)
}

func TestLoadFormats(t *testing.T) {
	files := map[string]string{
		"config.toml": `
version = 1
[engine]
protection_window_ms = 3000
composed_scripts = ["Hangul", "Han"]
[engine.delays_ms]
composed = 500
[storage]
path = "values.db"
`,
		"config.yaml": `
version: 1
engine:
  protection_window_ms: 3000
  composed_scripts: [Hangul, Han]
  delays_ms:
    composed: 500
storage:
  path: values.db
`,
		"config.json": `{
  "version": 1,
  "engine": {
    "protection_window_ms": 3000,
    "composed_scripts": ["Hangul", "Han"],
    "delays_ms": {"composed": 500}
  },
  "storage": {"path": "values.db"}
}`,
	}

	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			cfg, err := Load(path)
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())

			assert.Equal(t, 3000, cfg.Engine.ProtectionWindowMs)
			assert.Equal(t, []string{"Hangul", "Han"}, cfg.Engine.ComposedScripts)
			assert.Equal(t, 500, cfg.Engine.DelaysMs["composed"])
			assert.Equal(t, "values.db", cfg.Storage.Path)
			// untouched values keep their defaults
			assert.Equal(t, 100, cfg.Engine.CompositionGraceMs)
			assert.Equal(t, "info", cfg.Logging.Level)
		})
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("engine = [[["), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	for _, ext := range []string{".toml", ".yaml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Engine.DelaysMs["latin_spaced"] = 123
			cfg.Logging.Format = "json"

			path := filepath.Join(t.TempDir(), "sub", "config"+ext)
			require.NoError(t, Save(cfg, path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Engine, loaded.Engine)
			assert.Equal(t, cfg.Logging, loaded.Logging)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FIELDSYNC_LOG_LEVEL", "debug")
	t.Setenv("FIELDSYNC_DB_PATH", "/tmp/fs.db")
	t.Setenv("FIELDSYNC_PROTECTION_WINDOW_MS", "1500")
	t.Setenv("FIELDSYNC_TYPING_IDLE_MS", "not-a-number")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/fs.db", cfg.Storage.Path)
	assert.Equal(t, 1500, cfg.Engine.ProtectionWindowMs)
	assert.Equal(t, 2000, cfg.Engine.TypingIdleMs)
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Version = 9
	cfg.Engine.DelaysMs["bogus"] = 10
	cfg.Engine.DelaysMs["composed"] = -1
	cfg.Engine.ComposedScripts = []string{"Klingon"}
	cfg.Engine.BlurRecheckMs = -5
	cfg.Engine.FinalizeKeys = []string{"Enter", " "}
	cfg.Logging.Level = "loud"
	cfg.Logging.Output = "file"
	cfg.Storage.HistoryLimit = 0
	cfg.Metrics.Addr = "no-port"

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.ElementsMatch(t, []string{
		"version",
		"engine.delays_ms.bogus",
		"engine.delays_ms.composed",
		"engine.composed_scripts",
		"engine.blur_recheck_ms",
		"engine.finalize_keys[1]",
		"logging.level",
		"logging.file_path",
		"storage.history_limit",
		"metrics.addr",
	}, verrs.Fields())
}

func TestValidateProtectionWindowCoversDelays(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.ProtectionWindowMs = 300
	err := cfg.Validate()
	require.Error(t, err, "default composed delay is 400ms")

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, []string{"engine.protection_window_ms"}, verrs.Fields())

	cfg.Engine.DelaysMs = map[string]int{"composed": 300, "composed_spaced": 300}
	assert.NoError(t, cfg.Validate(), "window equal to the longest delay")

	cfg.Engine.DelaysMs["latin_spaced"] = 1200
	cfg.Engine.ProtectionWindowMs = 1000
	assert.Error(t, cfg.Validate())

	cfg.Engine.ProtectionWindowMs = 0
	assert.NoError(t, cfg.Validate(), "zero keeps the default window")
}

func TestEngineOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.DelaysMs = map[string]int{"composed": 700}
	cfg.Engine.ComposedScripts = []string{"Han"}
	cfg.Engine.ProtectionWindowMs = 0
	cfg.Engine.FinalizeKeys = []string{"Enter"}

	opts, err := cfg.Engine.Options()
	require.NoError(t, err)

	assert.Equal(t, 700*time.Millisecond, opts.Policy.Delay(commit.Composed))
	assert.Equal(t, 300*time.Millisecond, opts.Policy.Delay(commit.ComposedSpaced))
	assert.Equal(t, commit.Composed, opts.Classifier.Classify("東京"))
	assert.Equal(t, commit.Immediate, opts.Classifier.Classify("가"))
	assert.Equal(t, time.Duration(0), opts.ProtectionWindow)
	assert.Equal(t, 100*time.Millisecond, opts.CompositionGrace)
	assert.Equal(t, []string{"Enter"}, opts.FinalizeKeys)

	cfg.Engine.ComposedScripts = []string{"Klingon"}
	_, err = cfg.Engine.Options()
	assert.Error(t, err)
}

func TestLoggerConfig(t *testing.T) {
	lc := LoggingConfig{Level: "warn", Format: "json", Output: "stdout", RedactValues: true}
	cfg, err := lc.LoggerConfig()
	require.NoError(t, err)
	assert.Equal(t, logging.LevelWarn, cfg.Level)
	assert.Equal(t, logging.FormatJSON, cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.True(t, cfg.RedactValues)

	_, err = LoggingConfig{Level: "nope", Format: "text"}.LoggerConfig()
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Engine.DelaysMs["composed"] = 1
	clone.Engine.FinalizeKeys[0] = "Escape"

	assert.Equal(t, 400, cfg.Engine.DelaysMs["composed"])
	assert.Equal(t, "Enter", cfg.Engine.FinalizeKeys[0])
}

func TestLoaderReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine]\nprotection_window_ms = 1000\n"), 0o600))

	l := NewLoader(path)
	defer l.Close()

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Engine.ProtectionWindowMs)

	var got []*Config
	l.OnChange(func(c *Config) { got = append(got, c) })

	require.NoError(t, os.WriteFile(path, []byte("[engine]\nprotection_window_ms = 2000\n"), 0o600))
	l.Reload()
	require.Len(t, got, 1)
	assert.Equal(t, 2000, l.Config().Engine.ProtectionWindowMs)

	require.NoError(t, os.WriteFile(path, []byte("[engine]\nprotection_window_ms = -1\n"), 0o600))
	l.Reload()
	assert.Len(t, got, 1, "invalid config is not applied")
	assert.Equal(t, 2000, l.Config().Engine.ProtectionWindowMs)

	select {
	case err := <-l.Errors():
		assert.Contains(t, err.Error(), "protection_window_ms")
	default:
		t.Fatal("expected reload error")
	}
}

func TestLoaderWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  typing_idle_ms: 1000\n"), 0o600))

	l := NewLoader(path)
	defer l.Close()
	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	l.OnChange(func(c *Config) { changed <- c })
	require.NoError(t, l.Watch())

	require.NoError(t, os.WriteFile(path, []byte("engine:\n  typing_idle_ms: 3000\n"), 0o600))

	select {
	case c := <-changed:
		assert.Equal(t, 3000, c.Engine.TypingIdleMs)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}
