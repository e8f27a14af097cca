package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"fieldsync/internal/commit"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the names of the invalid fields.
func (e ValidationErrors) Fields() []string {
	out := make([]string, 0, len(e))
	for _, err := range e {
		out = append(out, err.Field)
	}
	return out
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateEngine(&c.Engine)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateEngine(e *EngineConfig) ValidationErrors {
	var errs ValidationErrors

	for name, ms := range e.DelaysMs {
		if _, err := commit.ParseCategory(name); err != nil {
			errs = append(errs, ValidationError{
				Field:   "engine.delays_ms." + name,
				Message: "unknown category",
			})
			continue
		}
		if ms < 0 {
			errs = append(errs, ValidationError{
				Field:   "engine.delays_ms." + name,
				Message: "delay cannot be negative",
			})
		}
	}

	if _, err := commit.ScriptTables(e.ComposedScripts); err != nil {
		errs = append(errs, ValidationError{
			Field:   "engine.composed_scripts",
			Message: err.Error(),
		})
	}

	durations := []struct {
		name string
		ms   int
	}{
		{"engine.protection_window_ms", e.ProtectionWindowMs},
		{"engine.composition_grace_ms", e.CompositionGraceMs},
		{"engine.blur_recheck_ms", e.BlurRecheckMs},
		{"engine.typing_idle_ms", e.TypingIdleMs},
	}
	for _, d := range durations {
		if d.ms < 0 {
			errs = append(errs, ValidationError{
				Field:   d.name,
				Message: "cannot be negative",
			})
		}
	}

	// The window must cover the longest debounce or a push can cancel a
	// pending commit.
	if e.ProtectionWindowMs > 0 {
		if policy, err := commit.PolicyFromMillis(e.DelaysMs); err == nil {
			longest := policy.Longest()
			if window := time.Duration(e.ProtectionWindowMs) * time.Millisecond; window < longest {
				errs = append(errs, ValidationError{
					Field:   "engine.protection_window_ms",
					Message: fmt.Sprintf("%dms is shorter than the longest debounce delay (%s)", e.ProtectionWindowMs, longest),
				})
			}
		}
	}

	for i, key := range e.FinalizeKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("engine.finalize_keys[%d]", i),
				Message: "key name is required",
			})
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file' or 'both'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %q (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if s.HistoryLimit < 1 {
		errs = append(errs, ValidationError{
			Field:   "storage.history_limit",
			Message: "history limit must be at least 1",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if m.Addr != "" {
		if _, _, err := net.SplitHostPort(m.Addr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics.addr",
				Message: fmt.Sprintf("invalid listen address: %v", err),
			})
		}
	}

	return errs
}
