// Package cli implements the fieldsync command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"fieldsync/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel string
	Format   string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Logger builds the diagnostic logger for cmd. Logs go to stderr so they
// never mix with command output.
func (o *RootOptions) Logger(cmd *cobra.Command) (*slog.Logger, error) {
	level, err := logging.ParseLevel(o.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Writer = cmd.ErrOrStderr()
	l, err := logging.New(cfg)
	if err != nil {
		return nil, err
	}
	return l.Logger, nil
}

// NewRootCommand creates the root command for the fieldsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fieldsync",
		Short: "Keep text fields in sync across IME composition and external updates",
		Long: `fieldsync debounces keystrokes per script, holds commits while an IME
composition is open and shields a focused field from external overwrites.

Use "replay" to run scripted editing scenarios on a virtual clock and
"run" to drive the engine from a stream of host events.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if _, err := logging.ParseLevel(opts.LogLevel); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewClassifyCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
