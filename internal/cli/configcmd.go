package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"fieldsync/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration files",
	}
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	return cmd
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	var as string

	cmd := &cobra.Command{
		Use:   "show [path]",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults and FIELDSYNC_* environment
overrides are applied. Without a path the built-in defaults are shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if len(args) == 1 {
				var err error
				if cfg, err = loadValid(args[0]); err != nil {
					return WrapExitError(ExitFailure, "invalid config", err)
				}
			} else {
				cfg.ApplyEnvOverrides()
			}

			ext := "." + as
			if rootOpts.Format == "json" {
				ext = ".json"
			}
			data, err := config.Encode(cfg, ext)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&as, "as", "toml", "encoding when --format is text (toml|yaml|json)")

	return cmd
}

func newConfigValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Check a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			cfg, err := config.Load(path)
			if err == nil {
				err = cfg.Validate()
			}
			w := cmd.OutOrStdout()

			var verrs config.ValidationErrors
			switch {
			case err == nil:
				fmt.Fprintf(w, "%s: ok\n", filepath.Base(path))
				return nil
			case errors.As(err, &verrs):
				for _, e := range verrs {
					fmt.Fprintf(w, "%s: %s: %s\n", filepath.Base(path), e.Field, e.Message)
				}
				return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(verrs)))
			default:
				return WrapExitError(ExitFailure, "invalid config", err)
			}
		},
	}
}

// loadValid loads and validates the config at path.
func loadValid(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
