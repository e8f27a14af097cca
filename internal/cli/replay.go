package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"fieldsync/internal/field"
	"fieldsync/internal/replay"
	"fieldsync/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Run a scripted editing scenario on a virtual clock",
		Long: `Run a YAML scenario of host events against a fresh engine and print
every commit and push outcome, followed by the final state of each field.

The virtual clock makes the output identical across runs. With --db the
commits are also written to the value store.

Examples:
  fieldsync replay testdata/hangul.yaml
  fieldsync replay --db ./fields.db --format json testdata/hangul.yaml`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "persist commits to this SQLite database")

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	logger, err := opts.Logger(cmd)
	if err != nil {
		return err
	}

	sc, err := replay.LoadScenario(path)
	if err != nil {
		if errors.Is(err, replay.ErrInvalidScenario) {
			return WrapExitError(ExitFailure, "invalid scenario", err)
		}
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	runOpts := replay.RunOptions{Logger: logger}
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		runOpts.Handler = field.ChangeHandler(st)
	}

	tr, err := replay.Run(sc, runOpts)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("replay %s", sc.Name), err)
	}

	if opts.Format == "json" {
		return tr.WriteJSON(cmd.OutOrStdout())
	}
	return tr.WriteText(cmd.OutOrStdout())
}
