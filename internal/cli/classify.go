package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"fieldsync/internal/config"
)

// ClassifyOptions holds flags for the classify command.
type ClassifyOptions struct {
	*RootOptions
	ConfigPath string
}

// Classification is the result for one input text.
type Classification struct {
	Text     string `json:"text"`
	Category string `json:"category"`
	DelayMs  int64  `json:"delay_ms"`
}

// NewClassifyCommand creates the classify command.
func NewClassifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClassifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "classify <text>...",
		Short: "Show the commit category and debounce delay of each text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "read delays and scripts from this config file")

	return cmd
}

func runClassify(opts *ClassifyOptions, texts []string, cmd *cobra.Command) error {
	cfg := config.DefaultConfig()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = loadValid(opts.ConfigPath); err != nil {
			return WrapExitError(ExitFailure, "invalid config", err)
		}
	}
	fopts, err := cfg.Engine.Options()
	if err != nil {
		return WrapExitError(ExitFailure, "invalid config", err)
	}

	results := make([]Classification, 0, len(texts))
	for _, text := range texts {
		category := fopts.Classifier.Classify(text)
		results = append(results, Classification{
			Text:     text,
			Category: category.String(),
			DelayMs:  fopts.Policy.Delay(category).Milliseconds(),
		})
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		fmt.Fprintf(w, "%-16s %5dms  %q\n", r.Category, r.DelayMs, r.Text)
	}
	return nil
}
