// Package cli implements the dynfilter developer CLI: render the SQL a
// filtered query compiles to, run it, and build model caches.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"dynfilter/engine"
	"dynfilter/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

// globals is the state resolved by the root command before any subcommand
// runs.
type globals struct {
	envFile string
	output  string
	cfg     *config.Config
	logger  *slog.Logger
}

// Execute runs the CLI.
func Execute() int {
	g := &globals{}
	rootCmd := newRootCmd(g)
	if err := rootCmd.Execute(); err != nil {
		if resolveOutput(g.output, os.Stdout) == "json" {
			_ = printJSON(os.Stdout, map[string]any{
				"error": err.Error(),
				"kind":  errorKind(err),
			})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(g *globals) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "dynfilter",
		Short:         "Dynamic filter query rewriting",
		Long:          "Inspect and run queries with dynamic filters spliced into their SQL.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(g.output); err != nil {
				return err
			}
			if err := config.LoadDotEnv(g.envFile); err != nil {
				return fmt.Errorf("load %s: %w", g.envFile, err)
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			g.cfg = cfg
			g.logger = newLogger(cmd.ErrOrStderr(), cfg.SlogLevel())
			for _, w := range cfg.Warnings {
				g.logger.Warn(w)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "Environment file loaded before reading DYNFILTER_* variables")
	rootCmd.PersistentFlags().StringVarP(&g.output, "output", "o", "auto", "Output format (auto, table, json)")

	rootCmd.AddCommand(newExplainCmd(g))
	rootCmd.AddCommand(newQueryCmd(g))
	rootCmd.AddCommand(newCacheCmd(g))
	rootCmd.AddCommand(newSchemaCmd(g))
	rootCmd.AddCommand(newVersionCmd(g))
	rootCmd.AddCommand(newCommandsCmd())
	rootCmd.AddCommand(newCompletionCmd())
	return rootCmd
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// errorKind classifies engine errors for JSON output.
func errorKind(err error) string {
	var (
		cfgErr   *engine.ConfigurationError
		trErr    *engine.TranslationError
		niErr    *engine.NotImplementedError
		typeErr  *engine.UnhandledTypeError
		notFound *engine.NotFoundError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &trErr):
		return "translation"
	case errors.As(err, &niErr):
		return "not_implemented"
	case errors.As(err, &typeErr):
		return "unhandled_type"
	case errors.As(err, &notFound):
		return "not_found"
	}
	return "error"
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
