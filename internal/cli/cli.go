package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"evalstream/internal/config"
	"evalstream/internal/logging"
)

const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
	// ExitCancelled matches the shell convention for SIGINT.
	ExitCancelled = 130
)

// Version is stamped at build time.
var Version = "dev"

// exitError carries a specific exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: ExitUsage, err: err}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// Run executes the CLI with the provided args and output streams.
func Run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetOut(stdout)
	root.SetErr(stderr)

	if len(args) == 0 {
		_ = root.Usage()
		return ExitUsage
	}
	if isHelpArg(args[0]) {
		_ = root.Help()
		return ExitOK
	}
	if _, _, err := root.Find(args); err != nil {
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		root.SetOut(stderr)
		_ = root.Usage()
		return ExitUsage
	}

	root.SetArgs(args)
	return exitCode(root.ExecuteContext(context.Background()), stderr)
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "evalstream",
		Short:         "Follow streaming evaluation jobs",
		Long:          "evalstream submits an evaluation job, consumes its NDJSON progress stream, and reports progress live, as plain text, or over a websocket relay.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to "+config.ConfigFileName+" (searched upward when empty)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: text|json")

	root.AddCommand(
		newRunCmd(&g),
		newRelayCmd(&g),
		newMockCmd(&g),
		newValidateCmd(&g),
		newVersionCmd(),
	)
	return root
}

// load reads config, applies flag overrides, and installs the process logger.
func (g *globalFlags) load(stderr io.Writer) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	logger, err := logging.New(stderr, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return config.Config{}, usageError(err)
	}
	logging.SetLogger(logger)
	return cfg, nil
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return ExitOK
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", exit.err)
		}
		return exit.code
	}
	var validation *config.ValidationError
	if errors.As(err, &validation) {
		fmt.Fprintln(stderr, "Config validation failed:")
		for _, issue := range validation.Issues {
			fmt.Fprintf(stderr, "  - %s: %s\n", issue.Field, issue.Message)
		}
		return ExitError
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	if isUsageError(err) {
		return ExitUsage
	}
	return ExitError
}

// isUsageError recognizes argument errors cobra reports without a typed error.
func isUsageError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "required flag") ||
		strings.HasPrefix(msg, "accepts ")
}

func isHelpArg(arg string) bool {
	switch arg {
	case "-h", "--help", "help":
		return true
	default:
		return false
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the evalstream version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "evalstream %s\n", Version)
		},
	}
}

func userAgent() string {
	return "evalstream/" + Version
}
