// Package cli implements the cobra-based CLI commands for t4dev.
//
// Each subcommand (deploy, gpu-check, dequant) is defined in its own file
// within this package. This file defines the root command that serves as
// the parent for all subcommands and handles global flags, logging setup
// and exit codes.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/t4dev/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	// Progress and human-readable messages move to stderr so stdout stays
	// a single JSON document.
	jsonOutput bool

	// verbose lowers the log level to debug.
	verbose bool

	// configPath is the YAML config file given with --config.
	configPath string
)

// Version, Commit and Date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
//
// The root command itself does not perform any action. It only provides
// help text and global flags; functionality lives in the subcommands.
func NewRootCommand() *cobra.Command {
	return newRootCommand(
		NewDeployCommand(),
		NewGPUCheckCommand(),
		NewDequantCommand(),
	)
}

func newRootCommand(subcommands ...*cobra.Command) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "t4dev",
		Short: "Tesla T4 GPU development environment tools",
		Long: `t4dev manages a GPU development instance on AWS and checks that it is usable.

  deploy     create, update, delete or inspect the CloudFormation stack
  gpu-check  verify the NVIDIA driver, CUDA and the container runtime
  dequant    compare two 4-bit dequantization routines on random weights`,

		// Errors are printed by Execute, in text or JSON.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd.ErrOrStderr(), verbose)
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default: ./.t4dev.yaml when present)")

	// Unknown flags and malformed values exit with ExitInvalidArgs.
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return model.WrapCLIError(model.ExitInvalidArgs, "invalid arguments", err)
	})

	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupLogging installs the default slog logger. Debug records are only
// emitted with --verbose.
func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// SIGINT and SIGTERM cancel the command context. CLIError values carry
// their own exit code; a cancelled context exits with ExitUserCancelled
// and any other error with ExitGeneralError.
func Execute(rootCmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		code := exitCode(err)
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(os.Stderr, cliErr.Message, cliErr.Err)
		} else {
			printError(os.Stderr, err.Error(), nil)
		}
		os.Exit(int(code))
	}
}

// exitCode maps err to the process exit code.
func exitCode(err error) model.ExitCode {
	if err == nil {
		return model.ExitSuccess
	}
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		if cliErr.Code != model.ExitTimeout && errors.Is(err, context.Canceled) {
			return model.ExitUserCancelled
		}
		return cliErr.Code
	}
	if errors.Is(err, context.Canceled) {
		return model.ExitUserCancelled
	}
	return model.ExitGeneralError
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}

// messageWriter returns where human-readable progress goes: stdout in text
// mode, stderr in JSON mode.
func messageWriter(cmd *cobra.Command) io.Writer {
	if IsJSONOutput() {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to encode JSON output", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
