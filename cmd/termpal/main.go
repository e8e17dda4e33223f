package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/termpal/internal/app"
	"github.com/stellarlinkco/termpal/internal/config"
	"github.com/stellarlinkco/termpal/internal/logging"
)

// StartOptions for running a session with custom dependencies
type StartOptions struct {
	ClientFactory app.ClientFactory
	Message       string
	Stream        bool
	Stdin         io.Reader
	Stdout        io.Writer
	Stderr        io.Writer
	SignalChan    chan os.Signal
}

var rootCmd = &cobra.Command{
	Use:          "termpal",
	Short:        "termpal - your AI assistant in the terminal",
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an interactive session, or answer a single message with -m",
	Args:  cobra.NoArgs,
	RunE:  runStart,
}

var (
	messageFlag string
	streamFlag  bool
)

func init() {
	startCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	startCmd.Flags().BoolVar(&streamFlag, "stream", false, "Stream replies as they are generated")
	rootCmd.AddCommand(startCmd, authCmd, configCmd, statusCmd, tutorialCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, _ []string) error {
	return runStartWithOptions(cmdContext(cmd), StartOptions{
		Message: messageFlag,
		Stream:  streamFlag,
		Stdin:   cmd.InOrStdin(),
		Stdout:  cmd.OutOrStdout(),
		Stderr:  cmd.ErrOrStderr(),
	})
}

// runStartWithOptions runs a session with injectable dependencies for testing
func runStartWithOptions(ctx context.Context, opts StartOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.Stream {
		cfg.Agent.Stream = true
	}
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrNoAPIKey) {
			return fmt.Errorf("%w: run 'termpal config setup' or set GEMINI_API_KEY / TERMPAL_API_KEY", err)
		}
		return err
	}

	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	logging.Setup(cfg.Log.Level, stderr)

	a, err := app.NewWithOptions(ctx, cfg, app.Options{
		ClientFactory: opts.ClientFactory,
		SignalChan:    opts.SignalChan,
		Stdin:         opts.Stdin,
		Stdout:        opts.Stdout,
	})
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	if opts.Message != "" {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		return a.Ask(ctx, opts.Message)
	}
	return a.Run(ctx)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
