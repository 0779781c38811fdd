// Package cli implements the chatppt command line client.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chatppt/chatppt/internal/app"
	"github.com/chatppt/chatppt/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "chatppt",
	Short: "Turn a conversation into a slide deck",
	Long: `chatppt drafts a presentation outline with a generation backend, lets you
refine the slides in conversation and exports the result as a .pptx file.

Run "chatppt chat" to start an interactive session.`,
	SilenceUsage: true,
}

var (
	configFile string
	backendURL string
	verbose    bool
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to chatppt.yaml")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "Generation backend base URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
}

// loadApp loads the configuration with flag overrides and wires the application
func loadApp(ctx context.Context) (*app.AppState, error) {
	if configFile != "" {
		os.Setenv("CHATPPT_CONFIG_FILE", configFile)
	}
	if backendURL != "" {
		os.Setenv("CHATPPT_BACKEND_URL", backendURL)
	}
	config.Load()

	return app.New(ctx, newLogger(verbose))
}

// newLogger keeps the terminal quiet unless asked otherwise
func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
