package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/apexguard/guardian/internal/application"
)

const (
	appName = "guardian"
	version = "v1.2.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Trading-signal decision core",
		Version: version,
		Long: `Guardian turns externally captured trading signals into sized,
risk-checked trade directives: rolling win-rate statistics, half-Kelly
position sizing, ATR-derived stop/target levels, failure-cadence tracking,
and a layered compliance monitor with an emergency stop path.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the decision core service",
		Long:  "Start the decision engine, distribution gateway, and operational API.",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "config/guardian.yaml", "Path to the YAML configuration")
	serveCmd.Flags().String("log-level", "", "Override log level (trace|debug|info|warn|error)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	levelOverride, _ := cmd.Flags().GetString("log-level")

	cfg, err := application.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if levelOverride != "" {
		level = levelOverride
	}
	setupLogging(level)

	app, err := application.New(cfg, version)
	if err != nil {
		return fmt.Errorf("compose service: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", version).Str("config", configPath).Msg("guardian starting")
	return app.Run(ctx)
}

// setupLogging picks console output on a TTY and JSON otherwise.
func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339

	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
