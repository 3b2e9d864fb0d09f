// Package cli implements the conncall command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meigma/conncall"
	"github.com/meigma/conncall/cmd/conncall/cli/config"
)

// Build information set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags.
var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "conncall",
	Short: "Run scripted connections and watch their notifications",
	Long: `Conncall drives scripted connections through the conncall client and
prints every progress, completion and failure notification they produce.

Scripts are YAML files describing one exchange step by step. Each connection
ends with exactly one completion or failure line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $XDG_CONFIG_HOME/conncall/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose debug logging")
	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Connection Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)
	rootCmd.Version = version
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
	}
	return err
}

// initConfig loads the config file and environment into viper.
// A missing default config file is not an error.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := config.Dir()
		if err != nil {
			return err
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName(strings.TrimSuffix(config.FileName, ".yaml"))
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CONNCALL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// newClient creates a conncall client from the effective configuration.
// reg is nil unless metrics are enabled.
func newClient(cfg config.Config, reg prometheus.Registerer) (*conncall.Client, error) {
	opts := []conncall.ClientOption{
		conncall.WithTimeout(cfg.Timeout),
		conncall.WithDeliveryWorkers(cfg.Delivery.Workers),
	}
	if reg != nil {
		opts = append(opts, conncall.WithMetrics(reg))
	}
	if verbose {
		opts = append(opts, conncall.WithLogger(
			slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})),
		))
	}
	return conncall.NewClient(opts...)
}

// signalContext returns a context that is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// formatError converts conncall errors to user-friendly messages.
func formatError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, conncall.ErrTimeout):
		return "Error: connection timed out"
	case errors.Is(err, conncall.ErrCancelled):
		return "Error: connection cancelled"
	case errors.Is(err, conncall.ErrUnauthorized):
		return "Error: authentication failed (check your credentials)"
	case errors.Is(err, conncall.ErrForbidden):
		return "Error: access denied"
	case errors.Is(err, conncall.ErrNotFound):
		return fmt.Sprintf("Error: not found: %v", err)
	case errors.Is(err, conncall.ErrInvalidResponse):
		return fmt.Sprintf("Error: server rejected the request: %v", err)
	case errors.Is(err, conncall.ErrInvalidRequest):
		return fmt.Sprintf("Error: invalid request: %v", err)
	case errors.Is(err, context.Canceled):
		return "Error: operation canceled"
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
