package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/meigma/conncall/cmd/conncall/cli/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage conncall configuration",
	GroupID: "setup",
	Long: `View and modify conncall configuration.

Without arguments, displays the current effective configuration.
Use subcommands to view the config path, initialize a config file,
or set configuration values.`,
	RunE: runConfigShow,
}

func init() {
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := config.Path()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long: `Create a default configuration file at the XDG config path.

The file will be created at ~/.config/conncall/config.yaml (or
$XDG_CONFIG_HOME/conncall/config.yaml if set).`,
	RunE: runConfigInit,
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	configPath, err := config.Path()
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(configPath); statErr == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if mkdirErr := os.MkdirAll(filepath.Dir(configPath), 0o750); mkdirErr != nil {
		return mkdirErr
	}

	defaultConfig := map[string]any{
		"timeout": "60s",
		"delivery": map[string]any{
			"workers": 1,
		},
		"progress": config.ProgressAuto,
		"metrics":  false,
	}
	data, err := yaml.Marshal(defaultConfig)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if writeErr := os.WriteFile(configPath, data, 0o600); writeErr != nil {
		return writeErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file: %s\n", configPath)
	return nil
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file.

Keys: timeout, delivery.workers, progress, metrics.

Examples:
  conncall config set timeout 30s
  conncall config set delivery.workers 4
  conncall config set progress plain`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeConfigKeys,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if !slices.Contains(config.Keys, key) {
			return fmt.Errorf("unknown config key %q", key)
		}

		var parsedValue any = value
		if n, err := strconv.Atoi(value); err == nil {
			parsedValue = n
		} else if b, err := strconv.ParseBool(value); err == nil {
			parsedValue = b
		}

		viper.Set(key, parsedValue)
		if _, err := config.Load(viper.GetViper()); err != nil {
			return err
		}

		configPath, err := config.Path()
		if err != nil {
			return err
		}
		if cfgFile != "" {
			configPath = cfgFile
		}
		if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
			return err
		}
		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("write config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Updated %s = %v\n", key, parsedValue)
		return nil
	},
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}
