package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/meigma/conncall/cmd/conncall/cli/config"
)

// completeScripts limits file completion to YAML scripts.
func completeScripts(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{"yaml", "yml"}, cobra.ShellCompDirectiveFilterFileExt
}

// completeConfigKeys suggests settable keys for the first argument of
// `config set` and the allowed values for keys with a fixed set.
func completeConfigKeys(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	switch len(args) {
	case 0:
		var keys []string
		for _, key := range config.Keys {
			if strings.HasPrefix(key, toComplete) {
				keys = append(keys, key)
			}
		}
		return keys, cobra.ShellCompDirectiveNoFileComp
	case 1:
		switch args[0] {
		case "progress":
			return []string{config.ProgressAuto, config.ProgressTTY, config.ProgressPlain}, cobra.ShellCompDirectiveNoFileComp
		case "metrics":
			return []string{"true", "false"}, cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	default:
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
}
