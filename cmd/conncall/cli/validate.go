package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/conncall/internal/script"
)

var validateCmd = &cobra.Command{
	Use:     "validate <script.yaml>...",
	Short:   "Check scripts without running them",
	GroupID: "core",
	Long: `Validate parses each script and checks that it can run: the request has a
method and URL, every step has exactly one action, and exactly one terminal
step (complete, fail or hang) comes last.

Examples:
  conncall validate upload.yaml
  conncall validate scripts/*.yaml`,
	Args:              cobra.MinimumNArgs(1),
	RunE:              runValidate,
	ValidArgsFunction: completeScripts,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	invalid := 0
	for _, path := range args {
		s, err := script.Load(path)
		if err != nil {
			invalid++
			fmt.Fprintf(out, "FAIL %v\n", err)
			continue
		}
		fmt.Fprintf(out, "ok   %s (%s %s, %d steps)\n", path, s.Method, s.URL, len(s.Steps))
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d scripts are invalid", invalid, len(args))
	}
	return nil
}
