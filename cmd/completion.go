package cmd

import (
	"github.com/derickschaefer/kwchart/internal/chartdef"
	"github.com/derickschaefer/kwchart/internal/period"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// completionCmd wraps Cobra's built-in shell completion generator.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for kwchart.

To load completions in the current shell session:

  # bash
  source <(kwchart completion bash)

  # zsh
  source <(kwchart completion zsh)

  # fish
  kwchart completion fish | source

Stored definition names complete for load, live, def show and def rm.`,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.ExactValidArgs(1),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := cmd.Root()
		switch args[0] {
		case "bash":
			return root.GenBashCompletion(cmd.OutOrStdout())
		case "zsh":
			return root.GenZshCompletion(cmd.OutOrStdout())
		case "fish":
			return root.GenFishCompletion(cmd.OutOrStdout(), true)
		case "powershell":
			return root.GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
		default:
			return cmd.Help()
		}
	},
}

// completeDefinitions offers stored definition names for the first argument,
// falling back to file completion.
func completeDefinitions(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	st, closeFn, err := openLocalStore()
	if err != nil {
		return nil, cobra.ShellCompDirectiveDefault
	}
	defer closeFn()
	defs, err := st.ListDefinitions()
	if err != nil {
		return nil, cobra.ShellCompDirectiveDefault
	}
	names := lo.Uniq(lo.Map(defs, func(d *chartdef.Definition, _ int) string { return d.Name }))
	return names, cobra.ShellCompDirectiveDefault
}

// completePeriods offers the fixed period names.
func completePeriods(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return period.Names(), cobra.ShellCompDirectiveNoFileComp
}

func init() {
	rootCmd.AddCommand(completionCmd)

	for _, c := range []*cobra.Command{loadCmd, liveCmd, defShowCmd, defRmCmd} {
		c.ValidArgsFunction = completeDefinitions
	}
	boundsCmd.ValidArgsFunction = completePeriods
}
