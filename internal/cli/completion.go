package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/geoconv/internal/convert"
)

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Print a shell completion script",
	Long: `Print a completion script for bash, zsh, fish or powershell.

  $ source <(geoconv completion bash)
  $ geoconv completion zsh > "${fpath[1]}/_geoconv"
  $ geoconv completion fish > ~/.config/fish/completions/geoconv.fish
  PS> geoconv completion powershell | Out-String | Invoke-Expression

Format arguments of convert and export complete to the registered formats.`,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(out, true)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		}
		return fmt.Errorf("unsupported shell %q", args[0])
	},
}

// completeFormat completes the first positional argument to the names of
// formats that satisfy can.
func completeFormat(can func(convert.Format) bool) cobra.CompletionFunc {
	return func(_ *cobra.Command, args []string, _ string) ([]cobra.Completion, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveDefault
		}
		var names []cobra.Completion
		for _, f := range convert.Formats() {
			if can(f) {
				names = append(names, cobra.CompletionWithDesc(f.Name, f.Description))
			}
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	}
}

func init() {
	convertCmd.ValidArgsFunction = completeFormat(convert.Format.CanImport)
	exportCmd.ValidArgsFunction = completeFormat(convert.Format.CanExport)
	rootCmd.AddCommand(completionCmd)
}
