package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/itsmostafa/rerequire/internal/resolve"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <identifier>",
	Short: "Print the canonical key a module identifier resolves to",
	Long: `Resolve an identifier the way rerequire() does from the current directory
and print the absolute path it would load and watch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver, err := resolve.New(".", resolve.GlobalPaths())
		if err != nil {
			return err
		}
		key, err := resolver.Resolve(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
