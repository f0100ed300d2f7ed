// Command frank runs the chat relay server and its maintenance tooling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "frank",
		Short:   "Frank - streaming chat relay server",
		Version: Version,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf("frank %s\n", Version))

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDBCmd())
	rootCmd.AddCommand(newTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
