package cli

import (
	"log"

	"github.com/spf13/cobra"

	statelayernode "github.com/statelayer/statelayer/cli/node"
)

// RootCmd represents the root command of the statelayer CLI.
var RootCmd = &cobra.Command{
	Use:   "statelayer",
	Short: "statelayer-node",
	Long:  `Statelayer node runs the epoch-synchronized stake checkpoint services.`,
}

// Execute executes the root command.
func Execute(appName, version string) {
	RootCmd.Short = appName
	RootCmd.Version = version

	if err := RootCmd.Execute(); err != nil {
		log.Fatal("failed to execute root command: ", err)
	}
}

func init() {
	RootCmd.AddCommand(statelayernode.StartNodeCmd)
}
