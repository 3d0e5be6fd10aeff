package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/skv/cmd/kv"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "skv",
		Short: "client for distributed key-value clusters",
		Long: fmt.Sprintf(`skv (v%s)

A client for distributed key-value clusters. Records are addressed by
namespace, set and key, routed to their owning node via key digests and
read or written over a binary wire protocol.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of skv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("skv v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
