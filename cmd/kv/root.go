package kv

import (
	"github.com/ValentinKolb/skv/cmd/util"
	"github.com/ValentinKolb/skv/rpc/client"
	"github.com/spf13/cobra"
)

var (
	kvClient client.IClient

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:               "kv",
		Short:             "Perform key-value operations against a cluster",
		PersistentPreRunE: setupKVClient,
		PersistentPostRun: teardownKVClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common cluster flags to the KV command
	util.SetupClientFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(putCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(existsCmd)
	KeyValueCommands.AddCommand(touchCmd)
	KeyValueCommands.AddCommand(scanCmd)
	KeyValueCommands.AddCommand(infoCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupKVClient connects to the cluster
func setupKVClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get client configuration
	config := util.GetClientConfig()

	// Connect to the cluster
	c, err := client.NewClientWithConfig(*config)
	if err != nil {
		return err
	}
	kvClient = c
	return nil
}

// teardownKVClient closes the connection to the cluster
func teardownKVClient(_ *cobra.Command, _ []string) {
	if kvClient != nil {
		kvClient.Close()
	}
}
