package util

import (
	"strings"

	"github.com/ValentinKolb/skv/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the common cluster connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "hosts"
	cmd.PersistentFlags().String(key, "localhost:3000", WrapString("Seed nodes of the cluster as a comma-separated list of host:port pairs. The client discovers the remaining nodes on its own"))

	key = "cluster-name"
	cmd.PersistentFlags().String(key, "", WrapString("Expected cluster name. When set, the client refuses nodes reporting a different name"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds for commands and the initial cluster connect"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 2, WrapString("How many times to retry a failed command"))

	key = "tend-interval"
	cmd.PersistentFlags().Int(key, 1000, WrapString("Interval in milliseconds between cluster topology refreshes"))

	key = "services-alternate"
	cmd.PersistentFlags().Bool(key, false, WrapString("Use the alternate service addresses announced by the nodes (for clusters behind NAT)"))

	key = "pool-connections"
	cmd.PersistentFlags().Int(key, 16, WrapString("Connection pool capacity per node"))

	key = "pool-acquire-timeout"
	cmd.PersistentFlags().Int(key, 1000, WrapString("Milliseconds a command waits for a free pooled connection before failing"))

	key = "pool-idle-timeout"
	cmd.PersistentFlags().Int(key, 55, WrapString("Seconds after which an idle pooled connection is dropped"))

	key = "user"
	cmd.PersistentFlags().String(key, "", WrapString("Username for the login handshake (leave empty for clusters without security)"))

	key = "password"
	cmd.PersistentFlags().String(key, "", WrapString("Password for the login handshake"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warning", WrapString("Log level (debug, info, warning, error)"))

	key = "namespace"
	cmd.PersistentFlags().String(key, "test", WrapString("Namespace the keys live in"))

	key = "set"
	cmd.PersistentFlags().String(key, "", WrapString("Set name within the namespace (may be empty)"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("skv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	conf := &common.ClientConfig{
		Hosts:                strings.Split(viper.GetString("hosts"), ","),
		ClusterName:          viper.GetString("cluster-name"),
		TimeoutSecond:        viper.GetInt("timeout"),
		RetryCount:           viper.GetInt("retries"),
		TendIntervalMS:       viper.GetInt("tend-interval"),
		UseServicesAlternate: viper.GetBool("services-alternate"),
		Pool: common.PoolConfig{
			ConnectionsPerNode: viper.GetInt("pool-connections"),
			AcquireTimeoutMS:   viper.GetInt("pool-acquire-timeout"),
			IdleTimeoutSec:     viper.GetInt("pool-idle-timeout"),
		},
		Auth: common.AuthConfig{
			User:     viper.GetString("user"),
			Password: viper.GetString("password"),
		},
		LogLevel: viper.GetString("log-level"),
	}

	return conf
}

// GetNamespace retrieves the configured namespace
func GetNamespace() string {
	return viper.GetString("namespace")
}

// GetSet retrieves the configured set name
func GetSet() string {
	return viper.GetString("set")
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
