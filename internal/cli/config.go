package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// ConfigKeyBuilderAddress is the viper/config key for the upstream
	// build service endpoint used for compile-on-demand.
	ConfigKeyBuilderAddress = "builder_address"

	// EnvBuilderAddress is the environment variable naming the upstream
	// build service endpoint.
	EnvBuilderAddress = "MODRUN_BUILDER_ADDRESS"

	// EnvPort is the environment variable naming the serve listener port.
	EnvPort = "MODRUN_PORT"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  `Get and set modrun CLI configuration values stored in ~/.modrun/config.yaml.`,
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGetCmd())

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			switch key {
			case "builder-address":
				viper.Set(ConfigKeyBuilderAddress, value)
			default:
				return fmt.Errorf("unknown configuration key %q\n\nAvailable keys:\n  builder-address", key)
			}
			return viper.WriteConfig()
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			switch key {
			case "builder-address":
				fmt.Println(viper.GetString(ConfigKeyBuilderAddress))
			default:
				return fmt.Errorf("unknown configuration key %q", key)
			}
			return nil
		},
	}
}
