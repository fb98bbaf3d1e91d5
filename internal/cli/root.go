// Package cli implements the modrun CLI commands.
package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Import artifact store backends to register them via init().
	_ "github.com/architect-io/modrun/pkg/artifact/backend/azurerm"
	_ "github.com/architect-io/modrun/pkg/artifact/backend/gcs"
	_ "github.com/architect-io/modrun/pkg/artifact/backend/local"
	_ "github.com/architect-io/modrun/pkg/artifact/backend/ocireg"
	_ "github.com/architect-io/modrun/pkg/artifact/backend/s3"
)

const envPrefix = "MODRUN"

var cfgFile string

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "modrun",
	Short: "Run polyglot Wasm modules under an information-flow policy",
	Long: `modrun compiles or interprets small self-contained programs inside a
sandboxed WebAssembly execution environment and invokes them repeatedly
under a keyed input/output contract governed by an information-flow policy.

Command Structure:
  modrun <command> [arguments] [flags]

Examples:
  modrun serve --port 8081
  modrun run ./module.yaml --stdin`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.modrun/config.yaml)")
	rootCmd.PersistentFlags().String("backend", "local", "Artifact Store backend type (local, s3, gcs, azurerm, ocireg)")
	rootCmd.PersistentFlags().StringArray("backend-config", nil, "Artifact Store backend configuration (key=value)")

	_ = viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("backend-config", rootCmd.PersistentFlags().Lookup("backend-config"))
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newConfigCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.modrun")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}
	_ = viper.ReadInConfig()
}
