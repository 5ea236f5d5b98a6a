// Command synctrain simulates the traffic of ring-based
// parameter synchronization and bootstraps rendezvous
// between ranks.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/unixpickle/ringsync/config"
)

var rootCmd = &cobra.Command{
	Use:   "synctrain",
	Short: "Model and bootstrap ring-based parameter synchronization.",
	Long: "synctrain runs every rank of a topology on a simulated network and " +
		"reports per-epoch traffic, or exchanges rank addresses through a " +
		"rendezvous store.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "config.yaml", "path to the YAML or JSON config")
	rootCmd.PersistentFlags().String("env-file", ".env", "optional file of environment overrides")
	rootCmd.AddCommand(simulateCmd, bootstrapCmd, topologyCmd)
}

// loadConfig reads the env file, then the config named by
// the persistent flags, and builds its logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
