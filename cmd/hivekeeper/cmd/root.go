package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/hivekeeper/internal/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgFile     string
	dataDir     string
	storageKind string
	logLevel    string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hivekeeper",
	Short: "HiveKeeper keeps Hive posting keys encrypted on this device",
	Long: `HiveKeeper stores Hive blockchain posting keys encrypted under a PIN or a
device passcode and unlocks them for signing with an inactivity timeout.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("data-dir") {
			loaded.Storage.DataDir = dataDir
		}
		if cmd.Flags().Changed("storage") {
			loaded.Storage.Backend = storageKind
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Logging.Level = logLevel
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for the key store (default ~/.hivekeeper)")
	rootCmd.PersistentFlags().StringVar(&storageKind, "storage", "", "Storage backend: bbolt, sqlite or memory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
}
