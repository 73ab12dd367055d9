package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	cfgFile string
	verbose bool
	logger  *zap.Logger
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "gnod",
	Short: "GnodLogger — debug log analysis engine",
	Long: `GnodLogger ingests sequenced debug events from client applications,
reconstructs per-session timelines, classifies anomalies (races, conflicts,
slow gaps, errors), diffs sessions against each other, and renders canonical
transcripts suitable for pasting into an LLM for bug triage.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $HOME/.gnod.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".gnod")
		viper.SetConfigType("yaml")
	}

	viper.SetDefault("db_path", "gnod.db")
	viper.SetDefault("http_addr", ":8787")
	viper.SetDefault("checkpoint_path", ".gnod-state.json")
	viper.SetDefault("session_ttl_minutes", 30)
	viper.SetDefault("slow_threshold_ms", 1000)
	viper.SetDefault("race_threshold_ms", 2)
	viper.SetDefault("truncate_len", 64)

	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}
