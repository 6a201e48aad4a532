package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/srediag/shmregion/internal/logging"
	"github.com/srediag/shmregion/pkg/kernel"
)

var (
	// Global flags
	configPath string
	logLevel   int
)

var rootCmd = &cobra.Command{
	Use:   "shmctl",
	Short: "Drive and inspect a shared region table",
	Long: `shmctl boots an in-process region table with its frame pool and
processes, and drives it: replay the reference open/close scenario, stress it
from many processes, dump its slots, or serve its metrics and health checks.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("log-level") {
			if logLevel < logging.LevelTrace || logLevel > logging.LevelNoPrint {
				return fmt.Errorf("log level %d out of range", logLevel)
			}
			logging.SetLogLevel(logLevel)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().IntVar(&logLevel, "log-level", logging.LevelWarn,
		"0 trace, 1 debug, 2 info, 3 warn, 4 error, 5 silent")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig returns the --config file, or the defaults when none is given.
func loadConfig() (*kernel.Config, error) {
	if configPath == "" {
		return kernel.DefaultConfig(), nil
	}
	return kernel.LoadConfig(configPath)
}

func boot(ctx context.Context, opts ...kernel.Option) (*kernel.Kernel, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	// an explicit flag wins over the file
	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.LogLevel = &logLevel
	}
	return kernel.Boot(ctx, cfg, opts...)
}
