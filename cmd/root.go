package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile  string
	logLevel string
	logFile  string
)

var rootCmd = &cobra.Command{
	Use:           "secscan",
	Short:         "Web application security scanner (headers, TLS, injection probes, CORS, JWT)",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := newViper()
		if err := readConfigFile(v, cfgFile); err != nil {
			return err
		}
		cfg, err := loadCLIConfig(v)
		if err != nil {
			return err
		}

		// Explicit flags win over config and env.
		flags := cmd.Flags()
		setStringFlagIfUnset(flags, "log-level", cfg.Logging.Level)
		setStringFlagIfUnset(flags, "log-file", cfg.Logging.File)
		cfg.Logging.Level = logLevel
		cfg.Logging.File = logFile

		logger, closeLog, err := newLogger(cfg.Logging, os.Stderr)
		if err != nil {
			return err
		}
		logger.Debug("configuration loaded",
			zap.String("config_file", v.ConfigFileUsed()),
			zap.String("storage_driver", cfg.Storage.Driver),
		)

		storeAppContext(cmd, &AppContext{Logger: logger, Config: cfg, closeLog: closeLog})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		getAppContext(cmd).Close()
	},
}

// Execute runs the root command and exits with the code mapped from the
// returned error.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", colorError("Error:"), err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.secscan.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this rotated file")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(scansCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
