/*
Package cli provides the mailctl commands.
*/
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mezamarco14/resu-sistem/internal/config"
	"github.com/mezamarco14/resu-sistem/internal/logger"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mailctl",
	Short: "Run and inspect bulk email campaigns",
	Long: `mailctl runs a campaign described in a YAML file without the HTTP
server, manages the report database and prints stored reports.

Example:
  mailctl send campaign.yaml --out report.csv
  mailctl migrate up
  mailctl report 3f1c...`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reportCmd)
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	format := cfg.Log.Format
	if format == "json" {
		format = "console"
	}
	return cfg, logger.NewWithWriter(os.Stderr, level, format), nil
}
