package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/suPer8Hu/dbrag/internal/config"
	"github.com/suPer8Hu/dbrag/internal/logging"
)

var configFile string

// RootCmd is the dbrag command; it does nothing on its own.
var RootCmd = &cobra.Command{
	Use:   "dbrag",
	Short: "Ask questions about a live database",
	Long: `dbrag answers natural-language questions about a connected database by
running a generated read-only SQL query and a semantic search over indexed
row text in parallel, then fusing both into one answer.`,
	SilenceUsage: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: search CONFIG_PATH, ., ./config)")
	RootCmd.AddCommand(serveCmd, askCmd, schemaCmd)
}

// setup loads config and builds the logger. CLI commands other than serve
// log to stderr so stdout stays machine readable.
func setup(toStderr bool) (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	opts := logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}
	if toStderr {
		opts.Output = os.Stderr
	}
	return cfg, logging.New(opts), nil
}
