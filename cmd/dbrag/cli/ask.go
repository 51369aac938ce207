package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/suPer8Hu/dbrag/internal/app"
	"github.com/suPer8Hu/dbrag/internal/session"
)

var (
	creds   session.Credentials
	doIndex bool
	maxRows int
	topK    int
)

func addConnFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&creds.Driver, "driver", session.DriverMySQL, "database driver (mysql, sqlite)")
	f.StringVar(&creds.Host, "host", "localhost", "database host")
	f.IntVar(&creds.Port, "port", 3306, "database port")
	f.StringVarP(&creds.User, "user", "u", "", "database user")
	f.StringVarP(&creds.Password, "password", "p", "", "database password")
	f.StringVarP(&creds.Database, "database", "d", "", "database name, or file path for sqlite")
	_ = cmd.MarkFlagRequired("database")
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Connect, optionally index, and answer one question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(true)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		sess, err := a.Connector.Connect(ctx, creds)
		if err != nil {
			return err
		}
		if doIndex {
			stats, err := a.Indexer.IndexAll(ctx, sess, maxRows)
			if err != nil {
				return err
			}
			for table, st := range stats {
				log.WithFields(logrus.Fields{"table": table, "rows": st.Rows, "chunks": st.Chunks}).Info("indexed")
			}
		}

		ans, err := a.Orchestrator.Answer(ctx, sess, strings.Join(args, " "), topK)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	},
}

func init() {
	addConnFlags(askCmd)
	askCmd.Flags().BoolVar(&doIndex, "index", false, "index text columns before asking")
	askCmd.Flags().IntVar(&maxRows, "max-rows", 0, "rows per table to index (default rag.max_rows)")
	askCmd.Flags().IntVarP(&topK, "top-k", "k", 0, "semantic matches to return (default rag.k)")
}
