package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/dbrag/internal/app"
	"github.com/suPer8Hu/dbrag/internal/schema"
	"github.com/suPer8Hu/dbrag/internal/session"
	"gopkg.in/yaml.v3"
)

type schemaDoc struct {
	Database    string         `yaml:"database"`
	Tables      []schema.Table `yaml:"tables"`
	TextColumns []string       `yaml:"text_columns"`
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Connect and print the introspected schema as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(true)
		if err != nil {
			return err
		}
		store := session.NewStore()
		defer store.CloseAll()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Session.ConnectTimeout+30*time.Second)
		defer cancel()
		sess, err := app.NewConnector(cfg, store, log).Connect(ctx, creds)
		if err != nil {
			return err
		}
		return writeSchema(cmd, sess)
	},
}

func writeSchema(cmd *cobra.Command, sess *session.Session) error {
	doc := schemaDoc{Database: sess.Database, Tables: sess.Schema.Tables()}
	for _, c := range sess.TextColumns {
		doc.TextColumns = append(doc.TextColumns, c.Table+"."+c.Column)
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(doc)
}

func init() {
	addConnFlags(schemaCmd)
}
