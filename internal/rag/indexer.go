package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/dbrag/internal/chunk"
	"github.com/suPer8Hu/dbrag/internal/embed"
	"github.com/suPer8Hu/dbrag/internal/errs"
	"github.com/suPer8Hu/dbrag/internal/schema"
	"github.com/suPer8Hu/dbrag/internal/session"
	"github.com/suPer8Hu/dbrag/internal/sqlagent"
	"github.com/suPer8Hu/dbrag/internal/vector"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxRows = 500

// TableStats reports what IndexAll did for one table.
type TableStats struct {
	Rows    int      `json:"rows"`
	Chunks  int      `json:"chunks"`
	Columns []string `json:"columns"`
}

type IndexerOptions struct {
	MaxChars int
	Overlap  int
	// Parallel bounds how many tables are read at once.
	Parallel int
	// MaxRows applies when IndexAll is called with maxRows <= 0.
	MaxRows int
}

// Indexer reads text columns out of a session's database and adds their
// chunks to the vector index.
type Indexer struct {
	embedder *embed.Embedder
	index    *vector.Index
	opts     IndexerOptions
	log      logrus.FieldLogger
}

func NewIndexer(embedder *embed.Embedder, index *vector.Index, opts IndexerOptions, log logrus.FieldLogger) *Indexer {
	if opts.MaxChars <= 0 {
		opts.MaxChars = chunk.DefaultMaxChars
		opts.Overlap = chunk.DefaultOverlap
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 4
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	return &Indexer{embedder: embedder, index: index, opts: opts, log: log}
}

type pendingChunk struct {
	text string
	row  int
}

type tableScan struct {
	table   string
	columns []string
	rows    int
	chunks  []pendingChunk
}

// IndexAll indexes up to maxRows rows of every table that has an indexable
// text column. Tables are read concurrently; embedding and insertion then run
// table by table in schema order, so an embedding failure leaves earlier
// tables indexed.
func (ix *Indexer) IndexAll(ctx context.Context, sess *session.Session, maxRows int) (map[string]TableStats, error) {
	if maxRows <= 0 {
		maxRows = ix.opts.MaxRows
	}

	ctx, span := tracer.Start(ctx, "rag.IndexAll", trace.WithAttributes(
		attribute.String("session.id", sess.ID),
		attribute.Int("rag.max_rows", maxRows),
	))
	defer span.End()

	var scans []*tableScan
	for _, name := range sess.Schema.TableNames() {
		if cols := sess.Schema.IndexableColumns(name); len(cols) > 0 {
			scans = append(scans, &tableScan{table: name, columns: cols})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Parallel)
	for _, sc := range scans {
		g.Go(func() error {
			return ix.scan(gctx, sess, sc, maxRows)
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	stats := make(map[string]TableStats, len(scans))
	for _, sc := range scans {
		if err := ix.store(ctx, sess.ID, sc); err != nil {
			span.RecordError(err)
			return nil, err
		}
		stats[sc.table] = TableStats{Rows: sc.rows, Chunks: len(sc.chunks), Columns: sc.columns}
		ix.log.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"table":      sc.table,
			"rows":       sc.rows,
			"chunks":     len(sc.chunks),
		}).Debug("table indexed")
	}
	return stats, nil
}

func (ix *Indexer) scan(ctx context.Context, sess *session.Session, sc *tableScan, maxRows int) error {
	q := fmt.Sprintf("SELECT * FROM %s LIMIT ?", schema.QuoteIdent(sc.table))
	rs, err := sess.DB.WithContext(ctx).Raw(q, maxRows).Rows()
	if err != nil {
		return errs.Wrap(errs.KindQueryExecution, fmt.Sprintf("read table %s", sc.table), err)
	}
	defer rs.Close()

	rows, err := sqlagent.ScanRows(rs)
	if err != nil {
		return errs.Wrap(errs.KindQueryExecution, fmt.Sprintf("read table %s", sc.table), err)
	}
	sc.rows = len(rows)

	for i, row := range rows {
		pieces, err := chunk.Split(rowText(row, sc.columns), ix.opts.MaxChars, ix.opts.Overlap)
		if err != nil {
			return errs.Wrap(errs.KindInvalidInput, "chunking", err)
		}
		for _, p := range pieces {
			sc.chunks = append(sc.chunks, pendingChunk{text: p, row: i})
		}
	}
	return nil
}

func (ix *Indexer) store(ctx context.Context, sessionID string, sc *tableScan) error {
	if len(sc.chunks) == 0 {
		return nil
	}
	texts := make([]string, len(sc.chunks))
	for i, c := range sc.chunks {
		texts[i] = c.text
	}
	vecs, err := ix.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}
	for i, c := range sc.chunks {
		added := ix.index.Add(sessionID, vecs[i], c.text, vector.Metadata{
			"table":   sc.table,
			"row":     c.row,
			"columns": sc.columns,
		})
		if !added {
			return errs.New(errs.KindSessionNotFound, "session closed during indexing")
		}
	}
	return nil
}

// rowText renders "column: value" lines for the non-empty text columns.
func rowText(row sqlagent.Row, columns []string) string {
	var lines []string
	for _, col := range columns {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		s := fmt.Sprint(v)
		if s == "" {
			continue
		}
		lines = append(lines, col+": "+s)
	}
	return strings.Join(lines, "\n")
}
