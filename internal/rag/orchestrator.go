package rag

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/suPer8Hu/dbrag/internal/errs"
	"github.com/suPer8Hu/dbrag/internal/session"
	"github.com/suPer8Hu/dbrag/internal/sqlagent"
	"github.com/suPer8Hu/dbrag/internal/vector"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout = 60 * time.Second

	topMatchPrefix = "\n\nTop semantic match:\n"
	noMatchSuffix  = "\n\n(No semantic matches found or index is empty.)"
)

var tracer = otel.Tracer("github.com/suPer8Hu/dbrag/internal/rag")

// Answer is the payload returned for one question.
type Answer struct {
	Answer         string         `json:"answer"`
	SQLUsed        *string        `json:"sql_used"`
	Rows           []sqlagent.Row `json:"rows"`
	SemanticChunks []vector.Match `json:"semantic_chunks"`
}

// AnswerCache stores encoded answers. Get reports a miss as (nil, false, nil).
type AnswerCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
}

type Options struct {
	Timeout  time.Duration
	DefaultK int
	Cache    AnswerCache
}

type Orchestrator struct {
	generator sqlagent.Generator
	executor  *sqlagent.Executor
	retriever *Retriever
	index     *vector.Index
	opts      Options
	log       logrus.FieldLogger
}

func NewOrchestrator(gen sqlagent.Generator, exec *sqlagent.Executor, retriever *Retriever, index *vector.Index, opts Options, log logrus.FieldLogger) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.DefaultK <= 0 {
		opts.DefaultK = DefaultK
	}
	return &Orchestrator{
		generator: gen,
		executor:  exec,
		retriever: retriever,
		index:     index,
		opts:      opts,
		log:       log,
	}
}

// sqlOutcome is the SQL branch result. stmt is set once validation passed,
// even if execution then failed.
type sqlOutcome struct {
	stmt sqlagent.Statement
	rows []sqlagent.Row
	err  error
}

type semanticOutcome struct {
	matches []vector.Match
	err     error
}

// Answer runs both branches concurrently under the request deadline. Branch
// failures are folded into the answer; only a missed deadline fails the call.
func (o *Orchestrator) Answer(ctx context.Context, sess *session.Session, question string, k int) (*Answer, error) {
	if k <= 0 {
		k = o.opts.DefaultK
	}

	ctx, span := tracer.Start(ctx, "rag.Answer", trace.WithAttributes(
		attribute.String("session.id", sess.ID),
		attribute.Int("rag.k", k),
	))
	defer span.End()

	cacheKey := o.cacheKey(sess.ID, k, question)
	if cached := o.lookup(ctx, cacheKey); cached != nil {
		span.SetAttributes(attribute.Bool("rag.cache_hit", true))
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	sqlCh := make(chan sqlOutcome, 1)
	semCh := make(chan semanticOutcome, 1)
	go func() { sqlCh <- o.runSQL(ctx, sess, question) }()
	go func() { semCh <- o.runSemantic(ctx, sess.ID, question, k) }()

	var (
		sqlRes         sqlOutcome
		semRes         semanticOutcome
		gotSQL, gotSem bool
	)
	for !gotSQL || !gotSem {
		select {
		case sqlRes = <-sqlCh:
			gotSQL = true
		case semRes = <-semCh:
			gotSem = true
		case <-ctx.Done():
			return nil, o.abort(span, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, o.abort(span, err)
	}

	ans := fuse(sqlRes, semRes)
	if sqlRes.err == nil && semRes.err == nil {
		o.store(ctx, cacheKey, ans)
	}
	return ans, nil
}

func (o *Orchestrator) abort(span trace.Span, err error) error {
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindRequestTimeout, fmt.Sprintf("request exceeded %s", o.opts.Timeout), err)
	}
	return errs.Wrap(errs.KindInternal, "request cancelled", err)
}

func (o *Orchestrator) runSQL(ctx context.Context, sess *session.Session, question string) sqlOutcome {
	ctx, span := tracer.Start(ctx, "rag.sql")
	defer span.End()

	out := o.sqlBranch(ctx, sess, question)
	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, string(errs.KindOf(out.err)))
		o.log.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"kind":       errs.KindOf(out.err),
		}).WithError(out.err).Warn("sql branch failed")
	}
	if !out.stmt.IsZero() {
		span.SetAttributes(attribute.String("db.statement", out.stmt.String()))
	}
	return out
}

func (o *Orchestrator) sqlBranch(ctx context.Context, sess *session.Session, question string) sqlOutcome {
	raw, err := o.generator.Generate(ctx, question, sess.Schema)
	if err != nil {
		return sqlOutcome{err: err}
	}
	stmt, err := sqlagent.Validate(raw)
	if err != nil {
		return sqlOutcome{err: err}
	}
	rows, err := o.executor.Run(ctx, sess.DB, stmt)
	if err != nil {
		return sqlOutcome{stmt: stmt, err: err}
	}
	return sqlOutcome{stmt: stmt, rows: rows}
}

func (o *Orchestrator) runSemantic(ctx context.Context, sessionID, question string, k int) semanticOutcome {
	ctx, span := tracer.Start(ctx, "rag.semantic")
	defer span.End()

	matches, err := o.retriever.Retrieve(ctx, sessionID, question, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errs.KindOf(err)))
		o.log.WithFields(logrus.Fields{
			"session_id": sessionID,
			"kind":       errs.KindOf(err),
		}).WithError(err).Warn("semantic branch failed")
		return semanticOutcome{err: err}
	}
	span.SetAttributes(attribute.Int("rag.matches", len(matches)))
	return semanticOutcome{matches: matches}
}

func fuse(s sqlOutcome, m semanticOutcome) *Answer {
	ans := &Answer{Rows: []sqlagent.Row{}, SemanticChunks: m.matches}

	var sqlAnswer string
	if s.err != nil {
		sqlAnswer = fmt.Sprintf("(SQL path failed: %s)", errs.Describe(s.err))
	} else {
		ans.Rows = s.rows
		sqlAnswer = summarize(s.rows)
	}
	if !s.stmt.IsZero() {
		used := s.stmt.String()
		ans.SQLUsed = &used
	}

	if m.err != nil {
		ans.SemanticChunks = []vector.Match{{
			Text:     fmt.Sprintf("(Semantic retrieve failed: %s)", errs.Describe(m.err)),
			Score:    0,
			Metadata: vector.Metadata{"error": true},
		}}
	}
	if ans.SemanticChunks == nil {
		ans.SemanticChunks = []vector.Match{}
	}

	if top, ok := topMatch(ans.SemanticChunks); ok {
		ans.Answer = strings.TrimSpace(sqlAnswer) + topMatchPrefix + top
	} else {
		ans.Answer = strings.TrimSpace(sqlAnswer) + noMatchSuffix
	}
	return ans
}

func topMatch(matches []vector.Match) (string, bool) {
	if len(matches) == 0 {
		return "", false
	}
	if flagged, _ := matches[0].Metadata["error"].(bool); flagged {
		return "", false
	}
	return matches[0].Text, true
}

func summarize(rows []sqlagent.Row) string {
	if len(rows) == 0 {
		return "Query ran successfully but returned no rows."
	}
	first, err := json.Marshal(rows[0])
	if err != nil {
		first = []byte(fmt.Sprint(map[string]any(rows[0])))
	}
	return fmt.Sprintf("Found %d rows. Showing first row: %s", len(rows), first)
}

// cacheKey includes the indexed record count so re-indexing a session does
// not serve answers computed against the old index.
func (o *Orchestrator) cacheKey(sessionID string, k int, question string) string {
	sum := sha1.Sum([]byte(question))
	return fmt.Sprintf("%s%d:%d:%s", CacheKeyPrefix(sessionID), k, o.index.Count(sessionID), hex.EncodeToString(sum[:]))
}

// CacheKeyPrefix is shared by every cached answer of one session.
func CacheKeyPrefix(sessionID string) string {
	return "dbrag:answer:" + sessionID + ":"
}

func (o *Orchestrator) lookup(ctx context.Context, key string) *Answer {
	if o.opts.Cache == nil {
		return nil
	}
	raw, ok, err := o.opts.Cache.Get(ctx, key)
	if err != nil {
		o.log.WithError(err).Warn("answer cache read failed")
		return nil
	}
	if !ok {
		return nil
	}
	var ans Answer
	if err := json.Unmarshal(raw, &ans); err != nil {
		o.log.WithError(err).Warn("answer cache entry unreadable")
		return nil
	}
	return &ans
}

func (o *Orchestrator) store(ctx context.Context, key string, ans *Answer) {
	if o.opts.Cache == nil {
		return
	}
	raw, err := json.Marshal(ans)
	if err != nil {
		return
	}
	if err := o.opts.Cache.Set(ctx, key, raw); err != nil {
		o.log.WithError(err).Warn("answer cache write failed")
	}
}
