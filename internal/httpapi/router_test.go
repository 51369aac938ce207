package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/dbrag/internal/ai"
	"github.com/suPer8Hu/dbrag/internal/embed"
	"github.com/suPer8Hu/dbrag/internal/httpapi/handlers"
	"github.com/suPer8Hu/dbrag/internal/jobs"
	"github.com/suPer8Hu/dbrag/internal/rag"
	"github.com/suPer8Hu/dbrag/internal/schema"
	"github.com/suPer8Hu/dbrag/internal/session"
	"github.com/suPer8Hu/dbrag/internal/sqlagent"
	"github.com/suPer8Hu/dbrag/internal/vector"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticGenerator string

func (g staticGenerator) Generate(ctx context.Context, question string, snap *schema.Snapshot) (string, error) {
	return string(g), nil
}

type lenEmbedder struct{}

func (lenEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router *gin.Engine
	dbPath string
}

func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := gorm.Open(gormsqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE TABLE users (id int, name varchar(64))").Error)
	require.NoError(t, db.Exec("INSERT INTO users VALUES (1, 'Alice Smith')").Error)
	sqlDB, _ := db.DB()
	require.NoError(t, sqlDB.Close())
	return path
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log, _ := test.NewNullLogger()

	store := session.NewStore()
	index := vector.NewIndex()
	store.OnRemove(index.Drop)
	t.Cleanup(store.CloseAll)

	embedder := embed.New(ai.QueryOnly(lenEmbedder{}))
	retriever := rag.NewRetriever(embedder, index)
	orch := rag.NewOrchestrator(staticGenerator("SELECT id, name FROM users"), sqlagent.NewExecutor(), retriever, index, rag.Options{}, log)
	indexer := rag.NewIndexer(embedder, index, rag.IndexerOptions{}, log)

	appDB, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "app.db")), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	repo := jobs.NewRepo(appDB)
	require.NoError(t, repo.Migrate())
	queue := jobs.NewLocalQueue(8)
	t.Cleanup(func() { _ = queue.Close() })

	h := &handlers.Handler{
		Sessions:     store,
		Connector:    session.NewConnector(store, nil, session.ConnectorOptions{}, log),
		Orchestrator: orch,
		Indexer:      indexer,
		Index:        index,
		Jobs:         jobs.NewService(repo, queue, store, indexer, 3, log),
		Log:          log,
	}
	return &testServer{router: NewRouter(h, log), dbPath: seedDatabase(t)}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func (s *testServer) connect(t *testing.T) string {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/api/connect", gin.H{"driver": "sqlite", "database": s.dbPath})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		SessionID   string      `json:"session_id"`
		Tables      []string    `json:"tables"`
		TextColumns [][2]string `json:"text_columns"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, []string{"users"}, data.Tables)
	assert.Equal(t, [][2]string{{"users", "name"}}, data.TextColumns)
	require.NotEmpty(t, data.SessionID)
	return data.SessionID
}

func TestPing(t *testing.T) {
	s := newTestServer(t)
	w, env := s.do(t, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	w, env := s.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, env.Code)
}

func TestConnect_Errors(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodPost, "/api/connect", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 10001, env.Code)

	w, env = s.do(t, http.MethodPost, "/api/connect", gin.H{
		"driver":   "sqlite",
		"database": filepath.Join(t.TempDir(), "missing", "dir", "x.db"),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40001, env.Code)
	assert.True(t, strings.HasPrefix(env.Message, "ConnectionError: "), env.Message)
}

func TestAsk_UnknownSession(t *testing.T) {
	s := newTestServer(t)
	w, env := s.do(t, http.MethodPost, "/api/ask", gin.H{"session_id": "missing", "question": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40401, env.Code)
	assert.Equal(t, "SessionNotFoundError: Invalid or expired session_id", env.Message)
}

func TestConnectIndexAsk(t *testing.T) {
	s := newTestServer(t)
	sid := s.connect(t)

	w, env := s.do(t, http.MethodPost, "/api/ask", gin.H{"session_id": sid, "question": "who?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var before rag.Answer
	require.NoError(t, json.Unmarshal(env.Data, &before))
	assert.True(t, strings.HasSuffix(before.Answer, "(No semantic matches found or index is empty.)"))

	w, env = s.do(t, http.MethodPost, "/api/index_all", gin.H{"session_id": sid})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var indexed struct {
		Status string                    `json:"status"`
		Stats  map[string]rag.TableStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &indexed))
	assert.Equal(t, "ok", indexed.Status)
	assert.Equal(t, rag.TableStats{Rows: 1, Chunks: 1, Columns: []string{"name"}}, indexed.Stats["users"])

	w, env = s.do(t, http.MethodPost, "/api/ask", gin.H{"session_id": sid, "question": "who?", "k": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var after struct {
		Answer         string           `json:"answer"`
		SQLUsed        *string          `json:"sql_used"`
		Rows           []map[string]any `json:"rows"`
		SemanticChunks []vector.Match   `json:"semantic_chunks"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &after))
	assert.Equal(t,
		`Found 1 rows. Showing first row: {"id":1,"name":"Alice Smith"}`+"\n\nTop semantic match:\nname: Alice Smith",
		after.Answer)
	require.NotNil(t, after.SQLUsed)
	assert.Equal(t, "SELECT id, name FROM users LIMIT 50", *after.SQLUsed)
	require.Len(t, after.SemanticChunks, 1)
	assert.Equal(t, "users", after.SemanticChunks[0].Metadata["table"])

	w, env = s.do(t, http.MethodGet, "/api/sessions/"+sid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info struct {
		Indexed int `json:"indexed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, 1, info.Indexed)
}

func TestIndexJobs(t *testing.T) {
	s := newTestServer(t)
	sid := s.connect(t)

	w, env := s.do(t, http.MethodPost, "/api/index_jobs", gin.H{"session_id": sid, "max_rows": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "queued", created.Status)

	w, env = s.do(t, http.MethodGet, "/api/index_jobs/"+created.JobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Job struct {
			ID      string `json:"id"`
			Status  string `json:"status"`
			MaxRows int    `json:"max_rows"`
		} `json:"job"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, created.JobID, got.Job.ID)
	assert.Equal(t, 10, got.Job.MaxRows)

	w, env = s.do(t, http.MethodGet, "/api/index_jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40402, env.Code)
}

func TestDeleteSession(t *testing.T) {
	s := newTestServer(t)
	sid := s.connect(t)

	w, _ := s.do(t, http.MethodDelete, "/api/sessions/"+sid, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env := s.do(t, http.MethodGet, "/api/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40401, env.Code)

	w, _ = s.do(t, http.MethodDelete, "/api/sessions/"+sid, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
