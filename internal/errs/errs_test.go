package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := New(KindForbiddenStatement, "only SELECT queries allowed")
	assert.Equal(t, "only SELECT queries allowed", err.Error())

	wrapped := Wrap(KindConnection, "mysql connection failed", fmt.Errorf("dial tcp: refused"))
	assert.Equal(t, "mysql connection failed: dial tcp: refused", wrapped.Error())
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("ask: %w", Newf(KindSessionNotFound, "session %q not found", "abc"))

	assert.True(t, errors.Is(err, SessionNotFound))
	assert.False(t, errors.Is(err, RequestTimeout))
}

func TestError_UnwrapReachesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindQueryExecution, "query failed", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindEmbeddingBackend, KindOf(Wrap(KindEmbeddingBackend, "embed", errors.New("x"))))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestDescribe(t *testing.T) {
	err := New(KindForbiddenStatement, "Forbidden SQL keyword detected.")
	assert.Equal(t, "ForbiddenStatementError: Forbidden SQL keyword detected.", Describe(err))
	assert.Equal(t, "", Describe(nil))
}
