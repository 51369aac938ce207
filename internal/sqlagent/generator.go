package sqlagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/suPer8Hu/dbrag/internal/ai"
	"github.com/suPer8Hu/dbrag/internal/errs"
	"github.com/suPer8Hu/dbrag/internal/schema"
)

// Generator turns a question into a single SQL statement for a schema. The
// result is untrusted until it passes Validate.
type Generator interface {
	Generate(ctx context.Context, question string, snap *schema.Snapshot) (string, error)
}

// LLMGenerator prompts a chat provider with the schema and question.
type LLMGenerator struct {
	provider ai.Provider
	dialect  string
}

func NewLLMGenerator(provider ai.Provider, dialect string) *LLMGenerator {
	if dialect == "" {
		dialect = "MySQL"
	}
	return &LLMGenerator{provider: provider, dialect: dialect}
}

func (g *LLMGenerator) Prompt(question string, snap *schema.Snapshot) string {
	return fmt.Sprintf(`You are an expert %[1]s SQL generator.

Use only the tables and columns listed below:
%[2]s

Write ONE valid %[1]s SELECT query to answer this question:

%[3]q

Rules:
- ONLY return SQL.
- NO explanation.
- NO markdown.
- MUST be valid %[1]s.
- ALWAYS include LIMIT %[4]d unless told otherwise.
`, g.dialect, snap.Describe(), question, DefaultRowLimit)
}

func (g *LLMGenerator) Generate(ctx context.Context, question string, snap *schema.Snapshot) (string, error) {
	out, err := g.provider.Chat(ctx, []ai.Message{{Role: "user", Content: g.Prompt(question, snap)}})
	if err != nil {
		return "", errs.Wrap(errs.KindGeneration, "sql generation failed", err)
	}
	return stripFence(out), nil
}

// stripFence unwraps a reply the model put in a markdown code fence despite
// the prompt, dropping a language tag such as "sql". The result still goes
// through Validate.
func stripFence(out string) string {
	s := strings.TrimSpace(out)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(body, '\n'); i >= 0 && !strings.ContainsAny(strings.TrimSpace(body[:i]), " \t") {
		body = body[i+1:]
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}
