package extractor_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/service/extractor"
)

// mockLLMSession is a mock gollem Session for testing
type mockLLMSession struct {
	generateContentFn func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error)
}

func (s *mockLLMSession) GenerateContent(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
	if s.generateContentFn != nil {
		return s.generateContentFn(ctx, input...)
	}
	return &gollem.Response{Texts: []string{`{"memories":[]}`}}, nil
}

func (s *mockLLMSession) GenerateStream(ctx context.Context, input ...gollem.Input) (<-chan *gollem.Response, error) {
	return nil, nil
}

func (s *mockLLMSession) History() (*gollem.History, error) {
	return nil, nil
}

func (s *mockLLMSession) AppendHistory(*gollem.History) error {
	return nil
}

func (s *mockLLMSession) CountToken(ctx context.Context, input ...gollem.Input) (int, error) {
	return 0, nil
}

// mockLLMClient is a mock gollem LLMClient for testing
type mockLLMClient struct {
	session             *mockLLMSession
	newSessionErr       error
	generateEmbeddingFn func(ctx context.Context, dimension int, input []string) ([][]float64, error)
	embeddingInputs     [][]string
}

func (c *mockLLMClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	if c.newSessionErr != nil {
		return nil, c.newSessionErr
	}
	if c.session != nil {
		return c.session, nil
	}
	return &mockLLMSession{}, nil
}

func (c *mockLLMClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	c.embeddingInputs = append(c.embeddingInputs, input)
	if c.generateEmbeddingFn != nil {
		return c.generateEmbeddingFn(ctx, dimension, input)
	}
	result := make([][]float64, len(input))
	for i := range input {
		vec := make([]float64, dimension)
		vec[i%dimension] = 1
		result[i] = vec
	}
	return result, nil
}

func jsonSession(body string) *mockLLMSession {
	return &mockLLMSession{
		generateContentFn: func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
			return &gollem.Response{Texts: []string{body}}, nil
		},
	}
}

func TestNew(t *testing.T) {
	_, err := extractor.New(nil)
	gt.Value(t, err).NotNil()

	ext, err := extractor.New(&mockLLMClient{})
	gt.NoError(t, err)
	gt.Value(t, ext).NotNil()
}

func TestExtract(t *testing.T) {
	dialogue := &model.Dialogue{
		Speaker:   "John",
		Content:   "We need to finish the project by Friday",
		Timestamp: "2025-01-15T14:30:00Z",
	}

	t.Run("parses memories and embeds them in one call", func(t *testing.T) {
		llm := &mockLLMClient{session: jsonSession(`{"memories":[
			{"lossless_restatement":"John said the project must be finished by Friday, 2025-01-17.","keywords":["project","deadline"],"timestamp":"2025-01-17","persons":["John"],"entities":["project"],"topic":"deadline"},
			{"lossless_restatement":"  ","keywords":[]}
		]}`)}
		ext, err := extractor.New(llm, extractor.WithEmbeddingDimension(8))
		gt.NoError(t, err).Required()

		drafts, err := ext.Extract(context.Background(), dialogue)
		gt.NoError(t, err).Required()
		gt.Array(t, drafts).Length(1).Required()
		gt.Value(t, drafts[0].LosslessRestatement).Equal("John said the project must be finished by Friday, 2025-01-17.")
		gt.Array(t, drafts[0].Keywords).Equal([]string{"project", "deadline"})
		gt.Array(t, drafts[0].Persons).Equal([]string{"John"})
		gt.Value(t, drafts[0].Topic).Equal("deadline")
		gt.Array(t, drafts[0].Vector).Length(8)

		gt.Array(t, llm.embeddingInputs).Length(1).Required()
		gt.Array(t, llm.embeddingInputs[0]).Length(1)
	})

	t.Run("no memories means no drafts and no embedding call", func(t *testing.T) {
		llm := &mockLLMClient{session: jsonSession(`{"memories":[]}`)}
		ext, err := extractor.New(llm)
		gt.NoError(t, err).Required()

		drafts, err := ext.Extract(context.Background(), &model.Dialogue{Content: "hi!"})
		gt.NoError(t, err).Required()
		gt.Array(t, drafts).Length(0)
		gt.Array(t, llm.embeddingInputs).Length(0)
	})

	t.Run("malformed response fails", func(t *testing.T) {
		ext, err := extractor.New(&mockLLMClient{session: jsonSession(`not json`)})
		gt.NoError(t, err).Required()

		_, err = ext.Extract(context.Background(), dialogue)
		gt.Value(t, err).NotNil()
	})

	t.Run("session errors propagate", func(t *testing.T) {
		ext, err := extractor.New(&mockLLMClient{newSessionErr: errors.New("unauthenticated")})
		gt.NoError(t, err).Required()

		_, err = ext.Extract(context.Background(), dialogue)
		gt.Value(t, err).NotNil()
		gt.String(t, err.Error()).Contains("unauthenticated")
	})

	t.Run("embedding count mismatch fails", func(t *testing.T) {
		llm := &mockLLMClient{
			session: jsonSession(`{"memories":[{"lossless_restatement":"a"},{"lossless_restatement":"b"}]}`),
			generateEmbeddingFn: func(ctx context.Context, dimension int, input []string) ([][]float64, error) {
				return [][]float64{{1, 0}}, nil
			},
		}
		ext, err := extractor.New(llm)
		gt.NoError(t, err).Required()

		_, err = ext.Extract(context.Background(), dialogue)
		gt.Value(t, err).NotNil()
	})
}

func TestEmbed(t *testing.T) {
	ext, err := extractor.New(&mockLLMClient{}, extractor.WithEmbeddingDimension(4))
	gt.NoError(t, err).Required()

	vec, err := ext.Embed(context.Background(), "When is the project deadline?")
	gt.NoError(t, err).Required()
	gt.Array(t, vec).Equal([]float32{1, 0, 0, 0})
}

func TestAnswer(t *testing.T) {
	grounding := []*model.MemoryRecord{
		{EntryID: "e1", LosslessRestatement: "John said the project must be finished by Friday.", Timestamp: "2025-01-15T14:30:00Z"},
	}

	t.Run("returns trimmed answer text", func(t *testing.T) {
		var prompt string
		session := &mockLLMSession{
			generateContentFn: func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
				prompt = string(input[0].(gollem.Text))
				return &gollem.Response{Texts: []string{"The deadline is ", "Friday. "}}, nil
			},
		}
		ext, err := extractor.New(&mockLLMClient{session: session})
		gt.NoError(t, err).Required()

		answer, err := ext.Answer(context.Background(), "When is the project deadline?", grounding)
		gt.NoError(t, err).Required()
		gt.Value(t, answer).Equal("The deadline is Friday.")
		gt.String(t, prompt).Contains("John said the project must be finished by Friday.")
		gt.String(t, prompt).Contains("When is the project deadline?")
	})

	t.Run("empty answer fails", func(t *testing.T) {
		ext, err := extractor.New(&mockLLMClient{session: jsonSession("   ")})
		gt.NoError(t, err).Required()

		_, err = ext.Answer(context.Background(), "q", grounding)
		gt.Value(t, err).NotNil()
	})
}

func TestBuildExtractionPrompt(t *testing.T) {
	prompt := extractor.BuildExtractionPrompt(&model.Dialogue{
		Speaker:   "Alice",
		Content:   "Let's meet at Starbucks tomorrow",
		Timestamp: "2025-01-15T14:30:00Z",
		Location:  "Tokyo",
		Persons:   []string{"Bob"},
	})
	gt.String(t, prompt).Contains("**Speaker:** Alice")
	gt.String(t, prompt).Contains("**Timestamp:** 2025-01-15T14:30:00Z")
	gt.String(t, prompt).Contains("**Location:** Tokyo")
	gt.String(t, prompt).Contains("**Persons mentioned:** Bob")
	gt.Bool(t, strings.HasSuffix(prompt, "Let's meet at Starbucks tomorrow\n")).True()

	answerPrompt := extractor.BuildAnswerPrompt("Where?", []*model.MemoryRecord{
		{LosslessRestatement: "Alice meets Bob at Starbucks.", Timestamp: "2025-01-16", Location: "Starbucks"},
	})
	gt.String(t, answerPrompt).Contains("1. [2025-01-16] Alice meets Bob at Starbucks. (at Starbucks)")
}

func TestExtract_WithRealGemini(t *testing.T) {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT not set")
	}

	location := os.Getenv("TEST_GEMINI_LOCATION")
	if location == "" {
		t.Skip("TEST_GEMINI_LOCATION not set")
	}

	ctx := context.Background()
	llmClient, err := gemini.New(ctx, projectID, location)
	gt.NoError(t, err).Required()

	ext, err := extractor.New(llmClient)
	gt.NoError(t, err).Required()

	drafts, err := ext.Extract(ctx, &model.Dialogue{
		Speaker:   "John",
		Content:   "We need to finish the project by Friday",
		Timestamp: "2025-01-15T14:30:00Z",
	})
	gt.NoError(t, err).Required()
	gt.Number(t, len(drafts)).GreaterOrEqual(1)
	gt.Array(t, drafts[0].Vector).Length(model.EmbeddingDimension)

	answer, err := ext.Answer(ctx, "When is the project deadline?", []*model.MemoryRecord{
		{LosslessRestatement: drafts[0].LosslessRestatement, Timestamp: drafts[0].Timestamp},
	})
	gt.NoError(t, err).Required()
	gt.String(t, answer).NotEqual("")
}
