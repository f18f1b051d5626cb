package extractor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/simplemem/pkg/domain/interfaces"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
)

// client implements interfaces.Extractor on a gollem LLM client
type client struct {
	llmClient gollem.LLMClient
	dimension int
}

var _ interfaces.Extractor = &client{}

// Option is a functional option for client configuration
type Option func(*client)

// WithEmbeddingDimension overrides model.EmbeddingDimension
func WithEmbeddingDimension(dim int) Option {
	return func(c *client) {
		if dim > 0 {
			c.dimension = dim
		}
	}
}

// New creates an extraction engine backed by llmClient
func New(llmClient gollem.LLMClient, opts ...Option) (interfaces.Extractor, error) {
	if llmClient == nil {
		return nil, goerr.New("LLM client is required")
	}

	c := &client{
		llmClient: llmClient,
		dimension: model.EmbeddingDimension,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// llmResponse is the structured output of the extraction prompt
type llmResponse struct {
	Memories []llmMemory `json:"memories"`
}

type llmMemory struct {
	LosslessRestatement string   `json:"lossless_restatement"`
	Keywords            []string `json:"keywords"`
	Timestamp           string   `json:"timestamp"`
	Location            string   `json:"location"`
	Persons             []string `json:"persons"`
	Entities            []string `json:"entities"`
	Topic               string   `json:"topic"`
}

// Extract asks the LLM for self-contained memory statements in the dialogue
// and embeds each statement.
func (c *client) Extract(ctx context.Context, dialogue *model.Dialogue) ([]*model.RecordDraft, error) {
	session, err := c.llmClient.NewSession(ctx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionResponseSchema(extractionSchema()),
		gollem.WithSessionSystemPrompt(extractionSystemPrompt),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create LLM session")
	}

	resp, err := session.GenerateContent(ctx, gollem.Text(buildExtractionPrompt(dialogue)))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content from LLM")
	}
	if resp == nil || len(resp.Texts) == 0 {
		return nil, goerr.New("LLM returned no content")
	}

	var llmResp llmResponse
	if err := json.Unmarshal([]byte(resp.Texts[0]), &llmResp); err != nil {
		return nil, goerr.Wrap(err, "failed to parse LLM response", goerr.V("response", resp.Texts[0]))
	}

	memories := make([]llmMemory, 0, len(llmResp.Memories))
	for _, m := range llmResp.Memories {
		if strings.TrimSpace(m.LosslessRestatement) != "" {
			memories = append(memories, m)
		}
	}
	if len(memories) == 0 {
		return nil, nil
	}

	texts := make([]string, len(memories))
	for i, m := range memories {
		texts[i] = m.LosslessRestatement
	}
	vectors, err := c.generateEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}

	drafts := make([]*model.RecordDraft, len(memories))
	for i, m := range memories {
		drafts[i] = &model.RecordDraft{
			LosslessRestatement: m.LosslessRestatement,
			Keywords:            m.Keywords,
			Timestamp:           m.Timestamp,
			Location:            m.Location,
			Persons:             m.Persons,
			Entities:            m.Entities,
			Topic:               m.Topic,
			Vector:              vectors[i],
		}
	}
	return drafts, nil
}

func (c *client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.generateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Answer asks the LLM to answer from the grounding records only
func (c *client) Answer(ctx context.Context, question string, grounding []*model.MemoryRecord) (string, error) {
	session, err := c.llmClient.NewSession(ctx,
		gollem.WithSessionSystemPrompt(answerSystemPrompt),
	)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create LLM session")
	}

	resp, err := session.GenerateContent(ctx, gollem.Text(buildAnswerPrompt(question, grounding)))
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate answer from LLM")
	}
	if resp == nil || len(resp.Texts) == 0 {
		return "", goerr.New("LLM returned no answer")
	}

	answer := strings.TrimSpace(strings.Join(resp.Texts, ""))
	if answer == "" {
		return "", goerr.New("LLM returned an empty answer")
	}
	return answer, nil
}

// generateEmbeddings embeds texts in one call and converts to float32
func (c *client) generateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings, err := c.llmClient.GenerateEmbedding(ctx, c.dimension, texts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embedding")
	}
	if len(embeddings) != len(texts) {
		return nil, goerr.New("embedding count mismatch",
			goerr.V("expected", len(texts)),
			goerr.V("actual", len(embeddings)))
	}

	result := make([][]float32, len(embeddings))
	for i, emb := range embeddings {
		if len(emb) == 0 {
			return nil, goerr.New("empty embedding returned", goerr.V("index", i))
		}
		result[i] = make([]float32, len(emb))
		for j, v := range emb {
			result[i][j] = float32(v)
		}
	}
	return result, nil
}
