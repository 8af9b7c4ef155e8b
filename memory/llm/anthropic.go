// Package llm provides Anthropic-backed implementations of the engine's
// provider interfaces: concept extraction and memory-augmented response
// generation.
package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
)

const defaultModel = "claude-sonnet-4-20250514"

// Client implements memory.ConceptExtractor and memory.ResponseGenerator on
// the Anthropic Messages API.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// Option configures the client.
type Option func(*Client)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = anthropic.Model(model)
	}
}

// New creates a client. The API key comes from the ANTHROPIC_API_KEY
// environment variable when apiKey is empty.
func New(apiKey string, opts ...Option) *Client {
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	c := &Client{
		client: anthropic.NewClient(clientOpts...),
		model:  defaultModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const extractSystemPrompt = `You extract key concepts from text for a semantic memory system.
Return ONLY a JSON array of 1-8 short concept labels (1-3 words each), lowercase, no explanations.
Example: ["machine learning", "neural networks", "optimization"]`

// ExtractConcepts asks the model for the key concept labels of text.
// The response is parsed as a JSON array; labels are trimmed and
// deduplicated case-insensitively.
func (c *Client) ExtractConcepts(ctx context.Context, text string) ([]string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: extractSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "concept extraction request failed")
	}
	return parseConceptList(textContent(resp))
}

// parseConceptList decodes a JSON string array, tolerating surrounding prose
// by extracting the outermost bracketed segment.
func parseConceptList(raw string) ([]string, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, goerr.New("no concept array in model response", goerr.V("response", raw))
	}

	var labels []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &labels); err != nil {
		return nil, goerr.Wrap(err, "decode concept array", goerr.V("response", raw))
	}

	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		key := strings.ToLower(label)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, label)
	}
	return out, nil
}

const generateSystemPrompt = `You are an assistant with access to relevant past interactions.
Use the provided memory context when it helps answer the question. If the context is irrelevant, ignore it.
Answer directly and concisely.`

// Generate produces an answer to prompt, grounded in the retrieved memory
// context when one is provided.
func (c *Client) Generate(ctx context.Context, prompt string, contextText string) (string, error) {
	userText := prompt
	if contextText != "" {
		userText = contextText + "\n\n" + prompt
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: generateSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userText)),
		},
	})
	if err != nil {
		return "", goerr.Wrap(err, "generation request failed")
	}

	answer := textContent(resp)
	if answer == "" {
		return "", goerr.New("model returned no text content")
	}
	return answer, nil
}

// textContent concatenates the text blocks of a response.
func textContent(resp *anthropic.Message) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
