// Package rag provides the generation backend for retrieval-augmented chat.
//
// The only production implementation talks to an Ollama server over its
// non-streaming /api/chat endpoint. Retrieved chunks are folded into a
// system prompt so the model answers strictly from the supplied context.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"
)

// OllamaClient generates answers via an Ollama chat endpoint.
type OllamaClient struct {
	// BaseURL is the server root, e.g. http://localhost:11434.
	BaseURL string
	// ModelName selects the model, e.g. "phi3:mini".
	ModelName string

	// Temperature, TopP, and MaxTokens tune generation; zero values are
	// omitted from the request so the server defaults apply.
	Temperature float64
	TopP        float64
	MaxTokens   int

	// HTTP is the client used for requests; per-call deadlines come from
	// the caller's context.
	HTTP *http.Client
}

// NewOllamaClient constructs a client with a defensive transport timeout.
// Callers normally bound requests via context as well.
func NewOllamaClient(baseURL, modelName string) *OllamaClient {
	return &OllamaClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		ModelName: modelName,
		HTTP:      &http.Client{Timeout: 10 * time.Minute},
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Model returns the configured model name.
func (c *OllamaClient) Model() string { return c.ModelName }

// Generate asks the model to answer query using only the supplied chunks.
func (c *OllamaClient) Generate(ctx context.Context, query string, chunks []domain.RetrievedChunk) (string, error) {
	payload := ollamaChatRequest{
		Model: c.ModelName,
		Messages: []ollamaMessage{
			{Role: "system", Content: buildSystemPrompt(chunks)},
			{Role: "user", Content: query},
		},
		Stream: false,
	}
	if c.Temperature > 0 || c.TopP > 0 || c.MaxTokens > 0 {
		payload.Options = &ollamaOptions{
			Temperature: c.Temperature,
			TopP:        c.TopP,
			NumPredict:  c.MaxTokens,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	answer := strings.TrimSpace(out.Message.Content)
	if answer == "" {
		return "", fmt.Errorf("ollama returned an empty answer")
	}
	return answer, nil
}

// buildSystemPrompt frames the retrieved chunks as the model's only source
// of truth.
func buildSystemPrompt(chunks []domain.RetrievedChunk) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant. Answer the user's question using only the context below. ")
	b.WriteString("If the context does not contain the answer, say you don't know.\n\nContext:\n")
	if len(chunks) == 0 {
		b.WriteString("(no relevant context found)\n")
	}
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, c.Content)
	}
	return b.String()
}
