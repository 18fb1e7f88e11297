package rag

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"
)

func chatServer(t *testing.T, handler func(w http.ResponseWriter, req ollamaChatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewOllamaClient_TrimsTrailingSlash(t *testing.T) {
	c := NewOllamaClient("http://localhost:11434///", "phi3:mini")
	if c.BaseURL != "http://localhost:11434" {
		t.Fatalf("BaseURL = %q", c.BaseURL)
	}
	if c.Model() != "phi3:mini" {
		t.Fatalf("Model = %q", c.Model())
	}
}

func TestOllamaClient_Generate_Success(t *testing.T) {
	var seen ollamaChatRequest
	srv := chatServer(t, func(w http.ResponseWriter, req ollamaChatRequest) {
		seen = req
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:   req.Model,
			Message: ollamaMessage{Role: "assistant", Content: "  Nashville.  "},
			Done:    true,
		})
	})

	c := NewOllamaClient(srv.URL, "phi3:mini")
	chunks := []domain.RetrievedChunk{
		{ChunkID: "chunk-0000", Content: "Nashville is the top destination.", SimilarityScore: 0.9},
		{ChunkID: "chunk-0001", Content: "Pack light layers.", SimilarityScore: 0.4},
	}
	answer, err := c.Generate(context.Background(), "where should gen z travel?", chunks)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if answer != "Nashville." {
		t.Fatalf("answer = %q (should be trimmed)", answer)
	}

	if seen.Model != "phi3:mini" || seen.Stream {
		t.Fatalf("request fields: model=%q stream=%v", seen.Model, seen.Stream)
	}
	if len(seen.Messages) != 2 || seen.Messages[0].Role != "system" || seen.Messages[1].Role != "user" {
		t.Fatalf("message layout: %+v", seen.Messages)
	}
	sys := seen.Messages[0].Content
	if !strings.Contains(sys, "[1] Nashville is the top destination.") || !strings.Contains(sys, "[2] Pack light layers.") {
		t.Fatalf("chunks not numbered into system prompt:\n%s", sys)
	}
	if seen.Messages[1].Content != "where should gen z travel?" {
		t.Fatalf("user message: %q", seen.Messages[1].Content)
	}
	// No tuning set, so options stay absent.
	if seen.Options != nil {
		t.Fatalf("options should be omitted: %+v", seen.Options)
	}
}

func TestOllamaClient_Generate_SendsOptionsWhenTuned(t *testing.T) {
	var seen ollamaChatRequest
	srv := chatServer(t, func(w http.ResponseWriter, req ollamaChatRequest) {
		seen = req
		json.NewEncoder(w).Encode(ollamaChatResponse{Message: ollamaMessage{Content: "ok"}, Done: true})
	})

	c := NewOllamaClient(srv.URL, "phi3:mini")
	c.Temperature = 0.2
	c.MaxTokens = 128

	if _, err := c.Generate(context.Background(), "q", nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if seen.Options == nil || seen.Options.Temperature != 0.2 || seen.Options.NumPredict != 128 {
		t.Fatalf("options not forwarded: %+v", seen.Options)
	}
}

func TestOllamaClient_Generate_NoContextChunks(t *testing.T) {
	var seen ollamaChatRequest
	srv := chatServer(t, func(w http.ResponseWriter, req ollamaChatRequest) {
		seen = req
		json.NewEncoder(w).Encode(ollamaChatResponse{Message: ollamaMessage{Content: "I don't know."}, Done: true})
	})

	c := NewOllamaClient(srv.URL, "phi3:mini")
	if _, err := c.Generate(context.Background(), "q", nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(seen.Messages[0].Content, "(no relevant context found)") {
		t.Fatalf("empty-context marker missing:\n%s", seen.Messages[0].Content)
	}
}

func TestOllamaClient_Generate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	c := NewOllamaClient(srv.URL, "missing:model")
	_, err := c.Generate(context.Background(), "q", nil)
	if err == nil || !strings.Contains(err.Error(), "status 404") || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected status error with body snippet, got %v", err)
	}
}

func TestOllamaClient_Generate_EmptyAnswer(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, _ ollamaChatRequest) {
		json.NewEncoder(w).Encode(ollamaChatResponse{Message: ollamaMessage{Content: "   "}, Done: true})
	})

	c := NewOllamaClient(srv.URL, "phi3:mini")
	if _, err := c.Generate(context.Background(), "q", nil); err == nil {
		t.Fatalf("expected error for empty answer")
	}
}

func TestOllamaClient_Generate_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read and can
		// observe the client disconnect; otherwise r.Context() is never
		// cancelled and srv.Close deadlocks in cleanup.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c := NewOllamaClient(srv.URL, "phi3:mini")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.Generate(ctx, "q", nil); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestOllamaClient_Generate_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing listening anymore

	c := NewOllamaClient(url, "phi3:mini")
	if _, err := c.Generate(context.Background(), "q", nil); err == nil {
		t.Fatalf("expected connection error")
	}
}
