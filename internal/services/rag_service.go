// Package services – RAGService
//
// This file implements the RAGService, the gateway to the retrieval and
// generation backends. Chat retrieves supporting chunks for a free-text
// message and composes a grounded answer via the generation backend; Query
// exposes retrieval alone for debugging and relevance tuning. The gateway
// persists nothing; callers append the exchange to the message store when
// history is wanted.
//
// Calls to the generation backend pass through an outbound token-bucket
// limiter so a burst of chat traffic cannot overload the model server, and
// run under a configurable deadline. Any backend failure or timeout surfaces
// as ErrUpstreamUnavailable; the gateway never substitutes a fabricated
// answer for a real failure.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Retriever finds the chunks most similar to a query. Implementations score
// in [0,1], best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]domain.RetrievedChunk, error)
}

// Generator produces an answer for a query given supporting context chunks.
type Generator interface {
	Generate(ctx context.Context, query string, chunks []domain.RetrievedChunk) (string, error)
	// Model names the underlying model for response metadata.
	Model() string
}

// RAGMetadata describes how an answer or result set was produced.
type RAGMetadata struct {
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatOutput is the outcome of one grounded chat call. Context holds the
// chunks the answer was grounded on, ready to be attached to a persisted
// assistant message.
type ChatOutput struct {
	Response string             `json:"response"`
	Context  *domain.RAGContext `json:"context"`
	Metadata RAGMetadata        `json:"metadata"`
}

// QueryOutput is the outcome of a retrieval-only call.
type QueryOutput struct {
	Query    string                  `json:"query"`
	Results  []domain.RetrievedChunk `json:"results"`
	Metadata RAGMetadata             `json:"metadata"`
}

// RAGService orchestrates retrieval-augmented generation.
type RAGService struct {
	// Retriever supplies similarity-ranked chunks.
	Retriever Retriever
	// Generator produces answers; nil degrades to an extractive fallback.
	Generator Generator

	// MaxResults caps the number of chunks passed to generation.
	MaxResults int
	// Threshold drops chunks scoring below it.
	Threshold float64
	// Timeout bounds one generation call.
	Timeout time.Duration

	// Upstream throttles outbound generation calls; nil means unthrottled.
	Upstream *rate.Limiter

	// now is a seam for tests; defaults to time.Now.
	now func() time.Time
}

// NewRAGService constructs a RAGService with conservative defaults.
func NewRAGService(retriever Retriever, generator Generator) *RAGService {
	return &RAGService{
		Retriever:  retriever,
		Generator:  generator,
		MaxResults: 5,
		Threshold:  0.0,
		Timeout:    5 * time.Minute,
	}
}

// Chat retrieves supporting chunks for message and composes a grounded
// answer. Nothing is persisted; the returned context can be attached to a
// stored assistant message by the caller.
func (s *RAGService) Chat(ctx context.Context, userID, message string) (*ChatOutput, error) {
	tr := otel.Tracer("services/RAGService")
	ctx, span := tr.Start(ctx, "Chat",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyQuery
	}

	chunks, err := s.retrieve(ctx, message)
	if err != nil {
		return nil, err
	}

	answer, err := s.generate(ctx, message, chunks)
	if err != nil {
		return nil, err
	}

	return &ChatOutput{
		Response: answer,
		Context: &domain.RAGContext{
			Query:           message,
			RetrievedChunks: chunks,
		},
		Metadata: RAGMetadata{Model: s.modelName(), Timestamp: s.clock()},
	}, nil
}

// Query runs retrieval alone and returns the ranked chunks. No generation
// call is made.
func (s *RAGService) Query(ctx context.Context, query string) (*QueryOutput, error) {
	tr := otel.Tracer("services/RAGService")
	ctx, span := tr.Start(ctx, "Query",
		trace.WithAttributes(attribute.String("query", query)),
	)
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	chunks, err := s.retrieve(ctx, query)
	if err != nil {
		return nil, err
	}
	return &QueryOutput{
		Query:    query,
		Results:  chunks,
		Metadata: RAGMetadata{Model: s.modelName(), Timestamp: s.clock()},
	}, nil
}

// retrieve pulls candidates and applies the score threshold and result cap.
func (s *RAGService) retrieve(ctx context.Context, query string) ([]domain.RetrievedChunk, error) {
	max := s.MaxResults
	if max <= 0 {
		max = 5
	}
	if s.Retriever == nil {
		return []domain.RetrievedChunk{}, nil
	}

	chunks, err := s.Retriever.Retrieve(ctx, query, max)
	if err != nil {
		return nil, errors.Join(ErrUpstreamUnavailable, err)
	}

	kept := make([]domain.RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.SimilarityScore < s.Threshold {
			continue
		}
		kept = append(kept, c)
		if len(kept) == max {
			break
		}
	}
	return kept, nil
}

// generate calls the generation backend under the outbound limiter and
// deadline. With no generator configured it falls back to quoting the best
// retrieved chunk.
func (s *RAGService) generate(ctx context.Context, query string, chunks []domain.RetrievedChunk) (string, error) {
	if s.Generator == nil {
		if len(chunks) == 0 {
			return "I can't answer that from the provided data.", nil
		}
		return chunks[0].Content, nil
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	if s.Upstream != nil {
		if err := s.Upstream.Wait(ctx); err != nil {
			return "", ErrUpstreamUnavailable
		}
	}

	answer, err := s.Generator.Generate(ctx, query, chunks)
	if err != nil {
		// Timeouts, refused connections, and model errors all surface the
		// same way to callers; the underlying cause is logged upstream.
		return "", errors.Join(ErrUpstreamUnavailable, err)
	}
	return answer, nil
}

// modelName reports the generator's model or a fallback label.
func (s *RAGService) modelName() string {
	if s.Generator != nil {
		return s.Generator.Model()
	}
	return "extractive"
}

// clock returns the service time source (test seam).
func (s *RAGService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}
