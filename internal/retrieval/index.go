// Package retrieval provides a simple, deterministic, concurrency-safe
// in-memory retrieval index built from Markdown paragraphs. It is
// intentionally small and dependency-free, but engineered with
// production-grade ergonomics:
//
//   - No logging in the library (callers decide how/what to log)
//   - Clear, documented types and functional options (Option pattern)
//   - Unicode-aware tokenization with optional stop-word removal
//   - Immutable, read-only index after construction (safe for concurrent use)
//   - Deterministic scoring, sorting, and chunk IDs (stable across rebuilds)
//   - Sensible defaults (paragraph filtering, result caps)
//
// Scoring uses Jaccard similarity between the query token set and each
// chunk's token set: score = |Q ∩ C| / |Q ∪ C|.
package retrieval

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"
)

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	minChunkRunes int
	stopwords     map[string]struct{}
	maxChunks     int
	source        string
}

func defaultConfig() config {
	return config{
		minChunkRunes: 40,
		stopwords:     nil,
		maxChunks:     0,
		source:        "",
	}
}

func WithMinChunkRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minChunkRunes = n
		}
	}
}

func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

func WithMaxChunks(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxChunks = n
		}
	}
}

// WithSource records the corpus origin in each chunk's metadata.
func WithSource(name string) Option {
	return func(c *config) {
		c.source = strings.TrimSpace(name)
	}
}

// ----------------------------------------------------------------------------
// Implementation

type chunk struct {
	id     string
	text   string
	tokens map[string]struct{}
	tLen   int
}

// Index is an immutable similarity index over a chunked corpus. It satisfies
// the Retriever contract of the RAG service.
type Index struct {
	cfg    config
	chunks []chunk
}

// NewIndexFromMarkdown builds an Index by reading the Markdown at path
// and delegating to NewIndexFromReader (in-memory).
func NewIndexFromMarkdown(path string, opts ...Option) (*Index, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return &Index{cfg: defaultConfig()}, err
	}
	return NewIndexFromReader(bytes.NewReader(b), opts...)
}

// NewIndexFromReader builds an Index from UTF-8 text provided by r.
// The reader is fully consumed; chunks are split on blank lines.
func NewIndexFromReader(r io.Reader, opts ...Option) (*Index, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	all, err := io.ReadAll(r)
	if err != nil {
		return &Index{cfg: cfg}, err
	}
	paras := splitParasFromBytes(all)
	return buildIndex(paras, cfg), nil
}

// NewIndexFromStrings builds an Index directly from a slice of paragraphs.
func NewIndexFromStrings(paragraphs []string, opts ...Option) *Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return buildIndex(paragraphs, cfg)
}

func buildIndex(paragraphs []string, cfg config) *Index {
	chunks := make([]chunk, 0, len(paragraphs))
	for _, raw := range paragraphs {
		t := strings.TrimSpace(normalizeWhitespace(raw))
		if t == "" {
			continue
		}
		if cfg.minChunkRunes > 0 && utf8.RuneCountInString(t) < cfg.minChunkRunes {
			continue
		}
		toks := tokenize(t, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		// IDs are positional over the filtered corpus, so the same input
		// always yields the same IDs.
		id := fmt.Sprintf("chunk-%04d", len(chunks))
		chunks = append(chunks, chunk{id: id, text: t, tokens: toks, tLen: len(toks)})
		if cfg.maxChunks > 0 && len(chunks) >= cfg.maxChunks {
			break
		}
	}
	return &Index{cfg: cfg, chunks: chunks}
}

// Len reports the number of indexed chunks.
func (i *Index) Len() int { return len(i.chunks) }

// Retrieve returns up to limit best-matching chunks by Jaccard similarity,
// best first. An empty query or corpus yields an empty slice.
func (i *Index) Retrieve(ctx context.Context, query string, limit int) ([]domain.RetrievedChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(i.chunks) == 0 || strings.TrimSpace(query) == "" {
		return []domain.RetrievedChunk{}, nil
	}
	if limit <= 0 {
		limit = 3
	}
	qTokens := tokenize(query, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return []domain.RetrievedChunk{}, nil
	}
	qLen := len(qTokens)

	type scored struct {
		c        *chunk
		score    float64
		lenRunes int
	}

	buf := make([]scored, 0, min(limit*4, len(i.chunks)))
	for idx := range i.chunks {
		c := &i.chunks[idx]
		over := overlap(qTokens, c.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + c.tLen - over)
		if union <= 0 {
			continue
		}
		score := float64(over) / union
		if score <= 0 {
			continue
		}
		buf = append(buf, scored{
			c:        c,
			score:    score,
			lenRunes: utf8.RuneCountInString(c.text),
		})
	}
	if len(buf) == 0 {
		return []domain.RetrievedChunk{}, nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].lenRunes != buf[b].lenRunes {
			return buf[a].lenRunes < buf[b].lenRunes
		}
		return buf[a].c.text < buf[b].c.text
	})

	if limit > len(buf) {
		limit = len(buf)
	}
	out := make([]domain.RetrievedChunk, limit)
	for n := 0; n < limit; n++ {
		var meta map[string]string
		if i.cfg.source != "" {
			meta = map[string]string{"source": i.cfg.source}
		}
		out[n] = domain.RetrievedChunk{
			ChunkID:         buf[n].c.id,
			Content:         buf[n].c.text,
			SimilarityScore: buf[n].score,
			Metadata:        meta,
		}
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

var paraSplitRE = regexp.MustCompile(`\n\s*\n`)

func splitParasFromBytes(all []byte) []string {
	raw := string(all)
	chunks := paraSplitRE.Split(raw, -1)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := strings.TrimSpace(c); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
