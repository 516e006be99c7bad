package textproc

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultMaxTokens is the token budget for a single chunk.
	DefaultMaxTokens = 450

	// DefaultOverlapTokens is how many trailing tokens of a flushed chunk
	// seed the next one, so adjacent chunks keep shared context.
	DefaultOverlapTokens = 75

	// encodingName is the tiktoken encoding used for token counting.
	// It matches the text-embedding-3-small tokenizer.
	encodingName = "cl100k_base"
)

// TokenCounter returns the token cost of a piece of text.
type TokenCounter func(text string) int

// Chunker splits normalized text into bounded, overlapping chunks.
// It is a pure function of its input: identical text always produces an
// identical chunk sequence, which matters because chunk identity
// (the dedup key) is derived from chunk text.
type Chunker struct {
	maxTokens int
	overlap   int
	count     TokenCounter
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithBudget overrides the chunk token budget and overlap budget.
func WithBudget(maxTokens, overlap int) Option {
	return func(c *Chunker) {
		c.maxTokens = maxTokens
		c.overlap = overlap
	}
}

// WithTokenCounter overrides the token counting function.
// Tests inject a cheap counter here; the default loads tiktoken.
func WithTokenCounter(count TokenCounter) Option {
	return func(c *Chunker) {
		c.count = count
	}
}

// NewChunker creates a Chunker with the default 450/75 token budgets and a
// tiktoken cl100k_base counter unless overridden by options.
func NewChunker(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		maxTokens: DefaultMaxTokens,
		overlap:   DefaultOverlapTokens,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.maxTokens <= 0 {
		return nil, fmt.Errorf("chunk token budget must be positive, got %d", c.maxTokens)
	}
	if c.overlap < 0 || c.overlap >= c.maxTokens {
		return nil, fmt.Errorf("overlap budget must be in [0, %d), got %d", c.maxTokens, c.overlap)
	}

	if c.count == nil {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			return nil, fmt.Errorf("load %s encoding: %w", encodingName, err)
		}
		c.count = func(text string) int {
			return len(enc.Encode(text, nil, nil))
		}
	}

	return c, nil
}

// Split breaks text into an ordered sequence of non-empty chunks.
// Words are accumulated until adding the next word would exceed the token
// budget; the buffer is then flushed and reseeded with the trailing words of
// the flushed chunk until the overlap budget is met.
//
// Empty or whitespace-only input yields zero chunks. Callers treat that as
// "nothing to ingest", not as an error. A single word whose token cost
// exceeds the budget still becomes its own chunk; words are never truncated.
func (c *Chunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var buf []string
	bufTokens := 0

	for _, word := range words {
		cost := c.count(word)

		if len(buf) > 0 && bufTokens+cost > c.maxTokens {
			chunks = append(chunks, strings.Join(buf, " "))

			// Seed the next buffer by walking backward from the end of the
			// flushed chunk until the overlap budget is covered.
			start := len(buf)
			seedTokens := 0
			for start > 0 && seedTokens < c.overlap {
				start--
				seedTokens += c.count(buf[start])
			}
			buf = append([]string(nil), buf[start:]...)
			bufTokens = seedTokens
		}

		buf = append(buf, word)
		bufTokens += cost
	}

	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, " "))
	}

	return chunks
}
