package processing

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/CaliLuke/rusty-mcp/config"
)

const (
	minAutomaticChunkSize = 256
	maxAutomaticChunkSize = 1024
)

// TokenCounter measures a segment in tokens.
type TokenCounter func(segment string) int

// DetermineChunkSize picks the token budget for a request.
//
// Precedence: a positive explicit override wins (zero or a negative value
// falls through to the derived size); otherwise derive
// from the provider/model context window divided by 4 (8 with safe defaults)
// and clamp into [256, 1024].
func DetermineChunkSize(override int, provider config.EmbeddingProvider, model string, useSafeDefaults bool) int {
	if override > 0 {
		return override
	}

	window := embeddingContextWindow(provider, model)
	divisor := 4
	if useSafeDefaults {
		divisor = 8
	}
	candidate := window / divisor
	if candidate < minAutomaticChunkSize {
		return minAutomaticChunkSize
	}
	if candidate > maxAutomaticChunkSize {
		return maxAutomaticChunkSize
	}
	return candidate
}

// embeddingContextWindow estimates the context window for a provider/model pair.
func embeddingContextWindow(provider config.EmbeddingProvider, model string) int {
	normalized := strings.ToLower(model)
	switch provider {
	case config.EmbeddingOpenAI:
		if strings.HasPrefix(normalized, "text-embedding-3") || strings.HasPrefix(normalized, "text-embedding-ada-002") {
			return 8192
		}
		return 4096
	case config.EmbeddingOllama:
		switch {
		case normalized == "nomic-embed-text",
			strings.HasPrefix(normalized, "mxbai-embed-large"):
			return 8192
		case strings.Contains(normalized, "all-minilm"):
			return 512
		case strings.Contains(normalized, "e5-large"):
			return 4096
		default:
			return 4096
		}
	default:
		return 4096
	}
}

// BuildTokenCounter resolves a tokenizer for the provider/model, falling back
// to Unicode-whitespace counting when no model-compatible encoding exists
// (common with locally aliased Ollama models and the deterministic provider).
func BuildTokenCounter(provider config.EmbeddingProvider, model string) TokenCounter {
	if provider == config.EmbeddingDeterministic {
		return whitespaceTokenCounter
	}
	if encoding, err := tiktoken.EncodingForModel(model); err == nil {
		return tiktokenCounter(encoding)
	}
	if encoding, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		return tiktokenCounter(encoding)
	}
	return whitespaceTokenCounter
}

func tiktokenCounter(encoding *tiktoken.Tiktoken) TokenCounter {
	return func(segment string) int {
		return len(encoding.Encode(segment, nil, nil))
	}
}

func whitespaceTokenCounter(segment string) int {
	tokens := len(strings.Fields(segment))
	if tokens == 0 && segment != "" {
		return 1
	}
	return tokens
}

// ChunkText splits text into segments bounded by chunkSize tokens, applying a
// sliding token overlap between adjacent chunks. Boundaries never split a
// whitespace-delimited token and output order equals source order. Whitespace-
// only input yields no chunks.
func ChunkText(text string, chunkSize, overlap int, counter TokenCounter) []string {
	if chunkSize <= 0 {
		return nil
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	base := packWords(words, chunkSize, counter)
	return applyOverlap(base, chunkSize, overlap, counter)
}

// packWords greedily accumulates words while the joined segment stays within
// the token budget. A single word above the budget becomes its own chunk
// since tokens are never split.
func packWords(words []string, chunkSize int, counter TokenCounter) []string {
	var chunks []string
	var current []string

	for _, word := range words {
		candidate := strings.Join(append(current, word), " ")
		if len(current) > 0 && counter(candidate) > chunkSize {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
		}
		current = append(current, word)
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// applyOverlap prefixes each chunk after the first with the last `overlap`
// tokens of its predecessor, trimming from the start so the combined chunk
// still respects the budget.
func applyOverlap(chunks []string, chunkSize, overlap int, counter TokenCounter) []string {
	if len(chunks) < 2 {
		return chunks
	}
	effective := overlap
	if effective > chunkSize-1 {
		effective = chunkSize - 1
	}
	if effective <= 0 {
		return chunks
	}

	overlapped := make([]string, 0, len(chunks))
	overlapped = append(overlapped, chunks[0])
	for i := 1; i < len(chunks); i++ {
		tail := tailWithinTokenLimit(chunks[i-1], effective, counter)
		combined := chunks[i]
		if tail != "" {
			combined = tail + " " + chunks[i]
		}
		overlapped = append(overlapped, trimToTokenBudget(combined, chunkSize, counter))
	}
	return overlapped
}

// tailWithinTokenLimit returns the longest word suffix of text that fits the
// token limit.
func tailWithinTokenLimit(text string, tokenLimit int, counter TokenCounter) string {
	words := strings.Fields(text)
	for start := 0; start < len(words); start++ {
		candidate := strings.Join(words[start:], " ")
		if counter(candidate) <= tokenLimit {
			return candidate
		}
	}
	return ""
}

// trimToTokenBudget drops leading words until the segment fits the budget.
func trimToTokenBudget(text string, budget int, counter TokenCounter) string {
	if counter(text) <= budget {
		return text
	}
	words := strings.Fields(text)
	for start := 1; start < len(words); start++ {
		candidate := strings.Join(words[start:], " ")
		if counter(candidate) <= budget {
			return candidate
		}
	}
	return ""
}
