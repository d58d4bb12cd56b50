package processing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// EpisodicMemory is one memory loaded for summarization.
type EpisodicMemory struct {
	MemoryID  string
	Text      string
	Timestamp string
	parsed    time.Time
	hasParsed bool
}

// NewEpisodicMemory parses the timestamp eagerly so sorting stays cheap.
func NewEpisodicMemory(memoryID, text, timestamp string) EpisodicMemory {
	memory := EpisodicMemory{MemoryID: memoryID, Text: text, Timestamp: timestamp}
	if timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, timestamp); err == nil {
			memory.parsed = parsed
			memory.hasParsed = true
		}
	}
	return memory
}

// SortMemories orders memories chronologically; entries without parseable
// timestamps sort last by memory id.
func SortMemories(memories []EpisodicMemory) {
	sort.SliceStable(memories, func(i, j int) bool {
		return lessMemory(memories[i], memories[j])
	})
}

func lessMemory(a, b EpisodicMemory) bool {
	switch {
	case a.hasParsed && b.hasParsed:
		return a.parsed.Before(b.parsed)
	case a.hasParsed:
		return true
	case b.hasParsed:
		return false
	default:
		return a.MemoryID < b.MemoryID
	}
}

// BuildAbstractivePrompt assembles the provider prompt: a system directive,
// the project and window, then the items chronologically, each prefixed with
// its short date.
func BuildAbstractivePrompt(projectID string, timeRange TimeRange, maxWords int, memories []EpisodicMemory) string {
	var prompt strings.Builder
	fmt.Fprintf(&prompt,
		"System: You summarize developer activity into concise, factual prose. Prefer neutral tone. Avoid speculation. Include dates if present. Return at most %d words. Output a single paragraph.\n\n",
		maxWords)
	fmt.Fprintf(&prompt,
		"Summarize the following episodic notes for project '%s' between %s and %s.\n",
		projectID, orUnspecified(timeRange.Start), orUnspecified(timeRange.End))

	for _, memory := range memories {
		text := strings.TrimSpace(memory.Text)
		if text == "" {
			continue
		}
		snippet := truncateSnippet(text, 180)
		if date := shortDate(memory.Timestamp); date != "" {
			fmt.Fprintf(&prompt, "- %s: %s\n", date, snippet)
		} else {
			fmt.Fprintf(&prompt, "- %s\n", snippet)
		}
	}

	return prompt.String()
}

// BuildExtractiveSummary produces a deterministic summary: sentences split on
// [.!?], trimmed, deduplicated by sentence hash in chronological order, and
// accumulated up to the word budget, joined with ". ".
func BuildExtractiveSummary(memories []EpisodicMemory, maxWords int) string {
	seen := make(map[string]struct{})
	var sentences []string
	usedWords := 0

	for _, memory := range memories {
		for _, sentence := range splitSentences(memory.Text) {
			digest := sha256.Sum256([]byte(sentence))
			key := hex.EncodeToString(digest[:])
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			words := len(strings.Fields(sentence))
			if words == 0 {
				continue
			}
			if len(sentences) > 0 && usedWords+words > maxWords {
				return strings.Join(sentences, ". ")
			}
			sentences = append(sentences, sentence)
			usedWords += words
			if usedWords >= maxWords {
				return strings.Join(sentences, ". ")
			}
		}
	}

	if len(sentences) == 0 {
		return "No memories available."
	}
	return strings.Join(sentences, ". ")
}

// splitSentences breaks text on sentence punctuation, dropping empties.
func splitSentences(text string) []string {
	segments := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	var sentences []string
	for _, segment := range segments {
		if trimmed := strings.TrimSpace(segment); trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	return sentences
}

func truncateSnippet(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars-1]) + "…"
}

// shortDate reduces an RFC3339 timestamp to its calendar date.
func shortDate(timestamp string) string {
	if timestamp == "" {
		return ""
	}
	if parsed, err := time.Parse(time.RFC3339, timestamp); err == nil {
		return parsed.Format("2006-01-02")
	}
	return timestamp
}

func orUnspecified(value string) string {
	if value == "" {
		return "(unspecified)"
	}
	return value
}
