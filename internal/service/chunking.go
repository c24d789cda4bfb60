package service

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultChunkMaxLength is the chunk size, in characters, used when none is configured.
const DefaultChunkMaxLength = 500

// ChunkConfig controls chunking for knowledge ingestion.
type ChunkConfig struct {
	MaxLength int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxLength: DefaultChunkMaxLength,
	}
}

// ChunkText groups the sentences of text into chunks of at most maxLength
// characters. A sentence longer than maxLength becomes a chunk of its own and
// is never split. Empty or whitespace-only text, or maxLength <= 0, yields nil.
func ChunkText(text string, maxLength int) []string {
	if maxLength <= 0 {
		return nil
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	chunks := make([]string, 0, 4)
	var buf strings.Builder
	bufLen := 0
	for _, sentence := range sentences {
		n := utf8.RuneCountInString(sentence)
		if bufLen > 0 && bufLen+1+n > maxLength {
			chunks = append(chunks, strings.TrimSpace(buf.String()))
			buf.Reset()
			bufLen = 0
		}
		if bufLen > 0 {
			buf.WriteByte(' ')
			bufLen++
		}
		buf.WriteString(sentence)
		bufLen += n
	}
	if last := strings.TrimSpace(buf.String()); last != "" {
		chunks = append(chunks, last)
	}

	return chunks
}

// splitSentences cuts text at every whitespace run that directly follows
// '.', '!' or '?'. The whitespace itself is dropped.
func splitSentences(text string) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}

	runes := []rune(clean)
	sentences := make([]string, 0, 8)
	start := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsSpace(runes[i]) || !isTerminal(runes[i-1]) {
			continue
		}
		sentences = append(sentences, string(runes[start:i]))
		for i < len(runes) && unicode.IsSpace(runes[i]) {
			i++
		}
		start = i
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}

	return sentences
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
