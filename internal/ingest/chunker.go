// Package ingest turns textbook chapters into retrievable chunks: it splits
// chapter text, persists the chunk rows, and feeds them through the embedder
// into the vector index.
package ingest

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the maximum chunk length in runes.
const DefaultChunkSize = 1000

// paragraphSeparator splits chapter text into paragraphs.
const paragraphSeparator = "\n\n"

// Chunk is one slice of chapter text with its position in the original.
type Chunk struct {
	// Index is the chunk's ordinal within the chapter, starting at 0.
	Index int
	// Content is the chunk text.
	Content string
	// Offset is the chunk's starting byte offset in the original text.
	Offset int
	// Length is len(Content) in bytes.
	Length int
}

// Split breaks text into chunks of at most size runes. The text is first
// split on blank lines; each paragraph becomes one chunk, and a paragraph
// longer than size is cut into rune-aligned windows, so a multi-byte
// character is never torn across two chunks. Offsets and lengths are byte
// positions in the original text, strictly increasing and non-overlapping:
// concatenating all chunk contents reproduces the original text minus the
// paragraph separators.
func Split(text string, size int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var chunks []Chunk
	offset := 0
	for _, para := range strings.Split(text, paragraphSeparator) {
		if para == "" {
			offset += len(paragraphSeparator)
			continue
		}
		for start := 0; start < len(para); {
			end := start
			for n := 0; n < size && end < len(para); n++ {
				_, w := utf8.DecodeRuneInString(para[end:])
				end += w
			}
			content := para[start:end]
			chunks = append(chunks, Chunk{
				Index:   len(chunks),
				Content: content,
				Offset:  offset + start,
				Length:  len(content),
			})
			start = end
		}
		offset += len(para) + len(paragraphSeparator)
	}
	return chunks
}
