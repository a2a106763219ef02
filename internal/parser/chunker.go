package parser

import "strings"

const defaultChunkSize = 300 // words

// ChunkWords splits text on whitespace and groups the words into consecutive chunks
// of at most size words. Only the last chunk may be shorter. Empty or
// whitespace-only text yields no chunks.
func ChunkWords(text string, size int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(words)+size-1)/size)
	for start := 0; start < len(words); start += size {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}

// CountWords returns the number of whitespace-separated words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
