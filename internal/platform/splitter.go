package platform

import "strings"

// Split breaks text into chunks that each fit the platform's byte budget.
// It prefers line boundaries, hard-wraps single lines that exceed the
// budget on rune boundaries, and never emits an empty chunk.
func Split(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, line := range strings.Split(text, "\n") {
		for len(line) > limit {
			// A single line over budget: hard-wrap it.
			flush()
			cut := truncateOnRune(line, limit)
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}

		// +1 accounts for the joining newline.
		if current.Len() > 0 && current.Len()+1+len(line) > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	flush()

	return chunks
}

// truncateOnRune returns the largest byte offset ≤ max that does not split
// a UTF-8 sequence.
func truncateOnRune(s string, max int) int {
	if max >= len(s) {
		return len(s)
	}
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	if cut == 0 {
		// Degenerate input (a rune longer than the budget); split anyway.
		return max
	}
	return cut
}
