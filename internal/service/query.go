package service

import "regexp"

var (
	// A leading question word, only when it stands as a whole token.
	englishInterrogative = regexp.MustCompile(`(?i)^\s*(?:what\s+is|what\s+are|how|why|is|are)(?:\s+|$)`)
	// Interrogative characters, question marks and whitespace.
	stopChars = regexp.MustCompile(`[什么是的？?吗如何怎么为什么\s]`)
)

// CleanQuery strips interrogative words and punctuation so that the query
// vector is dominated by its content terms. When nothing is left the raw
// query is returned unchanged.
func CleanQuery(q string) string {
	cleaned := englishInterrogative.ReplaceAllString(q, "")
	cleaned = stopChars.ReplaceAllString(cleaned, "")
	if cleaned == "" {
		return q
	}
	return cleaned
}
