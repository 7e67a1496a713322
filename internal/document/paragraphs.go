package document

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxRunningHeaderRunes bounds the paragraphs treated as page furniture when
// they repeat. Longer repeats are kept as content.
const maxRunningHeaderRunes = 160

var (
	paragraphSplit = regexp.MustCompile(`\n{2,}`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
	pageNumber     = regexp.MustCompile(`(?i)^(page\s+)?\d{1,4}(\s*(of|/)\s*\d{1,4})?$`)
)

// dropPageFurniture removes the running headers, footers and page numbers
// that PDF text extraction repeats on every page. The first occurrence of a
// repeated header is kept.
func dropPageFurniture(text string) string {
	paragraphs := paragraphSplit.Split(text, -1)
	seen := map[string]bool{}
	kept := paragraphs[:0]
	for _, paragraph := range paragraphs {
		trimmed := strings.TrimSpace(paragraph)
		if trimmed == "" || pageNumber.MatchString(trimmed) {
			continue
		}
		if utf8.RuneCountInString(trimmed) <= maxRunningHeaderRunes {
			hash := hashParagraph(canonicalParagraph(trimmed))
			if seen[hash] {
				continue
			}
			seen[hash] = true
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, "\n\n")
}

func canonicalParagraph(text string) string {
	return strings.ToLower(whitespaceRun.ReplaceAllString(strings.TrimSpace(text), " "))
}

func hashParagraph(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
