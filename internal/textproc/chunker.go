// Package textproc provides the token estimation and text-chunking used to
// keep LLM calls inside a fixed token budget.
package textproc

import (
	"regexp"
	"strings"
)

// EstimateTokens approximates the token count of text as wordCount × 1.33.
// Good enough for budget-keeping; exact tokenization is provider-specific.
func EstimateTokens(text string) int {
	return estimateWords(len(strings.Fields(text)))
}

var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

// SplitSentences splits text on sentence-terminating punctuation followed by
// whitespace, keeping the punctuation with the sentence.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SplitParagraphs splits text on blank lines.
func SplitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ChunkUnits greedily accumulates units into chunks whose estimated token
// count stays at or below budget. A unit that alone exceeds the budget forms
// its own chunk; units are never split or reordered.
func ChunkUnits(units []string, budget int) []string {
	var chunks []string
	var current strings.Builder
	currentWords := 0

	// Track word counts, not summed per-unit estimates, so the closing
	// condition agrees with EstimateTokens over the joined chunk.
	for _, unit := range units {
		unitWords := len(strings.Fields(unit))
		if currentWords > 0 && estimateWords(currentWords+unitWords) > budget {
			chunks = append(chunks, current.String())
			current.Reset()
			currentWords = 0
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(unit)
		currentWords += unitWords
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func estimateWords(words int) int {
	return int(float64(words) * 1.33)
}

// ChunkText sentence-splits text and packs the sentences into token-bounded
// chunks.
func ChunkText(text string, budget int) []string {
	return ChunkUnits(SplitSentences(text), budget)
}

// ChunkByParagraph packs paragraphs into token-bounded chunks, falling back
// to sentence-level packing for any single paragraph that exceeds the budget
// on its own.
func ChunkByParagraph(text string, budget int) []string {
	var units []string
	for _, p := range SplitParagraphs(text) {
		if EstimateTokens(p) > budget {
			units = append(units, SplitSentences(p)...)
			continue
		}
		units = append(units, p)
	}
	return ChunkUnits(units, budget)
}
