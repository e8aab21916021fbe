package llm

import (
	"regexp"
	"strings"
)

var sentenceRe = regexp.MustCompile(`[^.!?]*[.!?]+`)

// SentenceChunker accumulates streamed text deltas and yields complete
// sentences as soon as they close. Feeding partial sentences keeps text
// buffered until a terminator arrives; Flush hands back whatever remains.
type SentenceChunker struct {
	buffer strings.Builder
}

// NewSentenceChunker creates an empty chunker
func NewSentenceChunker() *SentenceChunker {
	return &SentenceChunker{}
}

// Feed appends a delta and returns any complete sentences it closed
func (sc *SentenceChunker) Feed(delta string) []string {
	sc.buffer.WriteString(delta)
	text := sc.buffer.String()

	var sentences []string
	for {
		loc := sentenceRe.FindStringIndex(text)
		if loc == nil {
			break
		}
		sentence := strings.TrimSpace(text[:loc[1]])
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		text = text[loc[1]:]
	}

	sc.buffer.Reset()
	sc.buffer.WriteString(text)
	return sentences
}

// Flush returns the trailing text that never saw a terminator
func (sc *SentenceChunker) Flush() string {
	leftover := strings.TrimSpace(sc.buffer.String())
	sc.buffer.Reset()
	return leftover
}
