// Package chunker splits long text into provider-sized requests.
//
// Text is cut at sentence-terminal punctuation and packed greedily up to the
// byte budget. A sentence longer than the sentence budget is cut again at
// commas and then at word boundaries, each fragment ending with a synthetic
// period so that engines speak it as a complete utterance. Text without any
// punctuation takes the word path directly. No input character other than
// whitespace and trailing commas of a cut fragment is ever removed.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/smg1208/audio-crawler/pkg/tts"
)

// minBytes leaves room for one 4-byte rune, the synthetic period and a join space.
const minBytes = 8

// ErrInvalidLimits is returned when the limits cannot hold a single character.
var ErrInvalidLimits = errors.New("invalid chunk limits")

// Limits are the two independent request constraints of a provider.
type Limits struct {
	// MaxBytes bounds every chunk, measured in UTF-8 bytes.
	MaxBytes int
	// MaxSentenceLength bounds every sentence, measured in characters.
	// Zero disables the sentence bound.
	MaxSentenceLength int
}

// LimitsFor returns the chunk limits declared by a provider.
func LimitsFor(c tts.Capabilities) Limits {
	return Limits{MaxBytes: c.MaxBytes, MaxSentenceLength: c.MaxSentenceLength}
}

// Chunk is one request-sized slice of a task's text.
type Chunk struct {
	Index int
	Text  string
}

// Split cuts text into ordered chunks that satisfy lim. Every chunk is
// non-empty and at most lim.MaxBytes long. Empty input fails with
// tts.ErrEmptyInput.
func Split(text string, lim Limits) ([]Chunk, error) {
	if err := lim.validate(); err != nil {
		return nil, err
	}

	text = strings.Join(strings.Fields(strings.ToValidUTF8(text, "�")), " ")
	if text == "" {
		return nil, fmt.Errorf("chunker: %w", tts.ErrEmptyInput)
	}

	var sentences []string
	for _, s := range splitAfter(text, isTerminal) {
		if lim.fits(s) {
			sentences = append(sentences, s)
			continue
		}
		sentences = append(sentences, lim.splitLong(s)...)
	}

	return pack(sentences, lim.MaxBytes), nil
}

func (l Limits) validate() error {
	if l.MaxBytes < minBytes {
		return fmt.Errorf("%w: max bytes %d, need at least %d", ErrInvalidLimits, l.MaxBytes, minBytes)
	}
	if l.MaxSentenceLength < 0 || l.MaxSentenceLength == 1 {
		return fmt.Errorf("%w: max sentence length %d", ErrInvalidLimits, l.MaxSentenceLength)
	}
	return nil
}

// fits reports whether s can be sent as-is.
func (l Limits) fits(s string) bool {
	if len(s) > l.MaxBytes {
		return false
	}
	return l.MaxSentenceLength == 0 || utf8.RuneCountInString(s) <= l.MaxSentenceLength
}

// fitsFragment is fits with room for the synthetic period.
func (l Limits) fitsFragment(s string) bool {
	if len(s)+1 > l.MaxBytes {
		return false
	}
	return l.MaxSentenceLength == 0 || utf8.RuneCountInString(s)+1 <= l.MaxSentenceLength
}

// splitLong cuts an oversized sentence at secondary punctuation, falling back
// to word boundaries for clauses that are still too long.
func (l Limits) splitLong(s string) []string {
	clauses := splitAfter(s, isSecondary)
	if len(clauses) < 2 {
		return l.splitWords(s)
	}

	var out []string
	cur := ""
	flush := func() {
		if cur != "" {
			out = append(out, terminate(cur))
			cur = ""
		}
	}

	for _, c := range clauses {
		if !l.fitsFragment(c) {
			flush()
			out = append(out, l.splitWords(c)...)
			continue
		}
		if cur == "" {
			cur = c
			continue
		}
		if cand := cur + " " + c; l.fitsFragment(cand) {
			cur = cand
		} else {
			flush()
			cur = c
		}
	}
	flush()
	return out
}

// splitWords packs words into fragments that satisfy both limits.
func (l Limits) splitWords(s string) []string {
	var out []string
	cur := ""

	for _, w := range strings.Fields(s) {
		if !l.fitsFragment(w) {
			if cur != "" {
				out = append(out, terminate(cur))
				cur = ""
			}
			for _, piece := range l.splitRunes(w) {
				out = append(out, terminate(piece))
			}
			continue
		}
		if cur == "" {
			cur = w
			continue
		}
		if cand := cur + " " + w; l.fitsFragment(cand) {
			cur = cand
		} else {
			out = append(out, terminate(cur))
			cur = w
		}
	}
	if cur != "" {
		out = append(out, terminate(cur))
	}
	return out
}

// splitRunes cuts a single oversized token on rune boundaries.
func (l Limits) splitRunes(w string) []string {
	var out []string
	var b strings.Builder
	n := 0

	for _, r := range w {
		size := utf8.RuneLen(r)
		full := b.Len()+size+1 > l.MaxBytes ||
			(l.MaxSentenceLength > 0 && n+2 > l.MaxSentenceLength)
		if b.Len() > 0 && full {
			out = append(out, b.String())
			b.Reset()
			n = 0
		}
		b.WriteRune(r)
		n++
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

// pack joins sentences greedily while the chunk stays within maxBytes.
func pack(sentences []string, maxBytes int) []Chunk {
	var chunks []Chunk
	var cur strings.Builder

	emit := func() {
		chunks = append(chunks, Chunk{Index: len(chunks), Text: cur.String()})
		cur.Reset()
	}

	for _, s := range sentences {
		if cur.Len() > 0 && cur.Len()+1+len(s) > maxBytes {
			emit()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(s)
	}
	if cur.Len() > 0 {
		emit()
	}
	return chunks
}

// terminate replaces trailing secondary punctuation with a period unless the
// fragment already ends a sentence.
func terminate(s string) string {
	trimmed := strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || isSecondary(r)
	})
	if trimmed == "" {
		return strings.TrimSpace(s)
	}
	if endsSentence(trimmed) {
		return trimmed
	}
	return trimmed + "."
}

func endsSentence(s string) bool {
	s = strings.TrimRightFunc(s, isCloser)
	r, _ := utf8.DecodeLastRuneInString(s)
	return isTerminal(r)
}

// splitAfter cuts text after every run of marks, keeping the marks and any
// closing quotes with the preceding piece. ASCII marks only count when
// followed by whitespace or the end of text, so "3.14" and "1,000" stay whole.
func splitAfter(text string, isMark func(rune) bool) []string {
	var out []string
	start, i := 0, 0

	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if !isMark(r) {
			continue
		}

		ascii := r < utf8.RuneSelf
		for i < len(text) {
			next, n := utf8.DecodeRuneInString(text[i:])
			if !isMark(next) && !isCloser(next) {
				break
			}
			ascii = ascii && next < utf8.RuneSelf
			i += n
		}

		if ascii && i < len(text) {
			next, _ := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(next) {
				continue
			}
		}

		if piece := strings.TrimSpace(text[start:i]); piece != "" {
			out = append(out, piece)
		}
		start = i
	}

	if piece := strings.TrimSpace(text[start:]); piece != "" {
		out = append(out, piece)
	}
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}

func isSecondary(r rune) bool {
	switch r {
	case ',', '，', ';', '；', ':', '：', '、':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', ')', ']', '}', '»', '」', '』':
		return true
	}
	return false
}
