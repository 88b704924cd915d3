// Package chunker splits response text into bounded, speakable fragments.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

// Break-point patterns for SmartChunk, in priority order. Sentence
// boundaries are handled separately; these cover intra-sentence breaks.
var (
	clauseRegex      = regexp.MustCompile(`[,;:]\s`)
	conjunctionRegex = regexp.MustCompile(`\s(and|but|or|nor|so|yet|for)\s`)
)

// Common abbreviations that do not end a sentence.
var abbreviations = makeAbbreviationMap()

func makeAbbreviationMap() map[string]bool {
	abbrevs := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr",
		"i.e", "e.g", "etc", "vs", "cf", "al",
		"inc", "ltd", "co", "corp",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"st", "rd", "ave", "blvd",
		"u.s", "u.k", "u.n", "e.u",
		"ft", "lbs", "oz", "kg", "km", "cm", "mm", "mi",
		"hr", "hrs", "min", "mins", "sec", "secs",
	}
	m := make(map[string]bool, len(abbrevs)*2)
	for _, a := range abbrevs {
		m[a] = true
		m[a+"."] = true
	}
	return m
}

// Chunk splits text into fragments no longer than maxSize characters,
// breaking only at sentence boundaries. Sentences accumulate into a
// running fragment until adding the next one would exceed maxSize. A
// single sentence longer than maxSize is emitted whole rather than
// truncated. Fragments that end without terminal punctuation get a
// trailing period so downstream synthesis produces a natural cadence.
func Chunk(text string, maxSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxSize <= 0 {
		return []string{ensureTerminated(text)}
	}

	sentences := SplitSentences(text)
	var chunks []string
	var current strings.Builder

	for _, sentence := range sentences {
		if current.Len() == 0 {
			current.WriteString(sentence)
			continue
		}
		if runeLen(current.String())+1+runeLen(sentence) > maxSize {
			chunks = append(chunks, ensureTerminated(current.String()))
			current.Reset()
			current.WriteString(sentence)
			continue
		}
		current.WriteByte(' ')
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		chunks = append(chunks, ensureTerminated(current.String()))
	}
	return chunks
}

// SmartChunk splits text into fragments near targetSize characters,
// picking for each window the latest break point that fits, in priority
// order: sentence end, clause punctuation, coordinating conjunction,
// whitespace. A hard break at targetSize is the last resort, used only
// when a window contains no linguistic break at all.
func SmartChunk(text string, targetSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if targetSize <= 0 || runeLen(text) <= targetSize {
		return []string{text}
	}

	var chunks []string
	remaining := []rune(text)

	for len(remaining) > targetSize {
		window := string(remaining[:targetSize+1])
		cut := bestBreak(window, targetSize)
		fragment := strings.TrimSpace(string(remaining[:cut]))
		if fragment != "" {
			chunks = append(chunks, fragment)
		}
		remaining = remaining[cut:]
		for len(remaining) > 0 && unicode.IsSpace(remaining[0]) {
			remaining = remaining[1:]
		}
	}
	if tail := strings.TrimSpace(string(remaining)); tail != "" {
		chunks = append(chunks, tail)
	}
	return chunks
}

// bestBreak returns the rune offset to cut the window at, preferring the
// latest break of the highest-priority class that fits within target.
func bestBreak(window string, target int) int {
	runes := []rune(window)

	// Sentence-terminating punctuation followed by space or window end.
	best := -1
	for i := 0; i < len(runes) && i < target; i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && (isTerminator(runes[end]) || isClosing(runes[end])) {
			end++
		}
		if end > target {
			break
		}
		if end == len(runes) || unicode.IsSpace(runes[end]) {
			if isSentenceEnd(runes, i) {
				best = end
			}
		}
	}
	if best > 0 {
		return best
	}

	if cut := latestMatch(clauseRegex, runes, target); cut > 0 {
		return cut
	}
	if cut := latestConjunction(runes, target); cut > 0 {
		return cut
	}
	// Last whitespace in range.
	for i := target; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return target
}

// latestMatch finds the latest clause-punctuation break whose cut point
// does not exceed target. The cut lands after the punctuation mark.
func latestMatch(re *regexp.Regexp, runes []rune, target int) int {
	locs := re.FindAllStringIndex(string(runes), -1)
	best := -1
	for _, loc := range locs {
		cut := runeLen(string(runes)[:loc[0]]) + 1
		if cut > target {
			break
		}
		best = cut
	}
	return best
}

// latestConjunction cuts before the latest coordinating conjunction that
// starts within target, so the conjunction opens the next fragment.
func latestConjunction(runes []rune, target int) int {
	locs := conjunctionRegex.FindAllStringIndex(string(runes), -1)
	best := -1
	for _, loc := range locs {
		cut := runeLen(string(runes)[:loc[0]])
		if cut <= 0 || cut > target {
			continue
		}
		best = cut
	}
	return best
}

// SplitSentences splits text at sentence-terminating punctuation,
// keeping the punctuation with its sentence. Abbreviations, decimal
// numbers, and ellipses do not end a sentence.
func SplitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	lastStart := 0

	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && isTerminator(runes[end]) {
			end++
		}
		for end < len(runes) && isClosing(runes[end]) {
			end++
		}
		if !isSentenceEnd(runes, i) {
			i = end - 1
			continue
		}
		sentence := strings.TrimSpace(string(runes[lastStart:end]))
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		lastStart = end
		i = end - 1
	}

	if lastStart < len(runes) {
		if tail := strings.TrimSpace(string(runes[lastStart:])); tail != "" {
			sentences = append(sentences, tail)
		}
	}
	return sentences
}

// isSentenceEnd reports whether the terminator at pos is a real sentence
// boundary rather than an abbreviation, decimal point, or ellipsis.
func isSentenceEnd(runes []rune, pos int) bool {
	punct := runes[pos]

	if punct == '.' {
		// Word immediately before the period.
		start := pos - 1
		for start >= 0 && !unicode.IsSpace(runes[start]) {
			start--
		}
		word := strings.ToLower(string(runes[start+1 : pos+1]))
		if abbreviations[word] || abbreviations[strings.TrimSuffix(word, ".")] {
			return false
		}
		// Multi-dot abbreviations like "u.s." read as one word.
		if strings.Count(word, ".") > 1 {
			return false
		}
		// Decimal number: digit on both sides.
		if pos > 0 && pos+1 < len(runes) &&
			unicode.IsDigit(runes[pos-1]) && unicode.IsDigit(runes[pos+1]) {
			return false
		}
	}

	next := pos + 1
	for next < len(runes) && (isTerminator(runes[next]) || isClosing(runes[next])) {
		next++
	}
	if next >= len(runes) {
		return true
	}
	if !unicode.IsSpace(runes[next]) {
		return false
	}
	for next < len(runes) && unicode.IsSpace(runes[next]) {
		next++
	}
	if next < len(runes) && unicode.IsUpper(runes[next]) {
		return true
	}
	// Exclamations and questions end sentences regardless of what follows.
	return punct == '!' || punct == '?'
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isClosing(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']'
}

// ensureTerminated appends a period to fragments that end mid-clause so
// each synthesized fragment sounds complete.
func ensureTerminated(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	runes := []rune(s)
	last := runes[len(runes)-1]
	if isTerminator(last) || isClosing(last) {
		return s
	}
	return s + "."
}

func runeLen(s string) int {
	return len([]rune(s))
}
