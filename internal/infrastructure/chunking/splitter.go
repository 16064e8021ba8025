package chunking

import (
	"strings"
	"unicode"
)

const (
	DefaultChunkSize    = 600
	DefaultChunkOverlap = 100
)

// Splitter packs whole sentences into chunks of at most ChunkSize runes. Consecutive
// chunks share trailing sentences worth up to Overlap runes. A sentence longer than
// ChunkSize is cut with a sliding rune window.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}

	var (
		out     []string
		current []string
		size    int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		out = append(out, strings.Join(current, " "))
		current, size = s.overlapTail(current)
	}

	for _, sentence := range splitSentences(text) {
		length := runeLen(sentence)
		if length > s.ChunkSize {
			flush()
			current, size = nil, 0
			out = append(out, s.window(sentence)...)
			continue
		}

		// +1 for the joining space
		if size > 0 && size+1+length > s.ChunkSize {
			flush()
			if size > 0 && size+1+length > s.ChunkSize {
				current, size = nil, 0
			}
		}
		if size > 0 {
			size++
		}
		current = append(current, sentence)
		size += length
	}

	if len(current) > 0 {
		out = append(out, strings.Join(current, " "))
	}
	return out
}

// overlapTail keeps the trailing sentences of a flushed chunk that fit in Overlap runes.
func (s *Splitter) overlapTail(sentences []string) ([]string, int) {
	if s.Overlap <= 0 {
		return nil, 0
	}
	size := 0
	start := len(sentences)
	for i := len(sentences) - 1; i >= 0; i-- {
		next := runeLen(sentences[i])
		if size > 0 {
			next++
		}
		if size+next > s.Overlap {
			break
		}
		size += next
		start = i
	}
	if start == len(sentences) {
		return nil, 0
	}
	tail := make([]string, len(sentences)-start)
	copy(tail, sentences[start:])
	return tail, size
}

func (s *Splitter) window(sentence string) []string {
	runes := []rune(sentence)
	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+s.ChunkSize, len(runes))
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// splitSentences cuts after '.', '!' or '?' when followed by whitespace and an
// upper-case letter or digit, which keeps abbreviations like "e.g. the" together.
func splitSentences(text string) []string {
	runes := []rune(text)
	var (
		out   []string
		start int
	)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
		default:
			continue
		}
		if i+2 >= len(runes) || runes[i+1] != ' ' {
			continue
		}
		next := runes[i+2]
		if !unicode.IsUpper(next) && !unicode.IsDigit(next) {
			continue
		}
		out = append(out, strings.TrimSpace(string(runes[start:i+1])))
		start = i + 2
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}
