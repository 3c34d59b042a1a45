package ingest

import "strings"

// Chunk is one split of a document. StartIndex is the byte offset of the
// chunk within the original text, carried through to vector payloads so
// citations can point back into the source.
type Chunk struct {
	Content    string
	StartIndex int
}

// Splitter cuts text into overlapping chunks, preferring to break on
// paragraph then line then word boundaries before falling back to runes.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int

	separators []string
}

const (
	defaultChunkSize    = 500
	defaultChunkOverlap = 50
)

func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
		if overlap >= size {
			overlap = size / 10
		}
	}
	return &Splitter{
		ChunkSize:    size,
		ChunkOverlap: overlap,
		separators:   []string{"\n\n", "\n", " ", ""},
	}
}

// Split returns the chunks of text with their start offsets.
func (s *Splitter) Split(text string) []Chunk {
	if text == "" {
		return nil
	}
	pieces := s.splitText(text, s.separators)
	chunks := make([]Chunk, 0, len(pieces))
	offset := 0
	for _, p := range pieces {
		idx := strings.Index(text[offset:], p)
		if idx < 0 {
			// Overlapping chunks always move forward; restart from the
			// previous chunk start if the window search missed.
			idx = strings.Index(text, p)
			if idx < 0 {
				continue
			}
			chunks = append(chunks, Chunk{Content: p, StartIndex: idx})
			offset = idx + 1
			continue
		}
		start := offset + idx
		chunks = append(chunks, Chunk{Content: p, StartIndex: start})
		offset = start + 1
	}
	return chunks
}

// splitText recursively splits on the first separator present, merging small
// pieces back up to the chunk size with overlap carryover.
func (s *Splitter) splitText(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	next := separators
	for i, cand := range separators {
		if cand == "" || strings.Contains(text, cand) {
			sep = cand
			next = separators[i+1:]
			break
		}
	}

	var splits []string
	if sep == "" {
		splits = splitRunes(text, s.ChunkSize)
	} else {
		splits = splitKeep(text, sep)
	}

	var out []string
	var good []string
	for _, piece := range splits {
		if len(piece) <= s.ChunkSize {
			good = append(good, piece)
			continue
		}
		out = append(out, s.merge(good)...)
		good = nil
		if len(next) > 0 {
			out = append(out, s.splitText(piece, next)...)
		} else {
			out = append(out, piece)
		}
	}
	out = append(out, s.merge(good)...)
	return out
}

// merge packs pieces into chunks up to ChunkSize, retaining ChunkOverlap
// trailing characters between consecutive chunks.
func (s *Splitter) merge(pieces []string) []string {
	var out []string
	var window []string
	total := 0
	flush := func() {
		if total == 0 {
			return
		}
		chunk := strings.TrimSpace(strings.Join(window, ""))
		if chunk != "" {
			out = append(out, chunk)
		}
	}
	for _, p := range pieces {
		if total+len(p) > s.ChunkSize && total > 0 {
			flush()
			for total > s.ChunkOverlap || (total+len(p) > s.ChunkSize && total > 0) {
				total -= len(window[0])
				window = window[1:]
			}
		}
		window = append(window, p)
		total += len(p)
	}
	flush()
	return out
}

// splitKeep splits on sep, keeping the separator attached to the preceding
// piece so offsets stay exact.
func splitKeep(text, sep string) []string {
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += sep
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitRunes(text string, size int) []string {
	var out []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}
