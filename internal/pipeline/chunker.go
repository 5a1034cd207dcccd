package pipeline

import "strings"

// Chunk is one sentence-sized unit of generated text.
//
// Text is what gets synthesised: the sentence with surrounding whitespace
// trimmed. Raw is the exact slice of the delta stream that produced the
// chunk, so concatenating Raw over all chunks (plus the flush remainder)
// reconstructs the generated reply byte for byte.
type Chunk struct {
	Index int
	Text  string
	Raw   string
}

// terminalRunes end a sentence unconditionally.
const terminalRunes = "。！？!?"

// SentenceChunker splits a streamed reply into sentences as deltas arrive.
// An ASCII period only ends a sentence when followed by whitespace or
// another terminator, so decimals and abbreviations pass through intact.
// A sentence that grows past maxRunes without a terminator is flushed
// as-is to keep synthesis latency bounded.
//
// Not safe for concurrent use; the orchestrator goroutine owns it.
type SentenceChunker struct {
	maxRunes int

	buf      []rune
	pending  bool // a period is buffered, awaiting its follow-up rune
	emitted  int
	terminal bool // last buffered rune is a terminator
}

// NewSentenceChunker creates a chunker. maxRunes <= 0 disables the length
// flush.
func NewSentenceChunker(maxRunes int) *SentenceChunker {
	return &SentenceChunker{maxRunes: maxRunes}
}

// Feed appends one delta and returns any sentences completed by it, in
// order.
func (c *SentenceChunker) Feed(delta string) []Chunk {
	var out []Chunk
	for _, r := range delta {
		if c.pending && !isPeriod(r) && !isTerminal(r) {
			// The buffered period run has ended. A following space (or
			// any whitespace) confirms a sentence boundary; anything else
			// means the periods were part of a token like "3.14".
			if isSpace(r) {
				out = c.append(out, c.flush())
			}
			c.pending = false
		}
		if c.terminal && !isTerminal(r) && !isPeriod(r) {
			out = c.append(out, c.flush())
			c.terminal = false
		}

		c.buf = append(c.buf, r)

		switch {
		case isTerminal(r):
			c.terminal = true
			c.pending = false
		case isPeriod(r):
			c.pending = true
		}

		if c.maxRunes > 0 && len(c.buf) >= c.maxRunes && !c.pending && !c.terminal {
			out = c.append(out, c.flush())
		}
	}
	return out
}

// Flush returns the buffered remainder as a final chunk, or nil when the
// buffer holds no speakable text. Call it once the delta stream is done.
func (c *SentenceChunker) Flush() *Chunk {
	chunk := c.flush()
	c.pending = false
	c.terminal = false
	if chunk == nil {
		return nil
	}
	return chunk
}

// append collects non-nil chunks.
func (c *SentenceChunker) append(out []Chunk, chunk *Chunk) []Chunk {
	if chunk != nil {
		out = append(out, *chunk)
	}
	return out
}

// flush cuts the current buffer into a chunk. Chunks whose trimmed text is
// empty are dropped but their raw text is carried into the next chunk so
// reconstruction stays lossless.
func (c *SentenceChunker) flush() *Chunk {
	if len(c.buf) == 0 {
		return nil
	}
	raw := string(c.buf)
	c.buf = c.buf[:0]

	text := strings.TrimSpace(raw)
	if text == "" {
		// Nothing speakable; prepend the whitespace to whatever follows.
		c.buf = append(c.buf, []rune(raw)...)
		return nil
	}

	chunk := &Chunk{Index: c.emitted, Text: text, Raw: raw}
	c.emitted++
	return chunk
}

func isTerminal(r rune) bool { return strings.ContainsRune(terminalRunes, r) }
func isPeriod(r rune) bool   { return r == '.' }
func isSpace(r rune) bool    { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }
