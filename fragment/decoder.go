// Package fragment implements the engine's streaming fragment decoder
// (component H): a rolling buffer over response bytes that yields
// complete <fragment target="SEL(STRATEGY) ..."> blocks as they close,
// leaving any still-open block buffered for the next chunk. Fragments
// never nest, so a regex-based scan for the next balanced
// open/close pair is sufficient — no general HTML parser is needed at
// this layer; each extracted block's inner HTML is handed to the
// domupdate package separately.
package fragment

import (
	"io"
	"regexp"
	"strings"

	"github.com/monstercameron/htmlex-go/target"
)

// defaultChunkSize is the read buffer Stream uses when the caller
// doesn't request a specific one.
const defaultChunkSize = 4096

// fragmentRe matches one complete <fragment ...>...</fragment> block,
// capturing its target attribute (optional) and inner HTML. DOTALL (via
// (?s)) lets the inner HTML span multiple lines.
var fragmentRe = regexp.MustCompile(`(?s)<fragment(?:\s+target="([^"]*)")?\s*>(.*?)</fragment>`)

// Block is one decoded fragment.
type Block struct {
	// Target is the parsed target attribute, or nil if the fragment
	// carried no target override (the caller falls back to the
	// triggering element's own target or itself).
	Target []target.Instruction
	HTML   string
}

// Decoder accumulates chunks and extracts complete fragments.
type Decoder struct {
	buf  strings.Builder
	seen bool // at least one complete fragment has been extracted
}

// New creates an empty Decoder.
func New() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the rolling buffer and returns every complete
// fragment block that can now be extracted, in arrival order. Any
// remaining partial fragment (or non-fragment text) stays buffered.
func (d *Decoder) Feed(chunk string) []Block {
	d.buf.WriteString(chunk)
	current := d.buf.String()

	var blocks []Block
	lastEnd := 0
	for {
		loc := fragmentRe.FindStringSubmatchIndex(current[lastEnd:])
		if loc == nil {
			break
		}
		// loc indices are relative to current[lastEnd:]; translate to absolute.
		bodyStart, bodyEnd := lastEnd+loc[4], lastEnd+loc[5]
		matchEnd := lastEnd + loc[1]

		var targetAttr string
		if loc[2] >= 0 {
			targetAttr = current[lastEnd+loc[2] : lastEnd+loc[3]]
		}
		body := current[bodyStart:bodyEnd]

		var instrs []target.Instruction
		if targetAttr != "" {
			instrs = target.Parse(targetAttr)
		}
		blocks = append(blocks, Block{Target: instrs, HTML: body})
		d.seen = true
		lastEnd = matchEnd
	}

	// Keep only the unconsumed remainder buffered.
	d.buf.Reset()
	d.buf.WriteString(current[lastEnd:])

	return blocks
}

// Stream reads r in bounded chunks (chunkSize bytes at a time, or
// defaultChunkSize if chunkSize <= 0), feeding each chunk through Feed
// and invoking onChunk with the zero-based read index and whatever
// blocks that chunk completed. This is how a live *http.Response.Body*
// or WebSocket frame reader is wrapped directly, rather than buffered
// into memory and decoded in one shot: a caller can flip a streaming
// flag once onChunk's index crosses zero, matching the wire format's
// "apply immediately once more than one chunk has arrived" rule. It
// returns the full accumulated body once r is exhausted, or whatever
// was read so far alongside a non-EOF read error.
func (d *Decoder) Stream(r io.Reader, chunkSize int, onChunk func(index int, blocks []Block)) (string, error) {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	var full strings.Builder
	buf := make([]byte, chunkSize)
	for index := 0; ; index++ {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			full.WriteString(chunk)
			onChunk(index, d.Feed(chunk))
		}
		if err == io.EOF {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), err
		}
	}
}

// HasProcessedAny reports whether at least one complete fragment has
// ever been extracted by this decoder.
func (d *Decoder) HasProcessedAny() bool {
	return d.seen
}

// Remainder returns whatever bytes are still buffered (a still-open
// fragment, or plain non-fragment response text).
func (d *Decoder) Remainder() string {
	return d.buf.String()
}

// Flush is called at stream end. If no fragment was ever extracted and
// the buffer holds non-empty content, it returns that content as the
// fallback full-text swap payload described by the wire format's
// end-of-stream behavior; otherwise it returns "", false.
func (d *Decoder) Flush() (string, bool) {
	remainder := d.buf.String()
	if d.seen || strings.TrimSpace(remainder) == "" {
		return "", false
	}
	return remainder, true
}
