// Package wire implements the length-prefixed chunk codec used on the
// WebSocket connection: a sequence of chunks rendered as "LEN.CHUNK," with
// the final separator replaced by ";". The codec is pure and synchronous; it
// has no opinion on what the chunks mean.
package wire

import (
	"strconv"
	"strings"
)

// MaxChunkLen bounds the decimal length prefix accepted by Decode. It must
// stay at least 1000 and comfortably cover the escaped form of the largest
// configured chat message.
const MaxChunkLen = 4096

// Encode renders chunks as "LEN.CHUNK," for every chunk but the last, whose
// trailing comma is replaced by a semicolon. Encode never fails: any input,
// including the empty slice, produces a valid frame (the empty slice encodes
// to ";").
func Encode(chunks []string) string {
	var b strings.Builder
	for i, c := range chunks {
		b.WriteString(strconv.Itoa(len(c)))
		b.WriteByte('.')
		b.WriteString(c)
		if i == len(chunks)-1 {
			b.WriteByte(';')
		} else {
			b.WriteByte(',')
		}
	}
	if len(chunks) == 0 {
		b.WriteByte(';')
	}
	return b.String()
}

// Decode parses a frame produced by Encode. Any malformation — a missing
// trailing ';', an out-of-range or non-decimal length, a missing '.'
// separator, fewer than LEN bytes remaining, or a separator other than ','
// or ';' after a chunk — yields an empty, nil slice. Decode never panics.
func Decode(frame string) []string {
	if frame == "" || frame[len(frame)-1] != ';' {
		return nil
	}
	body := frame[:len(frame)-1]
	if body == "" {
		return []string{}
	}

	var out []string
	rest := body
	for {
		dot := strings.IndexByte(rest, '.')
		if dot <= 0 {
			return nil
		}
		lenStr := rest[:dot]
		n, err := strconv.Atoi(lenStr)
		if err != nil || n < 0 || n > MaxChunkLen {
			return nil
		}
		rest = rest[dot+1:]
		if len(rest) < n {
			return nil
		}
		chunk := rest[:n]
		rest = rest[n:]
		out = append(out, chunk)

		if rest == "" {
			// Only valid if this was the trailing chunk (original frame
			// ended in ';' right after it, which means body's last chunk
			// consumed everything).
			return out
		}
		switch rest[0] {
		case ',':
			rest = rest[1:]
			if rest == "" {
				return nil // trailing comma with nothing after it
			}
		case ';':
			// A ';' should only appear as the frame terminator, which was
			// already stripped from body; seeing one mid-body is malformed.
			return nil
		default:
			return nil
		}
	}
}
