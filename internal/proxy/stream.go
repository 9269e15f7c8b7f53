package proxy

import (
	"bytes"
	"context"
	"io"
)

// placeholderMaxBytes bounds the longest possible placeholder: "«token:" +
// the longest type label + ":" + 8 hex chars + "»". 128 bytes comfortably
// covers every type label the detector/classifier emit (spec.md §4.5).
const placeholderMaxBytes = 128

// holdBack is one byte short of placeholderMaxBytes so a placeholder that
// starts at the very edge of a chunk is never split across the boundary
// we've already emitted.
const holdBack = placeholderMaxBytes - 1

// placeholderLeadBytes is the UTF-8 byte length of "«", the character that
// can never legitimately appear mid-buffer without starting a placeholder.
const placeholderLead = "«"

// RestoreFunc detokenizes one chunk of text. It must be safe to call
// repeatedly with overlapping/adjacent chunks of the same stream, since
// detokenize is idempotent and stateless over the token record (spec.md §8
// testable property 7).
type RestoreFunc func(ctx context.Context, text string) (string, error)

// RestoringReader wraps an upstream SSE body and detokenizes placeholders
// before the bytes reach the client, holding back a rolling buffer large
// enough to contain any single split placeholder (spec.md §4.5).
type RestoringReader struct {
	ctx     context.Context
	src     io.Reader
	restore RestoreFunc

	pending []byte // bytes read from src, not yet restored/emitted
	out     []byte // restored bytes ready to hand back to the caller
	srcEOF  bool
}

// NewRestoringReader wraps src so every placeholder in the byte stream is
// detokenized via restore before being returned to the caller. If restore
// is nil, src is returned unchanged (e.g. decision carried no allowed
// categories, so nothing would ever be restored).
func NewRestoringReader(ctx context.Context, src io.Reader, restore RestoreFunc) io.Reader {
	if restore == nil {
		return src
	}
	return &RestoringReader{ctx: ctx, src: src, restore: restore}
}

// Read implements io.Reader. It reads from src, restores the portion of the
// buffer that cannot contain a partial placeholder, and copies the result
// into p. Ordering guarantee: the bytes handed back are exactly the
// detokenized image of the bytes received from src, with no reordering and
// no merging across reads beyond what the hold-back requires (spec.md §4.5,
// testable property 10).
func (r *RestoringReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for len(r.out) == 0 {
		if r.srcEOF && len(r.pending) == 0 {
			return 0, io.EOF
		}

		if !r.srcEOF {
			tmp := make([]byte, 4096)
			n, err := r.src.Read(tmp)
			r.pending = append(r.pending, tmp[:n]...)
			if err == io.EOF {
				r.srcEOF = true
			} else if err != nil {
				return 0, err
			}
		}

		safe, rest := splitSafe(r.pending, r.srcEOF)
		r.pending = rest

		if len(safe) == 0 && !r.srcEOF {
			continue
		}

		restored, err := r.restore(r.ctx, string(safe))
		if err != nil {
			return 0, err
		}
		r.out = append(r.out, restored...)
	}

	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

// splitSafe returns the longest prefix of buf that cannot contain a partial
// placeholder, and the remaining suffix to hold back for the next read. At
// EOF the whole buffer is safe. Otherwise the cut point is the earlier of
// (len(buf)-127) and the position of the last "«" in the buffer, per
// spec.md §4.5's literal rule, so an in-progress placeholder never gets
// split across what's already been emitted.
func splitSafe(buf []byte, eof bool) (safe, rest []byte) {
	if eof {
		return buf, nil
	}

	cut := len(buf) - holdBack
	if idx := bytes.LastIndex(buf, []byte(placeholderLead)); idx >= 0 && idx < cut {
		cut = idx
	}
	if cut <= 0 {
		return nil, buf
	}
	return buf[:cut], buf[cut:]
}
