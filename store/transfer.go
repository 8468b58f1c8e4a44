package store

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/okeanos-dev/imagestore/interfaces"
)

// DefaultChunkSize is the granularity drivers move image data at unless they
// have a transport-specific reason to differ. It is a tuning parameter only:
// the observed size and checksum of a transfer do not depend on it.
const DefaultChunkSize = 64 * 1024

// Transfer tracks one in-flight data movement: the running byte count and
// checksum of everything read through Reader, checked against the declared
// size exactly once, at Finish. The checksum algorithm is fixed for the whole
// framework (MD5, the image checksum callers compare against).
//
// A Transfer that is never finished - because the consumer stopped pulling
// chunks, or a destination write failed mid-stream - is a failed transfer; no
// partial object it produced may be treated as valid.
type Transfer struct {
	declared int64
	observed int64
	sum      hash.Hash

	finished bool
	checksum string
}

// NewTransfer starts tracking a transfer of the given declared size, which
// may be interfaces.SizeUnknown.
func NewTransfer(declared int64) *Transfer {
	return &Transfer{
		declared: declared,
		sum:      md5.New(),
	}
}

// Reader wraps r so that every chunk read through it updates the transfer's
// observed size and checksum. No more than one chunk is ever buffered.
func (t *Transfer) Reader(r io.Reader) io.Reader {
	return &transferReader{t: t, r: r}
}

// Observed returns the number of bytes read through the transfer so far.
func (t *Transfer) Observed() int64 {
	return t.observed
}

// Finish performs the end-of-stream consistency check and finalizes the
// checksum. If the declared size was known and disagrees with the observed
// byte count it returns interfaces.ErrSizeMismatch; the caller must then
// discard whatever partial object it wrote. Finish is idempotent: the
// checksum is computed exactly once.
func (t *Transfer) Finish() (int64, string, error) {
	if !t.finished {
		t.finished = true
		t.checksum = hex.EncodeToString(t.sum.Sum(nil))
	}
	if t.declared != interfaces.SizeUnknown && t.observed != t.declared {
		return t.observed, t.checksum, fmt.Errorf("%w: declared %d, got %d",
			interfaces.ErrSizeMismatch, t.declared, t.observed)
	}
	return t.observed, t.checksum, nil
}

type transferReader struct {
	t *Transfer
	r io.Reader
}

func (r *transferReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.t.observed += int64(n)
		r.t.sum.Write(p[:n])
	}
	return n, err
}

// CopyChunks copies src to dst one chunk at a time and returns the number of
// bytes written. It exists so drivers that persist chunk-by-chunk share one
// loop; correctness never depends on the chunk size.
func CopyChunks(dst io.Writer, src io.Reader, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	return io.CopyBuffer(dst, src, buf)
}
