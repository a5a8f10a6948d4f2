package sender

import (
	"io"
)

// chunker reads a byte stream sequentially in fixed-size chunks.
type chunker struct {
	r     io.Reader
	buf   []byte
	bytes int64
}

func newChunker(r io.Reader, size int) *chunker {
	return &chunker{r: r, buf: make([]byte, size)}
}

// next returns the next chunk, which is only shorter than the chunk size at
// the end of the stream. An empty chunk means the stream is exhausted. The
// returned slice is reused by the following call.
func (c *chunker) next() ([]byte, error) {
	n, err := io.ReadFull(c.r, c.buf)
	switch err {
	case nil, io.ErrUnexpectedEOF:
	case io.EOF:
		return nil, nil
	default:
		return nil, err
	}
	c.bytes += int64(n)
	return c.buf[:n], nil
}
