// Package media produces fixed-size chunks of a local media source for
// chunked-transfer uploads.
package media

import (
	"errors"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/prn-tf/kvs-ingest/internal/pkg/crypto"
)

// Default chunk sizes.
const (
	// DefaultInteractiveChunkSize suits short interactive uploads.
	DefaultInteractiveChunkSize = 16000

	// DefaultBulkChunkSize suits bulk transfer of large media.
	DefaultBulkChunkSize = 100000
)

// Option configures a ChunkProducer.
type Option func(*ChunkProducer)

// WithBytesCounter counts produced bytes on c.
func WithBytesCounter(c prometheus.Counter) Option {
	return func(p *ChunkProducer) {
		p.bytesCounter = c
	}
}

// WithChunksCounter counts produced chunks on c.
func WithChunksCounter(c prometheus.Counter) Option {
	return func(p *ChunkProducer) {
		p.chunksCounter = c
	}
}

// ChunkProducer reads a media source incrementally and hands it out in chunks
// of a fixed size; only the last chunk may be shorter. The producer owns the
// source and closes it once the sequence is exhausted, on a read error, or
// on Close. After exhaustion Next keeps returning io.EOF.
//
// A ChunkProducer is not safe for concurrent use except that Close may be
// called from another goroutine.
type ChunkProducer struct {
	src       io.ReadCloser
	hr        *crypto.HashReader
	chunkSize int

	pending []byte
	chunks  int
	done    bool
	err     error

	closeOnce sync.Once
	closeErr  error

	bytesCounter  prometheus.Counter
	chunksCounter prometheus.Counter
}

// NewChunkProducer creates a producer over src. A chunkSize <= 0 selects
// DefaultInteractiveChunkSize.
func NewChunkProducer(src io.ReadCloser, chunkSize int, opts ...Option) *ChunkProducer {
	if chunkSize <= 0 {
		chunkSize = DefaultInteractiveChunkSize
	}
	p := &ChunkProducer{
		src:       src,
		hr:        crypto.NewHashReader(src),
		chunkSize: chunkSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ChunkSize returns the configured chunk size.
func (p *ChunkProducer) ChunkSize() int {
	return p.chunkSize
}

// Next returns the next chunk. The returned slice is owned by the caller. It
// returns io.EOF once the source is exhausted, and any read error of the
// source thereafter.
func (p *ChunkProducer) Next() ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.done {
		return nil, io.EOF
	}

	buf := make([]byte, p.chunkSize)
	n, err := io.ReadFull(p.hr, buf)
	switch {
	case err == nil:
		p.record(n)
		return buf, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		p.record(n)
		p.finish()
		return buf[:n], nil
	case errors.Is(err, io.EOF):
		p.finish()
		return nil, io.EOF
	default:
		p.err = err
		_ = p.Close()
		return nil, err
	}
}

// Read implements io.Reader on top of Next so the producer can serve as an
// HTTP request body.
func (p *ChunkProducer) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		chunk, err := p.Next()
		if err != nil {
			return 0, err
		}
		p.pending = chunk
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Close releases the source. It is safe to call more than once.
func (p *ChunkProducer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.src.Close()
	})
	return p.closeErr
}

// Exhausted reports whether the whole source was consumed.
func (p *ChunkProducer) Exhausted() bool {
	return p.done
}

// Chunks returns the number of chunks produced so far.
func (p *ChunkProducer) Chunks() int {
	return p.chunks
}

// Bytes returns the number of bytes produced so far.
func (p *ChunkProducer) Bytes() int64 {
	return p.hr.Size()
}

// Digest returns the hex SHA-256 of the bytes produced so far.
func (p *ChunkProducer) Digest() string {
	return p.hr.SHA256()
}

func (p *ChunkProducer) record(n int) {
	p.chunks++
	if p.bytesCounter != nil {
		p.bytesCounter.Add(float64(n))
	}
	if p.chunksCounter != nil {
		p.chunksCounter.Inc()
	}
}

func (p *ChunkProducer) finish() {
	p.done = true
	_ = p.Close()
}
