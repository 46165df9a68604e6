// Package buffer provides an index-separated byte buffer used by the wire
// codecs. A buffer keeps independent reader and writer indices over one
// backing slice so decode can consume bytes while encode appends, without
// copying on every operation.
package buffer

import (
	"errors"
	"fmt"
	"io"
)

// ErrOutOfBounds is returned by every indexing violation: reads past the
// writer index, writes past capacity on a fixed buffer, or invalid index
// arguments.
var ErrOutOfBounds = errors.New("buffer: index out of bounds")

// Buffer is a byte buffer with separate reader and writer indices.
//
// Invariant: 0 <= readerIndex <= writerIndex <= capacity at all times.
type Buffer struct {
	data        []byte
	readerIndex int
	writerIndex int
	markedRead  int
	markedWrite int
	dynamic     bool
}

// New returns a fixed-capacity buffer. Writes beyond the capacity fail with
// ErrOutOfBounds.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// NewDynamic returns a buffer that grows geometrically when a write would
// exceed the current capacity.
func NewDynamic(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([]byte, capacity), dynamic: true}
}

// Wrap returns a fixed buffer over b with writerIndex set to len(b).
func Wrap(b []byte) *Buffer {
	return &Buffer{data: b, writerIndex: len(b)}
}

// Capacity returns the size of the backing slice.
func (b *Buffer) Capacity() int { return len(b.data) }

// ReaderIndex returns the current reader index.
func (b *Buffer) ReaderIndex() int { return b.readerIndex }

// WriterIndex returns the current writer index.
func (b *Buffer) WriterIndex() int { return b.writerIndex }

// ReadableBytes returns writerIndex - readerIndex.
func (b *Buffer) ReadableBytes() int { return b.writerIndex - b.readerIndex }

// WritableBytes returns capacity - writerIndex.
func (b *Buffer) WritableBytes() int { return len(b.data) - b.writerIndex }

// SetReaderIndex moves the reader index. It must stay within
// [0, writerIndex].
func (b *Buffer) SetReaderIndex(i int) error {
	if i < 0 || i > b.writerIndex {
		return fmt.Errorf("%w: readerIndex %d outside [0,%d]", ErrOutOfBounds, i, b.writerIndex)
	}
	b.readerIndex = i
	return nil
}

// SetWriterIndex moves the writer index. It must stay within
// [readerIndex, capacity].
func (b *Buffer) SetWriterIndex(i int) error {
	if i < b.readerIndex || i > len(b.data) {
		return fmt.Errorf("%w: writerIndex %d outside [%d,%d]", ErrOutOfBounds, i, b.readerIndex, len(b.data))
	}
	b.writerIndex = i
	return nil
}

// MarkReaderIndex saves the reader index for a later ResetReaderIndex.
func (b *Buffer) MarkReaderIndex() { b.markedRead = b.readerIndex }

// ResetReaderIndex restores the reader index saved by MarkReaderIndex.
func (b *Buffer) ResetReaderIndex() error { return b.SetReaderIndex(b.markedRead) }

// MarkWriterIndex saves the writer index for a later ResetWriterIndex.
func (b *Buffer) MarkWriterIndex() { b.markedWrite = b.writerIndex }

// ResetWriterIndex restores the writer index saved by MarkWriterIndex.
func (b *Buffer) ResetWriterIndex() error { return b.SetWriterIndex(b.markedWrite) }

// Clear zeroes both indices. The content is left untouched.
func (b *Buffer) Clear() {
	b.readerIndex = 0
	b.writerIndex = 0
}

// DiscardReadBytes compacts the buffer: readable bytes move to index 0, the
// writer index drops by the old reader index and the reader index becomes 0.
// Marks move with the content; a mark inside the discarded region collapses
// to 0.
func (b *Buffer) DiscardReadBytes() {
	if b.readerIndex == 0 {
		return
	}
	copy(b.data, b.data[b.readerIndex:b.writerIndex])
	off := b.readerIndex
	b.writerIndex -= off
	b.readerIndex = 0
	if b.markedRead > off {
		b.markedRead -= off
	} else {
		b.markedRead = 0
	}
	if b.markedWrite > off {
		b.markedWrite -= off
	} else {
		b.markedWrite = 0
	}
}

// EnsureWritable guarantees room for n more bytes, growing a dynamic buffer
// geometrically. Fixed buffers fail with ErrOutOfBounds.
func (b *Buffer) EnsureWritable(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative length %d", ErrOutOfBounds, n)
	}
	if b.WritableBytes() >= n {
		return nil
	}
	if !b.dynamic {
		return fmt.Errorf("%w: need %d writable bytes, have %d", ErrOutOfBounds, n, b.WritableBytes())
	}
	capacity := len(b.data)
	if capacity == 0 {
		capacity = 1
	}
	for capacity-b.writerIndex < n {
		capacity <<= 1
	}
	grown := make([]byte, capacity)
	copy(grown, b.data[:b.writerIndex])
	b.data = grown
	return nil
}

// WriteByte appends one byte.
func (b *Buffer) WriteByte(c byte) error {
	if err := b.EnsureWritable(1); err != nil {
		return err
	}
	b.data[b.writerIndex] = c
	b.writerIndex++
	return nil
}

// Write appends p, growing if dynamic. Implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.EnsureWritable(len(p)); err != nil {
		return 0, err
	}
	copy(b.data[b.writerIndex:], p)
	b.writerIndex += len(p)
	return len(p), nil
}

// ReadByte consumes and returns one byte.
func (b *Buffer) ReadByte() (byte, error) {
	if b.ReadableBytes() < 1 {
		return 0, fmt.Errorf("%w: read 1 byte, %d readable", ErrOutOfBounds, b.ReadableBytes())
	}
	c := b.data[b.readerIndex]
	b.readerIndex++
	return c, nil
}

// Read consumes up to len(p) bytes into p. Implements io.Reader; returns
// io.EOF when nothing is readable.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.ReadableBytes() == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.readerIndex:b.writerIndex])
	b.readerIndex += n
	return n, nil
}

// ReadBytes consumes exactly n bytes and returns a fresh copy.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if n < 0 || b.ReadableBytes() < n {
		return nil, fmt.Errorf("%w: read %d bytes, %d readable", ErrOutOfBounds, n, b.ReadableBytes())
	}
	out := make([]byte, n)
	copy(out, b.data[b.readerIndex:])
	b.readerIndex += n
	return out, nil
}

// Skip advances the reader index by n.
func (b *Buffer) Skip(n int) error {
	if n < 0 || b.ReadableBytes() < n {
		return fmt.Errorf("%w: skip %d bytes, %d readable", ErrOutOfBounds, n, b.ReadableBytes())
	}
	b.readerIndex += n
	return nil
}

// GetByte reads the byte at absolute index i without moving any index.
func (b *Buffer) GetByte(i int) (byte, error) {
	if i < 0 || i >= b.writerIndex {
		return 0, fmt.Errorf("%w: get at %d, writerIndex %d", ErrOutOfBounds, i, b.writerIndex)
	}
	return b.data[i], nil
}

// Readable returns the readable region as a view into the backing slice.
// The view is invalidated by any write, discard or clear.
func (b *Buffer) Readable() []byte {
	return b.data[b.readerIndex:b.writerIndex]
}
