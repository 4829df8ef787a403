// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package logchunk splits a log stream into chunks of a target size, cutting
// at line boundaries whenever possible.
package logchunk

import (
	"bytes"
	"fmt"
	"io"
)

// DefaultSize is the default target chunk size, in bytes.
const DefaultSize = 4096

// Chunk is a contiguous piece of a log stream.
type Chunk struct {
	// Offset is the position of the first byte of Text in the whole stream.
	Offset int64
	Text   []byte
}

// Size returns the length of the chunk in bytes.
func (c Chunk) Size() int {
	return len(c.Text)
}

// Reader reads chunks from an underlying stream. Chunks emitted while the
// stream is not exhausted end with a newline when the last newline in the
// first Size bytes of the buffer is found, and are exactly Size bytes long
// otherwise. The last chunk holds whatever remains.
//
// The concatenation of all chunks is the input, and each chunk starts where
// the previous one ended.
type Reader struct {
	r      io.Reader
	size   int
	buf    []byte
	offset int64
	eof    bool
}

// NewReader returns a Reader that emits chunks of at most size bytes, the
// first one starting at offset.
func NewReader(r io.Reader, size int, offset int64) (*Reader, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	return &Reader{
		r:      r,
		size:   size,
		offset: offset,
	}, nil
}

// Next returns the next chunk. It returns io.EOF once the stream is
// exhausted and all buffered data has been emitted.
func (cr *Reader) Next() (Chunk, error) {
	readBuf := make([]byte, cr.size)
	for !cr.eof && len(cr.buf) < cr.size {
		n, err := cr.r.Read(readBuf)
		cr.buf = append(cr.buf, readBuf[:n]...)
		if err == io.EOF {
			cr.eof = true
			break
		}
		if err != nil {
			return Chunk{}, err
		}
	}
	if len(cr.buf) == 0 {
		return Chunk{}, io.EOF
	}

	var cut int
	if len(cr.buf) < cr.size {
		// only reachable on EOF: flush the remainder
		cut = len(cr.buf)
	} else {
		pos := bytes.LastIndexByte(cr.buf[:cr.size], '\n')
		if pos < 0 {
			cut = cr.size
		} else {
			cut = pos + 1
		}
	}

	text := make([]byte, cut)
	copy(text, cr.buf[:cut])
	cr.buf = cr.buf[cut:]
	chunk := Chunk{Offset: cr.offset, Text: text}
	cr.offset += int64(cut)
	return chunk, nil
}

// Offset returns the offset of the next chunk.
func (cr *Reader) Offset() int64 {
	return cr.offset
}

// Split reads the whole stream and returns all its chunks.
func Split(r io.Reader, size int, offset int64) ([]Chunk, error) {
	cr, err := NewReader(r, size, offset)
	if err != nil {
		return nil, err
	}
	var chunks []Chunk
	for {
		chunk, err := cr.Next()
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}
