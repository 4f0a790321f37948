// Copyright © 2024-2025 the splashbio authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package bkcfile

import (
	"bufio"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Reader reads one count shard file block by block.
type Reader struct {
	file string
	fh   *os.File
	r    *bufio.Reader

	geom Geometry
	dec  *zstd.Decoder

	payload []byte
	raw     []byte
}

// NewReader opens a shard file and parses its header.
func NewReader(file string) (*Reader, error) {
	fh, err := os.Open(file)
	if err != nil {
		return nil, errors.Wrapf(err, "open shard: %s", file)
	}
	r := &Reader{
		file: file,
		fh:   fh,
		r:    bufio.NewReaderSize(fh, BufferSize),
	}

	var header [32]byte
	if _, err = io.ReadFull(r.r, header[:]); err != nil {
		fh.Close()
		return nil, ErrInvalidFileFormat
	}
	if string(header[:8]) != string(Magic[:]) {
		fh.Close()
		return nil, ErrInvalidFileFormat
	}
	if header[8] != MainVersion {
		fh.Close()
		return nil, ErrVersionMismatch
	}
	r.geom.unmarshal(header[10:])

	r.dec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		fh.Close()
		return nil, errors.Wrap(err, "create zstd decoder")
	}
	return r, nil
}

// Geometry returns the shard geometry from the header.
func (r *Reader) Geometry() *Geometry { return &r.geom }

// NextBlock appends the records of the next block to *records.
// It returns io.EOF after the last block.
func (r *Reader) NextBlock(records *[]Record) error {
	var lens [8]byte
	if _, err := io.ReadFull(r.r, lens[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return ErrBrokenFile
	}
	payloadLen := int(be.Uint32(lens[:4]))
	rawLen := int(be.Uint32(lens[4:]))

	if cap(r.payload) < payloadLen {
		r.payload = make([]byte, payloadLen)
	}
	r.payload = r.payload[:payloadLen]
	if _, err := io.ReadFull(r.r, r.payload); err != nil {
		return ErrBrokenFile
	}

	data := r.payload
	if payloadLen != rawLen {
		var err error
		r.raw, err = r.dec.DecodeAll(r.payload, r.raw[:0])
		if err != nil {
			return ErrBrokenFile
		}
		if len(r.raw) != rawLen {
			return ErrBrokenFile
		}
		data = r.raw
	}

	return r.geom.DecodeBlock(data, records)
}

// Close releases the reader.
func (r *Reader) Close() error {
	r.dec.Close()
	return errors.Wrapf(r.fh.Close(), "close shard: %s", r.file)
}
