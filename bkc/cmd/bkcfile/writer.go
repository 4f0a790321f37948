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
	"fmt"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// ShardFileName returns the file name of one shard.
func ShardFileName(outName string, shard int) string {
	return fmt.Sprintf("%s.%d", outName, shard)
}

// Writer writes one count shard file. WriteBlock is safe for concurrent
// use, all counting workers feed the same shard writers.
type Writer struct {
	file string
	fh   *os.File
	w    *bufio.Writer
	mu   sync.Mutex

	geom *Geometry
	enc  *zstd.Encoder

	nBlocks  uint64
	nRecords uint64
}

var poolPayload = &sync.Pool{New: func() interface{} {
	buf := make([]byte, 0, BufferSize)
	return &buf
}}

// NewWriter creates a shard writer and writes the header.
// A zstd level of 0 or less disables block compression.
func NewWriter(file string, geom *Geometry) (*Writer, error) {
	fh, err := os.Create(file)
	if err != nil {
		return nil, errors.Wrapf(err, "create shard: %s", file)
	}
	w := &Writer{
		file: file,
		fh:   fh,
		w:    bufio.NewWriterSize(fh, BufferSize),
		geom: geom,
	}
	if geom.ZstdLevel > 0 {
		w.enc, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(int(geom.ZstdLevel))),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			fh.Close()
			return nil, errors.Wrap(err, "create zstd encoder")
		}
	}

	var header [32]byte
	copy(header[:8], Magic[:])
	header[8] = MainVersion
	header[9] = MinorVersion
	geom.marshal(header[10:])

	if _, err = w.w.Write(header[:]); err != nil {
		fh.Close()
		return nil, errors.Wrapf(err, "write shard header: %s", file)
	}
	return w, nil
}

// WriteBlock packs records into one block and appends it to the file.
// Empty record slices are ignored.
func (w *Writer) WriteBlock(records []Record) error {
	if len(records) == 0 {
		return nil
	}

	bufp := poolPayload.Get().(*[]byte)
	payload := w.geom.EncodeBlock(records, (*bufp)[:0])

	out := payload
	if w.enc != nil {
		cbufp := poolPayload.Get().(*[]byte)
		compressed := w.enc.EncodeAll(payload, (*cbufp)[:0])
		if len(compressed) < len(payload) {
			out = compressed
		}
		defer func() {
			*cbufp = compressed
			poolPayload.Put(cbufp)
		}()
	}

	var lens [8]byte
	be.PutUint32(lens[:4], uint32(len(out)))
	be.PutUint32(lens[4:], uint32(len(payload)))

	w.mu.Lock()
	_, err := w.w.Write(lens[:])
	if err == nil {
		_, err = w.w.Write(out)
	}
	w.nBlocks++
	w.nRecords += uint64(len(records))
	w.mu.Unlock()

	*bufp = payload
	poolPayload.Put(bufp)

	return errors.Wrapf(err, "write block: %s", w.file)
}

// NumRecords returns the number of records written so far.
func (w *Writer) NumRecords() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nRecords
}

// Close flushes and closes the shard file.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		w.fh.Close()
		return errors.Wrapf(err, "flush shard: %s", w.file)
	}
	if w.enc != nil {
		w.enc.Close()
	}
	return errors.Wrapf(w.fh.Close(), "close shard: %s", w.file)
}

// OpenShards creates the n shard writers of one output.
func OpenShards(outName string, n int, geom *Geometry) ([]*Writer, error) {
	writers := make([]*Writer, n)
	for i := 0; i < n; i++ {
		wtr, err := NewWriter(ShardFileName(outName, i), geom)
		if err != nil {
			for _, w := range writers[:i] {
				w.Close()
			}
			return nil, err
		}
		writers[i] = wtr
	}
	return writers, nil
}
