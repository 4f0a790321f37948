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

// Package store keeps all reads of a run in memory, 3-bit packed in
// per-file chunked arenas, indexed by cell barcode. Loaders fill it
// concurrently during ingestion; Freeze switches it to read-only before
// the counting workers start.
package store

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/splashbio/bkc/bkc/cmd/bases"
)

// SegmentSize is the byte size of one arena segment. A read never spans
// segments. Variable for testing.
var SegmentSize = 1 << 24

// NumBuckets is the number of lock-sharded buckets of the barcode index.
// Must be a power of two.
const NumBuckets = 256

// ErrUnknownFile means a handle references a file index the store was not
// created with.
var ErrUnknownFile = errors.New("store: unknown file index")

// ErrReadTooLong means a read exceeds the representable length.
var ErrReadTooLong = errors.New("store: read too long")

// ErrArenaFull means a file arena ran out of addressable segments.
var ErrArenaFull = errors.New("store: arena full")

// ErrFrozen means a write was attempted after Freeze.
var ErrFrozen = errors.New("store: frozen")

// Handle addresses one stored read: file index in the top 16 bits, then
// a 20-bit segment index and a 28-bit byte offset within the segment.
type Handle uint64

const (
	segBits = 20
	offBits = 28

	maxReadLen = 1<<16 - 1
)

func makeHandle(file, seg, off int) Handle {
	return Handle(uint64(file)<<(segBits+offBits) | uint64(seg)<<offBits | uint64(off))
}

// File returns the file index of the read.
func (h Handle) File() int { return int(h >> (segBits + offBits)) }

func (h Handle) segment() int { return int(h >> offBits & (1<<segBits - 1)) }
func (h Handle) offset() int  { return int(h & (1<<offBits - 1)) }

// arena is the packed-read storage of one input file.
// A read is a 2-byte little-endian base count followed by the 3-bit
// packed bases.
type arena struct {
	mu   sync.Mutex
	segs [][]byte
}

func (a *arena) add(seq []byte) (seg, off int, err error) {
	need := 2 + bases.PackedLen(len(seq))

	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.segs)
	if n == 0 || len(a.segs[n-1])+need > cap(a.segs[n-1]) {
		if n == 1<<segBits {
			return 0, 0, ErrArenaFull
		}
		size := SegmentSize
		if need > size {
			size = need
		}
		a.segs = append(a.segs, make([]byte, 0, size))
		n++
	}

	cur := a.segs[n-1]
	off = len(cur)
	cur = append(cur, byte(len(seq)), byte(len(seq)>>8))
	bases.Pack3(seq, &cur)
	a.segs[n-1] = cur
	return n - 1, off, nil
}

// bucket is one lock shard of the barcode index.
type bucket struct {
	mu      sync.Mutex
	handles map[uint64][]Handle
}

// Store is the shared read store of one run.
type Store struct {
	arenas  []arena
	buckets [NumBuckets]bucket

	frozen bool
	cbcs   []uint64 // sorted, set by Freeze
}

// New creates a store for nFiles input files, nFiles <= 65536.
func New(nFiles int) *Store {
	s := &Store{arenas: make([]arena, nFiles)}
	for i := range s.buckets {
		s.buckets[i].handles = make(map[uint64][]Handle)
	}
	return s
}

// Add packs and stores the bases of one read under its barcode.
// Safe for concurrent use until Freeze.
func (s *Store) Add(file int, cbc uint64, seq []byte) (Handle, error) {
	if s.frozen {
		return 0, ErrFrozen
	}
	if file < 0 || file >= len(s.arenas) {
		return 0, ErrUnknownFile
	}
	if len(seq) > maxReadLen {
		return 0, ErrReadTooLong
	}

	seg, off, err := s.arenas[file].add(seq)
	if err != nil {
		return 0, err
	}
	h := makeHandle(file, seg, off)

	b := &s.buckets[cbc&(NumBuckets-1)]
	b.mu.Lock()
	b.handles[cbc] = append(b.handles[cbc], h)
	b.mu.Unlock()

	return h, nil
}

// Freeze sorts the barcode list and switches the store to read-only.
func (s *Store) Freeze() {
	if s.frozen {
		return
	}
	s.frozen = true

	n := 0
	for i := range s.buckets {
		n += len(s.buckets[i].handles)
	}
	s.cbcs = make([]uint64, 0, n)
	for i := range s.buckets {
		for cbc := range s.buckets[i].handles {
			s.cbcs = append(s.cbcs, cbc)
		}
	}
	slices.Sort(s.cbcs)
}

// CBCs returns all barcodes in ascending order. Only valid after Freeze.
func (s *Store) CBCs() []uint64 { return s.cbcs }

// Handles returns the reads of one barcode. Only valid after Freeze.
func (s *Store) Handles(cbc uint64) []Handle {
	return s.buckets[cbc&(NumBuckets-1)].handles[cbc]
}

// Relabel moves all reads of a barcode onto another one, before Freeze;
// not safe concurrently with Add on the same barcodes. Ingestion corrects
// barcodes per read and does not call it.
func (s *Store) Relabel(from, to uint64) {
	if from == to {
		return
	}
	bf := &s.buckets[from&(NumBuckets-1)]
	bt := &s.buckets[to&(NumBuckets-1)]

	bf.mu.Lock()
	hs := bf.handles[from]
	delete(bf.handles, from)
	bf.mu.Unlock()

	if len(hs) == 0 {
		return
	}
	bt.mu.Lock()
	bt.handles[to] = append(bt.handles[to], hs...)
	bt.mu.Unlock()
}

// Drop removes a barcode and returns how many reads it held.
func (s *Store) Drop(cbc uint64) int {
	b := &s.buckets[cbc&(NumBuckets-1)]
	b.mu.Lock()
	n := len(b.handles[cbc])
	delete(b.handles, cbc)
	b.mu.Unlock()
	return n
}

// Bases appends the 3-bit base codes of the read to *out.
func (s *Store) Bases(h Handle, out *[]uint8) error {
	file := h.File()
	if file >= len(s.arenas) {
		return ErrUnknownFile
	}
	seg := s.arenas[file].segs[h.segment()]
	off := h.offset()
	n := int(seg[off]) | int(seg[off+1])<<8
	return bases.UnpackCodes3(seg[off+2:], n, out)
}

// NumCBCs returns the number of distinct barcodes seen so far.
func (s *Store) NumCBCs() int {
	if s.frozen {
		return len(s.cbcs)
	}
	n := 0
	for i := range s.buckets {
		s.buckets[i].mu.Lock()
		n += len(s.buckets[i].handles)
		s.buckets[i].mu.Unlock()
	}
	return n
}
