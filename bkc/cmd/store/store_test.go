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

package store

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/splashbio/bkc/bkc/cmd/bases"
)

func decodeString(t *testing.T, s *Store, h Handle) string {
	var codes []uint8
	if err := s.Bases(h, &codes); err != nil {
		t.Fatal(err)
	}
	out := make([]byte, len(codes))
	for i, c := range codes {
		out[i] = bases.Code2Base[c]
	}
	return string(out)
}

func TestStoreRoundTrip(t *testing.T) {
	old := SegmentSize
	SegmentSize = 64 // force segment rollover
	defer func() { SegmentSize = old }()

	s := New(2)
	alphabet := []byte("ACGTN")
	r := rand.New(rand.NewSource(3))

	type stored struct {
		h   Handle
		seq string
	}
	var reads []stored
	for i := 0; i < 200; i++ {
		n := 1 + r.Intn(90)
		seq := make([]byte, n)
		for j := range seq {
			seq[j] = alphabet[r.Intn(len(alphabet))]
		}
		h, err := s.Add(i%2, uint64(i%7), seq)
		if err != nil {
			t.Error(err)
			return
		}
		if h.File() != i%2 {
			t.Errorf("read #%d: file %d, expected %d", i, h.File(), i%2)
			return
		}
		reads = append(reads, stored{h, string(seq)})
	}

	s.Freeze()

	for i, rd := range reads {
		if got := decodeString(t, s, rd.h); got != rd.seq {
			t.Errorf("read #%d: expected %s, returned %s", i, rd.seq, got)
			return
		}
	}

	cbcs := s.CBCs()
	if len(cbcs) != 7 {
		t.Errorf("expected 7 barcodes, returned %d", len(cbcs))
		return
	}
	total := 0
	for i, cbc := range cbcs {
		if i > 0 && cbcs[i-1] >= cbc {
			t.Error("barcodes not sorted")
			return
		}
		total += len(s.Handles(cbc))
	}
	if total != len(reads) {
		t.Errorf("expected %d handles, returned %d", len(reads), total)
	}
}

func TestStoreConcurrentAdd(t *testing.T) {
	s := New(4)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_, err := s.Add(w%4, uint64(i%31), []byte("ACGTACGTACGT"))
				if err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	s.Freeze()

	if len(s.CBCs()) != 31 {
		t.Errorf("expected 31 barcodes, returned %d", len(s.CBCs()))
	}
	total := 0
	for _, cbc := range s.CBCs() {
		total += len(s.Handles(cbc))
	}
	if total != 8*500 {
		t.Errorf("expected %d reads, returned %d", 8*500, total)
	}
}

func TestStoreRelabelAndDrop(t *testing.T) {
	s := New(1)
	for i := 0; i < 5; i++ {
		if _, err := s.Add(0, 100, []byte("AAAA")); err != nil {
			t.Error(err)
			return
		}
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Add(0, 200, []byte("CCCC")); err != nil {
			t.Error(err)
			return
		}
	}
	if _, err := s.Add(0, 300, []byte("GGGG")); err != nil {
		t.Error(err)
		return
	}

	s.Relabel(200, 100)
	if n := s.Drop(300); n != 1 {
		t.Errorf("expected to drop 1 read, dropped %d", n)
	}

	s.Freeze()

	if len(s.CBCs()) != 1 || s.CBCs()[0] != 100 {
		t.Errorf("expected the single barcode 100, returned %v", s.CBCs())
		return
	}
	if n := len(s.Handles(100)); n != 8 {
		t.Errorf("expected 8 reads after relabel, returned %d", n)
	}
}

func TestStoreFrozenRejectsAdd(t *testing.T) {
	s := New(1)
	s.Freeze()
	if _, err := s.Add(0, 1, []byte("ACGT")); err != ErrFrozen {
		t.Errorf("expected ErrFrozen, returned %v", err)
	}
}
