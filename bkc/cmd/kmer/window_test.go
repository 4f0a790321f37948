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

package kmer

import (
	"math/rand"
	"testing"

	"github.com/shenwei356/kmers"
	"github.com/splashbio/bkc/bkc/cmd/bases"
)

func codesOf(s string) []uint8 {
	out := make([]uint8, len(s))
	for i := 0; i < len(s); i++ {
		out[i] = bases.Base2Code[s[i]]
	}
	return out
}

func acceptAll(uint64) bool { return true }

// every full window value must equal the directly encoded substring
func TestWindowMatchesDirectEncoding(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	alphabet := []byte("ACGTACGTACGTACGTACGTN") // sparse N

	for trial := 0; trial < 20; trial++ {
		n := 10 + r.Intn(100)
		s := make([]byte, n)
		for i := range s {
			s[i] = alphabet[r.Intn(len(alphabet))]
		}

		var k uint8 = uint8(2 + r.Intn(20))
		w := NewWindow(k)

		for i := 0; i < n; i++ {
			w.Insert(bases.Base2Code[s[i]])

			valid := i+1 >= int(k)
			var sub []byte
			if valid {
				sub = s[i+1-int(k) : i+1]
				for _, b := range sub {
					if b == 'N' {
						valid = false
						break
					}
				}
			}

			if w.Full() != valid {
				t.Errorf("trial %d pos %d k %d: Full()=%v, expected %v", trial, i, k, w.Full(), valid)
				return
			}
			if !valid {
				continue
			}
			expected, err := kmers.Encode(sub)
			if err != nil {
				t.Error(err)
				return
			}
			if w.Value() != expected {
				t.Errorf("trial %d pos %d: window %d, direct %d (%s)", trial, i, w.Value(), expected, sub)
				return
			}
		}
	}
}

func TestRevComp(t *testing.T) {
	tests := []struct {
		s, rc string
	}{
		{"A", "T"},
		{"ACGT", "ACGT"},
		{"AACCGGTT", "AACCGGTT"},
		{"AAAA", "TTTT"},
		{"GATTACA", "TGTAATC"},
	}
	for _, test := range tests {
		code, ok := Encode2([]byte(test.s))
		if !ok {
			t.Errorf("encode %s failed", test.s)
			return
		}
		rc := RevComp(code, uint8(len(test.s)))
		expected := string(kmers.Decode(rc, len(test.s)))
		if expected != test.rc {
			t.Errorf("revcomp(%s): expected %s, returned %s", test.s, test.rc, expected)
			return
		}
	}
}

func TestCanonicalInvolution(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for trial := 0; trial < 1000; trial++ {
		k := uint8(1 + r.Intn(31))
		code := r.Uint64() & ((1 << (uint(k) << 1)) - 1)
		c := Canonical(code, k)
		if c != Canonical(RevComp(code, k), k) {
			t.Errorf("k=%d code=%d: canonical differs between strands", k, code)
			return
		}
		if c > code {
			t.Errorf("k=%d code=%d: canonical %d is larger", k, code, c)
			return
		}
	}
}

func TestScanPairs(t *testing.T) {
	// leader 3, gap 2, follower 4
	s := NewScanner(3, 2, 4)

	// AAA CC GGGG T -> pairs: (AAA, GGGG) at offset 0 then sliding
	seq := "AAACCGGGGT"
	var pairs []Pair
	s.ScanPairs(codesOf(seq), acceptAll, &pairs)

	if len(pairs) != 2 {
		t.Errorf("expected 2 pairs, returned %d", len(pairs))
		return
	}

	l0, _ := Encode2([]byte("AAA"))
	f0, _ := Encode2([]byte("GGGG"))
	if pairs[0].Leader != l0 || pairs[0].Follower != f0 {
		t.Errorf("pair #0: expected (AAA, GGGG), returned (%s, %s)",
			kmers.Decode(pairs[0].Leader, 3), kmers.Decode(pairs[0].Follower, 4))
	}
	l1, _ := Encode2([]byte("AAC"))
	f1, _ := Encode2([]byte("GGGT"))
	if pairs[1].Leader != l1 || pairs[1].Follower != f1 {
		t.Errorf("pair #1: expected (AAC, GGGT), returned (%s, %s)",
			kmers.Decode(pairs[1].Leader, 3), kmers.Decode(pairs[1].Follower, 4))
	}
}

func TestScanPairsInvalidBaseResetsWindow(t *testing.T) {
	s := NewScanner(3, 0, 3)

	var pairs []Pair
	s.ScanPairs(codesOf("AAANAAAAA"), acceptAll, &pairs)

	// span is 6, only 5 valid bases follow the N
	if len(pairs) != 0 {
		t.Errorf("expected 0 pairs, returned %d", len(pairs))
	}

	pairs = pairs[:0]
	s.ScanPairs(codesOf("AAANAAAAAA"), acceptAll, &pairs)
	if len(pairs) != 1 {
		t.Errorf("expected 1 pair, returned %d", len(pairs))
	}
}

func TestScanPairsAcceptGate(t *testing.T) {
	s := NewScanner(2, 0, 2)
	want, _ := Encode2([]byte("AC"))
	var pairs []Pair
	s.ScanPairs(codesOf("ACGTACGT"), func(l uint64) bool { return l == want }, &pairs)

	if len(pairs) != 2 {
		t.Errorf("expected 2 pairs, returned %d", len(pairs))
		return
	}
	for i, p := range pairs {
		if p.Leader != want {
			t.Errorf("pair #%d: leader %s not gated", i, kmers.Decode(p.Leader, 2))
			return
		}
	}
}

func TestScanKmersCanonical(t *testing.T) {
	s := NewScanner(4, 0, 0)

	var pairs []Pair
	s.ScanKmers(codesOf("TTTTT"), true, acceptAll, &pairs)

	if len(pairs) != 2 {
		t.Errorf("expected 2 k-mers, returned %d", len(pairs))
		return
	}
	want, _ := Encode2([]byte("AAAA")) // canonical of TTTT
	for i, p := range pairs {
		if p.Leader != want {
			t.Errorf("k-mer #%d: expected AAAA, returned %s", i, kmers.Decode(p.Leader, 4))
			return
		}
	}
}
