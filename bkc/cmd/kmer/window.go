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

// Package kmer provides rolling 2-bit k-mer windows over base-code streams
// and the leader/follower pair scanner built on them. K-mers are encoded
// MSB-first: the first base occupies the highest bits, the last base the
// lowest two, same as github.com/shenwei356/kmers. k is limited to 32.
package kmer

import "github.com/splashbio/bkc/bkc/cmd/bases"

// Window is a rolling window of the k most recent valid bases.
// Inserting a non-ACGT base empties the window, so Full() only reports
// true when the last k bases were all valid.
type Window struct {
	k      uint8
	mask   uint64
	val    uint64
	filled uint8
}

// NewWindow creates a window of k bases, 1 <= k <= 32.
func NewWindow(k uint8) *Window {
	return &Window{k: k, mask: (1 << (uint(k) << 1)) - 1}
}

// K returns the window size.
func (w *Window) K() uint8 { return w.k }

// Reset empties the window.
func (w *Window) Reset() {
	w.val = 0
	w.filled = 0
}

// Insert shifts a base code into the window. Codes > 3 reset the window.
func (w *Window) Insert(code uint8) {
	if code > 3 {
		w.Reset()
		return
	}
	w.val = (w.val<<2 | uint64(code)) & w.mask
	if w.filled < w.k {
		w.filled++
	}
}

// Full reports whether the window holds k valid bases.
func (w *Window) Full() bool { return w.filled == w.k }

// Value returns the 2-bit encoded k-mer. Only meaningful when Full().
func (w *Window) Value() uint64 { return w.val }

// RevComp returns the reverse complement of a 2-bit encoded k-mer.
func RevComp(code uint64, k uint8) (rc uint64) {
	var i uint8
	for i = 0; i < k; i++ {
		rc = rc<<2 | (code&3 ^ 3)
		code >>= 2
	}
	return rc
}

// Canonical returns the smaller of a k-mer and its reverse complement.
func Canonical(code uint64, k uint8) uint64 {
	rc := RevComp(code, k)
	if rc < code {
		return rc
	}
	return code
}

// Pair is a candidate (leader, follower) k-mer pair from one read.
type Pair struct {
	Leader   uint64
	Follower uint64
}

// Scanner enumerates candidate pairs or single k-mers from the base codes
// of one read. It is reused across reads by one worker.
type Scanner struct {
	leader   *Window
	follower *Window
	gap      int
}

// NewScanner creates a scanner for leaders of leaderLen bases followed,
// after gapLen skipped bases, by followers of followerLen bases.
// followerLen may be 0, then only leaders are enumerated.
func NewScanner(leaderLen, gapLen, followerLen uint8) *Scanner {
	s := &Scanner{leader: NewWindow(leaderLen), gap: int(gapLen)}
	if followerLen > 0 {
		s.follower = NewWindow(followerLen)
	}
	return s
}

// ScanPairs appends to *pairs every candidate pair of the read whose
// leader and follower windows are both full of valid bases and whose
// leader is accepted. accept must not be nil.
// Codes are per-base codes (0-3 for ACGT, 4 for invalid) as produced by
// bases.UnpackCodes3.
func (s *Scanner) ScanPairs(codes []uint8, accept func(leader uint64) bool, pairs *[]Pair) {
	l := int(s.leader.k)
	f := int(s.follower.k)
	span := l + s.gap + f
	if len(codes) < span {
		return
	}

	s.leader.Reset()
	s.follower.Reset()

	// prefill all but the last base of each window
	for i := 0; i < l-1; i++ {
		s.leader.Insert(codes[i])
	}
	for i := l + s.gap; i < span-1; i++ {
		s.follower.Insert(codes[i])
	}

	for i := span - 1; i < len(codes); i++ {
		s.leader.Insert(codes[i-f-s.gap])
		s.follower.Insert(codes[i])
		if s.leader.Full() && s.follower.Full() && accept(s.leader.val) {
			*pairs = append(*pairs, Pair{Leader: s.leader.val, Follower: s.follower.val})
		}
	}
}

// ScanKmers appends to *pairs every accepted leader-length k-mer of the
// read, with Follower zero. With canonical true the lexicographically
// smaller of a k-mer and its reverse complement is taken; acceptance is
// checked on the canonical form.
func (s *Scanner) ScanKmers(codes []uint8, canonical bool, accept func(kmer uint64) bool, pairs *[]Pair) {
	l := int(s.leader.k)
	if len(codes) < l {
		return
	}

	s.leader.Reset()
	for i := 0; i < l-1; i++ {
		s.leader.Insert(codes[i])
	}

	var km uint64
	for i := l - 1; i < len(codes); i++ {
		s.leader.Insert(codes[i])
		if !s.leader.Full() {
			continue
		}
		km = s.leader.val
		if canonical {
			km = Canonical(km, s.leader.k)
		}
		if accept(km) {
			*pairs = append(*pairs, Pair{Leader: km})
		}
	}
}

// Encode2 packs ACGT bases into a 2-bit k-mer, MSB-first.
// It returns false if s contains a non-ACGT symbol or is longer than 32.
func Encode2(s []byte) (code uint64, ok bool) {
	if len(s) > 32 {
		return 0, false
	}
	var c uint8
	for _, b := range s {
		c = bases.Base2Code[b]
		if c > 3 {
			return 0, false
		}
		code = code<<2 | uint64(c)
	}
	return code, true
}
