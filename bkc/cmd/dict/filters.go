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

package dict

import (
	"bufio"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
	"github.com/splashbio/bkc/bkc/cmd/kmer"
)

// IlluminaAdapters are common adapter/primer sequences filtered out of
// leaders when requested.
var IlluminaAdapters = []string{
	"AGATCGGAAGAGC",          // TruSeq universal
	"CTGTCTCTTATACACATCT",    // Nextera transposase
	"AATGATACGGCGACCACCGA",   // P5
	"CAAGCAGAAGACGGCATACG",   // P7
	"TGGAATTCTCGGGTGCCAAGG",  // small RNA 3'
	"GATCGTCGGACTGTAGAACTCT", // small RNA 5'
}

// LeaderFilter rejects leader k-mers before pair emission.
type LeaderFilter interface {
	// Reject reports whether the leader must be discarded.
	Reject(code uint64) bool
}

// PolyFilter rejects leaders containing a homopolymer run of minRun bases.
type PolyFilter struct {
	k      uint8
	minRun int
}

// NewPolyFilter creates a homopolymer filter. minRun must be >= 2.
func NewPolyFilter(k uint8, minRun int) *PolyFilter {
	return &PolyFilter{k: k, minRun: minRun}
}

// Reject reports whether the leader has minRun identical consecutive bases.
func (f *PolyFilter) Reject(code uint64) bool {
	if f.minRun > int(f.k) {
		return false
	}
	run := 1
	prev := uint8(code & 3)
	code >>= 2
	var i uint8
	for i = 1; i < f.k; i++ {
		b := uint8(code & 3)
		if b == prev {
			run++
			if run >= f.minRun {
				return true
			}
		} else {
			run = 1
			prev = b
		}
		code >>= 2
	}
	return false
}

// ArtifactFilter rejects leaders containing any artifact sequence as a
// substring. Artifacts are grouped by length, each group a set of 2-bit
// packed m-mers compared against every m-window of the leader.
// Artifacts longer than the leader contribute their leader-length
// substrings instead, so a leader lying inside one is still rejected.
type ArtifactFilter struct {
	k    uint8
	sets map[uint8]map[uint64]struct{} // artifact length -> packed artifacts
}

// NewArtifactFilter creates an empty filter for leaders of k bases.
func NewArtifactFilter(k uint8) *ArtifactFilter {
	return &ArtifactFilter{k: k, sets: make(map[uint8]map[uint64]struct{})}
}

// Add registers one artifact sequence. Sequences with non-ACGT symbols or
// shorter than 2 bases are rejected.
func (f *ArtifactFilter) Add(s string) error {
	if len(s) < 2 {
		return errors.Errorf("artifact %q: too short", s)
	}
	if len(s) > int(f.k) {
		for i := 0; i+int(f.k) <= len(s); i++ {
			if err := f.Add(s[i : i+int(f.k)]); err != nil {
				return errors.Wrapf(err, "artifact %q", s)
			}
		}
		return nil
	}
	code, ok := kmer.Encode2([]byte(s))
	if !ok {
		return errors.Errorf("artifact %q: non-ACGT bases", s)
	}
	m := uint8(len(s))
	set := f.sets[m]
	if set == nil {
		set = make(map[uint64]struct{})
		f.sets[m] = set
	}
	set[code] = struct{}{}
	return nil
}

// Empty reports whether no artifact was registered.
func (f *ArtifactFilter) Empty() bool { return len(f.sets) == 0 }

// Reject reports whether the leader contains any artifact.
func (f *ArtifactFilter) Reject(code uint64) bool {
	for m, set := range f.sets {
		mask := uint64(1)<<(uint(m)<<1) - 1
		c := code
		var i uint8
		for i = 0; i+m <= f.k; i++ {
			if _, ok := set[c&mask]; ok {
				return true
			}
			c >>= 2
		}
	}
	return false
}

// LoadArtifacts reads artifact sequences into the filter, one per line.
func (f *ArtifactFilter) LoadArtifacts(file string) error {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return errors.Wrapf(err, "open artifacts: %s", file)
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	var nLine int
	for scanner.Scan() {
		nLine++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err = f.Add(strings.ToUpper(line)); err != nil {
			return errors.Wrapf(err, "artifacts %s: line %d", file, nLine)
		}
	}
	return errors.Wrapf(scanner.Err(), "read artifacts: %s", file)
}

// AddIlluminaAdapters registers the built-in adapter list.
func (f *ArtifactFilter) AddIlluminaAdapters() error {
	for _, s := range IlluminaAdapters {
		if err := f.Add(s); err != nil {
			return err
		}
	}
	return nil
}

// Gate combines the anchor dictionary and the leader filters into the
// single accept decision the pair scanner consults.
type Gate struct {
	anchors *Anchors
	filters []LeaderFilter
}

// NewGate builds a gate. anchors may be nil, filters may be empty.
func NewGate(anchors *Anchors, filters ...LeaderFilter) *Gate {
	kept := filters[:0]
	for _, f := range filters {
		if af, ok := f.(*ArtifactFilter); ok && af.Empty() {
			continue
		}
		kept = append(kept, f)
	}
	return &Gate{anchors: anchors, filters: kept}
}

// Accept reports whether the leader passes the dictionary and all filters.
func (g *Gate) Accept(code uint64) bool {
	if !g.anchors.Contains(code) {
		return false
	}
	for _, f := range g.filters {
		if f.Reject(code) {
			return false
		}
	}
	return true
}
