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

// Package dict holds the static lookup structures the counting workers
// consult per candidate: the anchor dictionary gating leaders, the leader
// filters, and the cell-barcode allow-lists with optional 1-substitution
// correction. All of them are built once before counting starts and are
// read-only afterwards.
package dict

import (
	"bufio"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
	"github.com/splashbio/bkc/bkc/cmd/kmer"
)

// Anchors is an immutable set of accepted leader k-mers.
// A nil *Anchors accepts every leader.
type Anchors struct {
	k   uint8
	set map[uint64]struct{}
}

// Contains reports whether the k-mer is in the dictionary.
// A nil receiver accepts everything.
func (a *Anchors) Contains(code uint64) bool {
	if a == nil {
		return true
	}
	_, ok := a.set[code]
	return ok
}

// Len returns the number of distinct anchors.
func (a *Anchors) Len() int {
	if a == nil {
		return 0
	}
	return len(a.set)
}

// LoadAnchors reads an anchor dictionary: either one k-mer per line, or a
// TSV whose header names an "anchor" column. Every entry must be exactly k
// ACGT bases. Duplicates are collapsed.
func LoadAnchors(file string, k uint8) (*Anchors, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, errors.Wrapf(err, "open anchor dictionary: %s", file)
	}
	defer fh.Close()

	a := &Anchors{k: k, set: make(map[uint64]struct{}, 1024)}

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)

	col := 0
	header := true
	var nLine int
	for scanner.Scan() {
		nLine++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}

		if header {
			header = false
			if strings.ContainsRune(line, '\t') {
				found := false
				for i, name := range strings.Split(line, "\t") {
					if name == "anchor" {
						col, found = i, true
						break
					}
				}
				if !found {
					return nil, errors.Errorf("anchor dictionary %s: no \"anchor\" column in header", file)
				}
				continue
			}
		}

		field := line
		if col > 0 || strings.ContainsRune(line, '\t') {
			fields := strings.Split(line, "\t")
			if col >= len(fields) {
				return nil, errors.Errorf("anchor dictionary %s: line %d has %d fields", file, nLine, len(fields))
			}
			field = fields[col]
		}

		if len(field) != int(k) {
			return nil, errors.Errorf("anchor dictionary %s: line %d: %q is not %d bases", file, nLine, field, k)
		}
		code, ok := kmer.Encode2([]byte(field))
		if !ok {
			return nil, errors.Errorf("anchor dictionary %s: line %d: %q contains non-ACGT bases", file, nLine, field)
		}
		a.set[code] = struct{}{}
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read anchor dictionary: %s", file)
	}
	if len(a.set) == 0 {
		return nil, errors.Errorf("anchor dictionary %s: no anchors", file)
	}
	return a, nil
}
