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
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
	"github.com/splashbio/bkc/bkc/cmd/kmer"
)

// Technology names the layout of a predefined CBC list file.
type Technology int

const (
	// Tech10x lists one cell barcode per line.
	Tech10x Technology = iota
	// TechVisium lists spatial barcodes in the space-ranger position format.
	TechVisium
)

// ParseTechnology maps a flag value to a Technology.
func ParseTechnology(s string) (Technology, error) {
	switch strings.ToLower(s) {
	case "10x":
		return Tech10x, nil
	case "visium":
		return TechVisium, nil
	}
	return 0, errors.Errorf("unknown technology: %s, available: 10x, visium", s)
}

// visiumRe captures barcode, position suffix, and the in-tissue flag of a
// space-ranger tissue position line. Only in-tissue (flag == 1) barcodes
// are kept.
var visiumRe = regexp.MustCompile(`([ACGT]+)-(.+),([0-9]+),[0-9]+,[0-9]+,[0-9]+,[0-9]+`)

// CBCSet is an allow-list of 2-bit packed cell barcodes.
// A nil *CBCSet allows every barcode.
type CBCSet struct {
	cbcLen uint8
	set    map[uint64]struct{}
}

// Contains reports whether the packed barcode is allowed.
// A nil receiver allows everything.
func (c *CBCSet) Contains(code uint64) bool {
	if c == nil {
		return true
	}
	_, ok := c.set[code]
	return ok
}

// Len returns the number of allowed barcodes.
func (c *CBCSet) Len() int {
	if c == nil {
		return 0
	}
	return len(c.set)
}

// Correct tries to map a packed barcode onto the allow-list with at most
// one substitution. Exact members map to themselves. Among several
// 1-substitution candidates the lexicographically smallest wins.
// ok is false when no candidate is in the set.
func (c *CBCSet) Correct(code uint64) (corrected uint64, ok bool) {
	if _, ok = c.set[code]; ok {
		return code, true
	}

	found := false
	var best uint64
	var i uint8
	for i = 0; i < c.cbcLen; i++ {
		shift := uint(i) << 1
		clearMask := ^(uint64(3) << shift)
		orig := code >> shift & 3
		var b uint64
		for b = 0; b < 4; b++ {
			if b == orig {
				continue
			}
			cand := code&clearMask | b<<shift
			if _, in := c.set[cand]; in {
				if !found || cand < best {
					best = cand
					found = true
				}
			}
		}
	}
	return best, found
}

// LoadCBCs reads a predefined barcode list. For Tech10x every line is one
// barcode; for TechVisium only in-tissue position lines are kept. Every
// barcode must be exactly cbcLen ACGT bases.
func LoadCBCs(file string, tech Technology, cbcLen uint8) (*CBCSet, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, errors.Wrapf(err, "open predefined CBC list: %s", file)
	}
	defer fh.Close()

	c := &CBCSet{cbcLen: cbcLen, set: make(map[uint64]struct{}, 1024)}

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	var nLine int
	for scanner.Scan() {
		nLine++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var barcode string
		switch tech {
		case TechVisium:
			m := visiumRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if m[3] != "1" {
				continue
			}
			barcode = m[1]
		default:
			barcode = line
			if i := strings.IndexByte(barcode, '-'); i > 0 {
				barcode = barcode[:i]
			}
		}

		if len(barcode) != int(cbcLen) {
			return nil, errors.Errorf("CBC list %s: line %d: %q is not %d bases", file, nLine, barcode, cbcLen)
		}
		code, ok := kmer.Encode2([]byte(barcode))
		if !ok {
			return nil, errors.Errorf("CBC list %s: line %d: %q contains non-ACGT bases", file, nLine, barcode)
		}
		c.set[code] = struct{}{}
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read CBC list: %s", file)
	}
	if len(c.set) == 0 {
		return nil, errors.Errorf("CBC list %s: no barcodes", file)
	}
	return c, nil
}
