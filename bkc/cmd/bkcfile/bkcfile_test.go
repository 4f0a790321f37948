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
	"io"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"
)

func testGeometry(zstdLevel int8) *Geometry {
	return &Geometry{
		Mode:          ModePair,
		SampleIDBytes: 2,
		CBCBytes:      4,
		LeaderBytes:   7,
		FollowerBytes: 7,
		CountBytes:    2,
		LeaderLen:     27,
		FollowerLen:   27,
		GapLen:        0,
		CBCLen:        16,
		UMILen:        12,
		ZstdLevel:     zstdLevel,
		SampleID:      7,
	}
}

func randomRecords(r *rand.Rand, n int, geom *Geometry) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{
			SampleID: geom.SampleID,
			CBC:      uint64(r.Intn(50)),
			Leader:   r.Uint64() & (1<<(2*uint(geom.LeaderLen)) - 1),
			Follower: r.Uint64() & (1<<(2*uint(geom.FollowerLen)) - 1),
			Count:    uint64(1 + r.Intn(1000)),
		}
	}
	// sorted input compresses like production blocks do
	sort.Slice(records, func(i, j int) bool {
		a, b := &records[i], &records[j]
		if a.CBC != b.CBC {
			return a.CBC < b.CBC
		}
		if a.Leader != b.Leader {
			return a.Leader < b.Leader
		}
		return a.Follower < b.Follower
	})
	return records
}

func TestDeltaBlockRoundTrip(t *testing.T) {
	geom := testGeometry(0)
	r := rand.New(rand.NewSource(17))

	for _, n := range []int{1, 2, 3, 100, 1000} {
		records := randomRecords(r, n, geom)

		payload := geom.EncodeBlock(records, nil)
		var back []Record
		if err := geom.DecodeBlock(payload, &back); err != nil {
			t.Errorf("n=%d: %s", n, err)
			return
		}
		if len(back) != n {
			t.Errorf("n=%d: decoded %d records", n, len(back))
			return
		}
		for i := range records {
			if back[i] != records[i] {
				t.Errorf("n=%d record #%d: expected %+v, returned %+v", n, i, records[i], back[i])
				return
			}
		}
	}
}

func TestFileRoundTrip(t *testing.T) {
	for _, level := range []int8{0, 3} {
		geom := testGeometry(level)
		file := filepath.Join(t.TempDir(), "counts.bkc.0")
		r := rand.New(rand.NewSource(23))

		blocks := [][]Record{
			randomRecords(r, 10, geom),
			randomRecords(r, 1, geom),
			randomRecords(r, 500, geom),
		}

		wtr, err := NewWriter(file, geom)
		if err != nil {
			t.Error(err)
			return
		}
		for i, block := range blocks {
			if err = wtr.WriteBlock(block); err != nil {
				t.Errorf("write block #%d: %s", i, err)
				return
			}
		}
		if wtr.NumRecords() != 511 {
			t.Errorf("expected 511 records written, returned %d", wtr.NumRecords())
		}
		if err = wtr.Close(); err != nil {
			t.Error(err)
			return
		}

		// ---------------------------------------

		rdr, err := NewReader(file)
		if err != nil {
			t.Error(err)
			return
		}
		got := rdr.Geometry()
		if *got != *geom {
			t.Errorf("geometry: expected %+v, returned %+v", geom, got)
			return
		}

		for i, block := range blocks {
			var records []Record
			if err = rdr.NextBlock(&records); err != nil {
				t.Errorf("read block #%d: %s", i, err)
				return
			}
			if len(records) != len(block) {
				t.Errorf("block #%d: expected %d records, returned %d", i, len(block), len(records))
				return
			}
			for j := range block {
				if records[j] != block[j] {
					t.Errorf("block #%d record #%d mismatch", i, j)
					return
				}
			}
		}

		var records []Record
		if err = rdr.NextBlock(&records); err != io.EOF {
			t.Errorf("expected io.EOF, returned %v", err)
			return
		}
		if err = rdr.Close(); err != nil {
			t.Error(err)
			return
		}
	}
}

func TestWidthFor(t *testing.T) {
	tests := []struct {
		v uint64
		w uint8
	}{
		{0, 1}, {1, 1}, {255, 1}, {256, 2}, {65535, 2}, {65536, 3},
		{1<<32 - 1, 4}, {1 << 32, 5}, {1<<64 - 1, 8},
	}
	for _, test := range tests {
		if got := WidthFor(test.v); got != test.w {
			t.Errorf("WidthFor(%d): expected %d, returned %d", test.v, test.w, got)
		}
	}
}

func TestKmerBytes(t *testing.T) {
	tests := []struct {
		k, w uint8
	}{
		{0, 0}, {1, 1}, {4, 1}, {5, 2}, {16, 4}, {27, 7}, {32, 8},
	}
	for _, test := range tests {
		if got := KmerBytes(test.k); got != test.w {
			t.Errorf("KmerBytes(%d): expected %d, returned %d", test.k, test.w, got)
		}
	}
}
