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

// Package counter turns the frozen read store into count records.
// Workers claim whole barcodes, so all pairs of one cell are counted by
// one worker and the result does not depend on the number of threads.
package counter

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/splashbio/bkc/bkc/cmd/bkcfile"
	"github.com/splashbio/bkc/bkc/cmd/dict"
	"github.com/splashbio/bkc/bkc/cmd/kmer"
	"github.com/splashbio/bkc/bkc/cmd/store"
	"github.com/twotwotwo/sorts"
)

// MaxRecordsInBuffer is the number of records a worker accumulates per
// shard before packing them into a block. Variable for testing.
var MaxRecordsInBuffer = 1 << 16

// scratchHighWater is the pair capacity above which a worker releases its
// scratch between barcodes.
const scratchHighWater = 1 << 20

// Params configures one counting run.
type Params struct {
	Mode      uint8 // bkcfile.ModePair or bkcfile.ModeSingle
	Canonical bool

	LeaderLen   uint8
	GapLen      uint8
	FollowerLen uint8

	MaxCount uint64
	SampleID uint32
	NSplits  int
	Threads  int

	// MinReadsPerCBC skips barcodes with fewer reads. 0 keeps all.
	MinReadsPerCBC int
	// MinCount drops records below this count. 0 keeps all.
	MinCount uint64
}

// CBCStat is the per-barcode summary handed to OnCBC.
type CBCStat struct {
	CBC     uint64
	Reads   int
	Pairs   int
	Records int
}

// Totals sums the whole run.
type Totals struct {
	CBCs            uint64
	SkippedCBCs     uint64
	Reads           uint64
	Pairs           uint64
	FilteredLeaders uint64
	Records         uint64
}

// Count scans every barcode of the frozen store and writes count records
// to the shard writers. gate decides leader acceptance. onCBC, when not
// nil, is called once per barcode from worker goroutines.
func Count(st *store.Store, gate *dict.Gate, writers []*bkcfile.Writer,
	params *Params, onCBC func(CBCStat)) (*Totals, error) {

	cbcs := st.CBCs()

	var next uint64
	var abort int32
	var errMu sync.Mutex
	var firstErr error
	totals := &Totals{CBCs: uint64(len(cbcs))}

	fail := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		atomic.StoreInt32(&abort, 1)
	}

	var wg sync.WaitGroup
	for t := 0; t < params.Threads; t++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			scanner := kmer.NewScanner(params.LeaderLen, params.GapLen, params.FollowerLen)

			var nFiltered uint64
			accept := func(leader uint64) bool {
				if gate.Accept(leader) {
					return true
				}
				nFiltered++
				return false
			}
			defer func() {
				atomic.AddUint64(&totals.FilteredLeaders, nFiltered)
			}()

			var codes []uint8
			var pairs []kmer.Pair
			records := make([][]bkcfile.Record, params.NSplits)

			flush := func(shard int) error {
				err := writers[shard].WriteBlock(records[shard])
				records[shard] = records[shard][:0]
				return err
			}

			for {
				if atomic.LoadInt32(&abort) == 1 {
					return
				}
				i := atomic.AddUint64(&next, 1) - 1
				if i >= uint64(len(cbcs)) {
					break
				}
				cbc := cbcs[i]

				handles := st.Handles(cbc)
				if len(handles) < params.MinReadsPerCBC {
					atomic.AddUint64(&totals.SkippedCBCs, 1)
					if onCBC != nil {
						onCBC(CBCStat{CBC: cbc, Reads: len(handles)})
					}
					continue
				}
				pairs = pairs[:0]
				for _, h := range handles {
					codes = codes[:0]
					if err := st.Bases(h, &codes); err != nil {
						fail(err)
						return
					}
					if params.Mode == bkcfile.ModeSingle {
						scanner.ScanKmers(codes, params.Canonical, accept, &pairs)
					} else {
						scanner.ScanPairs(codes, accept, &pairs)
					}
				}

				sorts.Quicksort(pairSlice(pairs))

				nRecords := 0
				for j := 0; j < len(pairs); {
					k := j + 1
					for k < len(pairs) && pairs[k] == pairs[j] {
						k++
					}
					count := uint64(k - j)
					if count < params.MinCount {
						j = k
						continue
					}
					if count > params.MaxCount {
						count = params.MaxCount
					}
					shard := Shard(pairs[j].Leader, params.NSplits)
					records[shard] = append(records[shard], bkcfile.Record{
						SampleID: params.SampleID,
						CBC:      cbc,
						Leader:   pairs[j].Leader,
						Follower: pairs[j].Follower,
						Count:    count,
					})
					nRecords++
					if len(records[shard]) >= MaxRecordsInBuffer {
						if err := flush(shard); err != nil {
							fail(err)
							return
						}
					}
					j = k
				}

				atomic.AddUint64(&totals.Reads, uint64(len(handles)))
				atomic.AddUint64(&totals.Pairs, uint64(len(pairs)))
				atomic.AddUint64(&totals.Records, uint64(nRecords))
				if onCBC != nil {
					onCBC(CBCStat{CBC: cbc, Reads: len(handles), Pairs: len(pairs), Records: nRecords})
				}

				if cap(pairs) > scratchHighWater {
					pairs = nil
				}
			}

			for shard := range records {
				if err := flush(shard); err != nil {
					fail(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return totals, nil
}

// pairSlice sorts pairs lexicographically by leader, then follower.
type pairSlice []kmer.Pair

func (s pairSlice) Len() int      { return len(s) }
func (s pairSlice) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s pairSlice) Less(i, j int) bool {
	if s[i].Leader != s[j].Leader {
		return s[i].Leader < s[j].Leader
	}
	return s[i].Follower < s[j].Follower
}

var _ sort.Interface = pairSlice(nil)
