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

// Package ingest fills the read store from paired FASTA/FASTQ files.
// Reader goroutines drive a barcode file and its reads file in lockstep;
// loader goroutines validate barcodes and pack reads into the store.
package ingest

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/splashbio/bkc/bkc/cmd/dict"
	"github.com/splashbio/bkc/bkc/cmd/kmer"
	"github.com/splashbio/bkc/bkc/cmd/store"
)

// FilePair is one line of the input list: the barcode reads and the
// biological reads of the same library.
type FilePair struct {
	BarcodeFile string
	ReadsFile   string
}

// ParseInputList reads the input list file, one
// "<cbc_umi_file>,<reads_file>" per line.
func ParseInputList(file string) ([]FilePair, error) {
	fh, err := os.Open(file)
	if err != nil {
		return nil, errors.Wrapf(err, "open input list: %s", file)
	}
	defer fh.Close()

	var pairs []FilePair
	scanner := bufio.NewScanner(fh)
	var nLine int
	for scanner.Scan() {
		nLine++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		i := strings.IndexByte(line, ',')
		if i <= 0 || i == len(line)-1 {
			return nil, errors.Errorf("input list %s: line %d: expected <cbc_umi_file>,<reads_file>", file, nLine)
		}
		pairs = append(pairs, FilePair{BarcodeFile: line[:i], ReadsFile: line[i+1:]})
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read input list: %s", file)
	}
	if len(pairs) == 0 {
		return nil, errors.Errorf("input list %s: no file pairs", file)
	}
	return pairs, nil
}

// Read is one read pair in flight between readers and loaders.
type Read struct {
	File int

	BarcodeName []byte
	BarcodeSeq  []byte
	BarcodeQual []byte

	ReadName []byte
	ReadSeq  []byte
	ReadQual []byte
}

var poolRead = &sync.Pool{New: func() interface{} { return &Read{} }}

// Options configures ingestion.
type Options struct {
	CBCLen  uint8
	UMILen  uint8
	SoftLen int // tolerated extra bases after cbc+umi

	// AllowStrange drops barcode reads of unexpected length instead of
	// aborting the run.
	AllowStrange bool

	CBCs            *dict.CBCSet // nil: no allow-list
	ApplyCorrection bool

	Threads int
}

// NumReaders returns the reader goroutine count for one run.
func (o *Options) NumReaders(nFilePairs int) int {
	n := o.Threads / 2
	if n > nFilePairs {
		n = nFilePairs
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Stats summarizes one ingestion run.
type Stats struct {
	Reads uint64
	Bases uint64

	DroppedLength uint64 // barcode reads outside the tolerated length
	DroppedCBC    uint64 // non-ACGT or not on the allow-list
}

// Exporter receives every read pair that survived barcode filtering.
// Calls come from multiple goroutines.
type Exporter interface {
	Export(r *Read) error
}

// Run ingests all file pairs into the store. The store is not frozen.
func Run(st *store.Store, pairs []FilePair, opt *Options, export Exporter) (*Stats, error) {
	nReaders := opt.NumReaders(len(pairs))
	nLoaders := opt.Threads - nReaders
	if nLoaders < 1 {
		nLoaders = 1
	}

	stats := &Stats{}
	ch := make(chan *Read, 1024)

	var abort int32
	var errMu sync.Mutex
	var firstErr error
	fail := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		atomic.StoreInt32(&abort, 1)
	}

	// readers

	var nextPair uint64
	var rwg sync.WaitGroup
	for r := 0; r < nReaders; r++ {
		rwg.Add(1)
		go func() {
			defer rwg.Done()
			for {
				i := atomic.AddUint64(&nextPair, 1) - 1
				if i >= uint64(len(pairs)) {
					return
				}
				if err := readPair(int(i), pairs[i], ch, &abort); err != nil {
					fail(err)
					return
				}
			}
		}()
	}

	// loaders

	minLen := int(opt.CBCLen) + int(opt.UMILen)
	maxLen := minLen + opt.SoftLen

	var lwg sync.WaitGroup
	for l := 0; l < nLoaders; l++ {
		lwg.Add(1)
		go func() {
			defer lwg.Done()
			for read := range ch {
				if atomic.LoadInt32(&abort) == 1 {
					poolRead.Put(read)
					continue // drain
				}

				n := len(read.BarcodeSeq)
				if n < minLen || n > maxLen {
					if !opt.AllowStrange {
						fail(errors.Errorf(
							"read %s: barcode read of %d bases, expected %d to %d (use --allow_strange_cbc_umi_reads to skip such reads)",
							read.BarcodeName, n, minLen, maxLen))
						poolRead.Put(read)
						continue
					}
					atomic.AddUint64(&stats.DroppedLength, 1)
					poolRead.Put(read)
					continue
				}

				cbcCode, ok := kmer.Encode2(read.BarcodeSeq[:opt.CBCLen])
				if ok && opt.CBCs != nil {
					if opt.ApplyCorrection {
						cbcCode, ok = opt.CBCs.Correct(cbcCode)
					} else {
						ok = opt.CBCs.Contains(cbcCode)
					}
				}
				if !ok {
					atomic.AddUint64(&stats.DroppedCBC, 1)
					poolRead.Put(read)
					continue
				}

				if export != nil {
					if err := export.Export(read); err != nil {
						fail(err)
						poolRead.Put(read)
						continue
					}
				}

				if _, err := st.Add(read.File, cbcCode, read.ReadSeq); err != nil {
					fail(err)
					poolRead.Put(read)
					continue
				}
				atomic.AddUint64(&stats.Reads, 1)
				atomic.AddUint64(&stats.Bases, uint64(len(read.ReadSeq)))

				poolRead.Put(read)
			}
		}()
	}

	rwg.Wait()
	close(ch)
	lwg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return stats, nil
}

// readPair streams one barcode/reads file pair in lockstep.
func readPair(file int, pair FilePair, ch chan<- *Read, abort *int32) error {
	brdr, err := fastx.NewReader(nil, pair.BarcodeFile, "")
	if err != nil {
		return errors.Wrapf(err, "open barcode file: %s", pair.BarcodeFile)
	}
	defer brdr.Close()

	rrdr, err := fastx.NewReader(nil, pair.ReadsFile, "")
	if err != nil {
		return errors.Wrapf(err, "open reads file: %s", pair.ReadsFile)
	}
	defer rrdr.Close()

	for {
		if atomic.LoadInt32(abort) == 1 {
			return nil
		}

		brec, berr := brdr.Read()
		rrec, rerr := rrdr.Read()

		if berr == io.EOF && rerr == io.EOF {
			return nil
		}
		if berr == io.EOF || rerr == io.EOF {
			return errors.Errorf("unequal read counts: %s and %s", pair.BarcodeFile, pair.ReadsFile)
		}
		if berr != nil {
			return errors.Wrapf(berr, "read barcode file: %s", pair.BarcodeFile)
		}
		if rerr != nil {
			return errors.Wrapf(rerr, "read reads file: %s", pair.ReadsFile)
		}

		read := poolRead.Get().(*Read)
		read.File = file
		read.BarcodeName = append(read.BarcodeName[:0], brec.Name...)
		read.BarcodeSeq = append(read.BarcodeSeq[:0], brec.Seq.Seq...)
		read.BarcodeQual = append(read.BarcodeQual[:0], brec.Seq.Qual...)
		read.ReadName = append(read.ReadName[:0], rrec.Name...)
		read.ReadSeq = append(read.ReadSeq[:0], rrec.Seq.Seq...)
		read.ReadQual = append(read.ReadQual[:0], rrec.Seq.Qual...)

		ch <- read
	}
}
