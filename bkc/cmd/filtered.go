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

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/splashbio/bkc/bkc/cmd/ingest"
)

// export modes for reads surviving barcode filtering
const (
	exportNone   = "none"
	exportFirst  = "first"
	exportSecond = "second"
	exportBoth   = "both"
)

// filteredExporter re-exports read pairs that survived barcode filtering
// as FASTA or FASTQ. Export is called from loader goroutines.
type filteredExporter struct {
	mu sync.Mutex

	mode  string
	fastq bool

	outfh1, outfh2 *bufio.Writer
	gw1, gw2       io.WriteCloser
	w1, w2         *os.File
}

// newFilteredExporter opens <path>_1.<ext> and/or <path>_2.<ext> per mode.
func newFilteredExporter(path, mode, format string, level int) (*filteredExporter, error) {
	e := &filteredExporter{mode: mode, fastq: format == "fastq"}

	ext := ".fasta.gz"
	if e.fastq {
		ext = ".fastq.gz"
	}

	var err error
	if mode == exportFirst || mode == exportBoth {
		e.outfh1, e.gw1, e.w1, err = outStream(path+"_1"+ext, level)
		if err != nil {
			return nil, errors.Wrap(err, "create filtered input export")
		}
	}
	if mode == exportSecond || mode == exportBoth {
		e.outfh2, e.gw2, e.w2, err = outStream(path+"_2"+ext, level)
		if err != nil {
			e.Close()
			return nil, errors.Wrap(err, "create filtered input export")
		}
	}
	return e, nil
}

func (e *filteredExporter) writeRecord(outfh *bufio.Writer, name, seq, qual []byte) error {
	var err error
	if e.fastq {
		_, err = fmt.Fprintf(outfh, "@%s\n%s\n+\n%s\n", name, seq, qual)
	} else {
		_, err = fmt.Fprintf(outfh, ">%s\n%s\n", name, seq)
	}
	return err
}

// Export writes the surviving read pair to the export files.
func (e *filteredExporter) Export(r *ingest.Read) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.outfh1 != nil {
		if err := e.writeRecord(e.outfh1, r.BarcodeName, r.BarcodeSeq, r.BarcodeQual); err != nil {
			return errors.Wrap(err, "export filtered input")
		}
	}
	if e.outfh2 != nil {
		if err := e.writeRecord(e.outfh2, r.ReadName, r.ReadSeq, r.ReadQual); err != nil {
			return errors.Wrap(err, "export filtered input")
		}
	}
	return nil
}

// Close flushes and closes the export files.
func (e *filteredExporter) Close() error {
	var firstErr error
	if e.outfh1 != nil {
		if err := closeOutStream(e.outfh1, e.gw1, e.w1); err != nil {
			firstErr = err
		}
	}
	if e.outfh2 != nil {
		if err := closeOutStream(e.outfh2, e.gw2, e.w2); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
