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
	"fmt"
	"io"
	"time"

	"github.com/shenwei356/kmers"
	"github.com/spf13/cobra"
	"github.com/splashbio/bkc/bkc/cmd/bkcfile"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "decode count shard files to TSV",
	Long: `Decode count shard files to TSV

Columns: sample_id, cbc, leader, follower, count.
In single mode the follower column is empty.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd, getFlagInt(cmd, "n_threads"))
		outFile := getFlagString(cmd, "output_name")
		withHeader := getFlagBool(cmd, "header")

		if opt.Log2File {
			defer addLog(opt.LogFile, opt.Verbose())()
		}
		timeStart := time.Now()
		if opt.Verbose() || opt.Log2File {
			defer func() {
				log.Infof("elapsed time: %s", time.Since(timeStart))
			}()
		}

		if len(args) == 0 {
			checkError(fmt.Errorf("shard files needed, e.g. bkc dump counts.bkc.0"))
		}

		outfh, gw, w, err := outStream(expandPath(outFile), 5)
		checkError(err)
		defer func() {
			checkError(closeOutStream(outfh, gw, w))
		}()

		if withHeader {
			fmt.Fprintln(outfh, "sample_id\tcbc\tleader\tfollower\tcount")
		}

		var nRecords uint64
		for _, file := range args {
			rdr, err := bkcfile.NewReader(expandPath(file))
			checkError(err)
			geom := rdr.Geometry()

			var records []bkcfile.Record
			for {
				records = records[:0]
				err = rdr.NextBlock(&records)
				if err == io.EOF {
					break
				}
				checkError(err)

				for i := range records {
					r := &records[i]
					follower := []byte{}
					if geom.Mode == bkcfile.ModePair {
						follower = kmers.Decode(r.Follower, int(geom.FollowerLen))
					}
					fmt.Fprintf(outfh, "%d\t%s\t%s\t%s\t%d\n",
						r.SampleID,
						kmers.Decode(r.CBC, int(geom.CBCLen)),
						kmers.Decode(r.Leader, int(geom.LeaderLen)),
						follower,
						r.Count)
					nRecords++
				}
			}
			checkError(rdr.Close())
		}

		if opt.Verbose() {
			log.Infof("%d records dumped from %d shard file(s)", nRecords, len(args))
		}
	},
}

func init() {
	RootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().String("output_name", "-",
		`output TSV file, .gz for compressed, - for stdout`)
	dumpCmd.Flags().Bool("header", false, "write a header line")
	dumpCmd.Flags().Int("n_threads", 0, "number of threads, 0 for all CPUs")
}
