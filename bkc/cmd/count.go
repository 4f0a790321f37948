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
	"os"
	"time"

	"github.com/shenwei356/kmers"
	"github.com/spf13/cobra"
	"github.com/splashbio/bkc/bkc/cmd/bkcfile"
	"github.com/splashbio/bkc/bkc/cmd/counter"
	"github.com/splashbio/bkc/bkc/cmd/dict"
	"github.com/splashbio/bkc/bkc/cmd/ingest"
	"github.com/splashbio/bkc/bkc/cmd/store"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "count k-mer pairs per cell barcode",
	Long: `Count k-mer pairs per cell barcode

Reads paired FASTA/FASTQ files (barcode reads and biological reads in
lockstep), keeps reads whose cell barcode passes the allow-list, then
counts (leader, follower) k-mer pairs per barcode and writes them to
sharded binary count files.

`,
	Run: runCount,
}

func runCount(cmd *cobra.Command, args []string) {
	// ------------------------------------------------------------------
	// flags

	opt := getOptions(cmd, getFlagInt(cmd, "n_threads"))

	if opt.Log2File {
		defer addLog(opt.LogFile, opt.Verbose())()
	}
	timeStart := time.Now()
	if opt.Verbose() || opt.Log2File {
		defer func() {
			log.Infof("elapsed time: %s", time.Since(timeStart))
		}()
	}

	modeStr := getFlagString(cmd, "mode")
	var mode uint8
	switch modeStr {
	case "pair":
		mode = bkcfile.ModePair
	case "single":
		mode = bkcfile.ModeSingle
	default:
		checkError(fmt.Errorf("invalid value of flag --mode: %s, available: pair, single", modeStr))
	}

	leaderLen := getFlagPositiveInt(cmd, "leader_len")
	followerLen := getFlagNonNegativeInt(cmd, "follower_len")
	gapLen := getFlagNonNegativeInt(cmd, "gap_len")
	cbcLen := getFlagPositiveInt(cmd, "cbc_len")
	umiLen := getFlagNonNegativeInt(cmd, "umi_len")
	softLen := getFlagNonNegativeInt(cmd, "soft_cbc_umi_len_limit")
	nSplits := getFlagPositiveInt(cmd, "n_splits")
	zstdLevel := getFlagNonNegativeInt(cmd, "zstd_level")
	maxCount := getFlagPositiveInt(cmd, "max_count")
	sampleID := getFlagNonNegativeInt(cmd, "sample_id")
	canonical := getFlagBool(cmd, "canonical")
	polyLen := getFlagNonNegativeInt(cmd, "poly_ACGT_len")
	artifactsFile := getFlagString(cmd, "artifacts")
	filterAdapters := getFlagBool(cmd, "apply_filter_illumina_adapters")
	predefinedCBC := getFlagString(cmd, "predefined_cbc")
	techStr := getFlagString(cmd, "technology")
	applyCorrection := getFlagBool(cmd, "apply_cbc_correction")
	allowStrange := getFlagBool(cmd, "allow_strange_cbc_umi_reads")
	inputName := getFlagString(cmd, "input_name")
	inputFormat := getFlagString(cmd, "input_format")
	outputName := getFlagString(cmd, "output_name")
	outputFormat := getFlagString(cmd, "output_format")
	dictFile := getFlagString(cmd, "dict")
	logName := getFlagString(cmd, "log_name")
	filteredPath := getFlagString(cmd, "filtered_input_path")
	exportMode := getFlagString(cmd, "export_filtered_input_mode")
	cbcFilteringThr := getFlagNonNegativeInt(cmd, "cbc_filtering_thr")
	leaderCountsThr := getFlagNonNegativeInt(cmd, "leader_sample_counts_threshold")

	if leaderLen > 32 {
		checkError(fmt.Errorf("value of flag --leader_len should be in range [1, 32]"))
	}
	if mode == bkcfile.ModePair {
		if followerLen < 1 || followerLen > 32 {
			checkError(fmt.Errorf("value of flag --follower_len should be in range [1, 32] in pair mode"))
		}
		if canonical {
			checkError(fmt.Errorf("flag --canonical is only available in single mode"))
		}
	} else {
		followerLen = 0
		gapLen = 0
	}
	if cbcLen > 32 {
		checkError(fmt.Errorf("value of flag --cbc_len should be in range [1, 32]"))
	}
	if zstdLevel > 19 {
		checkError(fmt.Errorf("value of flag --zstd_level should be in range [0, 19]"))
	}
	switch inputFormat {
	case "fastq", "fasta":
	default:
		checkError(fmt.Errorf("invalid value of flag --input_format: %s, available: fastq, fasta", inputFormat))
	}
	switch outputFormat {
	case "bkc":
	case "splash":
		checkError(fmt.Errorf("output format splash is not supported"))
	default:
		checkError(fmt.Errorf("invalid value of flag --output_format: %s, available: bkc", outputFormat))
	}
	switch exportMode {
	case exportNone, exportFirst, exportSecond, exportBoth:
	default:
		checkError(fmt.Errorf("invalid value of flag --export_filtered_input_mode: %s, available: none, first, second, both", exportMode))
	}
	if exportMode != exportNone && filteredPath == "" {
		checkError(fmt.Errorf("flag --filtered_input_path is needed with --export_filtered_input_mode %s", exportMode))
	}
	if inputName == "" {
		checkError(fmt.Errorf("flag --input_name is needed"))
	}
	tech, err := dict.ParseTechnology(techStr)
	checkError(err)

	if opt.Verbose() {
		log.Infof("bkc v%s", VERSION)
		log.Info("-------------------- [main parameters] --------------------")
		log.Infof("mode: %s", modeStr)
		if mode == bkcfile.ModePair {
			log.Infof("leader/gap/follower: %d/%d/%d", leaderLen, gapLen, followerLen)
		} else {
			log.Infof("leader: %d, canonical: %v", leaderLen, canonical)
		}
		log.Infof("cbc/umi: %d/%d, soft limit: %d", cbcLen, umiLen, softLen)
		log.Infof("threads: %d, splits: %d, zstd level: %d", opt.NumCPUs, nSplits, zstdLevel)
		log.Info("-------------------- [main parameters] --------------------")
	}

	// ------------------------------------------------------------------
	// dictionaries and filters

	var anchors *dict.Anchors
	if dictFile != "" {
		anchors, err = dict.LoadAnchors(expandPath(dictFile), uint8(leaderLen))
		checkError(err)
		if opt.Verbose() {
			log.Infof("%d anchors loaded from %s", anchors.Len(), dictFile)
		}
	}

	var filters []dict.LeaderFilter
	if polyLen > 0 {
		filters = append(filters, dict.NewPolyFilter(uint8(leaderLen), polyLen))
	}
	artifacts := dict.NewArtifactFilter(uint8(leaderLen))
	if artifactsFile != "" {
		checkError(artifacts.LoadArtifacts(expandPath(artifactsFile)))
	}
	if filterAdapters {
		checkError(artifacts.AddIlluminaAdapters())
	}
	filters = append(filters, artifacts)
	gate := dict.NewGate(anchors, filters...)

	var cbcs *dict.CBCSet
	if predefinedCBC != "" {
		cbcs, err = dict.LoadCBCs(expandPath(predefinedCBC), tech, uint8(cbcLen))
		checkError(err)
		if opt.Verbose() {
			log.Infof("%d predefined barcodes loaded from %s", cbcs.Len(), predefinedCBC)
		}
	} else if applyCorrection {
		checkError(fmt.Errorf("flag --apply_cbc_correction needs --predefined_cbc"))
	}

	// ------------------------------------------------------------------
	// ingestion

	filePairs, err := ingest.ParseInputList(expandPath(inputName))
	checkError(err)
	if opt.Verbose() {
		log.Infof("%d input file pair(s) given", len(filePairs))
	}

	var exporter *filteredExporter
	var export ingest.Exporter
	if exportMode != exportNone {
		exporter, err = newFilteredExporter(expandPath(filteredPath), exportMode, inputFormat, 5)
		checkError(err)
		export = exporter
	}

	st := store.New(len(filePairs))
	ingestStats, err := ingest.Run(st, filePairs, &ingest.Options{
		CBCLen:          uint8(cbcLen),
		UMILen:          uint8(umiLen),
		SoftLen:         softLen,
		AllowStrange:    allowStrange,
		CBCs:            cbcs,
		ApplyCorrection: applyCorrection,
		Threads:         opt.NumCPUs,
	}, export)
	if exporter != nil {
		checkError(exporter.Close())
	}
	checkError(err)

	st.Freeze()

	if opt.Verbose() {
		log.Infof("%d reads (%d bases) of %d barcodes loaded",
			ingestStats.Reads, ingestStats.Bases, st.NumCBCs())
		log.Infof("dropped: %d reads of unexpected barcode length, %d reads with unknown barcodes",
			ingestStats.DroppedLength, ingestStats.DroppedCBC)
	}

	// ------------------------------------------------------------------
	// counting

	geom := &bkcfile.Geometry{
		Mode:          mode,
		SampleIDBytes: bkcfile.WidthFor(uint64(sampleID)),
		CBCBytes:      bkcfile.KmerBytes(uint8(cbcLen)),
		LeaderBytes:   bkcfile.KmerBytes(uint8(leaderLen)),
		FollowerBytes: bkcfile.KmerBytes(uint8(followerLen)),
		CountBytes:    bkcfile.WidthFor(uint64(maxCount)),
		LeaderLen:     uint8(leaderLen),
		FollowerLen:   uint8(followerLen),
		GapLen:        uint8(gapLen),
		CBCLen:        uint8(cbcLen),
		UMILen:        uint8(umiLen),
		Canonical:     canonical,
		ZstdLevel:     int8(zstdLevel),
		SampleID:      uint32(sampleID),
	}
	writers, err := bkcfile.OpenShards(expandPath(outputName), nSplits, geom)
	checkError(err)

	// per-barcode stats are funneled through one goroutine, it owns the
	// progress bar and the barcode log
	var pbs *mpb.Progress
	var bar *mpb.Bar
	if opt.Verbose() {
		pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
		bar = pbs.AddBar(int64(st.NumCBCs()),
			mpb.PrependDecorators(
				decor.Name("processed barcodes: ", decor.WC{W: len("processed barcodes: "), C: decor.DindentRight}),
				decor.Name("", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
				decor.EwmaETA(decor.ET_STYLE_GO, 10),
				decor.OnComplete(decor.Name(""), ". done"),
			),
		)
	}

	var onCBC func(counter.CBCStat)
	chStat := make(chan counter.CBCStat, opt.NumCPUs)
	doneStat := make(chan int)
	go func() {
		var logfh io.Writer
		if logName != "" {
			outfh, gw, w, err := outStream(expandPath(logName), 5)
			checkError(err)
			defer func() {
				checkError(closeOutStream(outfh, gw, w))
			}()
			fmt.Fprintln(outfh, "cbc\treads\tpairs\trecords")
			logfh = outfh
		}

		lastTime := time.Now()
		for stat := range chStat {
			if logfh != nil {
				fmt.Fprintf(logfh, "%s\t%d\t%d\t%d\n",
					kmers.Decode(stat.CBC, cbcLen), stat.Reads, stat.Pairs, stat.Records)
			}
			if bar != nil {
				now := time.Now()
				bar.EwmaIncrBy(1, now.Sub(lastTime))
				lastTime = now
			}
		}
		doneStat <- 1
	}()
	if logName != "" || bar != nil {
		onCBC = func(stat counter.CBCStat) {
			chStat <- stat
		}
	}

	totals, err := counter.Count(st, gate, writers, &counter.Params{
		Mode:           mode,
		Canonical:      canonical,
		LeaderLen:      uint8(leaderLen),
		GapLen:         uint8(gapLen),
		FollowerLen:    uint8(followerLen),
		MaxCount:       uint64(maxCount),
		SampleID:       uint32(sampleID),
		NSplits:        nSplits,
		Threads:        opt.NumCPUs,
		MinReadsPerCBC: cbcFilteringThr,
		MinCount:       uint64(leaderCountsThr),
	}, onCBC)

	close(chStat)
	<-doneStat
	if pbs != nil {
		pbs.Wait()
	}
	checkError(err)

	var nRecords uint64
	for _, wtr := range writers {
		nRecords += wtr.NumRecords()
		checkError(wtr.Close())
	}

	if opt.Verbose() {
		log.Infof("%d records of %d barcodes written to %d shard(s): %s.[0, %d)",
			nRecords, totals.CBCs-totals.SkippedCBCs, nSplits, outputName, nSplits)
		log.Infof("%d leaders rejected by filters", totals.FilteredLeaders)
	}
	if opt.Verbosity >= 2 {
		log.Infof("totals: %d reads scanned, %d pairs emitted, %d leaders rejected by filters, %d barcodes skipped by --cbc_filtering_thr",
			totals.Reads, totals.Pairs, totals.FilteredLeaders, totals.SkippedCBCs)
	}
}

func init() {
	RootCmd.AddCommand(countCmd)

	countCmd.Flags().String("mode", "pair", `counting mode, "pair" or "single"`)
	countCmd.Flags().Int("leader_len", 27, "leader k-mer length")
	countCmd.Flags().Int("follower_len", 27, "follower k-mer length (pair mode)")
	countCmd.Flags().Int("gap_len", 0, "bases skipped between leader and follower")
	countCmd.Flags().Int("cbc_len", 16, "cell barcode length")
	countCmd.Flags().Int("umi_len", 12, "UMI length")
	countCmd.Flags().Int("soft_cbc_umi_len_limit", 0,
		"tolerated number of extra bases after cbc+umi in barcode reads")
	countCmd.Flags().Int("n_threads", 0, "number of threads, 0 for all CPUs")
	countCmd.Flags().Int("n_splits", 1, "number of output shards")
	countCmd.Flags().Int("zstd_level", 3, "zstd level for output blocks, 0 to store raw")
	countCmd.Flags().Int("max_count", 65535, "counts are saturated at this value")
	countCmd.Flags().Int("sample_id", 0, "numerical sample id stored in every record")
	countCmd.Flags().Bool("canonical", false, "count canonical k-mers (single mode)")
	countCmd.Flags().Int("poly_ACGT_len", 0,
		"filter leaders containing a homopolymer of this length, 0 to disable")
	countCmd.Flags().String("artifacts", "", "file with artifact sequences, one per line")
	countCmd.Flags().Bool("apply_filter_illumina_adapters", false,
		"filter leaders containing Illumina adapter sequences")
	countCmd.Flags().String("predefined_cbc", "", "file with the allowed cell barcodes")
	countCmd.Flags().String("technology", "10x", `layout of the predefined barcode list, "10x" or "visium"`)
	countCmd.Flags().Bool("apply_cbc_correction", false,
		"map barcodes onto the allow-list with at most one substitution")
	countCmd.Flags().Bool("allow_strange_cbc_umi_reads", false,
		"drop barcode reads of unexpected length instead of aborting")
	countCmd.Flags().String("input_name", "",
		"input list file, one <cbc_umi_file>,<reads_file> per line")
	countCmd.Flags().String("input_format", "fastq", `input format, "fastq" or "fasta"`)
	countCmd.Flags().String("output_name", "counts.bkc", "output name, shards get .<shard> appended")
	countCmd.Flags().String("output_format", "bkc", `output format, only "bkc"`)
	countCmd.Flags().StringP("dict", "d", "", "anchor dictionary gating leaders")
	countCmd.Flags().String("log_name", "", "per-barcode TSV log file")
	countCmd.Flags().String("filtered_input_path", "",
		"path prefix for re-exporting reads that survived barcode filtering")
	countCmd.Flags().String("export_filtered_input_mode", "none",
		`which mates to re-export: "none", "first", "second" or "both"`)
	countCmd.Flags().Int("cbc_filtering_thr", 0,
		"skip barcodes with fewer reads, 0 to keep all")
	countCmd.Flags().Int("leader_sample_counts_threshold", 0,
		"drop records with a count below this value, 0 to keep all")
}
