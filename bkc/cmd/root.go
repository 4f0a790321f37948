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
	"os"
	"runtime"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
	"github.com/twotwotwo/sorts"
)

// VERSION of bkc.
const VERSION = "0.2.0"

// RootCmd is the root command of bkc.
var RootCmd = &cobra.Command{
	Use:   "bkc",
	Short: "barcoded k-mer pair counting for single-cell and spatial data",
	Long: fmt.Sprintf(`
  bkc v%s
  Counting (leader, follower) k-mer pairs per cell barcode

`, VERSION),
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Usage()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		applyConfigProfile(cmd)
	},
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().Int("verbose", 1,
		"verbosity level, 0 for quiet, 2 for extra totals")
	RootCmd.PersistentFlags().String("log", "",
		"log file to tee messages into")
	RootCmd.PersistentFlags().String("config", "",
		"TOML profile pre-seeding flag values, flags given on the command line win")

	RootCmd.CompletionOptions.DisableDefaultCmd = true
}

// Options contains the global flags.
type Options struct {
	NumCPUs   int
	Verbosity int

	LogFile  string
	Log2File bool
}

// Verbose reports whether progress messages are wanted.
func (o *Options) Verbose() bool { return o.Verbosity >= 1 }

// getOptions reads the global flags. threads <= 0 means all CPUs.
func getOptions(cmd *cobra.Command, threads int) *Options {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	sorts.MaxProcs = threads
	runtime.GOMAXPROCS(threads)

	logfile := getFlagString(cmd, "log")
	return &Options{
		NumCPUs:   threads,
		Verbosity: getFlagNonNegativeInt(cmd, "verbose"),

		LogFile:  logfile,
		Log2File: logfile != "",
	}
}

// applyConfigProfile seeds flag values from the TOML file given with
// --config. Flags set on the command line keep their values.
func applyConfigProfile(cmd *cobra.Command) {
	file := getFlagString(cmd, "config")
	if file == "" {
		return
	}
	file = expandPath(file)

	existed, err := pathutil.Exists(file)
	checkError(err)
	if !existed {
		checkError(errors.Errorf("config profile not found: %s", file))
	}

	data, err := os.ReadFile(file)
	checkError(errors.Wrapf(err, "read config profile: %s", file))

	profile := make(map[string]interface{})
	checkError(errors.Wrapf(toml.Unmarshal(data, &profile), "parse config profile: %s", file))

	flags := cmd.Flags()
	for key, value := range profile {
		f := flags.Lookup(key)
		if f == nil || f.Changed {
			continue
		}
		checkError(errors.Wrapf(flags.Set(key, fmt.Sprintf("%v", value)),
			"config profile %s: key %s", file, key))
	}
}
