// Command scdb-build drives a Writer from a newline- or tab-separated
// input stream: one key per line in Set mode, tab-separated key/value
// pairs in Map mode. Exit code 0 on success, nonzero on any build
// failure.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/robbinfan/cloud-scdb/scdb"
	"github.com/robbinfan/cloud-scdb/sformat"
)

func main() {
	var (
		formatFlag   = flag.String("format", "trie", "index format: trie or hash")
		modeFlag     = flag.String("mode", "map", "build mode: map or set")
		encodingFlag = flag.String("encoding", "none", "value encoding (map mode): none, snappy, or dfa")
		inputPath    = flag.StringP("input", "i", "-", "input file, or - for stdin")
		outputPath   = flag.StringP("output", "o", "", "output artifact path (required)")
		tmpDir       = flag.String("tmp-dir", os.TempDir(), "directory for scratch files during build")
		withChecksum = flag.Bool("checksum", false, "append a trailing whole-file digest")
		loadFactor   = flag.Float64("load-factor", 0.75, "hash format load factor, in (0,1)")
		verbose      = flag.BoolP("verbose", "v", false, "log build diagnostics to stderr")
	)
	flag.Parse()

	log := logrus.New()
	log.SetOutput(io.Discard)
	if *verbose {
		log.SetOutput(os.Stderr)
	}

	if *outputPath == "" {
		fmt.Fprintln(os.Stderr, "scdb-build: -o/--output is required")
		os.Exit(2)
	}

	format, err := parseFormat(*formatFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scdb-build:", err)
		os.Exit(2)
	}
	buildType, err := parseMode(*modeFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scdb-build:", err)
		os.Exit(2)
	}
	valueEncoding, err := parseEncoding(*encodingFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scdb-build:", err)
		os.Exit(2)
	}

	in := os.Stdin
	if *inputPath != "-" {
		f, err := os.Open(*inputPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "scdb-build:", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	opts := []scdb.WriterOption{scdb.WithLogger(log)}
	if *withChecksum {
		opts = append(opts, scdb.WithChecksum())
	}
	if format == scdb.HashFormat {
		opts = append(opts, scdb.WithLoadFactor(*loadFactor))
	}

	w, err := scdb.NewWriter(*tmpDir, format, buildType, valueEncoding, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scdb-build:", err)
		os.Exit(1)
	}

	count, err := ingest(in, buildType, w)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scdb-build:", err)
		os.Exit(1)
	}

	if err := w.Close(*outputPath); err != nil {
		fmt.Fprintln(os.Stderr, "scdb-build:", err)
		os.Exit(1)
	}

	if st, err := os.Stat(*outputPath); err == nil {
		fmt.Printf("scdb-build: wrote %d keys to %s (%s)\n", count, *outputPath, humanize.Bytes(uint64(st.Size())))
	}
}

func ingest(r io.Reader, buildType sformat.BuildType, w scdb.Writer) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	count := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if buildType == sformat.Set {
			if err := w.Put([]byte(line)); err != nil {
				return count, err
			}
		} else {
			key, value, ok := strings.Cut(line, "\t")
			if !ok {
				return count, fmt.Errorf("malformed map-mode line (no tab): %q", line)
			}
			if err := w.PutKV([]byte(key), []byte(value)); err != nil {
				return count, err
			}
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}
	return count, nil
}

func parseFormat(s string) (scdb.Format, error) {
	switch s {
	case "trie":
		return scdb.TrieFormat, nil
	case "hash":
		return scdb.HashFormat, nil
	default:
		return 0, fmt.Errorf("unknown format %q (want trie or hash)", s)
	}
}

func parseMode(s string) (sformat.BuildType, error) {
	switch s {
	case "map":
		return sformat.Map, nil
	case "set":
		return sformat.Set, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (want map or set)", s)
	}
}

func parseEncoding(s string) (sformat.ValueEncoding, error) {
	switch s {
	case "none":
		return sformat.None, nil
	case "snappy":
		return sformat.Snappy, nil
	case "dfa":
		return sformat.DFA, nil
	default:
		return 0, fmt.Errorf("unknown encoding %q (want none, snappy, or dfa)", s)
	}
}
