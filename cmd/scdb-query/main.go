// Command scdb-query opens an artifact built by scdb-build and answers
// exist/get/prefix lookups from argv. Exit code 0 on success, nonzero if
// the artifact can't be opened, a lookup is invalid for its build mode, or
// a --get key is not found.
package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/robbinfan/cloud-scdb/scdb"
	"github.com/robbinfan/cloud-scdb/scdbreader"
	"github.com/robbinfan/cloud-scdb/sformat"
)

func main() {
	var (
		existKey  = flag.String("exist", "", "report whether key is present")
		getKey    = flag.String("get", "", "print the value associated with key")
		prefix    = flag.String("prefix", "", "enumerate every stored key starting with prefix")
		limit     = flag.Int("limit", 0, "cap the number of prefix results (0 = unbounded)")
		showStats = flag.Bool("stats", false, "print format/build-mode/key-count summary")
		memReport = flag.Bool("mem-report", false, "print a hierarchical byte-size breakdown of the artifact")
		populate  = flag.Bool("populate", false, "pre-fault the mapping before querying")
	)
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: scdb-query [flags] <artifact-path>")
		os.Exit(2)
	}

	var readerOpts []scdbreader.Option
	if *populate {
		readerOpts = append(readerOpts, scdbreader.WithPopulate())
	}

	r, err := scdb.Open(args[0], readerOpts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scdb-query:", err)
		os.Exit(1)
	}
	defer r.Close()

	if *showStats {
		st := r.Stats()
		fmt.Printf("format=%s build=%s encoding=%s keys=%s\n",
			st.Format, st.BuildType, st.ValueEncoding, humanize.Comma(int64(st.NumKeys)))
	}
	if *memReport {
		r.MemReport().Print(0)
	}

	exitCode := 0
	if *existKey != "" {
		fmt.Printf("exist(%q) = %v\n", *existKey, r.Exist([]byte(*existKey)))
	}
	if *getKey != "" {
		v, ok := r.GetAsString([]byte(*getKey))
		if !ok {
			fmt.Printf("get(%q) = <not found>\n", *getKey)
			exitCode = 1
		} else {
			fmt.Printf("get(%q) = %q\n", *getKey, v)
		}
	}
	if *prefix != "" {
		entries, err := r.PrefixGet([]byte(*prefix), *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "scdb-query:", err)
			os.Exit(1)
		}
		for _, e := range entries {
			if r.BuildType() == sformat.Set {
				fmt.Printf("%s\n", e.Key)
			} else {
				fmt.Printf("%s\t%s\n", e.Key, e.Value)
			}
		}
	}
	os.Exit(exitCode)
}
