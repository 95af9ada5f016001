// Package main provides the merge-counters tool: it folds two or more
// saved counter files into one by addition, refusing to merge the same run
// twice (every counter file is stamped with a unique run identifier).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/xid"

	"github.com/sarchlab/tbsim/counter"
	"github.com/sarchlab/tbsim/report"
)

var output = flag.String("o", "", "Output counter file (required)")

func main() {
	flag.Parse()

	if *output == "" || flag.NArg() < 2 {
		fmt.Fprintf(os.Stderr, "Usage: merge-counters -o OUT <counters>...\n\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "merge-counters: %v\n", err)
		os.Exit(1)
	}
}

func run(paths []string) error {
	merged := counter.New()
	seen := map[xid.ID]string{}

	for _, path := range paths {
		r, err := report.LoadFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if prev, dup := seen[r.ID]; dup {
			return fmt.Errorf("%s and %s are the same run (%s); refusing to merge it twice",
				prev, path, r.ID)
		}
		seen[r.ID] = path
		merged.Add(r.Counter)
	}

	id, err := report.SaveFile(*output, merged)
	if err != nil {
		return err
	}
	fmt.Printf("merged %d counter files into %s (run %s)\n", len(paths), *output, id)
	return nil
}
