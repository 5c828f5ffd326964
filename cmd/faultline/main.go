// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/faultline/faultline/internal/symlog"
	"github.com/faultline/faultline/pkg/frame"
	"github.com/faultline/faultline/pkg/symtab"
)

var (
	flagBreakpad = flag.String("b", "", "breakpad_dir,fileid_path: enable Breakpad mode")
	flagLocal    = flag.String("local", "", "retry a missing module path under <dir>/<basename>")
	flagJSON     = flag.Bool("j", false, "JSON-escape path and function text in output")
	flagVerbose  = flag.Int("vv", 0, "verbosity")
	flagWorkers  = flag.Int("workers", 0, "resolve this many frames concurrently (0: single-threaded)")
)

func main() {
	flag.Parse()
	symlog.SetVerbosity(*flagVerbose)

	remap := symtab.RemapRule{Dir: *flagLocal}
	cache := symtab.NewCache(remap)
	adapter := frame.New(cache, *flagJSON)

	if *flagBreakpad != "" {
		dir, helper, err := splitBreakpadFlag(*flagBreakpad)
		if err != nil {
			symlog.Fatalf("faultline: %v", err)
		}
		adapter = adapter.WithBreakpad(frame.BreakpadConfig{Dir: dir, FileIDHelper: helper})
	}

	pipeline := frame.NewPipeline(adapter, *flagWorkers)
	if err := pipeline.Run(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "faultline: %v\n", err)
		os.Exit(1)
	}
}

func splitBreakpadFlag(v string) (dir, helper string, err error) {
	parts := strings.SplitN(v, ",", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("-b wants <breakpad_dir>,<fileid_path>, got %q", v)
	}
	return parts[0], parts[1], nil
}
