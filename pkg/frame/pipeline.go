// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package frame

import (
	"bufio"
	"io"
)

// Pipeline runs many lines through an Adapter concurrently while
// preserving input order on the way out — the same fan-out-many,
// collect-in-order shape as vmimpl.OutputMerger, except here the
// "decoders" are frame resolutions and the merge step is a plain
// sliding window instead of a channel of chunks.
type Pipeline struct {
	adapter *Adapter
	workers int
}

// NewPipeline builds a Pipeline. workers <= 1 degrades to the
// single-threaded cooperative model: each line is fully resolved
// before the next is read.
func NewPipeline(adapter *Adapter, workers int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{adapter: adapter, workers: workers}
}

// Run reads newline-delimited input from r, rewrites every line
// through the adapter, and writes results to w in input order. Up to
// p.workers lines are resolved on their own goroutines at once; the
// module cache's singleflight coalescing keeps at-most-once parsing
// true regardless of how many workers race to the same module.
func (p *Pipeline) Run(r io.Reader, w io.Writer) error {
	type job struct {
		result chan string
	}

	sem := make(chan struct{}, p.workers)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	var jobs []job
	drain := func(upTo int) error {
		for len(jobs) > upTo {
			j := jobs[0]
			jobs = jobs[1:]
			line := <-j.result
			if _, err := bw.WriteString(line); err != nil {
				return err
			}
			if _, err := bw.WriteString("\n"); err != nil {
				return err
			}
		}
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		sem <- struct{}{}
		j := job{result: make(chan string, 1)}
		jobs = append(jobs, j)
		go func(line string, out chan string) {
			defer func() { <-sem }()
			out <- p.adapter.RewriteLine(line)
		}(line, j.result)
		if err := drain(p.workers); err != nil {
			return err
		}
	}
	if err := drain(0); err != nil {
		return err
	}
	return scanner.Err()
}
