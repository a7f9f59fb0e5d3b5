// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package log

import (
	"fmt"
	"os"
)

// ProductionOutput fires every entry to stderr as human-readable text,
// and additionally persists it as a line of JSON under a daily log
// file in Dir, when Dir is configured. It's the handler a long-running
// pmail-node process installs in place of the package default, which
// only writes to stderr.
type ProductionOutput struct {
	dir    *OutputDir
	stderr EntryHandler
}

// NewProductionOutput returns a ProductionOutput that always writes to
// stderr, and additionally writes newline-delimited JSON under logsDir
// if logsDir is non-empty.
func NewProductionOutput(logsDir string) (ProductionOutput, error) {
	h := ProductionOutput{
		stderr: OutputText(Stderr),
	}
	if logsDir != "" {
		if err := os.MkdirAll(logsDir, 0770); err != nil {
			return h, fmt.Errorf("log: creating logs directory: %s", err)
		}
		h.dir = &OutputDir{Dir: logsDir}
	}
	return h, nil
}

func (h ProductionOutput) Fire(e *Entry) {
	if h.dir != nil {
		h.dir.Fire(e)
	}
	h.stderr.Fire(e)
}
