// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package frame

import (
	"os/exec"
	"strings"
	"sync"
)

// BreakpadConfig enables -b mode: instead of resolving a
// frame's path directly, the adapter maps it to
// <Dir>/<basename>/<UUID>/<basename>.sym, where UUID comes from running
// FileIDHelper on the original path.
type BreakpadConfig struct {
	Dir          string
	FileIDHelper string
}

// breakpadResolver memoizes one helper invocation per distinct module
// path, since the same binary is referenced by many frames.
type breakpadResolver struct {
	cfg  BreakpadConfig
	once sync.Map // path -> *breakpadUUIDResult
}

type breakpadUUIDResult struct {
	symPath string
	err     error
}

func newBreakpadResolver(cfg BreakpadConfig) *breakpadResolver {
	return &breakpadResolver{cfg: cfg}
}

func (r *breakpadResolver) resolve(path string) (string, error) {
	if v, ok := r.once.Load(path); ok {
		res := v.(*breakpadUUIDResult)
		return res.symPath, res.err
	}
	sym, err := r.buildSymPath(path)
	r.once.Store(path, &breakpadUUIDResult{symPath: sym, err: err})
	return sym, err
}

func (r *breakpadResolver) buildSymPath(path string) (string, error) {
	out, err := exec.Command(r.cfg.FileIDHelper, path).Output()
	if err != nil {
		return "", err
	}
	uuid := strings.TrimSpace(string(out))
	base := basenameOf(path)
	return r.cfg.Dir + "/" + base + "/" + uuid + "/" + base + ".sym", nil
}

func basenameOf(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
