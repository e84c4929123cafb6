/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package appconfig

import (
	"os"
	"path/filepath"

	"github.com/nabbar/chatd/chaterr"
)

const (
	serverConfRelPath = "config/server.conf"
	envRelPath        = ".env"
)

// ResolveProjectRoot walks the working directory and the executable's own
// directory, and each of their parents, returning the first one that
// contains both config/server.conf and .env.
func ResolveProjectRoot() (string, error) {
	var candidates []string

	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, ancestry(wd)...)
	}

	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, ancestry(filepath.Dir(exe))...)
	}

	for _, dir := range candidates {
		if hasMarkerFiles(dir) {
			return dir, nil
		}
	}

	return "", chaterr.Newf(chaterr.DomainConfig, chaterr.CodeConfigNotFound, nil,
		"no directory among candidates contains both %s and %s", serverConfRelPath, envRelPath)
}

func hasMarkerFiles(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, serverConfRelPath)); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, envRelPath)); err != nil {
		return false
	}
	return true
}

// ancestry returns dir and each of its parents, topmost last, stopping at
// the filesystem root.
func ancestry(dir string) []string {
	out := []string{dir}
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return out
		}
		out = append(out, parent)
		dir = parent
	}
}
