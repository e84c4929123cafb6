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

// Package appconfig loads the server's plain key = value configuration files
// (config/server.conf and .env) and resolves the project root they live under.
package appconfig

import (
	"bufio"
	"os"
	"strings"

	"github.com/nabbar/chatd/chaterr"
)

// ParseFile reads a line-oriented "key = value" file: '#' starts a
// comment, blank lines are allowed, surrounding whitespace is trimmed,
// values wrapped in matching single or double quotes have the quotes
// stripped, and a duplicate key is a hard error.
func ParseFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, chaterr.New(chaterr.DomainConfig, chaterr.CodeConfigNotFound, path, err)
	}
	defer f.Close()

	out := make(map[string]string)
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, chaterr.Newf(chaterr.DomainConfig, chaterr.CodeConfigMalformedLine, nil,
				"%s:%d: missing '='", path, lineNo)
		}

		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])

		if key == "" {
			return nil, chaterr.Newf(chaterr.DomainConfig, chaterr.CodeConfigEmptyKey, nil,
				"%s:%d: empty key", path, lineNo)
		}

		if _, dup := out[key]; dup {
			return nil, chaterr.Newf(chaterr.DomainConfig, chaterr.CodeConfigDuplicateKey, nil,
				"%s:%d: duplicate key %q", path, lineNo, key)
		}

		out[key] = unquote(val)
	}

	if err := sc.Err(); err != nil {
		return nil, chaterr.New(chaterr.DomainConfig, chaterr.CodeConfigReadFailed, path, err)
	}

	return out, nil
}

func unquote(v string) string {
	if len(v) < 2 {
		return v
	}
	first, last := v[0], v[len(v)-1]
	if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
		return v[1 : len(v)-1]
	}
	return v
}

// RequireKeys checks that every key in required is present in m, returning a
// missing-key configuration error naming the first absent key.
func RequireKeys(m map[string]string, required ...string) error {
	for _, k := range required {
		if _, ok := m[k]; !ok {
			return chaterr.Newf(chaterr.DomainConfig, chaterr.CodeConfigMissingKey, nil, "missing required key %q", k)
		}
	}
	return nil
}
