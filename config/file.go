// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package config

import (
	"bufio"
	"os"
	"strings"
)

// ParseFile reads a simple `key=value` config file, one entry per line;
// blank lines and lines starting with '#' are ignored. There is no
// nesting or typed schema here. The binaries in cmd/ do not read this
// format; they take all their settings from command-line flags.
func ParseFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadInto parses path and replaces store's contents with the result.
func LoadInto(store *Store, path string) error {
	values, err := ParseFile(path)
	if err != nil {
		return err
	}
	store.Replace(values)
	return nil
}
