// Package dotenv seeds the process environment from KEY=VALUE files so local
// runs can keep provider keys out of the shell.
package dotenv

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Load reads each path in order. Missing files are skipped. A key already in
// the environment, or set by an earlier file, is never overwritten. It returns
// how many keys were set.
func Load(paths ...string) (int, error) {
	total := 0
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		n, err := loadFile(path)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func loadFile(path string) (int, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open env file %q: %w", path, err)
	}
	defer file.Close()

	set := 0
	scanner := bufio.NewScanner(file)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		key, val, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return set, fmt.Errorf("%s:%d: set %q: %w", path, lineNo, key, err)
		}
		set++
	}
	if err := scanner.Err(); err != nil {
		return set, fmt.Errorf("scan env file %q: %w", path, err)
	}
	return set, nil
}

func parseLine(line string) (key, val string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")
	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}

	val = strings.TrimSpace(val)
	switch {
	case len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"':
		val = val[1 : len(val)-1]
	case len(val) >= 2 && val[0] == '\'' && val[len(val)-1] == '\'':
		val = val[1 : len(val)-1]
	default:
		// Unquoted values may carry a trailing comment.
		if i := strings.Index(val, " #"); i >= 0 {
			val = strings.TrimSpace(val[:i])
		}
	}
	return key, val, true
}
