package fetch

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var (
	// ErrTooLarge is returned when a resource exceeds Config.MaxBytes.
	ErrTooLarge = errors.New("fetch: resource exceeds size limit")
	// ErrOutsideBase is returned when a relative location escapes BaseDir.
	ErrOutsideBase = errors.New("fetch: location escapes base directory")
)

// readLimited reads r fully, failing when it holds more than max bytes.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, max)
	}
	return data, nil
}

// within joins loc onto base. Any ".." element is refused.
func within(base, loc string) (string, error) {
	for _, elem := range strings.Split(filepath.ToSlash(loc), "/") {
		if elem == ".." {
			return "", fmt.Errorf("%w: %s", ErrOutsideBase, loc)
		}
	}
	return filepath.Join(base, filepath.FromSlash(strings.TrimPrefix(loc, "/"))), nil
}
