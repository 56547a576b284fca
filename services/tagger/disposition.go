package tagger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
)

// StampLayout formats the per-run stamp embedded in output file names.
const StampLayout = "20060102-150405"

// Disposition records where a processed tag file ended up.
type Disposition struct {
	RenamedPath string
	MissingPath string
}

// MissingPath is <path>.<stamp>.missing.
func MissingPath(path, stamp string) string {
	return fmt.Sprintf("%s.%s.missing", path, stamp)
}

// OutcomePath is <path>.<stamp>.success or <path>.<stamp>.failed.
func OutcomePath(path, stamp string, success bool) string {
	suffix := "failed"
	if success {
		suffix = "success"
	}
	return fmt.Sprintf("%s.%s.%s", path, stamp, suffix)
}

// Dispose writes the missing ids next to the tag file, one per CRLF-terminated
// line, and renames the file to record its outcome. The rename is attempted
// even when the missing file cannot be written; MissingPath is set only when
// that file was written.
func Dispose(path, stamp string, success bool, missing []string) (Disposition, error) {
	var d Disposition
	var missingErr error
	if len(missing) > 0 {
		target := MissingPath(path, stamp)
		if missingErr = writeMissing(target, missing); missingErr == nil {
			d.MissingPath = target
		}
	}

	target := OutcomePath(path, stamp, success)
	if err := os.Rename(path, target); err != nil {
		return d, errors.Join(missingErr, fmt.Errorf("rename tag file: %w", err))
	}
	d.RenamedPath = target
	return d, missingErr
}

func writeMissing(path string, ids []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create missing file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, id := range ids {
		if _, err := w.WriteString(id + "\r\n"); err != nil {
			f.Close()
			return fmt.Errorf("write missing file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write missing file: %w", err)
	}
	return f.Close()
}
