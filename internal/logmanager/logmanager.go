// Package logmanager scans the watched project tree, compresses files
// older than a retention window, truncates oversized text files to
// their trailing N lines, and deletes stale session records by name
// pattern. It never deletes user content: rotation is compression,
// trimming preserves the tail.
package logmanager

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// sessionArtifact matches the uuid-named files and directories the
// watched tree is built from: <uuid>.jsonl, <uuid>.jsonl.gz, and
// bare <uuid> directories, using the canonical 8-4-4-4-12 hex pattern.
var sessionArtifact = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}(\.jsonl(\.gz)?)?$`)

// protectedNames are never touched by any operation in this package,
// regardless of how old or large they are.
var protectedNames = map[string]bool{
	"memory":              true,
	"sessions-index.json": true,
}

// Options configures one scan/fix pass. Aggressive halves both
// RetainDays and MaxFileSizeMB.
type Options struct {
	Root           string
	RetainDays     int
	MaxFileSizeMB  int64
	TailLines      int
	StaleAfterDays int
	Aggressive     bool
}

// effective applies the aggressive multiplier.
func (o Options) effective() Options {
	if !o.Aggressive {
		return o
	}
	o.RetainDays = max(1, o.RetainDays/2)
	o.MaxFileSizeMB = max(1, o.MaxFileSizeMB/2)
	return o
}

// Result reports what one Scan (read-only) or Fix (mutating) pass did.
type Result struct {
	ScannedFiles    int
	CompressedFiles []string
	TruncatedFiles  []string
	DeletedStale    []string
	BytesBefore     int64
	BytesAfter      int64
}

// Scan walks the tree read-only and reports what Fix would do,
// without mutating anything. Used by the preflight_fix tool's
// before-banner.
func Scan(opts Options) (Result, error) {
	return walk(opts.effective(), false)
}

// Fix performs the scan and applies compression, truncation, and stale
// deletion. Used by preflight_fix's after-banner and by nudge.
func Fix(opts Options) (Result, error) {
	return walk(opts.effective(), true)
}

func walk(opts Options, mutate bool) (Result, error) {
	var res Result
	staleCutoff := time.Now().AddDate(0, 0, -opts.StaleAfterDays)
	retainCutoff := time.Now().AddDate(0, 0, -opts.RetainDays)
	maxBytes := opts.MaxFileSizeMB * 1024 * 1024

	err := filepath.WalkDir(opts.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable entries
		}
		name := d.Name()
		if protectedNames[name] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == opts.Root {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}

		if d.IsDir() {
			if sessionArtifact.MatchString(name) && info.ModTime().Before(staleCutoff) {
				sz := dirSize(path)
				res.BytesBefore += sz
				if mutate {
					if rerr := os.RemoveAll(path); rerr == nil {
						res.DeletedStale = append(res.DeletedStale, path)
					}
				} else {
					res.DeletedStale = append(res.DeletedStale, path)
				}
				return filepath.SkipDir
			}
			return nil
		}

		if !sessionArtifact.MatchString(name) {
			return nil
		}
		res.ScannedFiles++
		res.BytesBefore += info.Size()

		if info.ModTime().Before(staleCutoff) {
			if mutate {
				if rerr := os.Remove(path); rerr == nil {
					res.DeletedStale = append(res.DeletedStale, path)
					return nil
				}
			} else {
				res.DeletedStale = append(res.DeletedStale, path)
				return nil
			}
		}

		if strings.HasSuffix(name, ".gz") {
			res.BytesAfter += info.Size()
			return nil
		}

		if info.Size() > maxBytes {
			if mutate {
				if terr := truncateToTail(path, opts.TailLines); terr == nil {
					res.TruncatedFiles = append(res.TruncatedFiles, path)
				}
			} else {
				res.TruncatedFiles = append(res.TruncatedFiles, path)
			}
		}

		if info.ModTime().Before(retainCutoff) {
			if mutate {
				if cerr := compressInPlace(path); cerr == nil {
					res.CompressedFiles = append(res.CompressedFiles, path+".gz")
				}
			} else {
				res.CompressedFiles = append(res.CompressedFiles, path+".gz")
			}
		}

		if newInfo, serr := os.Stat(path); serr == nil {
			res.BytesAfter += newInfo.Size()
		} else if gzInfo, gerr := os.Stat(path + ".gz"); gerr == nil {
			res.BytesAfter += gzInfo.Size()
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("walk %s: %w", opts.Root, err)
	}
	return res, nil
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, ierr := d.Info(); ierr == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// truncateToTail rewrites path in place so that it contains only its
// last n lines. Never deletes the file — an empty tail still leaves a
// zero-byte file, not a missing one.
func truncateToTail(path string, n int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	lines := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return err
	}

	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// compressInPlace gzips path to path+".gz" and removes the original
// only after the compressed copy is fully written — rotation is
// compression, not deletion, and a failed gzip never loses the
// original.
func compressInPlace(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := path + ".gz.tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path+".gz"); err != nil {
		return err
	}
	return os.Remove(path)
}
