// Package bundle packages diagnostic evidence into a single archive:
// a system-info summary, the current process snapshot, tails of the
// most recent log files, the action journal, and the persisted state
// record. The archive is suitable for attaching to a bug report. It
// reads but never mutates the watched tree.
package bundle

import (
	"archive/zip"
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/mcp-tool-shop/guardian/internal/guarderr"
	"github.com/mcp-tool-shop/guardian/internal/model"
)

// maxTailedLogs bounds how many log files contribute tails to one
// bundle — the most recently modified ones win.
const maxTailedLogs = 10

// Options configures one bundle capture.
type Options struct {
	DataDir    string // where state.json / journal.jsonl live and where the archive lands
	LogRoot    string // watched log tree to tail
	TailLines  int
	OutputPath string // optional override; default DataDir/bundle-<timestamp>.zip
}

// Writer captures bundles. A zero Writer is not usable; build one with
// New.
type Writer struct {
	opts Options
}

// New builds a Writer.
func New(opts Options) *Writer {
	return &Writer{opts: opts}
}

// Capture writes one archive and returns its path and a short summary
// of what it contains.
func (w *Writer) Capture(state model.GuardianState, now time.Time) (string, string, error) {
	outPath := w.opts.OutputPath
	if outPath == "" {
		outPath = filepath.Join(w.opts.DataDir, fmt.Sprintf("bundle-%s.zip", now.UTC().Format("20060102-150405")))
	}

	tmp := outPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", "", guarderr.Wrap(guarderr.BundleFailed, "create bundle archive", "check free space and permissions on the data directory", err)
	}

	zw := zip.NewWriter(f)
	var parts []string

	add := func(name string, write func(io.Writer) error) {
		entry, zerr := zw.Create(name)
		if zerr != nil {
			return
		}
		if werr := write(entry); werr == nil {
			parts = append(parts, name)
		}
	}

	add("system-info.txt", func(out io.Writer) error {
		return writeSystemInfo(out, state, now)
	})
	add("processes.json", func(out io.Writer) error {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(state.Processes)
	})
	add("state.json", func(out io.Writer) error {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	})

	if journal, jerr := os.Open(filepath.Join(w.opts.DataDir, "journal.jsonl")); jerr == nil {
		add("journal.jsonl", func(out io.Writer) error {
			_, cerr := io.Copy(out, journal)
			return cerr
		})
		journal.Close()
	}

	for _, logPath := range w.recentLogs() {
		logPath := logPath
		name := "logs/" + filepath.Base(logPath) + ".tail"
		add(name, func(out io.Writer) error {
			return writeTail(out, logPath, w.opts.TailLines)
		})
	}

	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", "", guarderr.Wrap(guarderr.BundleFailed, "finalize bundle archive", "check free space on the data directory", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", "", guarderr.Wrap(guarderr.BundleFailed, "close bundle archive", "check free space on the data directory", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		os.Remove(tmp)
		return "", "", guarderr.Wrap(guarderr.BundleFailed, "rename bundle into place", "check permissions on the data directory", err)
	}

	summary := fmt.Sprintf("%d entries: %s", len(parts), strings.Join(parts, ", "))
	return outPath, summary, nil
}

// recentLogs returns up to maxTailedLogs plain-text log files under the
// watched tree, newest mtime first. Compressed files are skipped — a
// tail of gzip bytes is useless in a bug report.
func (w *Writer) recentLogs() []string {
	type candidate struct {
		path  string
		mtime time.Time
	}
	var found []candidate
	_ = filepath.WalkDir(w.opts.LogRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".gz") {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		found = append(found, candidate{path: path, mtime: info.ModTime()})
		return nil
	})

	sort.Slice(found, func(i, j int) bool { return found[i].mtime.After(found[j].mtime) })
	if len(found) > maxTailedLogs {
		found = found[:maxTailedLogs]
	}
	paths := make([]string, len(found))
	for i, c := range found {
		paths[i] = c.path
	}
	return paths
}

func writeSystemInfo(out io.Writer, state model.GuardianState, now time.Time) error {
	hostname, _ := os.Hostname()
	lines := []string{
		fmt.Sprintf("captured-at: %s", now.UTC().Format(time.RFC3339)),
		fmt.Sprintf("hostname: %s", hostname),
		fmt.Sprintf("os: %s/%s", runtime.GOOS, runtime.GOARCH),
		fmt.Sprintf("cpus: %d", runtime.NumCPU()),
		fmt.Sprintf("hang-risk: %s", state.HangRisk.Level),
		fmt.Sprintf("disk-free-gb: %.1f", state.DiskFreeGB),
		fmt.Sprintf("log-tree-size-mb: %.1f", state.LogTreeSizeMB),
		fmt.Sprintf("watched-processes: %d", len(state.Processes)),
	}
	if state.ActiveIncident != nil {
		lines = append(lines,
			fmt.Sprintf("incident: %s (peak %s, since %s)",
				state.ActiveIncident.ID, state.ActiveIncident.PeakLevel,
				state.ActiveIncident.StartedAt.UTC().Format(time.RFC3339)))
	}
	_, err := io.WriteString(out, strings.Join(lines, "\n")+"\n")
	return err
}

// writeTail copies the last n lines of path into out.
func writeTail(out io.Writer, path string, n int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	lines := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	return w.Flush()
}
