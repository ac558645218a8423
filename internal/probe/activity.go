package probe

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mcp-tool-shop/guardian/internal/model"
)

// maxWalkedFiles bounds the shallow log-tree walk to roughly the most
// recently listed files; the walk stops once this many are seen.
const maxWalkedFiles = 200

// ActivityProbe walks a log tree for the most recent modification
// time and composes that with CPU activity observed in the same tick.
type ActivityProbe struct {
	logRoot string
}

// NewActivityProbe builds an ActivityProbe rooted at logRoot.
func NewActivityProbe(logRoot string) *ActivityProbe {
	return &ActivityProbe{logRoot: logRoot}
}

// Sample returns the activity signals for one tick, given this tick's
// process samples (used to derive cpuActive) and the configured
// cpu-low threshold.
func (a *ActivityProbe) Sample(now time.Time, processes []model.ProcessSample, cpuLowThreshold float64) model.ActivitySignals {
	mtimeSecondsAgo := a.mostRecentMtimeSecondsAgo(now)

	cpuActive := false
	for _, p := range processes {
		if p.CPUPercent > cpuLowThreshold {
			cpuActive = true
			break
		}
	}

	sources := []string{}
	if mtimeSecondsAgo >= 0 {
		sources = append(sources, "log-mtime")
	}
	if cpuActive {
		sources = append(sources, "cpu")
	}

	return model.ActivitySignals{
		LogLastModifiedSecondsAgo: mtimeSecondsAgo,
		CPUActive:                 cpuActive,
		Sources:                   sources,
	}
}

type mtimeEntry struct {
	path  string
	mtime time.Time
}

// mostRecentMtimeSecondsAgo walks logRoot shallowly (bounded to
// maxWalkedFiles entries) and returns seconds since the newest mtime
// found, or -1 if the tree is missing or empty.
func (a *ActivityProbe) mostRecentMtimeSecondsAgo(now time.Time) int64 {
	entries := a.collect()
	if len(entries) == 0 {
		return -1
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime.After(entries[j].mtime) })
	newest := entries[0].mtime
	secondsAgo := int64(now.Sub(newest).Seconds())
	if secondsAgo < 0 {
		secondsAgo = 0
	}
	return secondsAgo
}

// TreeSizeMB returns the total size of every file under the log tree
// in MB, or 0 if the tree is missing. Unlike the mtime walk this one is
// unbounded: size accounting has to see everything to be meaningful.
func (a *ActivityProbe) TreeSizeMB() float64 {
	var total int64
	_ = filepath.WalkDir(a.logRoot, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, ierr := d.Info(); ierr == nil {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / (1024 * 1024)
}

func (a *ActivityProbe) collect() []mtimeEntry {
	var entries []mtimeEntry
	_ = filepath.WalkDir(a.logRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if len(entries) >= maxWalkedFiles {
			return filepath.SkipAll
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, mtimeEntry{path: path, mtime: info.ModTime()})
		return nil
	})
	return entries
}
