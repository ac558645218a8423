// Package probe implements the process, activity, disk, and handle
// probes. The process probe retains the previous tick's jiffy counts
// across calls so a 2-second polling loop can compute a CPU delta from
// consecutive ticks instead of blocking on an internal sleep.
package probe

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mcp-tool-shop/guardian/internal/model"
	"github.com/mcp-tool-shop/guardian/internal/observer"
)

const clockTicksPerSecond = 100

// ProcessProbe enumerates /proc for processes whose comm begins with a
// configured prefix, producing a CPU-delta-based ProcessSample per
// matching pid on every call after the first.
type ProcessProbe struct {
	procRoot   string
	namePrefix string
	tracker    *observer.PIDTracker

	prev     map[int]procStat
	prevTime time.Time
}

// NewProcessProbe builds a ProcessProbe rooted at procRoot (normally
// "/proc"), matching process names with the given prefix.
func NewProcessProbe(procRoot, namePrefix string, tracker *observer.PIDTracker) *ProcessProbe {
	return &ProcessProbe{procRoot: procRoot, namePrefix: namePrefix, tracker: tracker}
}

type procStat struct {
	comm      string
	utime     uint64
	stime     uint64
	rss       int64
	starttime uint64
}

// Sample returns the current ProcessSample set. CPU% is computed
// against the previous call's jiffy counts; on the first call for a
// pid, CPU% is zero.
func (p *ProcessProbe) Sample(now time.Time) []model.ProcessSample {
	current := p.readAll()
	bootUptime := p.readUptimeSeconds()

	elapsed := now.Sub(p.prevTime).Seconds()
	if p.prevTime.IsZero() || elapsed <= 0 {
		elapsed = 0
	}

	samples := make([]model.ProcessSample, 0, len(current))
	for pid, cur := range current {
		if p.tracker != nil && p.tracker.IsOwnPID(pid) {
			continue
		}
		if !strings.HasPrefix(cur.comm, p.namePrefix) {
			continue
		}

		cpuPct := 0.0
		if prior, ok := p.prev[pid]; ok && elapsed > 0 {
			delta := float64((cur.utime + cur.stime) - (prior.utime + prior.stime))
			cpuPct = delta / clockTicksPerSecond / elapsed * 100
		}

		uptime := int64(0)
		if bootUptime > 0 {
			uptime = int64(bootUptime - float64(cur.starttime)/clockTicksPerSecond)
			if uptime < 0 {
				uptime = 0
			}
		}

		samples = append(samples, model.ProcessSample{
			PID:           pid,
			Name:          cur.comm,
			CPUPercent:    cpuPct,
			MemoryMB:      float64(cur.rss*4096) / (1024 * 1024),
			UptimeSeconds: uptime,
		})
	}

	p.prev = current
	p.prevTime = now
	return samples
}

func (p *ProcessProbe) readAll() map[int]procStat {
	entries, err := os.ReadDir(p.procRoot)
	if err != nil {
		return nil
	}
	result := make(map[int]procStat)
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		ps, err := p.readOne(pid)
		if err != nil {
			continue
		}
		result[pid] = ps
	}
	return result
}

func (p *ProcessProbe) readOne(pid int) (procStat, error) {
	pidPath := filepath.Join(p.procRoot, strconv.Itoa(pid))

	statData, err := os.ReadFile(filepath.Join(pidPath, "stat"))
	if err != nil {
		return procStat{}, err
	}

	statStr := string(statData)
	commStart := strings.Index(statStr, "(")
	commEnd := strings.LastIndex(statStr, ")")
	if commStart < 0 || commEnd < 0 {
		return procStat{}, fmt.Errorf("malformed stat for pid %d", pid)
	}

	ps := procStat{comm: statStr[commStart+1 : commEnd]}
	rest := strings.Fields(statStr[commEnd+2:])
	// rest[0]=state, rest[11]=utime, rest[12]=stime, rest[19]=starttime, rest[21]=rss
	if len(rest) > 12 {
		ps.utime, _ = strconv.ParseUint(rest[11], 10, 64)
		ps.stime, _ = strconv.ParseUint(rest[12], 10, 64)
	}
	if len(rest) > 19 {
		ps.starttime, _ = strconv.ParseUint(rest[19], 10, 64)
	}
	if len(rest) > 21 {
		ps.rss, _ = strconv.ParseInt(rest[21], 10, 64)
	}
	return ps, nil
}

func (p *ProcessProbe) readUptimeSeconds() float64 {
	data, err := os.ReadFile(filepath.Join(p.procRoot, "uptime"))
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	v, _ := strconv.ParseFloat(fields[0], 64)
	return v
}
