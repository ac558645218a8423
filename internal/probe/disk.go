//go:build linux || darwin

package probe

import (
	"golang.org/x/sys/unix"
)

// DiskProbe reports free space on the filesystem backing a path.
type DiskProbe struct {
	path string
}

// NewDiskProbe builds a DiskProbe that reports free space for path.
func NewDiskProbe(path string) *DiskProbe {
	return &DiskProbe{path: path}
}

// FreeGB returns free space in GB, or -1 if the statfs call fails —
// the detector treats -1 as "unknown" and never calls it low.
func (d *DiskProbe) FreeGB() float64 {
	var st unix.Statfs_t
	if err := unix.Statfs(d.path, &st); err != nil {
		return -1
	}
	return float64(st.Bavail) * float64(st.Bsize) / (1024 * 1024 * 1024)
}
