package probe

// Capability reports whether one probe is fully functional on this
// host, and if not, why. A degraded probe is reported, not silently
// omitted.
type Capability struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// Capabilities returns the availability of every probe for the status
// surface. The disk and handle probes are the only two that can be
// degraded by platform; the process and activity probes degrade
// per-call instead (empty samples, -1 mtime).
func Capabilities(disk *DiskProbe, handles *HandleProbe) []Capability {
	caps := []Capability{
		{Name: "process", Available: true},
		{Name: "activity", Available: true},
	}

	diskCap := Capability{Name: "disk", Available: true}
	if disk.FreeGB() < 0 {
		diskCap.Available = false
		diskCap.Reason = "free-space query unsupported or failing on this platform"
	}
	caps = append(caps, diskCap)

	handleCap := Capability{Name: "handles", Available: true}
	if ok, reason := handles.Available(); !ok {
		handleCap.Available = false
		handleCap.Reason = reason
	}
	caps = append(caps, handleCap)

	return caps
}
