// Package guardconfig holds the guardian's threshold table and the
// small set of user-facing knobs that can override it from an optional
// YAML file. All fields have defaults; a missing or absent knob file is
// not an error.
package guardconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcp-tool-shop/guardian/internal/guarderr"
)

// Config is the full set of tunables every guardian subsystem reads
// from. Durations are fixed time.Duration values; the YAML file cannot
// set them. The one second-valued knob, hang-no-activity-seconds, is
// kept as an int and converted by HangThreshold.
type Config struct {
	PollInterval        time.Duration
	DiskFreeWarningGB   float64
	MaxFileSizeMB       int64
	RetainDays          int
	TailLines           int
	CPULowThreshold     float64
	CPUHotThreshold     float64
	MemoryHighThreshold float64
	GraceWindow         time.Duration
	CriticalAfter       time.Duration
	BundleCooldown      time.Duration
	Hysteresis          time.Duration
	BaseCap             int
	WarnCap             int
	CriticalCap         int
	StateStaleness      time.Duration

	// User-facing knobs, overridable from the YAML file via Load.
	MaxLogDirMB        int
	HangNoActivitySecs int
	AutoRestart        bool

	DataDir            string
	WatchedProjectsDir string
}

// Defaults returns the hardcoded threshold table with default knob
// values. dataDir and watchedDir are resolved by the caller (typically
// under the user's home directory) since guardconfig has no opinion on
// platform-specific paths.
func Defaults(dataDir, watchedDir string) Config {
	return Config{
		PollInterval:        2000 * time.Millisecond,
		DiskFreeWarningGB:   5,
		MaxFileSizeMB:       25,
		RetainDays:          7,
		TailLines:           500,
		CPULowThreshold:     5,
		CPUHotThreshold:     95,
		MemoryHighThreshold: 4096,
		GraceWindow:         60 * time.Second,
		CriticalAfter:       600 * time.Second,
		BundleCooldown:      300 * time.Second,
		Hysteresis:          60 * time.Second,
		BaseCap:             4,
		WarnCap:             2,
		CriticalCap:         1,
		StateStaleness:      10 * time.Second,

		MaxLogDirMB:        200,
		HangNoActivitySecs: 300,
		AutoRestart:        false,

		DataDir:            dataDir,
		WatchedProjectsDir: watchedDir,
	}
}

// knobs mirrors the subset of Config that may legally appear in the
// optional YAML file. Unmarshaling into this narrower type means an
// operator cannot override a hardcoded threshold by editing the file.
type knobs struct {
	MaxLogDirMB        *int  `yaml:"max-log-dir-MB"`
	HangNoActivitySecs *int  `yaml:"hang-no-activity-seconds"`
	AutoRestart        *bool `yaml:"auto-restart"`
}

// Load reads optional user-facing knobs from path and applies them on
// top of Defaults. A missing file is not an error — defaults apply
// unchanged. A present-but-unparseable file is reported as a
// guarderr.Error so the caller can log-and-continue rather than fail
// the whole daemon over one bad knob file.
func Load(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return base, guarderr.Wrap(guarderr.Unknown, "read config file", "check file permissions", err)
	}

	var k knobs
	if err := yaml.Unmarshal(data, &k); err != nil {
		return base, guarderr.Wrap(guarderr.Unknown, fmt.Sprintf("parse config file %q", path),
			"fix the YAML syntax or delete the file to fall back to defaults", err)
	}

	if k.MaxLogDirMB != nil {
		base.MaxLogDirMB = *k.MaxLogDirMB
	}
	if k.HangNoActivitySecs != nil {
		base.HangNoActivitySecs = *k.HangNoActivitySecs
	}
	if k.AutoRestart != nil {
		base.AutoRestart = *k.AutoRestart
	}
	return base, nil
}

// HangThreshold is the configured no-activity window used by the
// hang-risk detector, expressed as a duration.
func (c Config) HangThreshold() time.Duration {
	return time.Duration(c.HangNoActivitySecs) * time.Second
}
