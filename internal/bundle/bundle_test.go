package bundle

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mcp-tool-shop/guardian/internal/model"
)

func TestCaptureProducesArchiveWithCoreEntries(t *testing.T) {
	dataDir := t.TempDir()
	logRoot := t.TempDir()

	if err := os.WriteFile(filepath.Join(dataDir, "journal.jsonl"), []byte(`{"action":"x"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(logRoot, "session.jsonl"), []byte("a\nb\nc\nd\ne\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := New(Options{DataDir: dataDir, LogRoot: logRoot, TailLines: 3})
	state := model.GuardianState{
		HangRisk:   model.HangRisk{Level: model.RiskCritical},
		DiskFreeGB: 42,
		ActiveIncident: &model.Incident{
			ID: "abcd1234", StartedAt: time.Now(), PeakLevel: model.RiskCritical,
		},
	}

	path, summary, err := w.Capture(state, time.Now())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "bundle-") || !strings.HasSuffix(path, ".zip") {
		t.Fatalf("unexpected bundle path %q", path)
	}
	if summary == "" {
		t.Fatalf("expected a non-empty summary")
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()

	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"system-info.txt", "processes.json", "state.json", "journal.jsonl", "logs/session.jsonl.tail"} {
		if !names[want] {
			t.Fatalf("archive missing %q, has %v", want, names)
		}
	}
}

func TestCaptureTailsOnlyTrailingLines(t *testing.T) {
	dataDir := t.TempDir()
	logRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(logRoot, "big.jsonl"), []byte("1\n2\n3\n4\n5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := New(Options{DataDir: dataDir, LogRoot: logRoot, TailLines: 2})
	path, _, err := w.Capture(model.GuardianState{}, time.Now())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "logs/big.jsonl.tail" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "4\n5\n" {
			t.Fatalf("expected the last 2 lines, got %q", data)
		}
		return
	}
	t.Fatalf("tail entry not found in archive")
}

func TestCaptureHonorsOutputPathOverride(t *testing.T) {
	dataDir := t.TempDir()
	out := filepath.Join(t.TempDir(), "evidence.zip")

	w := New(Options{DataDir: dataDir, LogRoot: t.TempDir(), TailLines: 5, OutputPath: out})
	path, _, err := w.Capture(model.GuardianState{}, time.Now())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if path != out {
		t.Fatalf("expected %q, got %q", out, path)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("archive not written: %v", err)
	}
}

func TestCaptureSkipsCompressedLogs(t *testing.T) {
	dataDir := t.TempDir()
	logRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(logRoot, "old.jsonl.gz"), []byte{0x1f, 0x8b}, 0o644); err != nil {
		t.Fatal(err)
	}

	w := New(Options{DataDir: dataDir, LogRoot: logRoot, TailLines: 5})
	path, _, err := w.Capture(model.GuardianState{}, time.Now())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "logs/") {
			t.Fatalf("gz files must not be tailed, found %q", f.Name)
		}
	}
}
