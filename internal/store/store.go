// Package store holds the guardian's on-disk records:
// two JSON records (state, budget) written atomically by
// write-sibling-then-rename, and two append-only JSON-lines logs
// (journal, incidents). A present-but-unparseable record is backed up
// rather than treated as fatal — the next poll repopulates it.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-tool-shop/guardian/internal/guarderr"
	"github.com/mcp-tool-shop/guardian/internal/model"
)

const (
	stateFile     = "state.json"
	budgetFile    = "budget.json"
	journalFile   = "journal.jsonl"
	incidentsFile = "incidents.jsonl"

	journalRotateBytes = 10 * 1024 * 1024
)

// Store wraps a fixed data directory with atomic read/write helpers.
type Store struct {
	dir string
	log *zap.SugaredLogger
}

// New builds a Store rooted at dir, creating it if necessary.
func New(dir string, log *zap.SugaredLogger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, guarderr.Wrap(guarderr.Unknown, "create data directory", "check filesystem permissions", err)
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// ReadState loads state.json, returning the zero value (not an error)
// if the file is missing. A corrupt file is backed up and logged once.
func (s *Store) ReadState() (model.GuardianState, error) {
	var state model.GuardianState
	err := s.readJSON(stateFile, guarderr.StateCorrupt, &state)
	return state, err
}

// WriteState atomically writes state.json.
func (s *Store) WriteState(state model.GuardianState) error {
	return s.writeJSON(stateFile, state, guarderr.StateWriteFailed)
}

// ReadBudget loads budget.json, returning the zero value if missing.
func (s *Store) ReadBudget() (model.Budget, error) {
	var budget model.Budget
	err := s.readJSON(budgetFile, guarderr.BudgetCorrupt, &budget)
	return budget, err
}

// WriteBudget atomically writes budget.json.
func (s *Store) WriteBudget(budget model.Budget) error {
	return s.writeJSON(budgetFile, budget, guarderr.BudgetWriteFailed)
}

// AppendJournal appends one line to journal.jsonl, rotating the file
// to journal.jsonl.old once it exceeds journalRotateBytes.
func (s *Store) AppendJournal(entry model.JournalEntry) error {
	return s.appendLine(journalFile, entry)
}

// AppendIncident appends one closed incident to incidents.jsonl.
func (s *Store) AppendIncident(inc model.Incident) error {
	return s.appendLine(incidentsFile, inc)
}

// ReadIncidents loads the closed-incident log in append order. Missing
// file yields an empty slice; an unparseable line is skipped rather
// than poisoning the whole history.
func (s *Store) ReadIncidents() ([]model.Incident, error) {
	data, err := os.ReadFile(s.path(incidentsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, guarderr.Wrap(guarderr.Unknown, "read incidents log", "check filesystem permissions", err)
	}

	var incidents []model.Incident
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var inc model.Incident
		if uerr := json.Unmarshal([]byte(line), &inc); uerr != nil {
			continue
		}
		incidents = append(incidents, inc)
	}
	return incidents, nil
}

// readJSON loads and decodes name into out. Missing is not an error.
// Unparseable content is backed up to name.corrupt.<epoch> and logged
// once; out is left at its zero value.
func (s *Store) readJSON(name string, code guarderr.Code, out interface{}) error {
	p := s.path(name)
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return guarderr.Wrap(code, fmt.Sprintf("read %s", name), "check filesystem permissions", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		// A type mismatch leaves out partly decoded; reset it.
		if v := reflect.ValueOf(out); v.Kind() == reflect.Pointer && !v.IsNil() {
			v.Elem().Set(reflect.Zero(v.Elem().Type()))
		}
		backup := fmt.Sprintf("%s.corrupt.%d", p, time.Now().Unix())
		if werr := os.WriteFile(backup, data, 0o644); werr != nil && s.log != nil {
			s.log.Warnw("failed to back up corrupt file", "file", name, "error", werr)
		}
		if s.log != nil {
			s.log.Warnw("discarding unparseable persisted record, restarting from defaults", "file", name, "backup", backup)
		}
		return nil
	}
	return nil
}

// writeJSON atomically replaces name with the JSON encoding of v.
func (s *Store) writeJSON(name string, v interface{}, code guarderr.Code) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return guarderr.Wrap(code, fmt.Sprintf("encode %s", name), "this is a bug, file a report", err)
	}

	p := s.path(name)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return guarderr.Wrap(code, fmt.Sprintf("write %s", name), "check filesystem permissions", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return guarderr.Wrap(code, fmt.Sprintf("rename into place %s", name), "check filesystem permissions", err)
	}
	return nil
}

// appendLine appends one JSON-encoded line to name, rotating to
// name.old once the file grows past journalRotateBytes.
func (s *Store) appendLine(name string, v interface{}) error {
	p := s.path(name)
	if info, err := os.Stat(p); err == nil && info.Size() > journalRotateBytes {
		_ = os.Rename(p, p+".old")
	}

	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return guarderr.Wrap(guarderr.Unknown, fmt.Sprintf("open %s", name), "check filesystem permissions", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return guarderr.Wrap(guarderr.Unknown, fmt.Sprintf("append %s", name), "check filesystem permissions", err)
	}
	return nil
}
