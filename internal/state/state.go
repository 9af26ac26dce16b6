// Package state persists per-artifact outcomes across runs so a repaired
// file is not re-processed unless it changed on disk or --force is given.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status constants for persistent artifact state.
const (
	StatusRepaired    = "repaired"
	StatusIncomplete  = "incomplete"
	StatusFailed      = "failed"
	StatusInProgress  = "in_progress"
	StatusInterrupted = "interrupted"
)

// Entry represents the persistent state of a single artifact across runs.
type Entry struct {
	Status     string    `json:"status"`
	Hash       string    `json:"hash,omitempty"` // content hash at completion time
	StartedAt  time.Time `json:"started,omitempty"`
	FinishedAt time.Time `json:"finished,omitempty"`
	Iterations int       `json:"iterations,omitempty"`
	Error      string    `json:"error,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
}

type stateFile struct {
	Artifacts map[string]*Entry `json:"artifacts"`
}

// Tracker provides persistent artifact state tracking across runs.
// Thread-safe with sync.RWMutex. Writes are atomic (tmp → rename).
type Tracker struct {
	mu        sync.RWMutex
	artifacts map[string]*Entry
	path      string
}

// DefaultPath returns the default state file path.
func DefaultPath() string {
	return filepath.Join(".fixforge", "state.json")
}

// Load reads the state file from disk. Returns an empty tracker if the file
// does not exist or is corrupt.
func Load(path string) *Tracker {
	t := &Tracker{
		artifacts: make(map[string]*Entry),
		path:      path,
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return t
	}
	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return t
	}
	if sf.Artifacts != nil {
		t.artifacts = sf.Artifacts
	}
	return t
}

// HashFile returns the content hash used to detect artifact changes.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ShouldSkip reports whether the artifact was already repaired at its
// current content. A changed file always re-runs.
func (t *Tracker) ShouldSkip(path, hash string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.artifacts[path]
	if !ok {
		return false
	}
	return e.Status == StatusRepaired && e.Hash == hash
}

// RecoverInterrupted marks any stale in_progress artifacts as interrupted.
// Returns the number of artifacts recovered.
func (t *Tracker) RecoverInterrupted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, e := range t.artifacts {
		if e.Status == StatusInProgress {
			e.Status = StatusInterrupted
			e.FinishedAt = time.Now()
			e.Error = "interrupted: process killed before completion"
			count++
		}
	}
	if count > 0 {
		_ = t.saveLocked()
	}
	return count
}

// MarkStarted records an artifact as in_progress.
func (t *Tracker) MarkStarted(path, runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.artifacts[path] = &Entry{
		Status:    StatusInProgress,
		StartedAt: time.Now(),
		RunID:     runID,
	}
	_ = t.saveLocked()
}

// MarkRepaired records an artifact as successfully repaired, with the
// content hash of the repaired file.
func (t *Tracker) MarkRepaired(path, hash string, iterations int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.ensureLocked(path)
	e.Status = StatusRepaired
	e.FinishedAt = time.Now()
	e.Hash = hash
	e.Iterations = iterations
	e.Error = ""
	_ = t.saveLocked()
}

// MarkIncomplete records an artifact that exhausted its iteration budget.
func (t *Tracker) MarkIncomplete(path string, iterations int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.ensureLocked(path)
	e.Status = StatusIncomplete
	e.FinishedAt = time.Now()
	e.Iterations = iterations
	_ = t.saveLocked()
}

// MarkFailed records an artifact whose run ended fatally.
func (t *Tracker) MarkFailed(path, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.ensureLocked(path)
	e.Status = StatusFailed
	e.FinishedAt = time.Now()
	e.Error = errMsg
	_ = t.saveLocked()
}

func (t *Tracker) ensureLocked(path string) *Entry {
	e := t.artifacts[path]
	if e == nil {
		e = &Entry{StartedAt: time.Now()}
		t.artifacts[path] = e
	}
	return e
}

// Get returns a copy of the entry for the given artifact, or nil if not tracked.
func (t *Tracker) Get(path string) *Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.artifacts[path]; ok {
		cpy := *e
		return &cpy
	}
	return nil
}

// Entries returns a copy of all tracked artifacts.
func (t *Tracker) Entries() map[string]*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make(map[string]*Entry, len(t.artifacts))
	for k, v := range t.artifacts {
		cpy := *v
		result[k] = &cpy
	}
	return result
}

// Count returns the number of tracked artifacts.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.artifacts)
}

// Reset removes a single artifact entry, forcing re-execution.
func (t *Tracker) Reset(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.artifacts, path)
	_ = t.saveLocked()
}

// Clear removes all state and deletes the state file.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.artifacts = make(map[string]*Entry)
	_ = os.Remove(t.path)
}

func (t *Tracker) saveLocked() error {
	sf := stateFile{Artifacts: t.artifacts}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, t.path)
}
