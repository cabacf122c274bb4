// Package audit appends one JSON line per redacted document. Records carry
// counts, labels and status only; neither original nor redacted text is
// ever written.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"transcript-pii-redactor/internal/pii"
)

// Record is one audit line.
type Record struct {
	Timestamp   time.Time      `json:"timestamp"`
	RunID       string         `json:"run_id"`
	DocumentID  string         `json:"document_id"`
	Status      pii.Status     `json:"status"`
	Policy      string         `json:"policy"`
	EntityCount int            `json:"entity_count"`
	Persons     int            `json:"persons"`
	Labels      map[string]int `json:"labels,omitempty"`
	Residual    int            `json:"residual"`
	Reason      string         `json:"reason,omitempty"`
	Duration    string         `json:"duration"`
}

// NewRunID returns a fresh identifier grouping the records of one run.
func NewRunID() string { return uuid.NewString() }

// NewRecord builds a Record from an engine result. Reason is kept because
// it only ever carries error text, never document content.
func NewRecord(runID, documentID string, policy pii.FailurePolicy, res pii.Result, residual int) Record {
	return Record{
		Timestamp:   time.Now().UTC(),
		RunID:       runID,
		DocumentID:  documentID,
		Status:      res.Status,
		Policy:      policy.String(),
		EntityCount: res.Count,
		Persons:     res.Persons,
		Labels:      res.Labels,
		Residual:    residual,
		Reason:      res.Reason,
		Duration:    res.Duration.String(),
	}
}

// Log is an append-only JSONL file shared safely between processes.
type Log struct {
	path string
	// The file lock is reentrant within a process, so goroutines also
	// serialise on mu.
	mu   sync.Mutex
	lock *flock.Flock
}

// New returns a Log writing to path. The file is created on first write.
func New(path string) *Log {
	return &Log{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Append writes records under an exclusive file lock so concurrent CLI runs
// and the server never interleave lines.
func (l *Log) Append(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := l.lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock audit log: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock audit log: %s is held by another process", l.lock.Path())
	}
	defer l.lock.Unlock() //nolint:errcheck // released on close anyway

	// Owner-only: the log reveals which documents contained personal data.
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
	}
	return nil
}

// History returns all readable records, newest first. Corrupt lines are
// skipped. A missing file yields no records and no error.
func (l *Log) History() ([]Record, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var records []Record
	dec := json.NewDecoder(f)
	for dec.More() {
		var r Record
		if err := dec.Decode(&r); err != nil {
			break
		}
		records = append(records, r)
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}
