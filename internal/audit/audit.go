// Coworker is a local-first filesystem coworker server.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package audit writes the append-only JSONL mutation log anchored in each
// workspace root. One line per mutation, never rewritten; the OS serializes
// concurrent O_APPEND writers so no external locking is required.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"coworker/pkg/coworker"
)

const fileName = ".coworker_audit.jsonl"

// Log is one append-only audit log anchored at a workspace root.
type Log struct {
	mu   sync.Mutex
	path string
	f    *os.File
	now  func() time.Time
}

// Open opens (creating if needed) the audit log file under root.
func Open(root string) (*Log, error) {
	path := filepath.Join(root, fileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Log{path: path, f: f, now: time.Now}, nil
}

// Append writes one audit entry and flushes it to disk before returning.
// extra is marshaled as-is into the entry's Extra field; pass nil to omit.
func (l *Log) Append(jobID, action, path string, extra any) error {
	var raw json.RawMessage
	if extra != nil {
		b, err := json.Marshal(extra)
		if err != nil {
			return fmt.Errorf("marshal audit extra: %w", err)
		}
		raw = b
	}
	entry := coworker.AuditEntry{
		TimestampMS: l.now().UnixMilli(),
		JobID:       jobID,
		Action:      action,
		Path:        path,
		Extra:       raw,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(line); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return l.f.Sync()
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// ForJob returns an appender bound to jobID, satisfying tools.AuditAppender
// (Append(action, path, extra) error) so tool handlers never need their own
// job_id.
func (l *Log) ForJob(jobID string) *JobLog {
	return &JobLog{log: l, jobID: jobID}
}

// JobLog is a *Log scoped to a single job_id.
type JobLog struct {
	log   *Log
	jobID string
}

// Append records one audit entry tagged with the bound job_id.
func (j *JobLog) Append(action, path string, extra any) error {
	return j.log.Append(j.jobID, action, path, extra)
}

// Registry resolves the right *Log for a given canonical workspace root,
// caching one open handle per root for the lifetime of the process.
type Registry struct {
	mu   sync.Mutex
	logs map[string]*Log
}

// NewRegistry builds an empty audit log registry.
func NewRegistry() *Registry {
	return &Registry{logs: make(map[string]*Log)}
}

// For returns the audit log for root, opening it on first use.
func (r *Registry) For(root string) (*Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.logs[root]; ok {
		return l, nil
	}
	l, err := Open(root)
	if err != nil {
		return nil, err
	}
	r.logs[root] = l
	return l, nil
}

// CloseAll closes every open log handle.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, l := range r.logs {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
