package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"coworker/internal/audit"
	"coworker/internal/store"
	"coworker/internal/tools"
	"coworker/pkg/coworker"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	s, err := store.Open(ctx, filepath.Join(dir, "test.db"), "")
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitForTerminal(t *testing.T, s *store.Store, jobID string, timeout time.Duration) *coworker.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := s.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state within %s", jobID, timeout)
	return nil
}

func TestWorkerExecutesNonMutatingJob(t *testing.T) {
	s := newTestStore(t)
	registry := tools.NewRegistry()
	auditReg := audit.NewRegistry()
	defer auditReg.CloseAll()

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx := context.Background()
	now := time.Now()
	params, _ := json.Marshal(map[string]string{"root": root})
	jobID, _, err := s.SubmitJob(ctx, "k1", coworker.ToolDirectoryList, false, []string{root}, params, nil, now)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	w := NewWorker(s, registry, auditReg, Config{WorkerID: "w1", PollInterval: 10 * time.Millisecond, LeaseMS: 2000}, nil)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.Run(runCtx)

	job := waitForTerminal(t, s, jobID, 2*time.Second)
	if job.Status != coworker.JobStatusSucceeded {
		t.Fatalf("job status = %v, want SUCCEEDED (error=%v)", job.Status, job.ErrorMessage)
	}
	res, err := s.GetResult(ctx, jobID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res.ContentType != "application/json" {
		t.Fatalf("content type = %q", res.ContentType)
	}
}

func TestWorkerFailsJobOnToolError(t *testing.T) {
	s := newTestStore(t)
	registry := tools.NewRegistry()
	auditReg := audit.NewRegistry()
	defer auditReg.CloseAll()

	root := t.TempDir()
	ctx := context.Background()
	now := time.Now()
	// file_read on a path that doesn't exist: the handler will return a
	// terminal tool error, not a panic or infrastructure failure.
	params, _ := json.Marshal(map[string]string{"path": filepath.Join(root, "missing.txt")})
	jobID, _, err := s.SubmitJob(ctx, "k1", coworker.ToolFileRead, false, []string{root}, params, nil, now)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	w := NewWorker(s, registry, auditReg, Config{WorkerID: "w1", PollInterval: 10 * time.Millisecond, LeaseMS: 2000}, nil)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.Run(runCtx)

	job := waitForTerminal(t, s, jobID, 2*time.Second)
	if job.Status != coworker.JobStatusFailed {
		t.Fatalf("job status = %v, want FAILED", job.Status)
	}
	if job.ErrorMessage == nil || *job.ErrorMessage == "" {
		t.Fatalf("expected non-empty error_message on FAILED job")
	}
}

func TestWorkerMutatingJobWithoutApprovalFails(t *testing.T) {
	s := newTestStore(t)
	registry := tools.NewRegistry()
	auditReg := audit.NewRegistry()
	defer auditReg.CloseAll()

	root := t.TempDir()
	ctx := context.Background()

	// Bypass the gateway's pre-submit checks by inserting a mutating job
	// directly through the store, carrying an approval token that was never
	// minted; the worker's approval gate must still refuse to run it.
	params, _ := json.Marshal(map[string]string{"path": filepath.Join(root, "out.pdf"), "content": "x"})
	jobID, _, err := s.SubmitJob(ctx, "k1", coworker.ToolPDFWrite, true, []string{root}, params, strPtr("bogus-token"), time.Now())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	w := NewWorker(s, registry, auditReg, Config{WorkerID: "w1", PollInterval: 10 * time.Millisecond, LeaseMS: 2000}, nil)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.Run(runCtx)

	job := waitForTerminal(t, s, jobID, 2*time.Second)
	if job.Status != coworker.JobStatusFailed {
		t.Fatalf("job status = %v, want FAILED (unknown approval token)", job.Status)
	}
	if _, err := os.Stat(filepath.Join(root, "out.pdf")); err == nil {
		t.Fatalf("mutating job executed despite an invalid approval token")
	}
}

func strPtr(s string) *string { return &s }

var _ = errors.New // keep errors imported for future assertions without churn
