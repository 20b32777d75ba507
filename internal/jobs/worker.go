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

// Package jobs implements the worker pool: it leases queued jobs from the
// store, consumes approvals for mutating jobs, dispatches to the tool
// registry, and persists the outcome, all under a heartbeat-renewed lease.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"coworker/internal/audit"
	"coworker/internal/metrics"
	"coworker/internal/tools"
	"coworker/pkg/coworker"
)

// Store is the persistence surface the worker needs from the CP Store.
type Store interface {
	ClaimNextJob(ctx context.Context, workerID string, now time.Time, leaseMS int64) (*coworker.Job, error)
	RenewLease(ctx context.Context, jobID, workerID string, now time.Time, leaseMS int64) error
	CompleteJob(ctx context.Context, jobID, workerID string, outcome coworker.JobStatus, resultBytes []byte, contentType string, errMsg *string, now time.Time) error
	GetJob(ctx context.Context, jobID string) (*coworker.Job, error)
	GetResult(ctx context.Context, jobID string) (*coworker.Result, error)
	ConsumeApproval(ctx context.Context, token, expectedPlanJobID string, now time.Time) (*coworker.Approval, error)
}

// Config controls worker polling and lease behavior.
type Config struct {
	WorkerID         string
	PollInterval     time.Duration
	LeaseMS          int64
	ExtendLeaseEvery time.Duration
}

// Worker executes leased jobs against the tool registry.
type Worker struct {
	store    Store
	registry *tools.Registry
	auditLog *audit.Registry
	cfg      Config
	logger   *log.Logger
	now      func() time.Time
}

// NewWorker constructs a Worker. Defaults match the ~50-200ms backoff and
// lease-renewal-at-a-third-of-TTL targets described for the worker loop.
func NewWorker(store Store, registry *tools.Registry, auditLog *audit.Registry, cfg Config, logger *log.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.LeaseMS <= 0 {
		cfg.LeaseMS = 30_000
	}
	if cfg.ExtendLeaseEvery <= 0 {
		cfg.ExtendLeaseEvery = time.Duration(cfg.LeaseMS/3) * time.Millisecond
	}
	return &Worker{store: store, registry: registry, auditLog: auditLog, cfg: cfg, logger: logger, now: time.Now}
}

func (w *Worker) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf("[worker:%s] "+format, append([]any{w.cfg.WorkerID}, args...)...)
	}
}

// Run polls for claimable jobs until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	w.logf("starting; poll=%s lease_ms=%d", w.cfg.PollInterval, w.cfg.LeaseMS)
	defer w.logf("stopped")

	for {
		job, err := w.store.ClaimNextJob(ctx, w.cfg.WorkerID, w.now(), w.cfg.LeaseMS)
		if err == nil {
			metrics.IncJobsClaimed(job.Type)
			w.processJob(ctx, job)
			continue
		}
		if !errors.Is(err, coworker.ErrNotFound) {
			w.logf("claim error: %v", err)
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(w.cfg.PollInterval)):
		}
	}
}

// jitter returns d plus up to 50% extra, to avoid thundering-herd polling
// across a worker pool sharing one store.
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

func (w *Worker) processJob(ctx context.Context, job *coworker.Job) {
	start := w.now()

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	preempted := make(chan struct{}, 1)
	go w.heartbeat(heartbeatCtx, job.ID, preempted)
	defer stopHeartbeat()

	bytes, contentType, toolErr := w.dispatch(ctx, job)

	select {
	case <-preempted:
		w.logf("job %s abandoned: lease preempted mid-execution", job.ID)
		metrics.IncLeaseReclaimed()
		return
	default:
	}

	outcome := coworker.JobStatusSucceeded
	var errMsg *string
	if toolErr != nil {
		outcome = coworker.JobStatusFailed
		msg := toolErr.Error()
		errMsg = &msg
	}

	if err := w.store.CompleteJob(ctx, job.ID, w.cfg.WorkerID, outcome, bytes, contentType, errMsg, w.now()); err != nil {
		if errors.Is(err, coworker.ErrPreempted) {
			w.logf("job %s complete rejected: lease preempted", job.ID)
			metrics.IncLeaseReclaimed()
			return
		}
		w.logf("job %s complete failed: %v", job.ID, err)
		return
	}
	metrics.ObserveJobDuration(job.Type, w.now().Sub(start))
}

// heartbeat extends the job's lease at cfg.ExtendLeaseEvery until ctx is
// canceled (tool finished) or renewal fails, signaling preemption.
func (w *Worker) heartbeat(ctx context.Context, jobID string, preempted chan<- struct{}) {
	ticker := time.NewTicker(w.cfg.ExtendLeaseEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.RenewLease(ctx, jobID, w.cfg.WorkerID, w.now(), w.cfg.LeaseMS); err != nil {
				if errors.Is(err, coworker.ErrPreempted) {
					select {
					case preempted <- struct{}{}:
					default:
					}
				}
				return
			}
		}
	}
}

// dispatch runs the approval gate (for mutating jobs) and then the tool
// handler, returning the result bytes/content-type or a terminal error.
func (w *Worker) dispatch(ctx context.Context, job *coworker.Job) ([]byte, string, error) {
	desc, ok := w.registry.Descriptor(job.Type)
	if !ok {
		return nil, "", fmt.Errorf("%w: unregistered tool type %d", coworker.ErrInvalidArgument, job.Type)
	}

	var approval *coworker.Approval
	if desc.Mutating {
		if job.ApprovalToken == nil || *job.ApprovalToken == "" {
			return nil, "", coworker.ErrApprovalRequired
		}
		planJobID, err := planJobIDFromParams(job.Params)
		if err != nil {
			return nil, "", err
		}
		a, err := w.store.ConsumeApproval(ctx, *job.ApprovalToken, planJobID, w.now())
		if err != nil {
			return nil, "", err
		}
		approval = a
		metrics.IncApprovalsConsumed()
	}

	jobAudit, err := w.auditLog.For(soleAllowedRoot(job.AllowedRoots))
	if err != nil {
		return nil, "", fmt.Errorf("open audit log: %w", err)
	}
	scoped := jobAudit.ForJob(job.ID)

	if job.Type == coworker.ToolExecutePlan {
		return w.executePlan(ctx, job, scoped, approval)
	}

	handler, ok := w.registry.Handler(job.Type)
	if !ok {
		return nil, "", fmt.Errorf("%w: no handler for tool type %d", coworker.ErrInvalidArgument, job.Type)
	}
	return handler(ctx, job.Params, job.AllowedRoots, scoped)
}

func planJobIDFromParams(params json.RawMessage) (string, error) {
	var req struct {
		PlanJobID string `json:"plan_job_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil || req.PlanJobID == "" {
		return "", fmt.Errorf("%w: missing plan_job_id", coworker.ErrInvalidArgument)
	}
	return req.PlanJobID, nil
}

// soleAllowedRoot picks the audit-log anchor root for a job. Jobs are
// required to declare at least one allowed root at submission time.
func soleAllowedRoot(roots []string) string {
	if len(roots) == 0 {
		return "."
	}
	return roots[0]
}
