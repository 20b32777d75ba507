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

// Package metrics exposes Prometheus counters and histograms for jobs
// claimed, lease reclaims, tool execution duration, and approval traffic,
// served at /metrics by the API gateway.
package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coworker/pkg/coworker"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	jobsClaimed       *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	leaseReclaimed    prometheus.Counter
	approvalsMinted   prometheus.Counter
	approvalsConsumed prometheus.Counter
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors. Used by tests to ensure
// clean state between cases.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler exposing metrics in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// IncJobsClaimed records a successful job claim by tool type.
func IncJobsClaimed(t coworker.ToolType) {
	mu.RLock()
	defer mu.RUnlock()
	if jobsClaimed != nil {
		jobsClaimed.WithLabelValues(toolLabel(t)).Inc()
	}
}

// ObserveJobDuration records wall-clock execution time for a completed job.
func ObserveJobDuration(t coworker.ToolType, d time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	if jobDuration != nil {
		jobDuration.WithLabelValues(toolLabel(t)).Observe(d.Seconds())
	}
}

// IncLeaseReclaimed counts a job whose lease was reclaimed or preempted.
func IncLeaseReclaimed() {
	mu.RLock()
	defer mu.RUnlock()
	if leaseReclaimed != nil {
		leaseReclaimed.Inc()
	}
}

// IncApprovalsMinted counts a successful mint_approval call.
func IncApprovalsMinted() {
	mu.RLock()
	defer mu.RUnlock()
	if approvalsMinted != nil {
		approvalsMinted.Inc()
	}
}

// IncApprovalsConsumed counts a successful consume_approval call.
func IncApprovalsConsumed() {
	mu.RLock()
	defer mu.RUnlock()
	if approvalsConsumed != nil {
		approvalsConsumed.Inc()
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	claimed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coworker",
		Subsystem: "jobs",
		Name:      "claimed_total",
		Help:      "Total jobs claimed by a worker, grouped by tool type.",
	}, []string{"type"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coworker",
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Duration of job execution by tool type.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
	}, []string{"type"})

	reclaimed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coworker",
		Subsystem: "jobs",
		Name:      "lease_reclaimed_total",
		Help:      "Total jobs whose lease was reclaimed or preempted mid-execution.",
	})

	minted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coworker",
		Subsystem: "approvals",
		Name:      "minted_total",
		Help:      "Total approval tokens minted.",
	})

	consumed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coworker",
		Subsystem: "approvals",
		Name:      "consumed_total",
		Help:      "Total approval tokens consumed by an executing worker.",
	})

	registry.MustRegister(claimed, duration, reclaimed, minted, consumed)

	reg = registry
	jobsClaimed = claimed
	jobDuration = duration
	leaseReclaimed = reclaimed
	approvalsMinted = minted
	approvalsConsumed = consumed
}

func toolLabel(t coworker.ToolType) string {
	return fmt.Sprintf("%d", int(t))
}
