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

// Package api implements the loopback HTTP gateway: handshake, the tool
// registry listing, job submission with pre-submit path/param validation,
// job/result polling, and approval minting. It never touches the
// filesystem itself except to canonicalize declared paths; all tool I/O
// happens in workers.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coworker/internal/metrics"
	"coworker/internal/pathscope"
	"coworker/internal/tools"
	"coworker/pkg/coworker"
)

const (
	sessionHeader = "X-Coworker-Session"
	tokenHeader   = "X-Coworker-Token"

	maxWaitMS = 5000
)

// Store is the persistence surface the gateway needs from the CP Store.
// internal/store.Store satisfies this interface.
type Store interface {
	CreateSession(ctx context.Context, now time.Time) (*coworker.Session, error)
	Authenticate(ctx context.Context, sessionID, token string, now time.Time, inactivityTTL time.Duration) (bool, error)
	SubmitJob(ctx context.Context, dedupeKey string, typ coworker.ToolType, mutating bool, allowedRoots []string, params json.RawMessage, approvalToken *string, now time.Time) (jobID string, created bool, err error)
	GetJob(ctx context.Context, jobID string) (*coworker.Job, error)
	GetResult(ctx context.Context, jobID string) (*coworker.Result, error)
	MintApproval(ctx context.Context, planJobID string, ttl time.Duration, now time.Time) (*coworker.Approval, error)
}

// Config controls gateway-level policy that is not a pure persistence
// concern: session inactivity expiry. The long-poll ceiling is the fixed
// maxWaitMS constant, not a Config field.
type Config struct {
	// SessionInactivityTTL expires a session after this much time without
	// an authenticated request. Zero disables inactivity expiry.
	SessionInactivityTTL time.Duration
}

// Gateway is the HTTP API layer: session handshake/auth, job submission
// and polling, and approval minting.
type Gateway struct {
	Store    Store
	Registry *tools.Registry
	Config   Config
	Logger   *log.Logger
	Now      func() time.Time
}

// New constructs a Gateway with its required dependencies.
func New(store Store, registry *tools.Registry, cfg Config, logger *log.Logger) *Gateway {
	return &Gateway{Store: store, Registry: registry, Config: cfg, Logger: logger, Now: time.Now}
}

// Register attaches the gateway's handlers to mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("/handshake", g.handleHandshake)
	mux.HandleFunc("/tools", g.withAuth(g.handleTools))
	mux.HandleFunc("/jobs", g.withAuth(g.handleJobs))
	mux.HandleFunc("/approve", g.withAuth(g.handleApprove))
	mux.HandleFunc("/jobs/", g.withAuth(g.handleJobByID))
}

func (g *Gateway) logf(format string, args ...any) {
	if g.Logger != nil {
		g.Logger.Printf(format, args...)
	}
}

// --------------- Auth middleware ---------------

// withAuth enforces the X-Coworker-Session/X-Coworker-Token headers on
// every endpoint except /handshake.
func (g *Gateway) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get(sessionHeader)
		token := r.Header.Get(tokenHeader)
		ok, err := g.Store.Authenticate(r.Context(), sessionID, token, g.Now(), g.Config.SessionInactivityTTL)
		if err != nil {
			g.logf("authenticate error: %v", err)
			writeError(w, fmt.Errorf("%w: %v", coworker.ErrUnauthorized, "session lookup failed"))
			return
		}
		if !ok {
			writeError(w, fmt.Errorf("%w: invalid or expired session", coworker.ErrUnauthorized))
			return
		}
		next(w, r)
	}
}

// --------------- POST /handshake ---------------

type handshakeResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	CreatedAt int64  `json:"created_at_ms"`
}

func (g *Gateway) handleHandshake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	sess, err := g.Store.CreateSession(r.Context(), g.Now())
	if err != nil {
		g.logf("create session failed: %v", err)
		writeError(w, fmt.Errorf("%w: failed to create session", coworker.ErrInternal))
		return
	}
	writeJSON(w, http.StatusOK, handshakeResponse{
		SessionID: sess.ID,
		Token:     sess.Token,
		CreatedAt: sess.CreatedAt.UnixMilli(),
	})
}

// --------------- GET /tools ---------------

func (g *Gateway) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": g.Registry.Descriptors(),
	})
}

// --------------- POST /jobs ---------------

type submitJobRequest struct {
	DedupeKey     string          `json:"dedupe_key"`
	Type          coworker.ToolType `json:"type"`
	AllowedRoots  []string        `json:"allowed_roots"`
	Params        json.RawMessage `json:"params"`
	ApprovalToken *string         `json:"approval_token,omitempty"`
}

type submitJobResponse struct {
	JobID   string `json:"job_id"`
	Created bool   `json:"created"`
}

func (g *Gateway) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: request body is not valid JSON", coworker.ErrInvalidArgument))
		return
	}
	if strings.TrimSpace(req.DedupeKey) == "" {
		writeError(w, fmt.Errorf("%w: dedupe_key is required", coworker.ErrInvalidArgument))
		return
	}
	if len(req.AllowedRoots) == 0 {
		writeError(w, fmt.Errorf("%w: allowed_roots must declare at least one root", coworker.ErrInvalidArgument))
		return
	}

	desc, ok := g.Registry.Descriptor(req.Type)
	if !ok {
		writeError(w, fmt.Errorf("%w: unknown tool type %d", coworker.ErrInvalidArgument, req.Type))
		return
	}
	if len(req.Params) == 0 {
		req.Params = json.RawMessage("{}")
	}
	if err := tools.ValidateParams(desc, req.Params); err != nil {
		writeError(w, err)
		return
	}
	if desc.Mutating && (req.ApprovalToken == nil || strings.TrimSpace(*req.ApprovalToken) == "") {
		writeError(w, fmt.Errorf("%w: %s requires an approval_token", coworker.ErrApprovalRequired, desc.Name))
		return
	}

	canonicalRoots, err := canonicalizeRoots(req.AllowedRoots)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := validatePathParams(desc, req.Params, canonicalRoots); err != nil {
		writeError(w, err)
		return
	}

	jobID, created, err := g.Store.SubmitJob(r.Context(), req.DedupeKey, req.Type, desc.Mutating, canonicalRoots, req.Params, req.ApprovalToken, g.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, submitJobResponse{JobID: jobID, Created: created})
}

// canonicalizeRoots resolves every declared allowed root to its canonical,
// symlink-free absolute form. A root that cannot be resolved (does not
// exist, or isn't a directory) is rejected synchronously.
func canonicalizeRoots(roots []string) ([]string, error) {
	out := make([]string, 0, len(roots))
	for _, root := range roots {
		real, err := pathscope.CanonicalizeRoot(root)
		if err != nil {
			return nil, err
		}
		out = append(out, real)
	}
	return out, nil
}

// validatePathParams resolves every path-shaped param declared by desc and
// rejects the submission if any escapes the canonicalized allowed roots.
func validatePathParams(desc coworker.ToolDescriptor, params json.RawMessage, canonicalRoots []string) error {
	if len(desc.PathParams) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(params, &obj); err != nil {
		return fmt.Errorf("%w: params must be a JSON object", coworker.ErrInvalidArgument)
	}
	for _, key := range desc.PathParams {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var p string
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: param %q must be a string path", coworker.ErrInvalidArgument, key)
		}
		if _, err := pathscope.Resolve(p, canonicalRoots); err != nil {
			return err
		}
	}
	return nil
}

// --------------- GET /jobs/{id}, GET /jobs/{id}/result ---------------

func (g *Gateway) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	if id, ok := strings.CutSuffix(rest, "/result"); ok {
		g.handleGetResult(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}
	g.handleGetJob(w, r, rest)
}

func (g *Gateway) handleGetJob(w http.ResponseWriter, r *http.Request, id string) {
	waitMS := 0
	if v := r.URL.Query().Get("wait_ms"); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			waitMS = n
		}
	}
	if waitMS > maxWaitMS {
		waitMS = maxWaitMS
	}

	deadline := g.Now().Add(time.Duration(waitMS) * time.Millisecond)
	for {
		job, err := g.Store.GetJob(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if job.Status.IsTerminal() || waitMS == 0 || g.Now().After(deadline) {
			writeJSON(w, http.StatusOK, job)
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

type resultResponse struct {
	BytesBase64 string `json:"bytes_base64"`
	ContentType string `json:"content_type"`
}

func (g *Gateway) handleGetResult(w http.ResponseWriter, r *http.Request, id string) {
	job, err := g.Store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if job.Status != coworker.JobStatusSucceeded {
		writeError(w, fmt.Errorf("%w: job has not succeeded", coworker.ErrNotReady))
		return
	}
	res, err := g.Store.GetResult(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{
		BytesBase64: base64.StdEncoding.EncodeToString(res.Bytes),
		ContentType: res.ContentType,
	})
}

// --------------- POST /approve ---------------

type approveRequest struct {
	PlanJobID  string `json:"plan_job_id"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type approveResponse struct {
	ApprovalToken string `json:"approval_token"`
	PlanHash      string `json:"plan_hash"`
	ExpiresAtMS   int64  `json:"expires_at_ms"`
}

func (g *Gateway) handleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: request body is not valid JSON", coworker.ErrInvalidArgument))
		return
	}
	if strings.TrimSpace(req.PlanJobID) == "" {
		writeError(w, fmt.Errorf("%w: plan_job_id is required", coworker.ErrInvalidArgument))
		return
	}
	if req.TTLSeconds <= 0 {
		writeError(w, fmt.Errorf("%w: ttl_seconds must be positive", coworker.ErrInvalidArgument))
		return
	}

	approval, err := g.Store.MintApproval(r.Context(), req.PlanJobID, time.Duration(req.TTLSeconds)*time.Second, g.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.IncApprovalsMinted()
	writeJSON(w, http.StatusOK, approveResponse{
		ApprovalToken: approval.Token,
		PlanHash:      approval.PlanHash,
		ExpiresAtMS:   approval.ExpiresAt.UnixMilli(),
	})
}
