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

// Package store provides the SQLite-backed CP Store: sessions, jobs,
// results, and approvals, with schema migrations and the leasing
// primitives the worker pool relies on for at-least-once execution.
package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"coworker/internal/cryptutil"
	"coworker/pkg/coworker"
)

const (
	defaultBusyTimeout = 5 * time.Second
	schemaVersionKey   = "schema_version"
)

// Store wraps a SQLite database connection and provides typed accessors
// for the CP Store's four entities.
type Store struct {
	db  *sql.DB
	enc *cryptutil.Encryptor
}

// Open opens (or creates) a SQLite database at path, applies connection
// pragmas for durability and concurrency, runs migrations, and returns a
// ready Store. If tokenEncryptionKey is non-empty, session tokens are
// encrypted at rest with it (AES-256-GCM, PBKDF2-derived key per row) so a
// copy of the SQLite file alone doesn't hand over live session credentials;
// an empty key leaves sessions.token in plaintext, matching the store's
// pre-encryption behavior.
func Open(ctx context.Context, path string, tokenEncryptionKey string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)",
		path, int(defaultBusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetConnMaxLifetime(0)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)

	if err := pingContext(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if tokenEncryptionKey != "" {
		enc, err := cryptutil.NewEncryptor(tokenEncryptionKey)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init token encryptor: %w", err)
		}
		s.enc = enc
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTx executes fn inside a serializable transaction, rolling back on
// error or panic and committing otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --------------- Migrations ---------------

func (s *Store) migrate(ctx context.Context) error {
	if err := s.ensureSettingsTable(ctx); err != nil {
		return err
	}
	cur, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	const target = 1

	if cur < 1 {
		if err := s.migrateToV1(ctx); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
		if err := s.setSchemaVersion(ctx, 1); err != nil {
			return err
		}
		cur = 1
	}

	if cur != target {
		// Future migrations go here.
	}
	return nil
}

func (s *Store) ensureSettingsTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS settings (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	const q = `SELECT value FROM settings WHERE key=?`
	var val string
	err := s.db.QueryRowContext(ctx, q, schemaVersionKey).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	var v int
	if _, err := fmt.Sscanf(val, "%d", &v); err != nil {
		return 0, nil
	}
	return v, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, v int) error {
	const upsert = `
INSERT INTO settings(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value;`
	_, err := s.db.ExecContext(ctx, upsert, schemaVersionKey, fmt.Sprintf("%d", v))
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func (s *Store) migrateToV1(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
  id           TEXT PRIMARY KEY,
  token        TEXT NOT NULL,
  created_at   TIMESTAMP NOT NULL,
  last_seen_at TIMESTAMP NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS jobs (
  id               TEXT PRIMARY KEY,
  dedupe_key       TEXT NOT NULL,
  type             INTEGER NOT NULL,
  status           INTEGER NOT NULL CHECK (status IN (1,2,3,4)),
  params_json      TEXT NOT NULL,
  allowed_roots_json TEXT NOT NULL,
  created_at       TIMESTAMP NOT NULL,
  started_at       TIMESTAMP NULL,
  finished_at      TIMESTAMP NULL,
  lease_owner      TEXT NULL,
  lease_expires_at TIMESTAMP NULL,
  approval_token   TEXT NULL,
  error_message    TEXT NULL
);`,
		// dedupe_key uniqueness is only enforced over non-terminal jobs
		// (status 1=QUEUED, 2=RUNNING); terminal jobs may share a key.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_dedupe_active ON jobs(dedupe_key) WHERE status IN (1,2);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);`,
		`CREATE TABLE IF NOT EXISTS results (
  job_id       TEXT PRIMARY KEY REFERENCES jobs(id) ON DELETE CASCADE,
  bytes        BLOB NOT NULL,
  content_type TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS approvals (
  token        TEXT PRIMARY KEY,
  plan_job_id  TEXT NOT NULL,
  plan_hash    TEXT NOT NULL,
  minted_at    TIMESTAMP NOT NULL,
  expires_at   TIMESTAMP NOT NULL
);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// --------------- Sessions ---------------

// CreateSession mints a fresh session with cryptographically random
// identifiers and inserts it. Fails only on I/O.
func (s *Store) CreateSession(ctx context.Context, now time.Time) (*coworker.Session, error) {
	id, err := generateID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	sess := &coworker.Session{ID: id, Token: token, CreatedAt: now, LastSeenAt: now}
	stored := token
	if s.enc != nil {
		stored, err = s.enc.Encrypt(token)
		if err != nil {
			return nil, fmt.Errorf("encrypt session token: %w", err)
		}
	}
	const ins = `INSERT INTO sessions(id, token, created_at, last_seen_at) VALUES(?,?,?,?)`
	if _, err := s.db.ExecContext(ctx, ins, sess.ID, stored, sess.CreatedAt.UTC(), sess.LastSeenAt.UTC()); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// Authenticate validates (sessionID, token) in constant time and, on
// success, advances last_seen_at. Returns false on any mismatch, missing
// row, empty credentials, or inactivity expiry (LastSeenAt older than
// inactivityTTL before now).
func (s *Store) Authenticate(ctx context.Context, sessionID, token string, now time.Time, inactivityTTL time.Duration) (bool, error) {
	if sessionID == "" || token == "" {
		return false, nil
	}
	const q = `SELECT token, last_seen_at FROM sessions WHERE id=?`
	var storedToken string
	var lastSeen time.Time
	err := s.db.QueryRowContext(ctx, q, sessionID).Scan(&storedToken, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup session: %w", err)
	}
	if s.enc != nil {
		plain, decErr := s.enc.Decrypt(storedToken)
		if decErr != nil {
			// A row written before encryption was enabled, or corrupted
			// ciphertext, can never match a presented token either way.
			return false, nil
		}
		storedToken = plain
	}
	if subtle.ConstantTimeCompare([]byte(storedToken), []byte(token)) != 1 {
		return false, nil
	}
	if inactivityTTL > 0 && now.Sub(lastSeen.UTC()) > inactivityTTL {
		return false, nil
	}
	const upd = `UPDATE sessions SET last_seen_at=? WHERE id=?`
	if _, err := s.db.ExecContext(ctx, upd, now.UTC(), sessionID); err != nil {
		return false, fmt.Errorf("touch session: %w", err)
	}
	return true, nil
}

// --------------- Jobs ---------------

// SubmitJob atomically checks for an existing non-terminal job sharing
// dedupeKey and returns it with created=false if found; otherwise inserts
// a new QUEUED job and returns created=true.
func (s *Store) SubmitJob(ctx context.Context, dedupeKey string, typ coworker.ToolType, mutating bool, allowedRoots []string, params json.RawMessage, approvalToken *string, now time.Time) (jobID string, created bool, err error) {
	if !validToolType(typ) {
		return "", false, fmt.Errorf("%w: unknown tool type %d", coworker.ErrInvalidArgument, typ)
	}
	if mutating && (approvalToken == nil || *approvalToken == "") {
		return "", false, fmt.Errorf("%w: mutating job requires an approval token", coworker.ErrApprovalRequired)
	}
	rootsJSON, err := json.Marshal(allowedRoots)
	if err != nil {
		return "", false, fmt.Errorf("marshal allowed_roots: %w", err)
	}
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		const sel = `SELECT id FROM jobs WHERE dedupe_key=? AND status IN (1,2)`
		var existingID string
		err := tx.QueryRowContext(ctx, sel, dedupeKey).Scan(&existingID)
		if err == nil {
			jobID = existingID
			created = false
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup dedupe key: %w", err)
		}

		id := uuid.NewString()
		const ins = `
INSERT INTO jobs(id, dedupe_key, type, status, params_json, allowed_roots_json, created_at, approval_token)
VALUES(?,?,?,?,?,?,?,?)`
		var approvalVal any
		if approvalToken != nil {
			approvalVal = *approvalToken
		}
		if _, err := tx.ExecContext(ctx, ins, id, dedupeKey, int(typ), int(coworker.JobStatusQueued), string(params), string(rootsJSON), now.UTC(), approvalVal); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		jobID = id
		created = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return jobID, created, nil
}

// ClaimNextJob atomically leases one eligible job: the oldest QUEUED job
// (FIFO, job_id tiebreak), or the oldest RUNNING job whose lease has
// expired. Returns coworker.ErrNotFound if none is eligible.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string, now time.Time, leaseMS int64) (*coworker.Job, error) {
	leaseUntil := now.Add(time.Duration(leaseMS) * time.Millisecond)
	var claimed *coworker.Job

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		const selQueued = `SELECT id FROM jobs WHERE status=1 ORDER BY created_at ASC, id ASC LIMIT 1`
		var id string
		err := tx.QueryRowContext(ctx, selQueued).Scan(&id)
		isFirstClaim := true
		if errors.Is(err, sql.ErrNoRows) {
			const selExpired = `SELECT id FROM jobs WHERE status=2 AND lease_expires_at < ? ORDER BY created_at ASC, id ASC LIMIT 1`
			err = tx.QueryRowContext(ctx, selExpired, now.UTC()).Scan(&id)
			isFirstClaim = false
		}
		if errors.Is(err, sql.ErrNoRows) {
			return coworker.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("select claimable job: %w", err)
		}

		var res sql.Result
		if isFirstClaim {
			const upd = `UPDATE jobs SET status=2, lease_owner=?, lease_expires_at=?, started_at=? WHERE id=? AND status=1`
			res, err = tx.ExecContext(ctx, upd, workerID, leaseUntil.UTC(), now.UTC(), id)
		} else {
			const upd = `UPDATE jobs SET lease_owner=?, lease_expires_at=? WHERE id=? AND status=2 AND lease_expires_at < ?`
			res, err = tx.ExecContext(ctx, upd, workerID, leaseUntil.UTC(), id, now.UTC())
		}
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		n, _ := res.RowsAffected()
		if n != 1 {
			return coworker.ErrNotFound
		}

		j, err := getJobTx(ctx, tx, id)
		if err != nil {
			return err
		}
		claimed = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// RenewLease extends a job's lease iff workerID still owns it and it is
// still RUNNING. Returns coworker.ErrPreempted otherwise.
func (s *Store) RenewLease(ctx context.Context, jobID, workerID string, now time.Time, leaseMS int64) error {
	leaseUntil := now.Add(time.Duration(leaseMS) * time.Millisecond)
	const upd = `UPDATE jobs SET lease_expires_at=? WHERE id=? AND status=2 AND lease_owner=?`
	res, err := s.db.ExecContext(ctx, upd, leaseUntil.UTC(), jobID, workerID)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return coworker.ErrPreempted
	}
	return nil
}

// CompleteJob atomically transitions a job to a terminal state, requiring
// that workerID still own the lease. If the owner no longer matches (the
// lease was reclaimed), the update is rejected with coworker.ErrPreempted
// and the caller must discard its result.
func (s *Store) CompleteJob(ctx context.Context, jobID, workerID string, outcome coworker.JobStatus, resultBytes []byte, contentType string, errMsg *string, now time.Time) error {
	if outcome != coworker.JobStatusSucceeded && outcome != coworker.JobStatusFailed {
		return fmt.Errorf("%w: outcome must be terminal", coworker.ErrInvalidArgument)
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var errVal any
		if errMsg != nil {
			errVal = *errMsg
		}
		const upd = `UPDATE jobs SET status=?, finished_at=?, error_message=? WHERE id=? AND status=2 AND lease_owner=?`
		res, err := tx.ExecContext(ctx, upd, int(outcome), now.UTC(), errVal, jobID, workerID)
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		n, _ := res.RowsAffected()
		if n != 1 {
			return coworker.ErrPreempted
		}
		if outcome == coworker.JobStatusSucceeded {
			const ins = `
INSERT INTO results(job_id, bytes, content_type) VALUES(?,?,?)
ON CONFLICT(job_id) DO UPDATE SET bytes=excluded.bytes, content_type=excluded.content_type`
			if _, err := tx.ExecContext(ctx, ins, jobID, resultBytes, contentType); err != nil {
				return fmt.Errorf("insert result: %w", err)
			}
		}
		return nil
	})
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*coworker.Job, error) {
	var j *coworker.Job
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		j, err = getJobTx(ctx, tx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// GetResult retrieves the result row for a job. Returns coworker.ErrNotFound
// if the job never succeeded.
func (s *Store) GetResult(ctx context.Context, jobID string) (*coworker.Result, error) {
	const q = `SELECT job_id, bytes, content_type FROM results WHERE job_id=?`
	var r coworker.Result
	err := s.db.QueryRowContext(ctx, q, jobID).Scan(&r.JobID, &r.Bytes, &r.ContentType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coworker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return &r, nil
}

// --------------- Approvals ---------------

// MintApproval binds a single-use approval token to the hash of a
// SUCCEEDED plan job's stored result.
func (s *Store) MintApproval(ctx context.Context, planJobID string, ttl time.Duration, now time.Time) (*coworker.Approval, error) {
	var approval *coworker.Approval
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		plan, err := getJobTx(ctx, tx, planJobID)
		if errors.Is(err, coworker.ErrNotFound) {
			return coworker.ErrNotFound
		}
		if err != nil {
			return err
		}
		if plan.Status != coworker.JobStatusSucceeded {
			return fmt.Errorf("%w: plan job is not succeeded", coworker.ErrBadState)
		}
		const q = `SELECT bytes FROM results WHERE job_id=?`
		var bytes []byte
		if err := tx.QueryRowContext(ctx, q, planJobID).Scan(&bytes); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return coworker.ErrNotFound
			}
			return fmt.Errorf("read plan result: %w", err)
		}
		sum := sha256.Sum256(bytes)
		hash := hex.EncodeToString(sum[:])

		token, err := generateToken()
		if err != nil {
			return fmt.Errorf("generate approval token: %w", err)
		}
		expiresAt := now.Add(ttl)
		const ins = `INSERT INTO approvals(token, plan_job_id, plan_hash, minted_at, expires_at) VALUES(?,?,?,?,?)`
		if _, err := tx.ExecContext(ctx, ins, token, planJobID, hash, now.UTC(), expiresAt.UTC()); err != nil {
			return fmt.Errorf("insert approval: %w", err)
		}
		approval = &coworker.Approval{
			Token: token, PlanJobID: planJobID, PlanHash: hash,
			MintedAt: now, ExpiresAt: expiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approval, nil
}

// ConsumeApproval atomically deletes and returns an approval token, after
// checking expiry and that it is bound to expectedPlanJobID.
func (s *Store) ConsumeApproval(ctx context.Context, token, expectedPlanJobID string, now time.Time) (*coworker.Approval, error) {
	var approval *coworker.Approval
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		const q = `SELECT plan_job_id, plan_hash, minted_at, expires_at FROM approvals WHERE token=?`
		var a coworker.Approval
		a.Token = token
		err := tx.QueryRowContext(ctx, q, token).Scan(&a.PlanJobID, &a.PlanHash, &a.MintedAt, &a.ExpiresAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: unknown approval token", coworker.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lookup approval: %w", err)
		}
		a.MintedAt = a.MintedAt.UTC()
		a.ExpiresAt = a.ExpiresAt.UTC()

		// Delete first (single-use), so a retried claim against the same
		// token cannot succeed twice. If a check below fails, WithTx rolls
		// the transaction back and the approval row stays in place.
		const del = `DELETE FROM approvals WHERE token=?`
		if _, err := tx.ExecContext(ctx, del, token); err != nil {
			return fmt.Errorf("consume approval: %w", err)
		}

		if now.After(a.ExpiresAt) {
			return coworker.ErrExpired
		}
		if a.PlanJobID != expectedPlanJobID {
			return coworker.ErrMismatch
		}
		approval = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approval, nil
}

// --------------- Internal helpers ---------------

func getJobTx(ctx context.Context, tx *sql.Tx, id string) (*coworker.Job, error) {
	const q = `
SELECT id, dedupe_key, type, status, params_json, allowed_roots_json, created_at,
       started_at, finished_at, lease_owner, lease_expires_at, approval_token, error_message
FROM jobs WHERE id=?`
	var (
		row struct {
			id, dedupeKey, paramsJSON, rootsJSON string
			typ, status                          int
			createdAt                            time.Time
			startedAt, finishedAt, leaseExpires  sql.NullTime
			leaseOwner, approvalToken, errMsg     sql.NullString
		}
	)
	err := tx.QueryRowContext(ctx, q, id).Scan(
		&row.id, &row.dedupeKey, &row.typ, &row.status, &row.paramsJSON, &row.rootsJSON, &row.createdAt,
		&row.startedAt, &row.finishedAt, &row.leaseOwner, &row.leaseExpires, &row.approvalToken, &row.errMsg,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coworker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	var roots []string
	if err := json.Unmarshal([]byte(row.rootsJSON), &roots); err != nil {
		return nil, fmt.Errorf("unmarshal allowed_roots: %w", err)
	}

	j := &coworker.Job{
		ID:           row.id,
		DedupeKey:    row.dedupeKey,
		Type:         coworker.ToolType(row.typ),
		Status:       coworker.JobStatus(row.status),
		Params:       json.RawMessage(row.paramsJSON),
		AllowedRoots: roots,
		CreatedAt:    row.createdAt.UTC(),
		StartedAt:    fromNullTimePtr(row.startedAt),
		FinishedAt:   fromNullTimePtr(row.finishedAt),
		LeaseOwner:   fromNullStringPtr(row.leaseOwner),
		LeaseExpiresAt: fromNullTimePtr(row.leaseExpires),
		ApprovalToken:  fromNullStringPtr(row.approvalToken),
		ErrorMessage:   fromNullStringPtr(row.errMsg),
	}
	return j, nil
}

func validToolType(t coworker.ToolType) bool {
	return t >= coworker.ToolDirectoryScan && t <= coworker.ToolTranscriptAnalyze
}

func pingContext(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

func fromNullStringPtr(ns sql.NullString) *string {
	if ns.Valid {
		v := ns.String
		return &v
	}
	return nil
}

func fromNullTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time.UTC()
		return &t
	}
	return nil
}

func generateID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
