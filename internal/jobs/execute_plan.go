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

package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"coworker/internal/pathscope"
	"coworker/internal/tools"
	"coworker/pkg/coworker"
)

type organizeMove struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

type organizePlanResult struct {
	Root   string         `json:"root"`
	Policy string         `json:"policy"`
	Moves  []organizeMove `json:"moves"`
}

type executePlanResult struct {
	PlanJobID string   `json:"plan_job_id"`
	Moved     []string `json:"moved"`
	Skipped   []string `json:"skipped_identical"`
}

// executePlan replays an approved organize plan's moves, re-validates the
// approval binding against the plan's current result bytes (plan drift
// detection), and performs each move. A pre-existing identical destination
// is skipped; a differing one is first moved into the job's trash directory
// (audited as "conflict") and the move then proceeds.
//
// This is dispatched specially (not through the static tools.Registry)
// because it needs the store to re-read the plan job's result.
func (w *Worker) executePlan(ctx context.Context, job *coworker.Job, audit tools.AuditAppender, approval *coworker.Approval) ([]byte, string, error) {
	if approval == nil {
		return nil, "", fmt.Errorf("%w: execute_plan requires a consumed approval", coworker.ErrApprovalRequired)
	}

	planResult, err := w.store.GetResult(ctx, approval.PlanJobID)
	if err != nil {
		return nil, "", fmt.Errorf("read plan result: %w", err)
	}
	sum := sha256.Sum256(planResult.Bytes)
	currentHash := hex.EncodeToString(sum[:])
	if currentHash != approval.PlanHash {
		return nil, "", coworker.ErrPlanDrift
	}

	var plan organizePlanResult
	if err := json.Unmarshal(planResult.Bytes, &plan); err != nil {
		return nil, "", fmt.Errorf("unmarshal plan result: %w", err)
	}

	var moved, skipped []string
	for _, mv := range plan.Moves {
		src, err := pathscope.Resolve(mv.Src, job.AllowedRoots)
		if err != nil {
			return nil, "", err
		}
		dst, err := pathscope.Resolve(mv.Dst, job.AllowedRoots)
		if err != nil {
			return nil, "", err
		}

		identical, conflict, err := compareDestination(src, dst)
		if err != nil {
			return nil, "", err
		}
		if identical {
			if err := audit.Append("skip_identical", dst, map[string]string{"src": src}); err != nil {
				return nil, "", err
			}
			skipped = append(skipped, dst)
			continue
		}
		if conflict {
			// Per the resolved pre-existing-destination policy: a
			// differing destination is never overwritten or hard-deleted.
			// It is preserved under trash before the planned move
			// proceeds, and both outcomes are audited.
			trashPath, err := trashDestination(job.ID, dst, soleAllowedRoot(job.AllowedRoots))
			if err != nil {
				return nil, "", err
			}
			if err := audit.Append("conflict", dst, map[string]string{"trashed_to": trashPath}); err != nil {
				return nil, "", err
			}
		}

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, "", fmt.Errorf("mkdir %s: %w", filepath.Dir(dst), err)
		}
		if err := os.Rename(src, dst); err != nil {
			return nil, "", fmt.Errorf("move %s to %s: %w", src, dst, err)
		}
		if err := audit.Append("move", dst, map[string]string{"src": src}); err != nil {
			return nil, "", err
		}
		moved = append(moved, dst)
	}

	out, err := json.Marshal(executePlanResult{PlanJobID: approval.PlanJobID, Moved: moved, Skipped: skipped})
	if err != nil {
		return nil, "", err
	}
	return out, "application/json", nil
}

// trashDestination relocates an existing, differing destination file to
// <root>/.coworker_trash/<job_id>/<original-relative-path> so the planned
// move can proceed without ever hard-deleting user data.
func trashDestination(jobID, dst, root string) (string, error) {
	rel, err := filepath.Rel(root, dst)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", dst, err)
	}
	trashPath := filepath.Join(root, ".coworker_trash", jobID, rel)
	if err := os.MkdirAll(filepath.Dir(trashPath), 0o755); err != nil {
		return "", fmt.Errorf("mkdir trash dir: %w", err)
	}
	if err := os.Rename(dst, trashPath); err != nil {
		return "", fmt.Errorf("move %s to trash: %w", dst, err)
	}
	return trashPath, nil
}

// compareDestination reports whether dst already exists, and if so,
// whether its content is byte-identical to src (identical=true, safe to
// skip) or differs (conflict=true, preserved via trash before the move
// proceeds, per the resolved open question on partial pre-existing
// destinations).
//
// A retried execute_plan after a crash and lease reclaim may find dst
// already present with src already gone: a prior, now-abandoned attempt
// completed this exact move before losing its lease. That is the
// already-applied case, not a conflict, so it is treated the same as
// identical=true without ever touching src.
func compareDestination(src, dst string) (identical, conflict bool, err error) {
	if _, err := os.Stat(dst); err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("stat %s: %w", dst, err)
	}
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return true, false, nil
		}
		return false, false, fmt.Errorf("stat %s: %w", src, err)
	}
	same, err := filesEqual(src, dst)
	if err != nil {
		return false, false, err
	}
	if same {
		return true, false, nil
	}
	return false, true, nil
}

func filesEqual(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", a, err)
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", b, err)
	}
	defer fb.Close()

	ha := sha256.New()
	if _, err := io.Copy(ha, fa); err != nil {
		return false, err
	}
	hb := sha256.New()
	if _, err := io.Copy(hb, fb); err != nil {
		return false, err
	}
	return hex.EncodeToString(ha.Sum(nil)) == hex.EncodeToString(hb.Sum(nil)), nil
}
