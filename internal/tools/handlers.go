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

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"coworker/internal/pathscope"
	"coworker/pkg/coworker"
)

type dirEntryInfo struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

type scanResult struct {
	Root    string         `json:"root"`
	Entries []dirEntryInfo `json:"entries"`
}

func handleDirectoryScan(ctx context.Context, params json.RawMessage, allowedRoots []string, audit AuditAppender) ([]byte, string, error) {
	var req struct {
		Root string `json:"root"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, "", fmt.Errorf("%w: %v", coworker.ErrInvalidArgument, err)
	}
	root, err := pathscope.Resolve(req.Root, allowedRoots)
	if err != nil {
		return nil, "", err
	}
	var entries []dirEntryInfo
	err = filepath.Walk(root, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		entries = append(entries, dirEntryInfo{Name: rel, IsDir: info.IsDir(), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	b, err := json.Marshal(scanResult{Root: root, Entries: entries})
	if err != nil {
		return nil, "", err
	}
	return b, "application/json", nil
}

func handleDirectoryList(ctx context.Context, params json.RawMessage, allowedRoots []string, audit AuditAppender) ([]byte, string, error) {
	var req struct {
		Root string `json:"root"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, "", fmt.Errorf("%w: %v", coworker.ErrInvalidArgument, err)
	}
	root, err := pathscope.Resolve(req.Root, allowedRoots)
	if err != nil {
		return nil, "", err
	}
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, "", fmt.Errorf("list %s: %w", root, err)
	}
	entries := make([]dirEntryInfo, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, infoErr := de.Info()
		if infoErr != nil {
			return nil, "", infoErr
		}
		entries = append(entries, dirEntryInfo{Name: de.Name(), IsDir: de.IsDir(), Size: info.Size()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	b, err := json.Marshal(scanResult{Root: root, Entries: entries})
	if err != nil {
		return nil, "", err
	}
	return b, "application/json", nil
}

func handleFileRead(ctx context.Context, params json.RawMessage, allowedRoots []string, audit AuditAppender) ([]byte, string, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, "", fmt.Errorf("%w: %v", coworker.ErrInvalidArgument, err)
	}
	p, err := pathscope.Resolve(req.Path, allowedRoots)
	if err != nil {
		return nil, "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", p, err)
	}
	return b, "application/octet-stream", nil
}

// organizeMove is one planned move, the unit that execute_plan later replays.
type organizeMove struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

type organizePlanResult struct {
	Root   string          `json:"root"`
	Policy string          `json:"policy"`
	Moves  []organizeMove `json:"moves"`
}

// handleOrganizePlan produces a deterministic by-extension move plan. It
// performs no filesystem writes; its output bytes become the Result that
// /approve later hashes and binds.
func handleOrganizePlan(ctx context.Context, params json.RawMessage, allowedRoots []string, audit AuditAppender) ([]byte, string, error) {
	var req struct {
		Root   string `json:"root"`
		Policy string `json:"policy"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, "", fmt.Errorf("%w: %v", coworker.ErrInvalidArgument, err)
	}
	if req.Policy == "" {
		req.Policy = "by_ext"
	}
	if req.Policy != "by_ext" {
		return nil, "", fmt.Errorf("%w: unsupported policy %q", coworker.ErrInvalidArgument, req.Policy)
	}
	root, err := pathscope.Resolve(req.Root, allowedRoots)
	if err != nil {
		return nil, "", err
	}
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, "", fmt.Errorf("list %s: %w", root, err)
	}
	var moves []organizeMove
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		ext := filepath.Ext(de.Name())
		bucket := "misc"
		if ext != "" {
			bucket = ext[1:]
		}
		moves = append(moves, organizeMove{
			Src: filepath.Join(root, de.Name()),
			Dst: filepath.Join(root, bucket, de.Name()),
		})
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i].Src < moves[j].Src })
	b, err := json.Marshal(organizePlanResult{Root: root, Policy: req.Policy, Moves: moves})
	if err != nil {
		return nil, "", err
	}
	return b, "application/json", nil
}
