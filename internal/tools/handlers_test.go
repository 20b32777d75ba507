package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"coworker/internal/pathscope"
	"coworker/pkg/coworker"
)

// fakeAudit collects every Append call in memory for assertions.
type fakeAudit struct {
	mu      sync.Mutex
	entries []auditCall
}

type auditCall struct {
	action string
	path   string
	extra  any
}

func (f *fakeAudit) Append(action, path string, extra any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, auditCall{action: action, path: path, extra: extra})
	return nil
}

func setupRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	root, err := pathscope.CanonicalizeRoot(dir)
	if err != nil {
		t.Fatalf("CanonicalizeRoot: %v", err)
	}
	return root
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestHandleDirectoryScan(t *testing.T) {
	root := setupRoot(t)
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	params := mustMarshal(t, map[string]string{"root": root})
	b, contentType, err := handleDirectoryScan(context.Background(), params, []string{root}, &fakeAudit{})
	if err != nil {
		t.Fatalf("handleDirectoryScan: %v", err)
	}
	if contentType != "application/json" {
		t.Fatalf("content type = %q, want application/json", contentType)
	}
	var out scanResult
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(out.Entries) != 2 {
		t.Fatalf("got %d entries, want 2 (sub dir + file)", len(out.Entries))
	}
}

func TestHandleDirectoryScanRejectsEscape(t *testing.T) {
	root := setupRoot(t)
	params := mustMarshal(t, map[string]string{"root": filepath.Join(root, "..")})
	if _, _, err := handleDirectoryScan(context.Background(), params, []string{root}, &fakeAudit{}); !errors.Is(err, coworker.ErrForbidden) {
		t.Fatalf("handleDirectoryScan escape = %v, want ErrForbidden", err)
	}
}

func TestHandleDirectoryList(t *testing.T) {
	root := setupRoot(t)
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("y"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	params := mustMarshal(t, map[string]string{"root": root})
	b, _, err := handleDirectoryList(context.Background(), params, []string{root}, &fakeAudit{})
	if err != nil {
		t.Fatalf("handleDirectoryList: %v", err)
	}
	var out scanResult
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(out.Entries))
	}
	if out.Entries[0].Name != "a.txt" || out.Entries[1].Name != "b.txt" {
		t.Fatalf("entries not sorted: %+v", out.Entries)
	}
}

func TestHandleFileRead(t *testing.T) {
	root := setupRoot(t)
	p := filepath.Join(root, "note.txt")
	if err := os.WriteFile(p, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	params := mustMarshal(t, map[string]string{"path": p})
	b, contentType, err := handleFileRead(context.Background(), params, []string{root}, &fakeAudit{})
	if err != nil {
		t.Fatalf("handleFileRead: %v", err)
	}
	if string(b) != "hello world" {
		t.Fatalf("content = %q, want %q", b, "hello world")
	}
	if contentType != "application/octet-stream" {
		t.Fatalf("content type = %q", contentType)
	}
}

func TestHandleFileReadRejectsOutsideRoot(t *testing.T) {
	root := setupRoot(t)
	outside := t.TempDir()
	p := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(p, []byte("nope"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	params := mustMarshal(t, map[string]string{"path": p})
	if _, _, err := handleFileRead(context.Background(), params, []string{root}, &fakeAudit{}); !errors.Is(err, coworker.ErrForbidden) {
		t.Fatalf("handleFileRead outside root = %v, want ErrForbidden", err)
	}
}

func TestHandleOrganizePlanGroupsByExtension(t *testing.T) {
	root := setupRoot(t)
	for _, name := range []string{"a.pdf", "b.pdf", "c.txt"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	params := mustMarshal(t, map[string]string{"root": root, "policy": "by_ext"})
	b, _, err := handleOrganizePlan(context.Background(), params, []string{root}, &fakeAudit{})
	if err != nil {
		t.Fatalf("handleOrganizePlan: %v", err)
	}
	var out organizePlanResult
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Moves) != 3 {
		t.Fatalf("got %d moves, want 3", len(out.Moves))
	}
	for _, mv := range out.Moves {
		if _, err := os.Stat(mv.Src); err != nil {
			t.Fatalf("planned move src %q should still exist (no writes yet): %v", mv.Src, err)
		}
	}
}

func TestHandleOrganizePlanIsDeterministic(t *testing.T) {
	root := setupRoot(t)
	for _, name := range []string{"a.pdf", "b.jpg"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	params := mustMarshal(t, map[string]string{"root": root})
	b1, _, err := handleOrganizePlan(context.Background(), params, []string{root}, &fakeAudit{})
	if err != nil {
		t.Fatalf("handleOrganizePlan: %v", err)
	}
	b2, _, err := handleOrganizePlan(context.Background(), params, []string{root}, &fakeAudit{})
	if err != nil {
		t.Fatalf("handleOrganizePlan: %v", err)
	}
	if string(b1) != string(b2) {
		t.Fatalf("organize_plan result not stable across re-planning with unchanged inputs:\n%s\nvs\n%s", b1, b2)
	}
}

func TestHandleOrganizePlanRejectsUnsupportedPolicy(t *testing.T) {
	root := setupRoot(t)
	params := mustMarshal(t, map[string]string{"root": root, "policy": "by_date"})
	if _, _, err := handleOrganizePlan(context.Background(), params, []string{root}, &fakeAudit{}); !errors.Is(err, coworker.ErrInvalidArgument) {
		t.Fatalf("handleOrganizePlan unsupported policy = %v, want ErrInvalidArgument", err)
	}
}
