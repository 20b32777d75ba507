// Package tools implements the static tool registry and the concrete,
// deliberately minimal tool handlers dispatched by the worker pool.
//
// A static descriptor table decides each tool's param shape and
// mutating-ness up front, so the dispatcher only has to look a job type up
// here; execute_plan, which has no handler in this table, is the one type
// the worker dispatches itself.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"coworker/pkg/coworker"
)

// Handler executes one job's tool logic. It must re-validate every path it
// touches against allowedRoots, append one audit entry per externally
// observable mutation via audit, and return deterministic bytes.
type Handler func(ctx context.Context, params json.RawMessage, allowedRoots []string, audit AuditAppender) ([]byte, string, error)

// AuditAppender is the scoped, job-bound capability a handler uses to
// record mutations. The worker constructs one per claimed job so handlers
// never need to know their own job_id.
type AuditAppender interface {
	Append(action, path string, extra any) error
}

// Registry is the static catalog of tool descriptors and their handlers.
type Registry struct {
	descriptors map[coworker.ToolType]coworker.ToolDescriptor
	handlers    map[coworker.ToolType]Handler
}

// NewRegistry builds the registry with all known job types wired to their
// handlers. This is the single source of truth for which types mutate the
// filesystem and therefore require an approval token.
func NewRegistry() *Registry {
	r := &Registry{
		descriptors: make(map[coworker.ToolType]coworker.ToolDescriptor),
		handlers:    make(map[coworker.ToolType]Handler),
	}
	r.register(coworker.ToolDescriptor{
		Type: coworker.ToolDirectoryScan, Name: "directory_scan", Mutating: false,
		RequiredParams: []string{"root"}, PathParams: []string{"root"}, ResultMIME: "application/json",
	}, handleDirectoryScan)
	r.register(coworker.ToolDescriptor{
		Type: coworker.ToolDirectoryList, Name: "directory_list", Mutating: false,
		RequiredParams: []string{"root"}, PathParams: []string{"root"}, ResultMIME: "application/json",
	}, handleDirectoryList)
	r.register(coworker.ToolDescriptor{
		Type: coworker.ToolFileRead, Name: "file_read", Mutating: false,
		RequiredParams: []string{"path"}, PathParams: []string{"path"}, ResultMIME: "application/octet-stream",
	}, handleFileRead)
	r.register(coworker.ToolDescriptor{
		Type: coworker.ToolOrganizePlan, Name: "organize_plan", Mutating: false,
		RequiredParams: []string{"root"}, OptionalParams: []string{"policy"}, PathParams: []string{"root"}, ResultMIME: "application/json",
	}, handleOrganizePlan)
	r.register(coworker.ToolDescriptor{
		Type: coworker.ToolExecutePlan, Name: "execute_plan", Mutating: true,
		RequiredParams: []string{"plan_job_id"}, ResultMIME: "application/json",
	}, nil) // wired separately: the executor needs store access, see internal/jobs.
	r.register(coworker.ToolDescriptor{
		Type: coworker.ToolWebBrowse, Name: "web_browse", Mutating: false,
		RequiredParams: []string{"url"}, ResultMIME: "text/plain",
	}, handleWebBrowseStub)
	r.register(coworker.ToolDescriptor{
		Type: coworker.ToolDocxWrite, Name: "docx_write", Mutating: true,
		RequiredParams: []string{"path", "content"}, PathParams: []string{"path"}, ResultMIME: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}, handleDocxWriteStub)
	r.register(coworker.ToolDescriptor{
		Type: coworker.ToolPDFWrite, Name: "pdf_write", Mutating: true,
		RequiredParams: []string{"path", "content"}, PathParams: []string{"path"}, ResultMIME: "application/pdf",
	}, handlePDFWriteStub)
	r.register(coworker.ToolDescriptor{
		Type: coworker.ToolCodeExecute, Name: "code_execute", Mutating: true,
		RequiredParams: []string{"path", "language"}, PathParams: []string{"path"}, ResultMIME: "application/json",
	}, handleCodeExecuteStub)
	r.register(coworker.ToolDescriptor{
		Type: coworker.ToolAudioCapture, Name: "audio_capture", Mutating: true,
		RequiredParams: []string{"path", "duration_ms"}, PathParams: []string{"path"}, ResultMIME: "audio/wav",
	}, handleAudioCaptureStub)
	r.register(coworker.ToolDescriptor{
		Type: coworker.ToolTranscriptAnalyze, Name: "transcript_analyze", Mutating: false,
		RequiredParams: []string{"path"}, PathParams: []string{"path"}, ResultMIME: "application/json",
	}, handleTranscriptAnalyzeStub)
	return r
}

func (r *Registry) register(d coworker.ToolDescriptor, h Handler) {
	r.descriptors[d.Type] = d
	if h != nil {
		r.handlers[d.Type] = h
	}
}

// Descriptor returns the descriptor for a tool type, or false if unknown.
func (r *Registry) Descriptor(t coworker.ToolType) (coworker.ToolDescriptor, bool) {
	d, ok := r.descriptors[t]
	return d, ok
}

// Descriptors returns every registered descriptor, for the GET /tools endpoint.
func (r *Registry) Descriptors() []coworker.ToolDescriptor {
	out := make([]coworker.ToolDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	return out
}

// Handler returns the dispatchable handler for a tool type, or false if the
// type is unknown or (like execute_plan) dispatched specially by the worker.
func (r *Registry) Handler(t coworker.ToolType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// IsMutating reports whether t is a registered mutating tool type.
func (r *Registry) IsMutating(t coworker.ToolType) bool {
	d, ok := r.descriptors[t]
	return ok && d.Mutating
}

// ValidateParams rejects unknown keys and reports missing required keys
// before a job is ever queued.
func ValidateParams(d coworker.ToolDescriptor, params json.RawMessage) error {
	var obj map[string]json.RawMessage
	if len(params) == 0 {
		obj = map[string]json.RawMessage{}
	} else if err := json.Unmarshal(params, &obj); err != nil {
		return fmt.Errorf("%w: params must be a JSON object", coworker.ErrInvalidArgument)
	}
	allowed := make(map[string]bool, len(d.RequiredParams)+len(d.OptionalParams))
	for _, k := range d.RequiredParams {
		allowed[k] = true
	}
	for _, k := range d.OptionalParams {
		allowed[k] = true
	}
	for k := range obj {
		if !allowed[k] {
			return fmt.Errorf("%w: unknown param %q", coworker.ErrInvalidArgument, k)
		}
	}
	for _, k := range d.RequiredParams {
		if _, ok := obj[k]; !ok {
			return fmt.Errorf("%w: missing required param %q", coworker.ErrInvalidArgument, k)
		}
	}
	return nil
}
