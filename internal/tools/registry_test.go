package tools

import (
	"encoding/json"
	"errors"
	"testing"

	"coworker/pkg/coworker"
)

func TestRegistryHasAllElevenToolTypes(t *testing.T) {
	r := NewRegistry()
	for typ := coworker.ToolDirectoryScan; typ <= coworker.ToolTranscriptAnalyze; typ++ {
		if _, ok := r.Descriptor(typ); !ok {
			t.Errorf("missing descriptor for tool type %d", typ)
		}
	}
}

func TestMutatingBitIsSingleSourceOfTruth(t *testing.T) {
	r := NewRegistry()
	cases := map[coworker.ToolType]bool{
		coworker.ToolDirectoryScan:     false,
		coworker.ToolDirectoryList:     false,
		coworker.ToolFileRead:          false,
		coworker.ToolOrganizePlan:      false,
		coworker.ToolExecutePlan:       true,
		coworker.ToolWebBrowse:         false,
		coworker.ToolDocxWrite:         true,
		coworker.ToolPDFWrite:          true,
		coworker.ToolCodeExecute:       true,
		coworker.ToolAudioCapture:      true,
		coworker.ToolTranscriptAnalyze: false,
	}
	for typ, want := range cases {
		if got := r.IsMutating(typ); got != want {
			t.Errorf("IsMutating(%d) = %v, want %v", typ, got, want)
		}
	}
}

func TestExecutePlanHasNoDirectHandler(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Handler(coworker.ToolExecutePlan); ok {
		t.Fatalf("execute_plan should have no direct registry handler; it is dispatched by internal/jobs")
	}
}

func TestDescriptorsReturnsEveryRegisteredType(t *testing.T) {
	r := NewRegistry()
	descs := r.Descriptors()
	if len(descs) != 11 {
		t.Fatalf("Descriptors() returned %d entries, want 11", len(descs))
	}
}

func TestValidateParamsRejectsUnknownKey(t *testing.T) {
	d := coworker.ToolDescriptor{RequiredParams: []string{"root"}}
	err := ValidateParams(d, json.RawMessage(`{"root":"/W","bogus":1}`))
	if !errors.Is(err, coworker.ErrInvalidArgument) {
		t.Fatalf("ValidateParams with unknown key = %v, want ErrInvalidArgument", err)
	}
}

func TestValidateParamsRejectsMissingRequired(t *testing.T) {
	d := coworker.ToolDescriptor{RequiredParams: []string{"root"}}
	err := ValidateParams(d, json.RawMessage(`{}`))
	if !errors.Is(err, coworker.ErrInvalidArgument) {
		t.Fatalf("ValidateParams missing required = %v, want ErrInvalidArgument", err)
	}
}

func TestValidateParamsAcceptsOptional(t *testing.T) {
	d := coworker.ToolDescriptor{RequiredParams: []string{"root"}, OptionalParams: []string{"policy"}}
	err := ValidateParams(d, json.RawMessage(`{"root":"/W","policy":"by_ext"}`))
	if err != nil {
		t.Fatalf("ValidateParams = %v, want nil", err)
	}
}

func TestValidateParamsRejectsNonObject(t *testing.T) {
	d := coworker.ToolDescriptor{RequiredParams: []string{"root"}}
	err := ValidateParams(d, json.RawMessage(`"not an object"`))
	if !errors.Is(err, coworker.ErrInvalidArgument) {
		t.Fatalf("ValidateParams non-object = %v, want ErrInvalidArgument", err)
	}
}
