package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestConfigError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ConfigError
		want string
	}{
		{
			name: "key and site",
			err:  &ConfigError{JobID: "preprocess_ID1", Key: "X509_USER_PROXY", Site: "cluster", Msg: "credential path not found"},
			want: "configuration error for job preprocess_ID1 (key X509_USER_PROXY, site cluster): credential path not found",
		},
		{
			name: "site only",
			err:  &ConfigError{Site: "cluster", Msg: "no gateway"},
			want: "configuration error (site cluster): no gateway",
		},
		{
			name: "message only",
			err:  &ConfigError{Msg: "bad version"},
			want: "configuration error: bad version",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStructuralError_Error(t *testing.T) {
	err := &StructuralError{Kind: KindDanglingReference, Ref: "ID9", Msg: "unknown job"}
	want := "dangling-reference (ID9): unknown job"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestUnsupportedError_Is(t *testing.T) {
	err := fmt.Errorf("refine: %w", &UnsupportedError{Component: "condor refiner", Op: "inter-site transfers"})
	if !errors.Is(err, ErrUnsupported) {
		t.Error("errors.Is(err, ErrUnsupported) = false, want true")
	}
	var ue *UnsupportedError
	if !errors.As(err, &ue) {
		t.Fatal("errors.As failed")
	}
	if ue.Op != "inter-site transfers" {
		t.Errorf("Op = %q", ue.Op)
	}
}

func TestMismatchError_Error(t *testing.T) {
	err := &MismatchError{Style: StyleGlobus, Universe: UniverseLocal, Site: "cluster", JobID: "j1"}
	want := `style globus does not support universe "local" for job j1 on site cluster`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("invalid workflow",
		FieldError{Field: "jobs[0].id", Message: "required"},
		FieldError{Path: "/jobs/1/uses", Message: "expected array"},
	)
	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	want := "invalid workflow: jobs[0].id: required; /jobs/1/uses: expected array"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{
		Entity: "builder",
		ID:     "diamond",
		From:   "done",
		To:     "done",
	}
	want := "invalid builder state transition: done → done (entity diamond)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
