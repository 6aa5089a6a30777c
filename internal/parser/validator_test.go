package parser

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/me/wfplan/pkg/model"
)

func testValidator(t *testing.T) *SchemaValidator {
	t.Helper()
	v, err := NewSchemaValidator(testParser().logger)
	if err != nil {
		t.Fatalf("NewSchemaValidator: %v", err)
	}
	return v
}

func TestSchemaValidator_ValidDocuments(t *testing.T) {
	v := testValidator(t)
	for _, name := range []string{"diamond.yml", "pipeline.yml"} {
		data, err := os.ReadFile(testdataPath(name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if err := v.Validate(data); err != nil {
			t.Errorf("Validate(%s): %v", name, err)
		}
	}
}

func TestSchemaValidator_Violations(t *testing.T) {
	v := testValidator(t)
	tests := []struct {
		name string
		doc  string
		path string
	}{
		{"missing jobs", "name: w\n", "/"},
		{"bad use type", "name: w\njobs:\n  - {id: A, name: a, uses: [{lfn: x, type: sideways}]}\n", "/jobs/0/uses/0/type"},
		{"missing job id", "name: w\njobs:\n  - {name: a}\n", "/jobs/0"},
		{"bad dependency", "name: w\njobs: []\njobDependencies:\n  - {id: A}\n", "/jobDependencies/0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate([]byte(tt.doc))
			var ve *model.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			found := false
			for _, d := range ve.Details {
				if d.Path == tt.path {
					found = true
				}
			}
			if !found {
				t.Errorf("details = %+v, want a violation at %s", ve.Details, tt.path)
			}
		})
	}
}

func TestParse_WithSchemaValidation(t *testing.T) {
	rec := newRecorder()
	p := testParser(WithSchemaValidation(testValidator(t)))
	err := p.Parse(io.NopCloser(strings.NewReader("name: w\njobs:\n  - {name: a}\n")), rec)
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(rec.events) != 0 {
		t.Errorf("events emitted before validation: %v", rec.events)
	}
}
