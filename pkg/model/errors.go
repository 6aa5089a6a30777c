package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is matched by every UnsupportedError via errors.Is.
var ErrUnsupported = errors.New("unsupported operation")

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	loc := e.Field
	if e.Path != "" {
		loc = e.Path
	}
	if loc == "" {
		return e.Message
	}
	return loc + ": " + e.Message
}

// ValidationError collects field errors found in a document.
type ValidationError struct {
	Message string
	Details []FieldError
}

// NewValidationError creates a ValidationError with details.
func NewValidationError(msg string, details ...FieldError) *ValidationError {
	return &ValidationError{Message: msg, Details: details}
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Details))
	for i, d := range e.Details {
		parts[i] = d.String()
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(parts, "; "))
}

// ConfigError reports a missing or inconsistent setting that prevents a job
// from being planned.
type ConfigError struct {
	JobID string
	Key   string
	Site  string
	Msg   string
}

func (e *ConfigError) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration error")
	if e.JobID != "" {
		fmt.Fprintf(&sb, " for job %s", e.JobID)
	}
	if e.Key != "" {
		fmt.Fprintf(&sb, " (key %s", e.Key)
		if e.Site != "" {
			fmt.Fprintf(&sb, ", site %s", e.Site)
		}
		sb.WriteByte(')')
	} else if e.Site != "" {
		fmt.Fprintf(&sb, " (site %s)", e.Site)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Msg)
	return sb.String()
}

// StructuralKind classifies a StructuralError.
type StructuralKind string

const (
	KindDanglingReference StructuralKind = "dangling-reference"
	KindIOConflict        StructuralKind = "io-conflict"
	KindPrematureResult   StructuralKind = "premature-result"
	KindDuplicateJob      StructuralKind = "duplicate-job"
	KindCycle             StructuralKind = "cycle"
	KindInvalidState      StructuralKind = "invalid-state"
)

// StructuralError reports a malformed workflow graph.
type StructuralError struct {
	Kind StructuralKind
	Ref  string
	Msg  string
}

func (e *StructuralError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Ref, e.Msg)
}

// MismatchError is returned when a submission style cannot render a job in
// the universe it was given.
type MismatchError struct {
	Style    StyleKind
	Universe Universe
	Site     string
	JobID    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("style %s does not support universe %q for job %s on site %s",
		e.Style, e.Universe, e.JobID, e.Site)
}

// UnsupportedError is returned by a component for an operation it does not
// implement.
type UnsupportedError struct {
	Component string
	Op        string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Component, e.Op)
}

// Is makes errors.Is(err, ErrUnsupported) hold.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// InvalidTransitionError is returned when a state transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}
