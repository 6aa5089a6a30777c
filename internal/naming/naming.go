// Package naming derives scheduler-safe job and workflow names.
package naming

import (
	"strconv"
	"strings"
	"unicode"
)

// Sanitize replaces characters the scheduler rejects in node names with
// underscores.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.', r == ':', r == '-', r == '+', r == '/', r == '\\', r == '#', r == '@':
			return '_'
		case unicode.IsSpace(r):
			return '_'
		}
		return r
	}, s)
}

// JobName builds [prefix]namespace_name_logicalID, sanitized. Empty parts
// are skipped.
func JobName(prefix, namespace, name, logicalID string) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, part := range []string{namespace, name} {
		if part == "" {
			continue
		}
		sb.WriteString(part)
		sb.WriteByte('_')
	}
	sb.WriteString(logicalID)
	return Sanitize(sb.String())
}

// MakeSchedulerCompliant turns a workflow label into a name usable as a
// DAG node and file name prefix. A name starting with a digit is prefixed.
func MakeSchedulerCompliant(s string) string {
	s = Sanitize(strings.TrimSpace(s))
	if s == "" {
		return "workflow"
	}
	if r := rune(s[0]); unicode.IsDigit(r) {
		s = "wf_" + s
	}
	return s
}

// Registry hands out unique names. A name already taken gets a numeric
// suffix.
type Registry struct {
	taken map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{taken: make(map[string]int)}
}

// Claim returns name, or name with the lowest free _n suffix when name is
// already in use.
func (r *Registry) Claim(name string) string {
	n, ok := r.taken[name]
	if !ok {
		r.taken[name] = 0
		return name
	}
	for {
		n++
		candidate := name + "_" + strconv.Itoa(n)
		if _, used := r.taken[candidate]; !used {
			r.taken[name] = n
			r.taken[candidate] = 0
			return candidate
		}
	}
}

// Taken reports whether name has been handed out.
func (r *Registry) Taken(name string) bool {
	_, ok := r.taken[name]
	return ok
}
