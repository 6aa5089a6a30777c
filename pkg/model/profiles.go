package model

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profiles is an ordered key/value namespace attached to a job, site or
// transformation. Iteration follows insertion order so that generated
// attribute maps are deterministic.
type Profiles struct {
	keys   []string
	values map[string]string
}

// KeyValue is a single profile entry.
type KeyValue struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// NewProfiles creates an empty namespace.
func NewProfiles() *Profiles {
	return &Profiles{values: make(map[string]string)}
}

// ProfilesFromMap builds a namespace from a map. Keys are sorted since the
// map carries no order of its own.
func ProfilesFromMap(m map[string]string) *Profiles {
	p := NewProfiles()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Construct(k, m[k])
	}
	return p
}

// Construct sets key to value. An existing key keeps its position.
func (p *Profiles) Construct(key, value string) {
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value for key.
func (p *Profiles) Get(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.values[key]
	return v, ok
}

// Value returns the value for key or "" when absent.
func (p *Profiles) Value(key string) string {
	v, _ := p.Get(key)
	return v
}

// Contains reports whether key is set.
func (p *Profiles) Contains(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Remove deletes key and returns the old value.
func (p *Profiles) Remove(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.values[key]
	if !ok {
		return "", false
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
	return v, true
}

// Keys returns the keys in insertion order.
func (p *Profiles) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of entries.
func (p *Profiles) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Pairs returns the entries in insertion order.
func (p *Profiles) Pairs() []KeyValue {
	if p == nil {
		return nil
	}
	out := make([]KeyValue, 0, len(p.keys))
	for _, k := range p.keys {
		out = append(out, KeyValue{Key: k, Value: p.values[k]})
	}
	return out
}

// Map returns an unordered copy of the entries.
func (p *Profiles) Map() map[string]string {
	out := make(map[string]string, p.Len())
	if p == nil {
		return out
	}
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Merge copies every entry of other into p, overriding existing values.
func (p *Profiles) Merge(other *Profiles) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		p.Construct(k, other.values[k])
	}
}

// MergeMissing copies entries of other whose keys are not yet set in p.
func (p *Profiles) MergeMissing(other *Profiles) {
	if other == nil {
		return
	}
	for _, k := range other.keys {
		if !p.Contains(k) {
			p.Construct(k, other.values[k])
		}
	}
}

// Clone returns a deep copy.
func (p *Profiles) Clone() *Profiles {
	c := NewProfiles()
	c.Merge(p)
	return c
}

// String renders the namespace as k=v pairs for log output.
func (p *Profiles) String() string {
	var sb strings.Builder
	for i, kv := range p.Pairs() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s=%s", kv.Key, kv.Value)
	}
	return sb.String()
}

// MarshalYAML emits the namespace as a mapping in insertion order.
func (p *Profiles) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, kv := range p.Pairs() {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: kv.Key},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: kv.Value},
		)
	}
	return node, nil
}

// UnmarshalYAML reads a mapping, keeping document order. Scalar values of
// any YAML type are stored in their literal form.
func (p *Profiles) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: profiles must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: profile %q must have a scalar value", v.Line, k.Value)
		}
		p.Construct(k.Value, v.Value)
	}
	return nil
}

// Namespaces groups profile namespaces by name (condor, env, pegasus, globus, ...)
// as they appear on sites, transformations and jobs in the catalogs.
type Namespaces map[Namespace]*Profiles

// Get returns the namespace, or nil.
func (n Namespaces) Get(ns Namespace) *Profiles {
	if n == nil {
		return nil
	}
	return n[ns]
}

// Value returns a single profile value from the given namespace.
func (n Namespaces) Value(ns Namespace, key string) (string, bool) {
	return n.Get(ns).Get(key)
}
