package model

import "sort"

// ReplicaLocation is one physical copy of a logical file.
type ReplicaLocation struct {
	LFN      string            `json:"lfn" yaml:"lfn"`
	PFN      string            `json:"pfn" yaml:"pfn"`
	Site     string            `json:"site" yaml:"site"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ReplicaStore is an in-memory replica catalog keyed by LFN.
type ReplicaStore struct {
	entries map[string][]ReplicaLocation
}

// NewReplicaStore creates an empty store.
func NewReplicaStore() *ReplicaStore {
	return &ReplicaStore{entries: make(map[string][]ReplicaLocation)}
}

// Add records a location, ignoring exact duplicates.
func (s *ReplicaStore) Add(loc ReplicaLocation) {
	for _, l := range s.entries[loc.LFN] {
		if l.PFN == loc.PFN && l.Site == loc.Site {
			return
		}
	}
	s.entries[loc.LFN] = append(s.entries[loc.LFN], loc)
}

// Lookup returns the known locations of lfn.
func (s *ReplicaStore) Lookup(lfn string) []ReplicaLocation {
	if s == nil {
		return nil
	}
	return s.entries[lfn]
}

// LFNs returns every logical name in sorted order.
func (s *ReplicaStore) LFNs() []string {
	out := make([]string, 0, len(s.entries))
	for lfn := range s.entries {
		out = append(out, lfn)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of logical files.
func (s *ReplicaStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// TransformationEntry is an executable registered for a site.
type TransformationEntry struct {
	Ref      TransformationRef  `json:"ref" yaml:"ref"`
	Site     string             `json:"site" yaml:"site"`
	PFN      string             `json:"pfn" yaml:"pfn"`
	Type     TransformationType `json:"type" yaml:"type"`
	Arch     string             `json:"arch,omitempty" yaml:"arch,omitempty"`
	OS       string             `json:"os,omitempty" yaml:"os,omitempty"`
	Profiles Namespaces         `json:"-" yaml:"-"`
}

// TransformationStore is an in-memory transformation catalog.
type TransformationStore struct {
	entries map[string][]TransformationEntry
}

// NewTransformationStore creates an empty store.
func NewTransformationStore() *TransformationStore {
	return &TransformationStore{entries: make(map[string][]TransformationEntry)}
}

// Add records an entry under its logical name.
func (s *TransformationStore) Add(e TransformationEntry) {
	key := e.Ref.LogicalName()
	s.entries[key] = append(s.entries[key], e)
}

// EntriesFor returns the entries for logicalName. An empty site matches all
// sites.
func (s *TransformationStore) EntriesFor(logicalName, site string) []TransformationEntry {
	if s == nil {
		return nil
	}
	var out []TransformationEntry
	for _, e := range s.entries[logicalName] {
		if site == "" || e.Site == site {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of logical transformations.
func (s *TransformationStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// CompoundTransformation is a transformation that requires other
// transformations or files to be present when it runs.
type CompoundTransformation struct {
	Ref            TransformationRef `json:"ref" yaml:"ref"`
	Requires       []string          `json:"requires,omitempty" yaml:"requires,omitempty"`
	DependentFiles []PegasusFile     `json:"dependent_files,omitempty" yaml:"dependent_files,omitempty"`
	Notifications  []Notification    `json:"notifications,omitempty" yaml:"notifications,omitempty"`
}
