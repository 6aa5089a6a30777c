package model

import "sort"

// PegasusFile is a logical file used by a job.
type PegasusFile struct {
	LFN             string   `json:"lfn" yaml:"lfn"`
	Link            LinkType `json:"link" yaml:"link"`
	Optional        bool     `json:"optional,omitempty" yaml:"optional,omitempty"`
	Executable      bool     `json:"executable,omitempty" yaml:"executable,omitempty"`
	Checkpoint      bool     `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
	StageOut        bool     `json:"stage_out" yaml:"stage_out"`
	RegisterReplica bool     `json:"register_replica" yaml:"register_replica"`
	// Size in bytes when known from the replica catalog metadata.
	Size int64 `json:"size,omitempty" yaml:"size,omitempty"`
}

// FileSet is a set of files keyed by LFN. Iteration is sorted by LFN.
type FileSet map[string]*PegasusFile

// Add inserts f, replacing any entry with the same LFN.
func (s FileSet) Add(f *PegasusFile) {
	s[f.LFN] = f
}

// Get returns the file with the given LFN.
func (s FileSet) Get(lfn string) (*PegasusFile, bool) {
	f, ok := s[lfn]
	return f, ok
}

// Contains reports whether lfn is in the set.
func (s FileSet) Contains(lfn string) bool {
	_, ok := s[lfn]
	return ok
}

// Sorted returns the files ordered by LFN.
func (s FileSet) Sorted() []*PegasusFile {
	out := make([]*PegasusFile, 0, len(s))
	for _, f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LFN < out[j].LFN })
	return out
}

// LFNs returns the sorted logical names.
func (s FileSet) LFNs() []string {
	out := make([]string, 0, len(s))
	for lfn := range s {
		out = append(out, lfn)
	}
	sort.Strings(out)
	return out
}

// FileTransfer describes one file movement between sites.
type FileTransfer struct {
	LFN string `json:"lfn" yaml:"lfn"`
	// JobName is the producing job for inter-site transfers and the
	// consuming or producing job otherwise.
	JobName string `json:"job" yaml:"job"`
	// Sources maps site handle to candidate source URLs.
	Sources []URLPair `json:"sources" yaml:"sources"`
	// Destinations maps site handle to destination URLs.
	Destinations          []URLPair `json:"destinations" yaml:"destinations"`
	TransientTransfer     bool      `json:"transient_transfer,omitempty" yaml:"transient_transfer,omitempty"`
	TransientRegistration bool      `json:"transient_registration,omitempty" yaml:"transient_registration,omitempty"`
	Executable            bool      `json:"executable,omitempty" yaml:"executable,omitempty"`
	Optional              bool      `json:"optional,omitempty" yaml:"optional,omitempty"`
	Priority              int       `json:"priority,omitempty" yaml:"priority,omitempty"`
	Size                  int64     `json:"size,omitempty" yaml:"size,omitempty"`
}

// URLPair is a site handle with a URL on that site.
type URLPair struct {
	Site string `json:"site" yaml:"site"`
	URL  string `json:"url" yaml:"url"`
}

// AddSource appends a source URL.
func (ft *FileTransfer) AddSource(site, url string) {
	ft.Sources = append(ft.Sources, URLPair{Site: site, URL: url})
}

// AddDestination appends a destination URL.
func (ft *FileTransfer) AddDestination(site, url string) {
	ft.Destinations = append(ft.Destinations, URLPair{Site: site, URL: url})
}

// SourceSite returns the site of the first source URL.
func (ft *FileTransfer) SourceSite() string {
	if len(ft.Sources) == 0 {
		return ""
	}
	return ft.Sources[0].Site
}

// DestinationSite returns the site of the first destination URL.
func (ft *FileTransfer) DestinationSite() string {
	if len(ft.Destinations) == 0 {
		return ""
	}
	return ft.Destinations[0].Site
}

// URLs returns every source and destination URL.
func (ft *FileTransfer) URLs() []string {
	out := make([]string, 0, len(ft.Sources)+len(ft.Destinations))
	for _, p := range ft.Sources {
		out = append(out, p.URL)
	}
	for _, p := range ft.Destinations {
		out = append(out, p.URL)
	}
	return out
}
