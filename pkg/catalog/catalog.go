// Package catalog defines the read-only lookup ports the planner uses to
// resolve sites, executables and file replicas.
package catalog

import (
	"sort"
	"strings"

	"github.com/me/wfplan/pkg/model"
)

// SiteCatalog resolves site handles.
type SiteCatalog interface {
	Lookup(handle string) (*SiteEntry, bool)
}

// TransformationCatalog resolves a logical transformation on a site.
type TransformationCatalog interface {
	EntriesFor(logicalName, site string) []model.TransformationEntry
}

// ReplicaCatalog resolves logical file names to physical locations.
type ReplicaCatalog interface {
	Lookup(lfn string) []model.ReplicaLocation
}

var (
	_ TransformationCatalog = (*model.TransformationStore)(nil)
	_ ReplicaCatalog        = (*model.ReplicaStore)(nil)
	_ SiteCatalog           = (*SiteStore)(nil)
)

// Gateway is a job submission endpoint of a site.
type Gateway struct {
	Type      string               `yaml:"type"`
	Contact   string               `yaml:"contact"`
	Scheduler string               `yaml:"scheduler"`
	JobType   model.GatewayJobType `yaml:"jobtype"`
}

// Known scheduler names.
const (
	SchedulerFork    = "fork"
	SchedulerPBS     = "pbs"
	SchedulerSGE     = "sge"
	SchedulerSLURM   = "slurm"
	SchedulerLSF     = "lsf"
	SchedulerMoab    = "moab"
	SchedulerCobalt  = "cobalt"
	SchedulerCondor  = "condor"
	SchedulerUnknown = "unknown"
)

// Directory types.
const (
	DirSharedScratch = "sharedScratch"
	DirLocalScratch  = "localScratch"
	DirSharedStorage = "sharedStorage"
	DirLocalStorage  = "localStorage"
)

// FileServer is a URL prefix serving a directory.
type FileServer struct {
	URL       string `yaml:"url"`
	Operation string `yaml:"operation"`
}

// Directory is a storage area of a site.
type Directory struct {
	Type        string       `yaml:"type"`
	Path        string       `yaml:"path"`
	FileServers []FileServer `yaml:"fileServers"`
}

// URL returns the first file server URL of the directory, or a file URL
// built from its path when it has no server.
func (d Directory) URL() string {
	for _, fs := range d.FileServers {
		if fs.Operation == "" || fs.Operation == "all" || fs.Operation == "put" {
			return strings.TrimRight(fs.URL, "/")
		}
	}
	if d.Path == "" {
		return ""
	}
	return "file://" + strings.TrimRight(d.Path, "/")
}

// SiteEntry describes a compute site.
type SiteEntry struct {
	Handle      string
	Arch        string
	OS          string
	Gateways    []Gateway
	Directories []Directory
	Profiles    model.Namespaces
}

// Gateway returns the gateway for a job class. Auxiliary job classes
// without a dedicated gateway use the auxillary one, then the compute one.
func (s *SiteEntry) Gateway(jt model.GatewayJobType) (Gateway, bool) {
	order := []model.GatewayJobType{jt}
	if jt != model.GatewayCompute {
		order = append(order, model.GatewayAuxillary, model.GatewayCompute)
	}
	for _, want := range order {
		for _, g := range s.Gateways {
			if g.JobType == want {
				return g, true
			}
		}
	}
	return Gateway{}, false
}

// Directory returns the first directory of the given type.
func (s *SiteEntry) Directory(typ string) (Directory, bool) {
	for _, d := range s.Directories {
		if d.Type == typ {
			return d, true
		}
	}
	return Directory{}, false
}

// ScratchDir returns the path of the shared (or local) scratch directory.
func (s *SiteEntry) ScratchDir() string {
	if d, ok := s.Directory(DirSharedScratch); ok {
		return d.Path
	}
	if d, ok := s.Directory(DirLocalScratch); ok {
		return d.Path
	}
	return ""
}

// ScratchURL returns the URL prefix of the scratch directory.
func (s *SiteEntry) ScratchURL() string {
	if d, ok := s.Directory(DirSharedScratch); ok {
		return d.URL()
	}
	if d, ok := s.Directory(DirLocalScratch); ok {
		return d.URL()
	}
	return ""
}

// StorageURL returns the URL prefix of the storage directory.
func (s *SiteEntry) StorageURL() string {
	if d, ok := s.Directory(DirSharedStorage); ok {
		return d.URL()
	}
	if d, ok := s.Directory(DirLocalStorage); ok {
		return d.URL()
	}
	return ""
}

// Profile returns a single site profile value.
func (s *SiteEntry) Profile(ns model.Namespace, key string) (string, bool) {
	return s.Profiles.Value(ns, key)
}

// SiteStore is an in-memory site catalog.
type SiteStore struct {
	sites map[string]*SiteEntry
}

// NewSiteStore creates a store holding the given sites.
func NewSiteStore(sites ...*SiteEntry) *SiteStore {
	s := &SiteStore{sites: make(map[string]*SiteEntry, len(sites))}
	for _, e := range sites {
		s.Add(e)
	}
	return s
}

// Add inserts or replaces a site.
func (s *SiteStore) Add(e *SiteEntry) {
	if e.Profiles == nil {
		e.Profiles = make(model.Namespaces)
	}
	s.sites[e.Handle] = e
}

// Lookup returns the site with the given handle.
func (s *SiteStore) Lookup(handle string) (*SiteEntry, bool) {
	e, ok := s.sites[handle]
	return e, ok
}

// Handles returns the sorted site handles.
func (s *SiteStore) Handles() []string {
	out := make([]string, 0, len(s.sites))
	for h := range s.sites {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
