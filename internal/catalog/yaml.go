// Package catalog loads site and transformation catalogs from YAML files.
package catalog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	pcat "github.com/me/wfplan/pkg/catalog"
	"github.com/me/wfplan/pkg/model"
)

// ProfilesDoc is the YAML form of per-namespace profiles.
type ProfilesDoc map[string]*model.Profiles

// Namespaces converts the document form into model namespaces.
func (p ProfilesDoc) Namespaces() model.Namespaces {
	out := make(model.Namespaces, len(p))
	for ns, prof := range p {
		if prof == nil {
			prof = model.NewProfiles()
		}
		out[model.Namespace(strings.ToLower(ns))] = prof
	}
	return out
}

// SiteCatalogDoc is the YAML site catalog.
type SiteCatalogDoc struct {
	Pegasus string    `yaml:"pegasus"`
	Sites   []SiteDoc `yaml:"sites"`
}

// SiteDoc is a single site of the catalog.
type SiteDoc struct {
	Name        string           `yaml:"name"`
	Arch        string           `yaml:"arch"`
	OSType      string           `yaml:"os.type"`
	Directories []pcat.Directory `yaml:"directories"`
	Grids       []pcat.Gateway   `yaml:"grids"`
	Profiles    ProfilesDoc      `yaml:"profiles"`
}

// Entry converts the document into a catalog entry.
func (d SiteDoc) Entry() *pcat.SiteEntry {
	gws := make([]pcat.Gateway, len(d.Grids))
	for i, g := range d.Grids {
		if g.JobType == "" {
			g.JobType = model.GatewayCompute
		}
		if g.Scheduler == "" {
			g.Scheduler = pcat.SchedulerUnknown
		}
		g.Scheduler = strings.ToLower(g.Scheduler)
		gws[i] = g
	}
	return &pcat.SiteEntry{
		Handle:      d.Name,
		Arch:        d.Arch,
		OS:          d.OSType,
		Gateways:    gws,
		Directories: d.Directories,
		Profiles:    d.Profiles.Namespaces(),
	}
}

// ReadSiteCatalog decodes a site catalog.
func ReadSiteCatalog(r io.Reader) (*pcat.SiteStore, error) {
	var doc SiteCatalogDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode site catalog: %w", err)
	}
	store := pcat.NewSiteStore()
	for i, s := range doc.Sites {
		if s.Name == "" {
			return nil, fmt.Errorf("site catalog: sites[%d] has no name", i)
		}
		store.Add(s.Entry())
	}
	return store, nil
}

// LoadSiteCatalog reads a site catalog file. The local site is added when
// the file does not define it.
func LoadSiteCatalog(path string) (*pcat.SiteStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open site catalog: %w", err)
	}
	defer f.Close()
	store, err := ReadSiteCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	EnsureLocalSite(store)
	return store, nil
}

// EnsureLocalSite adds a default local site rooted in the working directory
// when the store has none.
func EnsureLocalSite(store *pcat.SiteStore) {
	if _, ok := store.Lookup(model.LocalSite); ok {
		return
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = os.TempDir()
	}
	store.Add(&pcat.SiteEntry{
		Handle: model.LocalSite,
		Directories: []pcat.Directory{
			{Type: pcat.DirSharedScratch, Path: filepath.Join(wd, "scratch")},
			{Type: pcat.DirLocalStorage, Path: filepath.Join(wd, "output")},
		},
	})
}

// TransformationCatalogDoc is the YAML transformation catalog.
type TransformationCatalogDoc struct {
	Pegasus         string              `yaml:"pegasus"`
	Transformations []TransformationDoc `yaml:"transformations"`
}

// TransformationDoc is one logical transformation with its site entries.
type TransformationDoc struct {
	Namespace string                  `yaml:"namespace"`
	Name      string                  `yaml:"name"`
	Version   string                  `yaml:"version"`
	Requires  []string                `yaml:"requires"`
	Sites     []TransformationSiteDoc `yaml:"sites"`
	Profiles  ProfilesDoc             `yaml:"profiles"`
	Hooks     map[string][]HookDoc    `yaml:"hooks"`
	Metadata  map[string]string       `yaml:"metadata"`
	Checksum  map[string]string       `yaml:"checksum"`
}

// TransformationSiteDoc is a transformation installed or stageable at a site.
type TransformationSiteDoc struct {
	Name      string      `yaml:"name"`
	PFN       string      `yaml:"pfn"`
	Type      string      `yaml:"type"`
	Arch      string      `yaml:"arch"`
	OSType    string      `yaml:"os.type"`
	Container string      `yaml:"container"`
	Profiles  ProfilesDoc `yaml:"profiles"`
}

// HookDoc is a shell hook. On is one of never, start, success, error, end
// or all.
type HookDoc struct {
	On  string `yaml:"_on"`
	Cmd string `yaml:"cmd"`
}

// Ref returns the transformation reference.
func (d TransformationDoc) Ref() model.TransformationRef {
	return model.TransformationRef{Namespace: d.Namespace, Name: d.Name, Version: d.Version}
}

// Entries expands the document into one entry per site. Transformation
// level profiles apply to every site and site profiles override them.
func (d TransformationDoc) Entries() ([]model.TransformationEntry, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("transformation has no name")
	}
	var out []model.TransformationEntry
	for _, s := range d.Sites {
		typ := model.TransformationType(strings.ToLower(s.Type))
		switch typ {
		case "":
			typ = model.TransformationInstalled
		case model.TransformationInstalled, model.TransformationStageable:
		default:
			return nil, fmt.Errorf("transformation %s site %s: unknown type %q", d.Name, s.Name, s.Type)
		}
		profiles := make(model.Namespaces)
		for ns, p := range d.Profiles.Namespaces() {
			profiles[ns] = p.Clone()
		}
		for ns, p := range s.Profiles.Namespaces() {
			if existing, ok := profiles[ns]; ok {
				existing.Merge(p)
			} else {
				profiles[ns] = p.Clone()
			}
		}
		out = append(out, model.TransformationEntry{
			Ref:      d.Ref(),
			Site:     s.Name,
			PFN:      s.PFN,
			Type:     typ,
			Arch:     s.Arch,
			OS:       s.OSType,
			Profiles: profiles,
		})
	}
	return out, nil
}

// Notifications converts the hooks into notifications.
func (d TransformationDoc) Notifications() []model.Notification {
	return HooksToNotifications(d.Hooks)
}

// HooksToNotifications flattens shell hooks keyed by event.
func HooksToNotifications(hooks map[string][]HookDoc) []model.Notification {
	var out []model.Notification
	for _, h := range hooks["shell"] {
		when := h.On
		if when == "" {
			when = "end"
		}
		out = append(out, model.Notification{When: when, Invoke: h.Cmd})
	}
	return out
}

// ReadTransformationCatalog decodes a transformation catalog.
func ReadTransformationCatalog(r io.Reader) (*model.TransformationStore, error) {
	var doc TransformationCatalogDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode transformation catalog: %w", err)
	}
	store := model.NewTransformationStore()
	for _, t := range doc.Transformations {
		entries, err := t.Entries()
		if err != nil {
			return nil, fmt.Errorf("transformation catalog: %w", err)
		}
		for _, e := range entries {
			store.Add(e)
		}
	}
	return store, nil
}

// LoadTransformationCatalog reads a transformation catalog file.
func LoadTransformationCatalog(path string) (*model.TransformationStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transformation catalog: %w", err)
	}
	defer f.Close()
	store, err := ReadTransformationCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return store, nil
}
