// Package credential locates the credentials jobs need at runtime and
// attaches them to the job's scheduler attributes.
package credential

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/me/wfplan/pkg/catalog"
	"github.com/me/wfplan/pkg/model"
)

// Handler resolves and checks one type of credential.
type Handler interface {
	Type() model.CredentialType
	// ProfileKey is the site catalog env profile that overrides the path.
	ProfileKey() string
	// EnvVar is the variable exported to jobs that use the credential.
	EnvVar() string
	// Path returns the credential path for site, or "" when none resolves.
	Path(site string) string
	Verify(path string) error
}

// FileHandler is a credential stored in a single file.
type FileHandler struct {
	typ         model.CredentialType
	key         string
	defaultPath func() string
	strictPerms bool

	sites  catalog.SiteCatalog
	getenv func(string) string
	logger *slog.Logger
}

var _ Handler = (*FileHandler)(nil)

// Type returns the credential type.
func (h *FileHandler) Type() model.CredentialType { return h.typ }

// ProfileKey returns the env profile key.
func (h *FileHandler) ProfileKey() string { return h.key }

// EnvVar returns the exported variable name.
func (h *FileHandler) EnvVar() string { return h.key }

// Path looks the credential up in the site's env profiles, then for the
// local site in the planner environment, then at the conventional default
// location on the submit host.
func (h *FileHandler) Path(site string) string {
	if h.sites != nil {
		if entry, ok := h.sites.Lookup(site); ok {
			if v, ok := entry.Profile(model.NamespaceEnv, h.key); ok && v != "" {
				return v
			}
		}
	}
	if site != model.LocalSite {
		return ""
	}
	if v := h.getenv(h.key); v != "" {
		return v
	}
	if h.defaultPath != nil {
		return h.defaultPath()
	}
	return ""
}

// Verify checks the credential file exists. Files readable by group or
// others are accepted with a warning for private key material.
func (h *FileHandler) Verify(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s credential %s: %w", h.typ, path, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%s credential %s is a directory", h.typ, path)
	}
	if h.strictPerms && fi.Mode().Perm()&0o077 != 0 {
		h.logger.Warn("credential is accessible by group or others",
			"type", h.typ, "path", path, "mode", fi.Mode().Perm().String())
	}
	return nil
}

// HTTPHandler is a credential file for HTTP endpoints. It applies only to
// URLs under the endpoints recorded for a site.
type HTTPHandler struct {
	*FileHandler
}

// Endpoints returns the URL prefixes the credential covers on site, read
// from the site's pegasus http.endpoints profile (comma separated).
func (h *HTTPHandler) Endpoints(site string) []string {
	if h.sites == nil {
		return nil
	}
	entry, ok := h.sites.Lookup(site)
	if !ok {
		return nil
	}
	v, _ := entry.Profile(model.NamespacePegasus, model.PegasusHTTPEndpoints)
	return model.SplitFileList(v)
}

// Matches reports whether any of the urls falls under an endpoint of site.
func (h *HTTPHandler) Matches(site string, urls []string) bool {
	for _, ep := range h.Endpoints(site) {
		for _, u := range urls {
			if strings.HasPrefix(u, ep) {
				return true
			}
		}
	}
	return false
}

func homePath(parts ...string) func() string {
	return func() string {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return ""
		}
		return filepath.Join(append([]string{home}, parts...)...)
	}
}

func x509DefaultPath() string {
	return filepath.Join(os.TempDir(), "x509up_u"+strconv.Itoa(os.Getuid()))
}
