package credential

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/me/wfplan/pkg/catalog"
	"github.com/me/wfplan/pkg/model"
)

// Env profile keys naming the credential file for each type. The same names
// are exported to jobs.
const (
	EnvX509        = "X509_USER_PROXY"
	EnvSSH         = "SSH_PRIVATE_KEY"
	EnvIRODS       = "IRODS_ENVIRONMENT_FILE"
	EnvS3          = "S3CFG"
	EnvBoto        = "BOTO_CONFIG"
	EnvGoogleP12   = "GOOGLE_PKCS12"
	EnvHTTP        = "PEGASUS_HTTP_CREDENTIALS"
	EnvCredentials = "PEGASUS_CREDENTIALS"
)

// Factory hands out the handler for a credential type.
type Factory struct {
	handlers map[model.CredentialType]Handler
}

// FactoryOption configures a Factory.
type FactoryOption func(*factoryConfig)

type factoryConfig struct {
	getenv func(string) string
}

// WithGetenv replaces os.Getenv as the source of the planner environment.
func WithGetenv(fn func(string) string) FactoryOption {
	return func(c *factoryConfig) { c.getenv = fn }
}

// NewFactory creates handlers for every supported credential type backed by
// the site catalog.
func NewFactory(sites catalog.SiteCatalog, logger *slog.Logger, opts ...FactoryOption) *Factory {
	cfg := factoryConfig{getenv: os.Getenv}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger = logger.With("component", "credential")

	file := func(t model.CredentialType, key string, def func() string, strict bool) *FileHandler {
		return &FileHandler{
			typ:         t,
			key:         key,
			defaultPath: def,
			strictPerms: strict,
			sites:       sites,
			getenv:      cfg.getenv,
			logger:      logger,
		}
	}
	f := &Factory{handlers: make(map[model.CredentialType]Handler)}
	for _, h := range []Handler{
		file(model.CredentialX509, EnvX509, x509DefaultPath, true),
		file(model.CredentialSSH, EnvSSH, nil, true),
		file(model.CredentialIRODS, EnvIRODS, homePath(".irods", "irods_environment.json"), false),
		file(model.CredentialS3, EnvS3, homePath(".s3cfg"), false),
		file(model.CredentialBoto, EnvBoto, homePath(".boto"), false),
		file(model.CredentialGoogleP12, EnvGoogleP12, nil, true),
		&HTTPHandler{FileHandler: file(model.CredentialHTTP, EnvHTTP, nil, false)},
		file(model.CredentialCredentials, EnvCredentials, homePath(".pegasus", "credentials.conf"), true),
	} {
		f.handlers[h.Type()] = h
	}
	return f
}

// Get returns the handler for t.
func (f *Factory) Get(t model.CredentialType) (Handler, error) {
	h, ok := f.handlers[t]
	if !ok {
		return nil, fmt.Errorf("no handler for credential type %q", t)
	}
	return h, nil
}

// ForURL returns the credential type needed to access rawURL, if any.
func ForURL(rawURL string) (model.CredentialType, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "gsiftp", "gridftp", "srm", "xroot":
		return model.CredentialX509, true
	case "s3", "s3s":
		return model.CredentialS3, true
	case "scp", "sftp", "sshftp":
		return model.CredentialSSH, true
	case "irods":
		return model.CredentialIRODS, true
	case "gs":
		return model.CredentialGoogleP12, true
	case "http", "https", "webdav", "webdavs":
		return model.CredentialHTTP, true
	}
	return "", false
}
