package credential

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/me/wfplan/pkg/model"
)

// Applier attaches the credentials a job declares to its scheduler
// attributes and environment.
type Applier struct {
	factory *Factory
	encrypt bool
	logger  *slog.Logger
}

// NewApplier creates an Applier. With encrypt set every credential file
// shipped with a job is also listed in encrypt_input_files.
func NewApplier(factory *Factory, encrypt bool, logger *slog.Logger) *Applier {
	return &Applier{
		factory: factory,
		encrypt: encrypt,
		logger:  logger.With("component", "credential"),
	}
}

// Apply resolves every (site, type) credential of job. Jobs executing on
// the submit host reference credentials in place; others get them through
// the scheduler's file transfer with the environment pointing at the
// transferred basename.
func (a *Applier) Apply(job *model.Job, localExec bool) error {
	var transfer []string
	seen := make(map[string]bool)
	ship := func(path string) {
		if !seen[path] {
			seen[path] = true
			transfer = append(transfer, path)
		}
	}

	for _, ref := range job.Credentials() {
		h, err := a.factory.Get(ref.Type)
		if err != nil {
			return &model.ConfigError{JobID: job.Label(), Site: ref.Site, Msg: err.Error()}
		}
		path := h.Path(ref.Site)
		if path == "" {
			if ref.Type == model.CredentialHTTP {
				a.logger.Warn("no http credential configured", "job", job.Name, "site", ref.Site, "key", h.ProfileKey())
				continue
			}
			return &model.ConfigError{
				JobID: job.Label(),
				Key:   h.ProfileKey(),
				Site:  ref.Site,
				Msg:   fmt.Sprintf("no %s credential found; set env profile %s for the site", ref.Type, h.ProfileKey()),
			}
		}
		if err := h.Verify(path); err != nil {
			return &model.ConfigError{JobID: job.Label(), Key: h.ProfileKey(), Site: ref.Site, Msg: err.Error()}
		}

		switch ref.Type {
		case model.CredentialX509:
			if current := job.Condor.Value(model.CondorX509UserProxy); current == "" || current == path {
				job.Condor.Construct(model.CondorX509UserProxy, path)
				continue
			}
			// The submission proxy differs from the one the job needs.
		case model.CredentialHTTP:
			hh, ok := h.(*HTTPHandler)
			if !ok || !hh.Matches(ref.Site, job.DataEndpoints[ref.Site]) {
				a.logger.Warn("http credential not associated with any endpoint of the job",
					"job", job.Name, "site", ref.Site, "path", path)
				continue
			}
		}

		if localExec {
			job.Env.Construct(h.EnvVar(), path)
			continue
		}
		ship(path)
		job.Env.Construct(h.EnvVar(), filepath.Base(path))
	}

	if len(transfer) == 0 {
		return nil
	}
	job.Condor.AddInputFilesForTransfer(transfer...)
	if a.encrypt {
		job.Condor.Construct(model.CondorEncryptInputFiles, mergeList(job.Condor.Value(model.CondorEncryptInputFiles), transfer))
	}
	a.logger.Debug("credentials attached", "job", job.Name, "files", len(transfer))
	return nil
}

func mergeList(existing string, add []string) string {
	list := model.SplitFileList(existing)
	seen := make(map[string]bool, len(list))
	for _, f := range list {
		seen[f] = true
	}
	for _, f := range add {
		if !seen[f] {
			seen[f] = true
			list = append(list, f)
		}
	}
	return strings.Join(list, ",")
}

// ApplySubmission resolves the credential the scheduler uses to submit job
// through a remote gateway. The credential lives on the submit host.
func (a *Applier) ApplySubmission(job *model.Job) error {
	if job.SubmissionCredential == "" {
		return nil
	}
	h, err := a.factory.Get(job.SubmissionCredential)
	if err != nil {
		return &model.ConfigError{JobID: job.Label(), Site: job.SiteHandle, Msg: err.Error()}
	}
	path := h.Path(model.LocalSite)
	if path == "" {
		return &model.ConfigError{
			JobID: job.Label(),
			Key:   h.ProfileKey(),
			Site:  model.LocalSite,
			Msg:   fmt.Sprintf("no %s submission credential for site %s", job.SubmissionCredential, job.SiteHandle),
		}
	}
	if err := h.Verify(path); err != nil {
		return &model.ConfigError{JobID: job.Label(), Key: h.ProfileKey(), Site: model.LocalSite, Msg: err.Error()}
	}
	if job.SubmissionCredential == model.CredentialX509 && !job.Condor.Contains(model.CondorX509UserProxy) {
		job.Condor.Construct(model.CondorX509UserProxy, path)
	}
	return nil
}
