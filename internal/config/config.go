package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/me/wfplan/pkg/model"
)

// PlannerConfig holds configuration for a planning run.
type PlannerConfig struct {
	LogLevel  string `yaml:"log_level"`  // Log level: debug, info, warn, error
	LogFormat string `yaml:"log_format"` // Log format: text, json

	SiteCatalog           string `yaml:"site_catalog"`
	TransformationCatalog string `yaml:"transformation_catalog"`
	DBPath                string `yaml:"db"` // Plan and replica database (":memory:" for testing)

	SubmitDir    string `yaml:"submit_dir"`
	OutputYAML   string `yaml:"output_yaml"`   // Dump the planned workflow here when set
	BinDir       string `yaml:"bin_dir"`       // Location of the local job wrapper; defaults to the executable's dir
	ExecSite     string `yaml:"exec_site"`     // Site for jobs without an execution.site hint
	StagingSite  string `yaml:"staging_site"`  // Defaults to the execution site
	OutputSite   string `yaml:"output_site"`   // Receives staged out outputs
	DefaultStyle string `yaml:"default_style"` // Style for sites that name none

	JobPrefix            string `yaml:"job_prefix"`
	AutoDataDependencies bool   `yaml:"auto_data_dependencies"`
	ValidateSchema       bool   `yaml:"validate_schema"`

	Refiner            string `yaml:"refiner"` // basic, bundle, cluster or condor
	LocalTransfers     bool   `yaml:"local_transfers"`
	StageInBundle      int    `yaml:"stagein_bundle"`
	StageOutBundle     int    `yaml:"stageout_bundle"`
	CreateRegistration bool   `yaml:"create_registration"`
	EncryptCredentials bool   `yaml:"encrypt_credentials"`
}

// DefaultPlannerConfig returns sensible defaults.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		LogLevel:           "info",
		LogFormat:          "text",
		SubmitDir:          ".",
		ExecSite:           model.LocalSite,
		OutputSite:         model.LocalSite,
		DefaultStyle:       string(model.StyleCondor),
		ValidateSchema:     true,
		Refiner:            "bundle",
		LocalTransfers:     true,
		StageInBundle:      2,
		StageOutBundle:     2,
		CreateRegistration: true,
	}
}

// LoadFile overlays the YAML properties file at path onto cfg. Keys absent
// from the file keep their current values.
func LoadFile(path string, cfg *PlannerConfig) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c PlannerConfig) Validate() error {
	var err error
	switch strings.ToLower(c.Refiner) {
	case "basic", "bundle", "condor", "cluster":
	default:
		err = multierr.Append(err, &model.ConfigError{Key: "refiner", Msg: fmt.Sprintf("unknown refiner %q", c.Refiner)})
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		err = multierr.Append(err, &model.ConfigError{Key: "log_format", Msg: fmt.Sprintf("unknown log format %q", c.LogFormat)})
	}
	if c.StageInBundle < 1 {
		err = multierr.Append(err, &model.ConfigError{Key: "stagein_bundle", Msg: "must be at least 1"})
	}
	if c.StageOutBundle < 1 {
		err = multierr.Append(err, &model.ConfigError{Key: "stageout_bundle", Msg: "must be at least 1"})
	}
	if c.ExecSite == "" {
		err = multierr.Append(err, &model.ConfigError{Key: "exec_site", Msg: "is required"})
	}
	return err
}
