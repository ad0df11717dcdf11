package v1

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/djcass44/upkeep/pkg/airutil"
	"github.com/djcass44/upkeep/pkg/deltacodec"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/yaml"
)

func DefaultConfigSpec() ConfigSpec {
	retries := 3
	return ConfigSpec{
		LockTimeout:      metav1.Duration{Duration: 30 * time.Second},
		HookTimeout:      metav1.Duration{Duration: 15 * time.Second},
		Retries:          &retries,
		MaxPatchRatio:    deltacodec.DefaultMaxPatchRatio,
		PatchCompression: deltacodec.CompressionZstd.String(),
		KeepVersions:     1,
	}
}

// Default fills unset fields from DefaultConfigSpec.
func (c *ConfigSpec) Default() {
	def := DefaultConfigSpec()
	if c.LockTimeout.Duration <= 0 {
		c.LockTimeout = def.LockTimeout
	}
	if c.HookTimeout.Duration <= 0 {
		c.HookTimeout = def.HookTimeout
	}
	if c.Retries == nil {
		c.Retries = def.Retries
	}
	if c.MaxPatchRatio <= 0 {
		c.MaxPatchRatio = def.MaxPatchRatio
	}
	if c.PatchCompression == "" {
		c.PatchCompression = def.PatchCompression
	}
	if c.KeepVersions <= 0 {
		c.KeepVersions = def.KeepVersions
	}
}

// ExpandEnv substitutes environment references in path-like
// fields.
func (c *ConfigSpec) ExpandEnv() {
	airutil.ExpandEnvAll(&c.AppID, &c.Root, &c.Source)
}

func (c *ConfigSpec) Validate() error {
	var errs []error
	if c.AppID == "" {
		errs = append(errs, errors.New("appId is required"))
	}
	if c.Root == "" {
		errs = append(errs, errors.New("root is required"))
	}
	for name, val := range map[string]string{"appId": c.AppID, "root": c.Root, "source": c.Source} {
		if airutil.Unexpanded(val) {
			errs = append(errs, fmt.Errorf("%s has an unexpanded variable reference (use ${VAR}): %q", name, val))
		}
	}
	if c.Retries != nil && *c.Retries < 0 {
		errs = append(errs, errors.New("retries must not be negative"))
	}
	if _, err := deltacodec.ParseCompression(c.PatchCompression); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ReadConfig decodes a YAML or JSON configuration document,
// applies defaults and expands environment references.
func ReadConfig(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewYAMLOrJSONDecoder(r, 4).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Kind != "" && cfg.Kind != KindConfig {
		return nil, fmt.Errorf("unexpected kind: %q", cfg.Kind)
	}
	cfg.Spec.Default()
	cfg.Spec.ExpandEnv()
	if err := cfg.Spec.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func ReadConfigFile(path string) (*Config, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()
	return ReadConfig(f)
}
