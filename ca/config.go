package ca

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jmcleod/certhand/internal/fsutil"
)

// Subject holds the distinguished-name template fields an authority
// stamps on issued certificates. Any field a request sets overrides the
// authority default for that field only.
type Subject struct {
	Country            string `yaml:"country,omitempty"`
	Province           string `yaml:"province,omitempty"`
	Locality           string `yaml:"locality,omitempty"`
	Organization       string `yaml:"organization,omitempty"`
	OrganizationalUnit string `yaml:"organizational_unit,omitempty"`
}

// Merge returns s with every unset field filled from defaults.
func (s Subject) Merge(defaults Subject) Subject {
	if s.Country == "" {
		s.Country = defaults.Country
	}
	if s.Province == "" {
		s.Province = defaults.Province
	}
	if s.Locality == "" {
		s.Locality = defaults.Locality
	}
	if s.Organization == "" {
		s.Organization = defaults.Organization
	}
	if s.OrganizationalUnit == "" {
		s.OrganizationalUnit = defaults.OrganizationalUnit
	}
	return s
}

// Key-source kinds for KeyConfig.
const (
	KeySourceSoftware = "software"
	KeySourcePKCS11   = "pkcs11"
)

// KeyConfig selects where the authority's private key lives. The choice
// is explicit: a pkcs11 configuration never falls back to software keys.
type KeyConfig struct {
	// Source is "software" or "pkcs11". Empty means software.
	Source string `yaml:"source,omitempty"`

	// Module is the path to the PKCS#11 shared library.
	Module string `yaml:"module,omitempty"`

	// TokenLabel identifies the token/slot by label.
	TokenLabel string `yaml:"token_label,omitempty"`

	// PINEnv names the environment variable holding the token PIN. The
	// PIN itself is never written to disk.
	PINEnv string `yaml:"pin_env,omitempty"`
}

// Config is the persistent configuration of one authority directory,
// stored as ca.yaml at the directory root.
type Config struct {
	// Label is the authority's short name, normalized with SafeName.
	Label string `yaml:"label"`

	// Domain is the DNS name used to build CRL distribution point URLs.
	Domain string `yaml:"domain"`

	// Subject holds the default distinguished-name template.
	Subject Subject `yaml:"subject"`

	// Key selects the key source.
	Key KeyConfig `yaml:"key"`

	// ValidityDays is the default validity period for issued
	// certificates. Zero means 365.
	ValidityDays int `yaml:"validity_days,omitempty"`
}

const configFileName = "ca.yaml"

// Validate normalizes the label and checks the fields every operation
// depends on.
func (c *Config) Validate() error {
	if c.Label == "" {
		return fmt.Errorf("%w: label is required", ErrInputValidation)
	}
	c.Label = SafeName(c.Label)
	if c.Domain == "" {
		return ErrDomainRequired
	}
	switch c.Key.Source {
	case "", KeySourceSoftware:
		c.Key.Source = KeySourceSoftware
	case KeySourcePKCS11:
		if c.Key.Module == "" {
			return fmt.Errorf("%w: pkcs11 key source requires a module path", ErrInputValidation)
		}
	default:
		return fmt.Errorf("%w: unknown key source %q", ErrInputValidation, c.Key.Source)
	}
	if c.ValidityDays == 0 {
		c.ValidityDays = 365
	}
	return nil
}

func loadConfig(dir string) (Config, error) {
	data, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		return Config{}, fmt.Errorf("reading authority config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding authority config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) save(dir string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding authority config: %w", err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, configFileName), data, 0o644)
}
