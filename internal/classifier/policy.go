package classifier

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicyData []byte

// Policy is the decline vocabulary. The rule order itself is fixed in Rules.
type Policy struct {
	PrereleaseTerms       []string `yaml:"prerelease_terms"`
	ARM64Terms            []string `yaml:"arm64_terms"`
	X86Terms              []string `yaml:"x86_terms"`
	ObsoleteVersions      []string `yaml:"obsolete_versions"`
	LanguagePackTerms     []string `yaml:"language_pack_terms"`
	DriverClassifications []string `yaml:"driver_classifications"`
}

// DefaultPolicy returns the embedded policy.
func DefaultPolicy() Policy {
	p, err := parse(defaultPolicyData)
	if err != nil {
		panic(fmt.Sprintf("embedded decline policy: %v", err))
	}
	return p
}

// DefaultYAML returns the embedded policy file.
func DefaultYAML() string {
	return string(defaultPolicyData)
}

// LoadPolicy returns the default policy overlaid with the file at path.
// A list present in the file replaces the default list; absent lists keep
// their defaults. An empty path returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	base := DefaultPolicy()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read policy: %w", err)
	}
	override, err := parse(data)
	if err != nil {
		return base, fmt.Errorf("parse policy %s: %w", path, err)
	}
	merge(&base, override)

	if err := base.Validate(); err != nil {
		return base, fmt.Errorf("policy %s: %w", path, err)
	}
	return base, nil
}

func parse(data []byte) (Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, err
	}
	return p, nil
}

func merge(base *Policy, override Policy) {
	if override.PrereleaseTerms != nil {
		base.PrereleaseTerms = override.PrereleaseTerms
	}
	if override.ARM64Terms != nil {
		base.ARM64Terms = override.ARM64Terms
	}
	if override.X86Terms != nil {
		base.X86Terms = override.X86Terms
	}
	if override.ObsoleteVersions != nil {
		base.ObsoleteVersions = override.ObsoleteVersions
	}
	if override.LanguagePackTerms != nil {
		base.LanguagePackTerms = override.LanguagePackTerms
	}
	if override.DriverClassifications != nil {
		base.DriverClassifications = override.DriverClassifications
	}
}

// Validate rejects blank terms, which would otherwise match every title.
func (p Policy) Validate() error {
	var errs []error
	check := func(key string, terms []string) {
		for i, t := range terms {
			if strings.TrimSpace(t) == "" {
				errs = append(errs, fmt.Errorf("%s[%d] is empty", key, i))
			}
		}
	}
	check("prerelease_terms", p.PrereleaseTerms)
	check("arm64_terms", p.ARM64Terms)
	check("x86_terms", p.X86Terms)
	check("obsolete_versions", p.ObsoleteVersions)
	check("language_pack_terms", p.LanguagePackTerms)
	check("driver_classifications", p.DriverClassifications)
	return errors.Join(errs...)
}

// ToYAML renders the policy.
func (p Policy) ToYAML() (string, error) {
	out, err := yaml.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
