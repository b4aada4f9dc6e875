package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/attestry/attestry/pkg/contracts"
)

// TrustProfile seeds trust state for one platform or tenant: the signing
// keys to register, the issuers to trust, and optional gate tightening.
type TrustProfile struct {
	Name           string       `yaml:"name" json:"name"`
	Code           string       `yaml:"code" json:"code"`
	MinEngine      string       `yaml:"min_engine,omitempty" json:"min_engine,omitempty"`
	DisclosureMode string       `yaml:"disclosure_mode,omitempty" json:"disclosure_mode,omitempty"`
	TrustedIssuers []string     `yaml:"trusted_issuers,omitempty" json:"trusted_issuers,omitempty"`
	Keys           []ProfileKey `yaml:"keys,omitempty" json:"keys,omitempty"`
	UnlockRules    []string     `yaml:"unlock_rules,omitempty" json:"unlock_rules,omitempty"`
}

// ProfileKey is a governed public key declared by a trust profile.
type ProfileKey struct {
	KeyID        string     `yaml:"key_id" json:"key_id"`
	IssuerID     string     `yaml:"issuer_id" json:"issuer_id"`
	IssuerLabel  string     `yaml:"issuer_label,omitempty" json:"issuer_label,omitempty"`
	PublicKeyPEM string     `yaml:"public_key_pem" json:"public_key_pem"`
	ValidFrom    time.Time  `yaml:"valid_from,omitempty" json:"valid_from,omitempty"`
	ValidTo      *time.Time `yaml:"valid_to,omitempty" json:"valid_to,omitempty"`
}

// LoadProfile loads a trust profile YAML by code. It searches the profiles
// directory for profile_<code>.yaml and rejects profiles that fail
// validation or exclude the running engine version.
func LoadProfile(profilesDir, code string) (*TrustProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	profile, err := parseProfile(data, code)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", code, err)
	}
	return profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the profiles directory,
// keyed by profile code. A single bad profile fails the whole load; partial
// trust state is worse than none.
func LoadAllProfiles(profilesDir string) (map[string]*TrustProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*TrustProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		base := filepath.Base(path)
		code := strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		profile, err := parseProfile(data, code)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", path, err)
		}
		profiles[profile.Code] = profile
	}

	return profiles, nil
}

func parseProfile(data []byte, fallbackCode string) (*TrustProfile, error) {
	var profile TrustProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if profile.Code == "" {
		profile.Code = fallbackCode
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if err := profile.CheckEngine(EngineVersion); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Validate checks the structural requirements a profile must meet before it
// can seed the registry. Key material is parsed later, at registration.
func (p *TrustProfile) Validate() error {
	if p.Code == "" {
		return errors.New("profile code is required")
	}
	if p.DisclosureMode != "" {
		switch contracts.TranscriptMode(p.DisclosureMode) {
		case contracts.ModeFull, contracts.ModeRedacted, contracts.ModeHidden:
		default:
			return fmt.Errorf("unknown disclosure mode %q", p.DisclosureMode)
		}
	}
	for i, k := range p.Keys {
		if k.KeyID == "" {
			return fmt.Errorf("key %d: key_id is required", i)
		}
		if k.IssuerID == "" {
			return fmt.Errorf("key %s: issuer_id is required", k.KeyID)
		}
		if k.PublicKeyPEM == "" {
			return fmt.Errorf("key %s: public_key_pem is required", k.KeyID)
		}
	}
	return nil
}

// CheckEngine verifies the profile's engine constraint against version.
// Profiles without a constraint accept any engine.
func (p *TrustProfile) CheckEngine(version string) error {
	if p.MinEngine == "" {
		return nil
	}
	c, err := semver.NewConstraint(p.MinEngine)
	if err != nil {
		return fmt.Errorf("invalid engine constraint %q: %w", p.MinEngine, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid engine version %q: %w", version, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("requires engine %q, running %s", p.MinEngine, version)
	}
	return nil
}

// KeyEntries converts the profile's keys into registry entries. Entries get
// ACTIVE status; window defaults are filled in at registration.
func (p *TrustProfile) KeyEntries() []contracts.KeyEntry {
	entries := make([]contracts.KeyEntry, 0, len(p.Keys))
	for _, k := range p.Keys {
		entries = append(entries, contracts.KeyEntry{
			KeyID:        k.KeyID,
			PublicKeyPEM: k.PublicKeyPEM,
			IssuerID:     k.IssuerID,
			IssuerLabel:  k.IssuerLabel,
			Status:       contracts.KeyStatusActive,
			ValidFrom:    k.ValidFrom,
			ValidTo:      k.ValidTo,
		})
	}
	return entries
}
