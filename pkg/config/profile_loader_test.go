package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/attestry/attestry/pkg/contracts"
)

const exampleProfile = `name: Example Assistant Platform
code: example
min_engine: ">= 0.1.0"
disclosure_mode: hidden
trusted_issuers:
  - platform.example
keys:
  - key_id: key-2026-a
    issuer_id: platform.example
    issuer_label: Example Platform
    public_key_pem: |
      -----BEGIN PUBLIC KEY-----
      MCowBQYDK2VwAyEAexamplekeymaterial0000000000
      -----END PUBLIC KEY-----
    valid_from: 2026-01-02T00:00:00Z
unlock_rules:
  - overall == 'VERIFIED'
`

func writeProfile(t *testing.T, dir, code, content string) {
	t.Helper()
	path := filepath.Join(dir, "profile_"+code+".yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
}

func TestLoadProfile_Full(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "example", exampleProfile)

	p, err := LoadProfile(dir, "example")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}

	if p.Name != "Example Assistant Platform" {
		t.Errorf("Name = %q", p.Name)
	}
	if p.Code != "example" {
		t.Errorf("Code = %q", p.Code)
	}
	if p.DisclosureMode != "hidden" {
		t.Errorf("DisclosureMode = %q", p.DisclosureMode)
	}
	if len(p.TrustedIssuers) != 1 || p.TrustedIssuers[0] != "platform.example" {
		t.Errorf("TrustedIssuers = %v", p.TrustedIssuers)
	}
	if len(p.UnlockRules) != 1 {
		t.Errorf("UnlockRules = %v", p.UnlockRules)
	}

	if len(p.Keys) != 1 {
		t.Fatalf("len(Keys) = %d", len(p.Keys))
	}
	key := p.Keys[0]
	if key.KeyID != "key-2026-a" || key.IssuerID != "platform.example" {
		t.Errorf("key = %+v", key)
	}
	if !strings.Contains(key.PublicKeyPEM, "BEGIN PUBLIC KEY") {
		t.Errorf("PublicKeyPEM = %q", key.PublicKeyPEM)
	}
	wantFrom := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	if !key.ValidFrom.Equal(wantFrom) {
		t.Errorf("ValidFrom = %s, want %s", key.ValidFrom, wantFrom)
	}

	entries := p.KeyEntries()
	if len(entries) != 1 {
		t.Fatalf("len(KeyEntries) = %d", len(entries))
	}
	if entries[0].Status != contracts.KeyStatusActive {
		t.Errorf("entry status = %s", entries[0].Status)
	}
	if entries[0].PublicKeyPEM != key.PublicKeyPEM {
		t.Error("entry PEM does not match profile key")
	}
}

func TestLoadProfile_CodeFromFilename(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "acme", "name: Acme\ntrusted_issuers:\n  - acme.issuer\n")

	p, err := LoadProfile(dir, "ACME")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.Code != "acme" {
		t.Errorf("Code = %q, want acme", p.Code)
	}
}

func TestLoadProfile_Missing(t *testing.T) {
	if _, err := LoadProfile(t.TempDir(), "nope"); err == nil {
		t.Fatal("expected error for missing profile")
	}
}

func TestLoadProfile_RejectsFutureEngine(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "future", "name: Future\nmin_engine: \">= 99.0.0\"\n")

	_, err := LoadProfile(dir, "future")
	if err == nil || !strings.Contains(err.Error(), "requires engine") {
		t.Fatalf("expected engine constraint rejection, got %v", err)
	}
}

func TestLoadProfile_RejectsBadConstraint(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "bad", "name: Bad\nmin_engine: \"not-a-range\"\n")

	_, err := LoadProfile(dir, "bad")
	if err == nil || !strings.Contains(err.Error(), "invalid engine constraint") {
		t.Fatalf("expected invalid constraint error, got %v", err)
	}
}

func TestLoadProfile_RejectsUnknownDisclosureMode(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "mode", "name: Mode\ndisclosure_mode: translucent\n")

	_, err := LoadProfile(dir, "mode")
	if err == nil || !strings.Contains(err.Error(), "unknown disclosure mode") {
		t.Fatalf("expected disclosure mode rejection, got %v", err)
	}
}

func TestLoadProfile_RejectsIncompleteKey(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "nokey", `name: NoKey
keys:
  - key_id: key-1
    issuer_id: ""
    public_key_pem: pem
`)

	_, err := LoadProfile(dir, "nokey")
	if err == nil || !strings.Contains(err.Error(), "issuer_id is required") {
		t.Fatalf("expected issuer_id rejection, got %v", err)
	}
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "example", exampleProfile)
	writeProfile(t, dir, "acme", "name: Acme\n")

	profiles, err := LoadAllProfiles(dir)
	if err != nil {
		t.Fatalf("LoadAllProfiles: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("len(profiles) = %d, want 2", len(profiles))
	}
	if _, ok := profiles["example"]; !ok {
		t.Error("missing example profile")
	}
	if _, ok := profiles["acme"]; !ok {
		t.Error("missing acme profile")
	}
}

func TestLoadAllProfiles_FailsOnOneBadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "good", "name: Good\n")
	writeProfile(t, dir, "bad", "name: Bad\nmin_engine: \">= 99.0.0\"\n")

	if _, err := LoadAllProfiles(dir); err == nil {
		t.Fatal("expected error when one profile is rejected")
	}
}

func TestCheckEngine(t *testing.T) {
	p := &TrustProfile{Code: "x", MinEngine: ">= 0.2.0, < 1.0.0"}

	if err := p.CheckEngine("0.3.0"); err != nil {
		t.Errorf("0.3.0 should satisfy %q: %v", p.MinEngine, err)
	}
	if err := p.CheckEngine("1.2.0"); err == nil {
		t.Errorf("1.2.0 should violate %q", p.MinEngine)
	}
	if err := p.CheckEngine("0.1.0"); err == nil {
		t.Errorf("0.1.0 should violate %q", p.MinEngine)
	}

	none := &TrustProfile{Code: "y"}
	if err := none.CheckEngine("0.0.1"); err != nil {
		t.Errorf("profile without constraint should accept any engine: %v", err)
	}
}
