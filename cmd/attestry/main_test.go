package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/attestry/attestry/pkg/config"
	"github.com/attestry/attestry/pkg/service"
)

func TestRun_NoArgs(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := Run([]string{"attestry"}, &stdout, &stderr)
	if code != 2 {
		t.Errorf("exit = %d, want 2", code)
	}
	if !strings.Contains(stdout.String(), "USAGE") {
		t.Errorf("usage not printed:\n%s", stdout.String())
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := Run([]string{"attestry", "frobnicate"}, &stdout, &stderr)
	if code != 2 {
		t.Errorf("exit = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command: frobnicate") {
		t.Errorf("stderr = %s", stderr.String())
	}
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := Run([]string{"attestry", "version"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), config.EngineVersion) {
		t.Errorf("version output = %q", stdout.String())
	}
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := Run([]string{"attestry", "help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	for _, cmd := range []string{"verify", "audit", "checkpoint", "trust", "proof"} {
		if !strings.Contains(stdout.String(), cmd) {
			t.Errorf("help does not mention %q", cmd)
		}
	}
}

func TestBuildRequest_WrapsBareCapsule(t *testing.T) {
	raw := []byte(`{"receipt_id":"r-1","platform":"platform.example"}`)

	out := buildRequest(raw, "req-9", true, false)

	var full map[string]json.RawMessage
	if err := json.Unmarshal(out, &full); err != nil {
		t.Fatalf("wrapped request is not JSON: %v", err)
	}
	if string(full["request_id"]) != `"req-9"` {
		t.Errorf("request_id = %s", full["request_id"])
	}
	if !bytes.Equal(full["capsule"], raw) {
		t.Errorf("capsule mutated: %s", full["capsule"])
	}

	var opts service.VerifyOptions
	if err := json.Unmarshal(full["options"], &opts); err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.VerifySignature == nil || *opts.VerifySignature {
		t.Error("verify_signature should be pinned false")
	}
	if opts.VerifyChain != nil {
		t.Error("verify_chain should be left unset")
	}
}

func TestBuildRequest_PassesThroughFullRequest(t *testing.T) {
	raw := []byte(`{"request_id":"req-1","capsule":{"receipt_id":"r-1"}}`)

	out := buildRequest(raw, "ignored", true, true)
	if !bytes.Equal(out, raw) {
		t.Errorf("full request should pass through untouched, got %s", out)
	}
}

func TestBuildRequest_MalformedInputUntouched(t *testing.T) {
	raw := []byte(`{"capsule": not json`)

	// Malformed bytes go to the engine as-is so the schema layer can
	// report BAD_SCHEMA instead of the CLI inventing its own error.
	out := buildRequest(raw, "", false, false)
	if !bytes.Equal(out, raw) {
		t.Errorf("malformed input should pass through, got %s", out)
	}
}
