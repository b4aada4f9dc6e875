package service

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/attestry/attestry/pkg/contracts"
)

//go:embed verify_request.schema.json
var verifyRequestSchema string

const requestSchemaURL = "https://attestry.schemas.local/verify_request.schema.json"

// VerifyOptions selects which layers a verification evaluates. Nil fields
// mean the default: verify. An explicit false on VerifySignature is a bypass
// and caps the verdict at UNVERIFIED.
type VerifyOptions struct {
	VerifySignature *bool `json:"verify_signature,omitempty"`
	VerifyChain     *bool `json:"verify_chain,omitempty"`
}

// VerificationRequest is the engine's verification input. RequestID is
// optional; when the caller supplies one, repeated requests with the same id
// return the first recorded result.
type VerificationRequest struct {
	RequestID string            `json:"request_id,omitempty"`
	Capsule   contracts.Capsule `json:"capsule"`
	Options   VerifyOptions     `json:"options"`
}

func (o VerifyOptions) bypassSignature() bool {
	return o.VerifySignature != nil && !*o.VerifySignature
}

func (o VerifyOptions) skipChain() bool {
	return o.VerifyChain != nil && !*o.VerifyChain
}

// compileRequestSchema compiles the embedded request schema once at service
// construction.
func compileRequestSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(requestSchemaURL, strings.NewReader(verifyRequestSchema)); err != nil {
		return nil, fmt.Errorf("request schema load failed: %w", err)
	}
	schema, err := c.Compile(requestSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("request schema compile failed: %w", err)
	}
	return schema, nil
}

// validateRequest checks req against the request schema and returns a
// human-readable reason when it is malformed. The typed form re-marshals to
// generic JSON first, so typed and raw callers hit identical rules.
func (s *Service) validateRequest(req VerificationRequest) string {
	if req.Capsule.CapturedAt.IsZero() {
		// A zero time round-trips as a syntactically valid date, so the
		// schema alone cannot catch it on the typed path.
		return "capsule.captured_at is required"
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Sprintf("request not serializable: %v", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Sprintf("request not decodable: %v", err)
	}
	return s.validateDecoded(decoded)
}

func (s *Service) validateDecoded(decoded any) string {
	if err := s.schema.Validate(decoded); err != nil {
		return schemaFailure(err)
	}
	return ""
}

// schemaFailure flattens a jsonschema validation error into its most
// specific leaf message.
func schemaFailure(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
	loc = strings.ReplaceAll(loc, "/", ".")
	if loc == "" {
		return leaf.Message
	}
	return fmt.Sprintf("%s: %s", loc, leaf.Message)
}
