package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic attribute keys for engine spans and metrics.
var (
	// Receipt attributes
	AttrReceiptID    = attribute.Key("attestry.receipt.id")
	AttrPlatform     = attribute.Key("attestry.receipt.platform")
	AttrCanonVersion = attribute.Key("attestry.receipt.canon_version")
	AttrRequestID    = attribute.Key("attestry.request.id")

	// Verdict attributes
	AttrOverall         = attribute.Key("attestry.verdict.overall")
	AttrSignatureStatus = attribute.Key("attestry.verdict.signature")
	AttrChainStatus     = attribute.Key("attestry.verdict.chain")

	// Ledger attributes
	AttrLedgerAction   = attribute.Key("attestry.ledger.action")
	AttrLedgerSequence = attribute.Key("attestry.ledger.sequence")

	// Checkpoint attributes
	AttrCheckpointID      = attribute.Key("attestry.checkpoint.id")
	AttrCheckpointCounter = attribute.Key("attestry.checkpoint.counter")

	// Key registry attributes
	AttrKeyID    = attribute.Key("attestry.key.id")
	AttrIssuerID = attribute.Key("attestry.issuer.id")

	// Disclosure attributes
	AttrDisclosureMode = attribute.Key("attestry.disclosure.mode")
	AttrProfileCode    = attribute.Key("attestry.profile.code")
)

// ReceiptAttrs creates attributes for receipt operations.
func ReceiptAttrs(receiptID, platform string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrReceiptID.String(receiptID),
		AttrPlatform.String(platform),
	}
}

// VerdictAttrs creates attributes for a completed verification.
func VerdictAttrs(receiptID, overall, signature, chain string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrReceiptID.String(receiptID),
		AttrOverall.String(overall),
		AttrSignatureStatus.String(signature),
		AttrChainStatus.String(chain),
	}
}

// LedgerAttrs creates attributes for audit ledger operations.
func LedgerAttrs(action string, sequence uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrLedgerAction.String(action),
		AttrLedgerSequence.Int64(int64(sequence)),
	}
}

// CheckpointAttrs creates attributes for checkpoint operations.
func CheckpointAttrs(checkpointID string, counter uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCheckpointID.String(checkpointID),
		AttrCheckpointCounter.Int64(int64(counter)),
	}
}

// KeyAttrs creates attributes for key registry operations.
func KeyAttrs(keyID, issuerID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrKeyID.String(keyID),
		AttrIssuerID.String(issuerID),
	}
}

// DisclosureAttrs creates attributes for proof pack generation.
func DisclosureAttrs(receiptID, mode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrReceiptID.String(receiptID),
		AttrDisclosureMode.String(mode),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
