// Package observability provides OpenTelemetry tracing, RED metrics, and
// in-process SLO tracking for the verification engine.
//
// # Provider
//
// Initialize the provider at startup. With Enabled false (the default in
// tests) it returns immediately and every instrument is a no-op:
//
//	p, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "attestry",
//		Environment:  "prod",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//		Enabled:      true,
//	})
//	defer p.Shutdown(ctx)
//
// # Tracking operations
//
// TrackOperation opens a span, counts the operation, and returns a finish
// function that records duration and outcome:
//
//	ctx, finish := p.TrackOperation(ctx, "verify",
//		observability.ReceiptAttrs(receiptID, platform)...)
//	verdict, err := engine.Verify(ctx, capsule)
//	finish(err)
//
// # SLO tracking
//
// Attach an SLOTracker to fold every tracked operation into windowed
// latency and success objectives:
//
//	tracker := observability.NewSLOTracker()
//	for _, target := range observability.DefaultTargets() {
//		tracker.SetTarget(target)
//	}
//	p.WithSLOTracker(tracker)
//
//	status, _ := tracker.Status("verify")
//	if !status.InCompliance {
//		log.Warn("verify SLO breached", "burn_rate", status.BurnRate)
//	}
package observability
