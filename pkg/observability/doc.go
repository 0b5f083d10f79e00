// Package observability provides OpenTelemetry tracing and metrics for the
// authorization control plane's decision path.
//
// # Tracing and metrics
//
// Initialize the provider at application startup:
//
//	prov, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "authzd",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//	})
//	defer prov.Shutdown(ctx)
//
// Wrap a decision evaluation to get a span plus RED metrics in one call:
//
//	ctx, done := prov.TrackOperation(ctx, "pdp.Evaluate",
//		attribute.String("backend", string(pdp.BackendCEL)),
//	)
//	resp, err := backend.Evaluate(ctx, req)
//	done(err)
package observability
