package otel

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for metric labels. LLM-generic labels follow the
// OpenLLMetry conventions; proxy-specific labels use the proxy.* namespace.

var (
	// AttrBackend identifies the configured backend that served the request.
	AttrBackend = attribute.Key("proxy.backend")

	// AttrModel identifies the model actually sent upstream.
	AttrModel = attribute.Key("llm.model")

	// AttrRequestModel identifies the model the client asked for, when a
	// routing rule rewrote it.
	AttrRequestModel = attribute.Key("llm.request.model")

	// AttrTokenType distinguishes input from output token counts.
	AttrTokenType = attribute.Key("llm.token_type")

	// AttrStreaming indicates whether the client requested a stream.
	AttrStreaming = attribute.Key("llm.streaming")

	// AttrOutcome carries the request outcome label (ok, client_error,
	// upstream_error, cancelled, timeout, internal_error).
	AttrOutcome = attribute.Key("proxy.outcome")

	// AttrErrorCode carries the error code for non-ok outcomes.
	AttrErrorCode = attribute.Key("proxy.error.code")

	// AttrCacheHit marks requests served from the response cache.
	AttrCacheHit = attribute.Key("proxy.cache.hit")
)
