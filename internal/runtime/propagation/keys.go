package propagation

// Header key constants used on every message this library touches.
// These keys are reserved and should not be used for custom headers. The
// spellings are part of the cross-service wire contract; changing them breaks
// interop with every other participant on the bus.
const (
	// HeaderCulture carries the originating locale, e.g. "de-DE".
	HeaderCulture = "liquidCulture"

	// HeaderChannel carries the originating business channel.
	HeaderChannel = "liquidChannel"

	// HeaderCorrelationID tracks one request across services.
	HeaderCorrelationID = "liquidCorrelationId"

	// HeaderBusinessCorrelationID tracks one business transaction, which may
	// span several requests.
	HeaderBusinessCorrelationID = "liquidBusinessCorrelationId"

	// HeaderAggregationID groups messages that belong to one aggregate.
	HeaderAggregationID = "liquidAggregationId"

	// HeaderContentType describes the body encoding, e.g. "application/json"
	// or "application/gzip" for compressed bodies.
	HeaderContentType = "contentType"
)
