/*
Package runtime implements the message consumption and production engine
behind the liquidbus facade.

A Service owns a broker.Client plus the consumers and producers registered on
it. Each Consumer runs a poll loop that receives a batch of envelopes and
pushes every message through the same pipeline: decode the body, apply the
propagation headers to the context, open a telemetry session, invoke the
handler, and acknowledge by deleting the message when the handler (or
AutoComplete) says so. Decode, handler, and acknowledge failures are contained
per message and recorded in the consumer's stats; only queue resolution and
receive failures stop the loop.

Sub-packages:

  - codec/: JSON, protobuf, and gzip payload codecs
  - config/: Config struct with validation and credential redaction
  - errors/: sentinel errors shared across the module
  - ids/: ULID and correlation id generation
  - logging/: ServiceLogger interface with slog and Watermill adapters
  - propagation/: the reserved liquid* headers and MessageContext
  - telemetry/: measurement sessions over logs, Prometheus, and OTel
*/
package runtime
