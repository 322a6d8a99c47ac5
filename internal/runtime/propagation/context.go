// Package propagation carries per-message business context (correlation ids,
// culture, channel, aggregation id) between broker headers and Go contexts,
// so that downstream publishes inherit the identifiers of the message being
// processed.
package propagation

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// MessageContext holds the business identifiers of the message currently
// being processed. A single instance is shared between the pipeline and the
// handler through the context; it is not safe for concurrent mutation.
type MessageContext struct {
	messageID             string
	culture               string
	channel               string
	correlationID         uuid.UUID
	businessCorrelationID uuid.UUID
	aggregationID         string
}

// New returns an empty MessageContext.
func New() *MessageContext {
	return &MessageContext{}
}

func (m *MessageContext) MessageID() string { return m.messageID }
func (m *MessageContext) Culture() string { return m.culture }
func (m *MessageContext) Channel() string { return m.channel }
func (m *MessageContext) CorrelationID() uuid.UUID { return m.correlationID }
func (m *MessageContext) BusinessCorrelationID() uuid.UUID { return m.businessCorrelationID }
func (m *MessageContext) AggregationID() string { return m.aggregationID }

func (m *MessageContext) SetMessageID(id string) { m.messageID = id }
func (m *MessageContext) SetCulture(culture string) { m.culture = culture }
func (m *MessageContext) SetChannel(channel string) { m.channel = channel }
func (m *MessageContext) SetCorrelationID(id uuid.UUID) { m.correlationID = id }
func (m *MessageContext) SetBusinessCorrelationID(id uuid.UUID) { m.businessCorrelationID = id }
func (m *MessageContext) SetAggregationID(id string) { m.aggregationID = id }

// NewContext attaches the MessageContext to a context.
func NewContext(ctx context.Context, mc *MessageContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, mc)
}

// FromContext extracts the MessageContext, if one was attached.
func FromContext(ctx context.Context) (*MessageContext, bool) {
	mc, ok := ctx.Value(ctxKey{}).(*MessageContext)
	return mc, ok
}
