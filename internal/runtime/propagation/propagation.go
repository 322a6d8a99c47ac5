package propagation

import "github.com/google/uuid"

// Inbound populates a MessageContext from incoming message headers. Only the
// headers that are present are applied; a malformed UUID in a correlation
// header is ignored rather than failing the message.
func Inbound(mc *MessageContext, headers map[string]string) {
	if culture, ok := headers[HeaderCulture]; ok {
		mc.SetCulture(culture)
	}
	if channel, ok := headers[HeaderChannel]; ok {
		mc.SetChannel(channel)
	}
	if raw, ok := headers[HeaderCorrelationID]; ok {
		if id, err := uuid.Parse(raw); err == nil {
			mc.SetCorrelationID(id)
		}
	}
	if raw, ok := headers[HeaderBusinessCorrelationID]; ok {
		if id, err := uuid.Parse(raw); err == nil {
			mc.SetBusinessCorrelationID(id)
		}
	}
	if aggregation, ok := headers[HeaderAggregationID]; ok {
		mc.SetAggregationID(aggregation)
	}
}

// Outbound writes the non-empty fields of a MessageContext into outgoing
// headers. Headers outside the reserved set are left untouched, and empty
// fields never overwrite values the caller already set.
func Outbound(mc *MessageContext, headers map[string]string) {
	if mc == nil {
		return
	}
	if mc.culture != "" {
		headers[HeaderCulture] = mc.culture
	}
	if mc.channel != "" {
		headers[HeaderChannel] = mc.channel
	}
	if mc.correlationID != uuid.Nil {
		headers[HeaderCorrelationID] = mc.correlationID.String()
	}
	if mc.businessCorrelationID != uuid.Nil {
		headers[HeaderBusinessCorrelationID] = mc.businessCorrelationID.String()
	}
	if mc.aggregationID != "" {
		headers[HeaderAggregationID] = mc.aggregationID
	}
}
