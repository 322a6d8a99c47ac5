package errors

import sterrors "errors"

var (
	ErrServiceRequired      = sterrors.New("liquidbus: service is required")
	ErrHandlerRequired      = sterrors.New("liquidbus: handler function is required")
	ErrQueueRequired        = sterrors.New("liquidbus: queue name is required")
	ErrConsumerNameRequired = sterrors.New("liquidbus: consumer name is required")
	ErrClientRequired       = sterrors.New("liquidbus: broker client is required")
	ErrConfigRequired       = sterrors.New("liquidbus: config is required")
	ErrLoggerRequired       = sterrors.New("liquidbus: logger is required")
	ErrPayloadRequired      = sterrors.New("liquidbus: payload must not be nil")
	ErrPayloadPointerNeeded = sterrors.New("liquidbus: payload type must be a pointer")
	ErrPayloadTypeRequired  = sterrors.New("liquidbus: payload type is required")
	ErrConsumerStarted      = sterrors.New("liquidbus: consumer already started")
	ErrConsumerNotStarted   = sterrors.New("liquidbus: consumer not started")
)
