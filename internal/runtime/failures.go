package runtime

import "fmt"

// QueueResolutionError is fatal: a consumer cannot start without a resolved
// queue handle.
type QueueResolutionError struct {
	Queue string
	Err   error
}

func (e *QueueResolutionError) Error() string {
	return fmt.Sprintf("liquidbus: failed to resolve queue %q: %v", e.Queue, e.Err)
}

func (e *QueueResolutionError) Unwrap() error { return e.Err }

// ReceiveError is fatal: the poll loop stops when the broker refuses to hand
// out messages.
type ReceiveError struct {
	Queue string
	Err   error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("liquidbus: failed to receive from queue %q: %v", e.Queue, e.Err)
}

func (e *ReceiveError) Unwrap() error { return e.Err }

// AckError is contained: the broker redelivers the message after its
// visibility timeout, so the handler must be idempotent.
type AckError struct {
	Queue     string
	MessageID string
	Err       error
}

func (e *AckError) Error() string {
	return fmt.Sprintf("liquidbus: failed to acknowledge message %q on queue %q: %v", e.MessageID, e.Queue, e.Err)
}

func (e *AckError) Unwrap() error { return e.Err }

// DecodeError is contained: the affected message is skipped without
// acknowledgment and the loop continues.
type DecodeError struct {
	MessageID string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("liquidbus: failed to decode message %q: %v", e.MessageID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
