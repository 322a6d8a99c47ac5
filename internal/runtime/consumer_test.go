package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liquidbus/liquidbus/broker"
	"github.com/liquidbus/liquidbus/internal/runtime/codec"
	errspkg "github.com/liquidbus/liquidbus/internal/runtime/errors"
	"github.com/liquidbus/liquidbus/internal/runtime/propagation"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startConsumer(t *testing.T, svc *Service, cfg ConsumerRegistration) (*Consumer, context.CancelFunc) {
	t.Helper()

	consumer, err := RegisterConsumer(svc, cfg)
	if err != nil {
		t.Fatalf("expected consumer, got error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := consumer.Start(ctx); err != nil {
		cancel()
		t.Fatalf("expected start to succeed, got %v", err)
	}
	t.Cleanup(func() {
		cancel()
		consumer.Wait()
	})
	return consumer, cancel
}

func TestConsumerAcknowledgmentMatrix(t *testing.T) {
	cases := []struct {
		name         string
		handled      bool
		autoComplete bool
		wantDelete   bool
	}{
		{name: "handled", handled: true, autoComplete: false, wantDelete: true},
		{name: "not handled", handled: false, autoComplete: false, wantDelete: false},
		{name: "not handled with auto complete", handled: false, autoComplete: true, wantDelete: true},
		{name: "handled with auto complete", handled: true, autoComplete: true, wantDelete: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeBroker{batches: [][]broker.Envelope{{
				{Body: []byte("payload"), MessageID: "m-1", ReceiptHandle: "r-1"},
			}}}
			svc, _, _ := newTestService(t, client)

			handled := make(chan struct{})
			_, _ = startConsumer(t, svc, ConsumerRegistration{
				Name:         "matrix-consumer",
				Queue:        "orders",
				AutoComplete: tc.autoComplete,
				Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
					close(handled)
					return tc.handled, nil
				},
			})

			<-handled
			if tc.wantDelete {
				waitFor(t, "delete", func() bool { return len(client.deletedHandles()) == 1 })
				if got := client.deletedHandles()[0]; got != "r-1" {
					t.Fatalf("expected receipt handle r-1, got %q", got)
				}
			} else {
				time.Sleep(50 * time.Millisecond)
				if got := client.deletedHandles(); len(got) != 0 {
					t.Fatalf("expected no deletes, got %v", got)
				}
			}
		})
	}
}

func TestConsumerHandlerErrorDoesNotStopLoop(t *testing.T) {
	client := &fakeBroker{batches: [][]broker.Envelope{
		{{Body: []byte("first"), MessageID: "m-1", ReceiptHandle: "r-1"}},
		{{Body: []byte("second"), MessageID: "m-2", ReceiptHandle: "r-2"}},
	}}
	svc, logger, _ := newTestService(t, client)

	seen := make(chan string, 2)
	consumer, _ := startConsumer(t, svc, ConsumerRegistration{
		Name:  "error-consumer",
		Queue: "orders",
		Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
			body := string(payload.([]byte))
			seen <- body
			if body == "first" {
				return false, errors.New("boom")
			}
			return true, nil
		},
	})

	handled := map[string]bool{}
	for i := 0; i < 2; i++ {
		handled[<-seen] = true
	}
	if !handled["first"] || !handled["second"] {
		t.Fatalf("expected the loop to continue past the failing message, got %v", handled)
	}

	waitFor(t, "second delete", func() bool { return len(client.deletedHandles()) == 1 })
	if got := client.deletedHandles()[0]; got != "r-2" {
		t.Fatalf("expected only r-2 deleted, got %q", got)
	}
	if !logger.hasError("Handler returned an error") {
		t.Fatal("expected handler error to be logged")
	}
	waitFor(t, "handler error stat", func() bool {
		return consumer.Stats().ErrorCounts().Handler == 1
	})
}

func TestConsumerDecodeFailureContained(t *testing.T) {
	client := &fakeBroker{batches: [][]broker.Envelope{
		{{
			Body:          []byte("not-gzip"),
			MessageID:     "m-bad",
			ReceiptHandle: "r-bad",
			Attributes:    map[string]string{propagation.HeaderContentType: codec.ContentTypeGzip},
		}},
		{{Body: []byte("good"), MessageID: "m-good", ReceiptHandle: "r-good"}},
	}}
	svc, logger, _ := newTestService(t, client)

	handled := make(chan string, 1)
	consumer, _ := startConsumer(t, svc, ConsumerRegistration{
		Name:  "decode-consumer",
		Queue: "orders",
		Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
			handled <- string(payload.([]byte))
			return true, nil
		},
	})

	if got := <-handled; got != "good" {
		t.Fatalf("expected only the good message to reach the handler, got %q", got)
	}

	waitFor(t, "good delete", func() bool { return len(client.deletedHandles()) == 1 })
	for _, handle := range client.deletedHandles() {
		if handle == "r-bad" {
			t.Fatal("undecodable message must not be acknowledged")
		}
	}
	waitFor(t, "decode failure log", func() bool {
		return logger.hasError("Failed to decode message")
	})
	waitFor(t, "decode error stat", func() bool {
		return consumer.Stats().ErrorCounts().Decode == 1
	})
	waitFor(t, "processed count", func() bool { return consumer.Stats().Processed() == 1 })
}

func TestConsumerDoesNotWaitForInFlightPipelines(t *testing.T) {
	client := &fakeBroker{batches: [][]broker.Envelope{
		{{Body: []byte("slow"), MessageID: "m-1", ReceiptHandle: "r-1"}},
		{{Body: []byte("fast"), MessageID: "m-2", ReceiptHandle: "r-2"}},
	}}
	svc, _, _ := newTestService(t, client)

	release := make(chan struct{})
	defer close(release)
	seen := make(chan string, 2)
	_, _ = startConsumer(t, svc, ConsumerRegistration{
		Name:  "pipelined-consumer",
		Queue: "orders",
		Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
			body := string(payload.([]byte))
			seen <- body
			if body == "slow" {
				<-release
			}
			return true, nil
		},
	})

	// The slow handler blocks until the test ends, so seeing both messages
	// proves the loop issued the next receive with a pipeline still in
	// flight.
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case body := <-seen:
			got[body] = true
		case <-time.After(2 * time.Second):
			t.Fatal("next receive was not issued while a pipeline was in flight")
		}
	}
	if !got["slow"] || !got["fast"] {
		t.Fatalf("expected both messages to be dispatched, got %v", got)
	}
}

func TestConsumerPropagatesBusinessContext(t *testing.T) {
	correlation := "0b8c65e4-2f5a-4f43-9a1d-1f6b1a4c9d11"
	client := &fakeBroker{batches: [][]broker.Envelope{{
		{
			Body:          []byte("payload"),
			MessageID:     "m-1",
			ReceiptHandle: "r-1",
			Attributes: map[string]string{
				propagation.HeaderCorrelationID: correlation,
				propagation.HeaderCulture:       "de-DE",
				propagation.HeaderChannel:       "web",
			},
		},
	}}}
	svc, _, _ := newTestService(t, client)

	got := make(chan *propagation.MessageContext, 1)
	_, _ = startConsumer(t, svc, ConsumerRegistration{
		Name:  "context-consumer",
		Queue: "orders",
		Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
			mc, ok := propagation.FromContext(ctx)
			if !ok {
				t.Error("expected message context in handler context")
			}
			got <- mc
			return true, nil
		},
	})

	mc := <-got
	if mc.CorrelationID().String() != correlation {
		t.Fatalf("expected correlation id %s, got %s", correlation, mc.CorrelationID())
	}
	if mc.Culture() != "de-DE" {
		t.Fatalf("expected culture de-DE, got %q", mc.Culture())
	}
	if mc.Channel() != "web" {
		t.Fatalf("expected channel web, got %q", mc.Channel())
	}
	if mc.MessageID() != "m-1" {
		t.Fatalf("expected message id m-1, got %q", mc.MessageID())
	}
}

func TestConsumerTelemetrySession(t *testing.T) {
	client := &fakeBroker{batches: [][]broker.Envelope{{
		{Body: []byte("payload"), MessageID: "m-1", ReceiptHandle: "r-1"},
	}}}
	svc, _, tel := newTestService(t, client)

	_, _ = startConsumer(t, svc, ConsumerRegistration{
		Name:  "telemetry-consumer",
		Queue: "orders",
		Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
			return true, nil
		},
	})

	waitFor(t, "telemetry session", func() bool { return len(tel.allSessions()) == 1 })
	session := tel.allSessions()[0]

	waitFor(t, "session flush", func() bool { return session.flushes() == 1 })
	payload, ok := session.completion("Consumer_orders")
	if !ok {
		t.Fatal("expected a Consumer_orders measurement")
	}
	completion, ok := payload.(MessageCompletion)
	if !ok {
		t.Fatalf("expected MessageCompletion payload, got %T", payload)
	}
	if !completion.Processed {
		t.Fatal("expected completion to report processed")
	}
	if completion.Queue != "orders" {
		t.Fatalf("expected queue orders, got %q", completion.Queue)
	}
	if completion.MessageID != "m-1" {
		t.Fatalf("expected message id m-1, got %q", completion.MessageID)
	}
}

func TestConsumerFlushRunsWhenHandlerFails(t *testing.T) {
	client := &fakeBroker{batches: [][]broker.Envelope{{
		{Body: []byte("payload"), MessageID: "m-1", ReceiptHandle: "r-1"},
	}}}
	svc, _, tel := newTestService(t, client)

	_, _ = startConsumer(t, svc, ConsumerRegistration{
		Name:  "flush-consumer",
		Queue: "orders",
		Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
			return false, errors.New("boom")
		},
	})

	waitFor(t, "telemetry session", func() bool { return len(tel.allSessions()) == 1 })
	session := tel.allSessions()[0]
	waitFor(t, "session flush", func() bool { return session.flushes() == 1 })
}

func TestConsumerPanicContained(t *testing.T) {
	client := &fakeBroker{batches: [][]broker.Envelope{
		{{Body: []byte("panic"), MessageID: "m-1", ReceiptHandle: "r-1"}},
		{{Body: []byte("fine"), MessageID: "m-2", ReceiptHandle: "r-2"}},
	}}
	svc, _, _ := newTestService(t, client)

	seen := make(chan string, 2)
	_, _ = startConsumer(t, svc, ConsumerRegistration{
		Name:  "panic-consumer",
		Queue: "orders",
		Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
			body := string(payload.([]byte))
			seen <- body
			if body == "panic" {
				panic("handler exploded")
			}
			return true, nil
		},
	})

	handled := map[string]bool{}
	for i := 0; i < 2; i++ {
		handled[<-seen] = true
	}
	if !handled["fine"] {
		t.Fatalf("expected loop to survive the panic, got %v", handled)
	}
	waitFor(t, "second delete", func() bool { return len(client.deletedHandles()) == 1 })
	if got := client.deletedHandles()[0]; got != "r-2" {
		t.Fatalf("expected only r-2 deleted, got %q", got)
	}
}

func TestConsumerHookPanicContained(t *testing.T) {
	client := &fakeBroker{batches: [][]broker.Envelope{
		{{Body: []byte("first"), MessageID: "m-1", ReceiptHandle: "r-1"}},
		{{Body: []byte("second"), MessageID: "m-2", ReceiptHandle: "r-2"}},
	}}
	svc, logger, _ := newTestService(t, client)

	seen := make(chan string, 2)
	consumer, _ := startConsumer(t, svc, ConsumerRegistration{
		Name:  "hook-panic-consumer",
		Queue: "orders",
		Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
			seen <- string(payload.([]byte))
			return true, nil
		},
		Hooks: PipelineHooks{
			OnMessageStart: func(info MessageInfo) {
				if info.MessageID == "m-1" {
					panic("hook exploded")
				}
			},
		},
	})

	// The panicking hook fires before the handler, so only the second
	// message reaches it.
	if got := <-seen; got != "second" {
		t.Fatalf("expected the loop to survive the hook panic, got %q", got)
	}
	waitFor(t, "second delete", func() bool { return len(client.deletedHandles()) == 1 })
	if got := client.deletedHandles()[0]; got != "r-2" {
		t.Fatalf("expected only r-2 deleted, got %q", got)
	}
	waitFor(t, "hook panic log", func() bool {
		return logger.hasError("Message pipeline panicked")
	})
	waitFor(t, "panic stat", func() bool { return consumer.Stats().ErrorCounts().Other == 1 })
}

func TestConsumerQueueResolutionFailureIsFatal(t *testing.T) {
	client := &fakeBroker{resolveErr: errors.New("no such queue")}
	svc, logger, _ := newTestService(t, client)

	consumer, err := RegisterConsumer(svc, ConsumerRegistration{
		Name:  "doomed-consumer",
		Queue: "missing",
		Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
			return true, nil
		},
	})
	if err != nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}

	err = consumer.Start(context.Background())
	var resolution *QueueResolutionError
	if !errors.As(err, &resolution) {
		t.Fatalf("expected QueueResolutionError, got %v", err)
	}
	if resolution.Queue != "missing" {
		t.Fatalf("expected queue missing, got %q", resolution.Queue)
	}
	if consumer.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", consumer.State())
	}
	if !logger.hasError("Failed to resolve queue") {
		t.Fatal("expected resolution failure to be logged")
	}
}

func TestConsumerReceiveFailureIsFatal(t *testing.T) {
	client := &fakeBroker{receiveErr: errors.New("connection lost")}
	svc, logger, _ := newTestService(t, client)

	consumer, _ := startConsumer(t, svc, ConsumerRegistration{
		Name:  "receive-consumer",
		Queue: "orders",
		Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
			return true, nil
		},
	})

	err := consumer.Wait()
	var receive *ReceiveError
	if !errors.As(err, &receive) {
		t.Fatalf("expected ReceiveError, got %v", err)
	}
	if consumer.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", consumer.State())
	}
	if !logger.hasError("Failed to receive messages") {
		t.Fatal("expected receive failure to be logged")
	}
}

func TestConsumerGracefulStop(t *testing.T) {
	client := &fakeBroker{batches: [][]broker.Envelope{{
		{Body: []byte("payload"), MessageID: "m-1", ReceiptHandle: "r-1"},
	}}}
	svc, _, _ := newTestService(t, client)

	handled := make(chan struct{})
	consumer, _ := startConsumer(t, svc, ConsumerRegistration{
		Name:  "stop-consumer",
		Queue: "orders",
		Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
			close(handled)
			return true, nil
		},
	})

	<-handled
	waitFor(t, "delete", func() bool { return len(client.deletedHandles()) == 1 })

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := consumer.Stop(stopCtx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if consumer.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", consumer.State())
	}
	if err := consumer.Wait(); err != nil {
		t.Fatalf("expected no fatal error, got %v", err)
	}
}

func TestConsumerAcknowledgesDuringShutdown(t *testing.T) {
	client := &fakeBroker{batches: [][]broker.Envelope{{
		{Body: []byte("payload"), MessageID: "m-1", ReceiptHandle: "r-1"},
	}}}
	svc, _, _ := newTestService(t, client)

	inHandler := make(chan struct{})
	release := make(chan struct{})
	consumer, cancel := startConsumer(t, svc, ConsumerRegistration{
		Name:  "shutdown-consumer",
		Queue: "orders",
		Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
			close(inHandler)
			<-release
			return true, nil
		},
	})

	<-inHandler
	cancel()
	close(release)

	consumer.Wait()
	if got := client.deletedHandles(); len(got) != 1 {
		t.Fatalf("expected in-flight message to be acknowledged despite shutdown, got %v", got)
	}
}

func TestConsumerStartTwice(t *testing.T) {
	client := &fakeBroker{}
	svc, _, _ := newTestService(t, client)

	consumer, _ := startConsumer(t, svc, ConsumerRegistration{
		Name:  "twice-consumer",
		Queue: "orders",
		Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
			return true, nil
		},
	})

	if err := consumer.Start(context.Background()); !errors.Is(err, errspkg.ErrConsumerStarted) {
		t.Fatalf("expected ErrConsumerStarted, got %v", err)
	}
}

func TestConsumerStopBeforeStart(t *testing.T) {
	client := &fakeBroker{}
	svc, _, _ := newTestService(t, client)

	consumer, err := RegisterConsumer(svc, ConsumerRegistration{
		Name:  "unstarted-consumer",
		Queue: "orders",
		Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
			return true, nil
		},
	})
	if err != nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}

	if err := consumer.Stop(context.Background()); !errors.Is(err, errspkg.ErrConsumerNotStarted) {
		t.Fatalf("expected ErrConsumerNotStarted, got %v", err)
	}
}

func TestConsumerAckFailureContained(t *testing.T) {
	client := &fakeBroker{
		batches:   [][]broker.Envelope{{{Body: []byte("payload"), MessageID: "m-1", ReceiptHandle: "r-1"}}},
		deleteErr: errors.New("receipt expired"),
	}
	svc, logger, _ := newTestService(t, client)

	collector := NewResultCollector(1)
	consumer, _ := startConsumer(t, svc, ConsumerRegistration{
		Name:  "ack-consumer",
		Queue: "orders",
		Hooks: collector.Hooks(),
		Handler: func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
			return true, nil
		},
	})

	waitFor(t, "ack error stat", func() bool { return consumer.Stats().ErrorCounts().Ack == 1 })
	if !logger.hasError("Failed to delete message") {
		t.Fatal("expected delete failure to be logged")
	}
	if consumer.Err() != nil {
		t.Fatalf("delete failure must not be fatal, got %v", consumer.Err())
	}

	select {
	case result := <-collector.Results():
		if result.Stage != StageAck {
			t.Fatalf("expected the ack stage, got %s", result.Stage)
		}
		var ackErr *AckError
		if !errors.As(result.Err, &ackErr) {
			t.Fatalf("expected an AckError, got %v", result.Err)
		}
		if ackErr.MessageID != "m-1" {
			t.Fatalf("expected message id m-1, got %q", ackErr.MessageID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the ack failure result")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateCreated:    "created",
		StateStarting:   "starting",
		StatePolling:    "polling",
		StateProcessing: "processing",
		StateStopping:   "stopping",
		StateStopped:    "stopped",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}
