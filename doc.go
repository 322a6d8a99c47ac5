// Package liquidbus is a broker-agnostic message consumer and producer
// engine. It reads the target broker (AWS SQS/SNS, Kafka, RabbitMQ, NATS, or
// in-memory channels) from Config, builds a broker client, and runs one poll
// loop per registered consumer: receive, decode, propagate business context,
// open a telemetry session, invoke the handler, and acknowledge by deleting
// the message from the queue.
//
// Service hosts the broker client and exposes typed helpers:
// RegisterJSONConsumer and RegisterProtoConsumer take care of unmarshaling,
// payload prototypes, and header propagation, while NewProducer lets handlers
// publish follow-up messages that automatically inherit the correlation
// headers of the message being processed. A minimal setup therefore involves
// filling Config, creating a Service, registering consumers, and calling
// Start; examples/simple shows the whole loop against the in-memory broker.
//
// # Brokers
//
// Liquidbus supports these broker backends out of the box:
//   - sqs: AWS SQS with native receipt handles and LocalStack support
//   - sns: AWS SNS, publish-only
//   - kafka: High-throughput streaming with consumer groups
//   - rabbitmq: AMQP-based durable queues
//   - nats: High-performance messaging
//   - channel: In-memory queues with leases and redelivery, for testing
//   - gochannel: Watermill's in-process pub/sub bridge
//
// # Message pipeline
//
// Every received message runs the same pipeline. Failures in decoding, the
// handler, or the delete call are contained: they are logged, counted, and
// surfaced through hooks, but never stop the poll loop. Only queue resolution
// and receive failures are fatal to a consumer. The handler's boolean return
// decides acknowledgment; with AutoComplete the message is deleted regardless
// of the handler outcome.
//
// # Pipeline hooks
//
// PipelineHooks provide OnMessageStart, OnMessageDone, and OnMessageError
// callbacks for custom logging, metrics collection, and alerting around
// message processing. A ResultCollector turns those callbacks into a bounded
// stream of ProcessingResult values for supervisors and tests.
//
// When you need more control, ServiceDependencies exposes well-scoped knobs:
// bring your own broker.Client, telemetry backend, codec, or registry to plug
// in custom infrastructure.
package liquidbus
