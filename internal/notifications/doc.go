// Package notifications delivers job lifecycle events.
//
// When event brokers are configured, events are published as JSON records
// to a Kafka topic through a synchronous sarama producer, keyed by job id so
// every event of one job lands on the same partition. Without brokers the
// package degrades to a no-op. Workflow code depends only on the Service
// interface.
package notifications
