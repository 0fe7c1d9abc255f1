// Package kafka streams audit entries to a Kafka topic with segmentio/kafka-go.
//
// The writer is asynchronous and batched, so Publish never waits on the
// network. Records are keyed by device ID and hashed to a partition, which
// keeps each device's entries in order. Delivery failures are counted and
// reported through SetOnError; the local audit log is unaffected by them.
package kafka
