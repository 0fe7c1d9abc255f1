package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/devicelink/internal/audit"
)

// Command statuses written to the time-series mirror.
const (
	commandStatusSent         = "sent"
	commandStatusAcknowledged = "acknowledged"
)

// pointWriter is the part of *influxdb.Client the mirror uses.
type pointWriter interface {
	WriteTelemetry(deviceID, payload string, at time.Time) bool
	WriteCommand(deviceID, payload, status string, at time.Time) bool
}

// influxForwarder mirrors audit entries as telemetry and command points.
type influxForwarder struct {
	client pointWriter
}

// Forward writes one point per entry. Non-numeric telemetry is skipped by
// the client and is not an error.
func (f influxForwarder) Forward(_ context.Context, e audit.Entry) error {
	switch {
	case e.Direction == audit.DirectionReceived && e.MessageType == audit.MessageTypeData:
		f.client.WriteTelemetry(e.DeviceID, e.Message, e.Timestamp)
	case e.Direction == audit.DirectionSent:
		f.client.WriteCommand(e.DeviceID, e.Message, commandStatusSent, e.Timestamp)
	case e.MessageType == audit.MessageTypeCommand:
		f.client.WriteCommand(e.DeviceID, e.Message, commandStatusAcknowledged, e.Timestamp)
	}
	return nil
}

// recordPublisher is the part of *kafka.Producer the mirror uses.
type recordPublisher interface {
	Publish(ctx context.Context, key string, value []byte, at time.Time) error
}

// kafkaForwarder mirrors audit entries as JSON records keyed by device.
type kafkaForwarder struct {
	producer recordPublisher
}

func (f kafkaForwarder) Forward(ctx context.Context, e audit.Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}
	if err := f.producer.Publish(ctx, e.DeviceID, value, e.Timestamp); err != nil {
		return fmt.Errorf("publishing audit entry: %w", err)
	}
	return nil
}
