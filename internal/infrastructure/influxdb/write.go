package influxdb

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementTelemetry = "device_telemetry"
	MeasurementCommands  = "device_commands"
)

// WriteTelemetry records a numeric telemetry payload. Payloads that do not
// parse as a number are skipped and false is returned.
//
// Example:
//
//	client.WriteTelemetry("esp32_1", "23.5", time.Now())
func (c *Client) WriteTelemetry(deviceID, payload string, at time.Time) bool {
	value, ok := parseValue(payload)
	if !ok {
		c.skipped.Add(1)
		return false
	}
	return c.writePoint(write.NewPoint(
		MeasurementTelemetry,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"value": value},
		at,
	))
}

// WriteCommand records a command value. status is "sent" or
// "acknowledged".
func (c *Client) WriteCommand(deviceID, payload, status string, at time.Time) bool {
	value, ok := parseValue(payload)
	if !ok {
		c.skipped.Add(1)
		return false
	}
	return c.writePoint(write.NewPoint(
		MeasurementCommands,
		map[string]string{
			"device_id": deviceID,
			"status":    status,
		},
		map[string]interface{}{"value": value},
		at,
	))
}

func (c *Client) writePoint(p *write.Point) bool {
	if !c.IsConnected() {
		return false
	}
	c.writeAPI.WritePoint(p)
	c.written.Add(1)
	return true
}

func parseValue(payload string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
